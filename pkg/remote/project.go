package remote

import "strings"

// Project reduces value to the dot-separated paths. Maps keep only the
// listed keys, arrays are projected element by element (order and length
// preserved), keys missing from the payload are skipped, and scalars reached
// before a path is exhausted are dropped. An empty path list returns value
// unchanged.
func Project(value any, paths []string) any {
	if len(paths) == 0 {
		return value
	}
	split := make([][]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			split = append(split, strings.Split(p, "."))
		}
	}
	if len(split) == 0 {
		return value
	}
	return project(value, split)
}

func project(value any, paths [][]string) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = project(item, paths)
		}
		return out
	case map[string]any:
		out := make(map[string]any)
		for _, path := range paths {
			pick(v, path, out)
		}
		return out
	default:
		return value
	}
}

func pick(src map[string]any, path []string, dst map[string]any) {
	key := path[0]
	child, ok := src[key]
	if !ok {
		return
	}
	if len(path) == 1 {
		dst[key] = child
		return
	}
	switch c := child.(type) {
	case map[string]any:
		sub, _ := dst[key].(map[string]any)
		if sub == nil {
			sub = make(map[string]any)
		}
		pick(c, path[1:], sub)
		dst[key] = sub
	case []any:
		existing, _ := dst[key].([]any)
		out := make([]any, len(c))
		for i, item := range c {
			var sub map[string]any
			if i < len(existing) {
				sub, _ = existing[i].(map[string]any)
			}
			if sub == nil {
				sub = make(map[string]any)
			}
			if m, isMap := item.(map[string]any); isMap {
				pick(m, path[1:], sub)
			}
			out[i] = sub
		}
		dst[key] = out
	}
	// scalars with a remaining path are dropped
}
