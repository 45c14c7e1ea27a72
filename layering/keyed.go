package layering

// MergeByKey folds items into a copy of base keyed by key(item). Existing
// keys are overwritten and keys missing from items are kept. Items whose key
// is empty are skipped and counted in the second return value.
func MergeByKey[V any](base map[string]V, items []V, key func(V) string) (map[string]V, int) {
	out := make(map[string]V, len(base)+len(items))
	for k, v := range base {
		out[k] = v
	}
	skipped := 0
	for _, item := range items {
		k := key(item)
		if k == "" {
			skipped++
			continue
		}
		out[k] = item
	}
	return out, skipped
}
