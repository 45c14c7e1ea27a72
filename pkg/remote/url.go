package remote

import (
	"fmt"
	"net/url"
	"strings"
)

// ExpandPath replaces `{name}` placeholders in template with path-escaped
// values from vars. Unknown placeholders are an error.
func ExpandPath(template string, vars map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder in %q", ErrInvalidResource, template)
		}
		name := rest[open+1 : open+end]
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: missing path parameter %q in %q", ErrInvalidResource, name, template)
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}
}

// CreateResourceURL joins base and path and merges params into the query
// string. Parameters already present on path are kept unless params sets
// the same key.
func CreateResourceURL(base, path string, params url.Values) (string, error) {
	target, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	if len(params) == 0 {
		return target.String(), nil
	}
	query := target.Query()
	for key, values := range params {
		query[key] = append([]string(nil), values...)
	}
	target.RawQuery = query.Encode()
	return target.String(), nil
}
