package binder

import "net/http"

// Query binds URL query parameters to fields tagged `query:"name"`.
// Slices accept repeated or comma-separated values.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		q := r.URL.Query()
		return bindToStruct(v, "query", func(key string) []string { return q[key] }, ErrFailedToParseQuery)
	}
}
