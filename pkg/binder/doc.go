// Package binder fills request structs from HTTP requests for the ops API.
//
// Each binder is a func(r *http.Request, v any) error:
//
//   - JSON() decodes a strict JSON body (unknown fields rejected, 1MB cap)
//   - Query() binds fields tagged `query:"name"`
//   - Path(chi.URLParam) binds fields tagged `path:"name"`
//
// Query and path binding support strings, integers, floats, bools,
// time.Time (RFC3339), time.Duration, pointers and slices. Slices accept both
// repeated parameters and comma-separated values:
//
//	type listRequest struct {
//	    Types  []string   `query:"type"`
//	    Since  *time.Time `query:"created_from"`
//	    Limit  int        `query:"limit"`
//	}
//
//	var req listRequest
//	if err := binder.Query()(r, &req); err != nil {
//	    // errors.Is(err, binder.ErrFailedToParseQuery)
//	}
package binder
