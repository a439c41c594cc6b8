// Package opsapi exposes a work queue over HTTP for operators.
//
// Router mounts health and readiness probes, Prometheus metrics, the funnel
// report and CRUD-style access to work items on a chi router. Responses use a
// single JSON envelope:
//
//	{"data": ..., "meta": {...}, "error": {"code": "not_found", "message": "..."}}
//
// Listing accepts the filter as query parameters, for example
//
//	GET /works?type=SEND_EMAIL&status=failed&sort=-created&limit=50
//
// where a leading "-" sorts descending.
package opsapi
