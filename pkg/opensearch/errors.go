package opensearch

import "errors"

var (
	// ErrConnectionFailed indicates the client could not be created.
	ErrConnectionFailed = errors.New("opensearch connection failed")

	// ErrHealthcheckFailed indicates the cluster is unreachable or unhealthy.
	ErrHealthcheckFailed = errors.New("opensearch healthcheck failed")

	// ErrNoAddresses is returned when Config.Addresses is empty.
	ErrNoAddresses = errors.New("no opensearch addresses configured")

	// ErrBulkFailed is returned when the bulk request itself fails.
	// Per-item failures are reported through BulkResult instead.
	ErrBulkFailed = errors.New("opensearch bulk request failed")

	// ErrInvalidAction is returned for a bulk action without index, id or a known op.
	ErrInvalidAction = errors.New("invalid bulk action")
)
