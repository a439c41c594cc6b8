package mongo

import "errors"

var (
	// ErrFailedToConnectToMongo wraps the last error after every connection attempt failed.
	ErrFailedToConnectToMongo = errors.New("failed to connect to mongo")
	// ErrHealthcheckFailed is returned by the readiness check when the primary is unreachable.
	ErrHealthcheckFailed = errors.New("mongo healthcheck failed")
	// ErrDatabaseRequired is returned when no database name is configured for the queue store.
	ErrDatabaseRequired = errors.New("mongo database name is required")
)
