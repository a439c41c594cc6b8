package mongostore

import "errors"

var (
	ErrDatabaseNil         = errors.New("mongostore: database is nil")
	ErrFailedToDecodeWork  = errors.New("mongostore: failed to decode work document")
	ErrFailedToEncodeWork  = errors.New("mongostore: failed to encode work document")
	ErrFailedToCreateIndex = errors.New("mongostore: failed to create indexes")
)
