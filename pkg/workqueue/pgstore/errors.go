package pgstore

import "errors"

var (
	ErrDBNil              = errors.New("pgstore: db is nil")
	ErrFailedToEncodeWork = errors.New("pgstore: failed to encode work")
	ErrFailedToDecodeWork = errors.New("pgstore: failed to decode work")
)
