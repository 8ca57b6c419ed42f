package crawler

import "errors"

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrClaimConflict means another worker updated the selected queue row first.
	ErrClaimConflict = errors.New("queue claim conflict")
	// ErrDataFormat wraps malformed provider payloads and unparsable observations.
	ErrDataFormat = errors.New("malformed data")
	// ErrMissingAPIKey is returned by adapters that need a key they were not given.
	ErrMissingAPIKey = errors.New("api key not configured")
)
