package protocol

import "errors"

var (
	ErrMissingTag     = errors.New("protocol: missing message type")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
	ErrMissingBlob    = errors.New("protocol: export payload has no blob")
)
