package queue

import "errors"

var (
	// ErrInvalidDescriptor is returned by Enqueue for descriptors that can never run.
	ErrInvalidDescriptor = errors.New("invalid job descriptor")
	// ErrMalformedEnvelope is returned by Pop when a broker entry cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)
