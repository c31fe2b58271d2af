package domain

import "errors"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownType    = errors.New("unknown message type")
)
