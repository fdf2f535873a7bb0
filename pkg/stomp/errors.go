package stomp

import "errors"

var (
	ErrEmptyCommand    = errors.New("stomp: frame has no command")
	ErrMalformedHeader = errors.New("stomp: malformed header line")
	ErrIncompleteFrame = errors.New("stomp: incomplete frame")
)
