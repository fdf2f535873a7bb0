package realtime

import "errors"

var (
	ErrAlreadyConnected  = errors.New("realtime: notifier already connected")
	ErrNotConnected      = errors.New("realtime: notifier not connected")
	ErrUnsupportedScheme = errors.New("realtime: API base must be http, https, ws or wss")
)
