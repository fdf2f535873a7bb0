package inbox

import "errors"

var (
	ErrNoSelection     = errors.New("inbox: no thread selected")
	ErrInvalidThreadID = errors.New("inbox: invalid thread id")
)
