package navigation

import "errors"

var (
	ErrUnknownView = errors.New("unknown view")
	ErrClosed      = errors.New("navigation controller closed")
)
