package link

import "errors"

// Sentinel errors returned by Link operations; compare with errors.Is.
var (
	ErrInvalid     = errors.New("link: invalid argument")
	ErrBusy        = errors.New("link: tx already in flight")
	ErrTimeout     = errors.New("link: tx did not complete in time")
	ErrNotReady    = errors.New("link: not open")
	ErrAlreadyOpen = errors.New("link: already open")
)
