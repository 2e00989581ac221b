package socket

import "errors"

var (
	// ErrBind and ErrConnect are the only startup failures callers should treat as fatal.
	ErrBind    = errors.New("socket: bind failed")
	ErrConnect = errors.New("socket: connect failed")

	ErrUnknownConnection = errors.New("socket: unknown connection")
	ErrNotConnected      = errors.New("socket: not connected")
	ErrConnClosed        = errors.New("socket: connection closed")
	ErrAlreadyStarted    = errors.New("socket: endpoint already started")
)
