// Package transport owns the byte-stream providers endpoints run on.
//
// Ownership boundary:
// - listen/dial/accept primitives
// - per-message read/write on one stream
// - frame reassembly for stream-oriented transports
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/sockframe/internal/protocol/frame"
)

var (
	ErrFrameTooLarge   = errors.New("transport: frame too large")
	ErrUnknownAddress  = errors.New("transport: no listener at address")
	ErrAddressInUse    = errors.New("transport: address already in use")
	ErrUnknownProvider = errors.New("transport: unknown provider")
)

// Stream is one live bidirectional connection. ReadMessage returns exactly
// one frame's bytes per call.
type Stream interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
	RemoteAddr() string
}

type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() string
}

type Provider interface {
	Listen(addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Stream, error)
}

const (
	KindTCP       = "tcp"
	KindTCPRaw    = "tcp-raw"
	KindWebSocket = "ws"
)

// Options tune the providers built by New.
type Options struct {
	MaxFrameBytes int
	DialTimeout   time.Duration
	WSPath        string
}

func DefaultOptions() Options {
	return Options{
		MaxFrameBytes: frame.DefaultMaxFrameBytes,
		DialTimeout:   5 * time.Second,
		WSPath:        "/sock",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = def.MaxFrameBytes
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = def.DialTimeout
	}
	if strings.TrimSpace(o.WSPath) == "" {
		o.WSPath = def.WSPath
	}
	return o
}

// New builds the provider named by kind.
func New(kind string, opts Options) (Provider, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindTCP:
		return &TCP{Framing: FramingLengthPrefixed, MaxFrameBytes: opts.MaxFrameBytes, DialTimeout: opts.DialTimeout}, nil
	case KindTCPRaw:
		return &TCP{Framing: FramingRaw, MaxFrameBytes: opts.MaxFrameBytes, DialTimeout: opts.DialTimeout}, nil
	case KindWebSocket:
		return &WebSocket{Path: opts.WSPath, MaxFrameBytes: opts.MaxFrameBytes, HandshakeTimeout: opts.DialTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
}
