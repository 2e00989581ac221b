package socket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/sockframe/internal/observability"
	"github.com/danmuck/sockframe/internal/protocol/dispatch"
	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/danmuck/sockframe/internal/transport"
	"github.com/rs/zerolog"
)

// State is a connection lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TextHandler receives frames whose code has no registered handler, with the
// payload read as text.
type TextHandler func(tid int, code uint64, text string)

// ErrorHandler observes frames dropped by a receive loop.
type ErrorHandler func(tid int, err error)

// Conn is one live stream and its receive loop.
type Conn struct {
	id       int
	stream   transport.Stream
	codec    frame.Codec
	endpoint string
	opened   time.Time

	state     atomic.Int32
	lastSend  atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id int, stream transport.Stream, codec frame.Codec, endpoint string) *Conn {
	return &Conn{
		id:       id,
		stream:   stream,
		codec:    codec,
		endpoint: endpoint,
		opened:   time.Now(),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() int { return c.id }

func (c *Conn) State() State { return State(c.state.Load()) }

// Running reports whether the connection is Open.
func (c *Conn) Running() bool { return c.State() == StateOpen }

func (c *Conn) RemoteAddr() string { return c.stream.RemoteAddr() }

// Done is closed once the receive loop has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) LastSend() time.Time {
	ns := c.lastSend.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Conn) open() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Send frames payload under code and writes it.
func (c *Conn) Send(code uint64, payload []byte) error {
	if !c.Running() {
		return fmt.Errorf("%w: tid=%d", ErrConnClosed, c.id)
	}
	b, err := c.codec.Encode(code, payload)
	if err != nil {
		return err
	}
	if err := c.stream.WriteMessage(b); err != nil {
		return fmt.Errorf("socket: write tid=%d: %w", c.id, err)
	}
	c.lastSend.Store(time.Now().UnixNano())
	observability.RecordFrameSent(c.endpoint, code)
	return nil
}

// Close moves the connection through Draining to Closed. Safe to call any
// number of times from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDraining))
		_ = c.stream.Close()
		c.state.Store(int32(StateClosed))
	})
	return nil
}

// receiver is what a receive loop dispatches into.
type receiver struct {
	registry *dispatch.Registry
	fallback TextHandler
	onError  ErrorHandler
	onFrame  func()
	log      zerolog.Logger
}

// serve runs the receive loop until a read fails or the connection is closed.
func (c *Conn) serve(r receiver) {
	defer close(c.done)
	defer c.Close()
	for c.Running() {
		raw, err := c.stream.ReadMessage()
		if err != nil {
			if c.Running() {
				if errors.Is(err, transport.ErrFrameTooLarge) {
					observability.RecordFrameDropped(c.endpoint, observability.DropOversize)
					r.report(c.id, err)
				}
				r.log.Debug().Int("tid", c.id).Err(err).Msg("socket.Conn.serve read ended")
			}
			return
		}
		c.handle(raw, r)
	}
}

func (c *Conn) handle(raw []byte, r receiver) {
	fr, err := c.codec.Decode(raw)
	if err != nil {
		c.drop(r, observability.DropFraming, err)
		return
	}
	observability.RecordFrameReceived(c.endpoint, fr.Code)
	if r.onFrame != nil {
		r.onFrame()
	}

	handled, err := r.registry.Dispatch(dispatch.Message{Conn: c.id, Code: fr.Code, Payload: fr.Payload})
	if err != nil {
		reason := observability.DropHandler
		if errors.Is(err, dispatch.ErrHandlerPanic) {
			reason = observability.DropPanic
		}
		c.drop(r, reason, err)
		return
	}
	if handled {
		return
	}

	text, err := frame.DecodeText(fr.Payload)
	if err != nil {
		c.drop(r, observability.DropText, fmt.Errorf("code=%d: %w", fr.Code, err))
		return
	}
	if r.fallback == nil {
		r.log.Debug().Int("tid", c.id).Uint64("code", fr.Code).Msg("socket.Conn.handle unhandled code")
		return
	}
	if err := callFallback(r.fallback, c.id, fr.Code, text); err != nil {
		c.drop(r, observability.DropPanic, err)
	}
}

func (c *Conn) drop(r receiver, reason string, err error) {
	observability.RecordFrameDropped(c.endpoint, reason)
	r.log.Warn().Int("tid", c.id).Str("reason", reason).Err(err).Msg("socket.Conn.handle frame dropped")
	r.report(c.id, err)
}

func (r receiver) report(tid int, err error) {
	if r.onError != nil {
		r.onError(tid, err)
	}
}

func callFallback(fn TextHandler, tid int, code uint64, text string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: fallback code=%d: %v", dispatch.ErrHandlerPanic, code, p)
		}
	}()
	fn(tid, code, text)
	return nil
}
