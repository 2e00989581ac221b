// Package dispatch maps header codes to handlers.
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/sockframe/internal/protocol/frame"
)

// CodeStructuredState is reserved on every endpoint for the built-in
// structured-state handler.
const CodeStructuredState uint64 = 0

var ErrHandlerPanic = errors.New("dispatch: handler panic")

// Message is one inbound frame with the connection it arrived on. Client
// endpoints report their single connection as tid 0.
type Message struct {
	Conn    int
	Code    uint64
	Payload []byte
}

func (m Message) Text() (string, error) {
	return frame.DecodeText(m.Payload)
}

func (m Message) Decode(out any) error {
	return frame.DecodeStructured(m.Payload, out)
}

// Handler consumes the payload of one registered code.
type Handler func(msg Message) error

// Registry maps header codes to handlers. It is filled at setup time and only
// read afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
}

// NewRegistry returns a registry with code 0 bound to state.
func NewRegistry(state Handler) *Registry {
	r := &Registry{handlers: make(map[uint64]Handler)}
	r.handlers[CodeStructuredState] = state
	return r
}

// Register binds code to h, replacing any earlier binding.
func (r *Registry) Register(code uint64, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[code] = h
}

// Dispatch runs the handler bound to msg.Code. handled is false when no
// handler is registered; the caller then owns the payload.
func (r *Registry) Dispatch(msg Message) (handled bool, err error) {
	r.mu.RLock()
	h, ok := r.handlers[msg.Code]
	r.mu.RUnlock()
	if !ok || h == nil {
		return false, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: code=%d: %v", ErrHandlerPanic, msg.Code, p)
		}
	}()
	return true, h(msg)
}

// Codes returns registered codes in ascending order.
func (r *Registry) Codes() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint64, 0, len(r.handlers))
	for code := range r.handlers {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) MaxCode() uint64 {
	codes := r.Codes()
	if len(codes) == 0 {
		return 0
	}
	return codes[len(codes)-1]
}
