package statesync

import (
	"sync"
	"time"

	"github.com/danmuck/sockframe/internal/protocol/dispatch"
	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/danmuck/sockframe/internal/socket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const replicaQueue = 16

// PredictFunc applies m to a local view optimistically. ok is false when the
// view cannot predict the move; the view is then left untouched.
type PredictFunc[V any] func(view V, m Move) (next V, ok bool)

// Endpoint is the client surface a Replica attaches to.
type Endpoint interface {
	Handle(code uint64, h dispatch.Handler)
	HandleText(fn socket.TextHandler)
	SendText(code uint64, text string) error
	SendStructured(code uint64, v any) error
}

// Replica is a client's redacted copy of the authoritative state. Every
// update from the server replaces it wholesale.
type Replica[V any] struct {
	mu         sync.RWMutex
	view       V
	have       bool
	version    uint64
	lastUpdate time.Time
	lastSend   time.Time

	predict    PredictFunc[V]
	endpoint   Endpoint
	onText     socket.TextHandler
	updates    chan V
	rejections chan string
	log        zerolog.Logger
}

func NewReplica[V any](predict PredictFunc[V]) *Replica[V] {
	return &Replica[V]{
		predict:    predict,
		updates:    make(chan V, replicaQueue),
		rejections: make(chan string, replicaQueue),
		log:        log.With().Str("component", "statesync.Replica").Logger(),
	}
}

// Attach registers the state-update handler and the rejection fallback on e.
// Other unhandled text is forwarded to onText when set.
func (r *Replica[V]) Attach(e Endpoint, onText socket.TextHandler) {
	r.endpoint = e
	r.onText = onText
	e.Handle(CodeStateUpdate, r.handleUpdate)
	e.HandleText(r.handleText)
}

func (r *Replica[V]) handleUpdate(msg dispatch.Message) error {
	var next V
	if err := frame.DecodeStructured(msg.Payload, &next); err != nil {
		return err
	}
	r.mu.Lock()
	r.view = next
	r.have = true
	r.version++
	r.lastUpdate = time.Now()
	r.mu.Unlock()

	select {
	case r.updates <- next:
	default:
		r.log.Debug().Msg("update queue full, dropping notification")
	}
	return nil
}

func (r *Replica[V]) handleText(tid int, code uint64, text string) {
	if code == CodeRejected {
		r.log.Info().Str("reason", text).Msg("server rejected request")
		select {
		case r.rejections <- text:
		default:
		}
		return
	}
	if r.onText != nil {
		r.onText(tid, code, text)
		return
	}
	r.log.Debug().Uint64("code", code).Str("text", text).Msg("unhandled text")
}

// RequestState asks the server for a fresh redacted view.
func (r *Replica[V]) RequestState() error {
	if r.endpoint == nil {
		return socket.ErrNotConnected
	}
	// stamped first so a reply handled before SendText returns counts
	r.markSent()
	return r.endpoint.SendText(CodeRequestState, "Init message")
}

// Propose predicts m locally, then sends it to the server.
func (r *Replica[V]) Propose(m Move) error {
	if r.endpoint == nil {
		return socket.ErrNotConnected
	}
	r.mu.Lock()
	if r.have && r.predict != nil {
		if next, ok := r.predict(r.view, m); ok {
			r.view = next
		}
	}
	r.lastSend = time.Now()
	r.mu.Unlock()

	return r.endpoint.SendStructured(CodeProposeMove, m)
}

func (r *Replica[V]) markSent() {
	r.mu.Lock()
	r.lastSend = time.Now()
	r.mu.Unlock()
}

// View returns the current local view and whether any update has arrived.
func (r *Replica[V]) View() (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view, r.have
}

// Updates delivers each server update. Notifications are dropped when the
// reader falls behind; View always holds the latest.
func (r *Replica[V]) Updates() <-chan V { return r.updates }

func (r *Replica[V]) Rejections() <-chan string { return r.rejections }

// Version counts server updates applied.
func (r *Replica[V]) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Replica[V]) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// InSync reports whether an update has arrived since the last send.
func (r *Replica[V]) InSync() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.have && !r.lastUpdate.Before(r.lastSend)
}
