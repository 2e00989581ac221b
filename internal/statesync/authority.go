package statesync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/sockframe/internal/observability"
	"github.com/danmuck/sockframe/internal/protocol/dispatch"
	"github.com/danmuck/sockframe/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	msgNotAllConnected = "Not all clients connected yet, please wait"
	msgMalformedMove   = "Your move could not be read"
)

// Move outcomes recorded in metrics.
const (
	OutcomeWaiting   = "waiting"
	OutcomeOutOfTurn = "out_of_turn"
	OutcomeMalformed = "malformed"
	OutcomeInvalid   = "invalid"
	OutcomeAccepted  = "accepted"
)

// Sender is the server surface an Authority writes through.
type Sender interface {
	SendText(tid int, code uint64, text string) error
	SendStructured(tid int, code uint64, v any) error
	Conns() []int
}

// Registrar accepts code handlers.
type Registrar interface {
	Handle(code uint64, h dispatch.Handler)
}

// Authority owns the canonical state on the server.
type Authority[V any] struct {
	mu      sync.Mutex
	rules   Ruleset[V]
	sender  Sender
	players int
	log     zerolog.Logger

	accepted int
	doneOnce sync.Once
	done     chan struct{}
}

// NewAuthority drives rules for players seats through sender.
func NewAuthority[V any](rules Ruleset[V], sender Sender, players int) *Authority[V] {
	return &Authority[V]{
		rules:   rules,
		sender:  sender,
		players: players,
		log:     log.With().Str("component", "statesync.Authority").Logger(),
		done:    make(chan struct{}),
	}
}

// Register binds the request-state and propose-move handlers.
func (a *Authority[V]) Register(r Registrar) {
	r.Handle(CodeRequestState, a.handleRequestState)
	r.Handle(CodeProposeMove, a.handleProposeMove)
}

func (a *Authority[V]) handleRequestState(msg dispatch.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendStateLocked(msg.Conn)
}

func (a *Authority[V]) handleProposeMove(msg dispatch.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tid := msg.Conn

	if live := len(a.sender.Conns()); live < a.players {
		observability.RecordMove(OutcomeWaiting)
		a.log.Debug().Int("tid", tid).Int("live", live).Int("players", a.players).Msg("move before table full")
		return a.sender.SendText(tid, CodeRejected, msgNotAllConnected)
	}

	if turn := a.rules.CurrentTurn(); tid != turn {
		observability.RecordMove(OutcomeOutOfTurn)
		a.log.Info().Int("tid", tid).Int("turn", turn).Msg("move out of turn, resyncing")
		return a.sendStateLocked(tid)
	}

	var move Move
	if err := frame.DecodeStructuredStrict(msg.Payload, &move); err != nil {
		observability.RecordMove(OutcomeMalformed)
		a.log.Warn().Int("tid", tid).Err(err).Msg("malformed move")
		return errors.Join(
			a.sender.SendText(tid, CodeRejected, msgMalformedMove),
			a.sendStateLocked(tid),
		)
	}

	if !a.rules.ValidMove(move, tid) {
		observability.RecordMove(OutcomeInvalid)
		a.log.Info().Int("tid", tid).Int("slot", move.Slot).Str("choice", move.Choice).Msg("move rejected")
		return errors.Join(
			a.sender.SendText(tid, CodeRejected, fmt.Sprintf("Your move %d is invalid", move.Slot)),
			a.sendStateLocked(tid),
		)
	}
	if err := a.rules.ApplyMove(move, tid); err != nil {
		observability.RecordMove(OutcomeInvalid)
		return errors.Join(fmt.Errorf("%w: %w", ErrInvalidMove, err), a.sendStateLocked(tid))
	}
	a.accepted++
	observability.RecordMove(OutcomeAccepted)
	a.log.Info().Int("tid", tid).Int("slot", move.Slot).Int("next_turn", a.rules.CurrentTurn()).Msg("move applied")

	if winner, ok := a.rules.Winner(); ok {
		a.log.Info().Int("winner", winner).Msg("game over")
		a.doneOnce.Do(func() { close(a.done) })
	}
	return a.broadcastLocked()
}

func (a *Authority[V]) sendStateLocked(tid int) error {
	return a.sender.SendStructured(tid, CodeStateUpdate, a.rules.Redact(tid))
}

func (a *Authority[V]) broadcastLocked() error {
	var errs []error
	for _, tid := range a.sender.Conns() {
		if err := a.sendStateLocked(tid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendState pushes tid its redacted view.
func (a *Authority[V]) SendState(tid int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendStateLocked(tid)
}

// BroadcastState pushes every live peer its own redacted view in ascending
// tid order.
func (a *Authority[V]) BroadcastState() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broadcastLocked()
}

// Accepted is the number of moves applied so far.
func (a *Authority[V]) Accepted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepted
}

// Winner reports the ruleset winner under the state lock.
func (a *Authority[V]) Winner() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rules.Winner()
}

// Do runs fn with exclusive access to the ruleset.
func (a *Authority[V]) Do(fn func(rules Ruleset[V])) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.rules)
}

// Done is closed once an accepted move produces a winner.
func (a *Authority[V]) Done() <-chan struct{} { return a.done }

func (a *Authority[V]) Players() int { return a.players }
