package statesync

import (
	"errors"

	"github.com/danmuck/sockframe/internal/protocol/dispatch"
)

const (
	CodeStructuredState        = dispatch.CodeStructuredState
	CodeRequestState    uint64 = 1
	CodeStateUpdate     uint64 = 2
	CodeProposeMove     uint64 = 3
	CodeRejected        uint64 = 123
)

var ErrInvalidMove = errors.New("statesync: invalid move")

// Move is a proposed action: a hand slot and an optional choice such as a
// wild card color.
type Move struct {
	Slot   int    `json:"index"`
	Choice string `json:"chosen_color,omitempty"`
}

// Ruleset is the authoritative game state the sync layer drives. V is the
// per-player redacted view sent to clients.
type Ruleset[V any] interface {
	CurrentTurn() int
	Winner() (int, bool)
	ValidMove(m Move, player int) bool
	ApplyMove(m Move, player int) error
	Redact(player int) V
}
