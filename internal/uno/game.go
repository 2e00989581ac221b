package uno

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/danmuck/sockframe/internal/statesync"
)

// HandSize is the number of cards dealt to each player.
const HandSize = 6

var (
	ErrInvalidMove = errors.New("uno: invalid move")
	ErrGameOver    = errors.New("uno: game over")
	ErrNotStarted  = errors.New("uno: game not started")
	ErrPlayers     = errors.New("uno: need at least one player")
)

// Game is the authoritative state. It is not safe for concurrent use; the
// statesync Authority serializes access.
type Game struct {
	table
	deck    *Deck
	hands   [][]Card
	winner  int
	started bool
}

var _ statesync.Ruleset[View] = (*Game)(nil)

func NewGame(players int, r *rand.Rand) (*Game, error) {
	if players < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrPlayers, players)
	}
	return &Game{
		table:  table{players: players, dir: 1, current: Unknown()},
		deck:   NewDeck(r),
		hands:  make([][]Card, players),
		winner: -1,
	}, nil
}

// Start deals every hand and flips a colored starting card.
func (g *Game) Start() {
	if g.started {
		return
	}
	for i := range g.hands {
		g.hands[i] = g.deck.Draw(HandSize)
	}
	for {
		flipped := g.deck.Draw(1)
		if len(flipped) == 0 {
			break
		}
		if !flipped[0].Effect.Wild() {
			g.current = flipped[0]
			break
		}
		g.deck.Discard(flipped[0])
	}
	g.started = true
}

func (g *Game) Started() bool { return g.started }

func (g *Game) Players() int { return g.players }

func (g *Game) CurrentTurn() int { return g.turn }

func (g *Game) Winner() (int, bool) { return g.winner, g.winner >= 0 }

func (g *Game) Current() Card { return g.current }

func (g *Game) Stack() []int { return append([]int(nil), g.stack...) }

// Hand returns a copy of player's hand.
func (g *Game) Hand(player int) []Card {
	if player < 0 || player >= g.players {
		return nil
	}
	return append([]Card(nil), g.hands[player]...)
}

// ValidMove checks m against player's hand and the table.
func (g *Game) ValidMove(m statesync.Move, player int) bool {
	if !g.started || g.winner >= 0 {
		return false
	}
	if player < 0 || player >= g.players {
		return false
	}
	return g.valid(g.hands[player], m)
}

// ApplyMove plays m for the player whose turn it is.
func (g *Game) ApplyMove(m statesync.Move, player int) error {
	switch {
	case !g.started:
		return ErrNotStarted
	case g.winner >= 0:
		return ErrGameOver
	case player != g.turn || !g.ValidMove(m, player):
		return fmt.Errorf("%w: player=%d slot=%d choice=%q", ErrInvalidMove, player, m.Slot, m.Choice)
	}
	hand, won := g.step(g.hands[player], m, g.deck.Draw, g.deck.Discard)
	g.hands[player] = hand
	if won {
		g.winner = player
	}
	return nil
}

// Redact projects the game for player: their own hand in full, every other
// hand as unknown cards of the same length.
func (g *Game) Redact(player int) View {
	v := View{
		PlayerID:   player,
		NumPlayers: g.players,
		Turn:       g.turn,
		TurnDir:    g.dir,
		Current:    g.current,
		Stack:      append([]int{}, g.stack...),
		Hands:      make([][]Card, g.players),
	}
	if g.winner >= 0 {
		w := g.winner
		v.Winner = &w
	}
	for i, hand := range g.hands {
		if i == player {
			v.Hands[i] = append([]Card{}, hand...)
			continue
		}
		v.Hands[i] = hiddenHand(len(hand))
	}
	return v
}

func hiddenHand(n int) []Card {
	out := make([]Card, n)
	for i := range out {
		out[i] = Unknown()
	}
	return out
}

func (g *Game) String() string {
	var b strings.Builder
	for i, hand := range g.hands {
		fmt.Fprintf(&b, "player %d: %s\n", i, formatHand(hand))
	}
	fmt.Fprintf(&b, "stack: %v\n", g.stack)
	fmt.Fprintf(&b, "current card: %s. Turn: %d", g.current, g.turn)
	return b.String()
}

func formatHand(hand []Card) string {
	parts := make([]string, len(hand))
	for i, c := range hand {
		parts[i] = fmt.Sprintf("%d:%s", i, c)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
