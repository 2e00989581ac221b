package uno

import (
	"fmt"
	"strings"

	"github.com/danmuck/sockframe/internal/statesync"
)

// View is what one player can see: public table state plus their own hand.
type View struct {
	PlayerID   int      `json:"player_id"`
	NumPlayers int      `json:"num_players"`
	Turn       int      `json:"turn"`
	TurnDir    int      `json:"turn_dir"`
	Current    Card     `json:"current_card"`
	Stack      []int    `json:"stack"`
	Winner     *int     `json:"winner"`
	Hands      [][]Card `json:"player_hands"`
}

func (v View) Clone() View {
	out := v
	out.Stack = append([]int{}, v.Stack...)
	if v.Winner != nil {
		w := *v.Winner
		out.Winner = &w
	}
	out.Hands = make([][]Card, len(v.Hands))
	for i, h := range v.Hands {
		out.Hands[i] = append([]Card{}, h...)
	}
	return out
}

func (v View) MyTurn() bool { return v.Winner == nil && v.Turn == v.PlayerID }

// Hand is the viewer's own hand.
func (v View) Hand() []Card {
	if v.PlayerID < 0 || v.PlayerID >= len(v.Hands) {
		return nil
	}
	return v.Hands[v.PlayerID]
}

// HandSizes lists every player's card count.
func (v View) HandSizes() []int {
	out := make([]int, len(v.Hands))
	for i, h := range v.Hands {
		out[i] = len(h)
	}
	return out
}

func (v View) table() table {
	dir := v.TurnDir
	if dir == 0 {
		dir = 1
	}
	return table{
		players: v.NumPlayers,
		turn:    v.Turn,
		dir:     dir,
		current: v.Current,
		stack:   append([]int(nil), v.Stack...),
	}
}

func (v *View) setTable(t table) {
	v.Turn = t.turn
	v.TurnDir = t.dir
	v.Current = t.current
	v.Stack = append([]int{}, t.stack...)
}

// ValidMove checks m locally. Only the viewer's own moves on their own turn
// can be checked.
func (v View) ValidMove(m statesync.Move) bool {
	if !v.MyTurn() {
		return false
	}
	t := v.table()
	return t.valid(v.Hand(), m)
}

// RequiresColor reports whether playing slot needs a color choice.
func (v View) RequiresColor(slot int) bool {
	hand := v.Hand()
	return slot >= 0 && slot < len(hand) && hand[slot].Effect.Wild()
}

// Predict applies m to a copy of the view the way the server would. Drawn
// cards are unknown until the next update.
func (v View) Predict(m statesync.Move) (View, bool) {
	if !v.ValidMove(m) {
		return v, false
	}
	next := v.Clone()
	t := next.table()
	hand, won := t.step(next.Hand(), m, hiddenHand, nil)
	next.Hands[next.PlayerID] = hand
	next.setTable(t)
	if won {
		w := next.PlayerID
		next.Winner = &w
	}
	return next, true
}

// PredictMove adapts Predict to statesync.PredictFunc.
func PredictMove(v View, m statesync.Move) (View, bool) {
	return v.Predict(m)
}

// SuggestMove picks a deterministic legal move: the first playable card,
// naming the color the hand holds most of for wilds, else a draw.
func (v View) SuggestMove() statesync.Move {
	draw := statesync.Move{Slot: -1, Choice: ChoiceDraw}
	if !v.MyTurn() {
		return draw
	}
	hand := v.Hand()
	t := v.table()
	color := v.favoriteColor()
	for slot, card := range hand {
		m := statesync.Move{Slot: slot}
		if card.Effect.Wild() {
			m.Choice = color.String()
		}
		if !t.isDraw(hand, m) && t.valid(hand, m) {
			return m
		}
	}
	return draw
}

func (v View) favoriteColor() Color {
	counts := make(map[Color]int)
	for _, c := range v.Hand() {
		if !c.Effect.Wild() && !c.IsUnknown() {
			counts[c.Color]++
		}
	}
	best := ColorRed
	for _, c := range Colors {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func (v View) String() string {
	var b strings.Builder
	for i, hand := range v.Hands {
		fmt.Fprintf(&b, "player %d: %s\n", i, formatHand(hand))
	}
	fmt.Fprintf(&b, "stack: %v\n", v.Stack)
	fmt.Fprintf(&b, "current card: %s. Turn: %d\n", v.Current, v.Turn)
	fmt.Fprintf(&b, "You are player %d", v.PlayerID)
	return b.String()
}
