package uno

import "github.com/danmuck/sockframe/internal/statesync"

// ChoiceDraw as a move choice means "draw instead of playing".
const ChoiceDraw = "draw"

// table is the public part of a game, shared by the authoritative Game and
// each player's View.
type table struct {
	players int
	turn    int
	dir     int
	current Card
	stack   []int
}

func (t *table) next() int {
	if t.players <= 0 {
		return 0
	}
	return ((t.turn+t.dir)%t.players + t.players) % t.players
}

// penalty is what a drawing player takes: the pending stack or one card.
func (t *table) penalty() int {
	if len(t.stack) == 0 {
		return 1
	}
	total := 0
	for _, n := range t.stack {
		total += n
	}
	return total
}

func (t *table) top() int {
	if len(t.stack) == 0 {
		return 0
	}
	return t.stack[len(t.stack)-1]
}

// isDraw reports whether m resolves as drawing: an explicit draw, or any
// in-range play but a counter while a penalty is pending.
func (t *table) isDraw(hand []Card, m statesync.Move) bool {
	if m.Choice == ChoiceDraw {
		return true
	}
	if !inHand(hand, m.Slot) {
		return false
	}
	if len(t.stack) > 0 {
		return hand[m.Slot].Effect.Penalty() < t.top()
	}
	return false
}

func inHand(hand []Card, slot int) bool {
	return slot >= 0 && slot < len(hand)
}

func (t *table) valid(hand []Card, m statesync.Move) bool {
	if t.isDraw(hand, m) {
		return true
	}
	if !inHand(hand, m.Slot) {
		return false
	}
	card := hand[m.Slot]
	if card.IsUnknown() {
		return false
	}
	if card.Effect.Wild() {
		if _, ok := ParseColor(m.Choice); !ok {
			return false
		}
	}
	if len(t.stack) > 0 {
		// isDraw already ruled out anything below the top of the stack
		return true
	}
	return t.matches(card)
}

func (t *table) matches(card Card) bool {
	cur := t.current
	switch {
	case card.Effect.Wild():
		return true
	case card.Color == cur.Color:
		return true
	case card.Effect == EffectNone && cur.Effect == EffectNone && card.Number == cur.Number:
		return true
	case card.Effect != EffectNone && card.Effect == cur.Effect:
		return true
	}
	return false
}

// applyEffect is the single interpreter of card effects. It runs after the
// card is on the table and before the turn advances.
func (t *table) applyEffect(e Effect, chosen Color) {
	switch e {
	case EffectNone:
	case EffectPlus2:
		t.stack = append(t.stack, 2)
	case EffectReverse:
		t.dir = -t.dir
	case EffectSkip:
		t.turn = t.next()
	case EffectChangeColor:
		t.current.Color = chosen
	case EffectPlus4:
		t.stack = append(t.stack, 4)
		t.current.Color = chosen
	}
}

// step applies an already validated move for the player holding hand. draw
// supplies cards and discard receives the card leaving the table. won is set
// when the hand empties; the turn does not advance then.
func (t *table) step(hand []Card, m statesync.Move, draw func(n int) []Card, discard func(Card)) (out []Card, won bool) {
	if t.isDraw(hand, m) {
		hand = append(hand, draw(t.penalty())...)
		t.stack = nil
		t.turn = t.next()
		return hand, false
	}

	card := hand[m.Slot]
	out = make([]Card, 0, len(hand)-1)
	out = append(out, hand[:m.Slot]...)
	out = append(out, hand[m.Slot+1:]...)

	if discard != nil {
		discard(t.current)
	}
	t.current = card
	if len(out) == 0 {
		return out, true
	}
	chosen, _ := ParseColor(m.Choice)
	t.applyEffect(card.Effect, chosen)
	t.turn = t.next()
	return out, false
}
