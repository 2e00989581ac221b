package uno

import "math/rand"

// Deck is a draw pile plus its discard pile.
type Deck struct {
	cards   []Card
	discard []Card
	r       *rand.Rand
}

// NewDeck returns a shuffled 72 card deck: 0-9 once per color, two of each
// colored action per color, four of each wild.
func NewDeck(r *rand.Rand) *Deck {
	cards := make([]Card, 0, 72)
	for n := 0; n <= 9; n++ {
		for _, c := range Colors {
			cards = append(cards, NumberCard(c, n))
		}
	}
	for _, c := range Colors {
		for i := 0; i < 2; i++ {
			cards = append(cards,
				ActionCard(c, EffectPlus2),
				ActionCard(c, EffectReverse),
				ActionCard(c, EffectSkip),
			)
		}
	}
	for i := 0; i < 4; i++ {
		cards = append(cards, WildCard(EffectPlus4), WildCard(EffectChangeColor))
	}
	d := &Deck{cards: cards, r: r}
	d.shuffle()
	return d
}

func (d *Deck) shuffle() {
	// Fisher-Yates
	for i := len(d.cards) - 1; i > 0; i-- {
		j := d.r.Intn(i + 1)
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	}
}

// Draw takes n cards off the top, reshuffling the discard pile in when the
// draw pile runs short. Fewer than n come back only when both piles are dry.
func (d *Deck) Draw(n int) []Card {
	if n <= 0 {
		return nil
	}
	if len(d.cards) < n && len(d.discard) > 0 {
		d.cards = append(d.cards, d.discard...)
		d.discard = nil
		d.shuffle()
	}
	if n > len(d.cards) {
		n = len(d.cards)
	}
	out := make([]Card, n)
	copy(out, d.cards[:n])
	d.cards = d.cards[n:]
	return out
}

// Discard puts c on the discard pile. Wild cards drop the color they were
// played as.
func (d *Deck) Discard(c Card) {
	if c.Effect.Wild() {
		c.Color = ColorWild
	}
	d.discard = append(d.discard, c)
}

func (d *Deck) Len() int { return len(d.cards) }

func (d *Deck) DiscardLen() int { return len(d.discard) }
