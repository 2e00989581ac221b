package uno

import "fmt"

type Color byte

const (
	ColorWild Color = iota
	ColorRed
	ColorYellow
	ColorGreen
	ColorBlue
	ColorUnknown
)

// Colors are the four colors a player can name.
var Colors = []Color{ColorRed, ColorYellow, ColorGreen, ColorBlue}

func (c Color) String() string {
	switch c {
	case ColorWild:
		return "wild"
	case ColorRed:
		return "red"
	case ColorYellow:
		return "yellow"
	case ColorGreen:
		return "green"
	case ColorBlue:
		return "blue"
	case ColorUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("color(%d)", int(c))
	}
}

// ParseColor accepts only the four nameable colors.
func ParseColor(s string) (Color, bool) {
	for _, c := range Colors {
		if c.String() == s {
			return c, true
		}
	}
	return ColorWild, false
}

// Effect is what a card does when played. The set is closed; applyEffect is
// the only interpreter.
type Effect byte

const (
	EffectNone Effect = iota
	EffectPlus2
	EffectReverse
	EffectSkip
	EffectChangeColor
	EffectPlus4
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectPlus2:
		return "plus2"
	case EffectReverse:
		return "reverse"
	case EffectSkip:
		return "skip"
	case EffectChangeColor:
		return "color"
	case EffectPlus4:
		return "plus4"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Penalty is the number of cards the effect adds to the pending stack.
func (e Effect) Penalty() int {
	switch e {
	case EffectPlus2:
		return 2
	case EffectPlus4:
		return 4
	default:
		return 0
	}
}

// Wild reports whether the player names the color when playing it.
func (e Effect) Wild() bool {
	return e == EffectChangeColor || e == EffectPlus4
}

// Card is one playing card. Number is -1 on cards without a face value.
type Card struct {
	Color  Color
	Number int
	Effect Effect
}

func NumberCard(c Color, n int) Card { return Card{Color: c, Number: n} }

func ActionCard(c Color, e Effect) Card { return Card{Color: c, Number: -1, Effect: e} }

func WildCard(e Effect) Card { return Card{Color: ColorWild, Number: -1, Effect: e} }

// Unknown is the placeholder that stands in for another player's card.
func Unknown() Card { return Card{Color: ColorUnknown, Number: -1} }

func (c Card) IsUnknown() bool { return c.Color == ColorUnknown }

func (c Card) String() string {
	if c.IsUnknown() {
		return "unknown"
	}
	if c.Effect == EffectNone {
		return fmt.Sprintf("%s_%d", c.Color, c.Number)
	}
	return c.Color.String() + "_" + c.Effect.String()
}
