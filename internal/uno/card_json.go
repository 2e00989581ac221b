package uno

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalJSON encodes a Card as "red_7", "blue_skip", "wild_plus4", "unknown".
func (c Card) MarshalJSON() ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes the literals produced by MarshalJSON. A wild card
// already on the table carries its chosen color, e.g. "green_plus4".
func (c *Card) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	card, err := ParseCard(s)
	if err != nil {
		return err
	}
	*c = card
	return nil
}

func ParseCard(s string) (Card, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "unknown" {
		return Unknown(), nil
	}
	colorPart, facePart, ok := strings.Cut(s, "_")
	if !ok {
		return Card{}, fmt.Errorf("invalid card literal %q (want color_face like red_7)", s)
	}
	color, ok := colorByName(colorPart)
	if !ok {
		return Card{}, fmt.Errorf("invalid card color %q", colorPart)
	}

	var card Card
	if len(facePart) == 1 && facePart[0] >= '0' && facePart[0] <= '9' {
		card = NumberCard(color, int(facePart[0]-'0'))
	} else {
		effect, ok := effectByName(facePart)
		if !ok {
			return Card{}, fmt.Errorf("invalid card face %q", facePart)
		}
		card = ActionCard(color, effect)
	}
	if err := card.validate(); err != nil {
		return Card{}, err
	}
	return card, nil
}

func (c Card) validate() error {
	switch {
	case c.IsUnknown():
		return nil
	case c.Effect.Wild():
		if c.Number != -1 {
			return fmt.Errorf("wild card %s cannot carry a number", c.Effect)
		}
		return nil
	case c.Color == ColorWild || c.Color > ColorUnknown:
		return fmt.Errorf("card %s needs a color", c.Effect)
	case c.Effect == EffectNone && (c.Number < 0 || c.Number > 9):
		return fmt.Errorf("invalid card number %d", c.Number)
	case c.Effect > EffectPlus4:
		return fmt.Errorf("invalid card effect %d", c.Effect)
	}
	return nil
}

func colorByName(s string) (Color, bool) {
	if s == "wild" {
		return ColorWild, true
	}
	return ParseColor(s)
}

func effectByName(s string) (Effect, bool) {
	switch s {
	case "plus2":
		return EffectPlus2, true
	case "reverse":
		return EffectReverse, true
	case "skip":
		return EffectSkip, true
	case "color":
		return EffectChangeColor, true
	case "plus4":
		return EffectPlus4, true
	default:
		return EffectNone, false
	}
}
