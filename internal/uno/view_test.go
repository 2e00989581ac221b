package uno

import (
	"strings"
	"testing"

	"github.com/danmuck/sockframe/internal/statesync"
)

func TestPredictMatchesAuthoritativePlay(t *testing.T) {
	moves := []statesync.Move{
		{Slot: 0},
		{Slot: 1, Choice: "green"},
		{Slot: 2},
	}
	for _, m := range moves {
		g := riggedGame(t, "red_3",
			cards(t, "red_skip", "wild_plus4", "red_reverse", "blue_9"),
			cards(t, "green_2", "green_3"),
			cards(t, "yellow_2"),
		)
		v := g.Redact(0)
		predicted, ok := v.Predict(m)
		if !ok {
			t.Fatalf("predict %+v failed", m)
		}
		apply(t, g, 0, m)
		want := g.Redact(0)
		if predicted.Turn != want.Turn || predicted.TurnDir != want.TurnDir {
			t.Fatalf("move %+v predicted turn=%d dir=%d, server turn=%d dir=%d",
				m, predicted.Turn, predicted.TurnDir, want.Turn, want.TurnDir)
		}
		if predicted.Current != want.Current {
			t.Fatalf("move %+v predicted card %s, server %s", m, predicted.Current, want.Current)
		}
		if len(predicted.Stack) != len(want.Stack) {
			t.Fatalf("move %+v predicted stack %v, server %v", m, predicted.Stack, want.Stack)
		}
		if len(predicted.Hand()) != len(want.Hand()) {
			t.Fatalf("move %+v predicted hand %v, server %v", m, predicted.Hand(), want.Hand())
		}
	}
}

func TestPredictDrawAddsUnknownCards(t *testing.T) {
	g := riggedGame(t, "red_plus2", cards(t, "blue_1"), cards(t, "blue_2"))
	g.stack = []int{2}
	v := g.Redact(0)
	next, ok := v.Predict(statesync.Move{Slot: 0})
	if !ok {
		t.Fatalf("drawing under penalty should be predictable")
	}
	hand := next.Hand()
	if len(hand) != 3 || !hand[1].IsUnknown() || !hand[2].IsUnknown() {
		t.Fatalf("expected two unknown cards drawn, got %v", hand)
	}
	if len(next.Stack) != 0 || next.Turn != 1 {
		t.Fatalf("unexpected predicted table stack=%v turn=%d", next.Stack, next.Turn)
	}
	if len(v.Hand()) != 1 {
		t.Fatalf("predict must not mutate the source view")
	}
}

func TestPredictOutOfRangeNeedsExplicitDraw(t *testing.T) {
	g := riggedGame(t, "red_3", cards(t, "blue_1"), cards(t, "blue_2"))
	v := g.Redact(0)
	if _, ok := v.Predict(statesync.Move{Slot: 99}); ok {
		t.Fatalf("out-of-range slot should not predict a draw")
	}
	next, ok := v.Predict(statesync.Move{Slot: 99, Choice: ChoiceDraw})
	if !ok {
		t.Fatalf("explicit draw should be predictable")
	}
	if hand := next.Hand(); len(hand) != 2 || !hand[1].IsUnknown() || next.Turn != 1 {
		t.Fatalf("unexpected predicted draw hand=%v turn=%d", hand, next.Turn)
	}
}

func TestPredictRefusesWhenNotMyTurn(t *testing.T) {
	g := riggedGame(t, "red_3", cards(t, "red_1"), cards(t, "red_2"))
	v := g.Redact(1)
	if _, ok := v.Predict(statesync.Move{Slot: 0}); ok {
		t.Fatalf("prediction out of turn should be refused")
	}
	if v.ValidMove(statesync.Move{Slot: 0}) {
		t.Fatalf("local validation out of turn should fail")
	}
}

func TestRequiresColorAndSuggestMove(t *testing.T) {
	g := riggedGame(t, "red_3", cards(t, "blue_1", "wild_color", "blue_4", "blue_5"))
	v := g.Redact(0)
	if v.RequiresColor(0) || !v.RequiresColor(1) || v.RequiresColor(7) {
		t.Fatalf("RequiresColor mismatch")
	}
	m := v.SuggestMove()
	if m.Slot != 1 || m.Choice != "blue" {
		t.Fatalf("expected wild naming blue, got %+v", m)
	}
	if !g.ValidMove(m, 0) {
		t.Fatalf("suggested move %+v should be valid", m)
	}

	g = riggedGame(t, "red_3", cards(t, "blue_1", "green_2"))
	if m := g.Redact(0).SuggestMove(); m.Choice != ChoiceDraw {
		t.Fatalf("expected a draw, got %+v", m)
	}
}

func TestViewString(t *testing.T) {
	g := riggedGame(t, "red_3", cards(t, "blue_1"), cards(t, "green_2"))
	s := g.Redact(1).String()
	for _, want := range []string{"player 0: [0:unknown]", "player 1: [0:green_2]", "current card: red_3", "You are player 1"} {
		if !strings.Contains(s, want) {
			t.Fatalf("view string %q missing %q", s, want)
		}
	}
}
