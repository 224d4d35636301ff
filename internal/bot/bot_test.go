package bot

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/pengpeng/duel-server/internal/combat"
)

func TestProfileFor(t *testing.T) {
	tests := []struct {
		level    Level
		reaction time.Duration
		accuracy float64
	}{
		{LevelEasy, time.Second, 0.6},
		{LevelMedium, 700 * time.Millisecond, 0.8},
		{LevelHard, 400 * time.Millisecond, 0.95},
		{Level("bogus"), 700 * time.Millisecond, 0.8},
	}
	for _, tt := range tests {
		p := ProfileFor(tt.level)
		if p.ReactionTime != tt.reaction {
			t.Errorf("%s: reaction = %v, want %v", tt.level, p.ReactionTime, tt.reaction)
		}
		if p.Accuracy != tt.accuracy {
			t.Errorf("%s: accuracy = %v, want %v", tt.level, p.Accuracy, tt.accuracy)
		}
	}
}

func TestLegalActions(t *testing.T) {
	fresh := combat.NewCombatant()
	got := legalActions(fresh)
	want := []combat.Action{combat.ActionAccumulate, combat.ActionDefendNormal, combat.ActionDefendAbsolute}
	if !slices.Equal(got, want) {
		t.Errorf("fresh combatant: got %v, want %v", got, want)
	}

	rich := combat.NewCombatant()
	rich.Qi = 5
	got = legalActions(rich)
	for _, attack := range []combat.Action{combat.ActionAttackLight, combat.ActionAttackBreak, combat.ActionAttackHeavy} {
		if !slices.Contains(got, attack) {
			t.Errorf("qi=5: missing %v in %v", attack, got)
		}
	}

	broken := combat.NewCombatant()
	broken.DefenseBroken = true
	got = legalActions(broken)
	if slices.Contains(got, combat.ActionDefendNormal) || slices.Contains(got, combat.ActionDefendAbsolute) {
		t.Errorf("broken defense: defends still offered in %v", got)
	}
}

func TestBestAction(t *testing.T) {
	with := func(qi int, mut func(*combat.Combatant)) combat.Combatant {
		c := combat.NewCombatant()
		c.Qi = qi
		if mut != nil {
			mut(&c)
		}
		return c
	}
	absolute := func(c *combat.Combatant) {
		c.IsDefending = true
		c.DefenseType = combat.DefenseAbsolute
		c.DefenseValue = combat.AbsoluteDefenseValue
	}
	normal := func(c *combat.Combatant) {
		c.IsDefending = true
		c.DefenseType = combat.DefenseNormal
		c.DefenseValue = combat.NormalDefenseValue
	}
	brokenDefense := func(c *combat.Combatant) { c.DefenseBroken = true }

	tests := []struct {
		name     string
		self     combat.Combatant
		opponent combat.Combatant
		want     combat.Action
	}{
		{"break counters absolute defense", with(2, nil), with(0, absolute), combat.ActionAttackBreak},
		{"hide from unbreakable absolute", with(0, nil), with(0, absolute), combat.ActionDefendNormal},
		{"broke and poor vs absolute", with(0, brokenDefense), with(0, absolute), combat.ActionAccumulate},
		{"cheap kill on undefended", with(1, nil), with(0, nil), combat.ActionAttackLight},
		{"heavy crushes normal defense", with(5, nil), with(0, normal), combat.ActionAttackHeavy},
		{"defend against armed opponent", with(0, nil), with(1, nil), combat.ActionDefendNormal},
		{"absolute against heavy threat", with(0, nil), with(5, normal), combat.ActionDefendAbsolute},
		{"build qi when safe", with(0, nil), with(0, normal), combat.ActionAccumulate},
	}
	for _, tt := range tests {
		if got := bestAction(tt.self, tt.opponent); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestChooseActionAlwaysLegal(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 13))
	b := New(LevelEasy, rng)

	for i := 0; i < 500; i++ {
		self := combat.NewCombatant()
		self.Qi = rng.IntN(8)
		self.DefenseBroken = rng.IntN(4) == 0
		opponent := combat.NewCombatant()
		opponent.Qi = rng.IntN(8)
		if rng.IntN(2) == 0 {
			opponent.IsDefending = true
			if rng.IntN(2) == 0 {
				opponent.DefenseType = combat.DefenseAbsolute
				opponent.DefenseValue = combat.AbsoluteDefenseValue
			} else {
				opponent.DefenseType = combat.DefenseNormal
				opponent.DefenseValue = combat.NormalDefenseValue
			}
		}

		action := b.ChooseAction(self, opponent)
		if !combat.ValidAction(action) {
			t.Fatalf("iteration %d: invalid action %q", i, action)
		}
		if combat.IsAttack(action) && self.Qi < combat.QiCost(action) {
			t.Fatalf("iteration %d: unaffordable attack %q with qi %d", i, action, self.Qi)
		}
		if combat.IsDefense(action) && self.DefenseBroken {
			t.Fatalf("iteration %d: defense %q despite broken guard", i, action)
		}
	}
}

func TestNewDefaultsRandomSource(t *testing.T) {
	b := New(LevelHard, nil)
	if b.Level() != LevelHard {
		t.Errorf("level = %v, want hard", b.Level())
	}
	self := combat.NewCombatant()
	opponent := combat.NewCombatant()
	if action := b.ChooseAction(self, opponent); !combat.ValidAction(action) {
		t.Errorf("invalid action %q from default source", action)
	}
}
