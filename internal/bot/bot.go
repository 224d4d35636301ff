// Package bot provides a computer opponent that picks combat actions
// from the same rule table the engine enforces. Difficulty levels
// trade accuracy for randomness; the random source is injected so
// behavior is reproducible in tests.
package bot

import (
	"math/rand/v2"
	"time"

	"github.com/pengpeng/duel-server/internal/combat"
)

// Level selects a difficulty profile.
type Level string

const (
	LevelEasy   Level = "easy"
	LevelMedium Level = "medium"
	LevelHard   Level = "hard"
)

// Profile is the tuning for one difficulty level.
type Profile struct {
	// ReactionTime is how long a client should pretend the bot
	// thought about its move. The bot itself never sleeps.
	ReactionTime time.Duration `json:"reactionTime"`
	// Accuracy is the probability the bot plays its best move instead
	// of a random legal one.
	Accuracy float64 `json:"accuracy"`
}

// ProfileFor returns the profile for a level, defaulting to medium
// for unknown levels.
func ProfileFor(level Level) Profile {
	switch level {
	case LevelEasy:
		return Profile{ReactionTime: time.Second, Accuracy: 0.6}
	case LevelHard:
		return Profile{ReactionTime: 400 * time.Millisecond, Accuracy: 0.95}
	default:
		return Profile{ReactionTime: 700 * time.Millisecond, Accuracy: 0.8}
	}
}

// Bot chooses actions for one side of a match.
type Bot struct {
	level   Level
	profile Profile
	rng     *rand.Rand
}

// New creates a bot at the given level. A nil rng falls back to an
// unseeded source.
func New(level Level, rng *rand.Rand) *Bot {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Bot{level: level, profile: ProfileFor(level), rng: rng}
}

// Level returns the bot's difficulty level.
func (b *Bot) Level() Level { return b.level }

// Profile returns the bot's difficulty profile.
func (b *Bot) Profile() Profile { return b.profile }

// legalActions lists every action the engine would accept for self.
func legalActions(self combat.Combatant) []combat.Action {
	actions := []combat.Action{combat.ActionAccumulate}
	if !self.DefenseBroken {
		actions = append(actions, combat.ActionDefendNormal, combat.ActionDefendAbsolute)
	}
	for _, attack := range []combat.Action{combat.ActionAttackLight, combat.ActionAttackBreak, combat.ActionAttackHeavy} {
		if self.Qi >= combat.QiCost(attack) {
			actions = append(actions, attack)
		}
	}
	return actions
}

// bestAction is the bot's preferred move for the position.
func bestAction(self, opponent combat.Combatant) combat.Action {
	canAfford := func(a combat.Action) bool { return self.Qi >= combat.QiCost(a) }

	// An absolute defender dies only to the break counter.
	if opponent.IsDefending && opponent.DefenseType == combat.DefenseAbsolute {
		if canAfford(combat.ActionAttackBreak) {
			return combat.ActionAttackBreak
		}
		if !self.DefenseBroken {
			return combat.ActionDefendNormal
		}
		return combat.ActionAccumulate
	}

	// An undefended opponent falls to the cheapest attack.
	if !opponent.IsDefending && canAfford(combat.ActionAttackLight) {
		return combat.ActionAttackLight
	}

	// A normal defense loses to heavy.
	if opponent.IsDefending && opponent.DefenseType == combat.DefenseNormal && canAfford(combat.ActionAttackHeavy) {
		return combat.ActionAttackHeavy
	}

	// Nothing kills this turn: defend if the opponent can strike,
	// otherwise build qi.
	threatened := opponent.Qi >= combat.QiCost(combat.ActionAttackLight)
	if threatened && !self.DefenseBroken {
		if opponent.Qi >= combat.QiCost(combat.ActionAttackHeavy) {
			return combat.ActionDefendAbsolute
		}
		return combat.ActionDefendNormal
	}
	return combat.ActionAccumulate
}

// ChooseAction picks the bot's move for the current position. With
// probability Accuracy it plays the best move; otherwise a random
// legal one.
func (b *Bot) ChooseAction(self, opponent combat.Combatant) combat.Action {
	if b.rng.Float64() < b.profile.Accuracy {
		return bestAction(self, opponent)
	}
	legal := legalActions(self)
	return legal[b.rng.IntN(len(legal))]
}
