// Package combat implements the turn resolution rules for a duel.
// It is a pure state machine over two combatant records: no I/O, no
// randomness, no clocks. Callers feed it one declared action at a time
// and persist whatever comes back.
package combat

import "errors"

// Action is a combatant's declared move for one turn.
type Action string

const (
	ActionAccumulate     Action = "accumulate"
	ActionDefendNormal   Action = "defendNormal"
	ActionDefendAbsolute Action = "defendAbsolute"
	ActionAttackLight    Action = "attackLight"
	ActionAttackHeavy    Action = "attackHeavy"
	ActionAttackBreak    Action = "attackBreak"
)

// DefenseType classifies an active defense stance.
type DefenseType string

const (
	DefenseNone     DefenseType = ""
	DefenseNormal   DefenseType = "normal"
	DefenseAbsolute DefenseType = "absolute"
)

// Fixed rule table. The absolute defense value is a sentinel larger
// than any attack power rather than a real comparison operand.
const (
	NormalDefenseValue   = 5
	AbsoluteDefenseValue = 999999

	lightAttackCost  = 1
	heavyAttackCost  = 5
	breakAttackCost  = 2
	lightAttackPower = 1
	heavyAttackPower = 10
	breakAttackPower = 1
)

// Rule violations. These are definitive rejections of the attempted
// action, never retried; the combatant must pick a different action.
var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrAlreadyDefeated = errors.New("combatant already defeated")
	ErrDefenseBroken   = errors.New("defense is broken for the rest of the match")
	ErrInsufficientQi  = errors.New("not enough qi for this action")
)

// Combatant is one side of a match. The zero value is not playable;
// use NewCombatant.
type Combatant struct {
	Qi            int         `json:"qi"`
	IsAlive       bool        `json:"isAlive"`
	IsDefending   bool        `json:"isDefending"`
	DefenseType   DefenseType `json:"defenseType,omitempty"`
	DefenseValue  int         `json:"defenseValue"`
	DefenseBroken bool        `json:"defenseBroken"`
}

// NewCombatant returns a fresh combatant ready to fight.
func NewCombatant() Combatant {
	return Combatant{IsAlive: true}
}

func (c *Combatant) clearDefense() {
	c.IsDefending = false
	c.DefenseType = DefenseNone
	c.DefenseValue = 0
}

// Outcome reports what a resolved action did.
type Outcome struct {
	Action Action `json:"action"`
	// OpponentDefeated is set when the action killed the opponent
	// outright (undefended hit, overpowering hit, or the break
	// counter against an absolute defense).
	OpponentDefeated bool `json:"opponentDefeated"`
	// DefenseShattered is set when the attack power exactly matched
	// the opponent's defense value: the defense is gone for good but
	// the opponent survives the hit.
	DefenseShattered bool `json:"defenseShattered"`
	// Absorbed is set when the opponent's defense held and the attack
	// did nothing.
	Absorbed bool `json:"absorbed"`
}

// AttackPower returns the attack power of an action, or 0 for
// non-attack actions.
func AttackPower(action Action) int {
	switch action {
	case ActionAttackLight:
		return lightAttackPower
	case ActionAttackHeavy:
		return heavyAttackPower
	case ActionAttackBreak:
		return breakAttackPower
	default:
		return 0
	}
}

// QiCost returns how much qi an action consumes.
func QiCost(action Action) int {
	switch action {
	case ActionAttackLight:
		return lightAttackCost
	case ActionAttackHeavy:
		return heavyAttackCost
	case ActionAttackBreak:
		return breakAttackCost
	default:
		return 0
	}
}

// IsAttack reports whether the action targets the opponent.
func IsAttack(action Action) bool {
	switch action {
	case ActionAttackLight, ActionAttackHeavy, ActionAttackBreak:
		return true
	}
	return false
}

// IsDefense reports whether the action establishes a defense stance.
func IsDefense(action Action) bool {
	return action == ActionDefendNormal || action == ActionDefendAbsolute
}

// ValidAction reports whether the action is part of the rule table.
func ValidAction(action Action) bool {
	switch action {
	case ActionAccumulate, ActionDefendNormal, ActionDefendAbsolute,
		ActionAttackLight, ActionAttackHeavy, ActionAttackBreak:
		return true
	}
	return false
}

// ApplyAction resolves one action by the acting combatant against the
// opponent, mutating both records in place. On a rule violation
// neither record is touched and the returned error identifies the
// violation.
func ApplyAction(actor, opponent *Combatant, action Action) (Outcome, error) {
	if !ValidAction(action) {
		return Outcome{}, ErrUnknownAction
	}
	if !actor.IsAlive {
		return Outcome{}, ErrAlreadyDefeated
	}
	if IsDefense(action) && actor.DefenseBroken {
		return Outcome{}, ErrDefenseBroken
	}
	if cost := QiCost(action); actor.Qi < cost {
		return Outcome{}, ErrInsufficientQi
	}

	out := Outcome{Action: action}

	switch action {
	case ActionAccumulate:
		actor.clearDefense()
		actor.Qi++

	case ActionDefendNormal:
		actor.IsDefending = true
		actor.DefenseType = DefenseNormal
		actor.DefenseValue = NormalDefenseValue

	case ActionDefendAbsolute:
		actor.IsDefending = true
		actor.DefenseType = DefenseAbsolute
		actor.DefenseValue = AbsoluteDefenseValue

	default:
		actor.Qi -= QiCost(action)
		actor.clearDefense()
		resolveAttack(action, opponent, &out)
	}

	return out, nil
}

// resolveAttack applies an attack to a defender that has already paid
// its cost. Resolution order matters: the break-vs-absolute counter is
// checked before any power comparison.
func resolveAttack(action Action, defender *Combatant, out *Outcome) {
	if action == ActionAttackBreak && defender.IsDefending && defender.DefenseType == DefenseAbsolute {
		// The sole counter to absolute defense kills outright.
		defender.IsAlive = false
		out.OpponentDefeated = true
		return
	}

	if !defender.IsDefending {
		defender.IsAlive = false
		out.OpponentDefeated = true
		return
	}

	power := AttackPower(action)
	switch {
	case power > defender.DefenseValue:
		defender.IsAlive = false
		out.OpponentDefeated = true
	case power == defender.DefenseValue:
		defender.clearDefense()
		defender.DefenseBroken = true
		out.DefenseShattered = true
	default:
		out.Absorbed = true
	}
}

// CheckWinner inspects the two sides of a match and returns 0 while
// the match is ongoing, 1 if side one won, or 2 if side two won. Only
// one side acts per resolved turn, so both being dead cannot happen.
func CheckWinner(one, two *Combatant) int {
	if !one.IsAlive {
		return 2
	}
	if !two.IsAlive {
		return 1
	}
	return 0
}
