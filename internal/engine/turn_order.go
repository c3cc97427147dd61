package engine

import "github.com/DoyleJ11/raidhall/internal/catalog"

// nextBossAbility walks the current phase's ability list in order, one step per
// player action, so the boss's rotation is predictable for players and tests.
func (s *State) nextBossAbility() catalog.BossAbility {
	abilities := s.Rules.Raid.Phases[s.Boss.Phase].Abilities
	id := abilities[(s.Stats.Actions-1)%len(abilities)]
	return s.Rules.BossAbilities[id]
}
