package engine

import (
	"maps"
	"slices"
)

// Clone deep-copies everything a command can mutate. Rules are shared; they are
// never written after NewState.
func (s State) Clone() State {
	out := s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.Statuses = cloneStatuses(p.Statuses)
		out.Players[i] = p
	}
	out.Boss.Statuses = cloneStatuses(s.Boss.Statuses)
	if s.Vote != nil {
		out.Vote = s.Vote.Clone()
	}
	out.Buffs = slices.Clone(s.Buffs)
	out.Modifiers = slices.Clone(s.Modifiers)
	return out
}

func cloneStatuses(in map[string]StatusEffect) map[string]StatusEffect {
	if in == nil {
		return map[string]StatusEffect{}
	}
	return maps.Clone(in)
}
