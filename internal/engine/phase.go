package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/raidhall/internal/catalog"
)

const phaseSourcePrefix = "phase:"

// NextPhase reports whether the boss has reached the threshold of the phase
// after its current one. It only ever looks one phase ahead.
func NextPhase(b Boss, phases []catalog.Phase) (int, bool) {
	next := b.Phase + 1
	if next >= len(phases) {
		return b.Phase, false
	}
	limit := max(1, round(phases[next].Threshold*float64(b.MaxHP)))
	if b.HP <= limit {
		return next, true
	}
	return b.Phase, false
}

// checkPhase advances at most one phase per command, however many actions the
// command carried.
func (s *State) checkPhase(at time.Time) []Event {
	next, crossed := NextPhase(s.Boss, s.Rules.Raid.Phases)
	if !crossed {
		return nil
	}
	from := s.Boss.Phase
	events := []Event{s.enterPhase(next)}
	events[0].Phase.From = from

	phase := s.Rules.Raid.Phases[next]
	if s.AllowViewerVoting && len(phase.VoteOptions) >= 2 && (s.Vote == nil || s.Vote.Resolved) {
		// A failed auto-open only means no vote this phase.
		if voteEvents, err := s.openVote(phase.VoteOptions, 0, at); err == nil {
			events = append(events, voteEvents...)
		}
	}
	return events
}

// enterPhase swaps the previous phase's modifiers for the new phase's.
func (s *State) enterPhase(idx int) Event {
	phase := s.Rules.Raid.Phases[idx]
	s.Boss.Phase = idx
	s.Boss.PhaseName = phase.Name

	s.Modifiers = slices.DeleteFunc(s.Modifiers, func(m catalog.Modifier) bool {
		return strings.HasPrefix(m.Source, phaseSourcePrefix)
	})
	source := fmt.Sprintf("%s%d", phaseSourcePrefix, idx)
	for _, m := range phase.Modifiers {
		m.Source = source
		s.Modifiers = append(s.Modifiers, m)
	}

	return Event{
		Type: EvtBossPhase,
		Phase: &PhaseChange{
			From:      idx,
			To:        idx,
			Name:      phase.Name,
			Abilities: slices.Clone(phase.Abilities),
			Modifiers: slices.Clone(phase.Modifiers),
		},
	}
}

// CurrentEnvironment is the periodic hazard of the boss's current phase, if any.
func (s State) CurrentEnvironment() *catalog.Environment {
	if s.Boss.Phase >= len(s.Rules.Raid.Phases) {
		return nil
	}
	return s.Rules.Raid.Phases[s.Boss.Phase].Environment
}
