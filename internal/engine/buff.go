package engine

import (
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
)

// CheckBuff reports whether playerID may buy b right now, without touching
// the state. Callers run it before charging the account.
func CheckBuff(s State, playerID string, b catalog.Buff, at time.Time) error {
	if s.Status.Terminal() {
		return apperr.StateConflict("instance %s is %s", s.InstanceID, s.Status)
	}
	if _, err := s.actor(playerID); err != nil {
		return err
	}
	for _, active := range s.Buffs {
		if active.Type == b.Type && active.ActiveAt(at) {
			return apperr.Economy("%s is already active on this raid and does not stack", b.Name)
		}
	}
	return nil
}

func (s *State) applyBuff(cmd Command) ([]Event, error) {
	if err := CheckBuff(*s, cmd.PlayerID, cmd.Buff, cmd.At); err != nil {
		return nil, err
	}
	b := Buff{
		Type:       cmd.Buff.Type,
		PlayerID:   cmd.PlayerID,
		Effect:     cmd.Buff.Effect,
		Multiplier: cmd.Buff.Multiplier,
		Cost:       cmd.Buff.Cost,
		AppliedAt:  cmd.At,
		ExpiresAt:  cmd.At.Add(cmd.Buff.Duration),
	}
	s.Buffs = append(s.Buffs, b)
	return []Event{{Type: EvtBuffApplied, PlayerID: cmd.PlayerID, Buff: &b}}, nil
}

// Remaining is how long b has left at t.
func (b Buff) Remaining(t time.Time) time.Duration {
	return max(0, b.ExpiresAt.Sub(t))
}
