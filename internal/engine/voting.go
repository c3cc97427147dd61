package engine

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/vote"
)

func (s *State) openVote(options []string, d time.Duration, at time.Time) ([]Event, error) {
	if !s.AllowViewerVoting {
		return nil, apperr.StateConflict("viewer voting is disabled for instance %s", s.InstanceID)
	}
	if s.Vote != nil && !s.Vote.Resolved {
		return nil, apperr.StateConflict("vote window %s is still open", s.Vote.ID)
	}
	for _, o := range options {
		if _, ok := s.Rules.VoteEffects[o]; !ok {
			return nil, apperr.Validation("unknown vote option %q", o)
		}
	}
	if d <= 0 {
		d = s.Rules.VoteDuration
	}

	id := fmt.Sprintf("%s-vote-%d", s.InstanceID, s.VoteSeq+1)
	w, err := vote.Open(id, options, at, d)
	if err != nil {
		return nil, err
	}
	s.VoteSeq++
	s.Vote = w
	return []Event{{Type: EvtVotingStarted, Vote: w.Clone()}}, nil
}

func (s *State) submitVote(cmd Command) ([]Event, error) {
	if s.Vote == nil {
		return nil, apperr.StateConflict("instance %s has no open vote", s.InstanceID)
	}
	if err := s.Vote.Submit(cmd.Ballot, cmd.At); err != nil {
		return nil, err
	}
	return nil, nil
}

// resolveVote closes the open window and applies the winner's modifier for the
// rest of the encounter. A WindowID that does not match the open window is stale.
func (s *State) resolveVote(cmd Command) ([]Event, error) {
	if s.Vote == nil || s.Vote.Resolved {
		return nil, apperr.StateConflict("instance %s has no open vote", s.InstanceID)
	}
	if cmd.WindowID != "" && cmd.WindowID != s.Vote.ID {
		return nil, apperr.StateConflict("vote window %s is no longer open", cmd.WindowID)
	}

	res := s.Vote.Result()
	if res.Winner != "" {
		m := s.Rules.VoteEffects[res.Winner].Modifier
		m.Source = "vote:" + res.Winner
		s.Modifiers = append(s.Modifiers, m)
	}
	s.Vote.Resolved = true
	return []Event{{Type: EvtVotingResult, Result: &res}}, nil
}
