package instance

import (
	"context"
	"time"

	"github.com/DoyleJ11/raidhall/internal/engine"
)

type timerKind int

const (
	timerVote timerKind = iota + 1
	timerEnvironment
)

// scheduler owns the vote-expiry and environment timers of one instance. It is
// only touched from the instance goroutine; timer callbacks just post back.
type scheduler struct {
	ctx  context.Context
	post func(Msg)
	now  func() time.Time

	vote     *time.Timer
	voteID   string
	env      *time.Timer
	envPhase int
}

func newScheduler(ctx context.Context, post func(Msg), now func() time.Time) *scheduler {
	return &scheduler{ctx: ctx, post: post, now: now, envPhase: -1}
}

// sync arms or disarms timers to match s. Timers already armed for the same
// window or phase are left alone.
func (t *scheduler) sync(s engine.State) {
	if s.Status.Terminal() || t.ctx.Err() != nil {
		t.stop()
		return
	}

	if v := s.Vote; v != nil && !v.Resolved {
		if t.voteID != v.ID {
			t.stopVote()
			t.voteID = v.ID
			t.vote = t.arm(max(0, v.ExpiresAt.Sub(t.now())), timerFired{kind: timerVote, vote: v.ID})
		}
	} else {
		t.stopVote()
	}

	if env := s.CurrentEnvironment(); env != nil && env.TickInterval > 0 && env.TickDamage > 0 {
		if t.envPhase != s.Boss.Phase {
			t.stopEnv()
			t.envPhase = s.Boss.Phase
			t.env = t.arm(env.TickInterval, timerFired{kind: timerEnvironment, phase: s.Boss.Phase})
		}
	} else {
		t.stopEnv()
	}
}

// fired forgets a timer that has just delivered, so the next sync re-arms the
// environment tick.
func (t *scheduler) fired(f timerFired) {
	switch f.kind {
	case timerVote:
		if f.vote == t.voteID {
			t.vote, t.voteID = nil, ""
		}
	case timerEnvironment:
		if f.phase == t.envPhase {
			t.env, t.envPhase = nil, -1
		}
	}
}

func (t *scheduler) arm(d time.Duration, f timerFired) *time.Timer {
	return time.AfterFunc(d, func() {
		if t.ctx.Err() == nil {
			t.post(f)
		}
	})
}

func (t *scheduler) stop() {
	t.stopVote()
	t.stopEnv()
}

func (t *scheduler) stopVote() {
	if t.vote != nil {
		t.vote.Stop()
	}
	t.vote, t.voteID = nil, ""
}

func (t *scheduler) stopEnv() {
	if t.env != nil {
		t.env.Stop()
	}
	t.env, t.envPhase = nil, -1
}
