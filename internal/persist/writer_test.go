package persist

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/models"
	"github.com/DoyleJ11/raidhall/internal/repository"
)

func TestWriterDrainsJobs(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	w := NewWriter(repo, 8, time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	require.NoError(t, w.Enqueue(GrantRewards([]string{"lyra"}, models.Reward{XP: 10, LegacyPoints: 2})))
	require.NoError(t, w.Enqueue(RecordOutcome(models.RaidOutcome{InstanceID: "i-1", Status: "COMPLETED"})))

	require.Eventually(t, func() bool { return len(repo.Outcomes()) == 1 }, time.Second, 5*time.Millisecond)
	c, err := repo.Character(context.Background(), "lyra")
	require.NoError(t, err)
	assert.Equal(t, 14, c.LegacyPoints)

	cancel()
	<-done
}

func TestWriterFlushesOnShutdown(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	w := NewWriter(repo, 8, time.Second, zaptest.NewLogger(t))
	require.NoError(t, w.Enqueue(RecordOutcome(models.RaidOutcome{InstanceID: "i-2"})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Len(t, repo.Outcomes(), 1)
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	w := NewWriter(repository.NewInMemoryRepository(), 1, time.Second, nil)
	require.NoError(t, w.Enqueue(Job{Name: "a", Run: func(context.Context, repository.Repository) error { return nil }}))
	err := w.Enqueue(Job{Name: "b", Run: func(context.Context, repository.Repository) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRetries(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{"transient errors are retried", errors.New("connection reset"), maxAttempts},
		{"domain errors are not", apperr.StateConflict("duplicate"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWriter(repository.NewInMemoryRepository(), 1, time.Second, zaptest.NewLogger(t))
			w.backoff = time.Millisecond

			var calls atomic.Int32
			w.do(context.Background(), Job{Name: "flaky", Run: func(context.Context, repository.Repository) error {
				calls.Add(1)
				return tc.err
			}})
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}
