package persist

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/models"
	"github.com/DoyleJ11/raidhall/internal/repository"
)

const (
	DefaultQueueSize = 256
	maxAttempts      = 3
)

var ErrQueueFull = errors.New("persist: write queue full")

// Job is one deferred write. Name shows up in logs only.
type Job struct {
	Name string
	Run  func(ctx context.Context, repo repository.Repository) error
}

// Writer drains write-behind jobs on its own goroutine so raid instances never
// wait on storage for leaderboard, analytics or reward writes.
type Writer struct {
	repo    repository.Repository
	queue   chan Job
	timeout time.Duration
	backoff time.Duration
	log     *zap.Logger
}

func NewWriter(repo repository.Repository, queueSize int, timeout time.Duration, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		repo:    repo,
		queue:   make(chan Job, queueSize),
		timeout: timeout,
		backoff: 100 * time.Millisecond,
		log:     log.Named("persist"),
	}
}

// Enqueue never blocks; a full queue drops the job and reports ErrQueueFull.
func (w *Writer) Enqueue(job Job) error {
	select {
	case w.queue <- job:
		return nil
	default:
		w.log.Warn("dropping write, queue full", zap.String("job", job.Name))
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is cancelled, then flushes what is still queued.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return nil
		case job := <-w.queue:
			w.do(ctx, job)
		}
	}
}

func (w *Writer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	for {
		select {
		case job := <-w.queue:
			w.do(ctx, job)
		default:
			return
		}
	}
}

func (w *Writer) do(ctx context.Context, job Job) {
	for attempt := 1; ; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err := job.Run(jobCtx, w.repo)
		cancel()
		if err == nil {
			w.log.Debug("write done", zap.String("job", job.Name), zap.Int("attempt", attempt))
			return
		}
		// Domain errors will fail the same way every time.
		if apperr.KindOf(err) != apperr.KindInternal || attempt == maxAttempts || ctx.Err() != nil {
			w.log.Error("write failed", zap.String("job", job.Name), zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		w.log.Warn("write failed, retrying", zap.String("job", job.Name), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(w.backoff * time.Duration(attempt)):
		}
	}
}

func RecordLeaderboard(entries []models.LeaderboardEntry) Job {
	return Job{Name: "leaderboard", Run: func(ctx context.Context, repo repository.Repository) error {
		return repo.RecordLeaderboard(ctx, entries)
	}}
}

func GrantRewards(ids []string, reward models.Reward) Job {
	return Job{Name: "rewards", Run: func(ctx context.Context, repo repository.Repository) error {
		return repo.GrantRewards(ctx, ids, reward)
	}}
}

func RecordOutcome(o models.RaidOutcome) Job {
	return Job{Name: "outcome", Run: func(ctx context.Context, repo repository.Repository) error {
		return repo.RecordOutcome(ctx, o)
	}}
}
