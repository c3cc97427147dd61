package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/models"
)

type InMemoryRepository struct {
	mu          sync.Mutex
	characters  map[string]models.Character
	leaderboard []models.LeaderboardEntry
	outcomes    []models.RaidOutcome
	nextID      uint
	now         func() time.Time
}

func NewInMemoryRepository(seed ...models.Character) *InMemoryRepository {
	if len(seed) == 0 {
		seed = SampleCharacters()
	}
	r := &InMemoryRepository{
		characters: make(map[string]models.Character, len(seed)),
		nextID:     1,
		now:        time.Now,
	}
	for _, c := range seed {
		r.characters[c.ID] = c
	}
	return r
}

func (r *InMemoryRepository) Character(_ context.Context, id string) (models.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.characters[id]
	if !ok {
		return models.Character{}, apperr.NotFound("character %s not found", id)
	}
	return c, nil
}

func (r *InMemoryRepository) SaveLegacyPoints(_ context.Context, id string, points int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.characters[id]
	if !ok {
		return apperr.NotFound("character %s not found", id)
	}
	c.LegacyPoints = points
	c.UpdatedAt = r.now()
	r.characters[id] = c
	return nil
}

// GrantRewards credits every listed character that exists. Unknown ids are
// skipped; a character deleted mid-raid forfeits its share.
func (r *InMemoryRepository) GrantRewards(_ context.Context, ids []string, reward models.Reward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		c, ok := r.characters[id]
		if !ok {
			continue
		}
		c.XP += reward.XP
		c.LegacyPoints += reward.LegacyPoints
		c.UpdatedAt = r.now()
		r.characters[id] = c
	}
	return nil
}

func (r *InMemoryRepository) RecordLeaderboard(_ context.Context, entries []models.LeaderboardEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		e.ID = r.nextID
		r.nextID++
		e.Players = slices.Clone(e.Players)
		r.leaderboard = append(r.leaderboard, e)
	}
	return nil
}

func (r *InMemoryRepository) Leaderboard(_ context.Context, raidID string, category models.Category, limit int) ([]models.LeaderboardEntry, error) {
	if !category.Valid() {
		return nil, apperr.Validation("unknown leaderboard category %q", category)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.LeaderboardEntry{}
	for _, e := range r.leaderboard {
		if e.RaidID == raidID && e.Category == category {
			e.Players = slices.Clone(e.Players)
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b models.LeaderboardEntry) int {
		c := cmp.Compare(a.Score, b.Score)
		if !category.Ascending() {
			c = -c
		}
		if c != 0 {
			return c
		}
		return a.RecordedAt.Compare(b.RecordedAt)
	})
	if n := limitOrDefault(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *InMemoryRepository) RecordOutcome(_ context.Context, o models.RaidOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.outcomes {
		if existing.InstanceID == o.InstanceID {
			return apperr.StateConflict("outcome for instance %s already recorded", o.InstanceID)
		}
	}
	o.ID = r.nextID
	r.nextID++
	o.Players = slices.Clone(o.Players)
	r.outcomes = append(r.outcomes, o)
	return nil
}

// Outcomes returns a copy of every recorded outcome.
func (r *InMemoryRepository) Outcomes() []models.RaidOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.outcomes)
}
