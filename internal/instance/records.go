package instance

import (
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/models"
)

// Records derives the end-of-raid writes from a terminal state: the analytics
// outcome, one leaderboard entry per category, and the reward owed to each
// player who stayed to the end. Entries and rewards only apply to clears.
func Records(s engine.State) (models.RaidOutcome, []models.LeaderboardEntry, models.Reward, []string) {
	ids := make([]string, 0, len(s.Players))
	var stayed []string
	topDamage := 0
	for _, p := range s.Players {
		ids = append(ids, p.ID)
		if !p.Left {
			stayed = append(stayed, p.ID)
		}
		topDamage = max(topDamage, p.DamageDealt)
	}
	elapsed := s.Stats.Elapsed().Milliseconds()

	outcome := models.RaidOutcome{
		InstanceID: s.InstanceID,
		LobbyID:    s.LobbyID,
		RaidID:     s.RaidID,
		Difficulty: s.Difficulty,
		Status:     string(s.Status),
		ElapsedMS:  elapsed,
		Actions:    s.Stats.Actions,
		Players:    ids,
		RecordedAt: s.Stats.EndedAt,
	}
	if s.Status != engine.StatusCompleted {
		return outcome, nil, models.Reward{}, nil
	}

	scores := map[models.Category]int64{
		models.CategoryFastestClear:  elapsed,
		models.CategoryFewestActions: int64(s.Stats.Actions),
		models.CategoryTopDamage:     int64(topDamage),
	}
	entries := make([]models.LeaderboardEntry, 0, len(models.Categories))
	for _, c := range models.Categories {
		entries = append(entries, models.LeaderboardEntry{
			RaidID:     s.RaidID,
			Category:   c,
			InstanceID: s.InstanceID,
			Difficulty: s.Difficulty,
			Players:    ids,
			Score:      scores[c],
			ElapsedMS:  elapsed,
			RecordedAt: s.Stats.EndedAt,
		})
	}
	r := s.Rules.Raid.Rewards
	return outcome, entries, models.Reward{XP: r.XP, LegacyPoints: r.LegacyPoints}, stayed
}
