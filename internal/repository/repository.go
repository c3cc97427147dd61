package repository

import (
	"context"

	"github.com/DoyleJ11/raidhall/internal/models"
)

const DefaultLeaderboardLimit = 10

// Repository is everything the raid engine needs from durable storage.
type Repository interface {
	Character(ctx context.Context, id string) (models.Character, error)
	SaveLegacyPoints(ctx context.Context, id string, points int) error
	GrantRewards(ctx context.Context, ids []string, reward models.Reward) error
	RecordLeaderboard(ctx context.Context, entries []models.LeaderboardEntry) error
	Leaderboard(ctx context.Context, raidID string, category models.Category, limit int) ([]models.LeaderboardEntry, error)
	RecordOutcome(ctx context.Context, outcome models.RaidOutcome) error
}

// SampleCharacters seeds fresh stores so a local raid can be played end to end.
func SampleCharacters() []models.Character {
	return []models.Character{
		{ID: "lyra", Name: "Lyra Emberfist", Level: 8, Class: "warrior", MaxHP: 220, MaxMana: 50, Attack: 34, Defense: 9, LegacyPoints: 12},
		{ID: "pell", Name: "Pell of the Vale", Level: 7, Class: "cleric", MaxHP: 160, MaxMana: 90, Attack: 18, Defense: 5, LegacyPoints: 6},
		{ID: "mira", Name: "Mira Quickfrost", Level: 9, Class: "mage", MaxHP: 140, MaxMana: 120, Attack: 22, Defense: 3, LegacyPoints: 20},
		{ID: "tor", Name: "Tor Brightshield", Level: 8, Class: "paladin", MaxHP: 240, MaxMana: 60, Attack: 26, Defense: 12, LegacyPoints: 3},
		{ID: "sly", Name: "Sly Nettle", Level: 6, Class: "rogue", MaxHP: 150, MaxMana: 60, Attack: 30, Defense: 4, LegacyPoints: 0},
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	return limit
}
