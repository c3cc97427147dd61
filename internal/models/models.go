package models

import "time"

// Character is a player's persistent profile. Raids read it once at start and
// never write combat state back; only legacy points and xp change here.
type Character struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name         string    `json:"name"`
	Level        int       `json:"level"`
	Class        string    `json:"class" gorm:"type:varchar(32)"`
	MaxHP        int       `json:"maxHp"`
	MaxMana      int       `json:"maxMana"`
	Attack       int       `json:"attack"`
	Defense      int       `json:"defense"`
	LegacyPoints int       `json:"legacyPoints"`
	XP           int       `json:"xp"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Category string

const (
	CategoryFastestClear  Category = "fastest_clear"
	CategoryFewestActions Category = "fewest_actions"
	CategoryTopDamage     Category = "top_damage"
)

var Categories = []Category{CategoryFastestClear, CategoryFewestActions, CategoryTopDamage}

func (c Category) Valid() bool {
	return c == CategoryFastestClear || c == CategoryFewestActions || c == CategoryTopDamage
}

// Ascending reports whether a lower score ranks higher.
func (c Category) Ascending() bool {
	return c != CategoryTopDamage
}

type LeaderboardEntry struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	RaidID     string    `json:"raidId" gorm:"index:idx_board;type:varchar(64)"`
	Category   Category  `json:"category" gorm:"index:idx_board;type:varchar(32)"`
	InstanceID string    `json:"instanceId" gorm:"type:varchar(36)"`
	Difficulty string    `json:"difficulty" gorm:"type:varchar(32)"`
	Players    []string  `json:"players" gorm:"serializer:json"`
	Score      int64     `json:"score"`
	ElapsedMS  int64     `json:"elapsedMs"`
	RecordedAt time.Time `json:"recordedAt"`
}

// RaidOutcome is the analytics row written for every instance that ends,
// whatever the result.
type RaidOutcome struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	InstanceID string    `json:"instanceId" gorm:"uniqueIndex;type:varchar(36)"`
	LobbyID    string    `json:"lobbyId" gorm:"type:varchar(16)"`
	RaidID     string    `json:"raidId" gorm:"index;type:varchar(64)"`
	Difficulty string    `json:"difficulty" gorm:"type:varchar(32)"`
	Status     string    `json:"status" gorm:"type:varchar(16)"`
	ElapsedMS  int64     `json:"elapsedMs"`
	Actions    int       `json:"actions"`
	Players    []string  `json:"players" gorm:"serializer:json"`
	RecordedAt time.Time `json:"recordedAt"`
}

type Reward struct {
	XP           int `json:"xp"`
	LegacyPoints int `json:"legacyPoints"`
}
