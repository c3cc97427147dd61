package engine

import (
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
)

const DefaultVoteDuration = 30 * time.Second

// NewRules pins the parts of the catalog one instance of raidID plays by.
func NewRules(cat *catalog.Catalog, raidID, difficulty string, voteDuration time.Duration) (Rules, error) {
	raid, ok := cat.Raid(raidID)
	if !ok {
		return Rules{}, apperr.NotFound("raid %s not found", raidID)
	}
	if difficulty == "" {
		difficulty = "normal"
	}
	tier, ok := raid.Difficulties[difficulty]
	if !ok {
		return Rules{}, apperr.Validation("raid %s has no %s difficulty", raidID, difficulty)
	}
	if voteDuration <= 0 {
		voteDuration = DefaultVoteDuration
	}
	return Rules{
		Raid:          raid,
		Difficulty:    tier,
		Abilities:     cat.Abilities(),
		BossAbilities: cat.BossAbilities(),
		VoteEffects:   cat.VoteEffects(),
		VoteDuration:  voteDuration,
	}, nil
}

// InstanceConfig is everything startRaid knows about a new instance.
type InstanceConfig struct {
	InstanceID        string
	LobbyID           string
	Difficulty        string
	AllowViewerVoting bool
	Rules             Rules
	Players           []Player
	StartedAt         time.Time
}

// NewState builds the ACTIVE phase-0 state. Players arrive as frozen character
// snapshots and start at full health and mana.
func NewState(cfg InstanceConfig) State {
	raid := cfg.Rules.Raid
	hp := max(1, round(float64(raid.Boss.HP)*cfg.Rules.Difficulty.HP))

	players := make([]Player, len(cfg.Players))
	for i, p := range cfg.Players {
		p.CurrentHP = p.MaxHP
		p.CurrentMana = p.MaxMana
		p.Alive = true
		p.Left = false
		p.Statuses = map[string]StatusEffect{}
		players[i] = p
	}

	s := State{
		InstanceID:        cfg.InstanceID,
		LobbyID:           cfg.LobbyID,
		RaidID:            raid.ID,
		Difficulty:        cfg.Difficulty,
		Status:            StatusActive,
		AllowViewerVoting: cfg.AllowViewerVoting,
		Players:           players,
		Boss: Boss{
			Name:     raid.Boss.Name,
			HP:       hp,
			MaxHP:    hp,
			Statuses: map[string]StatusEffect{},
		},
		Buffs:     []Buff{},
		Modifiers: []catalog.Modifier{},
		Stats:     Stats{StartedAt: cfg.StartedAt},
		Rules:     cfg.Rules,
	}
	s.enterPhase(0)
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
