package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/vote"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusWiped     Status = "WIPED"
	StatusAbandoned Status = "ABANDONED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusWiped || s == StatusAbandoned
}

type StatusEffect struct {
	Turns  int `json:"turns"`
	Damage int `json:"damage"`
}

// Player is a snapshot frozen at raid start. Changes to the character outside
// the raid never reach it.
type Player struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Level       int                     `json:"level"`
	Class       string                  `json:"class"`
	Role        catalog.Role            `json:"role"`
	MaxHP       int                     `json:"maxHp"`
	MaxMana     int                     `json:"maxMana"`
	CurrentHP   int                     `json:"currentHp"`
	CurrentMana int                     `json:"currentMana"`
	Attack      int                     `json:"attack"`
	Defense     int                     `json:"defense"`
	Statuses    map[string]StatusEffect `json:"statuses,omitempty"`
	Guarded     bool                    `json:"guarded,omitempty"`
	Alive       bool                    `json:"alive"`
	Left        bool                    `json:"left,omitempty"`
	DamageDealt int                     `json:"damageDealt"`
	HealingDone int                     `json:"healingDone"`
}

func (p Player) Active() bool { return p.Alive && !p.Left }

type Boss struct {
	Name      string                  `json:"name"`
	Phase     int                     `json:"phase"`
	PhaseName string                  `json:"phaseName"`
	HP        int                     `json:"hp"`
	MaxHP     int                     `json:"maxHp"`
	Statuses  map[string]StatusEffect `json:"statuses,omitempty"`
}

type Buff struct {
	Type       string         `json:"type"`
	PlayerID   string         `json:"playerId"`
	Effect     catalog.Effect `json:"effect"`
	Multiplier float64        `json:"multiplier"`
	Cost       int            `json:"cost"`
	AppliedAt  time.Time      `json:"appliedAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}

func (b Buff) ActiveAt(t time.Time) bool { return t.Before(b.ExpiresAt) }

type Stats struct {
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
	Actions   int       `json:"actions"`
}

func (s Stats) Elapsed() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Rules is the immutable slice of the catalog an instance plays by.
type Rules struct {
	Raid          catalog.Raid
	Difficulty    catalog.Difficulty
	Abilities     map[string]catalog.Ability
	BossAbilities map[string]catalog.BossAbility
	VoteEffects   map[string]catalog.VoteEffect
	VoteDuration  time.Duration
}

type State struct {
	InstanceID        string             `json:"instanceId"`
	LobbyID           string             `json:"lobbyId"`
	RaidID            string             `json:"raidId"`
	Difficulty        string             `json:"difficulty"`
	Status            Status             `json:"status"`
	AllowViewerVoting bool               `json:"allowViewerVoting"`
	Players           []Player           `json:"players"`
	Boss              Boss               `json:"boss"`
	Vote              *vote.Window       `json:"voteWindow,omitempty"`
	Buffs             []Buff             `json:"buffs"`
	Modifiers         []catalog.Modifier `json:"modifiers"`
	Stats             Stats              `json:"stats"`
	VoteSeq           int                `json:"-"`
	Rules             Rules              `json:"-"`
}

type CommandType string

const (
	CmdPerformAction   CommandType = "PerformAction"
	CmdAbandon         CommandType = "Abandon"
	CmdOpenVote        CommandType = "OpenVote"
	CmdSubmitVote      CommandType = "SubmitVote"
	CmdResolveVote     CommandType = "ResolveVote"
	CmdApplyBuff       CommandType = "ApplyBuff"
	CmdEnvironmentTick CommandType = "EnvironmentTick"
)

type ActionType string

const (
	ActionAttack  ActionType = "attack"
	ActionAbility ActionType = "ability"
	ActionDefend  ActionType = "defend"
)

type Action struct {
	Type    ActionType `json:"type"`
	Target  string     `json:"target,omitempty"`
	Ability string     `json:"ability,omitempty"`
}

// Command is one mutation request. At is the caller's clock reading; the
// engine never reads the wall clock itself.
type Command struct {
	Type     CommandType
	PlayerID string
	At       time.Time

	Actions []Action // PerformAction

	Options  []string      // OpenVote
	Duration time.Duration // OpenVote
	WindowID string        // ResolveVote
	Ballot   vote.Ballot   // SubmitVote

	Buff catalog.Buff // ApplyBuff

	Phase int // EnvironmentTick
}

type EventType string

const (
	EvtCombatAction    EventType = "raid:combat:action"
	EvtBossPhase       EventType = "raid:boss:phase"
	EvtVotingStarted   EventType = "raid:voting:started"
	EvtVotingResult    EventType = "raid:voting:result"
	EvtBuffApplied     EventType = "raid:buff:applied"
	EvtEnvironmentTick EventType = "raid:environment:tick"
	EvtPlayerDown      EventType = "raid:player:down"
	EvtPlayerLeft      EventType = "raid:player:left"
	EvtRaidEnded       EventType = "raid:ended"
)

type PhaseChange struct {
	From      int                `json:"from"`
	To        int                `json:"to"`
	Name      string             `json:"name"`
	Abilities []string           `json:"abilities"`
	Modifiers []catalog.Modifier `json:"modifiers,omitempty"`
}

type Event struct {
	Type     EventType      `json:"type"`
	PlayerID string         `json:"playerId,omitempty"`
	Delta    *Delta         `json:"delta,omitempty"`
	Phase    *PhaseChange   `json:"phase,omitempty"`
	Vote     *vote.Window   `json:"vote,omitempty"`
	Result   *vote.Result   `json:"result,omitempty"`
	Buff     *Buff          `json:"buff,omitempty"`
	Damage   map[string]int `json:"damage,omitempty"`
	Status   Status         `json:"status,omitempty"`
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error the returned state is s itself.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Status.Terminal() {
		return nil, s, apperr.StateConflict("instance %s is %s", s.InstanceID, s.Status)
	}

	next := s.Clone()
	next.pruneBuffs(cmd.At)

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdPerformAction:
		events, err = next.performActions(cmd)
	case CmdAbandon:
		events, err = next.abandon(cmd)
	case CmdOpenVote:
		events, err = next.openVote(cmd.Options, cmd.Duration, cmd.At)
	case CmdSubmitVote:
		events, err = next.submitVote(cmd)
	case CmdResolveVote:
		events, err = next.resolveVote(cmd)
	case CmdApplyBuff:
		events, err = next.applyBuff(cmd)
	case CmdEnvironmentTick:
		events, err = next.environmentTick(cmd)
	default:
		err = apperr.Validation("unsupported command %q", cmd.Type)
	}
	if err != nil {
		return nil, s, err
	}
	return events, next, nil
}

func (s *State) performActions(cmd Command) ([]Event, error) {
	if len(cmd.Actions) == 0 {
		return nil, apperr.Validation("at least one action is required")
	}
	idx, err := s.actor(cmd.PlayerID)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, a := range cmd.Actions {
		// The actor may fall or the boss may die mid-batch; the rest of the
		// batch is dropped, not failed.
		if !s.Players[idx].Active() || s.Boss.HP <= 0 {
			break
		}
		delta, err := s.resolve(idx, a, cmd.At)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{Type: EvtCombatAction, PlayerID: cmd.PlayerID, Delta: &delta})
		for _, id := range delta.Downed {
			events = append(events, Event{Type: EvtPlayerDown, PlayerID: id})
		}
	}

	events = append(events, s.checkPhase(cmd.At)...)
	events = append(events, s.checkTerminal(cmd.At)...)
	return events, nil
}

func (s *State) abandon(cmd Command) ([]Event, error) {
	idx := s.playerIndex(cmd.PlayerID)
	if idx < 0 {
		return nil, apperr.Authorization("player %s is not part of instance %s", cmd.PlayerID, s.InstanceID)
	}
	if s.Players[idx].Left {
		return nil, apperr.StateConflict("player %s already left instance %s", cmd.PlayerID, s.InstanceID)
	}
	s.Players[idx].Left = true
	s.Players[idx].Guarded = false

	events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID}}
	if s.activePlayers() == 0 {
		events = append(events, s.end(StatusAbandoned, cmd.At)...)
	}
	return events, nil
}

func (s *State) environmentTick(cmd Command) ([]Event, error) {
	if cmd.Phase != s.Boss.Phase {
		return nil, apperr.StateConflict("environment tick for phase %d but boss is in phase %d", cmd.Phase, s.Boss.Phase)
	}
	env := s.Rules.Raid.Phases[s.Boss.Phase].Environment
	if env == nil || env.TickDamage <= 0 {
		return nil, apperr.StateConflict("phase %d has no environmental damage", s.Boss.Phase)
	}

	mult := s.multiplier(catalog.EffectEnvironmentDamage, "", cmd.At)
	damage := map[string]int{}
	var downed []string
	for i := range s.Players {
		p := &s.Players[i]
		if !p.Active() {
			continue
		}
		dmg := max(1, round(float64(env.TickDamage)*mult*s.multiplier(catalog.EffectDamageTaken, p.ID, cmd.At)))
		if s.hurtPlayer(i, dmg) {
			downed = append(downed, p.ID)
		}
		damage[p.ID] = dmg
	}

	events := []Event{{Type: EvtEnvironmentTick, Damage: damage}}
	for _, id := range downed {
		events = append(events, Event{Type: EvtPlayerDown, PlayerID: id})
	}
	events = append(events, s.checkTerminal(cmd.At)...)
	return events, nil
}

func (s *State) checkTerminal(at time.Time) []Event {
	if s.Boss.HP <= 0 && s.Boss.Phase == len(s.Rules.Raid.Phases)-1 {
		return s.end(StatusCompleted, at)
	}
	if s.activePlayers() == 0 {
		return s.end(StatusWiped, at)
	}
	return nil
}

func (s *State) end(status Status, at time.Time) []Event {
	s.Status = status
	s.Stats.EndedAt = at
	s.Vote = nil
	for i := range s.Players {
		s.Players[i].Guarded = false
	}
	return []Event{{Type: EvtRaidEnded, Status: status}}
}

// actor resolves the acting player or reports why they may not act.
func (s *State) actor(playerID string) (int, error) {
	idx := s.playerIndex(playerID)
	if idx < 0 {
		return -1, apperr.Authorization("player %s is not part of instance %s", playerID, s.InstanceID)
	}
	p := s.Players[idx]
	if p.Left {
		return -1, apperr.StateConflict("player %s has left the raid", playerID)
	}
	if !p.Alive {
		return -1, apperr.StateConflict("player %s is incapacitated", playerID)
	}
	return idx, nil
}

func (s *State) playerIndex(id string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
}

func (s *State) activePlayers() int {
	n := 0
	for _, p := range s.Players {
		if p.Active() {
			n++
		}
	}
	return n
}

func (s *State) multiplier(effect catalog.Effect, playerID string, at time.Time) float64 {
	m := 1.0
	for _, mod := range s.Modifiers {
		if mod.Effect == effect {
			m *= mod.Multiplier
		}
	}
	for _, b := range s.Buffs {
		if b.Effect == effect && b.PlayerID == playerID && b.ActiveAt(at) {
			m *= b.Multiplier
		}
	}
	return m
}

func (s *State) pruneBuffs(at time.Time) {
	if at.IsZero() {
		return
	}
	s.Buffs = slices.DeleteFunc(s.Buffs, func(b Buff) bool { return !b.ActiveAt(at) })
}

func (s State) String() string {
	return fmt.Sprintf("instance %s [%s] boss %d/%d phase %d", s.InstanceID, s.Status, s.Boss.HP, s.Boss.MaxHP, s.Boss.Phase)
}
