package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed data/raids.yaml
var defaultData []byte

type Role string

const (
	RoleTank   Role = "tank"
	RoleHealer Role = "healer"
	RoleDPS    Role = "dps"
)

func (r Role) Valid() bool {
	return r == RoleTank || r == RoleHealer || r == RoleDPS
}

// Effect names the quantity a modifier or buff multiplies.
type Effect string

const (
	EffectPlayerDamage      Effect = "player_damage"
	EffectBossDamage        Effect = "boss_damage"
	EffectHealing           Effect = "healing"
	EffectDamageTaken       Effect = "damage_taken"
	EffectEnvironmentDamage Effect = "environment_damage"
)

func (e Effect) Valid() bool {
	switch e {
	case EffectPlayerDamage, EffectBossDamage, EffectHealing, EffectDamageTaken, EffectEnvironmentDamage:
		return true
	}
	return false
}

type Modifier struct {
	Effect     Effect  `yaml:"effect" json:"effect"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Source     string  `yaml:"-" json:"source,omitempty"`
}

type Status struct {
	Name   string `yaml:"name" json:"name"`
	Turns  int    `yaml:"turns" json:"turns"`
	Damage int    `yaml:"damage" json:"damage"`
}

type Environment struct {
	Name         string        `yaml:"name" json:"name"`
	TickInterval time.Duration `yaml:"tick_interval" json:"tickInterval"`
	TickDamage   int           `yaml:"tick_damage" json:"tickDamage"`
}

type Phase struct {
	Name        string       `yaml:"name" json:"name"`
	Threshold   float64      `yaml:"threshold" json:"threshold"`
	Abilities   []string     `yaml:"abilities" json:"abilities"`
	Modifiers   []Modifier   `yaml:"modifiers" json:"modifiers,omitempty"`
	Environment *Environment `yaml:"environment" json:"environment,omitempty"`
	VoteOptions []string     `yaml:"vote_options" json:"voteOptions,omitempty"`
}

type Difficulty struct {
	HP     float64 `yaml:"hp" json:"hp"`
	Damage float64 `yaml:"damage" json:"damage"`
}

type Boss struct {
	Name            string         `yaml:"name" json:"name"`
	HP              int            `yaml:"hp" json:"hp"`
	Vulnerabilities []string       `yaml:"vulnerabilities" json:"vulnerabilities,omitempty"`
	Resistances     map[string]int `yaml:"resistances" json:"resistances,omitempty"`
}

type Rewards struct {
	XP           int `yaml:"xp" json:"xp"`
	LegacyPoints int `yaml:"legacy_points" json:"legacyPoints"`
}

type Raid struct {
	ID           string                `yaml:"id" json:"id"`
	Name         string                `yaml:"name" json:"name"`
	MinPlayers   int                   `yaml:"min_players" json:"minPlayers"`
	MaxPlayers   int                   `yaml:"max_players" json:"maxPlayers"`
	Locations    []string              `yaml:"locations" json:"locations"`
	RoleQuota    map[Role]int          `yaml:"role_quota" json:"roleQuota,omitempty"`
	Boss         Boss                  `yaml:"boss" json:"boss"`
	Difficulties map[string]Difficulty `yaml:"difficulties" json:"difficulties"`
	Phases       []Phase               `yaml:"phases" json:"phases"`
	Rewards      Rewards               `yaml:"rewards" json:"rewards"`
}

func (r Raid) AllowsLocation(location string) bool {
	return slices.Contains(r.Locations, location)
}

// RoleSlots is how many members may hold role. Tank and healer slots come from
// the quota; dps takes whatever capacity is left.
func (r Raid) RoleSlots(role Role) int {
	if role == RoleDPS {
		reserved := 0
		for _, n := range r.RoleQuota {
			reserved += n
		}
		return r.MaxPlayers - reserved
	}
	return r.RoleQuota[role]
}

type Ability struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Kind     string   `yaml:"kind" json:"kind"` // "damage" | "heal"
	Power    int      `yaml:"power" json:"power"`
	ManaCost int      `yaml:"mana_cost" json:"manaCost"`
	Element  string   `yaml:"element" json:"element,omitempty"`
	Classes  []string `yaml:"classes" json:"classes"`
	Status   *Status  `yaml:"status" json:"status,omitempty"`
}

func (a Ability) UsableBy(class string) bool {
	return len(a.Classes) == 0 || slices.Contains(a.Classes, class)
}

type BossAbility struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Target string  `yaml:"target" json:"target"` // "single" | "all"
	Power  int     `yaml:"power" json:"power"`
	Status *Status `yaml:"status" json:"status,omitempty"`
}

type Buff struct {
	Type        string        `yaml:"type" json:"type"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Cost        int           `yaml:"cost" json:"cost"`
	Effect      Effect        `yaml:"effect" json:"effect"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
	Duration    time.Duration `yaml:"duration" json:"duration"`
}

type VoteEffect struct {
	Option      string   `yaml:"option" json:"option"`
	Description string   `yaml:"description" json:"description"`
	Modifier    Modifier `yaml:"modifier" json:"modifier"`
}

// Definitions is the on-disk shape of the catalog.
type Definitions struct {
	Raids         []Raid        `yaml:"raids"`
	Abilities     []Ability     `yaml:"abilities"`
	BossAbilities []BossAbility `yaml:"boss_abilities"`
	Buffs         []Buff        `yaml:"buffs"`
	VoteEffects   []VoteEffect  `yaml:"vote_effects"`
}

// Catalog is read-only after construction; every accessor hands out copies.
type Catalog struct {
	raids         map[string]Raid
	raidOrder     []string
	abilities     map[string]Ability
	bossAbilities map[string]BossAbility
	buffs         map[string]Buff
	buffOrder     []string
	voteEffects   map[string]VoteEffect
}

var ErrInvalidCatalog = errors.New("invalid catalog")

func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultData))
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	var defs Definitions
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(defs)
}

func New(defs Definitions) (*Catalog, error) {
	c := &Catalog{
		raids:         make(map[string]Raid, len(defs.Raids)),
		abilities:     make(map[string]Ability, len(defs.Abilities)),
		bossAbilities: make(map[string]BossAbility, len(defs.BossAbilities)),
		buffs:         make(map[string]Buff, len(defs.Buffs)),
		voteEffects:   make(map[string]VoteEffect, len(defs.VoteEffects)),
	}

	for _, a := range defs.Abilities {
		if _, dup := c.abilities[a.ID]; dup || a.ID == "" {
			return nil, fmt.Errorf("%w: ability id %q empty or duplicated", ErrInvalidCatalog, a.ID)
		}
		if a.Kind != "damage" && a.Kind != "heal" {
			return nil, fmt.Errorf("%w: ability %s has unknown kind %q", ErrInvalidCatalog, a.ID, a.Kind)
		}
		c.abilities[a.ID] = a
	}
	for _, a := range defs.BossAbilities {
		if _, dup := c.bossAbilities[a.ID]; dup || a.ID == "" {
			return nil, fmt.Errorf("%w: boss ability id %q empty or duplicated", ErrInvalidCatalog, a.ID)
		}
		if a.Target != "single" && a.Target != "all" {
			return nil, fmt.Errorf("%w: boss ability %s has unknown target %q", ErrInvalidCatalog, a.ID, a.Target)
		}
		c.bossAbilities[a.ID] = a
	}
	for _, b := range defs.Buffs {
		if _, dup := c.buffs[b.Type]; dup || b.Type == "" {
			return nil, fmt.Errorf("%w: buff type %q empty or duplicated", ErrInvalidCatalog, b.Type)
		}
		if b.Cost <= 0 || b.Duration <= 0 || b.Multiplier <= 0 || !b.Effect.Valid() {
			return nil, fmt.Errorf("%w: buff %s needs positive cost, duration, multiplier and a known effect", ErrInvalidCatalog, b.Type)
		}
		c.buffs[b.Type] = b
		c.buffOrder = append(c.buffOrder, b.Type)
	}
	for _, v := range defs.VoteEffects {
		if _, dup := c.voteEffects[v.Option]; dup || v.Option == "" {
			return nil, fmt.Errorf("%w: vote option %q empty or duplicated", ErrInvalidCatalog, v.Option)
		}
		if !v.Modifier.Effect.Valid() || v.Modifier.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: vote option %s has an invalid modifier", ErrInvalidCatalog, v.Option)
		}
		c.voteEffects[v.Option] = v
	}
	for _, r := range defs.Raids {
		if err := c.validateRaid(r); err != nil {
			return nil, err
		}
		c.raids[r.ID] = r
		c.raidOrder = append(c.raidOrder, r.ID)
	}
	return c, nil
}

func (c *Catalog) validateRaid(r Raid) error {
	if r.ID == "" {
		return fmt.Errorf("%w: raid without id", ErrInvalidCatalog)
	}
	if _, dup := c.raids[r.ID]; dup {
		return fmt.Errorf("%w: duplicate raid %s", ErrInvalidCatalog, r.ID)
	}
	if r.MinPlayers < 1 || r.MaxPlayers < r.MinPlayers {
		return fmt.Errorf("%w: raid %s has bad player limits %d-%d", ErrInvalidCatalog, r.ID, r.MinPlayers, r.MaxPlayers)
	}
	// Lobbies stop taking members once READY, so seats above the minimum
	// could never be filled.
	if r.MaxPlayers != r.MinPlayers {
		return fmt.Errorf("%w: raid %s max_players %d is unreachable above min_players %d", ErrInvalidCatalog, r.ID, r.MaxPlayers, r.MinPlayers)
	}
	if len(r.Locations) == 0 {
		return fmt.Errorf("%w: raid %s has no spawn locations", ErrInvalidCatalog, r.ID)
	}
	if r.Boss.HP <= 0 {
		return fmt.Errorf("%w: raid %s boss needs positive hp", ErrInvalidCatalog, r.ID)
	}
	if len(r.Difficulties) == 0 {
		return fmt.Errorf("%w: raid %s has no difficulty tiers", ErrInvalidCatalog, r.ID)
	}
	for name, d := range r.Difficulties {
		if d.HP <= 0 || d.Damage <= 0 {
			return fmt.Errorf("%w: raid %s difficulty %s needs positive multipliers", ErrInvalidCatalog, r.ID, name)
		}
	}
	reserved := 0
	for role, n := range r.RoleQuota {
		if role != RoleTank && role != RoleHealer {
			return fmt.Errorf("%w: raid %s quota names role %q", ErrInvalidCatalog, r.ID, role)
		}
		reserved += n
	}
	if reserved > r.MaxPlayers {
		return fmt.Errorf("%w: raid %s reserves more role slots than players", ErrInvalidCatalog, r.ID)
	}
	if len(r.Phases) == 0 {
		return fmt.Errorf("%w: raid %s has no phases", ErrInvalidCatalog, r.ID)
	}
	prev := 1.0
	for i, p := range r.Phases {
		if i == 0 && p.Threshold != 1.0 {
			return fmt.Errorf("%w: raid %s first phase must start at threshold 1.0", ErrInvalidCatalog, r.ID)
		}
		if i > 0 && (p.Threshold <= 0 || p.Threshold >= prev) {
			return fmt.Errorf("%w: raid %s phase %d threshold must decrease within (0,1)", ErrInvalidCatalog, r.ID, i)
		}
		prev = p.Threshold
		if len(p.Abilities) == 0 {
			return fmt.Errorf("%w: raid %s phase %d has no abilities", ErrInvalidCatalog, r.ID, i)
		}
		for _, id := range p.Abilities {
			if _, ok := c.bossAbilities[id]; !ok {
				return fmt.Errorf("%w: raid %s phase %d references unknown ability %s", ErrInvalidCatalog, r.ID, i, id)
			}
		}
		for _, m := range p.Modifiers {
			if !m.Effect.Valid() || m.Multiplier <= 0 {
				return fmt.Errorf("%w: raid %s phase %d has an invalid modifier", ErrInvalidCatalog, r.ID, i)
			}
		}
		for _, opt := range p.VoteOptions {
			if _, ok := c.voteEffects[opt]; !ok {
				return fmt.Errorf("%w: raid %s phase %d references unknown vote option %s", ErrInvalidCatalog, r.ID, i, opt)
			}
		}
	}
	return nil
}

func (c *Catalog) Raid(id string) (Raid, bool) {
	r, ok := c.raids[id]
	if !ok {
		return Raid{}, false
	}
	return r.clone(), true
}

func (c *Catalog) Raids() []Raid {
	out := make([]Raid, 0, len(c.raidOrder))
	for _, id := range c.raidOrder {
		out = append(out, c.raids[id].clone())
	}
	return out
}

func (c *Catalog) RaidsAt(location string) []Raid {
	var out []Raid
	for _, id := range c.raidOrder {
		if r := c.raids[id]; r.AllowsLocation(location) {
			out = append(out, r.clone())
		}
	}
	return out
}

func (c *Catalog) Buff(buffType string) (Buff, bool) {
	b, ok := c.buffs[buffType]
	return b, ok
}

func (c *Catalog) Buffs() []Buff {
	out := make([]Buff, 0, len(c.buffOrder))
	for _, t := range c.buffOrder {
		out = append(out, c.buffs[t])
	}
	return out
}

func (c *Catalog) Abilities() map[string]Ability {
	return maps.Clone(c.abilities)
}

func (c *Catalog) BossAbilities() map[string]BossAbility {
	return maps.Clone(c.bossAbilities)
}

func (c *Catalog) VoteEffects() map[string]VoteEffect {
	return maps.Clone(c.voteEffects)
}

func (r Raid) clone() Raid {
	out := r
	out.Locations = slices.Clone(r.Locations)
	out.RoleQuota = maps.Clone(r.RoleQuota)
	out.Difficulties = maps.Clone(r.Difficulties)
	out.Boss.Vulnerabilities = slices.Clone(r.Boss.Vulnerabilities)
	out.Boss.Resistances = maps.Clone(r.Boss.Resistances)
	out.Phases = make([]Phase, len(r.Phases))
	for i, p := range r.Phases {
		p.Abilities = slices.Clone(p.Abilities)
		p.Modifiers = slices.Clone(p.Modifiers)
		p.VoteOptions = slices.Clone(p.VoteOptions)
		if p.Environment != nil {
			env := *p.Environment
			p.Environment = &env
		}
		out.Phases[i] = p
	}
	return out
}
