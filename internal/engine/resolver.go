package engine

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
)

const (
	vulnerabilityBonus = 1.5
	defendManaRegen    = 0.1
)

// Delta is what one action did to the encounter.
type Delta struct {
	PlayerID      string         `json:"playerId"`
	Action        Action         `json:"action"`
	BossDamage    int            `json:"bossDamage"`
	Healing       int            `json:"healing,omitempty"`
	HealTarget    string         `json:"healTarget,omitempty"`
	ManaSpent     int            `json:"manaSpent,omitempty"`
	ManaRestored  int            `json:"manaRestored,omitempty"`
	StatusApplied string         `json:"statusApplied,omitempty"`
	BossAbility   string         `json:"bossAbility,omitempty"`
	PlayerDamage  map[string]int `json:"playerDamage,omitempty"`
	Downed        []string       `json:"downed,omitempty"`
	BossHP        int            `json:"bossHp"`
}

// Deltas collects the combat deltas carried by events.
func Deltas(events []Event) []Delta {
	var out []Delta
	for _, e := range events {
		if e.Type == EvtCombatAction && e.Delta != nil {
			out = append(out, *e.Delta)
		}
	}
	return out
}

// resolve applies one player action followed by the boss's turn.
func (s *State) resolve(idx int, a Action, at time.Time) (Delta, error) {
	p := &s.Players[idx]
	d := Delta{PlayerID: p.ID, Action: a, PlayerDamage: map[string]int{}}

	switch a.Type {
	case ActionAttack:
		if a.Target != "" && a.Target != "boss" {
			return Delta{}, apperr.Validation("attack target must be the boss")
		}
		d.BossDamage += s.damageBoss(s.playerHit(p, p.Attack, "", at))

	case ActionAbility:
		ab, ok := s.Rules.Abilities[a.Ability]
		if !ok {
			return Delta{}, apperr.Validation("unknown ability %q", a.Ability)
		}
		if !ab.UsableBy(p.Class) {
			return Delta{}, apperr.Validation("%s cannot use %s", p.Class, ab.Name)
		}
		if p.CurrentMana < ab.ManaCost {
			return Delta{}, apperr.Validation("not enough mana for %s (%d/%d)", ab.Name, p.CurrentMana, ab.ManaCost)
		}
		switch ab.Kind {
		case "damage":
			if a.Target != "" && a.Target != "boss" {
				return Delta{}, apperr.Validation("%s must target the boss", ab.Name)
			}
			d.BossDamage += s.damageBoss(s.playerHit(p, p.Attack+ab.Power, ab.Element, at))
			if ab.Status != nil && s.Boss.HP > 0 {
				s.Boss.Statuses[ab.Status.Name] = StatusEffect{
					Turns:  max(ab.Status.Turns, s.Boss.Statuses[ab.Status.Name].Turns),
					Damage: ab.Status.Damage,
				}
				d.StatusApplied = ab.Status.Name
			}
		case "heal":
			target := idx
			if a.Target != "" && a.Target != p.ID {
				target = s.playerIndex(a.Target)
				if target < 0 || !s.Players[target].Active() {
					return Delta{}, apperr.Validation("heal target %s is not an active raid member", a.Target)
				}
			}
			t := &s.Players[target]
			amount := round(float64(ab.Power) * s.multiplier(catalog.EffectHealing, p.ID, at))
			amount = min(amount, t.MaxHP-t.CurrentHP)
			t.CurrentHP += amount
			p.HealingDone += amount
			d.Healing = amount
			d.HealTarget = t.ID
		}
		p.CurrentMana -= ab.ManaCost
		d.ManaSpent = ab.ManaCost

	case ActionDefend:
		p.Guarded = true
		regen := min(round(float64(p.MaxMana)*defendManaRegen), p.MaxMana-p.CurrentMana)
		p.CurrentMana += regen
		d.ManaRestored = regen

	default:
		return Delta{}, apperr.Validation("unknown action type %q", a.Type)
	}

	s.Stats.Actions++
	p.DamageDealt += d.BossDamage

	// DoT on the boss is credited to whoever's turn it ticks on.
	dot := s.tickBossStatuses()
	d.BossDamage += dot
	p.DamageDealt += dot

	if s.Boss.HP > 0 {
		s.bossTurn(idx, &d, at)
	}
	d.BossHP = s.Boss.HP
	return d, nil
}

// playerHit is the damage a player deals to the boss before HP floors apply.
func (s *State) playerHit(p *Player, base int, element string, at time.Time) int {
	dmg := float64(base) * s.multiplier(catalog.EffectPlayerDamage, p.ID, at)
	if element != "" && slices.Contains(s.Rules.Raid.Boss.Vulnerabilities, element) {
		dmg *= vulnerabilityBonus
	}
	out := round(dmg)
	if element != "" {
		out -= s.Rules.Raid.Boss.Resistances[element]
	}
	return max(1, out)
}

// damageBoss removes up to dmg HP and returns what was removed. Until the final
// phase is reached the boss cannot drop below 1 HP.
func (s *State) damageBoss(dmg int) int {
	floor := 0
	if s.Boss.Phase < len(s.Rules.Raid.Phases)-1 {
		floor = 1
	}
	applied := max(0, min(dmg, s.Boss.HP-floor))
	s.Boss.HP -= applied
	return applied
}

func (s *State) tickBossStatuses() int {
	total := 0
	for _, name := range slices.Sorted(maps.Keys(s.Boss.Statuses)) {
		st := s.Boss.Statuses[name]
		total += s.damageBoss(st.Damage)
		st.Turns--
		if st.Turns <= 0 {
			delete(s.Boss.Statuses, name)
		} else {
			s.Boss.Statuses[name] = st
		}
	}
	return total
}

// bossTurn runs the current phase's next ability, then ticks player statuses.
func (s *State) bossTurn(actor int, d *Delta, at time.Time) {
	ab := s.nextBossAbility()
	d.BossAbility = ab.ID

	var targets []int
	if ab.Target == "all" {
		for i, p := range s.Players {
			if p.Active() {
				targets = append(targets, i)
			}
		}
	} else if t := s.singleTarget(actor); t >= 0 {
		targets = []int{t}
	}

	base := float64(ab.Power) * s.Rules.Difficulty.Damage * s.multiplier(catalog.EffectBossDamage, "", at)
	for _, i := range targets {
		p := &s.Players[i]
		hit := base * s.multiplier(catalog.EffectDamageTaken, p.ID, at)
		if p.Guarded {
			hit /= 2
		}
		dmg := max(1, round(hit)-p.Defense)
		d.PlayerDamage[p.ID] += dmg
		if s.hurtPlayer(i, dmg) {
			d.Downed = append(d.Downed, p.ID)
			continue
		}
		if ab.Status != nil {
			p.Statuses[ab.Status.Name] = StatusEffect{
				Turns:  max(ab.Status.Turns, p.Statuses[ab.Status.Name].Turns),
				Damage: ab.Status.Damage,
			}
		}
	}
	for i := range s.Players {
		s.Players[i].Guarded = false
	}

	for i := range s.Players {
		p := &s.Players[i]
		if !p.Active() {
			continue
		}
		for _, name := range slices.Sorted(maps.Keys(p.Statuses)) {
			st := p.Statuses[name]
			d.PlayerDamage[p.ID] += st.Damage
			st.Turns--
			if st.Turns <= 0 {
				delete(p.Statuses, name)
			} else {
				p.Statuses[name] = st
			}
			if s.hurtPlayer(i, st.Damage) {
				d.Downed = append(d.Downed, p.ID)
				break
			}
		}
	}
}

// singleTarget prefers the actor, falling back to the first standing player.
func (s *State) singleTarget(actor int) int {
	if s.Players[actor].Active() {
		return actor
	}
	return slices.IndexFunc(s.Players, Player.Active)
}

// hurtPlayer applies dmg and reports whether it took the player down.
func (s *State) hurtPlayer(i int, dmg int) bool {
	p := &s.Players[i]
	if !p.Alive {
		return false
	}
	p.CurrentHP = max(0, p.CurrentHP-dmg)
	if p.CurrentHP == 0 {
		p.Alive = false
		p.Guarded = false
		clear(p.Statuses)
		return true
	}
	return false
}

func round(f float64) int {
	return int(math.Round(f))
}
