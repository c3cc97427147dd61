package catalog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsEmbeddedRaids(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	r, ok := c.Raid("goblin_siege")
	require.True(t, ok)
	assert.Equal(t, 2, r.MaxPlayers)
	assert.Equal(t, 500, r.Boss.HP)
	assert.True(t, r.AllowsLocation("town_entrance"))
	assert.Len(t, r.Phases, 2)
	assert.Equal(t, 1, r.RoleSlots(RoleHealer))
	assert.Equal(t, 1, r.RoleSlots(RoleDPS))
	assert.Equal(t, 0, r.RoleSlots(RoleTank))

	dragon, ok := c.Raid("dragon_lair")
	require.True(t, ok)
	assert.Equal(t, dragon.MinPlayers, dragon.MaxPlayers)
	assert.Equal(t, 2, dragon.RoleSlots(RoleDPS))
	require.NotNil(t, dragon.Phases[1].Environment)
	assert.Equal(t, 5*time.Second, dragon.Phases[1].Environment.TickInterval)

	b, ok := c.Buff("battle_fury")
	require.True(t, ok)
	assert.Equal(t, time.Minute, b.Duration)
	assert.Len(t, c.Buffs(), 3)
}

func TestRaidsAt_FiltersByLocation(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	at := c.RaidsAt("graveyard")
	require.Len(t, at, 1)
	assert.Equal(t, "crypt_of_whispers", at[0].ID)
	assert.Empty(t, c.RaidsAt("nowhere"))
}

func TestRaid_ReturnsCopies(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	r, _ := c.Raid("goblin_siege")
	r.Locations[0] = "mutated"
	r.Phases[0].Abilities[0] = "mutated"
	r.RoleQuota[RoleHealer] = 9

	again, _ := c.Raid("goblin_siege")
	assert.Equal(t, "town_entrance", again.Locations[0])
	assert.Equal(t, "club_swing", again.Phases[0].Abilities[0])
	assert.Equal(t, 1, again.RoleQuota[RoleHealer])
}

func TestLoad_RejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "threshold does not decrease",
			yaml: `
boss_abilities: [{id: hit, name: Hit, target: single, power: 1}]
raids:
  - id: r
    min_players: 1
    max_players: 1
    locations: [a]
    boss: {name: B, hp: 10}
    difficulties: {normal: {hp: 1, damage: 1}}
    phases:
      - {name: one, threshold: 1.0, abilities: [hit]}
      - {name: two, threshold: 1.0, abilities: [hit]}
`,
		},
		{
			name: "unknown boss ability",
			yaml: `
raids:
  - id: r
    min_players: 1
    max_players: 1
    locations: [a]
    boss: {name: B, hp: 10}
    difficulties: {normal: {hp: 1, damage: 1}}
    phases:
      - {name: one, threshold: 1.0, abilities: [missing]}
`,
		},
		{
			name: "quota larger than raid",
			yaml: `
boss_abilities: [{id: hit, name: Hit, target: single, power: 1}]
raids:
  - id: r
    min_players: 1
    max_players: 1
    locations: [a]
    role_quota: {tank: 1, healer: 1}
    boss: {name: B, hp: 10}
    difficulties: {normal: {hp: 1, damage: 1}}
    phases:
      - {name: one, threshold: 1.0, abilities: [hit]}
`,
		},
		{
			name: "seats above the minimum",
			yaml: `
boss_abilities: [{id: hit, name: Hit, target: single, power: 1}]
raids:
  - id: r
    min_players: 3
    max_players: 5
    locations: [a]
    boss: {name: B, hp: 10}
    difficulties: {normal: {hp: 1, damage: 1}}
    phases:
      - {name: one, threshold: 1.0, abilities: [hit]}
`,
		},
		{
			name: "unknown field",
			yaml: `
raids:
  - id: r
    flavor: spicy
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestNew_InvalidCatalogSentinel(t *testing.T) {
	_, err := New(Definitions{Buffs: []Buff{{Type: "free", Cost: 0, Effect: EffectHealing, Multiplier: 1, Duration: time.Second}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCatalog))
}
