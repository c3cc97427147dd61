package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/lobby"
	"github.com/DoyleJ11/raidhall/internal/models"
	"github.com/DoyleJ11/raidhall/internal/persist"
	"github.com/DoyleJ11/raidhall/internal/repository"
)

type testHub struct {
	*Hub
	repo *repository.InMemoryRepository
}

func newTestHub(t *testing.T, retention time.Duration) testHub {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	repo := repository.NewInMemoryRepository(
		models.Character{ID: "L", Name: "Lyra", Level: 5, Class: "warrior", MaxHP: 200, MaxMana: 50, Attack: 100, Defense: 5, LegacyPoints: 10},
		models.Character{ID: "P", Name: "Pell", Level: 5, Class: "cleric", MaxHP: 200, MaxMana: 50, Attack: 100, Defense: 5},
		models.Character{ID: "T", Name: "Tor", Level: 5, Class: "paladin", MaxHP: 240, MaxMana: 60, Attack: 40, Defense: 10},
		models.Character{ID: "M", Name: "Mira", Level: 5, Class: "mage", MaxHP: 140, MaxMana: 120, Attack: 30, Defense: 3},
	)
	log := zaptest.NewLogger(t)
	writer := persist.NewWriter(repo, 16, time.Second, log)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = writer.Run(ctx)
	}()

	h := NewHub(ctx, Deps{Catalog: cat, Repo: repo, Writer: writer, Log: log, Retention: retention})
	t.Cleanup(func() {
		cancel()
		<-h.done
		wg.Wait()
	})
	return testHub{Hub: h, repo: repo}
}

func TestCreateLobby(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "goblin_siege", "L", "town_entrance", lobby.Options{})
	require.NoError(t, err)
	assert.Len(t, l.ID, 6)
	assert.Equal(t, lobby.StatusForming, l.Status)
	assert.Equal(t, "Lyra", l.Members[0].Name)

	got, err := h.Lobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)

	cases := []struct {
		name     string
		raidID   string
		leader   string
		location string
		want     error
	}{
		{"unknown raid", "nope", "P", "town_entrance", apperr.ErrNotFound},
		{"wrong location", "goblin_siege", "P", "ember_peak", apperr.ErrInvalidLocation},
		{"leader already in a lobby", "goblin_siege", "L", "old_mill", apperr.ErrAlreadyInLobby},
		{"unknown character", "goblin_siege", "ghost", "old_mill", apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.CreateLobby(ctx, tc.raidID, tc.leader, tc.location, lobby.Options{})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err = h.Lobby(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPresenceIsExclusive(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	a, err := h.CreateLobby(ctx, "dragon_lair", "L", "ember_peak", lobby.Options{})
	require.NoError(t, err)
	b, err := h.CreateLobby(ctx, "dragon_lair", "P", "ember_peak", lobby.Options{})
	require.NoError(t, err)

	_, err = h.JoinLobby(ctx, a.ID, "T", catalog.RoleTank)
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, b.ID, "T", catalog.RoleTank)
	assert.ErrorIs(t, err, apperr.ErrAlreadyInLobby)
	_, err = h.JoinLobby(ctx, a.ID, "T", catalog.RoleTank)
	assert.ErrorIs(t, err, apperr.ErrAlreadyInLobby)

	_, err = h.LeaveLobby(ctx, a.ID, "T")
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, b.ID, "T", "")
	require.NoError(t, err)
}

func TestLeaveAndDisband(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "goblin_siege", "L", "town_entrance", lobby.Options{})
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, l.ID, "P", catalog.RoleHealer)
	require.NoError(t, err)

	_, err = h.DisbandLobby(ctx, l.ID, "P")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	got, err := h.LeaveLobby(ctx, l.ID, "L")
	require.NoError(t, err)
	assert.Equal(t, "P", got.Leader)

	_, err = h.DisbandLobby(ctx, l.ID, "P")
	require.NoError(t, err)
	_, err = h.Lobby(ctx, l.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Everyone is free again.
	_, err = h.CreateLobby(ctx, "goblin_siege", "P", "old_mill", lobby.Options{})
	require.NoError(t, err)

	solo, err := h.CreateLobby(ctx, "goblin_siege", "L", "old_mill", lobby.Options{})
	require.NoError(t, err)
	_, err = h.LeaveLobby(ctx, solo.ID, "L")
	require.NoError(t, err)
	_, err = h.Lobby(ctx, solo.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "last member out disbands the lobby")
}

func TestStartRequiresReady(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "crypt_of_whispers", "L", "graveyard", lobby.Options{RequireRoles: true})
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, l.ID, "T", catalog.RoleTank)
	require.NoError(t, err)

	_, err = h.StartRaid(ctx, l.ID)
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	_, err = h.JoinLobby(ctx, l.ID, "M", catalog.RoleDPS)
	assert.ErrorIs(t, err, apperr.ErrRoleUnavailable)

	got, err := h.JoinLobby(ctx, l.ID, "P", catalog.RoleHealer)
	require.NoError(t, err)
	assert.Equal(t, lobby.StatusReady, got.Status)

	inst, err := h.StartRaid(ctx, l.ID)
	require.NoError(t, err)
	view, err := inst.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1200, view.State.Boss.HP)
	assert.Len(t, view.State.Players, 3)

	_, err = h.Lobby(ctx, l.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "a started lobby is discarded")
	_, err = h.StartRaid(ctx, l.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStartRejectsLobbyChangedMidStart(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "goblin_siege", "L", "town_entrance", lobby.Options{})
	require.NoError(t, err)
	ready, err := h.JoinLobby(ctx, l.ID, "P", catalog.RoleHealer)
	require.NoError(t, err)

	// Someone changes role after the snapshot was taken.
	_, err = h.ChangeRole(ctx, l.ID, "P", catalog.RoleDPS)
	require.NoError(t, err)

	reply := make(chan instanceReply, 1)
	require.NoError(t, h.send(ctx, CommitStart{LobbyID: l.ID, Version: ready.Version, Reply: reply}))
	res := <-reply
	assert.ErrorIs(t, res.Err, apperr.ErrStateConflict)
}

// Two players clear Goblin Siege from lobby creation to leaderboard.
func TestGoblinSiegeEndToEnd(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "goblin_siege", "L", "town_entrance", lobby.Options{})
	require.NoError(t, err)
	l, err = h.JoinLobby(ctx, l.ID, "P", catalog.RoleHealer)
	require.NoError(t, err)
	require.Equal(t, lobby.StatusReady, l.Status)

	inst, err := h.StartRaid(ctx, l.ID)
	require.NoError(t, err)
	got, err := h.Instance(ctx, inst.ID())
	require.NoError(t, err)
	assert.Same(t, inst, got)

	// Players in a live raid cannot open another lobby.
	_, err = h.CreateLobby(ctx, "goblin_siege", "L", "old_mill", lobby.Options{})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInLobby)

	var last engine.State
	for _, id := range []string{"L", "P", "L", "P", "L"} {
		res, err := inst.PerformActions(ctx, id, engine.Action{Type: engine.ActionAttack, Target: "boss"})
		require.NoError(t, err)
		last = res.State
	}
	assert.Equal(t, engine.StatusCompleted, last.Status)
	assert.Equal(t, 0, last.Boss.HP)

	require.Eventually(t, func() bool {
		board, err := h.repo.Leaderboard(ctx, "goblin_siege", models.CategoryFastestClear, 10)
		return err == nil && len(board) == 1
	}, time.Second, 5*time.Millisecond)

	// Once the raid is over its players are free again.
	require.Eventually(t, func() bool {
		_, err := h.CreateLobby(ctx, "goblin_siege", "L", "old_mill", lobby.Options{})
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestAbandoningFreesThePlayer(t *testing.T) {
	h := newTestHub(t, time.Minute)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "goblin_siege", "L", "town_entrance", lobby.Options{})
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, l.ID, "P", catalog.RoleHealer)
	require.NoError(t, err)
	inst, err := h.StartRaid(ctx, l.ID)
	require.NoError(t, err)

	res, err := inst.Abandon(ctx, "L")
	require.NoError(t, err)
	require.Equal(t, engine.StatusActive, res.State.Status)

	require.Eventually(t, func() bool {
		_, err := h.CreateLobby(ctx, "goblin_siege", "L", "old_mill", lobby.Options{})
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// P is still fighting.
	_, err = h.CreateLobby(ctx, "goblin_siege", "P", "old_mill", lobby.Options{})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInLobby)
}

func TestTerminalInstancesAreEvicted(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond)
	ctx := context.Background()

	l, err := h.CreateLobby(ctx, "goblin_siege", "L", "town_entrance", lobby.Options{})
	require.NoError(t, err)
	_, err = h.JoinLobby(ctx, l.ID, "P", catalog.RoleHealer)
	require.NoError(t, err)
	inst, err := h.StartRaid(ctx, l.ID)
	require.NoError(t, err)

	_, err = inst.Abandon(ctx, "L")
	require.NoError(t, err)
	_, err = inst.Abandon(ctx, "P")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := h.Instance(ctx, inst.ID())
		return err != nil
	}, time.Second, 5*time.Millisecond)

	select {
	case <-inst.Done():
	case <-time.After(time.Second):
		t.Fatalf("evicted instance still running")
	}
}
