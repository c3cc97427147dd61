package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/hub"
	"github.com/DoyleJ11/raidhall/internal/lobby"
	"github.com/DoyleJ11/raidhall/internal/models"
	"github.com/DoyleJ11/raidhall/internal/persist"
	"github.com/DoyleJ11/raidhall/internal/repository"
	"github.com/DoyleJ11/raidhall/internal/types"
	"github.com/DoyleJ11/raidhall/internal/vote"
)

type fixture struct {
	srv  *httptest.Server
	repo *repository.InMemoryRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	repo := repository.NewInMemoryRepository(
		models.Character{ID: "L", Name: "Lyra", Level: 5, Class: "warrior", MaxHP: 200, MaxMana: 50, Attack: 100, Defense: 5, LegacyPoints: 10},
		models.Character{ID: "P", Name: "Pell", Level: 5, Class: "cleric", MaxHP: 200, MaxMana: 50, Attack: 100, Defense: 5},
		models.Character{ID: "T", Name: "Tor", Level: 5, Class: "paladin", MaxHP: 240, MaxMana: 60, Attack: 40, Defense: 10},
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
	h := hub.NewHub(ctx, hub.Deps{Catalog: cat, Repo: repo, Writer: writer, Log: log})

	srv := httptest.NewServer(NewServer(h, cat, repo, "https://raids.example", log).Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = h.Run(context.Background())
		wg.Wait()
	})
	return fixture{srv: srv, repo: repo}
}

func (f fixture) call(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	res, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out
}

func decodeAs[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// startGoblin opens a goblin_siege lobby for L and P and starts it.
func (f fixture) startGoblin(t *testing.T, voting bool) instanceResponse {
	t.Helper()
	code, raw := f.call(t, http.MethodPost, "/lobby/create", map[string]any{
		"raidId": "goblin_siege", "leader": "L", "location": "town_entrance", "allowViewerVoting": voting,
	})
	require.Equal(t, http.StatusCreated, code, string(raw))
	l := decodeAs[lobby.Lobby](t, raw)

	code, raw = f.call(t, http.MethodPost, "/lobby/join", map[string]any{"lobbyId": l.ID, "player": "P", "role": "healer"})
	require.Equal(t, http.StatusOK, code, string(raw))

	code, raw = f.call(t, http.MethodPost, "/start", map[string]any{"lobbyId": l.ID})
	require.Equal(t, http.StatusCreated, code, string(raw))
	return decodeAs[instanceResponse](t, raw)
}

func TestHealthzAndCatalog(t *testing.T) {
	f := newFixture(t)

	code, _ := f.call(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)

	code, raw := f.call(t, http.MethodGet, "/raids", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeAs[[]catalog.Raid](t, raw), 3)

	code, raw = f.call(t, http.MethodGet, "/raids/location/graveyard", nil)
	require.Equal(t, http.StatusOK, code)
	raids := decodeAs[[]catalog.Raid](t, raw)
	require.Len(t, raids, 1)
	assert.Equal(t, "crypt_of_whispers", raids[0].ID)

	code, raw = f.call(t, http.MethodGet, "/raids/location/nowhere", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(raw))

	code, _ = f.call(t, http.MethodGet, "/raids/goblin_siege", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.call(t, http.MethodGet, "/raids/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, raw = f.call(t, http.MethodGet, "/buffs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeAs[[]catalog.Buff](t, raw), 3)
}

func TestLobbyErrors(t *testing.T) {
	f := newFixture(t)

	code, raw := f.call(t, http.MethodPost, "/lobby/create", map[string]any{"raidId": "goblin_siege", "leader": "L", "location": "town_entrance"})
	require.Equal(t, http.StatusCreated, code, string(raw))
	l := decodeAs[lobby.Lobby](t, raw)

	cases := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"missing field", "/lobby/create", map[string]any{"raidId": "goblin_siege"}, http.StatusBadRequest, "ValidationError"},
		{"leader named playerId", "/lobby/create", map[string]any{"raidId": "goblin_siege", "playerId": "P", "location": "old_mill"}, http.StatusBadRequest, "ValidationError"},
		{"joiner named playerId", "/lobby/join", map[string]any{"lobbyId": l.ID, "playerId": "P"}, http.StatusBadRequest, "ValidationError"},
		{"unknown field", "/lobby/create", map[string]any{"raidId": "goblin_siege", "leader": "P", "location": "old_mill", "color": "red"}, http.StatusBadRequest, "ValidationError"},
		{"unknown raid", "/lobby/create", map[string]any{"raidId": "nope", "leader": "P", "location": "old_mill"}, http.StatusNotFound, "NotFoundError"},
		{"wrong location", "/lobby/create", map[string]any{"raidId": "goblin_siege", "leader": "P", "location": "ember_peak"}, http.StatusBadRequest, "InvalidLocationError"},
		{"already in a lobby", "/lobby/create", map[string]any{"raidId": "goblin_siege", "leader": "L", "location": "old_mill"}, http.StatusConflict, "AlreadyInLobbyError"},
		{"bad role", "/lobby/join", map[string]any{"lobbyId": l.ID, "player": "P", "role": "bard"}, http.StatusBadRequest, "ValidationError"},
		{"no such lobby", "/lobby/join", map[string]any{"lobbyId": "ZZZZZZ", "player": "P"}, http.StatusNotFound, "NotFoundError"},
		{"not the leader", "/lobby/disband", map[string]any{"lobbyId": l.ID, "player": "T"}, http.StatusForbidden, "AuthorizationError"},
		{"not ready", "/start", map[string]any{"lobbyId": l.ID}, http.StatusConflict, "StateConflictError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, raw := f.call(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.wantCode, code, string(raw))
			assert.Equal(t, tc.wantKind, decodeAs[errorBody](t, raw).Kind)
		})
	}
}

func TestLobbyLifecycle(t *testing.T) {
	f := newFixture(t)

	code, raw := f.call(t, http.MethodPost, "/lobby/create", map[string]any{
		"raidId": "goblin_siege", "leader": "L", "location": "old_mill", "requireRoles": true,
	})
	require.Equal(t, http.StatusCreated, code, string(raw))
	l := decodeAs[lobby.Lobby](t, raw)

	code, raw = f.call(t, http.MethodPost, "/lobby/join", map[string]any{"lobbyId": strings.ToLower(l.ID), "player": "P", "role": "healer"})
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, lobby.StatusReady, decodeAs[lobby.Lobby](t, raw).Status)

	code, raw = f.call(t, http.MethodPost, "/lobby/change-role", map[string]any{"lobbyId": l.ID, "player": "L", "role": "healer"})
	assert.Equal(t, http.StatusConflict, code, string(raw))
	assert.Equal(t, "RoleUnavailableError", decodeAs[errorBody](t, raw).Kind)

	code, raw = f.call(t, http.MethodPost, "/lobby/disband", map[string]any{"lobbyId": l.ID, "player": "P"})
	assert.Equal(t, http.StatusForbidden, code, string(raw))

	code, raw = f.call(t, http.MethodPost, "/lobby/leave", map[string]any{"lobbyId": l.ID, "player": "L"})
	require.Equal(t, http.StatusOK, code, string(raw))
	got := decodeAs[lobby.Lobby](t, raw)
	assert.Equal(t, "P", got.Leader)
	assert.Equal(t, lobby.StatusForming, got.Status)

	code, raw = f.call(t, http.MethodGet, "/lobby/"+l.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeAs[lobby.Lobby](t, raw).Members, 1)

	code, _ = f.call(t, http.MethodPost, "/lobby/disband", map[string]any{"lobbyId": l.ID, "player": "P"})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.call(t, http.MethodGet, "/lobby/"+l.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLobbyQR(t *testing.T) {
	f := newFixture(t)
	code, raw := f.call(t, http.MethodPost, "/lobby/create", map[string]any{"raidId": "goblin_siege", "leader": "L", "location": "old_mill"})
	require.Equal(t, http.StatusCreated, code)
	l := decodeAs[lobby.Lobby](t, raw)

	res, err := f.srv.Client().Get(f.srv.URL + "/lobby/" + l.ID + "/qr")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	png, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	code, _ = f.call(t, http.MethodGet, "/lobby/ZZZZZZ/qr", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRaidOverHTTP(t *testing.T) {
	f := newFixture(t)
	started := f.startGoblin(t, false)
	id := started.InstanceID
	assert.Equal(t, engine.StatusActive, started.Status)
	assert.Equal(t, 500, started.State.Boss.HP)

	code, raw := f.call(t, http.MethodGet, "/instance/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, decodeAs[instanceResponse](t, raw).InstanceID)

	code, raw = f.call(t, http.MethodPost, "/action", map[string]any{
		"instanceId": id, "playerId": "L", "action": map[string]any{"type": "ability"},
	})
	assert.Equal(t, http.StatusBadRequest, code, "ability without a name: %s", raw)

	code, raw = f.call(t, http.MethodPost, "/action", map[string]any{
		"instanceId": uuid.NewString(), "playerId": "L", "action": map[string]any{"type": "attack", "target": "boss"},
	})
	assert.Equal(t, http.StatusNotFound, code, string(raw))

	code, raw = f.call(t, http.MethodPost, "/action", map[string]any{
		"instanceId": id, "playerId": "L", "action": map[string]any{"type": "attack", "target": "boss"},
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	res := decodeAs[instanceResponse](t, raw)
	require.Len(t, res.Deltas, 1)
	assert.Equal(t, 100, res.Deltas[0].BossDamage)
	assert.Equal(t, 400, res.State.Boss.HP)

	code, raw = f.call(t, http.MethodPost, "/actions", map[string]any{
		"instanceId": id, "playerId": "P",
		"actions": []map[string]any{
			{"type": "attack", "target": "boss"},
			{"type": "attack", "target": "boss"},
			{"type": "attack", "target": "boss"},
			{"type": "attack", "target": "boss"},
		},
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	res = decodeAs[instanceResponse](t, raw)
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, 0, res.State.Boss.HP)

	code, raw = f.call(t, http.MethodPost, "/action", map[string]any{
		"instanceId": id, "playerId": "L", "action": map[string]any{"type": "attack", "target": "boss"},
	})
	assert.Equal(t, http.StatusConflict, code, string(raw))

	require.Eventually(t, func() bool {
		code, raw := f.call(t, http.MethodGet, "/leaderboard/goblin_siege?category=fastest_clear", nil)
		if code != http.StatusOK {
			return false
		}
		board := decodeAs[map[models.Category][]models.LeaderboardEntry](t, raw)
		return len(board[models.CategoryFastestClear]) == 1
	}, time.Second, 10*time.Millisecond)

	code, raw = f.call(t, http.MethodGet, "/leaderboard/goblin_siege", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeAs[map[models.Category][]models.LeaderboardEntry](t, raw), len(models.Categories))

	code, _ = f.call(t, http.MethodGet, "/leaderboard/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.call(t, http.MethodGet, "/leaderboard/goblin_siege?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.call(t, http.MethodGet, "/leaderboard/goblin_siege?category=slowest", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAbandonOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.startGoblin(t, false).InstanceID

	code, raw := f.call(t, http.MethodPost, "/abandon", map[string]any{"instanceId": id, "playerId": "L"})
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, engine.StatusActive, decodeAs[instanceResponse](t, raw).Status)

	code, raw = f.call(t, http.MethodPost, "/abandon", map[string]any{"instanceId": id, "playerId": "P"})
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, engine.StatusAbandoned, decodeAs[instanceResponse](t, raw).Status)
}

func TestVotingOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.startGoblin(t, true).InstanceID

	code, raw := f.call(t, http.MethodPost, "/vote/open", map[string]any{"instanceId": id, "options": []string{"goblin_bribe"}})
	assert.Equal(t, http.StatusBadRequest, code, string(raw))

	code, raw = f.call(t, http.MethodPost, "/vote/open", map[string]any{
		"instanceId": id, "options": []string{"goblin_bribe", "rally_the_guard"}, "durationMs": 60000,
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	window := decodeAs[instanceResponse](t, raw).State.Vote
	require.NotNil(t, window)

	code, raw = f.call(t, http.MethodPost, "/viewer/vote", map[string]any{"instanceId": id, "viewer": "chat1", "option": "goblin_bribe", "subscriber": true})
	require.Equal(t, http.StatusAccepted, code, string(raw))
	tally := decodeAs[vote.Window](t, raw)
	assert.Equal(t, 2, tally.Tallies["goblin_bribe"].Weight)

	code, raw = f.call(t, http.MethodPost, "/viewer/vote", map[string]any{"instanceId": id, "viewer": "chat2", "option": "sabotage"})
	assert.Equal(t, http.StatusBadRequest, code, string(raw))

	code, raw = f.call(t, http.MethodPost, "/vote/resolve", map[string]any{"instanceId": id, "windowId": window.ID})
	require.Equal(t, http.StatusOK, code, string(raw))
	res := decodeAs[instanceResponse](t, raw)
	require.NotNil(t, res.State.Vote)
	assert.True(t, res.State.Vote.Resolved)

	code, raw = f.call(t, http.MethodPost, "/viewer/vote", map[string]any{"instanceId": id, "viewer": "chat3", "option": "goblin_bribe"})
	assert.Equal(t, http.StatusConflict, code, string(raw))
}

func TestBuffPurchaseOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.startGoblin(t, false).InstanceID

	code, raw := f.call(t, http.MethodPost, "/buff/purchase", map[string]any{"instanceId": id, "playerId": "L", "buffType": "battle_fury"})
	require.Equal(t, http.StatusOK, code, string(raw))
	res := decodeAs[instanceResponse](t, raw)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 5, *res.Balance)

	cases := []struct {
		name     string
		player   string
		buff     string
		wantCode int
	}{
		{"does not stack", "L", "battle_fury", http.StatusPaymentRequired},
		{"cannot afford", "P", "stoneskin", http.StatusPaymentRequired},
		{"unknown buff", "L", "wings", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, raw := f.call(t, http.MethodPost, "/buff/purchase", map[string]any{"instanceId": id, "playerId": tc.player, "buffType": tc.buff})
			assert.Equal(t, tc.wantCode, code, string(raw))
		})
	}

	char, err := f.repo.Character(context.Background(), "L")
	require.NoError(t, err)
	assert.Equal(t, 5, char.LegacyPoints)
}

func TestWebsocketStream(t *testing.T) {
	f := newFixture(t)
	id := f.startGoblin(t, false).InstanceID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?instance=" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() types.ServerMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		return decodeAs[types.ServerMessage](t, data)
	}

	first := read()
	require.Equal(t, types.MsgUpdate, first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, 500, first.State.Boss.HP)

	send := func(m types.ClientMessage) {
		t.Helper()
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
	}

	send(types.ClientMessage{Type: "dance"})
	msg := read()
	assert.Equal(t, types.MsgError, msg.Type)
	assert.Equal(t, "ValidationError", msg.Kind)

	send(types.ClientMessage{Type: "action", PlayerID: "L", Action: &engine.Action{Type: engine.ActionAttack, Target: "boss"}})
	for {
		msg = read()
		if msg.Type == types.MsgUpdate {
			break
		}
		require.NotEqual(t, types.MsgError, msg.Type, msg.Error)
	}
	assert.Greater(t, msg.Version, first.Version)
	assert.Equal(t, 400, msg.State.Boss.HP)

	code, _ := f.call(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.call(t, http.MethodGet, "/ws?instance=nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
