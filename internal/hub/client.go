package hub

import (
	"context"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/instance"
	"github.com/DoyleJ11/raidhall/internal/lobby"
)

// CreateLobby opens a lobby with leaderID as its first member. The leader's
// character is loaded before the hub is asked, so an unknown player never
// reaches the registry.
func (h *Hub) CreateLobby(ctx context.Context, raidID, leaderID, location string, opts lobby.Options) (*lobby.Lobby, error) {
	leader, err := h.member(ctx, leaderID, opts.LeaderRole)
	if err != nil {
		return nil, err
	}
	reply := make(chan lobbyReply, 1)
	return h.lobbyCall(ctx, CreateLobby{RaidID: raidID, Leader: leader, Location: location, Options: opts, Reply: reply}, reply)
}

// JoinLobby adds playerID under role, or dps when no role is given.
func (h *Hub) JoinLobby(ctx context.Context, lobbyID, playerID string, role catalog.Role) (*lobby.Lobby, error) {
	if role == "" {
		role = catalog.RoleDPS
	}
	m, err := h.member(ctx, playerID, role)
	if err != nil {
		return nil, err
	}
	reply := make(chan lobbyReply, 1)
	return h.lobbyCall(ctx, JoinLobby{LobbyID: lobbyID, Member: m, Reply: reply}, reply)
}

func (h *Hub) LeaveLobby(ctx context.Context, lobbyID, playerID string) (*lobby.Lobby, error) {
	reply := make(chan lobbyReply, 1)
	return h.lobbyCall(ctx, LeaveLobby{LobbyID: lobbyID, PlayerID: playerID, Reply: reply}, reply)
}

func (h *Hub) ChangeRole(ctx context.Context, lobbyID, playerID string, role catalog.Role) (*lobby.Lobby, error) {
	reply := make(chan lobbyReply, 1)
	return h.lobbyCall(ctx, ChangeRole{LobbyID: lobbyID, PlayerID: playerID, Role: role, Reply: reply}, reply)
}

func (h *Hub) DisbandLobby(ctx context.Context, lobbyID, playerID string) (*lobby.Lobby, error) {
	reply := make(chan lobbyReply, 1)
	return h.lobbyCall(ctx, DisbandLobby{LobbyID: lobbyID, PlayerID: playerID, Reply: reply}, reply)
}

func (h *Hub) Lobby(ctx context.Context, lobbyID string) (*lobby.Lobby, error) {
	reply := make(chan lobbyReply, 1)
	return h.lobbyCall(ctx, GetLobby{LobbyID: lobbyID, Reply: reply}, reply)
}

// StartRaid freezes a READY lobby into a live instance. Characters are loaded
// between the snapshot and the commit; if the lobby changed in between, the
// start is refused rather than launching with a stale roster.
func (h *Hub) StartRaid(ctx context.Context, lobbyID string) (*instance.Instance, error) {
	reply := make(chan lobbyReply, 1)
	l, err := h.lobbyCall(ctx, PrepareStart{LobbyID: lobbyID, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}

	rules, err := engine.NewRules(h.deps.Catalog, l.RaidID, l.Difficulty, h.deps.VoteDuration)
	if err != nil {
		return nil, err
	}
	players := make([]engine.Player, 0, len(l.Members))
	for _, m := range l.Members {
		c, err := h.deps.Repo.Character(ctx, m.PlayerID)
		if err != nil {
			return nil, err
		}
		players = append(players, engine.Player{
			ID:      c.ID,
			Name:    c.Name,
			Level:   c.Level,
			Class:   c.Class,
			Role:    m.Role,
			MaxHP:   c.MaxHP,
			MaxMana: c.MaxMana,
			Attack:  c.Attack,
			Defense: c.Defense,
		})
	}
	state := engine.NewState(engine.InstanceConfig{
		InstanceID:        newInstanceID(),
		LobbyID:           l.ID,
		Difficulty:        l.Difficulty,
		AllowViewerVoting: l.AllowViewerVoting,
		Rules:             rules,
		Players:           players,
		StartedAt:         h.deps.Now(),
	})

	ireply := make(chan instanceReply, 1)
	if err := h.send(ctx, CommitStart{LobbyID: lobbyID, Version: l.Version, State: state, Reply: ireply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, ireply)
	if err != nil {
		return nil, err
	}
	return res.Instance, res.Err
}

func (h *Hub) Instance(ctx context.Context, instanceID string) (*instance.Instance, error) {
	reply := make(chan instanceReply, 1)
	if err := h.send(ctx, GetInstance{InstanceID: instanceID, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	return res.Instance, res.Err
}

func (h *Hub) member(ctx context.Context, playerID string, role catalog.Role) (lobby.Member, error) {
	if playerID == "" {
		return lobby.Member{}, apperr.Validation("player id is required")
	}
	c, err := h.deps.Repo.Character(ctx, playerID)
	if err != nil {
		return lobby.Member{}, err
	}
	return lobby.Member{PlayerID: c.ID, Name: c.Name, Level: c.Level, Class: c.Class, Role: role}, nil
}

func (h *Hub) lobbyCall(ctx context.Context, m HubMsg, reply chan lobbyReply) (*lobby.Lobby, error) {
	if err := h.send(ctx, m); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	return res.Lobby, res.Err
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return errHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		return zero, errHubClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

var errHubClosed = &apperr.Error{Kind: apperr.KindInternal, Msg: "hub is shut down"}
