package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/instance"
	"github.com/DoyleJ11/raidhall/internal/lobby"
	"github.com/DoyleJ11/raidhall/internal/persist"
	"github.com/DoyleJ11/raidhall/internal/repository"
)

const DefaultRetention = 10 * time.Minute

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	RaidID   string
	Leader   lobby.Member
	Location string
	Options  lobby.Options
	Reply    chan lobbyReply
}

type JoinLobby struct {
	LobbyID string
	Member  lobby.Member
	Reply   chan lobbyReply
}

type LeaveLobby struct {
	LobbyID  string
	PlayerID string
	Reply    chan lobbyReply
}

type ChangeRole struct {
	LobbyID  string
	PlayerID string
	Role     catalog.Role
	Reply    chan lobbyReply
}

type DisbandLobby struct {
	LobbyID  string
	PlayerID string
	Reply    chan lobbyReply
}

type GetLobby struct {
	LobbyID string
	Reply   chan lobbyReply
}

// PrepareStart hands out a READY lobby's snapshot so the slow character loads
// can happen off the hub goroutine.
type PrepareStart struct {
	LobbyID string
	Reply   chan lobbyReply
}

// CommitStart creates the instance if the lobby is still at Version.
type CommitStart struct {
	LobbyID string
	Version int
	State   engine.State
	Reply   chan instanceReply
}

type GetInstance struct {
	InstanceID string
	Reply      chan instanceReply
}

// InstanceEnded frees the players of a finished raid and schedules eviction.
type InstanceEnded struct {
	InstanceID string
	Players    []string
}

// PlayerLeftRaid frees a player who abandoned a raid that is still running.
type PlayerLeftRaid struct {
	InstanceID string
	PlayerID   string
}

type RemoveInstance struct {
	InstanceID string
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg()    {}
func (JoinLobby) isHubMsg()      {}
func (LeaveLobby) isHubMsg()     {}
func (ChangeRole) isHubMsg()     {}
func (DisbandLobby) isHubMsg()   {}
func (GetLobby) isHubMsg()       {}
func (PrepareStart) isHubMsg()   {}
func (CommitStart) isHubMsg()    {}
func (GetInstance) isHubMsg()    {}
func (InstanceEnded) isHubMsg()  {}
func (PlayerLeftRaid) isHubMsg() {}
func (RemoveInstance) isHubMsg() {}
func (ShutdownHub) isHubMsg()    {}

type lobbyReply struct {
	Lobby *lobby.Lobby
	Err   error
}

type instanceReply struct {
	Instance *instance.Instance
	Err      error
}

// presence is where a player currently is. At most one field is set.
type presence struct {
	lobbyID    string
	instanceID string
}

type Deps struct {
	Catalog *catalog.Catalog
	Repo    repository.Repository
	Writer  *persist.Writer
	Log     *zap.Logger
	Now     func() time.Time
	// Retention is how long a finished instance stays readable before eviction.
	Retention    time.Duration
	VoteDuration time.Duration
	StoreTimeout time.Duration
}

// Hub owns every lobby, the player presence map and the instance registry.
type Hub struct {
	inbox     chan HubMsg
	lobbies   map[string]*lobby.Lobby
	instances map[string]*instance.Instance
	players   map[string]presence
	deps      Deps
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewHub(parent context.Context, deps Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Retention <= 0 {
		deps.Retention = DefaultRetention
	}
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		lobbies:   make(map[string]*lobby.Lobby),
		instances: make(map[string]*instance.Instance),
		players:   make(map[string]presence),
		deps:      deps,
		log:       deps.Log.Named("hub"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Run blocks until ctx is done and then shuts the hub down.
func (h *Hub) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		h.cancel()
	case <-h.ctx.Done():
	}
	<-h.done
	return nil
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				msg.Reply <- h.createLobby(msg)

			case JoinLobby:
				msg.Reply <- h.joinLobby(msg)

			case LeaveLobby:
				msg.Reply <- h.leaveLobby(msg)

			case ChangeRole:
				l, err := h.lobby(msg.LobbyID)
				if err == nil {
					err = l.ChangeRole(msg.PlayerID, msg.Role)
				}
				msg.Reply <- h.lobbyResult(l, err)

			case DisbandLobby:
				msg.Reply <- h.disbandLobby(msg)

			case GetLobby:
				l, err := h.lobby(msg.LobbyID)
				msg.Reply <- h.lobbyResult(l, err)

			case PrepareStart:
				l, err := h.lobby(msg.LobbyID)
				if err == nil {
					err = l.CanStart()
				}
				msg.Reply <- h.lobbyResult(l, err)

			case CommitStart:
				msg.Reply <- h.commitStart(msg)

			case GetInstance:
				inst := h.instances[msg.InstanceID]
				if inst == nil {
					msg.Reply <- instanceReply{Err: apperr.NotFound("instance %s not found", msg.InstanceID)}
					break
				}
				msg.Reply <- instanceReply{Instance: inst}

			case InstanceEnded:
				for _, id := range msg.Players {
					if h.players[id].instanceID == msg.InstanceID {
						delete(h.players, id)
					}
				}
				id := msg.InstanceID
				time.AfterFunc(h.deps.Retention, func() { h.post(RemoveInstance{InstanceID: id}) })

			case PlayerLeftRaid:
				if h.players[msg.PlayerID].instanceID == msg.InstanceID {
					delete(h.players, msg.PlayerID)
				}

			case RemoveInstance:
				if inst := h.instances[msg.InstanceID]; inst != nil {
					inst.Close()
					delete(h.instances, msg.InstanceID)
					h.log.Debug("instance evicted", zap.String("instance", msg.InstanceID))
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) createLobby(msg CreateLobby) lobbyReply {
	raid, ok := h.deps.Catalog.Raid(msg.RaidID)
	if !ok {
		return lobbyReply{Err: apperr.NotFound("raid %s not found", msg.RaidID)}
	}
	if err := h.checkFree(msg.Leader.PlayerID); err != nil {
		return lobbyReply{Err: err}
	}

	var code string
	for {
		c, err := lobby.GenerateCode()
		if err != nil {
			return lobbyReply{Err: err}
		}
		if h.lobbies[c] == nil {
			code = c
			break
		}
		h.log.Debug("collision on code, regenerating", zap.String("code", c))
	}

	l, err := lobby.New(code, raid, msg.Leader, msg.Location, msg.Options, h.deps.Now())
	if err != nil {
		return lobbyReply{Err: err}
	}
	h.lobbies[code] = l
	h.players[msg.Leader.PlayerID] = presence{lobbyID: code}
	h.log.Info("lobby created", zap.String("lobby", code), zap.String("raid", raid.ID), zap.String("leader", msg.Leader.PlayerID))
	return lobbyReply{Lobby: l.Clone()}
}

func (h *Hub) joinLobby(msg JoinLobby) lobbyReply {
	l, err := h.lobby(msg.LobbyID)
	if err != nil {
		return lobbyReply{Err: err}
	}
	if where := h.players[msg.Member.PlayerID]; where.lobbyID != msg.LobbyID {
		if err := h.checkFree(msg.Member.PlayerID); err != nil {
			return lobbyReply{Err: err}
		}
	}
	if err := l.Join(msg.Member); err != nil {
		return lobbyReply{Err: err}
	}
	h.players[msg.Member.PlayerID] = presence{lobbyID: l.ID}
	return lobbyReply{Lobby: l.Clone()}
}

func (h *Hub) leaveLobby(msg LeaveLobby) lobbyReply {
	l, err := h.lobby(msg.LobbyID)
	if err != nil {
		return lobbyReply{Err: err}
	}
	empty, err := l.Leave(msg.PlayerID)
	if err != nil {
		return lobbyReply{Err: err}
	}
	delete(h.players, msg.PlayerID)
	if empty {
		delete(h.lobbies, l.ID)
		h.log.Info("lobby disbanded, last member left", zap.String("lobby", l.ID))
	}
	return lobbyReply{Lobby: l.Clone()}
}

func (h *Hub) disbandLobby(msg DisbandLobby) lobbyReply {
	l, err := h.lobby(msg.LobbyID)
	if err != nil {
		return lobbyReply{Err: err}
	}
	if err := l.CanDisband(msg.PlayerID); err != nil {
		return lobbyReply{Err: err}
	}
	for _, id := range l.PlayerIDs() {
		delete(h.players, id)
	}
	delete(h.lobbies, l.ID)
	h.log.Info("lobby disbanded", zap.String("lobby", l.ID), zap.String("by", msg.PlayerID))
	return lobbyReply{Lobby: l.Clone()}
}

func (h *Hub) commitStart(msg CommitStart) instanceReply {
	l, err := h.lobby(msg.LobbyID)
	if err != nil {
		return instanceReply{Err: err}
	}
	if l.Version != msg.Version {
		return instanceReply{Err: apperr.StateConflict("lobby %s changed while the raid was starting", l.ID)}
	}
	if err := l.CanStart(); err != nil {
		return instanceReply{Err: err}
	}

	inst := instance.New(h.ctx, msg.State, instance.Deps{
		Catalog:      h.deps.Catalog,
		Repo:         h.deps.Repo,
		Writer:       h.deps.Writer,
		Log:          h.deps.Log,
		Now:          h.deps.Now,
		StoreTimeout: h.deps.StoreTimeout,
		OnTerminal: func(id string, s engine.State) {
			ids := make([]string, len(s.Players))
			for i, p := range s.Players {
				ids[i] = p.ID
			}
			h.post(InstanceEnded{InstanceID: id, Players: ids})
		},
		OnPlayerLeft: func(id, playerID string) {
			h.post(PlayerLeftRaid{InstanceID: id, PlayerID: playerID})
		},
	})
	l.MarkStarted()
	delete(h.lobbies, l.ID)
	h.instances[inst.ID()] = inst
	for _, id := range l.PlayerIDs() {
		h.players[id] = presence{instanceID: inst.ID()}
	}
	h.log.Info("raid started",
		zap.String("lobby", l.ID),
		zap.String("instance", inst.ID()),
		zap.String("raid", l.RaidID),
		zap.Strings("players", l.PlayerIDs()))
	return instanceReply{Instance: inst}
}

func (h *Hub) lobby(id string) (*lobby.Lobby, error) {
	l := h.lobbies[id]
	if l == nil {
		return nil, apperr.NotFound("lobby %s not found", id)
	}
	return l, nil
}

func (h *Hub) lobbyResult(l *lobby.Lobby, err error) lobbyReply {
	if err != nil {
		return lobbyReply{Err: err}
	}
	return lobbyReply{Lobby: l.Clone()}
}

// checkFree enforces one lobby or live raid per player.
func (h *Hub) checkFree(playerID string) error {
	where, ok := h.players[playerID]
	if !ok {
		return nil
	}
	if where.lobbyID != "" {
		return apperr.AlreadyInLobby("player %s is already in lobby %s", playerID, where.lobbyID)
	}
	return apperr.AlreadyInLobby("player %s is already in raid %s", playerID, where.instanceID)
}

func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, inst := range h.instances {
		inst.Close()
	}
	clear(h.instances)
	clear(h.lobbies)
	clear(h.players)
	h.cancel()
}

func newInstanceID() string { return uuid.NewString() }
