package lobby

import (
	"slices"
	"time"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
)

type Status string

const (
	StatusForming Status = "FORMING"
	StatusReady   Status = "READY"
	StatusStarted Status = "STARTED"
)

const DefaultDifficulty = "normal"

type Member struct {
	PlayerID string       `json:"playerId"`
	Name     string       `json:"name"`
	Level    int          `json:"level"`
	Class    string       `json:"class"`
	Role     catalog.Role `json:"role"`
}

type Options struct {
	Difficulty        string       `json:"difficulty,omitempty"`
	RequireRoles      bool         `json:"requireRoles"`
	AllowViewerVoting bool         `json:"allowViewerVoting"`
	LeaderRole        catalog.Role `json:"leaderRole,omitempty"`
}

// Lobby is a raid party being assembled. It is owned by the hub actor; callers
// outside the hub only ever see clones.
type Lobby struct {
	ID                string    `json:"id"`
	RaidID            string    `json:"raidId"`
	Location          string    `json:"location"`
	Leader            string    `json:"leader"`
	Difficulty        string    `json:"difficulty"`
	RequireRoles      bool      `json:"requireRoles"`
	AllowViewerVoting bool      `json:"allowViewerVoting"`
	Members           []Member  `json:"members"`
	MinPlayers        int       `json:"minPlayers"`
	MaxPlayers        int       `json:"maxPlayers"`
	Status            Status    `json:"status"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"createdAt"`

	quota map[catalog.Role]int
	slots map[catalog.Role]int
}

// New opens a lobby for raid with leader as its first member. The leader takes
// the dps role unless opts names another.
func New(id string, raid catalog.Raid, leader Member, location string, opts Options, now time.Time) (*Lobby, error) {
	if !raid.AllowsLocation(location) {
		return nil, apperr.InvalidLocation("%s cannot be started from %q", raid.Name, location)
	}
	if opts.Difficulty == "" {
		opts.Difficulty = DefaultDifficulty
	}
	if _, ok := raid.Difficulties[opts.Difficulty]; !ok {
		return nil, apperr.Validation("%s has no %s difficulty", raid.Name, opts.Difficulty)
	}
	if opts.LeaderRole == "" {
		opts.LeaderRole = catalog.RoleDPS
	}

	l := &Lobby{
		ID:                id,
		RaidID:            raid.ID,
		Location:          location,
		Leader:            leader.PlayerID,
		Difficulty:        opts.Difficulty,
		RequireRoles:      opts.RequireRoles,
		AllowViewerVoting: opts.AllowViewerVoting,
		Members:           []Member{},
		MinPlayers:        raid.MinPlayers,
		MaxPlayers:        raid.MaxPlayers,
		Status:            StatusForming,
		CreatedAt:         now,
		quota:             map[catalog.Role]int{},
		slots:             map[catalog.Role]int{},
	}
	for _, r := range []catalog.Role{catalog.RoleTank, catalog.RoleHealer, catalog.RoleDPS} {
		l.slots[r] = raid.RoleSlots(r)
		if r != catalog.RoleDPS && raid.RoleQuota[r] > 0 {
			l.quota[r] = raid.RoleQuota[r]
		}
	}

	leader.Role = opts.LeaderRole
	if err := l.checkRole(leader.Role, ""); err != nil {
		return nil, err
	}
	l.Members = append(l.Members, leader)
	l.refreshStatus()
	return l, nil
}

// Join adds m under the role it asks for. Only FORMING lobbies accept joins.
func (l *Lobby) Join(m Member) error {
	if l.Status != StatusForming {
		return apperr.StateConflict("lobby %s is %s and not accepting members", l.ID, l.Status)
	}
	if l.HasMember(m.PlayerID) {
		return apperr.AlreadyInLobby("player %s is already in lobby %s", m.PlayerID, l.ID)
	}
	if len(l.Members) >= l.MaxPlayers {
		return apperr.Capacity("lobby %s is full (%d/%d)", l.ID, len(l.Members), l.MaxPlayers)
	}
	if err := l.checkRole(m.Role, ""); err != nil {
		return err
	}
	l.Members = append(l.Members, m)
	l.touch()
	return nil
}

// Leave removes playerID and reports whether the lobby is now empty. A leaving
// leader hands over to the longest-standing member.
func (l *Lobby) Leave(playerID string) (bool, error) {
	if l.Status == StatusStarted {
		return false, apperr.StateConflict("lobby %s has already started", l.ID)
	}
	idx := l.memberIndex(playerID)
	if idx < 0 {
		return false, apperr.NotFound("player %s is not in lobby %s", playerID, l.ID)
	}
	l.Members = slices.Delete(l.Members, idx, idx+1)
	if len(l.Members) == 0 {
		l.Version++
		return true, nil
	}
	if l.Leader == playerID {
		l.Leader = l.Members[0].PlayerID
	}
	l.touch()
	return false, nil
}

func (l *Lobby) ChangeRole(playerID string, role catalog.Role) error {
	if l.Status == StatusStarted {
		return apperr.StateConflict("lobby %s has already started", l.ID)
	}
	idx := l.memberIndex(playerID)
	if idx < 0 {
		return apperr.NotFound("player %s is not in lobby %s", playerID, l.ID)
	}
	if l.Members[idx].Role == role {
		return nil
	}
	if err := l.checkRole(role, playerID); err != nil {
		return err
	}
	l.Members[idx].Role = role
	l.touch()
	return nil
}

// CanDisband reports whether playerID may tear the lobby down.
func (l *Lobby) CanDisband(playerID string) error {
	if l.Status == StatusStarted {
		return apperr.StateConflict("lobby %s has already started", l.ID)
	}
	if l.Leader != playerID {
		return apperr.Authorization("only the leader can disband lobby %s", l.ID)
	}
	return nil
}

// CanStart reports why the lobby may not start yet, if anything.
func (l *Lobby) CanStart() error {
	if l.Status != StatusReady {
		if l.Status == StatusForming && len(l.Members) >= l.MinPlayers && l.RequireRoles {
			return apperr.StateConflict("lobby %s is missing required roles: %v", l.ID, l.MissingRoles())
		}
		return apperr.StateConflict("lobby %s is %s, not READY", l.ID, l.Status)
	}
	return nil
}

func (l *Lobby) MarkStarted() {
	l.Status = StatusStarted
	l.Version++
}

// MissingRoles lists quota roles that are still short of members.
func (l *Lobby) MissingRoles() []catalog.Role {
	var out []catalog.Role
	for _, r := range []catalog.Role{catalog.RoleTank, catalog.RoleHealer} {
		if l.RoleCount(r) < l.quota[r] {
			out = append(out, r)
		}
	}
	return out
}

func (l *Lobby) RoleCount(role catalog.Role) int {
	n := 0
	for _, m := range l.Members {
		if m.Role == role {
			n++
		}
	}
	return n
}

func (l *Lobby) HasMember(playerID string) bool {
	return l.memberIndex(playerID) >= 0
}

func (l *Lobby) PlayerIDs() []string {
	ids := make([]string, len(l.Members))
	for i, m := range l.Members {
		ids[i] = m.PlayerID
	}
	return ids
}

func (l *Lobby) Clone() *Lobby {
	out := *l
	out.Members = slices.Clone(l.Members)
	return &out
}

// checkRole validates role for a member; except is the member being moved off
// their current role, if any.
func (l *Lobby) checkRole(role catalog.Role, except string) error {
	if !role.Valid() {
		return apperr.Validation("unknown role %q", role)
	}
	if !l.RequireRoles {
		return nil
	}
	n := 0
	for _, m := range l.Members {
		if m.Role == role && m.PlayerID != except {
			n++
		}
	}
	if n >= l.slots[role] {
		return apperr.RoleUnavailable("no %s slot left in lobby %s", role, l.ID)
	}
	return nil
}

func (l *Lobby) memberIndex(playerID string) int {
	return slices.IndexFunc(l.Members, func(m Member) bool { return m.PlayerID == playerID })
}

func (l *Lobby) touch() {
	l.Version++
	l.refreshStatus()
}

func (l *Lobby) refreshStatus() {
	if l.Status == StatusStarted {
		return
	}
	if len(l.Members) >= l.MinPlayers && (!l.RequireRoles || len(l.MissingRoles()) == 0) {
		l.Status = StatusReady
	} else {
		l.Status = StatusForming
	}
}
