package httpapi

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/catalog"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/hub"
	"github.com/DoyleJ11/raidhall/internal/instance"
	"github.com/DoyleJ11/raidhall/internal/lobby"
	"github.com/DoyleJ11/raidhall/internal/models"
	"github.com/DoyleJ11/raidhall/internal/repository"
	"github.com/DoyleJ11/raidhall/internal/vote"
)

const qrSize = 320

type Server struct {
	hub      *hub.Hub
	catalog  *catalog.Catalog
	repo     repository.Repository
	validate *validator.Validate
	log      *zap.Logger
	baseURL  string
}

// NewServer wires the handlers. baseURL is what lobby QR codes point at; when
// empty it is derived from each request.
func NewServer(h *hub.Hub, cat *catalog.Catalog, repo repository.Repository, baseURL string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Server{hub: h, catalog: cat, repo: repo, validate: v, log: log.Named("http"), baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *Server) ListRaids(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Raids())
}

func (s *Server) GetRaid(w http.ResponseWriter, r *http.Request) {
	raid, ok := s.catalog.Raid(chi.URLParam(r, "raidId"))
	if !ok {
		s.writeError(w, r, apperr.NotFound("raid %s not found", chi.URLParam(r, "raidId")))
		return
	}
	writeJSON(w, http.StatusOK, raid)
}

func (s *Server) RaidsAtLocation(w http.ResponseWriter, r *http.Request) {
	raids := s.catalog.RaidsAt(chi.URLParam(r, "location"))
	if raids == nil {
		raids = []catalog.Raid{}
	}
	writeJSON(w, http.StatusOK, raids)
}

func (s *Server) ListBuffs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Buffs())
}

type createLobbyRequest struct {
	RaidID            string       `json:"raidId" validate:"required"`
	Leader            string       `json:"leader" validate:"required"`
	Location          string       `json:"location" validate:"required"`
	Difficulty        string       `json:"difficulty"`
	Role              catalog.Role `json:"role" validate:"omitempty,oneof=tank healer dps"`
	RequireRoles      bool         `json:"requireRoles"`
	AllowViewerVoting bool         `json:"allowViewerVoting"`
}

type joinLobbyRequest struct {
	LobbyID string       `json:"lobbyId" validate:"required,len=6"`
	Player  string       `json:"player" validate:"required"`
	Role    catalog.Role `json:"role" validate:"omitempty,oneof=tank healer dps"`
}

type lobbyMemberRequest struct {
	LobbyID string `json:"lobbyId" validate:"required,len=6"`
	Player  string `json:"player" validate:"required"`
}

type changeRoleRequest struct {
	LobbyID string       `json:"lobbyId" validate:"required,len=6"`
	Player  string       `json:"player" validate:"required"`
	Role    catalog.Role `json:"role" validate:"required,oneof=tank healer dps"`
}

func (s *Server) CreateLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.hub.CreateLobby(r.Context(), req.RaidID, req.Leader, req.Location, lobby.Options{
		Difficulty:        req.Difficulty,
		RequireRoles:      req.RequireRoles,
		AllowViewerVoting: req.AllowViewerVoting,
		LeaderRole:        req.Role,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) JoinLobby(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.hub.JoinLobby(r.Context(), strings.ToUpper(req.LobbyID), req.Player, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	var req lobbyMemberRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.hub.LeaveLobby(r.Context(), strings.ToUpper(req.LobbyID), req.Player)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.hub.ChangeRole(r.Context(), strings.ToUpper(req.LobbyID), req.Player, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) DisbandLobby(w http.ResponseWriter, r *http.Request) {
	var req lobbyMemberRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.hub.DisbandLobby(r.Context(), strings.ToUpper(req.LobbyID), req.Player)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) GetLobby(w http.ResponseWriter, r *http.Request) {
	l, err := s.hub.Lobby(r.Context(), strings.ToUpper(chi.URLParam(r, "lobbyId")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// LobbyQR renders a PNG join code for stream overlays.
func (s *Server) LobbyQR(w http.ResponseWriter, r *http.Request) {
	l, err := s.hub.Lobby(r.Context(), strings.ToUpper(chi.URLParam(r, "lobbyId")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(r, l.ID), qrcode.Medium, qrSize)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("qr for lobby %s: %w", l.ID, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) joinURL(r *http.Request, lobbyID string) string {
	base := s.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/lobby/" + lobbyID
}

type startRequest struct {
	LobbyID string `json:"lobbyId" validate:"required,len=6"`
}

type actionBody struct {
	Type    engine.ActionType `json:"type" validate:"required,oneof=attack ability defend"`
	Target  string            `json:"target"`
	Ability string            `json:"ability" validate:"required_if=Type ability"`
}

type actionRequest struct {
	InstanceID string     `json:"instanceId" validate:"required,uuid"`
	PlayerID   string     `json:"playerId" validate:"required"`
	Action     actionBody `json:"action"`
}

type actionsRequest struct {
	InstanceID string       `json:"instanceId" validate:"required,uuid"`
	PlayerID   string       `json:"playerId" validate:"required"`
	Actions    []actionBody `json:"actions" validate:"required,min=1,max=10,dive"`
}

type instancePlayerRequest struct {
	InstanceID string `json:"instanceId" validate:"required,uuid"`
	PlayerID   string `json:"playerId" validate:"required"`
}

type viewerVoteRequest struct {
	InstanceID string `json:"instanceId" validate:"required,uuid"`
	Viewer     string `json:"viewer" validate:"required,max=64"`
	Option     string `json:"option" validate:"required"`
	Weight     int    `json:"weight" validate:"omitempty,min=1,max=100"`
	Subscriber bool   `json:"subscriber"`
}

type openVoteRequest struct {
	InstanceID string   `json:"instanceId" validate:"required,uuid"`
	Options    []string `json:"options" validate:"required,min=2,dive,required"`
	DurationMS int      `json:"durationMs" validate:"omitempty,min=1000,max=600000"`
}

type resolveVoteRequest struct {
	InstanceID string `json:"instanceId" validate:"required,uuid"`
	WindowID   string `json:"windowId"`
}

type buffPurchaseRequest struct {
	InstanceID string `json:"instanceId" validate:"required,uuid"`
	PlayerID   string `json:"playerId" validate:"required"`
	BuffType   string `json:"buffType" validate:"required"`
}

type instanceResponse struct {
	InstanceID string         `json:"instanceId"`
	Version    int            `json:"version"`
	Status     engine.Status  `json:"status"`
	Deltas     []engine.Delta `json:"deltas,omitempty"`
	Events     []engine.Event `json:"events,omitempty"`
	Balance    *int           `json:"balance,omitempty"`
	State      engine.State   `json:"state"`
}

func responseFor(res instance.Result) instanceResponse {
	return instanceResponse{
		InstanceID: res.State.InstanceID,
		Version:    res.Version,
		Status:     res.State.Status,
		Deltas:     engine.Deltas(res.Events),
		Events:     res.Events,
		State:      res.State,
	}
}

func (s *Server) StartRaid(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inst, err := s.hub.StartRaid(r.Context(), strings.ToUpper(req.LobbyID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := inst.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, instanceResponse{
		InstanceID: inst.ID(),
		Version:    view.Version,
		Status:     view.State.Status,
		State:      view.State,
	})
}

func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.hub.Instance(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := inst.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse{
		InstanceID: inst.ID(),
		Version:    view.Version,
		Status:     view.State.Status,
		State:      view.State,
	})
}

func (s *Server) PerformAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.perform(w, r, req.InstanceID, req.PlayerID, []actionBody{req.Action})
}

func (s *Server) PerformActions(w http.ResponseWriter, r *http.Request) {
	var req actionsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.perform(w, r, req.InstanceID, req.PlayerID, req.Actions)
}

func (s *Server) perform(w http.ResponseWriter, r *http.Request, instanceID, playerID string, body []actionBody) {
	inst, err := s.hub.Instance(r.Context(), instanceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actions := make([]engine.Action, len(body))
	for i, a := range body {
		actions[i] = engine.Action{Type: a.Type, Target: a.Target, Ability: a.Ability}
	}
	res, err := inst.PerformActions(r.Context(), playerID, actions...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFor(res))
}

func (s *Server) Abandon(w http.ResponseWriter, r *http.Request) {
	var req instancePlayerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.withInstance(w, r, req.InstanceID, func(inst *instance.Instance) (instance.Result, error) {
		return inst.Abandon(r.Context(), req.PlayerID)
	})
}

func (s *Server) ViewerVote(w http.ResponseWriter, r *http.Request) {
	var req viewerVoteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	weight := req.Weight
	if weight == 0 {
		weight = vote.Weight(req.Subscriber)
	}
	inst, err := s.hub.Instance(r.Context(), req.InstanceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := inst.SubmitVote(r.Context(), vote.Ballot{Viewer: req.Viewer, Option: req.Option, Weight: weight})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Viewers only get the tally, never the roster.
	writeJSON(w, http.StatusAccepted, res.State.Vote)
}

func (s *Server) OpenVote(w http.ResponseWriter, r *http.Request) {
	var req openVoteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.withInstance(w, r, req.InstanceID, func(inst *instance.Instance) (instance.Result, error) {
		return inst.OpenVote(r.Context(), req.Options, time.Duration(req.DurationMS)*time.Millisecond)
	})
}

func (s *Server) ResolveVote(w http.ResponseWriter, r *http.Request) {
	var req resolveVoteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.withInstance(w, r, req.InstanceID, func(inst *instance.Instance) (instance.Result, error) {
		return inst.ResolveVote(r.Context(), req.WindowID)
	})
}

func (s *Server) PurchaseBuff(w http.ResponseWriter, r *http.Request) {
	var req buffPurchaseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inst, err := s.hub.Instance(r.Context(), req.InstanceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := inst.PurchaseBuff(r.Context(), req.PlayerID, req.BuffType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := responseFor(res)
	out.Balance = &res.Balance
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) withInstance(w http.ResponseWriter, r *http.Request, id string, fn func(*instance.Instance) (instance.Result, error)) {
	inst, err := s.hub.Instance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := fn(inst)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFor(res))
}

// Leaderboard returns one category, or all of them when none is named.
func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	raidID := chi.URLParam(r, "raidId")
	if _, ok := s.catalog.Raid(raidID); !ok {
		s.writeError(w, r, apperr.NotFound("raid %s not found", raidID))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			s.writeError(w, r, apperr.Validation("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	categories := models.Categories
	if c := r.URL.Query().Get("category"); c != "" {
		if !models.Category(c).Valid() {
			s.writeError(w, r, apperr.Validation("unknown leaderboard category %q", c))
			return
		}
		categories = []models.Category{models.Category(c)}
	}
	out := make(map[models.Category][]models.LeaderboardEntry, len(categories))
	for _, c := range categories {
		entries, err := s.repo.Leaderboard(r.Context(), raidID, c, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out[c] = entries
	}
	writeJSON(w, http.StatusOK, out)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
