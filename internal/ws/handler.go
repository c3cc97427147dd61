package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/raidhall/internal/apperr"
	"github.com/DoyleJ11/raidhall/internal/engine"
	"github.com/DoyleJ11/raidhall/internal/hub"
	"github.com/DoyleJ11/raidhall/internal/instance"
	"github.com/DoyleJ11/raidhall/internal/types"
	"github.com/DoyleJ11/raidhall/internal/vote"
)

const (
	outboxSize   = 16
	writeTimeout = 3 * time.Second
	idleTimeout  = 5 * time.Minute
)

// Handler streams an instance's events to one client and accepts "action" and
// "vote" messages back. Connect with /ws?instance=<id>.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("instance")
		if id == "" {
			http.Error(w, "missing instance", http.StatusBadRequest)
			return
		}
		inst, err := h.Instance(r.Context(), id)
		if err != nil {
			http.Error(w, "instance not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Overlays are served from other origins.
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		l := log.With(zap.String("instance", id), zap.String("client", clientID))

		out := make(chan types.ServerMessage, outboxSize)
		if err := inst.Subscribe(r.Context(), clientID, out); err != nil {
			conn.Close(websocket.StatusGoingAway, "instance closed")
			return
		}
		defer inst.Unsubscribe(clientID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. The instance closes out when the raid shuts down or
		// this client falls behind.
		go func() {
			defer cancel()
			for msg := range out {
				if err := write(ctx, conn, msg); err != nil {
					return
				}
			}
			conn.Close(websocket.StatusNormalClosure, "raid closed")
		}()

		for {
			readCtx, readCancel := context.WithTimeout(ctx, idleTimeout)
			_, data, err := conn.Read(readCtx)
			readCancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					l.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(ctx, conn, errorMessage(id, apperr.Validation("bad json")))
				continue
			}
			if err := dispatch(ctx, inst, cm); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				_ = write(ctx, conn, errorMessage(id, err))
			}
		}
	}
}

func dispatch(ctx context.Context, inst *instance.Instance, cm types.ClientMessage) error {
	switch cm.Type {
	case "action":
		actions := cm.Actions
		if cm.Action != nil {
			actions = append([]engine.Action{*cm.Action}, actions...)
		}
		if len(actions) == 0 {
			return apperr.Validation("action message carries no actions")
		}
		_, err := inst.PerformActions(ctx, cm.PlayerID, actions...)
		return err
	case "vote":
		weight := cm.Weight
		if weight <= 0 {
			weight = vote.Weight(cm.Subscriber)
		}
		_, err := inst.SubmitVote(ctx, vote.Ballot{Viewer: cm.Viewer, Option: cm.Option, Weight: weight})
		return err
	default:
		return apperr.Validation("unknown message type %q", cm.Type)
	}
}

func errorMessage(instanceID string, err error) types.ServerMessage {
	kind := string(apperr.KindOf(err))
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Code != "" {
		kind = ae.Code
	}
	return types.ServerMessage{Type: types.MsgError, InstanceID: instanceID, Kind: kind, Error: err.Error()}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}
