package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/engine"
	"github.com/mathduel/backend/internal/hub"
	"github.com/mathduel/backend/internal/match"
	"github.com/mathduel/backend/internal/party"
	"github.com/mathduel/backend/internal/types"
)

const writeTimeout = 3 * time.Second

// Heartbeats is the slice of the connection monitor the handlers need.
// *connquality.Monitor satisfies it.
type Heartbeats interface {
	Ping(peer string) uint64
	Pong(peer string, seq uint64)
	MarkDisconnect(peer string)
}

// MatchHandler upgrades a duel client to the match push channel: versioned
// state snapshots out, commands and heartbeat pongs in.
func MatchHandler(h *hub.Hub, hb Heartbeats, heartbeatInterval time.Duration, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		player := r.URL.Query().Get("player")
		side, ok := parseSide(r.URL.Query().Get("side"))
		if matchID == "" || player == "" || !ok {
			http.Error(w, "missing match, player or side", http.StatusBadRequest)
			return
		}

		reply := make(chan *match.Session, 1)
		h.Inbox() <- hub.GetMatch{ID: matchID, Reply: reply}
		session := <-reply
		if session == nil {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan match.Snapshot, 8)
		clientID := uuid.NewString()

		session.Inbox() <- match.Join{ClientID: clientID, Outbox: out}
		defer func() { session.Inbox() <- match.Leave{ClientID: clientID} }()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()

		// Writer goroutine
		go func() {
			for snap := range out {
				state := snap.State
				write(writeCtx, conn, types.ServerMessage{
					Type:        "StateSnapshot",
					Version:     snap.Version,
					State:       &state,
					RemainingMS: snap.RemainingMS,
				})
			}
		}()

		// Heartbeat goroutine: one ping per interval, sequence-stamped so
		// the monitor can pair pongs and expire losses.
		go func() {
			ticker := time.NewTicker(heartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-writeCtx.Done():
					return
				case <-ticker.C:
					seq := hb.Ping(player)
					write(writeCtx, conn, types.ServerMessage{Type: "Ping", Seq: seq})
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				hb.MarkDisconnect(player)
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("match socket read failed", zap.String("player", player), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			if cm.Type == "Pong" {
				hb.Pong(player, cm.Seq)
				continue
			}

			cmd, ok := toCommand(cm, side)
			if !ok {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
				continue
			}
			session.Inbox() <- match.FromClient{Cmd: cmd}
		}
	}
}

// PartyHandler subscribes a member client to party pushes. Mutations go
// over the HTTP surface; this channel only delivers updates.
func PartyHandler(svc *party.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyID := r.URL.Query().Get("party")
		if partyID == "" {
			http.Error(w, "missing party", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan party.Push, 8)
		clientID := uuid.NewString()

		svc.Inbox() <- party.Subscribe{PartyID: partyID, ClientID: clientID, Outbox: out}
		defer func() { svc.Inbox() <- party.Unsubscribe{PartyID: partyID, ClientID: clientID} }()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()

		go func() {
			for push := range out {
				p := push.Party
				write(writeCtx, conn, types.ServerMessage{
					Type:         "PartyUpdate",
					Version:      push.Version,
					Party:        &p,
					QueueChanged: push.QueueChanged,
				})
			}
		}()

		// Drain until the client goes away; nothing inbound is expected.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}
}

func toCommand(m types.ClientMessage, side engine.Side) (engine.Command, bool) {
	switch m.Type {
	case "Connect":
		return engine.Command{Type: engine.CmdConnect, Side: side}, true
	case "SubmitAnswer":
		return engine.Command{Type: engine.CmdSubmitAnswer, Side: side, Answer: m.Answer}, true
	case "Leave":
		return engine.Command{Type: engine.CmdLeave, Side: side}, true
	default:
		return engine.Command{}, false
	}
}

func parseSide(s string) (engine.Side, bool) {
	switch s {
	case "home":
		return engine.SideHome, true
	case "away":
		return engine.SideAway, true
	default:
		return "", false
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, _ := json.Marshal(msg)
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
