package types

import (
	"github.com/mathduel/backend/internal/engine"
	"github.com/mathduel/backend/internal/party"
)

// ClientMessage is what a duel client sends over the websocket.
type ClientMessage struct {
	Type   string `json:"type"` // "Connect" | "SubmitAnswer" | "Leave" | "Pong"
	Side   string `json:"side,omitempty"`
	Answer int    `json:"answer,omitempty"`
	Seq    uint64 `json:"seq,omitempty"` // heartbeat sequence echoed back in Pong
}

// ServerMessage carries every server-to-client frame on both the match and
// party channels.
type ServerMessage struct {
	Type         string        `json:"type"` // "StateSnapshot" | "Ping" | "PartyUpdate" | "Error"
	Version      int64         `json:"version,omitempty"`
	State        *engine.State `json:"state,omitempty"`
	RemainingMS  int64         `json:"remaining_ms,omitempty"`
	Seq          uint64        `json:"seq,omitempty"`
	Party        *party.Party  `json:"party,omitempty"`
	QueueChanged bool          `json:"queue_changed,omitempty"`
	Error        string        `json:"error,omitempty"`
}
