package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mathduel/backend/internal/party"
)

// GenerateCode makes a 6-char party code for invite URLs.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type memberView struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	IsLeader    bool   `json:"is_leader"`
	IsReady     bool   `json:"is_ready"`
	IsIGL       bool   `json:"is_igl"`
	IsAnchor    bool   `json:"is_anchor"`
}

type partyView struct {
	Code           string       `json:"code"`
	Phase          string       `json:"phase"`
	LeaderID       string       `json:"leader_id"`
	IGLID          string       `json:"igl_id,omitempty"`
	AnchorID       string       `json:"anchor_id,omitempty"`
	RolesConfirmed bool         `json:"roles_confirmed"`
	QueueStatus    string       `json:"queue_status,omitempty"`
	LinkedTeamID   string       `json:"linked_team_id,omitempty"`
	Visibility     string       `json:"visibility"`
	RequiredSize   int          `json:"required_size"`
	Members        []memberView `json:"members"`
	PendingInvites []string     `json:"pending_invites,omitempty"`
	Version        int64        `json:"version"`
}

type transitionView struct {
	QueueStatus string `json:"queue_status"`
	MatchType   string `json:"match_type"`
	BotSlots    int    `json:"bot_slots,omitempty"`
	AIMatchID   string `json:"ai_match_id,omitempty"`
}

func viewOf(p party.Party) partyView {
	v := partyView{
		Code:           p.ID,
		Phase:          string(p.Phase()),
		LeaderID:       p.LeaderID,
		IGLID:          p.IGLID,
		AnchorID:       p.AnchorID,
		RolesConfirmed: p.RolesConfirmed,
		QueueStatus:    string(p.QueueStatus),
		LinkedTeamID:   p.LinkedTeamID,
		Visibility:     p.Visibility,
		RequiredSize:   p.RequiredSize,
		PendingInvites: p.PendingInvites,
		Version:        p.Version,
	}
	for _, m := range p.Members {
		v.Members = append(v.Members, memberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			IsLeader:    m.IsLeader,
			IsReady:     m.IsReady,
			IsIGL:       m.IsIGL,
			IsAnchor:    m.IsAnchor,
		})
	}
	return v
}

func ask(svc *party.Service, build func(chan party.Reply) party.Msg) party.Reply {
	reply := make(chan party.Reply, 1)
	svc.Inbox() <- build(reply)
	return <-reply
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDomainErr(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, party.ErrPartyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, party.ErrNotLeader), errors.Is(err, party.ErrNotMember):
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return false
	}
	return true
}

func CreateParty(svc *party.Service, size int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID      string `json:"user_id"`
			DisplayName string `json:"display_name"`
			Visibility  string `json:"visibility"`
		}
		if !decode(w, r, &body) {
			return
		}
		if body.Visibility == "" {
			body.Visibility = "private"
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			rep := ask(svc, func(reply chan party.Reply) party.Msg {
				return party.GetSnapshot{PartyID: c, Reply: reply}
			})
			if errors.Is(rep.Err, party.ErrPartyNotFound) {
				code = c
				break
			}
		}

		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.Create{
				ID:         code,
				Leader:     party.Member{UserID: body.UserID, DisplayName: body.DisplayName},
				Visibility: body.Visibility,
				Size:       size,
				Reply:      reply,
			}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(rep.Party))
	}
}

func GetParty(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.GetSnapshot{PartyID: chi.URLParam(r, "code"), Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func JoinParty(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID      string `json:"user_id"`
			DisplayName string `json:"display_name"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.JoinMember{
				PartyID: chi.URLParam(r, "code"),
				Member:  party.Member{UserID: body.UserID, DisplayName: body.DisplayName},
				Reply:   reply,
			}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func LeaveParty(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"user_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.LeaveMember{PartyID: chi.URLParam(r, "code"), UserID: body.UserID, Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func InviteToParty(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActorID string `json:"actor_id"`
			UserID  string `json:"user_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.InviteMsg{PartyID: chi.URLParam(r, "code"), ActorID: body.ActorID, UserID: body.UserID, Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func AssignPartyRole(svc *party.Service, anchor bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActorID  string `json:"actor_id"`
			TargetID string `json:"target_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.AssignRole{
				PartyID: chi.URLParam(r, "code"),
				ActorID: body.ActorID,
				Target:  body.TargetID,
				Anchor:  anchor,
				Reply:   reply,
			}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func ConfirmPartyRoles(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActorID string `json:"actor_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.ConfirmRolesMsg{PartyID: chi.URLParam(r, "code"), ActorID: body.ActorID, Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func ToggleReady(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"user_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.ToggleReadyMsg{PartyID: chi.URLParam(r, "code"), UserID: body.UserID, Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func LinkPartyTeam(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActorID string `json:"actor_id"`
			TeamID  string `json:"team_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.LinkTeamMsg{PartyID: chi.URLParam(r, "code"), ActorID: body.ActorID, TeamID: body.TeamID, Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func StartQueue(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActorID   string `json:"actor_id"`
			MatchType string `json:"match_type"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.StartQueueMsg{
				PartyID:   chi.URLParam(r, "code"),
				ActorID:   body.ActorID,
				MatchType: party.MatchType(body.MatchType),
				Reply:     reply,
			}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Party      partyView      `json:"party"`
			Transition transitionView `json:"transition"`
		}{
			Party: viewOf(rep.Party),
			Transition: transitionView{
				QueueStatus: string(rep.Transition.Status),
				MatchType:   string(rep.Transition.MatchType),
				BotSlots:    rep.Transition.BotSlots,
				AIMatchID:   rep.Transition.AIMatchID,
			},
		})
	}
}

func CancelQueue(svc *party.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ActorID string `json:"actor_id"`
		}
		if !decode(w, r, &body) {
			return
		}
		rep := ask(svc, func(reply chan party.Reply) party.Msg {
			return party.CancelQueueMsg{PartyID: chi.URLParam(r, "code"), ActorID: body.ActorID, Reply: reply}
		})
		if rep.Err != nil {
			writeDomainErr(w, rep.Err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rep.Party))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
