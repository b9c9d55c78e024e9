package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/hub"
	"github.com/mathduel/backend/internal/party"
	"github.com/mathduel/backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, svc *party.Service, hb ws.Heartbeats, partySize int,
	heartbeatInterval time.Duration, log *zap.Logger) http.Handler {

	r := chi.NewRouter()

	r.Get("/healthz", Healthz)

	r.Route("/parties", func(r chi.Router) {
		r.Post("/", CreateParty(svc, partySize))
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", GetParty(svc))
			r.Post("/join", JoinParty(svc))
			r.Post("/leave", LeaveParty(svc))
			r.Post("/invite", InviteToParty(svc))
			r.Post("/roles/igl", AssignPartyRole(svc, false))
			r.Post("/roles/anchor", AssignPartyRole(svc, true))
			r.Post("/roles/confirm", ConfirmPartyRoles(svc))
			r.Post("/ready", ToggleReady(svc))
			r.Post("/team", LinkPartyTeam(svc))
			r.Post("/queue", StartQueue(svc))
			r.Delete("/queue", CancelQueue(svc))
		})
	})

	r.Get("/ws/match", ws.MatchHandler(h, hb, heartbeatInterval, log))
	r.Get("/ws/party", ws.PartyHandler(svc, log))

	return r
}
