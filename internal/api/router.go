package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/trainList", s.handleTrainList)
		r.Post("/train", s.handleUpdateTrain)
		r.Post("/port", s.handleUpdatePort)

		r.Get("/discover", s.handleDiscoveryState)
		r.Post("/discover", s.handleToggleDiscovery)

		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/connectAll", s.handleConnectAll)
		r.Post("/disconnectAll", s.handleDisconnectAll)
		r.Post("/remove", s.handleRemove)
		r.Post("/stopAll", s.handleStopAll)

		r.Get("/trainUpdateStream", s.handleTrainUpdateStream)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"trains":      len(s.service.TrainList()),
		"discovering": s.service.IsDiscovering(),
		"wsClients":   s.hub.ClientCount(),
	})
}
