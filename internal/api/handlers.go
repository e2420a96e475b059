package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lowaak/train-control/internal/train"
)

const maxBodyBytes = 64 << 10

// trainRef is the body of the per-train commands. Only the address is read.
type trainRef struct {
	Address string `json:"address"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func decodeAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	var ref trainRef
	if !decodeBody(w, r, &ref) {
		return "", false
	}
	if ref.Address == "" {
		writeBadRequest(w, "address is required")
		return "", false
	}
	return ref.Address, true
}

func (s *Server) handleTrainList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.TrainList())
}

func (s *Server) handleUpdateTrain(w http.ResponseWriter, r *http.Request) {
	var requested train.Train
	if !decodeBody(w, r, &requested) {
		return
	}
	updated, err := s.service.UpdateTrain(requested)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleUpdatePort answers 204 for ports that are gone or trains that are offline:
// those updates are dropped without an error.
func (s *Server) handleUpdatePort(w http.ResponseWriter, r *http.Request) {
	var requested train.Port
	if !decodeBody(w, r, &requested) {
		return
	}
	err := s.service.UpdatePort(requested)
	switch {
	case err == nil, errors.Is(err, train.ErrUnknownPort), errors.Is(err, train.ErrTrainOffline):
		w.WriteHeader(http.StatusNoContent)
	default:
		writeServiceError(w, err)
	}
}

func discoveryFlag(discovering bool) string {
	if discovering {
		return "1"
	}
	return "0"
}

func (s *Server) handleDiscoveryState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, discoveryFlag(s.service.IsDiscovering()))
}

func (s *Server) handleToggleDiscovery(w http.ResponseWriter, _ *http.Request) {
	discovering, err := s.service.ToggleDiscovery()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discoveryFlag(discovering))
}

// addressCommand adapts a per-train service call into a handler.
func (s *Server) addressCommand(command func(address string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := decodeAddress(w, r)
		if !ok {
			return
		}
		if err := command(address); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.addressCommand(s.service.Connect)(w, r)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.addressCommand(s.service.Disconnect)(w, r)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.addressCommand(s.service.Remove)(w, r)
}

func (s *Server) handleConnectAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.service.ConnectAll(); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnectAll(w http.ResponseWriter, _ *http.Request) {
	s.service.DisconnectAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopAll(w http.ResponseWriter, _ *http.Request) {
	s.service.StopAll()
	w.WriteHeader(http.StatusNoContent)
}
