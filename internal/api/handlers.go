package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/echoglove/voice-bridge/internal/config"
	"github.com/echoglove/voice-bridge/internal/delivery"
	"github.com/echoglove/voice-bridge/internal/device"
	"github.com/echoglove/voice-bridge/internal/resilience"
)

const maxRequestBody = 64 << 10

// SpeakRequest is the body of POST /speak
type SpeakRequest struct {
	Message string `json:"message"`
	Device  string `json:"device,omitempty"` // registry name or host[:port]
}

// SpeakResponse acknowledges an accepted delivery
type SpeakResponse struct {
	DeliveryID string         `json:"delivery_id"`
	State      delivery.State `json:"state"`
	Device     string         `json:"device"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type devicesResponse struct {
	Default string          `json:"default,omitempty"`
	Devices []config.Device `json:"devices"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SpeakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	address := s.resolveDevice(req.Device)
	if address == "" {
		writeError(w, http.StatusBadRequest, "device address is required")
		return
	}

	ch, err := s.session.Deliver(r.Context(), req.Message, address)
	switch {
	case errors.Is(err, delivery.ErrBusy):
		writeError(w, http.StatusConflict, "a message is already being delivered")
		return
	case errors.Is(err, delivery.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, device.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "device address is invalid")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to start delivery")
		writeError(w, http.StatusInternalServerError, "failed to start delivery")
		return
	}

	// Converting is always the first transition
	first := <-ch

	s.followWG.Add(1)
	go func() {
		defer s.followWG.Done()
		s.follow(first.DeliveryID, ch, req.Message, address)
	}()

	writeJSON(w, http.StatusAccepted, SpeakResponse{
		DeliveryID: first.DeliveryID,
		State:      first.State,
		Device:     address,
	})
}

// follow waits for a delivery to finish and re-runs it for failures the
// device may recover from, up to the configured attempts.
func (s *Server) follow(firstID string, ch <-chan delivery.Transition, text, address string) {
	logger := s.logger.With().Str("delivery_id", firstID).Str("device", address).Logger()

	err := resilience.Retry(s.ctx, func(attempt int) error {
		if attempt > 1 {
			next, err := s.session.Deliver(context.Background(), text, address)
			if err != nil {
				return err
			}
			logger.Info().Int("attempt", attempt).Msg("Retrying delivery")
			ch = next
		}
		return outcome(ch)
	}, s.retry, delivery.IsRetryable)

	if err != nil {
		logger.Warn().Err(err).Msg("Delivery finished with error")
		return
	}
	logger.Debug().Msg("Delivery finished")
}

// outcome drains a delivery and returns its failure, if any
func outcome(ch <-chan delivery.Transition) error {
	var err error
	for t := range ch {
		if t.State == delivery.StateError {
			err = t.Err
		}
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.session.Current())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, devicesResponse{
		Default: s.defaultDevice,
		Devices: s.devices.Devices(),
	})
}

// resolveDevice maps a registry name to its address and falls back to the
// default device when none is given.
func (s *Server) resolveDevice(nameOrAddress string) string {
	if strings.TrimSpace(nameOrAddress) == "" {
		return s.devices.Resolve(s.defaultDevice)
	}
	return s.devices.Resolve(nameOrAddress)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
