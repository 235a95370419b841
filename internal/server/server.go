// Package server exposes the control API over local HTTP: JSON endpoints
// under /api for every pack and playback operation, and a websocket event
// stream at /events pushing state changes to UI clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/keywave/internal/app"
	"github.com/conneroisu/keywave/internal/kwerrors"
	"github.com/conneroisu/keywave/internal/logging"
)

// Server is the local control server.
type Server struct {
	log logging.Logger
	svc *app.Service

	httpServer *http.Server
}

// New creates a server bound to addr.
func New(addr string, svc *app.Service, log logging.Logger) *Server {
	s := &Server{
		log: log.WithComponent("server"),
		svc: svc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/packs", s.handlePacks)
	mux.HandleFunc("/api/packs/", s.handlePack)
	mux.HandleFunc("/api/active", s.handleActive)
	mux.HandleFunc("/api/volume", s.handleVolume)
	mux.HandleFunc("/api/enabled", s.handleEnabled)
	mux.HandleFunc("/api/toggle", s.handleToggle)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info(ctx, "control server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation 400,
// not-found 404, policy 403, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case kwerrors.IsValidation(err):
		status = http.StatusBadRequest
	case kwerrors.IsNotFound(err):
		status = http.StatusNotFound
	case kwerrors.IsPolicy(err):
		status = http.StatusForbidden
	}

	body := errorBody{Error: err.Error()}
	var kerr *kwerrors.Error
	if errors.As(err, &kerr) {
		body.Code = kerr.Code
	}

	s.writeJSON(w, status, body)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return kwerrors.NewValidationError(kwerrors.ErrCodeInternalError, "invalid request body: "+err.Error())
	}
	return nil
}

// handlePacks serves GET /api/packs (list) and POST /api/packs (create).
func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.svc.ListPacks())
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}

		info, err := s.svc.CreatePack(r.Context(), req.Name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, info)
	default:
		s.methodNotAllowed(w)
	}
}

// handlePack routes /api/packs/{id}[/slots[/{slot}]] and /api/packs/{id}
// itself (rename via PATCH, delete via DELETE).
func (s *Server) handlePack(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/packs/")
	parts := strings.SplitN(rest, "/", 3)
	packID := parts[0]
	if packID == "" {
		s.writeError(w, kwerrors.ErrPackNotFound(""))
		return
	}

	switch {
	case len(parts) == 1:
		s.handlePackItem(w, r, packID)
	case parts[1] == "slots" && len(parts) == 2:
		s.handleSlotList(w, r, packID)
	case parts[1] == "slots" && len(parts) == 3:
		s.handleSlotItem(w, r, packID, parts[2])
	default:
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown resource"})
	}
}

func (s *Server) handlePackItem(w http.ResponseWriter, r *http.Request, packID string) {
	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.svc.RenamePack(r.Context(), packID, req.Name); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": packID, "name": req.Name})
	case http.MethodDelete:
		if err := s.svc.DeletePack(r.Context(), packID); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) handleSlotList(w http.ResponseWriter, r *http.Request, packID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	slots, err := s.svc.Slots(packID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, slots)
}

// handleSlotItem imports (PUT) or clears (DELETE) a single slot. The slot
// key arrives URL-escaped so per-key tokens like key:KeyA pass through.
func (s *Server) handleSlotItem(w http.ResponseWriter, r *http.Request, packID, slot string) {
	switch r.Method {
	case http.MethodPut:
		var req struct {
			Path string `json:"path"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.svc.ImportSlot(r.Context(), packID, slot, req.Path); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"pack": packID, "slot": slot})
	case http.MethodDelete:
		if err := s.svc.RemoveSlot(r.Context(), packID, slot); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w)
	}
}

// handleActive serves GET (current pack id) and PUT (switch packs).
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]string{"id": s.svc.ActivePackID()})
	case http.MethodPut:
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.svc.SetActivePack(r.Context(), req.ID); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})
	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]float64{"volume": s.svc.MasterVolume()})
	case http.MethodPut:
		var req struct {
			Volume float64 `json:"volume"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		s.svc.SetMasterVolume(r.Context(), req.Volume)
		s.writeJSON(w, http.StatusOK, map[string]float64{"volume": s.svc.MasterVolume()})
	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.svc.Enabled()})
	case http.MethodPut:
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		s.svc.SetEnabled(r.Context(), req.Enabled)
		s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.svc.Toggle(r.Context())})
}

// handlePlay previews a key's sound.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Key == "" {
		s.writeError(w, kwerrors.NewValidationError(kwerrors.ErrCodeEmptyName, "key must not be empty"))
		return
	}

	s.svc.Play(req.Key)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_pack":  s.svc.ActivePackID(),
		"volume":       s.svc.MasterVolume(),
		"enabled":      s.svc.Enabled(),
		"packs":        len(s.svc.ListPacks()),
		"dropped_keys": s.svc.DroppedKeys(),
	})
}
