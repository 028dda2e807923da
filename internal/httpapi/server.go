package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/dispatch"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/alarm"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/events"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/fingerprint"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/rfid"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/serialport"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/service"
	"github.com/BrandonDHaskell/Portunus/station/internal/station/types"
)

// Station is the control surface the API exposes.
type Station interface {
	ListPorts(ctx context.Context) ([]types.PortInfo, error)
	ListInputDevices(ctx context.Context) ([]types.PortInfo, error)
	BindDevice(ctx context.Context, role types.Role, path string) (types.DeviceBinding, error)
	Links() []types.LinkStatus
	StartEnroll(ctx context.Context, kind types.Kind, profile types.EnrollProfile) error
	SubmitEnroll(ctx context.Context, kind types.Kind, name string) (types.Credential, error)
	EnrollmentStatus(ctx context.Context, kind types.Kind) (types.EnrollmentStatus, error)
	AvailableSlots(ctx context.Context) (service.SlotCatalogue, error)
	SendRelayCommand(code string) error
}

// EventSource is subscribed to by the event stream endpoint.
type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Dependencies struct {
	Logger  zerolog.Logger
	Addr    string
	Station Station
	Events  EventSource
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	router     *mux.Router
	station    Station
	events     EventSource
}

func NewServer(d Dependencies) *Server {
	r := mux.NewRouter()

	s := &Server{
		logger:  d.Logger.With().Str("component", "httpapi").Logger(),
		router:  r,
		station: d.Station,
		events:  d.Events,
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/ports", s.handleListPorts).Methods(http.MethodGet)
	v1.HandleFunc("/input-devices", s.handleListInputDevices).Methods(http.MethodGet)
	v1.HandleFunc("/bindings/{role}", s.handleBind).Methods(http.MethodPost)
	v1.HandleFunc("/links", s.handleLinks).Methods(http.MethodGet)
	v1.HandleFunc("/enroll/{kind}/start", s.handleStartEnroll).Methods(http.MethodPost)
	v1.HandleFunc("/enroll/{kind}/submit", s.handleSubmitEnroll).Methods(http.MethodPost)
	v1.HandleFunc("/enroll/{kind}/status", s.handleEnrollStatus).Methods(http.MethodGet)
	v1.HandleFunc("/fingerprint/slots", s.handleSlots).Methods(http.MethodGet)
	v1.HandleFunc("/relay", s.handleRelay).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	r.Use(loggingMiddleware(s.logger))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "links": s.station.Links()})
}

// ── Devices ──────────────────────────────────────────────────────────────────

func (s *Server) handleListPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.station.ListPorts(r.Context())
	if err != nil {
		s.internalError(w, "list ports", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": nonNil(ports)})
}

func (s *Server) handleListInputDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.station.ListInputDevices(r.Context())
	if err != nil {
		if errors.Is(err, errors.ErrUnsupported) {
			writeError(w, http.StatusNotImplemented, "unsupported", "input devices are not available on this platform")
			return
		}
		s.internalError(w, "list input devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": nonNil(devices)})
}

type bindRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	role, err := types.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_role", err.Error())
		return
	}
	var req bindRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path_required", "path is required")
		return
	}

	b, err := s.station.BindDevice(r.Context(), role, req.Path)
	if err != nil {
		if errors.Is(err, serialport.ErrPortNotFound) {
			writeError(w, http.StatusNotFound, "port_not_found", err.Error())
			return
		}
		s.internalError(w, "bind device", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vendor_id":  b.VendorID,
		"product_id": b.ProductID,
		"path":       b.LastKnownPath,
	})
}

func (s *Server) handleLinks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"links": s.station.Links()})
}

// ── Enrollment ───────────────────────────────────────────────────────────────

type startEnrollRequest struct {
	Name string `json:"name"`
	Slot int    `json:"slot"`
}

func (s *Server) handleStartEnroll(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindVar(w, r)
	if !ok {
		return
	}
	var req startEnrollRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	err := s.station.StartEnroll(r.Context(), kind, types.EnrollProfile{Name: req.Name, Slot: req.Slot})
	if err != nil {
		switch {
		case errors.Is(err, fingerprint.ErrNameRequired):
			writeError(w, http.StatusBadRequest, "name_required", err.Error())
		case errors.Is(err, fingerprint.ErrInvalidSlot):
			writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
		case errors.Is(err, fingerprint.ErrSlotInUse):
			writeError(w, http.StatusConflict, "slot_in_use", err.Error())
		default:
			s.stationError(w, "start enroll", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type submitEnrollRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSubmitEnroll(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindVar(w, r)
	if !ok {
		return
	}
	var req submitEnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cred, err := s.station.SubmitEnroll(r.Context(), kind, req.Name)
	if err != nil {
		var dup *rfid.DuplicateError
		switch {
		case errors.As(err, &dup):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "duplicate",
				"message": err.Error(),
				"owner":   dup.Owner.Name,
			})
		case errors.Is(err, rfid.ErrNameRequired):
			writeError(w, http.StatusBadRequest, "name_required", err.Error())
		case errors.Is(err, service.ErrNoCandidate):
			writeError(w, http.StatusBadRequest, "no_candidate", err.Error())
		default:
			s.stationError(w, "submit enroll", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name, "credential": cred})
}

func (s *Server) handleEnrollStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindVar(w, r)
	if !ok {
		return
	}
	st, err := s.station.EnrollmentStatus(r.Context(), kind)
	if err != nil {
		s.stationError(w, "enroll status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	cat, err := s.station.AvailableSlots(r.Context())
	if err != nil {
		s.stationError(w, "fingerprint slots", err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

// ── Relay ────────────────────────────────────────────────────────────────────

type relayRequest struct {
	// Accepts 1 or "1".
	Code json.Number `json:"code"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.station.SendRelayCommand(req.Code.String()); err != nil {
		if errors.Is(err, alarm.ErrInvalidCommand) {
			writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
			return
		}
		s.internalError(w, "relay command", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func kindVar(w http.ResponseWriter, r *http.Request) (types.Kind, bool) {
	kind, err := types.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_kind", err.Error())
		return "", false
	}
	return kind, true
}

// stationError maps loop shutdown and cancellation before falling back to 500.
func (s *Server) stationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrLoopClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "station is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", "station did not answer in time")
	case errors.Is(err, service.ErrUnknownKind):
		writeError(w, http.StatusNotFound, "unknown_kind", err.Error())
	default:
		s.internalError(w, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
