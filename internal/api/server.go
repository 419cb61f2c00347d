// Package api exposes listings, slots and bookings over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"courtside/internal/ledger"
	"courtside/internal/models"
	"courtside/internal/registry"
	"courtside/internal/reservation"

	"github.com/rs/zerolog"
)

// UserStore keeps caller profiles and their notifications.
type UserStore interface {
	UpsertUser(ctx context.Context, u *models.User) error
	SetTelegramChatID(ctx context.Context, userID, chatID int64) error
	ListNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id int64) (bool, error)
}

// HTTPServer serves the public booking API.
type HTTPServer struct {
	registry *registry.Service
	engine   *reservation.Engine
	ledger   *ledger.Service
	users    UserStore
	auth     *Authenticator
	log      zerolog.Logger
	server   *http.Server
}

func NewHTTPServer(
	addr string,
	reg *registry.Service,
	engine *reservation.Engine,
	led *ledger.Service,
	users UserStore,
	auth *Authenticator,
	logger zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		registry: reg,
		engine:   engine,
		ledger:   led,
		users:    users,
		auth:     auth,
		log:      logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/listings", s.authenticate(s.handleCreateListing))
	mux.HandleFunc("GET /api/owner/listings", s.authenticate(s.handleOwnerListings))
	mux.HandleFunc("PUT /api/listings/{id}/active", s.authenticate(s.handleSetActive))
	mux.HandleFunc("POST /api/listings/{id}/slots", s.authenticate(s.handleCreateSlot))
	mux.HandleFunc("GET /api/listings/{id}/slots", s.authenticate(s.handleListSlots))
	mux.HandleFunc("GET /api/listings/{id}/slots/lookup", s.authenticate(s.handleFindSlot))
	mux.HandleFunc("PUT /api/slots/{id}/price", s.authenticate(s.handleUpdatePrice))

	mux.HandleFunc("POST /api/bookings", s.authenticate(s.handleReserve))
	mux.HandleFunc("POST /api/bookings/{id}/cancel", s.authenticate(s.handleCancel))
	mux.HandleFunc("GET /api/bookings/{id}", s.authenticate(s.handleGetBooking))
	mux.HandleFunc("GET /api/me/bookings", s.authenticate(s.handleMyBookings))
	mux.HandleFunc("GET /api/owner/bookings", s.authenticate(s.handleOwnerBookings))
	mux.HandleFunc("GET /api/trainers/{id}/bookings", s.authenticate(s.handleTrainerBookings))

	mux.HandleFunc("GET /api/me/notifications", s.authenticate(s.handleNotifications))
	mux.HandleFunc("POST /api/me/notifications/{id}/read", s.authenticate(s.handleMarkRead))
	mux.HandleFunc("PUT /api/me/telegram", s.authenticate(s.handleSetTelegram))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps a domain error to its HTTP status.
func (s *HTTPServer) writeErr(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	resp := errorResponse{Error: err.Error(), Code: string(kind)}

	var status int
	switch kind {
	case models.KindValidation:
		status = http.StatusBadRequest
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindSlotFull, models.KindConflict:
		status = http.StatusConflict
	case models.KindForbidden:
		status = http.StatusForbidden
	default:
		s.log.Error().Err(err).Msg("request failed")
		status = http.StatusInternalServerError
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return models.Invalid("body", "invalid JSON body")
	}
	return nil
}

// queryOwnerID reads the optional owner_id filter. Zero means the caller.
func queryOwnerID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("owner_id")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, models.Invalid("owner_id", "must be a positive integer")
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.Invalid("id", "must be a positive integer")
	}
	return id, nil
}
