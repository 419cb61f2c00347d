package api

import (
	"bytes"
	"net/http"
	"strconv"

	"courtside/internal/ledger"
	"courtside/internal/metrics"
	"courtside/internal/models"
	"courtside/internal/registry"
)

// handleCreateListing creates a venue or trainer listing.
// POST /api/listings
func (s *HTTPServer) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_listing")

	var req registry.CreateListingInput
	if err := decode(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	l, err := s.registry.CreateListing(r.Context(), principal(r), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// handleOwnerListings lists the caller's listings. Admins may pass owner_id.
// GET /api/owner/listings
func (s *HTTPServer) handleOwnerListings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("owner_listings")

	ownerID, err := queryOwnerID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	listings, err := s.registry.OwnerListings(r.Context(), principal(r), ownerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// PUT /api/listings/{id}/active
func (s *HTTPServer) handleSetActive(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("set_active")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var req setActiveRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	n, err := s.registry.SetActive(r.Context(), principal(r), id, req.Active)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": id, "active": req.Active, "slots": n})
}

// POST /api/listings/{id}/slots
func (s *HTTPServer) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_slot")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var req registry.CreateSlotInput
	if err := decode(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	slot, err := s.registry.CreateSlot(r.Context(), principal(r), id, req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

// GET /api/listings/{id}/slots
func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_slots")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	slots, err := s.registry.ListSlots(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// handleFindSlot resolves an exact slot key.
// GET /api/listings/{id}/slots/lookup?date=&start=&end=
func (s *HTTPServer) handleFindSlot(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("find_slot")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	q := r.URL.Query()
	slot, err := s.registry.FindSlot(r.Context(), models.SlotKey{
		ListingID: id, Date: q.Get("date"), Start: q.Get("start"), End: q.Get("end"),
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type priceRequest struct {
	Price float64 `json:"price"`
}

// PUT /api/slots/{id}/price
func (s *HTTPServer) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("update_price")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var req priceRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	slot, err := s.registry.UpdatePrice(r.Context(), principal(r), id, req.Price)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type reserveRequest struct {
	ListingID int64  `json:"listing_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// handleReserve books one place in a slot for the caller.
// POST /api/bookings
func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reserve")

	var req reserveRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	b, err := s.engine.Reserve(r.Context(), principal(r), models.SlotKey{
		ListingID: req.ListingID, Date: req.Date, Start: req.StartTime, End: req.EndTime,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// POST /api/bookings/{id}/cancel
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel")

	b, err := s.engine.Cancel(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /api/bookings/{id}
func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_booking")

	b, err := s.ledger.Get(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /api/me/bookings
func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("my_bookings")

	bookings, err := s.ledger.ForUser(r.Context(), principal(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// handleOwnerBookings lists bookings of the caller's listings, as JSON or
// as an XLSX download when format=xlsx. Admins may pass owner_id.
// GET /api/owner/bookings
func (s *HTTPServer) handleOwnerBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("owner_bookings")

	ownerID, err := queryOwnerID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	bookings, err := s.ledger.ForOwner(r.Context(), principal(r), ownerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if r.URL.Query().Get("format") != "xlsx" {
		writeJSON(w, http.StatusOK, bookings)
		return
	}

	var buf bytes.Buffer
	if err := ledger.ExportXLSX(&buf, bookings); err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bookings.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GET /api/trainers/{id}/bookings
func (s *HTTPServer) handleTrainerBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("trainer_bookings")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	bookings, err := s.ledger.ForTrainer(r.Context(), principal(r), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// GET /api/me/notifications?limit=
func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("notifications")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			s.writeErr(w, models.Invalid("limit", "must be between 1 and 200"))
			return
		}
		limit = n
	}
	notes, err := s.users.ListNotifications(r.Context(), principal(r).UserID, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// POST /api/me/notifications/{id}/read
func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("notification_read")

	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	ok, err := s.users.MarkNotificationRead(r.Context(), principal(r).UserID, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type telegramRequest struct {
	ChatID int64 `json:"chat_id"`
}

// handleSetTelegram links a Telegram chat for reminder mirroring. Zero unlinks.
// PUT /api/me/telegram
func (s *HTTPServer) handleSetTelegram(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("set_telegram")

	var req telegramRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.users.SetTelegramChatID(r.Context(), principal(r).UserID, req.ChatID); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
