package circulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bibliotek/internal/history"
)

type Handler struct {
	service Service
	archive *history.Store
}

func NewHandler(service Service, archive *history.Store) *Handler {
	return &Handler{service: service, archive: archive}
}

// Routes mounts the circulation endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/circulation/borrows", h.handleBorrow)
	r.Post("/circulation/returns", h.handleReturn)
	r.Post("/circulation/reservations", h.handleReserve)
	r.Delete("/circulation/reservations/{id}", h.handleCancelReservation)
	r.Get("/members/{memberID}/borrows", h.handleListBorrows)
	r.Get("/members/{memberID}/reservations", h.handleListReservations)
	r.Get("/members/{memberID}/history", h.handleHistory)
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		ISBN     string    `json:"isbn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MemberID == uuid.Nil || req.ISBN == "" {
		respondError(w, http.StatusBadRequest, "member_id and isbn are required")
		return
	}

	borrow, err := h.service.Borrow(r.Context(), req.MemberID, req.ISBN)
	if err != nil {
		respondCirculationError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, borrow)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BorrowID int64 `json:"borrow_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.BorrowID == 0 {
		respondError(w, http.StatusBadRequest, "borrow_id is required")
		return
	}

	if err := h.service.Return(r.Context(), req.BorrowID); err != nil {
		respondCirculationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID  `json:"member_id"`
		ISBN     string     `json:"isbn"`
		DueBy    *time.Time `json:"due_by,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MemberID == uuid.Nil || req.ISBN == "" {
		respondError(w, http.StatusBadRequest, "member_id and isbn are required")
		return
	}

	reservation, err := h.service.Reserve(r.Context(), req.MemberID, req.ISBN, req.DueBy)
	if err != nil {
		respondCirculationError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, reservation)
}

func (h *Handler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	if err := h.service.CancelReservation(r.Context(), id); err != nil {
		respondCirculationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListBorrows(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	borrows, err := h.service.ListBorrowsByMember(r.Context(), memberID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if borrows == nil {
		borrows = []*Borrow{}
	}
	respondJSON(w, http.StatusOK, borrows)
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	reservations, err := h.service.ListReservationsByMember(r.Context(), memberID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reservations == nil {
		reservations = []*Reservation{}
	}
	respondJSON(w, http.StatusOK, reservations)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	records, err := h.archive.ListByMember(r.Context(), memberID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

func respondCirculationError(w http.ResponseWriter, err error) {
	var iv *InvariantViolationError
	switch {
	case errors.Is(err, ErrBookNotFound),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrBorrowNotFound),
		errors.Is(err, ErrReservationNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrAlreadyBorrowed),
		errors.Is(err, ErrNotOutstanding),
		errors.Is(err, ErrDuplicateReservation),
		errors.Is(err, ErrNotCancellable):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrBusy):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &iv):
		respondError(w, http.StatusInternalServerError, "inventory accounting error")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
