package membership

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the membership endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/members", h.handleRegister)
	r.Get("/members/{memberID}", h.handleGet)
	r.Post("/members/{memberID}/favorites/{isbn}", h.handleToggleFavorite)
	r.Get("/members/{memberID}/favorites", h.handleListFavorites)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Email == "" || req.Name == "" || len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "email, name and a password of at least 8 characters are required")
		return
	}

	member, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, ErrRateLimited):
			respondError(w, http.StatusTooManyRequests, "too many registration attempts")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	member, err := h.service.Get(r.Context(), memberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, "member not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, member)
}

func (h *Handler) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	set, err := h.service.ToggleFavorite(r.Context(), memberID, chi.URLParam(r, "isbn"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, "member not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"favorite": set})
}

func (h *Handler) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	favorites, err := h.service.ListFavorites(r.Context(), memberID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if favorites == nil {
		favorites = []Favorite{}
	}
	respondJSON(w, http.StatusOK, favorites)
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
