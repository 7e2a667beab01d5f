package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bibliotek/internal/metadata"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.handleAddBook)
	r.Get("/books", h.handleListOrSearch)
	r.Get("/books/{isbn}", h.handleGetBook)
	r.Get("/books/{isbn}/metadata", h.handleMetadata)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN        string `json:"isbn"`
		TotalCopies int    `json:"total_copies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ISBN == "" {
		respondError(w, http.StatusBadRequest, "isbn is required")
		return
	}

	book, err := h.service.AddBook(r.Context(), req.ISBN, req.TotalCopies)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			respondError(w, http.StatusConflict, "book already exists")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "isbn"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(w, http.StatusNotFound, "book not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (h *Handler) handleListOrSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")

	var (
		books []*Book
		err   error
	)
	if query == "" {
		books, err = h.service.List(r.Context())
	} else {
		books, err = h.service.Search(r.Context(), query)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if books == nil {
		books = []*Book{}
	}
	respondJSON(w, http.StatusOK, books)
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.LookupMetadata(r.Context(), chi.URLParam(r, "isbn"))
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrNotFound):
			respondError(w, http.StatusNotFound, "no metadata for this isbn")
		case errors.Is(err, metadata.ErrGatewayUnavailable):
			respondError(w, http.StatusBadGateway, "metadata gateway unavailable")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
