package authaudit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const defaultCount = 50

// Handlers exposes the auth audit read API over HTTP
type Handlers struct {
	service *Service
}

// NewHandlers creates new auth audit handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers auth audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth-audit/recent", h.recent).Methods(http.MethodGet)
	router.HandleFunc("/auth-audit/failed", h.failed).Methods(http.MethodGet)
	router.HandleFunc("/auth-audit/users/{id}", h.byUser).Methods(http.MethodGet)
	router.HandleFunc("/auth-audit/api-keys/{id}", h.byAPIKey).Methods(http.MethodGet)
}

func (h *Handlers) recent(w http.ResponseWriter, r *http.Request) {
	count, ok := parseCount(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetRecent(r.Context(), count)
	respond(w, entries, err)
}

func (h *Handlers) failed(w http.ResponseWriter, r *http.Request) {
	count, ok := parseCount(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetFailedAttempts(r.Context(), count)
	respond(w, entries, err)
}

func (h *Handlers) byUser(w http.ResponseWriter, r *http.Request) {
	count, ok := parseCount(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetMyAuditLog(r.Context(), mux.Vars(r)["id"], count)
	respond(w, entries, err)
}

func (h *Handlers) byAPIKey(w http.ResponseWriter, r *http.Request) {
	count, ok := parseCount(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetByAPIKey(r.Context(), mux.Vars(r)["id"], count)
	respond(w, entries, err)
}

func parseCount(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("count")
	if s == "" {
		return defaultCount, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		http.Error(w, "invalid count", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func respond(w http.ResponseWriter, entries []Entry, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
