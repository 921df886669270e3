package audit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/httputil"
)

const defaultRecentCount = 50

var exportContentTypes = map[ExportFormat]string{
	ExportFormatJSON:   "application/json",
	ExportFormatNDJSON: "application/x-ndjson",
	ExportFormatCSV:    "text/csv",
	ExportFormatXLSX:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Handlers exposes the audit read API over HTTP
type Handlers struct {
	store *Store
}

// NewHandlers creates audit read handlers backed by store
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the audit routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/entries", h.search).Methods(http.MethodGet)
	router.HandleFunc("/audit/entries/{id}", h.entry).Methods(http.MethodGet)
	router.HandleFunc("/audit/entities/{type}/{id}", h.entityHistory).Methods(http.MethodGet)
	router.HandleFunc("/audit/recent", h.recent).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.export).Methods(http.MethodGet)
	router.HandleFunc("/audit/stats", h.stats).Methods(http.MethodGet)
}

// search handles GET /audit/entries
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	filter, ok := filterOrError(w, r)
	if !ok {
		return
	}
	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// entry handles GET /audit/entries/{id}
func (h *Handlers) entry(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if e == nil {
		httputil.WriteNotFound(w, "entry not found")
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

// entityHistory handles GET /audit/entities/{type}/{id}
func (h *Handlers) entityHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entries, err := h.store.GetByEntity(r.Context(), vars["type"], vars["id"])
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, entries)
}

// recent handles GET /audit/recent?count=N
func (h *Handlers) recent(w http.ResponseWriter, r *http.Request) {
	count, ok := httputil.ParseQueryIntOrError(w, r, "count", defaultRecentCount)
	if !ok {
		return
	}
	entries, err := h.store.GetRecent(r.Context(), count)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, entries)
}

// export handles GET /audit/export?format=json|ndjson|csv|xlsx
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	filter, ok := filterOrError(w, r)
	if !ok {
		return
	}
	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	contentType, known := exportContentTypes[format]
	if !known {
		httputil.WriteBadRequest(w, "unsupported export format "+string(format))
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=audit-log."+string(format))
	_, _ = w.Write(data)
}

// stats handles GET /audit/stats
func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	filter, ok := filterOrError(w, r)
	if !ok {
		return
	}
	stats, err := h.store.GetStats(r.Context(), filter.StartTime, filter.EndTime)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, stats)
}

func filterOrError(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return Filter{}, false
	}
	return filter, true
}

// parseFilter reads a Filter from the query string. Malformed times and
// pagination values are rejected rather than ignored.
func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		SortOrder:  q.Get("sort_order"),
	}

	var err error
	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		return Filter{}, err
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		return Filter{}, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultSearchLimit); err != nil {
		return Filter{}, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return Filter{}, err
	}
	if filter.Limit < 1 || filter.Offset < 0 {
		return Filter{}, errors.New("limit must be positive and offset must not be negative")
	}

	for _, a := range strings.Split(q.Get("actions"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			filter.Actions = append(filter.Actions, Action(a))
		}
	}
	if userID := q.Get("user_id"); userID != "" {
		filter.UserID = &userID
	}
	if apiKeyID := q.Get("api_key_id"); apiKeyID != "" {
		filter.APIKeyID = &apiKeyID
	}
	return filter, nil
}
