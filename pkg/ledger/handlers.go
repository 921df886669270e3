package ledger

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/lifecycle"
	"github.com/platinummonkey/tally/pkg/observability"
)

const defaultListLimit = 50

// bin is the type-erased view of one RecycleBin the handlers dispatch to.
type bin struct {
	restore     func(ctx context.Context, id string) (lifecycle.RestoreResult, error)
	listDeleted func(ctx context.Context, limit int) (interface{}, error)
}

func binOf[T any, PT interface {
	*T
	lifecycle.Entity
}](b *lifecycle.RecycleBin[T, PT]) bin {
	return bin{
		restore: b.Restore,
		listDeleted: func(ctx context.Context, limit int) (interface{}, error) {
			return b.ListDeleted(ctx, limit)
		},
	}
}

// Handlers exposes the recycle bins over HTTP
type Handlers struct {
	bins map[string]bin
}

// NewHandlers creates recycle bin handlers for every ledger entity type
func NewHandlers(bins *RecycleBins) *Handlers {
	return &Handlers{
		bins: map[string]bin{
			TypeAccount:     binOf(bins.Accounts),
			TypeReceipt:     binOf(bins.Receipts),
			TypeReceiptItem: binOf(bins.Items),
			TypeTransaction: binOf(bins.Transactions),
		},
	}
}

// RegisterRoutes registers recycle bin routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/recycle-bin/{type}", h.listDeleted).Methods(http.MethodGet)
	router.HandleFunc("/recycle-bin/{type}/{id}/restore", h.restore).Methods(http.MethodPost)
}

// listDeleted handles GET /recycle-bin/{type}?limit=N
func (h *Handlers) listDeleted(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookup(w, r)
	if !ok {
		return
	}
	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", defaultListLimit)
	if !ok {
		return
	}
	rows, err := b.listDeleted(r.Context(), limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, rows)
}

// restore handles POST /recycle-bin/{type}/{id}/restore
func (h *Handlers) restore(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	result, err := b.restore(r.Context(), id)
	switch {
	case errors.Is(err, lifecycle.ErrNoActor):
		httputil.WriteUnauthorized(w, err.Error())
		return
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).WithField("entity_id", id).Error("restore failed")
		httputil.WriteInternalError(w, err)
		return
	}

	switch result {
	case lifecycle.Restored:
		_ = httputil.WriteSuccess(w, map[string]interface{}{"id": id, "restored": true})
	case lifecycle.RestoreNotDeleted:
		httputil.WriteErrorMessage(w, http.StatusConflict, "entity is not deleted")
	case lifecycle.RestoreOwnerDeleted:
		httputil.WriteErrorMessage(w, http.StatusConflict, "owner is deleted")
	default:
		httputil.WriteNotFound(w, "entity not found")
	}
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (bin, bool) {
	typ := mux.Vars(r)["type"]
	b, ok := h.bins[typ]
	if !ok {
		httputil.WriteNotFound(w, "unknown entity type "+typ)
	}
	return b, ok
}
