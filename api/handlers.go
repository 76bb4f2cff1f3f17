package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"catalog_sync/crm"
	"catalog_sync/models"
	"catalog_sync/services"
	"catalog_sync/storage"
	"catalog_sync/syncer"
)

// Catalog is the CRM surface exposed for diagnostics.
type Catalog interface {
	ListPage(ctx context.Context, page, pageSize int) ([]string, error)
	Pages(ctx context.Context, startPage, pageSize int) iter.Seq2[crm.Page, error]
	ListListings(ctx context.Context, page, pageSize int) (json.RawMessage, error)
	FetchDetails(ctx context.Context, id string) (*models.CRMListing, error)
	ListFields(ctx context.Context) (json.RawMessage, error)
}

// Syncer is the sync driver as seen by the routes.
type Syncer interface {
	RunAll(ctx context.Context) (*models.SyncStats, error)
	Step(ctx context.Context) (*syncer.StepResult, error)
	SyncListing(ctx context.Context, id string) (*services.SyncResult, error)
}

type Handler struct {
	catalog  Catalog
	store    storage.Store
	sync     Syncer
	tracker  *syncer.Tracker
	pageSize int
	photoDir string
	now      func() time.Time
}

func NewHandler(catalog Catalog, store storage.Store, sync Syncer, tracker *syncer.Tracker, pageSize int, photoDir string) *Handler {
	return &Handler{
		catalog:  catalog,
		store:    store,
		sync:     sync,
		tracker:  tracker,
		pageSize: pageSize,
		photoDir: photoDir,
		now:      time.Now,
	}
}

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("HTTP: write response: %v", err)
	}
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	var te *crm.TransportError
	switch {
	case errors.Is(err, crm.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrSyncInProgress), errors.Is(err, syncer.ErrProgressConflict):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrInvalidProgress):
		return http.StatusBadRequest
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[error] HTTP: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: msg})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func pageParam(raw string) (int, bool) {
	if raw == "" {
		return 1, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// =============================================================================
// CRM passthroughs
// =============================================================================

func (h *Handler) CRMListings(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(r.URL.Query().Get("page"))
	if !ok {
		badRequest(w, "page must be a positive integer")
		return
	}
	raw, err := h.catalog.ListListings(r.Context(), page, h.pageSize)
	if err != nil {
		respondError(w, err)
		return
	}
	writeRaw(w, raw)
}

func (h *Handler) CRMListingIDs(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(chi.URLParam(r, "page"))
	if !ok {
		badRequest(w, "page must be a positive integer")
		return
	}
	ids, err := h.catalog.ListPage(r.Context(), page, h.pageSize)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ids))
}

// CRMAllIDs walks every page and returns all listing codes.
func (h *Handler) CRMAllIDs(w http.ResponseWriter, r *http.Request) {
	all := []string{}
	for page, err := range h.catalog.Pages(r.Context(), 1, h.pageSize) {
		if err != nil {
			respondError(w, err)
			return
		}
		all = append(all, page.IDs...)
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) CRMListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.catalog.FetchDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) CRMFields(w http.ResponseWriter, r *http.Request) {
	raw, err := h.catalog.ListFields(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeRaw(w, raw)
}

// =============================================================================
// Local reads
// =============================================================================

func (h *Handler) LocalListing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	listing, err := h.store.FindListing(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if listing == nil {
		notFound(w, "listing not found")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) LocalValuations(w http.ResponseWriter, r *http.Request) {
	vals, err := h.store.ListValuations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(vals))
}

func (h *Handler) LocalPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.store.ListPhotos(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(photos))
}

func (h *Handler) LocalPhoto(w http.ResponseWriter, r *http.Request) {
	photo, err := h.store.FindPhotoByRemoteName(r.Context(), chi.URLParam(r, "remoteFilename"))
	if err != nil {
		respondError(w, err)
		return
	}
	if photo == nil {
		notFound(w, "photo not found")
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

// =============================================================================
// Sync triggers
// =============================================================================

// detach keeps a sync running after its caller hangs up; only process
// shutdown stops it.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) SyncListing(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.SyncListing(detach(r), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "listing synced", Data: res})
}

// SyncBatchAll answers only once every page has been processed.
func (h *Handler) SyncBatchAll(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sync.RunAll(detach(r))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "sync complete", Data: stats})
}

func (h *Handler) SyncCheckpointed(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.Step(detach(r))
	if err != nil && res != nil {
		// the step ran but its page failed
		writeJSON(w, statusFor(err), struct {
			Error string             `json:"error"`
			Data  *syncer.StepResult `json:"data"`
		}{err.Error(), res})
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "step complete", Data: res})
}

func (h *Handler) SyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			badRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

// =============================================================================
// Progress
// =============================================================================

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	rec, err := h.tracker.Current(r.Context(), h.now())
	if err != nil {
		respondError(w, err)
		return
	}
	if rec == nil {
		notFound(w, "no sync progress for today")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ProgressUpdate overrides today's record from page, attempts and status
// given as query or form values.
func (h *Handler) ProgressUpdate(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.FormValue("page"))
	if err != nil {
		badRequest(w, "page must be an integer")
		return
	}
	attempts := 0
	if raw := r.FormValue("attempts"); raw != "" {
		if attempts, err = strconv.Atoi(raw); err != nil {
			badRequest(w, "attempts must be an integer")
			return
		}
	}
	status := models.ProgressStatus(r.FormValue("status"))
	if status == "" {
		status = models.ProgressCompleted
	}

	rec, err := h.tracker.Set(r.Context(), h.now(), page, attempts, status)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// Visibility
// =============================================================================

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, true)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, false)
}

func (h *Handler) setVisibility(w http.ResponseWriter, r *http.Request, visible bool) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetVisibility(r.Context(), id, visible); err != nil {
		respondError(w, err)
		return
	}
	msg := "listing deactivated"
	if visible {
		msg = "listing activated"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg, Data: map[string]any{"id": id, "visible": visible}})
}
