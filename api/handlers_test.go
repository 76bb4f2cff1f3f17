package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_sync/crm"
	"catalog_sync/models"
	"catalog_sync/services"
	"catalog_sync/storage"
	"catalog_sync/syncer"
)

type stubCatalog struct {
	pages   [][]string
	details map[string]*models.CRMListing
	err     error
}

func (c *stubCatalog) ListPage(_ context.Context, page, _ int) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	if page > len(c.pages) {
		return nil, nil
	}
	return c.pages[page-1], nil
}

func (c *stubCatalog) Pages(ctx context.Context, start, size int) iter.Seq2[crm.Page, error] {
	return func(yield func(crm.Page, error) bool) {
		for n := start; ; n++ {
			ids, err := c.ListPage(ctx, n, size)
			if err != nil {
				yield(crm.Page{Number: n}, err)
				return
			}
			p := crm.Page{Number: n, IDs: ids}
			if !yield(p, nil) || !p.Full(size) {
				return
			}
		}
	}
}

func (c *stubCatalog) ListListings(_ context.Context, page, _ int) (json.RawMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(fmt.Sprintf(`{"page":%d}`, page)), nil
}

func (c *stubCatalog) FetchDetails(_ context.Context, id string) (*models.CRMListing, error) {
	if c.err != nil {
		return nil, c.err
	}
	d, ok := c.details[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, crm.ErrNotFound)
	}
	return d, nil
}

func (c *stubCatalog) ListFields(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"imoveis":["Codigo"]}`), nil
}

type stubSyncer struct {
	stats  *models.SyncStats
	step   *syncer.StepResult
	result *services.SyncResult
	err    error
	lastID string
	ctx    context.Context
}

func (s *stubSyncer) RunAll(ctx context.Context) (*models.SyncStats, error) {
	s.ctx = ctx
	return s.stats, s.err
}

func (s *stubSyncer) Step(context.Context) (*syncer.StepResult, error) { return s.step, s.err }
func (s *stubSyncer) SyncListing(_ context.Context, id string) (*services.SyncResult, error) {
	s.lastID = id
	return s.result, s.err
}

type env struct {
	srv     *httptest.Server
	store   *storage.SQLiteStore
	catalog *stubCatalog
	sync    *stubSyncer
	photos  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := &env{
		store:   store,
		catalog: &stubCatalog{pages: [][]string{{"1", "2"}, {"3"}}, details: map[string]*models.CRMListing{"1": {Code: "1"}}},
		sync:    &stubSyncer{},
		photos:  t.TempDir(),
	}
	h := NewHandler(e.catalog, store, e.sync, syncer.NewTracker(store), 2, e.photos)
	h.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	e.srv = httptest.NewServer(NewRouter(h))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCRMRoutes(t *testing.T) {
	e := newEnv(t)

	var ids []string
	assert.Equal(t, http.StatusOK, e.get(t, "/crm/listings/ids/1", &ids))
	assert.Equal(t, []string{"1", "2"}, ids)

	assert.Equal(t, http.StatusOK, e.get(t, "/crm/listings/ids/9", &ids))
	assert.Equal(t, []string{}, ids)

	assert.Equal(t, http.StatusBadRequest, e.get(t, "/crm/listings/ids/zero", nil))

	var all []string
	assert.Equal(t, http.StatusOK, e.get(t, "/crm/ids", &all))
	assert.Equal(t, []string{"1", "2", "3"}, all)

	var raw map[string]int
	assert.Equal(t, http.StatusOK, e.get(t, "/crm/listings?page=4", &raw))
	assert.Equal(t, 4, raw["page"])

	var detail models.CRMListing
	assert.Equal(t, http.StatusOK, e.get(t, "/crm/listings/1", &detail))
	assert.Equal(t, models.Text("1"), detail.Code)

	var errBody errorResponse
	assert.Equal(t, http.StatusNotFound, e.get(t, "/crm/listings/404", &errBody))
	assert.Contains(t, errBody.Error, "not found")

	assert.Equal(t, http.StatusOK, e.get(t, "/crm/fields", nil))
}

func TestCRMTransportErrorIsBadGateway(t *testing.T) {
	e := newEnv(t)
	e.catalog.err = &crm.TransportError{Op: "list", URL: "http://crm/imoveis/listar", StatusCode: 503}

	assert.Equal(t, http.StatusBadGateway, e.get(t, "/crm/listings/ids/1", nil))
	assert.Equal(t, http.StatusBadGateway, e.get(t, "/crm/ids", nil))
}

func TestLocalReads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.Equal(t, http.StatusNotFound, e.get(t, "/local/listings/77", nil))

	var vals []models.ValuationSnapshot
	assert.Equal(t, http.StatusOK, e.get(t, "/local/listings/77/valuations", &vals))
	assert.Empty(t, vals)

	require.NoError(t, e.store.UpsertListing(ctx, &models.Listing{ID: "77", Title: "Casa", SalePrice: "500000"}))
	require.NoError(t, e.store.AppendValuation(ctx, &models.ValuationSnapshot{ListingID: "77", RecordedAt: time.Now(), SalePrice: "500000"}))
	_, err := e.store.UpsertPhoto(ctx, &models.PhotoAsset{
		ListingID: "77", Filename: "77/casa-77-1.jpg", RemoteFilename: "abc.jpg",
		CategoryID: models.PhotoCategoryDefault, IsPrimary: true, DisplayOrder: 1,
	})
	require.NoError(t, err)

	var l models.Listing
	assert.Equal(t, http.StatusOK, e.get(t, "/local/listings/77", &l))
	assert.Equal(t, "Casa", l.Title)

	assert.Equal(t, http.StatusOK, e.get(t, "/local/listings/77/valuations", &vals))
	require.Len(t, vals, 1)
	assert.Equal(t, "500000", vals[0].SalePrice)

	var photos []models.PhotoAsset
	assert.Equal(t, http.StatusOK, e.get(t, "/local/listings/77/photos", &photos))
	require.Len(t, photos, 1)

	var p models.PhotoAsset
	assert.Equal(t, http.StatusOK, e.get(t, "/local/photos/abc.jpg", &p))
	assert.Equal(t, "77/casa-77-1.jpg", p.Filename)
	assert.Equal(t, http.StatusNotFound, e.get(t, "/local/photos/zzz.jpg", nil))
}

func TestSyncRoutes(t *testing.T) {
	e := newEnv(t)
	e.sync.stats = &models.SyncStats{PagesFetched: 2, ListingsSynced: 3}
	e.sync.result = &services.SyncResult{ListingID: "5", IsNew: true}
	e.sync.step = &syncer.StepResult{Action: services.ActionAdvance, Page: 1, Outcome: "synced"}

	var msg struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	assert.Equal(t, http.StatusOK, e.get(t, "/sync/batch-all", &msg))
	var stats models.SyncStats
	require.NoError(t, json.Unmarshal(msg.Data, &stats))
	assert.Equal(t, 3, stats.ListingsSynced)

	assert.Equal(t, http.StatusOK, e.get(t, "/sync/listings/5", &msg))
	assert.Equal(t, "5", e.sync.lastID)

	assert.Equal(t, http.StatusOK, e.get(t, "/sync/checkpointed", &msg))
	var step syncer.StepResult
	require.NoError(t, json.Unmarshal(msg.Data, &step))
	assert.Equal(t, "synced", step.Outcome)

	e.sync.err = syncer.ErrSyncInProgress
	assert.Equal(t, http.StatusConflict, e.get(t, "/sync/batch-all", nil))
	e.sync.err = syncer.ErrProgressConflict
	e.sync.step = nil
	assert.Equal(t, http.StatusConflict, e.get(t, "/sync/checkpointed", nil))
}

func TestSyncCheckpointedReportsFailedStep(t *testing.T) {
	e := newEnv(t)
	e.sync.step = &syncer.StepResult{Action: services.ActionRetry, Page: 4, Outcome: "failed"}
	e.sync.err = &crm.TransportError{Op: "list", URL: "http://crm", StatusCode: 500}

	var body struct {
		Error string             `json:"error"`
		Data  *syncer.StepResult `json:"data"`
	}
	assert.Equal(t, http.StatusBadGateway, e.get(t, "/sync/checkpointed", &body))
	require.NotNil(t, body.Data)
	assert.Equal(t, 4, body.Data.Page)
	assert.NotEmpty(t, body.Error)
}

func TestSyncRuns(t *testing.T) {
	e := newEnv(t)

	var runs []models.SyncRun
	assert.Equal(t, http.StatusOK, e.get(t, "/sync/runs", &runs))
	assert.Empty(t, runs)
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/sync/runs?limit=0", nil))
}

func TestProgressRoutes(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusNotFound, e.get(t, "/progress", nil))

	var rec models.SyncProgress
	assert.Equal(t, http.StatusOK, e.get(t, "/progress/update?page=7&status=Retrying", &rec))
	assert.Equal(t, 7, rec.Page)
	assert.Equal(t, 0, rec.Attempts)
	assert.Equal(t, models.ProgressRetrying, rec.Status)

	assert.Equal(t, http.StatusOK, e.get(t, "/progress", &rec))
	assert.Equal(t, "2026-03-14", rec.Day)
	assert.Equal(t, 7, rec.Page)

	resp, err := http.PostForm(e.srv.URL+"/progress/update", map[string][]string{
		"page": {"3"}, "attempts": {"2"}, "status": {"InProgress"},
	})
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, rec.Page)
	assert.Equal(t, 2, rec.Attempts)

	assert.Equal(t, http.StatusBadRequest, e.get(t, "/progress/update?page=x", nil))
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/progress/update?page=0", nil))
	assert.Equal(t, http.StatusBadRequest, e.get(t, "/progress/update?page=2&status=Done", nil))
}

func TestVisibilityToggles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.UpsertListing(ctx, &models.Listing{ID: "9", Visible: true}))

	assert.Equal(t, http.StatusOK, e.get(t, "/listings/9/deactivate", nil))
	l, err := e.store.FindListing(ctx, "9")
	require.NoError(t, err)
	assert.False(t, l.Visible)

	assert.Equal(t, http.StatusOK, e.get(t, "/listings/9/activate", nil))
	l, err = e.store.FindListing(ctx, "9")
	require.NoError(t, err)
	assert.True(t, l.Visible)

	assert.Equal(t, http.StatusNotFound, e.get(t, "/listings/404/activate", nil))
}

func TestServesPhotoFiles(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(e.photos, "9"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.photos, "9", "casa-9-1.jpg"), []byte("jpeg"), 0o644))

	resp, err := http.Get(e.srv.URL + "/imagens/9/casa-9-1.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	wrapped := fmt.Errorf("sync: %w", storage.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, statusFor(wrapped))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", syncer.ErrInvalidProgress)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("page 2: %w", &crm.TransportError{Op: "list"})))
}

func TestSyncBatchAllOutlivesRequest(t *testing.T) {
	e := newEnv(t)
	e.sync.stats = &models.SyncStats{}

	assert.Equal(t, http.StatusOK, e.get(t, "/sync/batch-all", nil))
	require.NotNil(t, e.sync.ctx)
	assert.Nil(t, e.sync.ctx.Done(), "sync must not be tied to the request lifetime")
	assert.NoError(t, e.sync.ctx.Err())
}
