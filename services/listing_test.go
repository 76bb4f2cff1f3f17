package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_sync/models"
	"catalog_sync/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// photoHost serves any /fotos/<name> with a small body; names containing
// "broken" answer 500.
func photoHost(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "broken") {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingMirror struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *recordingMirror) UploadFile(ctx context.Context, key, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return m.err
}

func testPayload(host string) *models.CRMListing {
	return &models.CRMListing{
		Code:          "4021",
		Building:      "Edifício São João",
		Description:   "Apartamento de frente para o mar",
		Bedrooms:      "3",
		City:          "Balneário Camboriú",
		SalePrice:     "1250000",
		RentalPrice:   "",
		PropertyTax:   "3200",
		CondoFee:      "1100",
		Situation:     "Pronto",
		UpdatedAt:     "2026-10-18 14:22:05",
		PublishOnSite: models.CRMYes,
		Photos: models.CRMPhotos{
			{Index: "1", URL: models.Text(host + "/fotos/a1.jpg"), Featured: models.CRMYes},
			{Index: "3", URL: models.Text(host + "/fotos/b3.jpg"), Featured: models.CRMNo},
		},
	}
}

type fixture struct {
	store   *storage.SQLiteStore
	photos  *PhotoService
	listing *ListingService
	dir     string
	host    *httptest.Server
}

func newFixture(t *testing.T, crm DetailFetcher) *fixture {
	t.Helper()
	f := &fixture{
		store: newTestStore(t),
		dir:   t.TempDir(),
		host:  photoHost(t),
	}
	f.photos = NewPhotoService(f.store, f.host.Client(), f.dir, nil)
	f.listing = NewListingService(f.store, crm, f.photos)
	f.listing.now = func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) }
	return f
}

func TestMapListing(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)

	l := MapListing(testPayload("http://x"), now)
	assert.Equal(t, "4021", l.ID)
	assert.Equal(t, "Edifício São João", l.Title)
	assert.Equal(t, "2026-10-19", l.LastModified)
	assert.Equal(t, "Pronto", l.Situation)
	assert.Equal(t, "2026-10-18 14:22:05", l.CRMUpdatedAt)
	assert.True(t, l.Visible)
	assert.True(t, l.Synced)
	assert.Nil(t, l.Suites)

	p := testPayload("http://x")
	p.Building = ""
	p.Description = models.Text(strings.Repeat("á", 60))
	p.PublishOnSite = models.CRMNo
	l = MapListing(p, now)
	assert.Equal(t, strings.Repeat("á", 50), l.Title)
	assert.False(t, l.Visible)
}

func TestSyncListing_InsertThenUpdate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	payload := testPayload(f.host.URL)

	res, err := f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 2, res.Photos.Inserted)

	first, err := f.store.FindListing(ctx, "4021")
	require.NoError(t, err)
	require.NotNil(t, first)

	res, err = f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, 2, res.Photos.Unchanged)

	second, err := f.store.FindListing(ctx, "4021")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	vals, err := f.store.ListValuations(ctx, "4021")
	require.NoError(t, err)
	assert.Len(t, vals, 2)
	assert.Equal(t, "1250000", vals[1].SalePrice)

	photos, err := f.store.ListPhotos(ctx, "4021")
	require.NoError(t, err)
	assert.Len(t, photos, 2)
}

func TestSyncListing_OverwritesWholeRow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	payload := testPayload(f.host.URL)
	payload.Photos = nil
	_, err := f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)

	payload.Building = "Residencial Lua"
	payload.SalePrice = "1100000"
	payload.PublishOnSite = models.CRMNo
	_, err = f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)

	got, err := f.store.FindListing(ctx, "4021")
	require.NoError(t, err)
	assert.Equal(t, "Residencial Lua", got.Title)
	assert.Equal(t, "1100000", got.SalePrice)
	assert.False(t, got.Visible)
}

func TestSyncPhotos_FilesAndRows(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.listing.SyncListing(ctx, testPayload(f.host.URL))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.dir, "4021", "edificio-sao-joao-4021-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/fotos/a1.jpg", string(data))
	assert.FileExists(t, filepath.Join(f.dir, "4021", "edificio-sao-joao-4021-3.jpg"))

	row, err := f.store.FindPhotoByRemoteName(ctx, "a1.jpg")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "4021/edificio-sao-joao-4021-1.jpg", row.Filename)
	assert.True(t, row.IsPrimary)
	assert.Equal(t, 1, row.DisplayOrder)
	assert.Equal(t, models.PhotoCategoryDefault, row.CategoryID)
	assert.Equal(t, "4021", row.ImportedID)
	assert.Nil(t, row.Caption)

	row, err = f.store.FindPhotoByRemoteName(ctx, "b3.jpg")
	require.NoError(t, err)
	assert.False(t, row.IsPrimary)
	assert.Equal(t, 3, row.DisplayOrder)
}

func TestSyncPhotos_FeaturedChangeUpdatesInPlace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	payload := testPayload(f.host.URL)

	_, err := f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)

	payload.Photos[0].Featured = models.CRMNo
	payload.Photos[1].Featured = models.CRMYes
	res, err := f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Photos.Updated)

	photos, err := f.store.ListPhotos(ctx, "4021")
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.False(t, photos[0].IsPrimary)
	assert.True(t, photos[1].IsPrimary)
}

func TestSyncPhotos_TitleChangeKeepsIdentity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	payload := testPayload(f.host.URL)

	_, err := f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)

	payload.Building = "Torre Norte"
	_, err = f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)

	photos, err := f.store.ListPhotos(ctx, "4021")
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, "4021/torre-norte-4021-1.jpg", photos[0].Filename)
}

func TestSyncPhotos_DownloadFailureSkipsPhoto(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	payload := testPayload(f.host.URL)
	payload.Photos = append(models.CRMPhotos{
		{Index: "0", URL: models.Text(f.host.URL + "/fotos/broken.jpg")},
	}, payload.Photos...)

	res, err := f.listing.SyncListing(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Photos.Failed)
	assert.Equal(t, 2, res.Photos.Inserted)

	missing, err := f.store.FindPhotoByRemoteName(ctx, "broken.jpg")
	require.NoError(t, err)
	assert.Nil(t, missing)

	entries, err := os.ReadDir(filepath.Join(f.dir, "4021"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".download-"), "temp file left behind: %s", e.Name())
	}
}

func TestSyncPhotos_ExistingDirectoryIsFine(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "4021"), 0o755))

	_, err := f.listing.SyncListing(context.Background(), testPayload(f.host.URL))
	require.NoError(t, err)
}

func TestSyncPhotos_Mirror(t *testing.T) {
	f := newFixture(t, nil)
	mirror := &recordingMirror{err: errors.New("bucket down")}
	f.photos.mirror = mirror

	res, err := f.listing.SyncListing(context.Background(), testPayload(f.host.URL))
	require.NoError(t, err)

	assert.Equal(t, []string{"4021/edificio-sao-joao-4021-1.jpg", "4021/edificio-sao-joao-4021-3.jpg"}, mirror.keys)
	assert.Equal(t, 2, res.Photos.MirrorFailed)
	assert.Equal(t, 2, res.Photos.Inserted)
}

func TestSyncListing_MissingCodeSkipsPhotos(t *testing.T) {
	f := newFixture(t, nil)
	payload := testPayload(f.host.URL)
	payload.Code = ""

	res, err := f.listing.SyncListing(context.Background(), payload)
	require.NoError(t, err)
	assert.Zero(t, res.Photos.Saved())

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSyncListing_CodeOutsidePhotoRootSkipsPhotos(t *testing.T) {
	f := newFixture(t, nil)
	root := filepath.Join(f.dir, "imagens")
	f.photos = NewPhotoService(f.store, f.host.Client(), root, nil)
	f.listing = NewListingService(f.store, nil, f.photos)

	for _, code := range []string{"../escape", "a/b", `..\x`, ".."} {
		payload := testPayload(f.host.URL)
		payload.Code = models.Text(code)

		res, err := f.listing.SyncListing(context.Background(), payload)
		require.NoError(t, err, code)
		assert.Zero(t, res.Photos.Saved(), code)

		photos, err := f.store.ListPhotos(context.Background(), code)
		require.NoError(t, err)
		assert.Empty(t, photos, code)
	}

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be written beside the photo root")
}

func TestSafeDirName(t *testing.T) {
	for _, ok := range []string{"4021", "AP-12", "casa_3"} {
		assert.True(t, safeDirName(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`, "/abs"} {
		assert.False(t, safeDirName(bad), bad)
	}
}

type failingStore struct {
	storage.ListingStore
}

func (failingStore) FindListing(ctx context.Context, id string) (*models.Listing, error) {
	return nil, nil
}

func (failingStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	return errors.New("disk full")
}

func TestSyncListing_PersistenceError(t *testing.T) {
	svc := NewListingService(failingStore{}, nil, nil)

	_, err := svc.SyncListing(context.Background(), testPayload("http://x"))
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "4021", pe.ListingID)
	assert.Equal(t, "upsert listing", pe.Op)
}

type stubFetcher map[string]*models.CRMListing

func (s stubFetcher) FetchDetails(ctx context.Context, id string) (*models.CRMListing, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, errNotInStub
}

var errNotInStub = errors.New("not in stub")

func TestSyncByID(t *testing.T) {
	f := newFixture(t, nil)
	payload := testPayload(f.host.URL)
	f.listing.crm = stubFetcher{"4021": payload}

	res, err := f.listing.SyncByID(context.Background(), "4021")
	require.NoError(t, err)
	assert.True(t, res.IsNew)

	_, err = f.listing.SyncByID(context.Background(), "9999")
	assert.ErrorIs(t, err, errNotInStub)
}
