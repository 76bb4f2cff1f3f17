package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"catalog_sync/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	if strings.Contains(dbPath, "?") {
		dsn = dbPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer is all the sync ever needs, and it keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		purpose TEXT NOT NULL DEFAULT '',
		parking_spaces TEXT NOT NULL DEFAULT '',
		bedrooms TEXT NOT NULL DEFAULT '',
		suites TEXT,
		bathrooms TEXT NOT NULL DEFAULT '',
		private_area TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		address_type TEXT NOT NULL DEFAULT '',
		neighborhood TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		sea_distance TEXT NOT NULL DEFAULT '',
		sale_price TEXT NOT NULL DEFAULT '',
		rental_price TEXT NOT NULL DEFAULT '',
		property_tax TEXT NOT NULL DEFAULT '',
		condo_fee TEXT NOT NULL DEFAULT '',
		latitude TEXT NOT NULL DEFAULT '',
		longitude TEXT NOT NULL DEFAULT '',
		situation TEXT NOT NULL DEFAULT '',
		crm_updated_at TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		synced BOOLEAN NOT NULL DEFAULT FALSE,
		visible BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS valuations (
		id INTEGER PRIMARY KEY,
		listing_id TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		sale_price TEXT NOT NULL DEFAULT '',
		rental_price TEXT NOT NULL DEFAULT '',
		property_tax TEXT NOT NULL DEFAULT '',
		condo_fee TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS photos (
		id INTEGER PRIMARY KEY,
		listing_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		remote_filename TEXT NOT NULL UNIQUE,
		caption TEXT,
		category_id INTEGER NOT NULL DEFAULT 1,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		imported_id TEXT NOT NULL DEFAULT '',
		display_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_progress (
		day TEXT PRIMARY KEY,
		page INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		pages_fetched INTEGER NOT NULL DEFAULT 0,
		listings_synced INTEGER NOT NULL DEFAULT 0,
		listings_new INTEGER NOT NULL DEFAULT 0,
		photos_saved INTEGER NOT NULL DEFAULT 0,
		errors_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_valuations_listing ON valuations(listing_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_photos_listing ON photos(listing_id, display_order);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const listingColumns = `id, title, description, status, category, purpose, parking_spaces, bedrooms, suites,
	bathrooms, private_area, address, address_type, neighborhood, city, state, sea_distance,
	sale_price, rental_price, property_tax, condo_fee, latitude, longitude, situation, crm_updated_at, last_modified, synced, visible`

func (s *SQLiteStore) FindListing(ctx context.Context, id string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)

	var l models.Listing
	var suites sql.NullString
	err := row.Scan(&l.ID, &l.Title, &l.Description, &l.Status, &l.Category, &l.Purpose,
		&l.ParkingSpaces, &l.Bedrooms, &suites, &l.Bathrooms, &l.PrivateArea, &l.Address,
		&l.AddressType, &l.Neighborhood, &l.City, &l.State, &l.SeaDistance, &l.SalePrice,
		&l.RentalPrice, &l.PropertyTax, &l.CondoFee, &l.Latitude, &l.Longitude,
		&l.Situation, &l.CRMUpdatedAt, &l.LastModified, &l.Synced, &l.Visible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", id, err)
	}
	if suites.Valid {
		l.Suites = &suites.String
	}
	return &l, nil
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			category = excluded.category,
			purpose = excluded.purpose,
			parking_spaces = excluded.parking_spaces,
			bedrooms = excluded.bedrooms,
			suites = excluded.suites,
			bathrooms = excluded.bathrooms,
			private_area = excluded.private_area,
			address = excluded.address,
			address_type = excluded.address_type,
			neighborhood = excluded.neighborhood,
			city = excluded.city,
			state = excluded.state,
			sea_distance = excluded.sea_distance,
			sale_price = excluded.sale_price,
			rental_price = excluded.rental_price,
			property_tax = excluded.property_tax,
			condo_fee = excluded.condo_fee,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			situation = excluded.situation,
			crm_updated_at = excluded.crm_updated_at,
			last_modified = excluded.last_modified,
			synced = excluded.synced,
			visible = excluded.visible`,
		l.ID, l.Title, l.Description, l.Status, l.Category, l.Purpose, l.ParkingSpaces,
		l.Bedrooms, l.Suites, l.Bathrooms, l.PrivateArea, l.Address, l.AddressType,
		l.Neighborhood, l.City, l.State, l.SeaDistance, l.SalePrice, l.RentalPrice,
		l.PropertyTax, l.CondoFee, l.Latitude, l.Longitude,
		l.Situation, l.CRMUpdatedAt, l.LastModified, l.Synced, l.Visible)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SetVisibility(ctx context.Context, id string, visible bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET visible = ? WHERE id = ?`, visible, id)
	if err != nil {
		return fmt.Errorf("set visibility %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AppendValuation(ctx context.Context, v *models.ValuationSnapshot) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO valuations (listing_id, recorded_at, sale_price, rental_price, property_tax, condo_fee)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ListingID, v.RecordedAt.UTC(), v.SalePrice, v.RentalPrice, v.PropertyTax, v.CondoFee)
	if err != nil {
		return fmt.Errorf("append valuation %s: %w", v.ListingID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		v.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListValuations(ctx context.Context, listingID string) ([]models.ValuationSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, recorded_at, sale_price, rental_price, property_tax, condo_fee
		FROM valuations WHERE listing_id = ? ORDER BY recorded_at, id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list valuations %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []models.ValuationSnapshot
	for rows.Next() {
		var v models.ValuationSnapshot
		if err := rows.Scan(&v.ID, &v.ListingID, &v.RecordedAt, &v.SalePrice, &v.RentalPrice,
			&v.PropertyTax, &v.CondoFee); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const photoColumns = `id, listing_id, filename, remote_filename, caption, category_id, is_primary, imported_id, display_order`

func scanPhoto(scan func(dest ...any) error) (*models.PhotoAsset, error) {
	var p models.PhotoAsset
	var caption sql.NullString
	if err := scan(&p.ID, &p.ListingID, &p.Filename, &p.RemoteFilename, &caption,
		&p.CategoryID, &p.IsPrimary, &p.ImportedID, &p.DisplayOrder); err != nil {
		return nil, err
	}
	if caption.Valid {
		p.Caption = &caption.String
	}
	return &p, nil
}

func (s *SQLiteStore) FindPhotoByRemoteName(ctx context.Context, remoteFilename string) (*models.PhotoAsset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE remote_filename = ?`, remoteFilename)
	p, err := scanPhoto(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find photo %s: %w", remoteFilename, err)
	}
	return p, nil
}

func (s *SQLiteStore) UpsertPhoto(ctx context.Context, p *models.PhotoAsset) (models.PhotoWrite, error) {
	existing, err := s.FindPhotoByRemoteName(ctx, p.RemoteFilename)
	if err != nil {
		return "", err
	}

	if existing == nil {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO photos (listing_id, filename, remote_filename, caption, category_id, is_primary, imported_id, display_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ListingID, p.Filename, p.RemoteFilename, p.Caption, p.CategoryID, p.IsPrimary, p.ImportedID, p.DisplayOrder)
		if err != nil {
			return "", fmt.Errorf("insert photo %s: %w", p.RemoteFilename, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			p.ID = id
		}
		return models.PhotoInserted, nil
	}

	p.ID = existing.ID
	if !photoDiffers(existing, p) {
		return models.PhotoUnchanged, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE photos SET listing_id = ?, filename = ?, caption = ?, category_id = ?, is_primary = ?,
			imported_id = ?, display_order = ?
		WHERE id = ?`,
		p.ListingID, p.Filename, p.Caption, p.CategoryID, p.IsPrimary, p.ImportedID, p.DisplayOrder, existing.ID)
	if err != nil {
		return "", fmt.Errorf("update photo %s: %w", p.RemoteFilename, err)
	}
	return models.PhotoUpdated, nil
}

func (s *SQLiteStore) ListPhotos(ctx context.Context, listingID string) ([]models.PhotoAsset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+photoColumns+` FROM photos WHERE listing_id = ? ORDER BY display_order, id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list photos %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []models.PhotoAsset
	for rows.Next() {
		p, err := scanPhoto(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetProgress(ctx context.Context, day string) (*models.SyncProgress, error) {
	var p models.SyncProgress
	err := s.db.QueryRowContext(ctx, `
		SELECT day, page, attempts, status, updated_at FROM sync_progress WHERE day = ?`, day,
	).Scan(&p.Day, &p.Page, &p.Attempts, &p.Status, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress %s: %w", day, err)
	}
	return &p, nil
}

func (s *SQLiteStore) CreateProgress(ctx context.Context, p *models.SyncProgress) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_progress (day, page, attempts, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day) DO NOTHING`,
		p.Day, p.Page, p.Attempts, p.Status, stamp(p.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("create progress %s: %w", p.Day, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteStore) SwapProgress(ctx context.Context, prev, next *models.SyncProgress) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_progress SET page = ?, attempts = ?, status = ?, updated_at = ?
		WHERE day = ? AND page = ? AND attempts = ? AND status = ?`,
		next.Page, next.Attempts, next.Status, stamp(next.UpdatedAt),
		prev.Day, prev.Page, prev.Attempts, prev.Status)
	if err != nil {
		return false, fmt.Errorf("swap progress %s: %w", prev.Day, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLiteStore) SaveProgress(ctx context.Context, p *models.SyncProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_progress (day, page, attempts, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			page = excluded.page,
			attempts = excluded.attempts,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		p.Day, p.Page, p.Attempts, p.Status, stamp(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save progress %s: %w", p.Day, err)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, mode, started_at, status) VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.Mode, run.StartedAt.UTC(), run.Status)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.SyncRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET finished_at = ?, status = ?, pages_fetched = ?, listings_synced = ?,
			listings_new = ?, photos_saved = ?, errors_count = ?, error_message = ?
		WHERE id = ?`,
		finished, run.Status, run.PagesFetched, run.ListingsSynced, run.ListingsNew,
		run.PhotosSaved, run.ErrorsCount, run.ErrorMessage, run.ID.String())
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, started_at, finished_at, status, pages_fetched, listings_synced,
			listings_new, photos_saved, errors_count, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var finished sql.NullTime
		var runID string
		if err := rows.Scan(&runID, &run.Mode, &run.StartedAt, &finished, &run.Status, &run.PagesFetched,
			&run.ListingsSynced, &run.ListingsNew, &run.PhotosSaved, &run.ErrorsCount, &run.ErrorMessage); err != nil {
			return nil, err
		}
		if err := run.ID.UnmarshalText([]byte(runID)); err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", runID, err)
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
