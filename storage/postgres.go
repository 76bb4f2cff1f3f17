package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalog_sync/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
		id BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		sale_price TEXT NOT NULL DEFAULT '',
		rental_price TEXT NOT NULL DEFAULT '',
		property_tax TEXT NOT NULL DEFAULT '',
		condo_fee TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS photos (
		id BIGSERIAL PRIMARY KEY,
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
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id UUID PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
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
	`)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) FindListing(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	err := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id).Scan(
		&l.ID, &l.Title, &l.Description, &l.Status, &l.Category, &l.Purpose,
		&l.ParkingSpaces, &l.Bedrooms, &l.Suites, &l.Bathrooms, &l.PrivateArea, &l.Address,
		&l.AddressType, &l.Neighborhood, &l.City, &l.State, &l.SeaDistance, &l.SalePrice,
		&l.RentalPrice, &l.PropertyTax, &l.CondoFee, &l.Latitude, &l.Longitude,
		&l.Situation, &l.CRMUpdatedAt, &l.LastModified, &l.Synced, &l.Visible,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", id, err)
	}
	return &l, nil
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			category = EXCLUDED.category,
			purpose = EXCLUDED.purpose,
			parking_spaces = EXCLUDED.parking_spaces,
			bedrooms = EXCLUDED.bedrooms,
			suites = EXCLUDED.suites,
			bathrooms = EXCLUDED.bathrooms,
			private_area = EXCLUDED.private_area,
			address = EXCLUDED.address,
			address_type = EXCLUDED.address_type,
			neighborhood = EXCLUDED.neighborhood,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			sea_distance = EXCLUDED.sea_distance,
			sale_price = EXCLUDED.sale_price,
			rental_price = EXCLUDED.rental_price,
			property_tax = EXCLUDED.property_tax,
			condo_fee = EXCLUDED.condo_fee,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			situation = EXCLUDED.situation,
			crm_updated_at = EXCLUDED.crm_updated_at,
			last_modified = EXCLUDED.last_modified,
			synced = EXCLUDED.synced,
			visible = EXCLUDED.visible`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.Title, l.Description, l.Status, l.Category, l.Purpose, l.ParkingSpaces,
		l.Bedrooms, l.Suites, l.Bathrooms, l.PrivateArea, l.Address, l.AddressType,
		l.Neighborhood, l.City, l.State, l.SeaDistance, l.SalePrice, l.RentalPrice,
		l.PropertyTax, l.CondoFee, l.Latitude, l.Longitude,
		l.Situation, l.CRMUpdatedAt, l.LastModified, l.Synced, l.Visible,
	)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetVisibility(ctx context.Context, id string, visible bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE listings SET visible = $1 WHERE id = $2`, visible, id)
	if err != nil {
		return fmt.Errorf("set visibility %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return nil
}

// =============================================================================
// Valuations
// =============================================================================

func (s *PostgresStore) AppendValuation(ctx context.Context, v *models.ValuationSnapshot) error {
	query := `
		INSERT INTO valuations (listing_id, recorded_at, sale_price, rental_price, property_tax, condo_fee)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		v.ListingID, v.RecordedAt, v.SalePrice, v.RentalPrice, v.PropertyTax, v.CondoFee,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("append valuation %s: %w", v.ListingID, err)
	}
	return nil
}

func (s *PostgresStore) ListValuations(ctx context.Context, listingID string) ([]models.ValuationSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, recorded_at, sale_price, rental_price, property_tax, condo_fee
		FROM valuations WHERE listing_id = $1 ORDER BY recorded_at, id`, listingID)
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

// =============================================================================
// Photos
// =============================================================================

func (s *PostgresStore) FindPhotoByRemoteName(ctx context.Context, remoteFilename string) (*models.PhotoAsset, error) {
	var p models.PhotoAsset
	err := s.pool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE remote_filename = $1`, remoteFilename).Scan(
		&p.ID, &p.ListingID, &p.Filename, &p.RemoteFilename, &p.Caption,
		&p.CategoryID, &p.IsPrimary, &p.ImportedID, &p.DisplayOrder,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find photo %s: %w", remoteFilename, err)
	}
	return &p, nil
}

func (s *PostgresStore) UpsertPhoto(ctx context.Context, p *models.PhotoAsset) (models.PhotoWrite, error) {
	existing, err := s.FindPhotoByRemoteName(ctx, p.RemoteFilename)
	if err != nil {
		return "", err
	}

	if existing == nil {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO photos (listing_id, filename, remote_filename, caption, category_id, is_primary, imported_id, display_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			p.ListingID, p.Filename, p.RemoteFilename, p.Caption, p.CategoryID, p.IsPrimary, p.ImportedID, p.DisplayOrder,
		).Scan(&p.ID)
		if err != nil {
			return "", fmt.Errorf("insert photo %s: %w", p.RemoteFilename, err)
		}
		return models.PhotoInserted, nil
	}

	p.ID = existing.ID
	if !photoDiffers(existing, p) {
		return models.PhotoUnchanged, nil
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE photos SET listing_id = $1, filename = $2, caption = $3, category_id = $4, is_primary = $5,
			imported_id = $6, display_order = $7
		WHERE id = $8`,
		p.ListingID, p.Filename, p.Caption, p.CategoryID, p.IsPrimary, p.ImportedID, p.DisplayOrder, existing.ID)
	if err != nil {
		return "", fmt.Errorf("update photo %s: %w", p.RemoteFilename, err)
	}
	return models.PhotoUpdated, nil
}

func (s *PostgresStore) ListPhotos(ctx context.Context, listingID string) ([]models.PhotoAsset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+photoColumns+` FROM photos WHERE listing_id = $1 ORDER BY display_order, id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list photos %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []models.PhotoAsset
	for rows.Next() {
		var p models.PhotoAsset
		if err := rows.Scan(&p.ID, &p.ListingID, &p.Filename, &p.RemoteFilename, &p.Caption,
			&p.CategoryID, &p.IsPrimary, &p.ImportedID, &p.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// Sync Progress
// =============================================================================

func (s *PostgresStore) GetProgress(ctx context.Context, day string) (*models.SyncProgress, error) {
	var p models.SyncProgress
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT day, page, attempts, status, updated_at FROM sync_progress WHERE day = $1`, day,
	).Scan(&p.Day, &p.Page, &p.Attempts, &status, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress %s: %w", day, err)
	}
	p.Status = models.ProgressStatus(status)
	return &p, nil
}

func (s *PostgresStore) CreateProgress(ctx context.Context, p *models.SyncProgress) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sync_progress (day, page, attempts, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day) DO NOTHING`,
		p.Day, p.Page, p.Attempts, string(p.Status), stamp(p.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("create progress %s: %w", p.Day, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SwapProgress(ctx context.Context, prev, next *models.SyncProgress) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_progress SET page = $1, attempts = $2, status = $3, updated_at = $4
		WHERE day = $5 AND page = $6 AND attempts = $7 AND status = $8`,
		next.Page, next.Attempts, string(next.Status), stamp(next.UpdatedAt),
		prev.Day, prev.Page, prev.Attempts, string(prev.Status))
	if err != nil {
		return false, fmt.Errorf("swap progress %s: %w", prev.Day, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SaveProgress(ctx context.Context, p *models.SyncProgress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_progress (day, page, attempts, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day) DO UPDATE SET
			page = EXCLUDED.page,
			attempts = EXCLUDED.attempts,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		p.Day, p.Page, p.Attempts, string(p.Status), stamp(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save progress %s: %w", p.Day, err)
	}
	return nil
}

// =============================================================================
// Sync Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, mode, started_at, status) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Mode), run.StartedAt, string(run.Status))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			finished_at = $2, status = $3, pages_fetched = $4, listings_synced = $5,
			listings_new = $6, photos_saved = $7, errors_count = $8, error_message = $9
		WHERE id = $1`,
		run.ID, run.FinishedAt, string(run.Status), run.PagesFetched, run.ListingsSynced,
		run.ListingsNew, run.PhotosSaved, run.ErrorsCount, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mode, started_at, finished_at, status, pages_fetched, listings_synced,
			listings_new, photos_saved, errors_count, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var mode, status string
		if err := rows.Scan(&run.ID, &mode, &run.StartedAt, &run.FinishedAt, &status, &run.PagesFetched,
			&run.ListingsSynced, &run.ListingsNew, &run.PhotosSaved, &run.ErrorsCount, &run.ErrorMessage); err != nil {
			return nil, err
		}
		run.Mode = models.RunMode(mode)
		run.Status = models.RunStatus(status)
		out = append(out, run)
	}
	return out, rows.Err()
}
