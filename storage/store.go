package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"catalog_sync/config"
	"catalog_sync/models"
)

// ErrNotFound is returned by point updates that match no row. Lookups report
// absence as (nil, nil) instead.
var ErrNotFound = errors.New("storage: not found")

type ListingStore interface {
	FindListing(ctx context.Context, id string) (*models.Listing, error)
	UpsertListing(ctx context.Context, l *models.Listing) error
	SetVisibility(ctx context.Context, id string, visible bool) error
	AppendValuation(ctx context.Context, v *models.ValuationSnapshot) error
	ListValuations(ctx context.Context, listingID string) ([]models.ValuationSnapshot, error)
}

type PhotoStore interface {
	FindPhotoByRemoteName(ctx context.Context, remoteFilename string) (*models.PhotoAsset, error)
	UpsertPhoto(ctx context.Context, p *models.PhotoAsset) (models.PhotoWrite, error)
	ListPhotos(ctx context.Context, listingID string) ([]models.PhotoAsset, error)
}

type ProgressStore interface {
	GetProgress(ctx context.Context, day string) (*models.SyncProgress, error)
	// CreateProgress inserts p unless a record for its day exists; it
	// reports whether the insert happened.
	CreateProgress(ctx context.Context, p *models.SyncProgress) (bool, error)
	// SwapProgress replaces prev with next only if the stored record still
	// matches prev; false means someone else moved it first.
	SwapProgress(ctx context.Context, prev, next *models.SyncProgress) (bool, error)
	SaveProgress(ctx context.Context, p *models.SyncProgress) error
}

type RunStore interface {
	CreateRun(ctx context.Context, run *models.SyncRun) error
	FinishRun(ctx context.Context, run *models.SyncRun) error
	ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

// Store is everything the sync engine persists.
type Store interface {
	ListingStore
	PhotoStore
	ProgressStore
	RunStore
	Close() error
}

// Open connects to the configured backend and makes sure its schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// photoDiffers compares the tracked photo fields by their text form, the
// same way the CRM hands them over.
func photoDiffers(stored, incoming *models.PhotoAsset) bool {
	return stored.ListingID != incoming.ListingID ||
		stored.Filename != incoming.Filename ||
		textOf(stored.Caption) != textOf(incoming.Caption) ||
		strconv.Itoa(stored.CategoryID) != strconv.Itoa(incoming.CategoryID) ||
		strconv.FormatBool(stored.IsPrimary) != strconv.FormatBool(incoming.IsPrimary) ||
		stored.ImportedID != incoming.ImportedID ||
		strconv.Itoa(stored.DisplayOrder) != strconv.Itoa(incoming.DisplayOrder)
}

func textOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
