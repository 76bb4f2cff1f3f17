package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"catalog_sync/models"
	"catalog_sync/storage"
)

// DetailFetcher is the part of the CRM client the listing sync needs.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, id string) (*models.CRMListing, error)
}

// ListingService mirrors one CRM listing into the store: the listing row,
// a valuation snapshot and its photos.
type ListingService struct {
	store  storage.ListingStore
	crm    DetailFetcher
	photos *PhotoService
	now    func() time.Time
}

func NewListingService(store storage.ListingStore, crm DetailFetcher, photos *PhotoService) *ListingService {
	return &ListingService{
		store:  store,
		crm:    crm,
		photos: photos,
		now:    time.Now,
	}
}

// SyncResult contains the outcome of syncing one listing.
type SyncResult struct {
	ListingID string     `json:"listing_id"`
	IsNew     bool       `json:"is_new"`
	Photos    PhotoStats `json:"photos"`
}

const titleFallbackLength = 50

// MapListing turns a CRM payload into the local row. It is a direct field
// mapping; only the title and visibility are derived.
func MapListing(p *models.CRMListing, now time.Time) *models.Listing {
	title := p.Building.String()
	if title == "" {
		title = truncateRunes(p.Description.String(), titleFallbackLength)
	}

	return &models.Listing{
		ID:            p.Code.String(),
		Title:         title,
		Description:   p.Description.String(),
		Status:        p.Status.String(),
		Category:      p.Category.String(),
		Purpose:       p.Purpose.String(),
		ParkingSpaces: p.ParkingSpaces.String(),
		Bedrooms:      p.Bedrooms.String(),
		Bathrooms:     p.Bathrooms.String(),
		PrivateArea:   p.PrivateArea.String(),
		Address:       p.Address.String(),
		AddressType:   p.AddressType.String(),
		Neighborhood:  p.Neighborhood.String(),
		City:          p.City.String(),
		State:         p.State.String(),
		SeaDistance:   p.SeaDistance.String(),
		SalePrice:     p.SalePrice.String(),
		RentalPrice:   p.RentalPrice.String(),
		PropertyTax:   p.PropertyTax.String(),
		CondoFee:      p.CondoFee.String(),
		Latitude:      p.Latitude.String(),
		Longitude:     p.Longitude.String(),
		Situation:     p.Situation.String(),
		CRMUpdatedAt:  p.UpdatedAt.String(),
		LastModified:  now.Format("2006-01-02"),
		Synced:        true,
		Visible:       strings.TrimSpace(p.PublishOnSite.String()) == models.CRMYes,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SyncListing writes one payload. It is idempotent apart from the
// valuation history, which gains exactly one row per call.
func (s *ListingService) SyncListing(ctx context.Context, payload *models.CRMListing) (*SyncResult, error) {
	now := s.now()
	listing := MapListing(payload, now)
	result := &SyncResult{ListingID: listing.ID}

	existing, err := s.store.FindListing(ctx, listing.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "find listing", ListingID: listing.ID, Err: err}
	}
	result.IsNew = existing == nil

	if err := s.store.UpsertListing(ctx, listing); err != nil {
		return nil, &PersistenceError{Op: "upsert listing", ListingID: listing.ID, Err: err}
	}
	if result.IsNew {
		log.Printf("Listing: %s inserted", listing.ID)
	} else {
		log.Printf("Listing: %s updated", listing.ID)
	}

	valuation := &models.ValuationSnapshot{
		ListingID:   listing.ID,
		RecordedAt:  now,
		SalePrice:   listing.SalePrice,
		RentalPrice: listing.RentalPrice,
		PropertyTax: listing.PropertyTax,
		CondoFee:    listing.CondoFee,
	}
	if err := s.store.AppendValuation(ctx, valuation); err != nil {
		return nil, &PersistenceError{Op: "append valuation", ListingID: listing.ID, Err: err}
	}

	if listing.ID == "" {
		log.Printf("[warn] Listing: payload without code, photos skipped")
		return result, nil
	}
	if s.photos == nil {
		return result, nil
	}

	stats, err := s.photos.SyncPhotos(ctx, listing, payload.Photos)
	result.Photos = stats
	if err != nil {
		var de *DownloadError
		if errors.As(err, &de) {
			log.Printf("[warn] Listing: %s photos skipped: %v", listing.ID, err)
			return result, nil
		}
		return result, err
	}

	return result, nil
}

// SyncByID fetches the listing from the CRM and syncs it.
func (s *ListingService) SyncByID(ctx context.Context, id string) (*SyncResult, error) {
	if s.crm == nil {
		return nil, fmt.Errorf("sync listing %s: no crm client configured", id)
	}

	payload, err := s.crm.FetchDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", id, err)
	}
	return s.SyncListing(ctx, payload)
}
