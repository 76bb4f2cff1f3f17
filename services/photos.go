package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"catalog_sync/identity"
	"catalog_sync/models"
	"catalog_sync/storage"
)

// PhotoMirror receives a copy of every downloaded photo.
type PhotoMirror interface {
	UploadFile(ctx context.Context, key, localPath string) error
}

// PhotoService downloads listing photos into <dir>/<listing id>/ and keeps
// one row per remote file.
type PhotoService struct {
	store  storage.PhotoStore
	client *http.Client
	dir    string
	mirror PhotoMirror
}

func NewPhotoService(store storage.PhotoStore, client *http.Client, dir string, mirror PhotoMirror) *PhotoService {
	if client == nil {
		client = http.DefaultClient
	}
	return &PhotoService{
		store:  store,
		client: client,
		dir:    dir,
		mirror: mirror,
	}
}

type PhotoStats struct {
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	Failed       int `json:"failed"`
	MirrorFailed int `json:"mirror_failed"`
}

// Saved counts photos that made it to disk and to the store.
func (s PhotoStats) Saved() int {
	return s.Inserted + s.Updated + s.Unchanged
}

// SyncPhotos downloads every photo of the listing, in index order, and
// upserts its row. A photo that cannot be downloaded is logged and skipped;
// a store failure aborts and is returned as a PersistenceError. Photos that
// disappeared upstream are left alone.
func (s *PhotoService) SyncPhotos(ctx context.Context, listing *models.Listing, photos []models.CRMPhoto) (PhotoStats, error) {
	var stats PhotoStats

	if !safeDirName(listing.ID) {
		return stats, &DownloadError{URL: listing.ID, Err: fmt.Errorf("listing code %q is not a usable directory name", listing.ID)}
	}
	listingDir := filepath.Join(s.dir, listing.ID)
	if err := os.MkdirAll(listingDir, 0o755); err != nil {
		return stats, &DownloadError{URL: listingDir, Err: fmt.Errorf("create photo dir: %w", err)}
	}

	log.Printf("Photos: syncing %d photos for listing %s", len(photos), listing.ID)

	for _, photo := range photos {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		url := strings.TrimSpace(photo.URL.String())
		remote, err := identity.RemoteFilename(url)
		if err != nil {
			log.Printf("[warn] Photos: listing %s photo %s: %v", listing.ID, photo.Index, err)
			stats.Failed++
			continue
		}

		canonical := identity.CanonicalFilename(listing.Title, listing.ID, photo.Index, identity.Extension(url))
		localPath := filepath.Join(listingDir, canonical)

		if err := s.download(ctx, url, localPath); err != nil {
			log.Printf("[warn] Photos: listing %s: %v", listing.ID, err)
			stats.Failed++
			continue
		}

		relPath := listing.ID + "/" + canonical
		if s.mirror != nil {
			if err := s.mirror.UploadFile(ctx, relPath, localPath); err != nil {
				log.Printf("[warn] Photos: mirror %s: %v", relPath, err)
				stats.MirrorFailed++
			}
		}

		asset := &models.PhotoAsset{
			ListingID:      listing.ID,
			Filename:       relPath,
			RemoteFilename: remote,
			CategoryID:     models.PhotoCategoryDefault,
			IsPrimary:      photo.Featured.String() == models.CRMYes,
			ImportedID:     listing.ID,
			DisplayOrder:   photo.Order(),
		}

		res, err := s.store.UpsertPhoto(ctx, asset)
		if err != nil {
			return stats, &PersistenceError{Op: "upsert photo " + remote, ListingID: listing.ID, Err: err}
		}

		switch res {
		case models.PhotoInserted:
			stats.Inserted++
			log.Printf("Photos: %s inserted for listing %s", canonical, listing.ID)
		case models.PhotoUpdated:
			stats.Updated++
			log.Printf("Photos: %s updated for listing %s", canonical, listing.ID)
		default:
			stats.Unchanged++
		}
	}

	log.Printf("Photos: listing %s done (%d saved, %d failed)", listing.ID, stats.Saved(), stats.Failed)
	return stats, nil
}

// safeDirName reports whether a CRM code can be used as a single path
// element under the photo root.
func safeDirName(id string) bool {
	return filepath.IsLocal(id) && !strings.ContainsAny(id, `/\`) && id != "."
}

// download streams url into dest through a temp file in the same directory,
// so a failed transfer never leaves a truncated photo behind.
func (s *PhotoService) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{URL: url, Err: fmt.Errorf("download status: %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	_ = tmp.Chmod(0o644) // served as static files

	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmpName)
		return &DownloadError{URL: url, Err: fmt.Errorf("write %s: %w", dest, err)}
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return &DownloadError{URL: url, Err: fmt.Errorf("rename into %s: %w", dest, err)}
	}
	return nil
}
