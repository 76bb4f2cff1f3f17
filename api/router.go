// Package api is the HTTP surface of the sync engine: CRM passthroughs,
// local reads, sync triggers and the progress override.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route onto a chi router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Route("/crm", func(r chi.Router) {
		r.Get("/listings", h.CRMListings)
		r.Get("/listings/ids/{page}", h.CRMListingIDs)
		r.Get("/listings/{id}", h.CRMListing)
		r.Get("/ids", h.CRMAllIDs)
		r.Get("/fields", h.CRMFields)
	})

	r.Route("/local", func(r chi.Router) {
		r.Get("/listings/{id}", h.LocalListing)
		r.Get("/listings/{id}/valuations", h.LocalValuations)
		r.Get("/listings/{id}/photos", h.LocalPhotos)
		r.Get("/photos/{remoteFilename}", h.LocalPhoto)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/listings/{id}", h.SyncListing)
		r.Get("/batch-all", h.SyncBatchAll)
		r.Get("/checkpointed", h.SyncCheckpointed)
		r.Get("/runs", h.SyncRuns)
	})

	r.Get("/progress", h.Progress)
	r.Get("/progress/update", h.ProgressUpdate)
	r.Post("/progress/update", h.ProgressUpdate)

	r.Get("/listings/{id}/activate", h.Activate)
	r.Get("/listings/{id}/deactivate", h.Deactivate)

	if h.photoDir != "" {
		r.Handle("/imagens/*", http.StripPrefix("/imagens/", http.FileServer(http.Dir(h.photoDir))))
	}

	return r
}
