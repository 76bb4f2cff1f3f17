package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"catalog_sync/api"
	"catalog_sync/config"
	"catalog_sync/crm"
	"catalog_sync/httputil"
	"catalog_sync/logging"
	"catalog_sync/scheduler"
	"catalog_sync/services"
	"catalog_sync/storage"
	"catalog_sync/syncer"
)

var (
	syncNow = flag.Bool("sync", false, "Run a full sync once and exit")
	stepNow = flag.Bool("step", false, "Run one checkpointed step and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogDir)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting catalog_sync...")
	log.Printf("CRM: %s (page size %d)", cfg.CRM.BaseURL, cfg.CRM.PageSize)

	clients := httputil.NewClients(cfg)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	if cfg.Database.Driver == "postgres" {
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))
	} else {
		log.Printf("SQLite database: %s", cfg.Database.Path)
	}

	var mirror services.PhotoMirror
	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to set up S3 mirror: %v", err)
		}
		mirror = uploader
		log.Printf("Mirroring photos to s3://%s", cfg.S3.Bucket)
	}

	catalog := crm.NewClient(cfg.CRM, clients.CRM)
	photoService := services.NewPhotoService(store, clients.Photos, cfg.Photos.Dir, mirror)
	listingService := services.NewListingService(store, catalog, photoService)
	orchestrator := syncer.NewOrchestrator(cfg, catalog, listingService, store)

	log.Println("Services initialized")

	// Handle one-shot commands
	if *syncNow {
		log.Println("Running full sync...")
		stats, err := orchestrator.RunAll(ctx)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		log.Printf("Sync complete: %d pages, %d listings (%d new), %d photos, %d errors",
			stats.PagesFetched, stats.ListingsSynced, stats.ListingsNew, stats.PhotosSaved, stats.Errors)
		return
	}
	if *stepNow {
		res, err := orchestrator.Step(ctx)
		if err != nil {
			log.Fatalf("Step failed: %v", err)
		}
		log.Printf("Step complete: %s page %d -> %s", res.Action, res.Page, res.Outcome)
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, orchestrator)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := api.NewHandler(catalog, store, orchestrator, orchestrator.Tracker(), cfg.CRM.PageSize, cfg.Photos.Dir)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP: listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[error] HTTP: %v", err)
			stop()
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}
	<-sched.Stop().Done()
	log.Println("Goodbye!")
}

// maskConnectionString hides the password in a URL-style connection string.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
