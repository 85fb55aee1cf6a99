package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/vincentbai/shoptrace/internal/config"
	"github.com/vincentbai/shoptrace/internal/delivery"
	"github.com/vincentbai/shoptrace/internal/models"
	"github.com/vincentbai/shoptrace/internal/observability"
	"github.com/vincentbai/shoptrace/internal/storage"
	"github.com/vincentbai/shoptrace/internal/tracker"
)

func main() {
	cfg := config.Load()

	defaultProfile := "profile.db"
	if dir, err := config.DataDir(); err == nil {
		defaultProfile = filepath.Join(dir, "profile.db")
	}

	profilePath := flag.String("profile", defaultProfile, "SQLite file holding the visitor's persistent identity")
	pageURL := flag.String("url", "https://shop.example/catalogo?utm_source=newsletter&utm_medium=email&utm_campaign=primavera", "page address of the simulated visit")
	title := flag.String("title", "Catálogo", "page title")
	referrer := flag.String("referrer", "", "document referrer, empty for direct traffic")
	width := flag.Int("width", 1280, "viewport width in pixels")
	away := flag.Duration("away", 6*time.Second, "how long the tab stays hidden")
	debug := flag.Bool("debug", cfg.Tracker.Debug, "log every recorded event")
	flag.Parse()

	observability.SetLevel(cfg.LogLevel)
	logger := observability.Logger()

	parsed, err := url.Parse(*pageURL)
	if err != nil {
		log.Fatal("Invalid page URL:", err)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	if err := os.MkdirAll(filepath.Dir(*profilePath), 0o755); err != nil {
		log.Fatal("Failed to create profile directory:", err)
	}
	profile, err := storage.NewSQLiteStore(*profilePath)
	if err != nil {
		log.Fatal(err)
	}
	defer profile.Close()

	trackerCfg := cfg.Tracker
	trackerCfg.Debug = *debug

	client := delivery.NewRESTClient(cfg.EndpointURL, cfg.AnonKey, nil, trackerCfg.ReliableTimeout)
	engine := tracker.New(tracker.Options{
		Config:   trackerCfg,
		Store:    profile,
		Ingestor: client,
		Page: tracker.StaticPage{
			URL:           *pageURL,
			Path:          path,
			Title:         *title,
			Referrer:      *referrer,
			ViewportWidth: *width,
			ScreenWidth:   *width,
			ScreenHeight:  900,
			UserAgent:     "shoptrace-sim/1.0",
		},
		Logger: logger,
	})

	ctx := context.Background()
	if err := engine.Init(ctx); err != nil {
		log.Fatal(err)
	}
	logger.Info("visit started", "visitor_id", engine.VisitorID(), "session_id", engine.SessionID(), "endpoint", cfg.EndpointURL)

	play(ctx, engine, *away)

	if err := engine.Flush(ctx); err != nil {
		logger.Warn("flush failed, events stay queued for unload", "queued", engine.QueueLen(), "error", err)
	}
	engine.OnUnload(ctx)
	logger.Info("visit finished", "session_id", engine.SessionID())
}

// play walks through a typical storefront visit.
func play(ctx context.Context, engine *tracker.Engine, away time.Duration) {
	pause := func() { time.Sleep(50 * time.Millisecond) }

	const documentHeight, viewportHeight = 4000.0, 900.0
	for top := 0.0; top <= documentHeight-viewportHeight; top += 400 {
		engine.OnScroll(tracker.ScrollPosition{Top: top, DocumentHeight: documentHeight, ViewportHeight: viewportHeight})
		pause()
	}

	engine.TrackSearch("ventana corrediza", 12)
	engine.TrackCategoryFilter("ventanas")
	engine.TrackFeaturedFilter(true)

	ventana := tracker.Product{SKU: "VC-120", Name: "Ventana corrediza 120x100", Price: 189.90, Category: "ventanas"}
	puerta := tracker.Product{SKU: "PB-80", Name: "Puerta balcón 80x210", Price: 349.00, Category: "puertas"}
	engine.TrackProductView(ventana)
	engine.TrackAddToCart(ventana, 2)
	engine.TrackProductView(puerta)
	engine.TrackAddToCart(puerta, 1)
	engine.TrackRemoveFromCart(puerta.SKU, puerta.Name)
	engine.Track(models.EventKind("share_click"), map[string]any{"sku": ventana.SKU, "channel": "whatsapp"})

	engine.OnVisibilityChange(ctx, true)
	time.Sleep(away)
	engine.OnVisibilityChange(ctx, false)

	engine.TrackCheckoutStart([]tracker.CartItem{{Code: ventana.SKU, Quantity: 2}}, 2*ventana.Price)
	pause()
}
