package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/shoptrace/internal/config"
	"github.com/vincentbai/shoptrace/internal/database"
	"github.com/vincentbai/shoptrace/internal/database/mongodb"
	"github.com/vincentbai/shoptrace/internal/export"
	"github.com/vincentbai/shoptrace/internal/models"
	"github.com/vincentbai/shoptrace/internal/observability"
	"github.com/vincentbai/shoptrace/internal/server"
)

type eventStore interface {
	server.Store
	ListEvents(ctx context.Context) ([]models.Event, error)
	Close() error
}

func openStore(cfg *config.Config) (eventStore, error) {
	if cfg.StorageBackend == config.BackendMongo {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, err
	}
	return database.NewDatabase(cfg.DatabasePath)
}

func main() {
	exportPath := flag.String("export", "", "write every stored event to this Parquet file and exit")
	flag.Parse()

	cfg := config.Load()
	observability.SetLevel(cfg.LogLevel)
	logger := observability.Logger()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal("Failed to open store:", err)
	}
	defer store.Close()

	if *exportPath != "" {
		events, err := store.ListEvents(context.Background())
		if err != nil {
			log.Fatal("Failed to list events:", err)
		}
		if err := export.WriteEvents(*exportPath, events); err != nil {
			log.Fatal(err)
		}
		size := "unknown size"
		if info, err := os.Stat(*exportPath); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		logger.Info("export complete", "path", *exportPath, "events", humanize.Comma(int64(len(events))), "size", size)
		return
	}

	logger.Info("store ready", "backend", cfg.StorageBackend)

	srv := server.NewServer(store, server.Options{
		Address:        cfg.Address,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
