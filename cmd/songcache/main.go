package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/deemusic/songcache/internal/catalog"
	"github.com/deemusic/songcache/internal/config"
	"github.com/deemusic/songcache/internal/download"
	"github.com/deemusic/songcache/internal/library"
	"github.com/deemusic/songcache/internal/monitoring"
	"github.com/deemusic/songcache/internal/network"
	"github.com/deemusic/songcache/internal/storage"
	"github.com/deemusic/songcache/internal/store"
)

const (
	flagConfigFilePath = "config"
	flagCategory       = "category"
	flagListen         = "listen"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	categoryFlag := &cli.StringFlag{
		Name:     flagCategory,
		Aliases:  []string{"C"},
		Usage:    "Catalog category",
		Required: true,
	}

	app := &cli.App{
		Name:    "songcache",
		Version: library.Version,
		Usage:   "Offline song cache",
		Suggest: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfigFilePath,
				Aliases: []string{"c"},
				Usage:   "Config file path",
				EnvVars: []string{"SONGCACHE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "catalog",
				Usage:  "List catalog categories and tracks",
				Action: listCatalog,
			},
			{
				Name:      "download",
				Aliases:   []string{"d"},
				Usage:     "Download tracks by id and wait for the queue to drain",
				ArgsUsage: "ID...",
				Flags:     []cli.Flag{categoryFlag},
				Action:    downloadTracks,
			},
			{
				Name:   "download-all",
				Usage:  "Download every track of a category",
				Flags:  []cli.Flag{categoryFlag},
				Action: downloadCategory,
			},
			{
				Name:      "delete",
				Usage:     "Delete a cached track and its files",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{categoryFlag},
				Action:    deleteTrack,
			},
			{
				Name:      "delete-category",
				Usage:     "Delete every cached track of a category",
				ArgsUsage: "CATEGORY",
				Action:    deleteCategory,
			},
			{
				Name:   "status",
				Usage:  "Show cached tracks and storage usage",
				Action: showStatus,
			},
			{
				Name:      "import",
				Usage:     "Replace the index from a JSON file",
				ArgsUsage: "FILE",
				Action:    importIndex,
			},
			{
				Name:   "export",
				Usage:  "Print the index as JSON",
				Action: exportIndex,
			},
			{
				Name:  "serve",
				Usage: "Run the cache with metrics and health endpoints",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagListen,
						Usage: "Listen address, overrides metrics.listen",
					},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "songcache: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what every command needs
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	lib    *library.Library
}

func (a *app) Close() {
	if err := a.lib.Close(); err != nil {
		a.logger.Warn("failed to close library", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// openApp loads configuration and opens the library on the configured backend
func openApp(cliCtx *cli.Context) (*app, error) {
	cfg, err := config.Load(cliCtx.String(flagConfigFilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := monitoring.NewLogger(&monitoring.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	kv, err := openKV(cliCtx.Context, cfg)
	if err != nil {
		return nil, err
	}

	client := network.GetDownloadClient(time.Duration(cfg.Network.Timeout) * time.Second)
	fetcher := network.NewHTTPFetcher(
		client,
		nil,
		network.NewLimiter(cfg.Network.RequestsPerSecond, cfg.Network.Burst),
		logger,
	)

	if err := os.MkdirAll(cfg.Cache.Dir, 0755); err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	lib, err := library.Open(cliCtx.Context, library.Options{
		Catalog:         cat,
		KV:              kv,
		StoreKey:        cfg.Store.Key,
		Fetcher:         fetcher,
		Layout:          download.NewLayout(cfg.Cache.Dir, cfg.Cache.AudioExt, cfg.Cache.ImageExt),
		Capacity:        storage.NewStatfsCapacity(cfg.Cache.Dir),
		Logger:          logger,
		DefaultCategory: cfg.Cache.DefaultCategory,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}

	logger.Debug("songcache ready",
		zap.String("backend", cfg.Store.Backend),
		zap.String("cache_dir", cfg.Cache.Dir),
	)

	return &app{cfg: cfg, logger: logger, lib: lib}, nil
}

func openKV(ctx context.Context, cfg *config.Config) (store.KVStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		client, err := store.NewRedisClient(ctx, cfg.Store.RedisAddr, cfg.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		return store.NewRedisKV(client), nil
	case "memory":
		return store.NewMemoryKV(), nil
	default:
		kv, err := store.OpenSQLiteKV(cfg.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open metadata database: %w", err)
		}
		return kv, nil
	}
}
