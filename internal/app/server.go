package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lucasew/blobpurge/internal/backlinks"
	"github.com/lucasew/blobpurge/internal/blobstore"
	"github.com/lucasew/blobpurge/internal/config"
	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/lucasew/blobpurge/internal/handler"
	"github.com/lucasew/blobpurge/internal/metrics"
	"github.com/lucasew/blobpurge/internal/purge"
	"github.com/lucasew/blobpurge/internal/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Listen     string
	BlobDir    string
	IndexPath  string
	Identity   string
	ConfigFile string
}

// Daemon is a wired purge scheduler plus the HTTP server exposing it.
type Daemon struct {
	Server    *http.Server
	Scheduler *purge.Scheduler
	Store     *blobstore.LocalStore
	Index     *backlinks.Index
}

// NewDaemon opens the blob store and the backlink index and wires the
// scheduler, its metrics and the control endpoints. The scheduler is not
// started. The returned cleanup stops everything and closes the index.
func NewDaemon(cfg Config) (*Daemon, func(), error) {
	if err := os.MkdirAll(cfg.BlobDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create blob dir %s: %w", cfg.BlobDir, err)
	}
	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(cfg.BlobDir, "backlinks.db")
	}

	index, err := backlinks.Open(indexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backlink index at %s: %w", indexPath, err)
	}

	store := blobstore.NewLocalStore(cfg.BlobDir)
	persisted := config.NewFile(cfg.ConfigFile)

	sched, err := purge.NewScheduler(purge.Options{
		Store:     store,
		Backlinks: index,
		Probe:     usage.Probe{},
		Dir:       cfg.BlobDir,
		Identity:  cfg.Identity,
		Persisted: persisted.Overrides,
	})
	if err != nil {
		errutil.Close(index, "Failed to close backlink index")
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	ctx, cancel := context.WithCancel(context.Background())
	sub := sched.Subscribe()
	go collector.Run(ctx, sub.C)

	mux := http.NewServeMux()
	mux.Handle("/purge/", handler.NewControlHandler(sched))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	slog.Info("Purge daemon ready", "addr", cfg.Listen, "blob_dir", cfg.BlobDir, "index", indexPath)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	cleanup := func() {
		sched.Close()
		sub.Close()
		cancel()
		errutil.Close(index, "Failed to close backlink index")
	}

	return &Daemon{Server: server, Scheduler: sched, Store: store, Index: index}, cleanup, nil
}
