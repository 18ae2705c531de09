// Package app wires configuration, storage, logging and the scan service
// into a running application.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mb-go/internal/config"
	"mb-go/internal/database"
	"mb-go/internal/scan"
	"mb-go/internal/source"

	"github.com/google/uuid"
)

// App is the application layer between the CLI/HTTP surface and the scan
// service. It constructs all dependencies from config and manages their
// lifecycle on Close.
type App struct {
	Cfg     *config.Config
	Store   *database.SQLiteStore
	Service *scan.Service
	Logger  scan.Logger

	logFile *os.File
}

// New creates a fully wired App from the given config, running any pending
// store migrations. The caller must call Close when done.
func New(cfg *config.Config) (*App, error) {
	if cfg.LibraryRoot == "" {
		return nil, fmt.Errorf("library_root is not configured")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := database.NewSQLiteStore(filepath.Join(cfg.DataDir, "global.db"))
	if err != nil {
		return nil, fmt.Errorf("opening aggregate store: %w", err)
	}

	if err := store.MigrateUp(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating aggregate store: %w", err)
	}

	runID := uuid.New().String()
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	opts := scan.Options{
		Interval:  time.Duration(cfg.Scan.IntervalSeconds) * time.Second,
		Freshness: time.Duration(cfg.Scan.FreshnessSeconds) * time.Second,
		LockTTL:   time.Duration(cfg.Scan.LockTTLSeconds) * time.Second,
		PID:       os.Getpid(),
	}
	opener := source.Opener{Logger: logger}
	svc := scan.NewService(store, opener, cfg.LibraryRoot, opts, logger, scan.RealClock{})

	return &App{
		Cfg:     cfg,
		Store:   store,
		Service: svc,
		Logger:  logger,
		logFile: logFile,
	}, nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	err := a.Store.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

// FolderResult is the outcome of one creator sync within a scan run.
type FolderResult struct {
	Folder string
	Result scan.SyncResult
	Err    error
}

// ScanSummary aggregates the outcomes of a full scan run.
type ScanSummary struct {
	Synced  int
	Skipped int
	Failed  int
	Posts   int64
	Media   int64
	Results []FolderResult
}

// RunScan performs a full scan cycle: init, one Process call per discovered
// folder fanned out over a fixed worker pool, then complete. Per-folder
// failures are recorded in the summary and never abort the run; Complete is
// called unconditionally once the workers drain.
func (a *App) RunScan() (*ScanSummary, error) {
	folders, err := a.Service.Init()
	if err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("initializing scan: %w", err)
	}

	workers := a.Cfg.Scan.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan FolderResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for folder := range jobs {
				res, err := a.Service.Process(folder)
				results <- FolderResult{Folder: folder, Result: res, Err: err}
			}
		}()
	}

	go func() {
		for _, f := range folders {
			jobs <- f
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	summary := &ScanSummary{}
	for r := range results {
		summary.Results = append(summary.Results, r)
		switch {
		case r.Err != nil:
			summary.Failed++
			a.Logger.Error("creator sync failed", "creator", r.Folder, "error", r.Err)
		case r.Result.Status == scan.StatusSkipped:
			summary.Skipped++
		default:
			summary.Synced++
			summary.Posts += r.Result.Posts
			summary.Media += r.Result.Media
		}
	}

	if err := a.Service.Complete(); err != nil {
		return summary, fmt.Errorf("completing scan: %w", err)
	}
	return summary, nil
}
