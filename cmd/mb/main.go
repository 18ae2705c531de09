package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mb-go/internal/api"
	"mb-go/internal/app"
	"mb-go/internal/config"
	"mb-go/internal/scan"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a wired App. The caller must defer
// a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "mb",
	Short: "Self-hosted media library browser",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		library, _ := cmd.Flags().GetString("library")
		if library == "" {
			return fmt.Errorf("--library is required (root folder containing one subfolder per creator)")
		}
		absLibrary, err := filepath.Abs(library)
		if err != nil {
			return fmt.Errorf("resolving library path: %w", err)
		}

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(absLibrary, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Library:  %s\n", cfg.LibraryRoot)
		fmt.Printf("Data Dir: %s\n", cfg.DataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Library:     %s\n", cfg.LibraryRoot)
		fmt.Printf("Data Dir:    %s\n", cfg.DataDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Listen Addr: %s\n", cfg.ListenAddr)
		fmt.Printf("Interval:    %ds\n", cfg.Scan.IntervalSeconds)
		fmt.Printf("Workers:     %d\n", cfg.Scan.Workers)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Aggregate every creator folder into the global database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.RunScan()
		if err != nil {
			if errors.Is(err, scan.ErrScanInProgress) {
				fmt.Println("A scan is already in progress. Please wait.")
				return nil
			}
			return err
		}

		for _, r := range summary.Results {
			switch {
			case r.Err != nil:
				fmt.Printf("FAIL  %-30s %v\n", r.Folder, r.Err)
			case r.Result.Status == scan.StatusSkipped:
				fmt.Printf("SKIP  %-30s %s\n", r.Folder, r.Result.Reason)
			default:
				fmt.Printf("OK    %-30s %d posts, %d media\n", r.Folder, r.Result.Posts, r.Result.Media)
			}
		}
		fmt.Printf("\nSynced %d creator(s), skipped %d, failed %d (%d posts, %d media)\n",
			summary.Synced, summary.Skipped, summary.Failed, summary.Posts, summary.Media)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View last scan time and interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Service.Status()
		if err != nil {
			return err
		}

		if status.LastScan == 0 {
			fmt.Println("Never scanned.")
		} else {
			fmt.Printf("Last scan: %s\n", time.Unix(status.LastScan, 0).Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Interval:  %ds\n", status.Interval)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scan and gallery API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		server := api.NewServer(a.Service, a.Store, a.Logger)
		fmt.Printf("Listening on %s\n", a.Cfg.ListenAddr)
		return http.ListenAndServe(a.Cfg.ListenAddr, server.Handler())
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the global database",
}

var dbSnapshotCmd = &cobra.Command{
	Use:   "snapshot [DEST]",
	Short: "Write a consistent copy of the global database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		dest := filepath.Join(a.Cfg.DataDir,
			fmt.Sprintf("global-%s.db", time.Now().UTC().Format("20060102T150405Z")))
		if len(args) > 0 {
			dest = args[0]
		}

		if err := a.Store.BackupTo(dest); err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Snapshot written to %s\n", dest)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("library", "", "Root folder containing one subfolder per creator")

	dbCmd.AddCommand(dbSnapshotCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
}
