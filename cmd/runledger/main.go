// Command runledger runs the local telemetry service and its maintenance
// tooling: serve, retention, backup, restore, init, and status.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/runledger/internal/backup"
	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/retention"
	"git.home.luguber.info/inful/runledger/internal/service"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"runledger.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the telemetry ingestion and query service"`

	Retention struct {
		Days   int  `short:"d" help:"Days of history to keep (0 uses the configured default)"`
		DryRun bool `help:"Report what would be deleted without deleting"`
	} `cmd:"" help:"Delete runs older than the retention window and reclaim space"`

	Backup struct {
		Output string `short:"o" help:"Backup directory (overrides the configured location)"`
	} `cmd:"" help:"Write a verified backup of the database"`

	Restore struct {
		From       string        `help:"Backup directory to restore from (default: the newest backup)"`
		Yes        bool          `help:"Skip the confirmation prompt"`
		NoRollback bool          `help:"Disable automatic rollback when verification fails"`
		HealthURL  string        `help:"Poll this health endpoint after the restore"`
		HealthWait time.Duration `help:"How long to wait for the health endpoint" default:"30s"`
	} `cmd:"" help:"Replace the live database with a verified backup copy"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`

	Status struct{} `cmd:"" help:"Query a running service for its health status"`

	Version struct{} `cmd:"" help:"Print the version"`
}

func main() {
	kctx := kong.Parse(&CLI)

	if kctx.Command() == "init" {
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", CLI.Config)
		return
	}
	if kctx.Command() == "version" {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.Logging.Level = "debug"
	}

	level := new(slog.LevelVar)
	logger := cfg.Logging.NewLeveledLogger(level)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cmdErr error
	switch kctx.Command() {
	case "serve":
		cmdErr = runServe(ctx, cfg, level, logger)
	case "retention":
		cmdErr = runRetention(ctx, cfg, logger)
	case "backup":
		cmdErr = runBackup(ctx, cfg, logger)
	case "restore":
		cmdErr = runRestore(ctx, cfg, logger)
	case "status":
		cmdErr = runStatus(ctx, cfg)
	}
	if cmdErr != nil {
		logger.Error("command failed", "error", cmdErr)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) error {
	logger.Info("starting runledger", slog.String("version", version))
	svc := service.New(cfg, service.Options{
		ConfigPath: CLI.Config,
		LogLevel:   level,
		Logger:     logger,
	})
	return svc.Run(ctx)
}

func runRetention(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctrl := retention.New(cfg, nil, logger)
	report, err := ctrl.Run(ctx, CLI.Retention.Days, CLI.Retention.DryRun)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runBackup(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if CLI.Backup.Output != "" {
		cfg.Backup.Dir = CLI.Backup.Output
	}
	store, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctrl := backup.New(cfg, nil, logger)
	dir, err := ctrl.Backup(ctx, store)
	if err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

func runRestore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctrl := backup.New(cfg, nil, logger)

	from := CLI.Restore.From
	if from == "" {
		dirs, err := ctrl.ListBackups()
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			return fmt.Errorf("no backups found under %s", cfg.Backup.Dir)
		}
		from = dirs[0]
	}

	if !CLI.Restore.Yes {
		fmt.Printf("Replace %s with the backup in %s? [y/N] ", cfg.DB.Path, from)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	result, err := ctrl.Restore(ctx, backup.RestoreOptions{
		BackupDir:     from,
		NoRollback:    CLI.Restore.NoRollback,
		HealthURL:     CLI.Restore.HealthURL,
		HealthTimeout: CLI.Restore.HealthWait,
	})
	if err != nil {
		return err
	}
	if CLI.Restore.HealthURL != "" {
		if err := backup.PollHealth(ctx, CLI.Restore.HealthURL, CLI.Restore.HealthWait); err != nil {
			return err
		}
	}
	return printJSON(result)
}

func runStatus(ctx context.Context, cfg *config.Config) error {
	url := fmt.Sprintf("http://%s:%d/health", cfg.API.Host, cfg.API.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("service not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy: %s: %s", resp.Status, body)
	}
	fmt.Println(string(body))
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
