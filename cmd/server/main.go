// Command server runs the veeduría backend. Subcommands:
//
//	serve              migrate up, then serve HTTP (default)
//	migrate up|down    apply or roll back every migration
//	migrate version    report the schema version
//	version            print the build version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/consejo-social/veeduria/internal/api"
	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/db"
	"github.com/consejo-social/veeduria/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		log.Fatalf("veeduria: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}
	if command == "version" {
		fmt.Printf("Consejo Social de Veeduría v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	switch command {
	case "serve":
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx)
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("usage: server migrate <up|down|version>")
		}
		database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close()
		return migrate(database.DB, args[1])
	default:
		return fmt.Errorf("unknown command %q (serve, migrate, version)", command)
	}
}

// migrate runs direction ("up", "down", or "version" to only report) and
// logs the schema version it leaves behind.
func migrate(database *sql.DB, direction string) error {
	mg, err := db.NewMigrator(database)
	if err != nil {
		return err
	}
	defer mg.Close()

	if direction != "version" {
		slog.Info("running migrations", "direction", direction)
		if err := mg.Run(direction); err != nil {
			return err
		}
	}

	v, dirty, err := mg.Version()
	switch {
	case err != nil:
		return err
	case dirty:
		slog.Warn("database schema is dirty; fix the failed migration before continuing", "version", v)
	default:
		slog.Info("database schema ready", "version", v)
	}
	return nil
}
