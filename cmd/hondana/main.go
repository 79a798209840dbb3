// Hondana - Admin AI Assistant for library catalogs
// Entry point: flag handling plus the serve lifecycle.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hondana-dev/hondana/internal/infra/config"
	"github.com/hondana-dev/hondana/internal/infra/logging"
	"github.com/hondana-dev/hondana/internal/infra/sqlite"
	"github.com/hondana-dev/hondana/internal/server"
	"github.com/hondana-dev/hondana/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("hondana", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	if *showHelp {
		printHelp(out)
		return 0
	}

	if err := serve(); err != nil {
		fmt.Fprintf(out, "hondana: %v\n", err) //nolint:errcheck
		return 1
	}
	return 0
}

// serve wires configuration, storage and logging, then runs the HTTP server
// until SIGINT/SIGTERM triggers a graceful shutdown.
func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := sqlite.MigrateUp(db); err != nil {
		db.Close() //nolint:errcheck
		return err
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Host = cfg.Host
	serverCfg.Port = cfg.Port
	srv := server.NewServer(db, serverCfg, cfg, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(context.Background())
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-stop:
		log.Info("signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func printHelp(out io.Writer) {
	helpText := `Hondana - Admin AI Assistant for library catalogs

Usage:
  hondana [options]

Options:
  --version    Show version information
  --help       Show this help message

Environment:
  HOST, PORT               Listen address (default 0.0.0.0:8080)
  DB_PATH                  SQLite database file (default hondana.db)
  JWT_SECRET               Required for issuing and verifying tokens
  OLLAMA_BASE_URL          Chat + embedding provider endpoint
  VISION_BASE_URL          Cover comparison service endpoint
  HONDANA_CONFIG           Optional YAML overlay with policy knobs

Examples:
  hondana --version
  PORT=9090 hondana`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
