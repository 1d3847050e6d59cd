// Package main is the entry point of the costing engine CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"costengine/internal/app"
	"costengine/internal/config"
	"costengine/internal/core/id"
	"costengine/internal/domain/run"
	"costengine/internal/infrastructure/lock"
	"costengine/internal/infrastructure/metrics"
	"costengine/internal/infrastructure/storage/memory"
	"costengine/pkg/logger"
)

const usage = `usage: costengine <command> [flags]

commands:
  run     process branches over a date range
  retry   reprocess FAILED units
  reset   remove engine output from a date onward (dry run unless --confirm=RESET)
  cost    print the consumption cost of a branch on a date
  check   print the ledger consistency report of a branch
  seed    load master data, sales and receipts from a JSON file
  serve   start the HTTP API with health and metrics endpoints
`

type command func(ctx context.Context, env *env, args []string) error

var commands = map[string]command{
	"run":   cmdRun,
	"retry": cmdRetry,
	"reset": cmdReset,
	"cost":  cmdCost,
	"check": cmdCheck,
	"seed":  cmdSeed,
	"serve": cmdServe,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	e, err := open(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to open engine", "error", err)
	}
	err = cmd(ctx, e, os.Args[2:])
	if cerr := e.close(); cerr != nil {
		log.Warnw("close", "error", cerr)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Errorw("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// env is what every command runs against.
type env struct {
	cfg     config.Config
	log     *logger.Logger
	app     *app.App
	metrics *metrics.Collector
	out     io.Writer
	closers []func() error
}

// open selects the storage backend (PostgreSQL, SQLite file or memory) and
// the lane locker (Redis or in-process) from the configuration.
func open(ctx context.Context, cfg config.Config, log *logger.Logger) (*env, error) {
	e := &env{cfg: cfg, log: log, metrics: metrics.New(), out: os.Stdout}

	var (
		stores app.Stores
		err    error
	)
	switch {
	case cfg.DatabaseURL != "":
		stores, err = app.PostgresStores(ctx, cfg.DatabaseURL, cfg.Workers)
		log.Infow("storage", "backend", "postgres")
	case cfg.SQLitePath != "":
		stores, err = app.SQLiteStores(ctx, cfg.SQLitePath)
		log.Infow("storage", "backend", "sqlite", "path", cfg.SQLitePath)
	default:
		stores = app.MemoryStores(memory.New())
		log.Warnw("storage", "backend", "memory", "note", "nothing is persisted")
	}
	if err != nil {
		return nil, err
	}
	if stores.Close != nil {
		e.closers = append(e.closers, func() error { return stores.Close(context.Background()) })
	}

	var locker run.LaneLocker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = e.close()
			return nil, err
		}
		e.closers = append(e.closers, rdb.Close)
		locker = lock.NewRedisLocker(rdb)
		log.Infow("lane locks", "backend", "redis", "addr", cfg.RedisAddr)
	}

	e.app, err = app.New(stores, app.Options{
		Engine:           cfg.Engine(),
		SalePredicate:    cfg.SalePredicate,
		DefaultLocation:  cfg.Location(),
		FallbackUnitCost: cfg.FallbackUnitCost,
		EngineOptions:    []run.Option{run.WithLaneLocker(locker), run.WithMetrics(e.metrics)},
	})
	if err != nil {
		_ = e.close()
		return nil, err
	}
	return e, nil
}

// close runs the closers in reverse order.
func (e *env) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseIDs splits a comma-separated id list.
func parseIDs(s string) ([]id.ID, error) {
	var out []id.ID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := id.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}
