// Command whaisd is the server daemon: it loads the configuration file,
// opens the database directory, loads any configured object libraries,
// and serves the framed wire protocol until interrupted (spec §6.2,
// §6.4; shutdown grounded on solidcoredata-dca's internal/start.Start).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/whais-db/whais-core/internal/applog"
	"github.com/whais-db/whais-core/internal/config"
	"github.com/whais-db/whais-core/internal/session"
	"github.com/whais-db/whais-core/internal/storage"
	"github.com/whais-db/whais-core/internal/telemetry"
	"github.com/whais-db/whais-core/internal/unit"
	"github.com/whais-db/whais-core/internal/wire"
)

// Exit codes per spec §6.5: 0 success, 1 operational failure, 2
// configuration error, 3 I/O.
const (
	exitOK        = 0
	exitOperation = 1
	exitConfig    = 2
	exitIO        = 3
)

// maxSessions bounds concurrently served connections; not presently a
// configuration key (spec §6.4 names caches and paths, not a session
// limit), so a generous fixed ceiling stands in for it.
const maxSessions = 256

// drainTimeout bounds how long the daemon waits, after a shutdown
// signal, for Serve to drain in-flight connections before giving up on
// them.
const drainTimeout = 10 * time.Second

// granuleSize is the variable-length store's allocation granularity
// (spec §6.4 names block size/count, not granule size, so this is a
// fixed implementation constant rather than a configured one).
const granuleSize = 64

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "whaisd",
		Short: "WHAIS database server",
		RunE: func(cmd *cobra.Command, args []string) error {
			code := run(cfgPath)
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the server's .toml configuration file")

	if err := root.Execute(); err != nil {
		os.Exit(exitConfig)
	}
}

func run(cfgPath string) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	logger, closeLog := applog.Setup(applog.Options{Verbose: cfg.Verbose, SeqURL: cfg.SeqURL})
	defer closeLog()
	slog.SetDefault(logger)

	closeTelemetry, err := telemetry.Init("whaisd")
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		return exitOperation
	}
	defer func() {
		if err := closeTelemetry(context.Background()); err != nil {
			slog.Error("failed to shut down telemetry cleanly", "error", err)
		}
	}()

	// cfg.TableBlockCacheSize/Count have no consumer: storage.Table keeps
	// its column data as plain in-memory slices rather than routing row
	// access through a block cache (see DESIGN.md), so only the VL store
	// cache sizing below is actually exercised.
	db, err := storage.Open(cfg.WorkDir, cfg.TempDir, storage.StoreParams{
		GranuleSize: granuleSize,
		BlockSize:   uint64(cfg.VLValuesBlockSize),
		MaxBlocks:   cfg.VLValuesBlockCount,
	})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return exitIO
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database cleanly", "error", err)
		}
	}()

	mgr := session.NewManager(db)

	// cfg.Libraries names "object" libraries (spec §6.4): compiled unit
	// files, loaded once here and then replayed into every session's
	// loaded-units registry by Manager.NewSession, since §4.8's wire
	// commands have no LOAD_UNIT frame a client could push one with
	// itself. A *native* (dynamically-loaded) library entry would need a
	// NativeManifest supplied as Go values by the embedding process
	// instead (see internal/session/native.go), which this loop cannot
	// honor from a bare path.
	for _, path := range cfg.Libraries {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read configured library", "path", path, "error", err)
			return exitIO
		}
		u, err := unit.Load(data)
		if err != nil {
			slog.Error("failed to load configured library as a compiled unit", "path", path, "error", err)
			return exitOperation
		}
		mgr.AddBootUnit(path, u)
		slog.Info("boot unit registered", "path", path, "procedures", len(u.Procedures))
	}

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	ln, err := wire.Listen(addr, db, mgr, maxSessions)
	if err != nil {
		slog.Error("failed to bind listener", "address", addr, "error", err)
		return exitIO
	}
	slog.Info("whaisd listening", "address", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	case err := <-serveErr:
		if err != nil {
			slog.Error("listener stopped unexpectedly", "error", err)
			return exitOperation
		}
		return exitOK
	}

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("listener shutdown reported errors", "error", err)
			return exitOperation
		}
	case <-time.After(drainTimeout):
		slog.Warn("drain timeout exceeded, forcing shutdown")
		ln.Close()
	}
	return exitOK
}
