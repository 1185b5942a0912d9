// Command memindex runs maintenance tasks against a memory index database:
// migration, integrity checks, statistics, cleanup candidates, incremental
// scans, keyword search and snapshots.
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
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/backup"
	"github.com/scrypster/memindex/internal/config"
	"github.com/scrypster/memindex/internal/engine"
	"github.com/scrypster/memindex/internal/indexing"
	"github.com/scrypster/memindex/internal/logging"
	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/internal/storage/postgres"
	"github.com/scrypster/memindex/internal/storage/sqlite"
)

type options struct {
	configPath string
	dbPath     string

	migrate   bool
	verify    bool
	autoclean bool
	stats     bool
	cleanup   bool
	expire    bool
	scan      string
	folder    string
	search    string
	limit     int
	snapshot  bool
	snapshots bool
	prune     bool
	restore   string
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("memindex", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to YAML config file (optional; MEMINDEX_* env vars also apply)")
	fs.StringVar(&o.dbPath, "db", "", "Path to database file (overrides config)")
	fs.BoolVar(&o.migrate, "migrate", false, "Open the database, apply pending migrations and exit")
	fs.BoolVar(&o.verify, "verify", false, "Check records against stored vectors")
	fs.BoolVar(&o.autoclean, "autoclean", false, "With -verify, delete orphaned vectors")
	fs.BoolVar(&o.stats, "stats", false, "Print record and vector counts")
	fs.BoolVar(&o.cleanup, "cleanup", false, "List low-value records that are candidates for deletion")
	fs.BoolVar(&o.expire, "expire", false, "Delete expired temporary-tier records")
	fs.StringVar(&o.scan, "scan", "", "Classify the markdown files under this directory for re-indexing")
	fs.StringVar(&o.folder, "folder", "", "Spec folder used by -scan and -search")
	fs.StringVar(&o.search, "search", "", "Run a keyword search")
	fs.IntVar(&o.limit, "limit", engine.DefaultSearchLimit, "Result limit for -search")
	fs.BoolVar(&o.snapshot, "snapshot", false, "Write a verified snapshot into the snapshot directory")
	fs.BoolVar(&o.snapshots, "snapshots", false, "List snapshots and their total size")
	fs.BoolVar(&o.prune, "prune", false, "Apply the retention policy to the snapshot directory")
	fs.StringVar(&o.restore, "restore", "", "Restore the database from this snapshot and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.autoclean && !o.verify {
		return nil, errors.New("-autoclean requires -verify")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "memindex: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "memindex: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbPath != "" {
		cfg.Storage.Path = opts.dbPath
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if opts.snapshots {
		return listSnapshots(cfg.Storage.SnapshotDir, out)
	}
	if opts.restore != "" {
		if err := backup.Restore(ctx, opts.restore, cfg.Storage.Path); err != nil {
			return err
		}
		log.Info("database restored", zap.String("from", opts.restore), zap.String("to", cfg.Storage.Path))
		return nil
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.migrate {
		v, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"schema_version": v})
	}
	if opts.verify {
		report, err := store.VerifyIntegrity(ctx, storage.IntegrityOptions{AutoClean: opts.autoclean})
		if err != nil {
			return err
		}
		if err := printJSON(out, report); err != nil {
			return err
		}
		return report.Violation()
	}
	if opts.stats {
		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, st)
	}
	if opts.cleanup {
		cands, err := store.FindCleanupCandidates(ctx, storage.CleanupOptions{})
		if err != nil {
			return err
		}
		return printJSON(out, cands)
	}
	if opts.expire {
		n, err := store.ExpireTemporary(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"expired": n})
	}
	if opts.scan != "" {
		return scan(ctx, store, opts, log, out)
	}
	if opts.search != "" {
		eng, err := engine.New(store, engine.Options{
			Weights:           cfg.Scoring,
			ConstitutionalTTL: cfg.Cache.ConstitutionalTTL,
			QueryCacheSize:    cfg.Cache.QuerySize,
			QueryCacheTTL:     cfg.Cache.QueryTTL,
			Logger:            log,
		})
		if err != nil {
			return err
		}
		res, err := eng.Search(ctx, opts.search, opts.limit, engine.SearchOptions{
			SpecFolder:    opts.folder,
			MinSimilarity: cfg.Search.MinSimilarity,
		})
		if err != nil {
			return err
		}
		return printJSON(out, res)
	}
	if opts.snapshot {
		path, err := store.Snapshot(ctx, cfg.Storage.SnapshotDir, "manual")
		if err != nil {
			return err
		}
		if err := printJSON(out, map[string]string{"snapshot": path}); err != nil {
			return err
		}
	}
	if opts.prune {
		removed, err := backup.Prune(cfg.Storage.SnapshotDir, cfg.Retention, time.Now())
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"removed": removed})
	}
	return nil
}

// openStore opens the SQLite store, with its vectors in Postgres when the
// config selects that backend.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sqlite.Store, func(), error) {
	opts := sqlite.Options{
		Path:           cfg.Storage.Path,
		Dimension:      cfg.Storage.Dimension,
		EmbeddingModel: cfg.Storage.EmbeddingModel,
		DisableVectors: cfg.Storage.DisableVectors,
		SnapshotDir:    cfg.Storage.SnapshotDir,
		Logger:         log,
	}
	var pg *postgres.VectorStore
	if cfg.Storage.VectorBackend == config.BackendPostgres && !cfg.Storage.DisableVectors {
		var err error
		pg, err = postgres.Open(ctx, postgres.Options{DSN: cfg.Storage.PostgresDSN, Dimension: cfg.Storage.Dimension, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		opts.Vectors = pg
	}

	store, err := sqlite.Open(ctx, opts)
	if err != nil {
		if pg != nil {
			_ = pg.Close()
		}
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
		if pg != nil {
			_ = pg.Close()
		}
	}, nil
}

func listSnapshots(dir string, out io.Writer) error {
	snaps, err := backup.List(dir)
	if err != nil {
		return err
	}
	size, err := backup.DiskUsage(dir)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{"snapshots": snaps, "total_bytes": size})
}

type scanReport struct {
	indexing.Categories
	Orphaned []string `json:"orphaned,omitempty"`
}

func scan(ctx context.Context, store *sqlite.Store, opts *options, log *zap.Logger, out io.Writer) error {
	files, err := indexing.Discover(opts.scan)
	if err != nil {
		return err
	}
	ix := indexing.New(store, indexing.WithLogger(log))
	cats, err := ix.CategorizeFilesForIndexing(ctx, files)
	if err != nil {
		return err
	}
	orphaned, err := ix.OrphanedPaths(ctx, opts.folder, files)
	if err != nil {
		return err
	}
	return printJSON(out, scanReport{Categories: cats, Orphaned: orphaned})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
