// Package indexing decides which source files need (re-)embedding by
// comparing their disk mtime with the state stored alongside their records.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// MtimeTolerance is how far a stored mtime may drift from the disk mtime
// and still count as unchanged, in milliseconds.
const MtimeTolerance = 1000

// Decision is the outcome of ShouldReindex.
type Decision string

const (
	DecisionNew      Decision = "new"
	DecisionModified Decision = "modified"
	DecisionReindex  Decision = "reindex"
	DecisionDeleted  Decision = "deleted"
	DecisionSkip     Decision = "skip"
)

// Store is the part of the record store incremental indexing reads and
// writes.
type Store interface {
	StoredFileState(ctx context.Context, path string) (*storage.FileState, error)
	UpdateFileMtimes(ctx context.Context, files []storage.FileMtime) (int, error)
	IndexedPaths(ctx context.Context, specFolder string) ([]string, error)
}

// Indexer classifies files against a Store.
type Indexer struct {
	store Store
	stat  func(string) (fs.FileInfo, error)
	log   *zap.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithStat replaces os.Stat.
func WithStat(fn func(string) (fs.FileInfo, error)) Option {
	return func(ix *Indexer) { ix.stat = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Indexer) { ix.log = l }
}

// New returns an Indexer over store.
func New(store Store, opts ...Option) *Indexer {
	ix := &Indexer{store: store, stat: os.Stat, log: zap.NewNop()}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// ShouldReindex classifies path:
//
//	missing on disk, no record        skip
//	missing on disk, record           deleted
//	on disk, no record                new
//	on disk, mtime never recorded     reindex
//	mtime within tolerance, success   skip (also retry and partial)
//	mtime within tolerance, pending   reindex (also failed)
//	mtime differs beyond tolerance    modified
func (ix *Indexer) ShouldReindex(ctx context.Context, path string) (Decision, error) {
	state, err := ix.store.StoredFileState(ctx, path)
	if err != nil {
		return "", err
	}

	info, err := ix.stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("indexing: stat %s: %w", path, err)
		}
		if state == nil {
			return DecisionSkip, nil
		}
		return DecisionDeleted, nil
	}
	if state == nil {
		return DecisionNew, nil
	}
	if state.FileMtimeMs == nil {
		return DecisionReindex, nil
	}

	diff := info.ModTime().UnixMilli() - *state.FileMtimeMs
	if diff < 0 {
		diff = -diff
	}
	if diff > MtimeTolerance {
		return DecisionModified, nil
	}
	switch state.EmbeddingStatus {
	case types.EmbeddingPending, types.EmbeddingFailed:
		return DecisionReindex, nil
	default:
		return DecisionSkip, nil
	}
}

// Categories buckets files by decision.
type Categories struct {
	ToIndex  []string `json:"to_index"`
	ToUpdate []string `json:"to_update"`
	ToSkip   []string `json:"to_skip"`
	ToDelete []string `json:"to_delete"`
}

// CategorizeFilesForIndexing runs ShouldReindex over paths. A file whose
// state cannot be read is logged and put in ToUpdate so it is not silently
// dropped.
func (ix *Indexer) CategorizeFilesForIndexing(ctx context.Context, paths []string) (Categories, error) {
	var c Categories
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		d, err := ix.ShouldReindex(ctx, p)
		if err != nil {
			ix.log.Warn("indexing: failed to classify file, scheduling update", zap.String("path", p), zap.Error(err))
			d = DecisionModified
		}
		switch d {
		case DecisionNew:
			c.ToIndex = append(c.ToIndex, p)
		case DecisionModified, DecisionReindex:
			c.ToUpdate = append(c.ToUpdate, p)
		case DecisionDeleted:
			c.ToDelete = append(c.ToDelete, p)
		default:
			c.ToSkip = append(c.ToSkip, p)
		}
	}
	return c, nil
}

// MtimeResult reports a BatchUpdateMtimes call.
type MtimeResult struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// BatchUpdateMtimes records the current disk mtime of each successfully
// embedded file. Files that cannot be stat'ed count as failed and are never
// written, so the next scan retries them.
func (ix *Indexer) BatchUpdateMtimes(ctx context.Context, paths []string) (MtimeResult, error) {
	var (
		res   MtimeResult
		batch []storage.FileMtime
	)
	for _, p := range paths {
		info, err := ix.stat(p)
		if err != nil {
			res.Failed++
			continue
		}
		batch = append(batch, storage.FileMtime{Path: p, MtimeMs: info.ModTime().UnixMilli()})
	}
	if len(batch) == 0 {
		return res, nil
	}
	n, err := ix.store.UpdateFileMtimes(ctx, batch)
	if err != nil {
		res.Failed += len(batch)
		return res, err
	}
	res.Updated = n
	res.Failed += len(batch) - n
	return res, nil
}

// OrphanedPaths returns indexed paths of specFolder (all folders when
// empty) that are missing from present. Those records belong in ToDelete
// even though discovery no longer reports them.
func (ix *Indexer) OrphanedPaths(ctx context.Context, specFolder string, present []string) ([]string, error) {
	indexed, err := ix.store.IndexedPaths(ctx, specFolder)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(present))
	for _, p := range present {
		seen[p] = true
	}
	var out []string
	for _, p := range indexed {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Discover lists the markdown files under root, skipping hidden
// directories.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".md", ".markdown":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexing: walk %s: %w", root, err)
	}
	return files, nil
}
