// Package rebuild performs shadow rebuilds: the graph is rebuilt into a
// fresh database file next to the live one, verified, then swapped in with
// renames while the manager holds the write lock. The previous database is
// kept as a timestamped backup.
package rebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
	"ariadne/internal/logging"
	"ariadne/internal/metrics"
)

// Extractor populates a store from the analyzed project. The ingestor's ASM
// client is the production implementation.
type Extractor interface {
	Extract(ctx context.Context, st *graph.Store, targetPaths []string) error
}

// Report describes one completed rebuild.
type Report struct {
	Symbols    int64         `json:"symbols"`
	Edges      int64         `json:"edges"`
	BackupPath string        `json:"backup_path"`
	Duration   time.Duration `json:"duration"`
}

// Rebuilder owns the shadow-and-swap lifecycle.
type Rebuilder struct {
	mgr         *graph.Manager
	extractor   Extractor
	keepBackups int
}

// New creates a rebuilder. keepBackups bounds how many timestamped backup
// files survive cleanup.
func New(mgr *graph.Manager, extractor Extractor, keepBackups int) *Rebuilder {
	if keepBackups <= 0 {
		keepBackups = 3
	}
	return &Rebuilder{mgr: mgr, extractor: extractor, keepBackups: keepBackups}
}

const timestampLayout = "20060102_150405"

// Rebuild runs a full shadow rebuild: extract into a shadow file, verify it,
// swap it in. The live database serves reads until the swap. On any failure
// before the swap the shadow is deleted and the live database is untouched.
func (r *Rebuilder) Rebuild(ctx context.Context, targetPaths []string) (Report, error) {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryRebuild, "Rebuild")
	defer timer.Stop()
	log := logging.Get(logging.CategoryRebuild)

	ts := start.UTC().Format(timestampLayout)
	dbPath := r.mgr.Path()
	shadowPath := fmt.Sprintf("%s_new_%s.db", strings.TrimSuffix(dbPath, ".db"), ts)
	backupPath := fmt.Sprintf("%s_backup_%s", strings.TrimSuffix(dbPath, ".db"), ts)

	report, err := r.buildShadow(ctx, shadowPath, targetPaths)
	if err != nil {
		removeDatabaseFiles(shadowPath)
		metrics.RebuildsTotal.WithLabelValues("full", "error").Inc()
		return Report{}, err
	}

	err = r.mgr.SwapFiles(func(livePath string) error {
		if _, statErr := os.Stat(livePath); statErr == nil {
			if renameErr := os.Rename(livePath, backupPath); renameErr != nil {
				return apperr.Wrap(apperr.KindUnavailable, renameErr, "move live database aside")
			}
		}
		if renameErr := os.Rename(shadowPath, livePath); renameErr != nil {
			// Restore the previous database so the reopen inside SwapFiles
			// finds it.
			if restoreErr := os.Rename(backupPath, livePath); restoreErr != nil {
				return apperr.Wrap(apperr.KindFatal, renameErr, "swap failed and restore failed: %v", restoreErr)
			}
			return apperr.Wrap(apperr.KindUnavailable, renameErr, "move shadow into place")
		}
		return nil
	})
	if err != nil {
		removeDatabaseFiles(shadowPath)
		metrics.RebuildsTotal.WithLabelValues("full", "error").Inc()
		return Report{}, err
	}

	report.BackupPath = backupPath
	report.Duration = time.Since(start)
	metrics.RebuildsTotal.WithLabelValues("full", "success").Inc()
	log.Infow("rebuild complete",
		"symbols", report.Symbols, "edges", report.Edges,
		"backup", backupPath, "duration", report.Duration)

	if err := r.CleanupOldBackups(); err != nil {
		log.Warnw("backup cleanup failed", "error", err)
	}
	return report, nil
}

// buildShadow extracts into the shadow file and verifies the result.
func (r *Rebuilder) buildShadow(ctx context.Context, shadowPath string, targetPaths []string) (Report, error) {
	shadow, err := graph.Open(shadowPath)
	if err != nil {
		return Report{}, err
	}
	defer shadow.Close()

	if err := r.extractor.Extract(ctx, shadow, targetPaths); err != nil {
		return Report{}, apperr.Wrap(apperr.KindRebuildFailed, err, "extraction into shadow")
	}
	return r.verify(ctx, shadow)
}

// verify runs the four acceptance checks on a freshly built shadow: symbols
// present, no internal edge pointing at a missing symbol, foreign keys
// clean, and the file structurally sound.
func (r *Rebuilder) verify(ctx context.Context, shadow *graph.Store) (Report, error) {
	symbols, err := shadow.SymbolCount(ctx)
	if err != nil {
		return Report{}, err
	}
	if symbols == 0 {
		return Report{}, apperr.New(apperr.KindIntegrity, "shadow database has no symbols")
	}
	orphaned, err := shadow.OrphanedInternalEdgeCount(ctx)
	if err != nil {
		return Report{}, err
	}
	if orphaned > 0 {
		return Report{}, apperr.New(apperr.KindIntegrity, "shadow database has %d orphaned internal edges", orphaned)
	}
	fkViolations, err := shadow.ForeignKeyCheck(ctx)
	if err != nil {
		return Report{}, err
	}
	if fkViolations > 0 {
		return Report{}, apperr.New(apperr.KindIntegrity, "shadow database has %d foreign key violations", fkViolations)
	}
	if err := shadow.IntegrityCheck(ctx); err != nil {
		return Report{}, err
	}
	edges, err := shadow.TotalEdgeCount(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{Symbols: symbols, Edges: edges}, nil
}

// RecoverIncompleteSwap restores the newest backup when the live database
// is missing or empty, which is the signature of a crash between the two
// renames of a swap. Returns the restored backup path, or "" when nothing
// needed recovery.
func RecoverIncompleteSwap(dbPath string) (string, error) {
	info, statErr := os.Stat(dbPath)
	if statErr == nil && info.Size() > 0 {
		return "", nil
	}
	backups, err := listBackups(dbPath)
	if err != nil || len(backups) == 0 {
		return "", err
	}
	newest := backups[len(backups)-1]
	if err := os.Rename(newest, dbPath); err != nil {
		return "", apperr.Wrap(apperr.KindFatal, err, "restore backup %s", newest)
	}
	logging.Get(logging.CategoryRebuild).Warnw("incomplete swap recovered", "restored", newest)
	return newest, nil
}

// CleanupOldBackups deletes all but the newest keepBackups backup files.
func (r *Rebuilder) CleanupOldBackups() error {
	backups, err := listBackups(r.mgr.Path())
	if err != nil {
		return err
	}
	if len(backups) <= r.keepBackups {
		return nil
	}
	for _, old := range backups[:len(backups)-r.keepBackups] {
		removeDatabaseFiles(old)
		logging.Get(logging.CategoryRebuild).Debugw("old backup removed", "path", old)
	}
	return nil
}

// listBackups returns backup files for dbPath, oldest first. The timestamp
// in the name sorts lexically in age order.
func listBackups(dbPath string) ([]string, error) {
	pattern := strings.TrimSuffix(dbPath, ".db") + "_backup_*"
	backups, err := filepath.Glob(pattern)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "list backups")
	}
	sort.Strings(backups)
	return backups, nil
}

// removeDatabaseFiles deletes a SQLite file and its WAL sidecars.
func removeDatabaseFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logging.Get(logging.CategoryRebuild).Warnw("file removal failed", "path", p, "error", err)
		}
	}
}
