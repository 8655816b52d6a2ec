package logging

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LockSuffix is the file name suffix of lock markers. Retention never
// removes files carrying it.
const LockSuffix = ".lock"

// Retention removes old log files from a pipeline's log directory. The
// directory must only contain files created by gosync: everything older
// than the retention period is deleted regardless of its name.
type Retention struct {
	// Dir is the per-pipeline log directory.
	Dir string
	// Days is the retention period. Zero or negative disables cleaning.
	Days int
	// Keep lists paths that are never deleted (the active log file).
	Keep []string
	// CreatedAt returns the creation time of a file. Defaults to the
	// inode change time on linux and the modification time elsewhere.
	CreatedAt func(path string, info fs.FileInfo) time.Time
	// Logger receives a debug record per deleted file. Optional.
	Logger *slog.Logger
}

// Clean deletes every regular file in Dir created at least Days*24h before
// now and returns the deleted paths. A missing directory is not an error.
func (r Retention) Clean(now time.Time) ([]string, error) {
	if r.Days <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	createdAt := r.CreatedAt
	if createdAt == nil {
		createdAt = creationTime
	}

	keep := make(map[string]bool, len(r.Keep))
	for _, path := range r.Keep {
		keep[filepath.Clean(path)] = true
	}

	maxAge := time.Duration(r.Days) * 24 * time.Hour
	var deleted []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), LockSuffix) {
			continue
		}
		path := filepath.Join(r.Dir, entry.Name())
		if keep[filepath.Clean(path)] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed by someone else in the meantime.
			continue
		}
		if now.Sub(createdAt(path, info)) < maxAge {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("removing old log %q: %w", path, err)
		}
		if r.Logger != nil {
			r.Logger.Debug("old log removed", "path", path)
		}
		deleted = append(deleted, path)
	}

	return deleted, nil
}
