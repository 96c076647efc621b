// Package results persists finished task results as JSON files and keeps a
// lightweight SQLite index over them for lookups and pruning.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetchlab/harvester/internal/scraper"
)

const fileTimestampLayout = "20060102T150405"

// Writer stores one JSON file per task result under its directory. An
// optional Index records every write.
type Writer struct {
	dir   string
	index *Index
	log   zerolog.Logger
}

// NewWriter creates a writer rooted at dir. index may be nil.
func NewWriter(dir string, index *Index, log zerolog.Logger) *Writer {
	return &Writer{
		dir:   dir,
		index: index,
		log:   log.With().Str("component", "results").Logger(),
	}
}

// Write persists the result and returns the file path. Results are written
// whole-file via rename so readers never observe a partial document.
func (w *Writer) Write(ctx context.Context, result *scraper.TaskResult) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	name := fmt.Sprintf("task_%s_%s.json", result.TaskID, time.Now().UTC().Format(fileTimestampLayout))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result for task %s: %w", result.TaskID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize result file: %w", err)
	}

	if w.index != nil {
		if err := w.index.Record(ctx, result, path); err != nil {
			w.log.Warn().Err(err).Str("task_id", result.TaskID).Msg("failed to index result")
		}
	}

	w.log.Debug().Str("task_id", result.TaskID).Str("file", path).Msg("result persisted")
	return path, nil
}

// PruneOlderThan removes result files whose modification time predates the
// cutoff and reports how many were deleted. The index, when present, is
// pruned to match.
func (w *Writer) PruneOlderThan(age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan results directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "task_") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil {
			w.log.Warn().Err(err).Str("file", entry.Name()).Msg("failed to prune result file")
			continue
		}
		removed++
	}

	if w.index != nil {
		if err := w.index.PruneBefore(context.Background(), cutoff); err != nil {
			w.log.Warn().Err(err).Msg("failed to prune result index")
		}
	}

	if removed > 0 {
		w.log.Info().Int("removed", removed).Msg("pruned old result files")
	}
	return removed, nil
}
