// Package stats writes the post-game record: always a JSON file named
// {roomCode}-{unixSeconds}.json under the stats directory, plus a MySQL row
// when a database is configured.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/store"
	"github.com/benchay1999/find-the-ai/internal/types"
)

type Writer struct {
	dir    string
	db     *store.Store
	logger *zap.Logger
}

// NewWriter creates the stats writer. db may be nil for file-only mode.
func NewWriter(dir string, db *store.Store, logger *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, db: db, logger: logger}, nil
}

// Flush writes the record. The file write is the source of truth; the DB
// insert is best effort and only logged on failure.
func (w *Writer) Flush(ctx context.Context, rec types.StatsRecord) error {
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return types.WrapError(types.ErrInternal, "cannot marshal stats", err)
	}

	name := fmt.Sprintf("%s-%d.json", rec.RoomCode, time.Now().Unix())
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return types.WrapError(types.ErrInternal, "cannot write stats file", err)
	}
	w.logger.Info("stats flushed",
		zap.String("room_code", rec.RoomCode),
		zap.String("file", path))

	if w.db != nil {
		err := w.db.SaveStats(ctx, store.StoredStats{
			RoomCode:   rec.RoomCode,
			Winner:     rec.Winner,
			Rounds:     rec.Rounds,
			RecordJSON: string(payload),
			EndedAt:    time.UnixMilli(rec.EndedAt),
		})
		if err != nil {
			w.logger.Warn("stats db insert failed", zap.Error(err))
		}
	}
	return nil
}

// Read loads a stats file back; used by tests.
func Read(path string) (types.StatsRecord, error) {
	var rec types.StatsRecord
	b, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}
