// Package store persists post-game stats records to MySQL, with an
// in-memory mode when no database is configured. Rooms themselves are never
// persisted; they live and die with the process.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/benchay1999/find-the-ai/internal/types"
)

type Store struct {
	DB         *sql.DB
	MemoryMode bool

	mu      sync.RWMutex
	records []StoredStats
}

type StoredStats struct {
	RoomCode   string
	Winner     string
	Rounds     int
	RecordJSON string
	EndedAt    time.Time
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func NewMemoryStore() *Store {
	return &Store{MemoryMode: true}
}

func ConnectMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// SaveStats inserts one game's stats record.
func (s *Store) SaveStats(ctx context.Context, rec StoredStats) error {
	if s.MemoryMode {
		s.mu.Lock()
		s.records = append(s.records, rec)
		s.mu.Unlock()
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO game_stats (room_code,winner,rounds,record_json,ended_at) VALUES (?,?,?,?,?)`,
		rec.RoomCode, rec.Winner, rec.Rounds, rec.RecordJSON, rec.EndedAt)
	if err != nil {
		return types.WrapError(types.ErrInternal, "cannot save stats", err)
	}
	return nil
}

// ListStats returns recent records, newest first.
func (s *Store) ListStats(ctx context.Context, limit int) ([]StoredStats, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		start := 0
		if len(s.records) > limit {
			start = len(s.records) - limit
		}
		out := make([]StoredStats, 0, limit)
		for i := len(s.records) - 1; i >= start; i-- {
			out = append(out, s.records[i])
		}
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT room_code,winner,rounds,record_json,ended_at FROM game_stats ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredStats
	for rows.Next() {
		var r StoredStats
		if err := rows.Scan(&r.RoomCode, &r.Winner, &r.Rounds, &r.RecordJSON, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.MemoryMode {
		return nil
	}
	return s.DB.Close()
}
