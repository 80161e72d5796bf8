package stats

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/benchay1999/find-the-ai/internal/types"
)

func sampleRecord() types.StatsRecord {
	return types.StatsRecord{
		RoomCode:     "A1B2C3",
		MaxHumans:    2,
		TotalPlayers: 6,
		Topic:        "favorite foods",
		StartedAt:    1720000000000,
		EndedAt:      1720000300000,
		Players: []types.RevealedPlayer{
			{ID: "Player 1", Number: 1, Kind: "human"},
			{ID: "Player 2", Number: 2, Kind: "ai", Persona: "dry", Eliminated: true},
		},
		Messages: []types.ChatMessage{
			{Sender: "System", Text: "Round 1 discussion. Topic: favorite foods", Round: 1, Timestamp: 100},
			{Sender: "Player 1", Text: "pizza", Round: 1, Timestamp: 101},
			{Sender: "Player 2", Text: "agreed", Round: 1, Timestamp: 102},
		},
		Ballots:    map[string]string{"Player 1": "Player 2"},
		VoteTotals: map[string]int{"Player 2": 1},
		Eliminated: []string{"Player 2"},
		Winner:     "humans",
		Rounds:     1,
	}
}

// The stats file parsed back reproduces players, roles and the full message
// log exactly.
func TestFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, nil, nil)
	if err != nil {
		t.Fatalf("writer init failed: %v", err)
	}

	rec := sampleRecord()
	if err := w.Flush(context.Background(), rec); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one stats file, got %d (%v)", len(entries), err)
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "A1B2C3-") || !strings.HasSuffix(name, ".json") {
		t.Fatalf("bad stats filename %q", name)
	}

	got, err := Read(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}

func TestWriterCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "stats")
	if _, err := NewWriter(dir, nil, nil); err != nil {
		t.Fatalf("writer should create the directory: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("directory missing: %v", err)
	}
}
