package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSaveAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.SaveStats(ctx, StoredStats{
			RoomCode:   "ROOM0" + string(rune('1'+i)),
			Winner:     "humans",
			Rounds:     1,
			RecordJSON: "{}",
			EndedAt:    time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}

	recs, err := s.ListStats(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Newest first.
	if recs[0].RoomCode != "ROOM03" {
		t.Errorf("order wrong: %+v", recs)
	}
}

func TestMemoryStoreListEmpty(t *testing.T) {
	s := NewMemoryStore()
	recs, err := s.ListStats(context.Background(), 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty, got %d", len(recs))
	}
}

func TestConnectMySQLRejectsBadDSN(t *testing.T) {
	if _, err := ConnectMySQL("not a dsn"); err == nil {
		t.Fatalf("expected error for malformed DSN")
	}
}
