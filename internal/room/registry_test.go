package room

import (
	"context"
	"regexp"
	"testing"

	"github.com/benchay1999/find-the-ai/internal/types"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateGeneratesUniqueCodes(t *testing.T) {
	reg := testRegistry(t, &fakeProvider{probeSay: "NO"}, testConfig(), newFakeSink())
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		rm, err := reg.Create(2, 6, "")
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if !codePattern.MatchString(rm.Code) {
			t.Fatalf("code %q does not match format", rm.Code)
		}
		if seen[rm.Code] {
			t.Fatalf("duplicate code %q", rm.Code)
		}
		seen[rm.Code] = true
	}
}

func TestCreateEnforcesCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRooms = 2
	reg := testRegistry(t, &fakeProvider{probeSay: "NO"}, cfg, newFakeSink())

	for i := 0; i < 2; i++ {
		if _, err := reg.Create(2, 6, ""); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}
	if _, err := reg.Create(2, 6, ""); !types.Is(err, types.ErrCapacityExceeded) {
		t.Fatalf("expected capacity_exceeded, got %v", err)
	}
}

func TestCreateValidatesBounds(t *testing.T) {
	reg := testRegistry(t, &fakeProvider{probeSay: "NO"}, testConfig(), newFakeSink())
	cases := []struct{ maxHumans, totalPlayers int }{
		{0, 6},
		{5, 6},  // above MaxHumansCap of 4
		{2, 13}, // above TotalPlayersCap of 12
		{3, 2},  // totalPlayers below maxHumans
	}
	for _, c := range cases {
		if _, err := reg.Create(c.maxHumans, c.totalPlayers, ""); !types.Is(err, types.ErrInvalidParams) {
			t.Errorf("maxHumans=%d totalPlayers=%d: expected invalid_params, got %v",
				c.maxHumans, c.totalPlayers, err)
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg := testRegistry(t, &fakeProvider{probeSay: "NO"}, testConfig(), newFakeSink())
	rm, _ := reg.Create(2, 6, "")
	reg.Delete(rm.Code)
	reg.Delete(rm.Code)
	reg.Delete("NOSUCH")
	if _, err := reg.Get(rm.Code); !types.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not_found after delete, got %v", err)
	}
}

func TestListOnlyWaitingRoomsPaged(t *testing.T) {
	reg := testRegistry(t, &fakeProvider{probeSay: "NO"}, testConfig(), newFakeSink())

	var codes []string
	for i := 0; i < 5; i++ {
		rm, err := reg.Create(2, 6, "")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		codes = append(codes, rm.Code)
	}
	// Start one room; it must drop out of the listing.
	started, _ := reg.Get(codes[0])
	started.Join(context.Background(), "a", "")
	if _, err := started.Join(context.Background(), "b", ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	rooms, totalPages := reg.List(1, 2)
	if totalPages != 2 {
		t.Fatalf("totalPages=%d, want 2", totalPages)
	}
	if len(rooms) != 2 {
		t.Fatalf("page size %d, want 2", len(rooms))
	}
	// Oldest first.
	if !rooms[0].CreatedAt.Before(rooms[1].CreatedAt) && !rooms[0].CreatedAt.Equal(rooms[1].CreatedAt) {
		t.Errorf("listing not sorted by creation time")
	}
	for _, sum := range rooms {
		if sum.Code == codes[0] {
			t.Errorf("started room still listed")
		}
	}

	rooms, _ = reg.List(2, 2)
	if len(rooms) != 2 {
		t.Fatalf("second page size %d", len(rooms))
	}
	rooms, _ = reg.List(3, 2)
	if len(rooms) != 0 {
		t.Fatalf("page past end returned %d rooms", len(rooms))
	}
}

func TestPrivateRoomFlagInListing(t *testing.T) {
	reg := testRegistry(t, &fakeProvider{probeSay: "NO"}, testConfig(), newFakeSink())
	if _, err := reg.Create(2, 6, "sesame"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	rooms, _ := reg.List(1, 10)
	if len(rooms) != 1 || !rooms[0].Private {
		t.Fatalf("private flag not surfaced: %+v", rooms)
	}
}
