package engine

import (
	"math/rand"
	"testing"

	"github.com/benchay1999/find-the-ai/internal/types"
)

func newTestState(t *testing.T, maxHumans, totalPlayers int) *State {
	t.Helper()
	s, err := NewState("ROOM01", maxHumans, totalPlayers, []string{"casual", "dry", "curious"}, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	return s
}

func TestNewStateSeatsAIFirst(t *testing.T) {
	s := newTestState(t, 2, 6)
	if len(s.Players) != 4 {
		t.Fatalf("expected 4 AI players, got %d", len(s.Players))
	}
	for _, p := range s.Players {
		if p.Kind != KindAI {
			t.Errorf("pre-seated player %s is not AI", p.ID)
		}
		if p.Persona == "" {
			t.Errorf("AI player %s has no persona", p.ID)
		}
	}
	if len(s.Available) != 2 {
		t.Fatalf("expected 2 available numbers, got %d", len(s.Available))
	}
}

func TestNewStateBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		maxHumans, totalPlayers int
	}{
		{0, 5},
		{6, 5},
		{1, 13},
	}
	for _, c := range cases {
		if _, err := NewState("R", c.maxHumans, c.totalPlayers, []string{"x"}, rng); err == nil {
			t.Errorf("expected error for maxHumans=%d totalPlayers=%d", c.maxHumans, c.totalPlayers)
		}
	}
}

// Player numbers stay a duplicate-free subset of [1..totalPlayers] across
// any waiting-phase join/leave sequence.
func TestPlayerNumberUniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		s := newTestState(t, 4, 9)
		var joined []string
		for step := 0; step < 30; step++ {
			if rng.Intn(2) == 0 && len(joined) < 4 {
				key := string(rune('a' + trial*31 + step))
				p, _, err := s.Join(key)
				if err == nil {
					joined = append(joined, p.ID)
				}
			} else if len(joined) > 0 {
				idx := rng.Intn(len(joined))
				if _, err := s.Leave(joined[idx]); err != nil {
					t.Fatalf("leave failed: %v", err)
				}
				joined = append(joined[:idx], joined[idx+1:]...)
			}

			seen := make(map[int]bool)
			for _, p := range s.Players {
				if p.Number < 1 || p.Number > 9 {
					t.Fatalf("number %d out of range", p.Number)
				}
				if seen[p.Number] {
					t.Fatalf("duplicate number %d", p.Number)
				}
				seen[p.Number] = true
			}
			for _, n := range s.Available {
				if seen[n] {
					t.Fatalf("available number %d also assigned", n)
				}
				seen[n] = true
			}
			if len(seen) != 9 {
				t.Fatalf("numbers lost: have %d of 9", len(seen))
			}
		}
	}
}

func TestJoinPopsSmallestNumber(t *testing.T) {
	s := newTestState(t, 3, 8)
	want := append([]int(nil), s.Available...)
	for i, n := range want {
		p, _, err := s.Join(string(rune('a' + i)))
		if err != nil {
			t.Fatalf("join %d failed: %v", i, err)
		}
		if p.Number != n {
			t.Errorf("join %d got number %d, want %d", i, p.Number, n)
		}
	}
}

func TestJoinFullAndStarted(t *testing.T) {
	s := newTestState(t, 1, 5)
	_, started, err := s.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !started {
		t.Fatalf("expected room to fill on first join")
	}
	if _, _, err := s.Join("bob"); !types.Is(err, types.ErrRoomFull) {
		t.Errorf("expected room_full, got %v", err)
	}
	s.Status = StatusInProgress
	if _, _, err := s.Join("carol"); !types.Is(err, types.ErrAlreadyStarted) {
		t.Errorf("expected already_started, got %v", err)
	}
}

func TestJoinDuplicateKey(t *testing.T) {
	s := newTestState(t, 2, 6)
	if _, _, err := s.Join("alice"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, _, err := s.Join("alice"); err == nil {
		t.Fatalf("expected error for duplicate key")
	}
}

func TestLeaveDuringWaitingRecyclesNumber(t *testing.T) {
	s := newTestState(t, 2, 6)
	p, _, err := s.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	before := len(s.Available)
	if _, err := s.Leave(p.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if len(s.Available) != before+1 {
		t.Errorf("number not recycled")
	}
	if _, ok := s.PlayerByID(p.ID); ok {
		t.Errorf("player still present after leave")
	}
}

func TestLeaveInProgressMarksEliminated(t *testing.T) {
	s := newTestState(t, 2, 6)
	p, _, _ := s.Join("alice")
	s.Join("bob")
	s.Status = StatusInProgress
	s.AdvanceRound("topic")

	left, err := s.Leave(p.ID)
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if !left.Eliminated {
		t.Errorf("leaver not marked eliminated")
	}
	if _, ok := s.PlayerByID(p.ID); !ok {
		t.Errorf("in-progress leaver should keep the seat record")
	}
}

func TestAppendMessageRejectsEmpty(t *testing.T) {
	s := newTestState(t, 1, 4)
	if _, err := s.AppendMessage("Player 1", "   "); !types.Is(err, types.ErrInvalidParams) {
		t.Errorf("expected invalid_params for blank text, got %v", err)
	}
}

func TestAppendMessageTimestampsStrictlyIncrease(t *testing.T) {
	s := newTestState(t, 1, 4)
	var last int64
	for i := 0; i < 100; i++ {
		m, err := s.AppendMessage(SystemSender, "msg")
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if m.Timestamp <= last {
			t.Fatalf("timestamp not strictly increasing: %d after %d", m.Timestamp, last)
		}
		last = m.Timestamp
	}
}

func TestCastVoteLegality(t *testing.T) {
	s := newTestState(t, 2, 5)
	a, _, _ := s.Join("alice")
	b, _, _ := s.Join("bob")
	s.Status = StatusInProgress
	s.AdvanceRound("topic")
	s.Phase = PhaseVoting

	if err := s.CastVote(a.ID, a.ID); !types.Is(err, types.ErrInvalidParams) {
		t.Errorf("self-vote: expected invalid_params, got %v", err)
	}
	if err := s.CastVote(a.ID, "Player 99"); !types.Is(err, types.ErrNotFound) {
		t.Errorf("unknown target: expected not_found, got %v", err)
	}
	if err := s.CastVote(a.ID, b.ID); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := s.CastVote(a.ID, b.ID); !types.Is(err, types.ErrAlreadyVoted) {
		t.Errorf("double vote: expected already_voted, got %v", err)
	}

	ai := s.AliveAI()[0]
	idx := -1
	for i, p := range s.Players {
		if p.ID == ai.ID {
			idx = i
		}
	}
	s.Players[idx].Eliminated = true
	if err := s.CastVote(b.ID, ai.ID); !types.Is(err, types.ErrInvalidParams) {
		t.Errorf("eliminated target: expected invalid_params, got %v", err)
	}
}

func TestLeaveVoidsVotes(t *testing.T) {
	s := newTestState(t, 2, 5)
	a, _, _ := s.Join("alice")
	b, _, _ := s.Join("bob")
	s.Status = StatusInProgress
	s.AdvanceRound("topic")
	s.Phase = PhaseVoting

	ai := s.AliveAI()[0]
	if err := s.CastVote(a.ID, b.ID); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := s.CastVote(b.ID, ai.ID); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if _, err := s.Leave(b.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if len(s.Votes) != 0 {
		t.Errorf("votes involving leaver not voided: %v", s.Votes)
	}
}

func TestAllVoted(t *testing.T) {
	s := newTestState(t, 2, 4)
	a, _, _ := s.Join("alice")
	b, _, _ := s.Join("bob")
	s.Status = StatusInProgress
	s.AdvanceRound("topic")
	s.Phase = PhaseVoting

	ais := s.AliveAI()
	if s.AllVoted() {
		t.Fatalf("AllVoted true with no votes")
	}
	s.CastVote(a.ID, ais[0].ID)
	s.CastVote(b.ID, ais[0].ID)
	s.CastVote(ais[0].ID, a.ID)
	if s.AllVoted() {
		t.Fatalf("AllVoted true with one ballot missing")
	}
	s.CastVote(ais[1].ID, a.ID)
	if !s.AllVoted() {
		t.Fatalf("AllVoted false with all ballots in")
	}
}

func TestPublicPlayersConcealKind(t *testing.T) {
	s := newTestState(t, 1, 5)
	s.Join("alice")
	pub := s.PublicPlayers()
	if len(pub) != 5 {
		t.Fatalf("expected 5 players, got %d", len(pub))
	}
	for i := 1; i < len(pub); i++ {
		if pub[i].Number <= pub[i-1].Number {
			t.Errorf("players not sorted by number")
		}
	}
	rev := s.RevealedPlayers()
	aiCount := 0
	for _, p := range rev {
		if p.Kind == string(KindAI) {
			aiCount++
		}
	}
	if aiCount != 4 {
		t.Errorf("expected 4 revealed AI, got %d", aiCount)
	}
}
