package projection

import (
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/benchay1999/find-the-ai/internal/engine"
	"github.com/benchay1999/find-the-ai/internal/types"
)

func testState(t *testing.T) *engine.State {
	t.Helper()
	s, err := engine.NewState("ROOM01", 2, 6, []string{"casual", "dry"}, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	s.Join("alice")
	s.Join("bob")
	s.Status = engine.StatusInProgress
	s.AdvanceRound("topic")
	s.AppendMessage("Player 1", "hello")
	return s
}

// Nothing in a snapshot payload may reveal which players are AI.
func TestSnapshotConcealsRoles(t *testing.T) {
	s := testState(t)
	snap := Snapshot(s, 50, 0)
	if len(snap.Players) != 6 {
		t.Fatalf("expected 6 players, got %d", len(snap.Players))
	}

	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	payload := string(b)
	for _, leak := range []string{"kind", "persona", "human_key", "\"ai\""} {
		if strings.Contains(payload, leak) {
			t.Errorf("snapshot payload leaks %q: %s", leak, payload)
		}
	}
	if snap.Topic != "topic" || snap.Round != 1 {
		t.Errorf("snapshot state wrong: %+v", snap)
	}
	if len(snap.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(snap.Messages))
	}
}

func TestSnapshotWindowsMessages(t *testing.T) {
	s := testState(t)
	for i := 0; i < 80; i++ {
		s.AppendMessage("Player 1", "spam")
	}
	snap := Snapshot(s, 50, 0)
	if len(snap.Messages) != 50 {
		t.Fatalf("window is %d, want 50", len(snap.Messages))
	}
}

func TestGameOverRevealsRoles(t *testing.T) {
	s := testState(t)
	data := GameOver(s, engine.WinnerHumans, "the ai was found")
	if data.Winner != engine.WinnerHumans {
		t.Errorf("winner wrong")
	}
	aiSeen := 0
	for _, p := range data.Players {
		if p.Kind == "ai" {
			aiSeen++
			if p.Persona == "" {
				t.Errorf("revealed AI %s lacks persona", p.ID)
			}
		}
	}
	if aiSeen != 4 {
		t.Errorf("revealed %d AI, want 4", aiSeen)
	}
}

func TestBuildAssignsSeqAndTimestamp(t *testing.T) {
	ev := Build("ROOM01", 7, types.EventTopic, map[string]string{"topic": "x"})
	if ev.Seq != 7 || ev.RoomCode != "ROOM01" || ev.Type != types.EventTopic {
		t.Fatalf("event fields wrong: %+v", ev)
	}
	if ev.ServerTSMs == 0 {
		t.Errorf("timestamp missing")
	}
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil || data["topic"] != "x" {
		t.Errorf("payload wrong: %s", ev.Data)
	}
}
