// Package projection builds the wire payloads subscribers see. Its one
// invariant: nothing on the wire may reveal which players are AI until the
// game is over. Roster payloads carry numbers and elimination flags only;
// role attribution appears exclusively in the game_over payload and the
// stats record.
package projection

import (
	"encoding/json"
	"time"

	"github.com/benchay1999/find-the-ai/internal/engine"
	"github.com/benchay1999/find-the-ai/internal/types"
)

// Build assembles a wire event with a marshaled payload. Seq is assigned by
// the orchestrator under the room lock.
func Build(roomCode string, seq int64, eventType string, data any) types.Event {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return types.Event{
		RoomCode:   roomCode,
		Seq:        seq,
		Type:       eventType,
		Data:       raw,
		ServerTSMs: time.Now().UnixMilli(),
	}
}

// Snapshot renders the connect-time state: roster (concealed), phase, topic,
// round and the recent message window.
func Snapshot(s *engine.State, messageWindow int, phaseEndsAtMs int64) types.SnapshotData {
	return types.SnapshotData{
		RoomCode:      s.Code,
		Status:        string(s.Status),
		Phase:         string(s.Phase),
		Round:         s.Round,
		Topic:         s.Topic,
		Players:       s.PublicPlayers(),
		Messages:      engine.WireMessages(s.RecentMessages(messageWindow)),
		PhaseEndsAtMs: phaseEndsAtMs,
	}
}

// PlayerList renders the concealed roster delta.
func PlayerList(s *engine.State) []types.PublicPlayer {
	return s.PublicPlayers()
}

// Message renders a chat message event payload.
func Message(m engine.Message) types.ChatMessage {
	return types.ChatMessage{Sender: m.Sender, Text: m.Text, Round: m.Round, Timestamp: m.Timestamp}
}

// Elimination renders the elimination outcome. The eliminated player's kind
// stays hidden; the reveal happens at game over.
func Elimination(res engine.TallyResult) types.EliminationData {
	return types.EliminationData{
		PlayerID: res.Eliminated.ID,
		Number:   res.Eliminated.Number,
		Votes:    res.Counts,
		TieBreak: res.TieBreak,
	}
}

// GameOver renders the terminal payload with full role attribution.
func GameOver(s *engine.State, winner, reason string) types.GameOverData {
	return types.GameOverData{
		Winner:  winner,
		Reason:  reason,
		Rounds:  s.Round,
		Players: s.RevealedPlayers(),
	}
}
