// Package engine holds the pure room state and game rules: player-number
// allocation, message log, vote tallying and win conditions. It performs no
// locking and no I/O; the room runtime owns the mutex and drives it.
package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/benchay1999/find-the-ai/internal/types"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseEnded      Phase = "ended"
)

type Kind string

const (
	KindHuman Kind = "human"
	KindAI    Kind = "ai"
)

// SystemSender attributes log entries produced by the room itself.
const SystemSender = "System"

type Player struct {
	ID         string `json:"id"`
	Number     int    `json:"number"`
	Kind       Kind   `json:"kind"`
	Persona    string `json:"persona,omitempty"`
	Eliminated bool   `json:"eliminated"`
	HumanKey   string `json:"human_key,omitempty"`
	JoinedAt   int64  `json:"joined_at,omitempty"`
	LeftAt     int64  `json:"left_at,omitempty"`
}

type Message struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Round     int    `json:"round"`
	Timestamp int64  `json:"timestamp"`
}

// State is the full per-room game state. All mutations happen while the room
// runtime holds the room lock.
type State struct {
	Code         string
	Status       Status
	Phase        Phase
	MaxHumans    int
	TotalPlayers int
	Creator      string
	CreatedAt    time.Time
	StartedAt    int64
	Round        int
	Topic        string
	Players      []Player
	Available    []int
	Messages     []Message
	Votes        map[string]string

	lastTS int64
}

// PlayerID renders the canonical "Player N" identifier.
func PlayerID(n int) string {
	return fmt.Sprintf("Player %d", n)
}

// NewState creates a room in the waiting phase. The player-number permutation
// is drawn once: the first totalPlayers-maxHumans entries seat the AI players
// (personas assigned in order with wrap-around), the rest become the pool
// humans draw from.
func NewState(code string, maxHumans, totalPlayers int, personas []string, rng *rand.Rand) (*State, error) {
	if maxHumans < 1 || maxHumans > totalPlayers || totalPlayers > 12 {
		return nil, types.Errorf(types.ErrInvalidParams, "bad player bounds: maxHumans=%d totalPlayers=%d", maxHumans, totalPlayers)
	}
	if len(personas) == 0 {
		return nil, types.NewError(types.ErrInvalidParams, "no personas configured")
	}

	perm := rng.Perm(totalPlayers)
	s := &State{
		Code:         code,
		Status:       StatusWaiting,
		Phase:        PhaseWaiting,
		MaxHumans:    maxHumans,
		TotalPlayers: totalPlayers,
		CreatedAt:    time.Now(),
		Votes:        make(map[string]string),
	}

	aiCount := totalPlayers - maxHumans
	for i := 0; i < aiCount; i++ {
		n := perm[i] + 1
		s.Players = append(s.Players, Player{
			ID:      PlayerID(n),
			Number:  n,
			Kind:    KindAI,
			Persona: personas[i%len(personas)],
		})
	}
	for i := aiCount; i < totalPlayers; i++ {
		s.Available = append(s.Available, perm[i]+1)
	}
	sort.Ints(s.Available)
	return s, nil
}

// Join seats a human on the smallest available number. The second return is
// true when this join fills the room.
func (s *State) Join(humanKey string) (Player, bool, error) {
	if s.Status == StatusEnded {
		return Player{}, false, types.NewError(types.ErrTerminated, "room has ended")
	}
	if s.Status != StatusWaiting {
		return Player{}, false, types.NewError(types.ErrAlreadyStarted, "game already started")
	}
	if s.HumanCount() >= s.MaxHumans || len(s.Available) == 0 {
		return Player{}, false, types.NewError(types.ErrRoomFull, "room is full")
	}
	for _, p := range s.Players {
		if p.Kind == KindHuman && p.HumanKey == humanKey {
			return Player{}, false, types.NewError(types.ErrInvalidParams, "already joined")
		}
	}

	n := s.Available[0]
	s.Available = s.Available[1:]
	p := Player{
		ID:       PlayerID(n),
		Number:   n,
		Kind:     KindHuman,
		HumanKey: humanKey,
		JoinedAt: time.Now().UnixMilli(),
	}
	s.Players = append(s.Players, p)
	if s.Creator == "" {
		s.Creator = humanKey
	}
	return p, s.HumanCount() == s.MaxHumans, nil
}

// Leave removes a human. During waiting the seat number returns to the pool;
// in progress the player is marked eliminated so no further messages or votes
// are attributed to them.
func (s *State) Leave(playerID string) (Player, error) {
	idx := s.indexOf(playerID)
	if idx < 0 {
		return Player{}, types.NewError(types.ErrNotFound, "player not found")
	}
	p := s.Players[idx]
	if p.Kind != KindHuman {
		return Player{}, types.NewError(types.ErrInvalidParams, "not a human player")
	}

	s.voidVotesInvolving(playerID)

	if s.Status == StatusWaiting {
		s.Players = append(s.Players[:idx], s.Players[idx+1:]...)
		s.Available = append(s.Available, p.Number)
		sort.Ints(s.Available)
		return p, nil
	}

	s.Players[idx].Eliminated = true
	s.Players[idx].LeftAt = time.Now().UnixMilli()
	return s.Players[idx], nil
}

// AppendMessage appends to the log with a strictly increasing timestamp.
// Text must be non-empty after trimming.
func (s *State) AppendMessage(sender, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, types.NewError(types.ErrInvalidParams, "empty message")
	}
	ts := time.Now().UnixMicro()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	m := Message{Sender: sender, Text: text, Round: s.Round, Timestamp: ts}
	s.Messages = append(s.Messages, m)
	return m, nil
}

// CastVote records one ballot for the current round.
func (s *State) CastVote(voter, target string) error {
	vi := s.indexOf(voter)
	if vi < 0 {
		return types.NewError(types.ErrNotFound, "voter not found")
	}
	ti := s.indexOf(target)
	if ti < 0 {
		return types.NewError(types.ErrNotFound, "target not found")
	}
	if s.Players[vi].Eliminated {
		return types.NewError(types.ErrInvalidParams, "voter is eliminated")
	}
	if s.Players[ti].Eliminated {
		return types.NewError(types.ErrInvalidParams, "target is eliminated")
	}
	if voter == target {
		return types.NewError(types.ErrInvalidParams, "cannot vote for yourself")
	}
	if _, ok := s.Votes[voter]; ok {
		return types.NewError(types.ErrAlreadyVoted, "vote already cast this round")
	}
	s.Votes[voter] = target
	return nil
}

// AllVoted reports whether every non-eliminated player has a ballot in.
func (s *State) AllVoted() bool {
	alive := 0
	for _, p := range s.Players {
		if !p.Eliminated {
			alive++
		}
	}
	return alive > 0 && len(s.Votes) >= alive
}

func (s *State) indexOf(playerID string) int {
	for i, p := range s.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// PlayerByID returns a copy of the named player.
func (s *State) PlayerByID(playerID string) (Player, bool) {
	idx := s.indexOf(playerID)
	if idx < 0 {
		return Player{}, false
	}
	return s.Players[idx], true
}

func (s *State) HumanCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Kind == KindHuman {
			n++
		}
	}
	return n
}

func (s *State) AliveHumans() []Player {
	var out []Player
	for _, p := range s.Players {
		if p.Kind == KindHuman && !p.Eliminated {
			out = append(out, p)
		}
	}
	return out
}

func (s *State) AliveAI() []Player {
	var out []Player
	for _, p := range s.Players {
		if p.Kind == KindAI && !p.Eliminated {
			out = append(out, p)
		}
	}
	return out
}

func (s *State) AliveCount() int {
	n := 0
	for _, p := range s.Players {
		if !p.Eliminated {
			n++
		}
	}
	return n
}

func (s *State) voidVotesInvolving(playerID string) {
	delete(s.Votes, playerID)
	for voter, target := range s.Votes {
		if target == playerID {
			delete(s.Votes, voter)
		}
	}
}

// RecentMessages returns the last k log entries.
func (s *State) RecentMessages(k int) []Message {
	if k <= 0 || len(s.Messages) <= k {
		out := make([]Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]Message, k)
	copy(out, s.Messages[len(s.Messages)-k:])
	return out
}

// PublicPlayers projects the roster for wire payloads: kind stays hidden.
func (s *State) PublicPlayers() []types.PublicPlayer {
	out := make([]types.PublicPlayer, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, types.PublicPlayer{ID: p.ID, Number: p.Number, Eliminated: p.Eliminated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// RevealedPlayers projects the roster with role attribution for game over
// and the stats record.
func (s *State) RevealedPlayers() []types.RevealedPlayer {
	out := make([]types.RevealedPlayer, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, types.RevealedPlayer{
			ID:         p.ID,
			Number:     p.Number,
			Kind:       string(p.Kind),
			Persona:    p.Persona,
			Eliminated: p.Eliminated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// WireMessages converts log entries to wire chat messages.
func WireMessages(msgs []Message) []types.ChatMessage {
	out := make([]types.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = types.ChatMessage{Sender: m.Sender, Text: m.Text, Round: m.Round, Timestamp: m.Timestamp}
	}
	return out
}
