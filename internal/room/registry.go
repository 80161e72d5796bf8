// Package room contains the per-room game orchestrator and the registry that
// owns every live room. The orchestrator holds the room lock across state
// mutations only; agent generations and ballot picks run on the shared
// worker pool, shouldRespond probes in their own goroutines, and broadcast
// delivery happens on the room's bus goroutine.
package room

import (
	"context"
	"crypto/rand"
	mrand "math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/agent"
	"github.com/benchay1999/find-the-ai/internal/auth"
	"github.com/benchay1999/find-the-ai/internal/config"
	"github.com/benchay1999/find-the-ai/internal/engine"
	"github.com/benchay1999/find-the-ai/internal/observability"
	"github.com/benchay1999/find-the-ai/internal/types"
	"github.com/benchay1999/find-the-ai/internal/worker"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

// StatsSink receives the post-game stats record. The room is deleted only
// after Flush returns.
type StatsSink interface {
	Flush(ctx context.Context, rec types.StatsRecord) error
}

// Deps bundles the process-wide collaborators every room shares.
type Deps struct {
	Cfg     config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Pool    *worker.Pool
	Policy  *agent.Policy
	Stats   StatsSink
}

// Registry allocates, looks up and deletes rooms. Its mutex guards only the
// map; room state has its own lock.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	rng   *mrand.Rand
	deps  Deps
}

func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		rooms: make(map[string]*Room),
		rng:   mrand.New(mrand.NewSource(time.Now().UnixNano())),
		deps:  deps,
	}
}

// Summary is the listing view of a waiting room.
type Summary struct {
	Code         string    `json:"code"`
	MaxHumans    int       `json:"max_humans"`
	TotalPlayers int       `json:"total_players"`
	Humans       int       `json:"humans"`
	Private      bool      `json:"private"`
	CreatedAt    time.Time `json:"created_at"`
}

// Create allocates a room with a fresh unique code.
func (reg *Registry) Create(maxHumans, totalPlayers int, passcode string) (*Room, error) {
	cfg := reg.deps.Cfg
	if maxHumans < 1 || maxHumans > cfg.MaxHumansCap {
		return nil, types.Errorf(types.ErrInvalidParams, "maxHumans must be in [1,%d]", cfg.MaxHumansCap)
	}
	if totalPlayers < maxHumans || totalPlayers > cfg.TotalPlayersCap {
		return nil, types.Errorf(types.ErrInvalidParams, "totalPlayers must be in [%d,%d]", maxHumans, cfg.TotalPlayersCap)
	}

	var passHash string
	if passcode != "" {
		h, err := auth.HashPasscode(passcode)
		if err != nil {
			return nil, types.WrapError(types.ErrInternal, "cannot hash passcode", err)
		}
		passHash = h
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(reg.rooms) >= cfg.MaxRooms {
		return nil, types.NewError(types.ErrCapacityExceeded, "room cap reached")
	}

	code, err := reg.generateCodeLocked()
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "cannot generate room code", err)
	}

	roomRng := mrand.New(mrand.NewSource(reg.rng.Int63()))
	state, err := engine.NewState(code, maxHumans, totalPlayers, agent.PersonaDescriptors(), roomRng)
	if err != nil {
		return nil, err
	}

	r := newRoom(state, roomRng, passHash, reg.deps, reg.remove)
	reg.rooms[code] = r
	if reg.deps.Metrics != nil {
		reg.deps.Metrics.RoomsLive.Set(float64(len(reg.rooms)))
	}
	reg.deps.Logger.Info("room created",
		zap.String("room_code", code),
		zap.Int("max_humans", maxHumans),
		zap.Int("total_players", totalPlayers))
	return r, nil
}

// Get looks a room up by code.
func (reg *Registry) Get(code string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "room not found")
	}
	return r, nil
}

// List pages through waiting rooms, oldest first.
func (reg *Registry) List(page, perPage int) ([]Summary, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	var waiting []Summary
	for _, r := range rooms {
		if sum, ok := r.waitingSummary(); ok {
			waiting = append(waiting, sum)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].CreatedAt.Before(waiting[j].CreatedAt) })

	totalPages := (len(waiting) + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start >= len(waiting) {
		return []Summary{}, totalPages
	}
	end := start + perPage
	if end > len(waiting) {
		end = len(waiting)
	}
	return waiting[start:end], totalPages
}

// Delete terminates a room. Idempotent: deleting an absent code is a no-op.
func (reg *Registry) Delete(code string) {
	reg.mu.Lock()
	r, ok := reg.rooms[code]
	reg.mu.Unlock()
	if !ok {
		return
	}
	r.Terminate("room deleted")
}

// Close terminates every room; used on shutdown.
func (reg *Registry) Close() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()
	for _, r := range rooms {
		r.Terminate("server shutting down")
	}
}

func (reg *Registry) remove(code string) {
	reg.mu.Lock()
	delete(reg.rooms, code)
	if reg.deps.Metrics != nil {
		reg.deps.Metrics.RoomsLive.Set(float64(len(reg.rooms)))
	}
	reg.mu.Unlock()
}

// generateCodeLocked rejection-samples 6-char uppercase alphanumerics until
// an unused code comes up.
func (reg *Registry) generateCodeLocked() (string, error) {
	buf := make([]byte, codeLength)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		code := make([]byte, codeLength)
		for i, b := range buf {
			code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		if _, taken := reg.rooms[string(code)]; !taken {
			return string(code), nil
		}
	}
}
