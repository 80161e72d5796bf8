package room

import (
	"context"
	"fmt"
	mrand "math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/auth"
	"github.com/benchay1999/find-the-ai/internal/bus"
	"github.com/benchay1999/find-the-ai/internal/engine"
	"github.com/benchay1999/find-the-ai/internal/projection"
	"github.com/benchay1999/find-the-ai/internal/types"
)

const timerRetryLimit = 3

// Room is the per-room orchestrator. mu guards state and is held only across
// non-blocking mutations; trigger guards the scheduler pipeline with
// try-acquire semantics (see scheduler.go).
type Room struct {
	Code string

	mu          sync.Mutex
	state       *engine.State
	seq         int64
	rng         *mrand.Rand
	passHash    string
	deleted     bool
	phaseTimer  *time.Timer
	timerGen    int
	phaseEndsAt time.Time
	humansSpoke map[string]bool
	discStarted time.Time
	lastSpoke   map[string]time.Time
	processing  map[string]struct{}
	timerFails  int

	trigger sync.Mutex

	bus      *bus.Bus
	deps     Deps
	tracer   trace.Tracer
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	onDelete func(code string)
}

func newRoom(state *engine.State, rng *mrand.Rand, passHash string, deps Deps, onDelete func(string)) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	var dropped bus.DroppedFunc
	if deps.Metrics != nil {
		dropped = func() { deps.Metrics.SubscriberDrops.Inc() }
	}
	r := &Room{
		Code:        state.Code,
		state:       state,
		rng:         rng,
		passHash:    passHash,
		humansSpoke: make(map[string]bool),
		lastSpoke:   make(map[string]time.Time),
		processing:  make(map[string]struct{}),
		deps:        deps,
		tracer:      otel.Tracer("room"),
		logger:      deps.Logger.With(zap.String("room_code", state.Code)),
		ctx:         ctx,
		cancel:      cancel,
		onDelete:    onDelete,
	}
	r.bus = bus.New(deps.Cfg.BusBufferSize, r.logger, dropped)
	return r
}

// emitLocked assigns the next sequence number and hands the event to the bus.
// The enqueue is O(1); fan-out happens on the bus goroutine.
func (r *Room) emitLocked(eventType string, data any) {
	r.seq++
	r.bus.Publish(projection.Build(r.Code, r.seq, eventType, data))
}

func (r *Room) systemMessageLocked(text string) {
	m, err := r.state.AppendMessage(engine.SystemSender, text)
	if err != nil {
		return
	}
	r.emitLocked(types.EventMessage, projection.Message(m))
}

func (r *Room) observe(op string, start time.Time, err error) {
	if r.deps.Metrics == nil {
		return
	}
	r.deps.Metrics.CommandLatency.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		r.deps.Metrics.CommandReject.WithLabelValues(string(types.CodeOf(err))).Inc()
	}
}

// Join seats a human. Filling the last seat starts the game.
func (r *Room) Join(ctx context.Context, humanKey, passcode string) (string, error) {
	_, span := r.tracer.Start(ctx, "room.join")
	defer span.End()
	start := time.Now()

	if r.passHash != "" {
		if err := auth.CheckPasscode(r.passHash, passcode); err != nil {
			err := types.NewError(types.ErrUnauthorized, "wrong passcode")
			r.observe("join", start, err)
			return "", err
		}
	}

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		err := types.NewError(types.ErrTerminated, "room has ended")
		r.observe("join", start, err)
		return "", err
	}
	p, started, err := r.state.Join(humanKey)
	if err != nil {
		r.mu.Unlock()
		r.observe("join", start, err)
		return "", err
	}
	r.emitLocked(types.EventPlayerJoined, types.PublicPlayer{ID: p.ID, Number: p.Number})
	r.emitLocked(types.EventPlayerList, projection.PlayerList(r.state))
	if started {
		r.state.Status = engine.StatusInProgress
		r.state.StartedAt = time.Now().UnixMilli()
		r.beginDiscussionLocked()
	}
	r.mu.Unlock()

	if started {
		go r.runIdleTicker()
		r.TriggerAgents("game_start")
	}
	r.observe("join", start, nil)
	return p.ID, nil
}

// Leave removes a human. The creator leaving, or the last human leaving,
// terminates the room.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	_, span := r.tracer.Start(ctx, "room.leave")
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		err := types.NewError(types.ErrTerminated, "room has ended")
		r.observe("leave", start, err)
		return err
	}
	p, ok := r.state.PlayerByID(playerID)
	if !ok || p.Kind != engine.KindHuman {
		r.mu.Unlock()
		err := types.NewError(types.ErrNotFound, "player not found")
		r.observe("leave", start, err)
		return err
	}

	if p.HumanKey == r.state.Creator {
		r.mu.Unlock()
		r.Terminate("creator left")
		r.observe("leave", start, nil)
		return nil
	}

	if _, err := r.state.Leave(playerID); err != nil {
		r.mu.Unlock()
		r.observe("leave", start, err)
		return err
	}
	r.emitLocked(types.EventPlayerLeft, types.PublicPlayer{ID: p.ID, Number: p.Number})
	r.emitLocked(types.EventPlayerList, projection.PlayerList(r.state))

	if len(r.state.AliveHumans()) == 0 {
		r.mu.Unlock()
		r.Terminate("all humans left")
		r.observe("leave", start, nil)
		return nil
	}

	// A departed voter can complete the round.
	var rec *types.StatsRecord
	if r.state.Status == engine.StatusInProgress && r.state.Phase == engine.PhaseVoting && r.state.AllVoted() {
		rec = r.resolveVotesLocked()
	}
	r.mu.Unlock()

	if rec != nil {
		go r.finishGame(*rec)
	}
	r.observe("leave", start, nil)
	return nil
}

// SendMessage appends a chat message and kicks the scheduler.
func (r *Room) SendMessage(ctx context.Context, playerID, text string) error {
	_, span := r.tracer.Start(ctx, "room.send_message")
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		err := types.NewError(types.ErrTerminated, "room has ended")
		r.observe("send_message", start, err)
		return err
	}
	if r.state.Status != engine.StatusInProgress {
		r.mu.Unlock()
		err := types.NewError(types.ErrPhaseMismatch, "game not in progress")
		r.observe("send_message", start, err)
		return err
	}
	if r.state.Phase != engine.PhaseDiscussion {
		r.mu.Unlock()
		err := types.NewError(types.ErrPhaseMismatch, "messages are only accepted during discussion")
		r.observe("send_message", start, err)
		return err
	}
	p, ok := r.state.PlayerByID(playerID)
	if !ok {
		r.mu.Unlock()
		err := types.NewError(types.ErrNotFound, "player not found")
		r.observe("send_message", start, err)
		return err
	}
	if p.Eliminated {
		r.mu.Unlock()
		err := types.NewError(types.ErrInvalidParams, "eliminated players cannot speak")
		r.observe("send_message", start, err)
		return err
	}
	m, err := r.state.AppendMessage(playerID, text)
	if err != nil {
		r.mu.Unlock()
		r.observe("send_message", start, err)
		return err
	}
	if p.Kind == engine.KindHuman {
		r.humansSpoke[playerID] = true
	}
	r.emitLocked(types.EventMessage, projection.Message(m))
	if r.deps.Metrics != nil {
		r.deps.Metrics.MessagesTotal.WithLabelValues(string(p.Kind)).Inc()
	}

	earlyExit := r.deps.Cfg.DiscussionEarlyExit &&
		time.Since(r.discStarted) >= time.Duration(r.deps.Cfg.DiscussionFloorSeconds)*time.Second &&
		r.allAliveHumansSpokeLocked()
	if earlyExit {
		r.beginVotingLocked()
	}
	r.mu.Unlock()

	if !earlyExit {
		r.TriggerAgents("message")
	}
	r.observe("send_message", start, nil)
	return nil
}

// Vote records a ballot; the last ballot short-circuits the voting timer.
func (r *Room) Vote(ctx context.Context, voter, target string) error {
	_, span := r.tracer.Start(ctx, "room.vote")
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		err := types.NewError(types.ErrTerminated, "room has ended")
		r.observe("vote", start, err)
		return err
	}
	if r.state.Status != engine.StatusInProgress || r.state.Phase != engine.PhaseVoting {
		r.mu.Unlock()
		err := types.NewError(types.ErrPhaseMismatch, "voting is not open")
		r.observe("vote", start, err)
		return err
	}
	if err := r.state.CastVote(voter, target); err != nil {
		r.mu.Unlock()
		r.observe("vote", start, err)
		return err
	}
	r.emitLocked(types.EventVoteCast, types.VoteCastData{
		Voter:      voter,
		Target:     target,
		VotesCast:  len(r.state.Votes),
		VotesTotal: r.state.AliveCount(),
	})

	var rec *types.StatsRecord
	if r.state.AllVoted() {
		rec = r.resolveVotesLocked()
	}
	r.mu.Unlock()

	if rec != nil {
		go r.finishGame(*rec)
	}
	r.observe("vote", start, nil)
	return nil
}

// Subscribe attaches an event consumer; the first event is always a
// snapshot of the current room state.
func (r *Room) Subscribe(viewerID string) (*bus.Subscription, error) {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return nil, types.NewError(types.ErrTerminated, "room has ended")
	}
	snap := projection.Build(r.Code, r.seq, types.EventSnapshot,
		projection.Snapshot(r.state, r.deps.Cfg.SnapshotMessageWindow, r.phaseEndsAtMsLocked()))
	subID := viewerID + ":" + uuid.NewString()[:8]
	sub := r.bus.Subscribe(subID, []types.Event{snap})
	r.mu.Unlock()

	if sub == nil {
		return nil, types.NewError(types.ErrTerminated, "room has ended")
	}
	return sub, nil
}

// Unsubscribe detaches a consumer.
func (r *Room) Unsubscribe(subID string) {
	r.bus.Unsubscribe(subID)
}

// Info is the REST view of a room.
type Info struct {
	Code         string               `json:"code"`
	Status       string               `json:"status"`
	Phase        string               `json:"phase"`
	Round        int                  `json:"round"`
	Topic        string               `json:"topic"`
	MaxHumans    int                  `json:"max_humans"`
	TotalPlayers int                  `json:"total_players"`
	Humans       int                  `json:"humans"`
	Private      bool                 `json:"private"`
	Players      []types.PublicPlayer `json:"players"`
	PhaseEndsAt  int64                `json:"phase_ends_at_ms,omitempty"`
}

func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		Code:         r.Code,
		Status:       string(r.state.Status),
		Phase:        string(r.state.Phase),
		Round:        r.state.Round,
		Topic:        r.state.Topic,
		MaxHumans:    r.state.MaxHumans,
		TotalPlayers: r.state.TotalPlayers,
		Humans:       r.state.HumanCount(),
		Private:      r.passHash != "",
		Players:      r.state.PublicPlayers(),
		PhaseEndsAt:  r.phaseEndsAtMsLocked(),
	}
}

func (r *Room) waitingSummary() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted || r.state.Status != engine.StatusWaiting {
		return Summary{}, false
	}
	return Summary{
		Code:         r.Code,
		MaxHumans:    r.state.MaxHumans,
		TotalPlayers: r.state.TotalPlayers,
		Humans:       r.state.HumanCount(),
		Private:      r.passHash != "",
		CreatedAt:    r.state.CreatedAt,
	}, true
}

func (r *Room) phaseEndsAtMsLocked() int64 {
	if r.phaseEndsAt.IsZero() {
		return 0
	}
	return r.phaseEndsAt.UnixMilli()
}

func (r *Room) allAliveHumansSpokeLocked() bool {
	for _, h := range r.state.AliveHumans() {
		if !r.humansSpoke[h.ID] {
			return false
		}
	}
	return true
}

// beginDiscussionLocked advances into the next round's discussion: topic,
// phase event, system message, timer.
func (r *Room) beginDiscussionLocked() {
	topic := engine.PickTopic(r.rng, r.state.Topic)
	r.state.AdvanceRound(topic)
	r.humansSpoke = make(map[string]bool)
	r.discStarted = time.Now()
	d := time.Duration(r.deps.Cfg.DiscussionSeconds) * time.Second
	r.phaseEndsAt = time.Now().Add(d)

	if r.state.Round > 1 {
		r.emitLocked(types.EventNewRound, types.PhaseChangedData{Phase: string(engine.PhaseDiscussion), Round: r.state.Round})
	}
	r.emitLocked(types.EventPhaseChanged, types.PhaseChangedData{
		Phase:         string(engine.PhaseDiscussion),
		Round:         r.state.Round,
		PhaseEndsAtMs: r.phaseEndsAt.UnixMilli(),
	})
	r.emitLocked(types.EventTopic, map[string]any{"topic": topic, "round": r.state.Round})
	r.systemMessageLocked(fmt.Sprintf("Round %d discussion. Topic: %s", r.state.Round, topic))

	r.schedulePhaseTimerLocked(d)
}

// beginVotingLocked opens the ballot and schedules agent votes.
func (r *Room) beginVotingLocked() {
	r.state.Phase = engine.PhaseVoting
	d := time.Duration(r.deps.Cfg.VotingSeconds) * time.Second
	r.phaseEndsAt = time.Now().Add(d)

	r.emitLocked(types.EventPhaseChanged, types.PhaseChangedData{
		Phase:         string(engine.PhaseVoting),
		Round:         r.state.Round,
		PhaseEndsAtMs: r.phaseEndsAt.UnixMilli(),
	})
	r.systemMessageLocked("Discussion is over. Vote for who you think is the AI.")

	r.schedulePhaseTimerLocked(d)
	r.scheduleAgentVotesLocked()
}

// resolveVotesLocked tallies, applies elimination, and either advances the
// round or ends the game. Returns the stats record when the game is over;
// the caller flushes it and terminates the room off the lock.
func (r *Room) resolveVotesLocked() *types.StatsRecord {
	r.timerGen++ // invalidate the voting timer if we got here early
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
	}

	ballots := make(map[string]string, len(r.state.Votes))
	for k, v := range r.state.Votes {
		ballots[k] = v
	}

	res := r.state.ResolveVotes()
	if res.NoVotes {
		r.emitLocked(types.EventNoElimination, map[string]any{"round": r.state.Round})
		r.systemMessageLocked("No votes were cast. Nobody is eliminated.")
	} else {
		r.emitLocked(types.EventElimination, projection.Elimination(res))
		r.systemMessageLocked(res.Eliminated.ID + " was eliminated.")
	}

	winner, reason := r.state.CheckWin(res.Eliminated, r.deps.Cfg.RoundsToWin, r.deps.Cfg.SurvivalWin)
	if winner == "" {
		r.beginDiscussionLocked()
		return nil
	}

	r.state.Status = engine.StatusEnded
	r.state.Phase = engine.PhaseEnded
	r.emitLocked(types.EventGameOver, projection.GameOver(r.state, winner, reason))
	r.logger.Info("game over",
		zap.String("winner", winner),
		zap.String("reason", reason),
		zap.Int("rounds", r.state.Round))

	rec := types.StatsRecord{
		RoomCode:     r.Code,
		MaxHumans:    r.state.MaxHumans,
		TotalPlayers: r.state.TotalPlayers,
		Topic:        r.state.Topic,
		StartedAt:    r.state.StartedAt,
		EndedAt:      time.Now().UnixMilli(),
		Players:      r.state.RevealedPlayers(),
		Messages:     engine.WireMessages(r.state.Messages),
		Ballots:      ballots,
		VoteTotals:   res.Counts,
		Winner:       winner,
		Rounds:       r.state.Round,
	}
	for _, p := range r.state.Players {
		if p.Eliminated {
			rec.Eliminated = append(rec.Eliminated, p.ID)
		}
	}
	return &rec
}

// finishGame flushes the stats record, then terminates the room. Deletion
// waits for the flush so the record is durable before the code disappears.
func (r *Room) finishGame(rec types.StatsRecord) {
	status := "ok"
	if r.deps.Stats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.deps.Stats.Flush(ctx, rec); err != nil {
			status = "error"
			r.logger.Error("stats flush failed", zap.Error(err))
		}
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.StatsFlushTotal.WithLabelValues(status).Inc()
	}
	r.Terminate("game over")
}

// schedulePhaseTimerLocked arms the one-shot phase timer. The generation
// counter makes a late callback that raced a transition a no-op.
func (r *Room) schedulePhaseTimerLocked(d time.Duration) {
	r.timerGen++
	gen := r.timerGen
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
	}
	r.phaseTimer = time.AfterFunc(d, func() { r.onPhaseTimer(gen) })
}

// onPhaseTimer drives the phase transition for its generation. A panic keeps
// the room in its previous phase and retries shortly, up to a limit; then
// the room terminates.
func (r *Room) onPhaseTimer(gen int) {
	var rec *types.StatsRecord
	var failed bool

	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.Error("phase timer panicked",
					zap.Any("panic", recovered),
					zap.ByteString("stack", debug.Stack()))
				failed = true
			}
		}()

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.deleted || gen != r.timerGen || r.state.Status != engine.StatusInProgress {
			return
		}
		switch r.state.Phase {
		case engine.PhaseDiscussion:
			r.beginVotingLocked()
		case engine.PhaseVoting:
			rec = r.resolveVotesLocked()
		}
		r.timerFails = 0
	}()

	if failed {
		r.mu.Lock()
		r.timerFails++
		fails := r.timerFails
		r.mu.Unlock()
		if fails > timerRetryLimit {
			r.logger.Error("phase timer failed repeatedly, terminating room")
			r.Terminate("internal error")
			return
		}
		time.AfterFunc(time.Second, func() { r.onPhaseTimer(gen) })
		return
	}

	if rec != nil {
		r.finishGame(*rec)
	}
}

// Terminate shuts the room down: cancels timers and outstanding work,
// notifies subscribers and removes the room from the registry. Idempotent.
func (r *Room) Terminate(reason string) {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return
	}
	r.deleted = true
	r.state.Status = engine.StatusEnded
	r.state.Phase = engine.PhaseEnded
	r.timerGen++
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
	}
	r.emitLocked(types.EventRoomTerminated, map[string]any{"reason": reason})
	r.mu.Unlock()

	r.cancel()
	r.bus.Close()
	if r.onDelete != nil {
		r.onDelete(r.Code)
	}
	r.logger.Info("room terminated", zap.String("reason", reason))
}

// runIdleTicker keeps a quiet discussion alive by periodically re-invoking
// the scheduler. Triggers share the same try-acquire discipline as message
// triggers, so racing with them is safe.
func (r *Room) runIdleTicker() {
	interval := time.Duration(r.deps.Cfg.IdleTriggerSeconds) * time.Second
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.TriggerAgents("idle")
		}
	}
}
