package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/agent"
	"github.com/benchay1999/find-the-ai/internal/engine"
	"github.com/benchay1999/find-the-ai/internal/projection"
	"github.com/benchay1999/find-the-ai/internal/types"
)

// TriggerAgents starts one scheduler cycle unless one is already running.
// The try-acquire is the correctness mechanism against racing triggers
// (rapid human messages, idle ticks, concurrent transports): the holder's
// cycle covers every agent eligible at its snapshot, so a concurrent
// trigger is dropped, never queued and never blocked on.
func (r *Room) TriggerAgents(reason string) {
	if !r.trigger.TryLock() {
		if r.deps.Metrics != nil {
			r.deps.Metrics.TriggerDropTotal.Inc()
		}
		return
	}
	go func() {
		defer r.trigger.Unlock()
		r.runCycle(reason)
	}()
}

type probeResult struct {
	candidate engine.Player
	ac        agent.Context
	speak     bool
}

// runCycle executes one scheduler pass: snapshot candidates under the room
// lock, probe them in parallel off the lock, then generate for the agents
// that said yes on the worker pool. The trigger lock is held for the whole
// cycle — until every generation started here has completed or failed.
func (r *Room) runCycle(reason string) {
	r.mu.Lock()
	if r.deleted || r.state.Status != engine.StatusInProgress || r.state.Phase != engine.PhaseDiscussion {
		r.mu.Unlock()
		return
	}
	maxProcessing := (r.state.TotalPlayers + 1) / 2
	budget := maxProcessing - len(r.processing)
	if budget <= 0 {
		r.mu.Unlock()
		return
	}
	msgs := r.state.RecentMessages(r.deps.Cfg.SnapshotMessageWindow)
	topic := r.state.Topic
	round := r.state.Round
	now := time.Now()

	var candidates []probeResult
	for _, p := range r.state.AliveAI() {
		if _, busy := r.processing[p.ID]; busy {
			continue
		}
		last, spoke := r.lastSpoke[p.ID]
		candidates = append(candidates, probeResult{
			candidate: p,
			ac: agent.Context{
				SelfID:       p.ID,
				Persona:      p.Persona,
				Topic:        topic,
				Round:        round,
				Messages:     msgs,
				LastSpokeAgo: now.Sub(last),
				EverSpoke:    spoke,
			},
		})
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	// Probes run in parallel, each under its own deadline.
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(pr *probeResult) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.ctx, r.deps.Cfg.ProbeTimeout)
			defer cancel()
			start := time.Now()
			pr.speak = r.deps.Policy.ShouldRespond(ctx, pr.ac)
			if r.deps.Metrics != nil {
				r.deps.Metrics.ProbeLatency.Observe(float64(time.Since(start).Milliseconds()))
			}
		}(&candidates[i])
	}
	wg.Wait()

	var genWG sync.WaitGroup
	dispatched := 0
	for i := range candidates {
		pr := candidates[i]
		if !pr.speak || dispatched >= budget {
			continue
		}
		if !r.markProcessing(pr.candidate.ID) {
			continue
		}
		dispatched++
		genWG.Add(1)
		ok := r.deps.Pool.Submit(func() {
			defer genWG.Done()
			r.generate(pr)
		})
		if !ok {
			genWG.Done()
			r.unmarkProcessing(pr.candidate.ID)
		}
	}
	genWG.Wait()

	if dispatched > 0 {
		r.logger.Debug("scheduler cycle complete",
			zap.String("reason", reason),
			zap.Int("dispatched", dispatched))
	}
}

// markProcessing adds the agent to the in-flight set, rechecking phase and
// liveness under the lock. Emits the typing hint on success.
func (r *Room) markProcessing(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted || r.state.Phase != engine.PhaseDiscussion {
		return false
	}
	p, ok := r.state.PlayerByID(agentID)
	if !ok || p.Eliminated {
		return false
	}
	if _, busy := r.processing[agentID]; busy {
		return false
	}
	r.processing[agentID] = struct{}{}
	if r.deps.Metrics != nil {
		r.deps.Metrics.AgentsProcessing.Inc()
	}
	r.emitLocked(types.EventTyping, map[string]any{"player_id": agentID})
	return true
}

func (r *Room) unmarkProcessing(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processing[agentID]; ok {
		delete(r.processing, agentID)
		if r.deps.Metrics != nil {
			r.deps.Metrics.AgentsProcessing.Dec()
		}
	}
}

// generate runs the speak prompt and posts the result. A generation that
// finishes after the room left discussion is discarded on the phase recheck.
func (r *Room) generate(pr probeResult) {
	ctx, cancel := context.WithTimeout(r.ctx, r.deps.Cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	text, err := r.deps.Policy.Generate(ctx, pr.ac)
	if r.deps.Metrics != nil {
		r.deps.Metrics.GenerateLatency.Observe(float64(time.Since(start).Milliseconds()))
	}

	agentID := pr.candidate.ID
	r.mu.Lock()
	defer func() {
		if _, ok := r.processing[agentID]; ok {
			delete(r.processing, agentID)
			if r.deps.Metrics != nil {
				r.deps.Metrics.AgentsProcessing.Dec()
			}
		}
		r.mu.Unlock()
	}()

	if err != nil {
		if r.deps.Metrics != nil {
			r.deps.Metrics.AgentErrorTotal.Inc()
		}
		r.logger.Warn("agent generation failed",
			zap.String("agent", agentID),
			zap.Error(err))
		return
	}
	if r.deleted || r.state.Phase != engine.PhaseDiscussion {
		return
	}
	p, ok := r.state.PlayerByID(agentID)
	if !ok || p.Eliminated {
		return
	}
	m, err := r.state.AppendMessage(agentID, text)
	if err != nil {
		return
	}
	r.lastSpoke[agentID] = time.Now()
	r.emitLocked(types.EventMessage, projection.Message(m))
	if r.deps.Metrics != nil {
		r.deps.Metrics.MessagesTotal.WithLabelValues(string(engine.KindAI)).Inc()
	}
}

// scheduleAgentVotesLocked queues one ballot task per living agent with a
// small jittered delay, so agent votes trickle in like human ones. Caller
// holds the room lock.
func (r *Room) scheduleAgentVotesLocked() {
	msgs := r.state.RecentMessages(r.deps.Cfg.SnapshotMessageWindow)
	topic := r.state.Topic
	round := r.state.Round
	voteWindow := time.Duration(r.deps.Cfg.VotingSeconds) * time.Second

	for _, p := range r.state.AliveAI() {
		var candidates []string
		for _, other := range r.state.Players {
			if !other.Eliminated && other.ID != p.ID {
				candidates = append(candidates, other.ID)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		ac := agent.Context{
			SelfID:   p.ID,
			Persona:  p.Persona,
			Topic:    topic,
			Round:    round,
			Messages: msgs,
		}
		agentID := p.ID
		jitter := voteWindow / 3
		if jitter < time.Second {
			jitter = time.Second
		}
		delay := time.Second + time.Duration(r.rng.Int63n(int64(jitter)))
		time.AfterFunc(delay, func() {
			r.deps.Pool.Submit(func() {
				ctx, cancel := context.WithTimeout(r.ctx, r.deps.Cfg.ProbeTimeout)
				defer cancel()
				target := r.deps.Policy.PickVote(ctx, ac, candidates)
				if target == "" {
					return
				}
				// Best effort: the round may already be resolved.
				_ = r.Vote(context.Background(), agentID, target)
			})
		})
	}
}
