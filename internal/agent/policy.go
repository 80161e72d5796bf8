package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benchay1999/find-the-ai/internal/engine"
	"github.com/benchay1999/find-the-ai/internal/llm"
)

// Context is the conversational snapshot handed to the policy: recent
// messages, who spoke last, the round topic, and how long ago this agent
// last spoke.
type Context struct {
	SelfID       string
	Persona      string
	Topic        string
	Round        int
	Messages     []engine.Message
	LastSpokeAgo time.Duration
	EverSpoke    bool
}

// Config tunes policy behavior.
type Config struct {
	MinSpacing        time.Duration
	MaxUtteranceChars int
}

// Policy drives one agent's decisions through the LLM provider.
type Policy struct {
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
}

func NewPolicy(provider llm.Provider, cfg Config, logger *slog.Logger) *Policy {
	if cfg.MinSpacing == 0 {
		cfg.MinSpacing = 4 * time.Second
	}
	if cfg.MaxUtteranceChars == 0 {
		cfg.MaxUtteranceChars = 280
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{provider: provider, cfg: cfg, logger: logger}
}

// ShouldRespond decides whether the agent speaks now. Rule gates run first:
// minimum inter-message spacing, and never replying to your own message.
// The LLM probe breaks the remaining ties; a probe failure means no.
func (p *Policy) ShouldRespond(ctx context.Context, ac Context) bool {
	if ac.EverSpoke && ac.LastSpokeAgo < p.cfg.MinSpacing {
		return false
	}
	if len(ac.Messages) > 0 && ac.Messages[len(ac.Messages)-1].Sender == ac.SelfID {
		return false
	}

	persona, _ := PersonaByName(ac.Persona)
	system := fmt.Sprintf(
		"You are %s in a casual group chat. Personality: %s. "+
			"Decide whether you would naturally send a message right now. "+
			"Answer with exactly YES or NO.",
		ac.SelfID, persona.Trait)
	prompt := fmt.Sprintf("Topic: %s\n\nRecent chat:\n%s\nWould you chime in right now?",
		ac.Topic, transcript(ac.Messages))

	out, err := p.provider.Complete(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 4})
	if err != nil {
		p.logger.Debug("probe failed", "agent", ac.SelfID, "err", err)
		return false
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(out)), "YES")
}

// Generate produces one chat utterance in character. The output is clamped
// to the configured length and must never admit to being an AI.
func (p *Policy) Generate(ctx context.Context, ac Context) (string, error) {
	persona, _ := PersonaByName(ac.Persona)
	system := fmt.Sprintf(
		"You are %s, a participant in a casual group chat about a topic. "+
			"Personality: %s. Writing style: %s. "+
			"You are a regular person. Never mention AI, language models, or assistants. "+
			"Never use your own name. Reply with a single short chat message and nothing else. "+
			"Stay under %d characters.",
		ac.SelfID, persona.Trait, persona.Style, p.cfg.MaxUtteranceChars)
	prompt := fmt.Sprintf("Topic: %s\n\nRecent chat:\n%s\nYour message:",
		ac.Topic, transcript(ac.Messages))

	out, err := p.provider.Complete(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 120})
	if err != nil {
		return "", err
	}
	out = sanitizeUtterance(out)
	if out == "" {
		return "", fmt.Errorf("empty generation")
	}
	if len(out) > p.cfg.MaxUtteranceChars {
		out = out[:p.cfg.MaxUtteranceChars]
	}
	return out, nil
}

// PickVote chooses an elimination target from candidates. A failed or
// unparseable LLM call falls back to the first candidate in the slice, so
// the agent always casts a ballot.
func (p *Policy) PickVote(ctx context.Context, ac Context, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	fallback := candidates[0]

	persona, _ := PersonaByName(ac.Persona)
	system := fmt.Sprintf(
		"You are %s in a social-deduction game: the group votes out whoever they think is an AI. "+
			"Personality: %s. You must pick one player to vote against. "+
			"Answer with exactly one player id from the list, nothing else.",
		ac.SelfID, persona.Trait)
	prompt := fmt.Sprintf("Topic: %s\n\nRecent chat:\n%s\nCandidates: %s\nYour vote:",
		ac.Topic, transcript(ac.Messages), strings.Join(candidates, ", "))

	out, err := p.provider.Complete(ctx, llm.Request{System: system, Prompt: prompt, MaxTokens: 8})
	if err != nil {
		p.logger.Debug("vote pick failed", "agent", ac.SelfID, "err", err)
		return fallback
	}
	out = strings.TrimSpace(out)
	for _, c := range candidates {
		if strings.EqualFold(out, c) || strings.Contains(out, c) {
			return c
		}
	}
	return fallback
}

func transcript(msgs []engine.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text)
	}
	if b.Len() == 0 {
		return "(no messages yet)\n"
	}
	return b.String()
}

func sanitizeUtterance(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	// Strip a leading "Player N:" echo if the model added one.
	if idx := strings.Index(s, ":"); idx > 0 && idx < 12 && strings.HasPrefix(s, "Player") {
		s = strings.TrimSpace(s[idx+1:])
	}
	return s
}
