package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/llm"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/store"
)

// ErrEmptyPreferences is returned when the model produced no profile.
var ErrEmptyPreferences = errors.New("distillation returned empty preferences")

// preferenceUpdate is the structured answer of a distillation call.
type preferenceUpdate struct {
	ChainOfThought  string `json:"chain_of_thought"`
	UserPreferences string `json:"user_preferences"`
}

// Distiller rewrites a preference namespace from reviewer signals. It reads
// the record once and writes it once with no suspension in between;
// concurrent distillations of the same namespace race and the last write
// wins.
type Distiller struct {
	client    llm.Client
	memory    store.MemoryStore
	hooks     *hooks.Manager
	maxTokens int
	log       *logging.Logger
}

// NewDistiller creates a Distiller.
func NewDistiller(client llm.Client, memory store.MemoryStore, hm *hooks.Manager, maxTokens int, log *logging.Logger) *Distiller {
	return &Distiller{
		client:    client,
		memory:    memory,
		hooks:     hm,
		maxTokens: maxTokens,
		log:       log.Sub("memory"),
	}
}

// Distill updates ns from msgs and returns the stored text.
func (d *Distiller) Distill(ctx context.Context, ns domain.Namespace, msgs []domain.Message) (string, error) {
	current, err := d.memory.Get(ctx, ns, DefaultPreferences(ns.Category))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", ns, err)
	}

	resp, err := d.client.Complete(ctx, llm.CompletionRequest{
		System:      memoryUpdateInstructions(current, ns),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: renderForMemory(msgs)}},
		MaxTokens:   d.maxTokens,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return "", fmt.Errorf("distilling %s: %w", ns, err)
	}

	var update preferenceUpdate
	if err := llm.DecodeStructured(resp.Content, &update); err != nil {
		return "", fmt.Errorf("distilling %s: %w", ns, err)
	}
	if strings.TrimSpace(update.UserPreferences) == "" {
		return "", fmt.Errorf("distilling %s: %w", ns, ErrEmptyPreferences)
	}

	if err := d.memory.Put(ctx, ns, update.UserPreferences); err != nil {
		return "", fmt.Errorf("writing %s: %w", ns, err)
	}

	d.log.Info().
		Str("namespace", ns.String()).
		Int("chars", len(update.UserPreferences)).
		Msg("preferences updated")
	d.hooks.Emit(ctx, hooks.EventMemoryUpdated, map[string]any{
		"namespace": ns.String(),
		"category":  string(ns.Category),
		"reasoning": update.ChainOfThought,
	})
	return update.UserPreferences, nil
}
