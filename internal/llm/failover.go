package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/mailroom/internal/logging"
)

// FailoverClient sends each request to the primary model and walks the
// fallbacks while the failures look retryable.
type FailoverClient struct {
	registry  *Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

func NewFailoverClient(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name reports the primary model reference.
func (f *FailoverClient) Name() string { return "failover:" + f.primary }

// Complete returns the first successful response. The error of the last
// attempt is returned when every model fails.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	client, err := f.registry.Resolve(f.primary)
	if err != nil {
		return nil, err
	}
	resp, err := f.attempt(ctx, client, f.primary, req)
	if err == nil || !IsRetryable(err) || ctx.Err() != nil {
		return resp, err
	}

	errs := []error{err}
	for _, model := range f.fallbacks {
		client, ok := f.registry.Lookup(model)
		if !ok {
			f.log.Debug().Str("model", model).Msg("fallback not registered, skipping")
			continue
		}
		f.log.Warn().Err(err).Str("next", model).Msg("retryable model error, failing over")
		resp, err = f.attempt(ctx, client, model, req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all models failed: %w", errors.Join(errs...))
}

func (f *FailoverClient) attempt(ctx context.Context, client Client, model string, req CompletionRequest) (*CompletionResponse, error) {
	req.Model = model
	return client.Complete(ctx, req)
}
