// Package fallback drives an ordered candidate chain with retry and backoff.
// Transient failures retry the same candidate with jittered exponential
// backoff; permanent failures skip ahead; budget and cancellation surface
// immediately.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"appkernel/internal/ai"
	"appkernel/internal/catalog"
	"appkernel/internal/logging"
	"appkernel/internal/metrics"
)

// Options tune the retry policy.
type Options struct {
	MaxRetries  int // retries per candidate on transient errors
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultOptions match the production retry posture.
func DefaultOptions() Options {
	return Options{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  8 * time.Second,
	}
}

// Engine executes a candidate chain against the adapter registry and records
// outcomes in the catalog's provider-health ledger.
type Engine struct {
	registry *ai.Registry
	catalog  *catalog.Catalog
	opts     Options

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// New creates a fallback engine.
func New(registry *ai.Registry, cat *catalog.Catalog, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 8 * time.Second
	}
	return &Engine{
		registry: registry,
		catalog:  cat,
		opts:     opts,
		sleep:    sleepCtx,
	}
}

// Execute tries each candidate model id in order until one succeeds. The
// returned error carries the last permanent failure, or an exhausted error
// when only transient failures were seen.
func (e *Engine) Execute(ctx context.Context, candidates []string, msgs []ai.Message) (*ai.Result, error) {
	if len(candidates) == 0 {
		return nil, ai.NewError(ai.KindExhausted, "", "", errors.New("empty candidate chain"))
	}

	var lastPermanent error
	var lastErr error
	prevID := ""

	for _, modelID := range candidates {
		if prevID != "" {
			metrics.Get().RecordAIFallback(prevID, modelID, string(ai.KindOf(lastErr)))
		}
		prevID = modelID
		ep, ok := e.catalog.Get(modelID)
		if !ok {
			lastErr = ai.NewError(ai.KindPermanent, "", modelID,
				fmt.Errorf("model %q not in catalog", modelID))
			lastPermanent = lastErr
			continue
		}

		client, ok := e.registry.ForProvider(ep.Provider)
		if !ok {
			lastErr = ai.NewError(ai.KindPermanent, ep.Provider, modelID,
				fmt.Errorf("no adapter registered for provider %q", ep.Provider))
			lastPermanent = lastErr
			continue
		}

		res, err := e.tryCandidate(ctx, client, ep, msgs)
		if err == nil {
			return res, nil
		}
		lastErr = err

		switch ai.KindOf(err) {
		case ai.KindBudget, ai.KindCancelled:
			return nil, err
		case ai.KindPermanent:
			lastPermanent = err
		}

		logging.L().Warn("candidate failed, advancing chain",
			zap.String("model_id", modelID),
			zap.String("kind", string(ai.KindOf(err))),
			zap.Error(err))
	}

	if lastPermanent != nil {
		return nil, lastPermanent
	}
	return nil, ai.NewError(ai.KindExhausted, "", "",
		fmt.Errorf("all %d candidates exhausted: %w", len(candidates), lastErr))
}

// tryCandidate invokes one endpoint with up to MaxRetries transient retries.
func (e *Engine) tryCandidate(ctx context.Context, client ai.Client, ep catalog.ModelEndpoint, msgs []ai.Message) (*ai.Result, error) {
	var lastErr error

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt-1)); err != nil {
				return nil, ai.NewError(ai.KindCancelled, ep.Provider, ep.ID, err)
			}
		}

		res, err := client.Invoke(ctx, ep.ID, msgs)
		if err == nil {
			cost, _ := e.catalog.Cost(ep.ID, res.TokensIn, res.TokensOut)
			e.catalog.RecordOutcome(catalog.Outcome{
				ModelID:  ep.ID,
				Latency:  res.Duration,
				CostUSD:  cost,
				Tokens:   res.TokensIn + res.TokensOut,
				Success:  true,
				Recorded: time.Now(),
			})
			metrics.Get().RecordAIRequest(ep.Provider, ep.ID, "success",
				res.Duration, res.TokensIn, res.TokensOut, cost)
			return res, nil
		}

		lastErr = err
		e.catalog.RecordOutcome(catalog.Outcome{
			ModelID:  ep.ID,
			Success:  false,
			Recorded: time.Now(),
		})
		metrics.Get().RecordAIRequest(ep.Provider, ep.ID, string(ai.KindOf(err)), 0, 0, 0, 0)

		if !ai.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoff computes base·2^n plus uniform jitter in [0, base), capped.
func (e *Engine) backoff(n int) time.Duration {
	d := e.opts.BackoffBase << uint(n)
	if d > e.opts.BackoffCap {
		d = e.opts.BackoffCap
	}
	return d + time.Duration(rand.Int63n(int64(e.opts.BackoffBase)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
