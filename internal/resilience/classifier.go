package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/telawney/dispatchd/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned when every backend fails or has an open
// circuit breaker.
var ErrAllBackendsFailed = errors.New("all classifier backends failed")

// backendEntry pairs an LLM backend with its dedicated circuit breaker.
type backendEntry struct {
	name     string
	provider llm.Provider
	breaker  *CircuitBreaker
}

// Classifier implements [llm.Provider] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried in
// registration order.
type Classifier struct {
	breakerCfg BreakerConfig

	mu      sync.RWMutex
	entries []backendEntry
}

var _ llm.Provider = (*Classifier)(nil)

// NewClassifier creates a [Classifier] with primary as the preferred backend.
// cfg configures the circuit breaker cloned for each backend; its Name field
// is ignored in favour of the backend names.
func NewClassifier(primaryName string, primary llm.Provider, cfg BreakerConfig) *Classifier {
	c := &Classifier{breakerCfg: cfg}
	c.AddFallback(primaryName, primary)
	return c
}

// AddFallback registers an additional backend, tried after all previously
// registered ones.
func (c *Classifier) AddFallback(name string, provider llm.Provider) {
	cfg := c.breakerCfg
	cfg.Name = name
	c.mu.Lock()
	c.entries = append(c.entries, backendEntry{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cfg),
	})
	c.mu.Unlock()
}

// Complete sends the request to the first healthy backend and returns its
// response. Backends with open breakers are skipped. When every backend
// fails, the last error is wrapped in [ErrAllBackendsFailed].
func (c *Classifier) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	var lastErr error
	for i := range entries {
		entry := &entries[i]

		var resp *llm.CompletionResponse
		err := entry.breaker.Execute(func() error {
			var callErr error
			resp, callErr = entry.provider.Complete(ctx, req)
			return callErr
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping classifier backend, circuit open", "backend", entry.name)
		} else {
			slog.Warn("classifier backend failed, trying next",
				"backend", entry.name, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
