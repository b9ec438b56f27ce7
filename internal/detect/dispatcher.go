package detect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"eve-foreman/internal/auth"
	"eve-foreman/internal/logger"
)

// Dispatcher periodically runs detection ticks for every credentialed
// scope. The in-flight worker pool is bounded; ticks beyond capacity
// wait for a slot instead of being dropped.
type Dispatcher struct {
	runner   *Runner
	interval time.Duration
	timeout  time.Duration
	sem      chan struct{}
}

// NewDispatcher builds a dispatcher with the given tick interval,
// per-tick timeout and worker slot count.
func NewDispatcher(runner *Runner, interval, timeout time.Duration, slots int) *Dispatcher {
	if slots < 1 {
		slots = 1
	}
	return &Dispatcher{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		sem:      make(chan struct{}, slots),
	}
}

// Run blocks, executing a detection round immediately and then on
// every interval, until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runRound(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runRound(ctx)
		}
	}
}

// runRound ticks every scope once, bounded by the worker pool.
func (d *Dispatcher) runRound(ctx context.Context) {
	creds, err := d.runner.Creds.List()
	if err != nil {
		logger.Error("Detect", fmt.Sprintf("list credentials: %v", err))
		return
	}
	if len(creds) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, c := range creds {
		scope, ok := scopeFromCredential(c)
		if !ok {
			logger.Warn("Detect", fmt.Sprintf("skipping malformed scope key %q", c.ScopeKey))
			continue
		}
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(scope auth.Scope) {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.runOne(ctx, scope)
		}(scope)
	}
	wg.Wait()
}

func (d *Dispatcher) runOne(ctx context.Context, scope auth.Scope) {
	tickCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.runner.RunScope(tickCtx, scope)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("Detect", fmt.Sprintf("%s: tick timed out after %s", scope.Key(), d.timeout))
	case errors.Is(err, auth.ErrNoCredentials):
		logger.Warn("Detect", fmt.Sprintf("%s: %v", scope.Key(), err))
	default:
		logger.Error("Detect", fmt.Sprintf("%s: tick failed: %v", scope.Key(), err))
	}
}

// scopeFromCredential reconstructs a detection scope from its stored
// key, e.g. "corporation:98000001".
func scopeFromCredential(c auth.Credential) (auth.Scope, bool) {
	kind, idText, ok := strings.Cut(c.ScopeKey, ":")
	if !ok || (kind != "character" && kind != "corporation") {
		return auth.Scope{}, false
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || id <= 0 {
		return auth.Scope{}, false
	}
	return auth.Scope{
		Kind:          kind,
		ID:            id,
		CharacterID:   c.CharacterID,
		CharacterName: c.CharacterName,
	}, true
}
