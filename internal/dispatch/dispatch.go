// Package dispatch selects a capable adapter for a command and routes the
// call, per spec.md §4.5. Dispatch itself holds no session state; it is a
// thin, introspectable registry plus a linear-scan lookup.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ndls21/orchcore/internal/contract"
)

// SessionState is the handle an adapter is given for the lifetime of one
// handleCommand call. Adapters must not retain it past that call returning.
type SessionState interface {
	Emit(event contract.Event)
	WorkspacePath() string
	Repo() contract.RepoRef
	WorkItem() *contract.WorkItemRef
	Policy() contract.PolicyProfile
	Logger() *slog.Logger
	Context() context.Context
}

// Adapter is a pluggable handler for a subset of command kinds.
type Adapter interface {
	Name() string
	CanHandle(command contract.Command) bool
	HandleCommand(command contract.Command, state SessionState)
}

// Dispatcher holds adapters in registration order; the first whose CanHandle
// returns true for a command wins. No reflection, no open-inheritance
// hierarchy — just a linear scan over a closed list, per spec.md §9.
type Dispatcher struct {
	adapters []Adapter
}

// NewDispatcher constructs a Dispatcher over adapters, preserving the order
// given: that order is the dispatch priority for the life of the process.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	return &Dispatcher{adapters: append([]Adapter(nil), adapters...)}
}

// RegisteredAdapters exposes registration order for introspection (tests,
// diagnostics, and resolving the "which adapter wins" open question).
func (d *Dispatcher) RegisteredAdapters() []Adapter {
	return append([]Adapter(nil), d.adapters...)
}

// Find returns the first registered adapter that can handle command, and
// whether one was found. Adapter lookup itself is non-blocking; the backoff
// retry lives in FindWithWarmup below, for adapters that may still be
// completing lazy initialization (connection warmup) and report
// CanHandle=false transiently.
func (d *Dispatcher) Find(command contract.Command) (Adapter, bool) {
	for _, a := range d.adapters {
		if a.CanHandle(command) {
			return a, true
		}
	}
	return nil, false
}

// FindWithWarmup is Find with a brief bounded retry (up to about 200ms), for
// callers that dispatch immediately after constructing adapters that warm up
// asynchronously. Every call that finds no adapter waits out the full retry.
func FindWithWarmup(ctx context.Context, d *Dispatcher, command contract.Command) (Adapter, bool) {
	var found Adapter
	op := func() error {
		a, ok := d.Find(command)
		if !ok {
			return fmt.Errorf("dispatch: no adapter ready yet")
		}
		found = a
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = 200 * time.Millisecond
	b := backoff.WithContext(bo, ctx)

	if err := backoff.Retry(op, b); err != nil {
		return nil, false
	}
	return found, true
}
