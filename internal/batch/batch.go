// Package batch applies one control command uniformly across a caller-chosen
// set of strategies and records a per-strategy outcome. Invocations fan out
// concurrently and the run completes only when every one has settled; a
// failing strategy never aborts its siblings.
package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stratdeck/internal/core"
	"stratdeck/internal/metrics"
)

// Op is one per-strategy mutation. The returned string is the display
// payload recorded on success.
type Op func(ctx context.Context, key core.StrategyKey) (string, error)

// Outcome is the settled result of one strategy's invocation: a success
// payload or an error, never both.
type Outcome struct {
	Key     core.StrategyKey
	Payload string
	Err     error
}

// Display returns the response-column text for this outcome. Errors render
// as-is.
func (o Outcome) Display() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Payload
}

// State tracks the dialog-facing lifecycle of a runner.
type State int

const (
	// Idle means no run has started since the runner was created.
	Idle State = iota
	// Submitting means a run is in flight; triggers must stay disabled.
	Submitting
	// Done means the last run has settled and results are available.
	Done
)

// Runner executes batch runs and keeps the response map of the most recent
// one. The map is replaced wholesale per run, never merged with entries from
// an earlier run.
type Runner struct {
	log    *zap.Logger
	meters *metrics.Registry

	mu      sync.Mutex
	state   State
	runID   string
	results map[string]Outcome
}

// NewRunner creates an idle runner. The registry may be nil; runs are then
// not recorded.
func NewRunner(log *zap.Logger, meters *metrics.Registry) *Runner {
	return &Runner{log: log, meters: meters, state: Idle}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results returns the response map of the last settled run, keyed by the
// strategy composite key. It stays available until the next run replaces it.
func (r *Runner) Results() map[string]Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results
}

// Result looks up one strategy's outcome from the last settled run.
func (r *Runner) Result(key core.StrategyKey) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.results[key.String()]
	return o, ok
}

// Run invokes op once per key, all concurrently, and blocks until every
// invocation has settled. The action names the run for logs and metrics.
// Per-key failures are recorded as that key's outcome; they do not cancel
// siblings. The response map is published only once the whole run has
// settled. Cancelling ctx makes the remaining in-flight invocations settle
// with the context error.
func (r *Runner) Run(ctx context.Context, action string, keys []core.StrategyKey, op Op) map[string]Outcome {
	runID := uuid.NewString()

	r.mu.Lock()
	if r.state == Submitting {
		r.mu.Unlock()
		r.log.Warn("batch run rejected: previous run still in flight", zap.String("run", runID))
		return nil
	}
	r.state = Submitting
	r.runID = runID
	r.mu.Unlock()

	outcomes := make([]Outcome, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key core.StrategyKey) {
			defer wg.Done()
			payload, err := op(ctx, key)
			outcomes[i] = Outcome{Key: key, Payload: payload, Err: err}
			if err != nil {
				r.log.Warn("batch row failed",
					zap.String("run", runID),
					zap.String("strategy", key.String()),
					zap.Error(err))
			}
		}(i, key)
	}
	wg.Wait()

	results := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		results[o.Key.String()] = o
	}

	r.mu.Lock()
	r.results = results
	r.state = Done
	r.mu.Unlock()

	if r.meters != nil {
		r.meters.RecordBatchRun(action)
		for _, o := range outcomes {
			status := "ok"
			if o.Err != nil {
				status = "error"
			}
			r.meters.RecordBatchRow(action, status)
		}
	}
	r.log.Info("batch run settled",
		zap.String("run", runID),
		zap.String("action", action),
		zap.Int("rows", len(keys)))
	return results
}
