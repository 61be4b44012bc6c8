package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"stratdeck/internal/core"
	"stratdeck/internal/metrics"
)

func keys(ids ...string) []core.StrategyKey {
	out := make([]core.StrategyKey, len(ids))
	for i, id := range ids {
		out[i] = core.StrategyKey{Type: "naive", ID: id}
	}
	return out
}

func TestRun_AllSettled(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)

	// Row 2 rejects, rows 1 and 3 resolve.
	boom := errors.New("mailbox full")
	op := func(ctx context.Context, key core.StrategyKey) (string, error) {
		if key.ID == "s2" {
			return "", boom
		}
		return "true", nil
	}

	results := r.Run(context.Background(), "test", keys("s1", "s2", "s3"), op)

	if len(results) != 3 {
		t.Fatalf("response map has %d entries, want 3", len(results))
	}
	if o := results["naive/s1"]; o.Err != nil || o.Payload != "true" {
		t.Errorf("s1 outcome = %+v", o)
	}
	if o := results["naive/s2"]; !errors.Is(o.Err, boom) {
		t.Errorf("s2 should record its error, got %+v", o)
	}
	if o := results["naive/s3"]; o.Err != nil {
		t.Errorf("s3 outcome = %+v", o)
	}
	if r.State() != Done {
		t.Error("runner must not remain stuck in Submitting")
	}
}

func TestRun_Concurrent(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)

	// Every op blocks until all have started: the run can only settle if the
	// invocations were launched without waiting on each other.
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	op := func(ctx context.Context, key core.StrategyKey) (string, error) {
		wg.Done()
		wg.Wait()
		return "ok", nil
	}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), "test", keys("a", "b", "c", "d", "e"), op)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sequential execution detected: run deadlocked")
	}
}

func TestRun_ReplacesPriorResults(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)
	ok := func(ctx context.Context, key core.StrategyKey) (string, error) { return "ok", nil }

	r.Run(context.Background(), "test", keys("s1", "s2"), ok)
	r.Run(context.Background(), "test", keys("s3"), ok)

	results := r.Results()
	if len(results) != 1 {
		t.Fatalf("response map has %d entries, want 1 (atomic replacement, not merge)", len(results))
	}
	if _, ok := results["naive/s1"]; ok {
		t.Error("stale entry from prior run survived")
	}
	if _, ok := r.Result(core.StrategyKey{Type: "naive", ID: "s3"}); !ok {
		t.Error("latest run entry missing")
	}
}

func TestRun_ResultsSurviveUntilNextRun(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)
	ok := func(ctx context.Context, key core.StrategyKey) (string, error) { return "done", nil }

	r.Run(context.Background(), "test", keys("s1"), ok)

	// Reading twice models closing and reopening the dialog: the prior
	// results are still shown.
	for i := 0; i < 2; i++ {
		if len(r.Results()) != 1 {
			t.Fatal("results should persist across reads")
		}
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	op := func(ctx context.Context, key core.StrategyKey) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return "ok", nil
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	results := r.Run(ctx, "test", keys("s1", "s2"), op)

	for k, o := range results {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("%s: err = %v, want context.Canceled", k, o.Err)
		}
	}
	if r.State() != Done {
		t.Error("cancelled run must still settle")
	}
}

// counterValue digs one labelled counter out of a gathered registry.
func counterValue(t *testing.T, reg *metrics.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, m := range fam.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRun_RecordsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	r := NewRunner(zap.NewNop(), reg)

	boom := errors.New("mailbox full")
	op := func(ctx context.Context, key core.StrategyKey) (string, error) {
		if key.ID == "s2" {
			return "", boom
		}
		return "ok", nil
	}
	r.Run(context.Background(), "resume trading", keys("s1", "s2", "s3"), op)

	if v := counterValue(t, reg, "stratdeck_batch_runs_total",
		map[string]string{"action": "resume trading"}); v != 1 {
		t.Errorf("runs counter = %v, want 1", v)
	}
	if v := counterValue(t, reg, "stratdeck_batch_rows_total",
		map[string]string{"action": "resume trading", "status": "ok"}); v != 2 {
		t.Errorf("ok rows counter = %v, want 2", v)
	}
	if v := counterValue(t, reg, "stratdeck_batch_rows_total",
		map[string]string{"action": "resume trading", "status": "error"}); v != 1 {
		t.Errorf("error rows counter = %v, want 1", v)
	}
}

func TestOutcome_Display(t *testing.T) {
	ok := Outcome{Payload: "running"}
	if ok.Display() != "running" {
		t.Errorf("Display = %q", ok.Display())
	}
	bad := Outcome{Err: errors.New("strategy not found")}
	if bad.Display() != "strategy not found" {
		t.Errorf("Display = %q", bad.Display())
	}
}

func TestState_InitiallyIdle(t *testing.T) {
	r := NewRunner(zap.NewNop(), nil)
	if r.State() != Idle {
		t.Error("new runner should be idle")
	}
	if r.Results() != nil {
		t.Error("new runner should have no results")
	}
}
