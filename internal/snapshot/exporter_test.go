package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"stratdeck/internal/core"
)

type fakeSource struct {
	strats []core.Strategy
	models map[string][]core.Model
	ops    map[string][]core.Operation
	fail   map[string]bool
}

func (f *fakeSource) StratsExtended(context.Context) ([]core.Strategy, error) {
	return f.strats, nil
}

func (f *fakeSource) Models(_ context.Context, key core.StrategyKey) ([]core.Model, error) {
	if f.fail[key.String()] {
		return nil, core.WrapError(core.ErrEngineUnavailable, fmt.Errorf("down"))
	}
	return f.models[key.String()], nil
}

func (f *fakeSource) Operations(_ context.Context, key core.StrategyKey) ([]core.Operation, error) {
	return f.ops[key.String()], nil
}

func newFixture(t *testing.T) (*Exporter, *LocalStore, *fakeSource) {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{
		strats: []core.Strategy{
			{
				Key:      core.StrategyKey{Type: "pair", ID: "a"},
				RawState: `{"position":1,"pnl":2.5,"value_strat":100,"nominal_position":1}`,
				Status:   core.StatusRunning,
			},
			{
				Key:      core.StrategyKey{Type: "pair", ID: "b"},
				RawState: `{"position":0,"pnl":`,
				Status:   core.StatusNotTrading,
			},
		},
		models: map[string][]core.Model{
			"pair/a": {{ID: "window", RawJSON: `{"size":20}`}},
		},
		ops:  map[string][]core.Operation{},
		fail: map[string]bool{},
	}
	exp := NewExporter(store, src, zap.NewNop())
	exp.now = func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	}
	return exp, store, src
}

func TestExport_WholeFleetLayout(t *testing.T) {
	exp, store, _ := newFixture(t)

	res, err := exp.Export(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failed)
	}
	if len(res.Written) != 6 {
		t.Fatalf("expected 6 files (3 per strategy), got %d: %v", len(res.Written), res.Written)
	}
	for _, p := range res.Written {
		if !strings.Contains(p, "/20260831T120000Z/") {
			t.Errorf("path missing timestamp segment: %s", p)
		}
	}

	blob, err := store.Read(context.Background(), "pair/a/20260831T120000Z/state.json")
	if err != nil {
		t.Fatal(err)
	}
	var rec struct {
		Key    core.StrategyKey `json:"key"`
		Status string           `json:"status"`
		State  struct {
			Pnl float64 `json:"pnl"`
		} `json:"state"`
	}
	if err := json.Unmarshal(blob, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Key.ID != "a" || rec.Status != "running" || rec.State.Pnl != 2.5 {
		t.Errorf("unexpected state record: %+v", rec)
	}
}

func TestExport_PreservesCorruptState(t *testing.T) {
	exp, store, _ := newFixture(t)
	if _, err := exp.Export(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	blob, err := store.Read(context.Background(), "pair/b/20260831T120000Z/state.json")
	if err != nil {
		t.Fatal(err)
	}
	var rec struct {
		RawState string `json:"rawState"`
	}
	if err := json.Unmarshal(blob, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.RawState != `{"position":0,"pnl":` {
		t.Errorf("corrupt state not preserved verbatim: %q", rec.RawState)
	}
}

func TestExport_SubsetOfKeys(t *testing.T) {
	exp, _, _ := newFixture(t)

	res, err := exp.Export(context.Background(),
		[]core.StrategyKey{{Type: "pair", ID: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Written) != 3 {
		t.Fatalf("expected 3 files, got %d", len(res.Written))
	}
	for _, p := range res.Written {
		if !strings.HasPrefix(p, "pair/a/") {
			t.Errorf("unselected strategy exported: %s", p)
		}
	}
}

func TestExport_ContinuesPastFailures(t *testing.T) {
	exp, _, src := newFixture(t)
	src.fail["pair/a"] = true

	res, err := exp.Export(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != "a" {
		t.Fatalf("expected pair/a to fail: %v", res.Failed)
	}
	if len(res.Written) != 3 {
		t.Errorf("expected healthy strategy still exported, got %v", res.Written)
	}
}

func TestExport_UnknownKey(t *testing.T) {
	exp, _, _ := newFixture(t)

	res, err := exp.Export(context.Background(),
		[]core.StrategyKey{{Type: "pair", ID: "ghost"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || len(res.Written) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}
