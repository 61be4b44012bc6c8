package sim

import (
	"encoding/json"
	"errors"
	"testing"

	"stratdeck/internal/core"
)

func mustUnmarshal(t *testing.T, raw string, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
}

func TestNewFleet_Populates(t *testing.T) {
	f := NewFleet(12, 1)
	keys := f.Keys()
	if len(keys) != 12 {
		t.Fatalf("expected 12 strategies, got %d", len(keys))
	}
	for _, k := range keys {
		if k.IsZero() {
			t.Errorf("zero key in fleet: %+v", k)
		}
	}
	counts := f.StatusCounts()
	if counts[core.StatusRunning] != 12 {
		t.Errorf("expected all running, got %v", counts)
	}
}

func TestSnapshot_StableOrder(t *testing.T) {
	f := NewFleet(6, 1)
	first := f.Snapshot()
	second := f.Snapshot()
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Fatalf("snapshot order changed at %d: %v vs %v", i, first[i].Key, second[i].Key)
		}
	}
}

func TestSnapshot_IncludesBrokenState(t *testing.T) {
	f := NewFleet(10, 1)
	broken := 0
	for _, s := range f.Snapshot() {
		ps := core.ParseState(s.RawState)
		if ps.Outcome != core.ParseOK {
			broken++
		}
	}
	if broken != 1 {
		t.Errorf("expected exactly 1 unparseable state in 10, got %d", broken)
	}
}

func TestSetField(t *testing.T) {
	f := NewFleet(3, 1)
	key := f.Keys()[0]

	done, err := f.SetField(key, core.FieldMutation{Field: core.FieldPnl, Value: 42.5})
	if err != nil || !done {
		t.Fatalf("SetField: done=%v err=%v", done, err)
	}
	ps := core.ParseState(f.Snapshot()[0].RawState)
	if ps.Outcome != core.ParseOK || ps.State.Pnl != 42.5 {
		t.Errorf("pnl not applied: %+v", ps)
	}

	if _, err := f.SetField(key, core.FieldMutation{Field: "position"}); !errors.Is(err, core.ErrBadField) {
		t.Errorf("expected ErrBadField, got %v", err)
	}
	missing := core.StrategyKey{Type: "naive_pair_trading", ID: "nope"}
	if _, err := f.SetField(missing, core.FieldMutation{Field: core.FieldPnl}); !errors.Is(err, core.ErrStrategyNotFound) {
		t.Errorf("expected ErrStrategyNotFound, got %v", err)
	}
}

func TestCancelOperation(t *testing.T) {
	f := NewFleet(2, 1)
	key := f.Keys()[0]

	done, err := f.CancelOperation(key)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("cancel with no ongoing operation reported true")
	}

	s := f.strats[key.String()]
	op := f.newOperation(s, core.OperationOpen)
	s.ongoing = &op

	done, err = f.CancelOperation(key)
	if err != nil || !done {
		t.Fatalf("cancel: done=%v err=%v", done, err)
	}
	if s.ongoing != nil {
		t.Error("ongoing operation survived cancel")
	}
}

func TestOperations_OngoingAppendedLast(t *testing.T) {
	f := NewFleet(2, 1)
	key := f.Keys()[0]
	s := f.strats[key.String()]

	closed := f.newOperation(s, core.OperationClose)
	s.history = append(s.history, closed)
	open := f.newOperation(s, core.OperationOpen)
	s.ongoing = &open

	ops, err := f.Operations(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[1].ID != open.ID {
		t.Errorf("ongoing operation not last: %v", ops)
	}
}

func TestResetModels(t *testing.T) {
	f := NewFleet(2, 1)
	key := f.Keys()[0]

	status, err := f.ResetModels(key, core.ModelReset{Name: "window"})
	if err != nil {
		t.Fatal(err)
	}
	if status != core.StatusRunning {
		t.Errorf("plain reset changed status to %s", status)
	}
	models, _ := f.Models(key)
	for _, m := range models {
		if m.ID == "window" && m.RawJSON != "{}" {
			t.Errorf("window model not reset: %s", m.RawJSON)
		}
		if m.ID == "threshold" && m.RawJSON == "{}" {
			t.Error("threshold model reset by a named window reset")
		}
	}

	if _, err := f.ResetModels(key, core.ModelReset{Name: "bogus"}); !errors.Is(err, core.ErrEngineRejected) {
		t.Errorf("unknown model name: expected ErrEngineRejected, got %v", err)
	}

	status, err = f.ResetModels(key, core.ModelReset{StopTrading: true})
	if err != nil {
		t.Fatal(err)
	}
	if status != core.StatusNotTrading {
		t.Errorf("stopTrading reset: expected not-trading, got %s", status)
	}
	models, _ = f.Models(key)
	for _, m := range models {
		if m.RawJSON != "{}" {
			t.Errorf("model %s not reset by full reset", m.ID)
		}
	}

	status, err = f.ResetModels(key, core.ModelReset{StopTrading: true, RestartAfter: true})
	if err != nil {
		t.Fatal(err)
	}
	if status != core.StatusRunning {
		t.Errorf("restartAfter reset: expected running, got %s", status)
	}
}

func TestCommand(t *testing.T) {
	f := NewFleet(2, 1)
	key := f.Keys()[0]

	status, err := f.Command(key, core.CommandStopTrading)
	if err != nil || status != core.StatusNotTrading {
		t.Fatalf("stop-trading: status=%s err=%v", status, err)
	}
	status, err = f.Command(key, core.CommandResumeTrading)
	if err != nil || status != core.StatusRunning {
		t.Fatalf("resume-trading: status=%s err=%v", status, err)
	}
	if _, err := f.Command(key, "explode"); !errors.Is(err, core.ErrBadCommand) {
		t.Errorf("expected ErrBadCommand, got %v", err)
	}
}

func TestTick_SkipsHaltedStrategies(t *testing.T) {
	f := NewFleet(2, 1)
	halted := f.Keys()[0]
	if _, err := f.Command(halted, core.CommandStopTrading); err != nil {
		t.Fatal(err)
	}
	before := f.Snapshot()[0].RawState
	for i := 0; i < 10; i++ {
		f.Tick()
	}
	after := f.Snapshot()[0].RawState
	if before != after {
		t.Error("halted strategy state changed across ticks")
	}
}

func TestDumpOrder_RecordsFromOperations(t *testing.T) {
	f := NewFleet(1, 1)
	key := f.Keys()[0]
	s := f.strats[key.String()]
	op := f.newOperation(s, core.OperationOpen)

	if len(op.Transactions) == 0 {
		t.Fatal("operation has no transactions")
	}
	var rec struct {
		OrderID string `json:"order_id"`
	}
	mustUnmarshal(t, op.Transactions[0].LastOrder, &rec)

	records := f.DumpOrder("binance", rec.OrderID)
	if len(records) != 1 {
		t.Fatalf("expected 1 record for order %s, got %d", rec.OrderID, len(records))
	}
	if f.DumpOrder("binance", "missing") != nil {
		t.Error("unknown order returned records")
	}
}
