package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"stratdeck/internal/core"
	"stratdeck/internal/metrics"
)

// fakeEngine routes GraphQL documents to canned responses and records every
// request it sees.
type fakeEngine struct {
	t        *testing.T
	requests []graphqlRequest
	handle   func(req graphqlRequest) (any, string)
}

func (f *fakeEngine) serve(w http.ResponseWriter, r *http.Request) {
	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Fatalf("bad request body: %v", err)
	}
	f.requests = append(f.requests, req)

	data, errMsg := f.handle(req)
	w.Header().Set("Content-Type", "application/json")
	if errMsg != "" {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": errMsg}},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func newTestClient(t *testing.T, handle func(req graphqlRequest) (any, string)) (*Client, *fakeEngine) {
	f := &fakeEngine{t: t, handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL}, zap.NewNop()), f
}

func TestStratsExtended(t *testing.T) {
	c, _ := newTestClient(t, func(req graphqlRequest) (any, string) {
		if !strings.Contains(req.Query, "state status") {
			t.Errorf("extended query should request state and status: %s", req.Query)
		}
		return map[string]any{
			"strats": []map[string]any{
				{"type": "naive", "id": "s1", "state": `{"pnl":1.5}`, "status": "running"},
				{"type": "mean_reverting", "id": "s2", "state": "", "status": "stopped"},
			},
		}, ""
	})

	strats, err := c.StratsExtended(context.Background())
	if err != nil {
		t.Fatalf("StratsExtended: %v", err)
	}
	if len(strats) != 2 {
		t.Fatalf("got %d strategies, want 2", len(strats))
	}
	if strats[0].Key.String() != "naive/s1" {
		t.Errorf("key = %s", strats[0].Key)
	}
	if strats[0].Status != core.StatusRunning {
		t.Errorf("status = %s", strats[0].Status)
	}
	if strats[0].RawState != `{"pnl":1.5}` {
		t.Errorf("raw state = %q", strats[0].RawState)
	}
}

func TestStrats_IdentityOnly(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{
			"strats": []map[string]any{{"type": "naive", "id": "s1"}},
		}, ""
	})

	keys, err := c.Strats(context.Background())
	if err != nil {
		t.Fatalf("Strats: %v", err)
	}
	if len(keys) != 1 || keys[0] != (core.StrategyKey{Type: "naive", ID: "s1"}) {
		t.Errorf("keys = %v", keys)
	}
	if strings.Contains(f.requests[0].Query, "state") {
		t.Error("identity query must not request the state projection")
	}
}

func TestModels_PassesKey(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{
			"models": []map[string]any{{"id": "window", "json": `{"n":5}`}},
		}, ""
	})

	models, err := c.Models(context.Background(), core.StrategyKey{Type: "naive", ID: "s1"})
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 1 || models[0].ID != "window" {
		t.Errorf("models = %v", models)
	}

	tk := f.requests[0].Variables["tk"].(map[string]any)
	if tk["type"] != "naive" || tk["id"] != "s1" {
		t.Errorf("tk variables = %v", tk)
	}
}

func TestOperations_Decode(t *testing.T) {
	c, _ := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{
			"operations": []map[string]any{
				{
					"id":   "op-1",
					"kind": "open",
					"transactions": []map[string]any{
						{
							"value": 100.5, "pair": "BTC/ETH",
							"time":         "2026-08-30T12:00:00Z",
							"positionKind": "long", "price": 0.05,
							"lastOrder": `{"id":"x"}`, "quantity": 2.0,
							"tradeKind": "buy",
						},
					},
				},
			},
		}, ""
	})

	ops, err := c.Operations(context.Background(), core.StrategyKey{Type: "naive", ID: "s1"})
	if err != nil {
		t.Fatalf("Operations: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != core.OperationOpen {
		t.Fatalf("ops = %+v", ops)
	}
	tx := ops[0].Transactions[0]
	if tx.Pair != "BTC/ETH" || tx.PositionKind != core.PositionLong || tx.TradeKind != core.TradeBuy {
		t.Errorf("tx = %+v", tx)
	}
	if tx.LastOrder != `{"id":"x"}` {
		t.Errorf("lastOrder should stay opaque, got %q", tx.LastOrder)
	}
}

func TestDumpOrder(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{"dumpOrder": []string{`{"fill":1}`, `{"fill":2}`}}, ""
	})

	dump, err := c.DumpOrder(context.Background(), "binance", "ord-9")
	if err != nil {
		t.Fatalf("DumpOrder: %v", err)
	}
	if len(dump) != 2 {
		t.Errorf("dump = %v", dump)
	}
	vars := f.requests[0].Variables
	if vars["exchange"] != "binance" || vars["orderId"] != "ord-9" {
		t.Errorf("variables = %v", vars)
	}
}

func TestSetStateField(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{"setStateField": true}, ""
	})

	ok, err := c.SetStateField(context.Background(),
		core.StrategyKey{Type: "naive", ID: "s1"},
		core.FieldMutation{Field: core.FieldPnl, Value: 3.5})
	if err != nil {
		t.Fatalf("SetStateField: %v", err)
	}
	if !ok {
		t.Error("expected true")
	}

	fm := f.requests[0].Variables["fm"].(map[string]any)
	if fm["field"] != "pnl" || fm["value"] != 3.5 {
		t.Errorf("fm variables = %v", fm)
	}
}

func TestSetStateField_RejectsUnknownFieldLocally(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		t.Error("invalid field must not reach the engine")
		return nil, ""
	})

	_, err := c.SetStateField(context.Background(),
		core.StrategyKey{Type: "naive", ID: "s1"},
		core.FieldMutation{Field: "position"})
	if !errors.Is(err, core.ErrBadField) {
		t.Errorf("err = %v, want ErrBadField", err)
	}
	if len(f.requests) != 0 {
		t.Error("no request expected")
	}
}

func TestResetModels(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{"resetModel": "not-trading"}, ""
	})

	status, err := c.ResetModels(context.Background(),
		core.StrategyKey{Type: "naive", ID: "s1"},
		core.ModelReset{Name: "window", StopTrading: true, RestartAfter: false})
	if err != nil {
		t.Fatalf("ResetModels: %v", err)
	}
	if status != core.StatusNotTrading {
		t.Errorf("status = %s", status)
	}

	reset := f.requests[0].Variables["reset"].(map[string]any)
	if reset["name"] != "window" || reset["stopTrading"] != true || reset["restartAfter"] != false {
		t.Errorf("reset variables = %v", reset)
	}
}

func TestSendCommand(t *testing.T) {
	c, f := newTestClient(t, func(req graphqlRequest) (any, string) {
		return map[string]any{"sendCommand": "running"}, ""
	})

	status, err := c.SendCommand(context.Background(),
		core.StrategyKey{Type: "naive", ID: "s1"}, core.CommandResumeTrading)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if status != core.StatusRunning {
		t.Errorf("status = %s", status)
	}
	if f.requests[0].Variables["cmd"] != "resume-trading" {
		t.Errorf("cmd = %v", f.requests[0].Variables["cmd"])
	}
}

func TestSendCommand_RejectsUnknownCommand(t *testing.T) {
	c, _ := newTestClient(t, func(req graphqlRequest) (any, string) {
		t.Error("invalid command must not reach the engine")
		return nil, ""
	})

	_, err := c.SendCommand(context.Background(),
		core.StrategyKey{Type: "naive", ID: "s1"}, "pause")
	if !errors.Is(err, core.ErrBadCommand) {
		t.Errorf("err = %v, want ErrBadCommand", err)
	}
}

func TestClient_RecordsEngineCalls(t *testing.T) {
	reg := metrics.NewRegistry()
	f := &fakeEngine{t: t, handle: func(req graphqlRequest) (any, string) {
		return map[string]any{"strats": []map[string]any{}}, ""
	}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	c := New(Config{URL: srv.URL, Metrics: reg}, zap.NewNop())
	if _, err := c.Strats(context.Background()); err != nil {
		t.Fatal(err)
	}

	fams, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var calls float64
	for _, fam := range fams {
		if fam.GetName() != "stratdeck_engine_calls_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			calls += m.GetCounter().GetValue()
		}
	}
	if calls != 1 {
		t.Errorf("engine call counter = %v, want 1", calls)
	}
}

func TestErrorMapping_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(req graphqlRequest) (any, string) {
		return nil, "Strategy not found"
	})

	_, err := c.Models(context.Background(), core.StrategyKey{Type: "ghost", ID: "x"})
	if !errors.Is(err, core.ErrStrategyNotFound) {
		t.Errorf("err = %v, want ErrStrategyNotFound", err)
	}
}

func TestErrorMapping_Rejected(t *testing.T) {
	c, _ := newTestClient(t, func(req graphqlRequest) (any, string) {
		return nil, "Strategy mailbox was full"
	})

	_, err := c.CancelOperation(context.Background(), core.StrategyKey{Type: "naive", ID: "s1"})
	if !errors.Is(err, core.ErrEngineRejected) {
		t.Errorf("err = %v, want ErrEngineRejected", err)
	}
}

func TestErrorMapping_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{URL: srv.URL}, zap.NewNop())
	_, err := c.Strats(context.Background())
	if !errors.Is(err, core.ErrEngineUnavailable) {
		t.Errorf("err = %v, want ErrEngineUnavailable", err)
	}
}
