// Package sim is a stand-in for the external trading engine. It keeps an
// in-memory fleet of strategies with evolving state and serves the same
// query/mutation API the real engine exposes, so the dashboard can be
// developed and tested without live trading infrastructure.
package sim

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratdeck/internal/core"
)

var stratTypes = []string{"naive_pair_trading", "mean_reverting", "breakout"}

var pairs = []string{"BTC/ETH", "ETH/USDT", "BTC/USDT", "SOL/USDT"}

// strategySim is one simulated strategy.
type strategySim struct {
	key         core.StrategyKey
	status      core.StrategyStatus
	state       core.StrategyState
	models      map[string]string
	ongoing     *core.Operation
	history     []core.Operation
	brokenState bool // serve a malformed state blob, for parser hardening
}

// Fleet is the simulated strategy population. All methods are safe for
// concurrent use.
type Fleet struct {
	mu     sync.Mutex
	rng    *rand.Rand
	strats map[string]*strategySim
	order  []string // insertion order of composite keys
	orders map[string][]string
}

// NewFleet creates n strategies with randomized initial state. One strategy
// in ten reports a deliberately malformed state blob, mirroring the payload
// corruption seen from real engines.
func NewFleet(n int, seed int64) *Fleet {
	f := &Fleet{
		rng:    rand.New(rand.NewSource(seed)),
		strats: map[string]*strategySim{},
		orders: map[string][]string{},
	}
	for i := 0; i < n; i++ {
		key := core.StrategyKey{
			Type: stratTypes[i%len(stratTypes)],
			ID:   fmt.Sprintf("inst-%02d", i),
		}
		s := &strategySim{
			key:    key,
			status: core.StatusRunning,
			state: core.StrategyState{
				Position:        f.rng.Float64() * 2,
				Pnl:             f.rng.Float64()*200 - 100,
				ValueStrat:      100 + f.rng.Float64()*50,
				NominalPosition: f.rng.Float64() * 3,
			},
			models: map[string]string{
				"window":    fmt.Sprintf(`{"size":%d,"mean":%.4f}`, 20+i, f.rng.Float64()),
				"threshold": fmt.Sprintf(`{"enter":%.4f,"exit":%.4f}`, f.rng.Float64(), f.rng.Float64()),
			},
			brokenState: i%10 == 9,
		}
		f.strats[key.String()] = s
		f.order = append(f.order, key.String())
	}
	return f
}

// Keys lists every strategy identity in insertion order.
func (f *Fleet) Keys() []core.StrategyKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]core.StrategyKey, len(f.order))
	for i, k := range f.order {
		keys[i] = f.strats[k].key
	}
	return keys
}

// Snapshot returns the extended strats projection: identity, serialized
// state and status for every strategy.
func (f *Fleet) Snapshot() []core.Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Strategy, len(f.order))
	for i, k := range f.order {
		s := f.strats[k]
		out[i] = core.Strategy{
			Key:      s.key,
			RawState: s.rawState(),
			Status:   s.status,
		}
	}
	return out
}

func (s *strategySim) rawState() string {
	if s.brokenState {
		return `{"position":0.5,"pnl":` // truncated on purpose
	}
	raw, err := json.Marshal(s.state)
	if err != nil {
		return ""
	}
	return string(raw)
}

// StatusCounts returns the number of strategies per status.
func (f *Fleet) StatusCounts() map[core.StrategyStatus]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[core.StrategyStatus]int{}
	for _, s := range f.strats {
		counts[s.status]++
	}
	return counts
}

func (f *Fleet) get(key core.StrategyKey) (*strategySim, error) {
	s, ok := f.strats[key.String()]
	if !ok {
		return nil, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%s", key))
	}
	return s, nil
}

// Models returns the named model payloads of one strategy.
func (f *Fleet) Models(key core.StrategyKey) ([]core.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(key)
	if err != nil {
		return nil, err
	}
	out := make([]core.Model, 0, len(s.models))
	for id, raw := range s.models {
		out = append(out, core.Model{ID: id, RawJSON: raw})
	}
	return out, nil
}

// Operations returns the operation history, oldest first, with the ongoing
// operation appended last when present.
func (f *Fleet) Operations(key core.StrategyKey) ([]core.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(key)
	if err != nil {
		return nil, err
	}
	out := make([]core.Operation, len(s.history))
	copy(out, s.history)
	if s.ongoing != nil {
		out = append(out, *s.ongoing)
	}
	return out, nil
}

// DumpOrder returns the raw transaction records of one exchange order.
func (f *Fleet) DumpOrder(exchange, orderID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[exchange+"/"+orderID]
}

// SetField overwrites one mutable state field.
func (f *Fleet) SetField(key core.StrategyKey, fm core.FieldMutation) (bool, error) {
	if err := fm.Validate(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(key)
	if err != nil {
		return false, err
	}
	switch fm.Field {
	case core.FieldValueStrat:
		s.state.ValueStrat = fm.Value
	case core.FieldPnl:
		s.state.Pnl = fm.Value
	case core.FieldNominalPosition:
		s.state.NominalPosition = fm.Value
	case core.FieldPreviousValueStrat:
		s.state.PreviousValueStrat = fm.Value
	}
	return true, nil
}

// CancelOperation discards the ongoing operation if there is one.
func (f *Fleet) CancelOperation(key core.StrategyKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(key)
	if err != nil {
		return false, err
	}
	if s.ongoing == nil {
		return false, nil
	}
	s.ongoing = nil
	return true, nil
}

// ResetModels resets one named model, or all of them when reset.Name is
// empty, and returns the resulting strategy status.
func (f *Fleet) ResetModels(key core.StrategyKey, reset core.ModelReset) (core.StrategyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(key)
	if err != nil {
		return "", err
	}

	if reset.Name != "" {
		if _, ok := s.models[reset.Name]; !ok {
			return "", core.WrapError(core.ErrEngineRejected,
				fmt.Errorf("no model named %q", reset.Name))
		}
		s.models[reset.Name] = "{}"
	} else {
		for id := range s.models {
			s.models[id] = "{}"
		}
	}

	switch {
	case reset.RestartAfter:
		s.status = core.StatusRunning
	case reset.StopTrading:
		s.status = core.StatusNotTrading
	}
	return s.status, nil
}

// Command applies a lifecycle command and returns the resulting status.
func (f *Fleet) Command(key core.StrategyKey, cmd core.LifecycleCommand) (core.StrategyStatus, error) {
	if !cmd.IsValid() {
		return "", core.WrapError(core.ErrBadCommand, fmt.Errorf("%q", cmd))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.get(key)
	if err != nil {
		return "", err
	}
	switch cmd {
	case core.CommandRestart, core.CommandResumeTrading:
		s.status = core.StatusRunning
	case core.CommandStopTrading:
		s.status = core.StatusNotTrading
	}
	return s.status, nil
}

// Tick advances the simulation one step: running strategies random-walk
// their state and occasionally open or close an operation.
func (f *Fleet) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.order {
		s := f.strats[k]
		if s.status != core.StatusRunning {
			continue
		}
		s.state.Pnl += f.rng.Float64()*2 - 1
		s.state.PreviousValueStrat = s.state.ValueStrat
		s.state.ValueStrat *= 1 + (f.rng.Float64()-0.5)/100

		switch {
		case s.ongoing == nil && f.rng.Float64() < 0.15:
			op := f.newOperation(s, core.OperationOpen)
			s.ongoing = &op
		case s.ongoing != nil && f.rng.Float64() < 0.25:
			s.history = append(s.history, *s.ongoing)
			closing := f.newOperation(s, core.OperationClose)
			s.history = append(s.history, closing)
			s.ongoing = nil
		}
	}
}

// newOperation fabricates an operation with one or two transactions and
// registers their raw order records for DumpOrder.
func (f *Fleet) newOperation(s *strategySim, kind core.OperationKind) core.Operation {
	op := core.Operation{
		ID:   "op:" + uuid.NewString(),
		Kind: kind,
	}
	n := 1 + f.rng.Intn(2)
	for i := 0; i < n; i++ {
		orderID := uuid.NewString()
		exchange := "binance"
		pair := pairs[f.rng.Intn(len(pairs))]
		price := f.rng.Float64() * 100

		posKind := core.PositionLong
		tradeKind := core.TradeBuy
		if f.rng.Float64() < 0.5 {
			posKind = core.PositionShort
			tradeKind = core.TradeSell
		}

		raw := fmt.Sprintf(`{"exchange":%q,"order_id":%q,"pair":%q,"price":%.4f,"status":"filled"}`,
			exchange, orderID, pair, price)
		f.orders[exchange+"/"+orderID] = append(f.orders[exchange+"/"+orderID], raw)

		op.Transactions = append(op.Transactions, core.Transaction{
			Value:        price * s.state.NominalPosition,
			Pair:         pair,
			Time:         time.Now().UTC(),
			PositionKind: posKind,
			Price:        price,
			LastOrder:    raw,
			Quantity:     s.state.NominalPosition,
			TradeKind:    tradeKind,
		})
	}
	return op
}
