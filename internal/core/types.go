package core

import (
	"fmt"
	"time"
)

// StrategyKey identifies a running strategy instance by its type and id.
type StrategyKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String returns the composite key used to address a strategy across the
// API and in response maps.
func (k StrategyKey) String() string {
	return k.Type + "/" + k.ID
}

// IsZero reports whether the key is empty.
func (k StrategyKey) IsZero() bool {
	return k.Type == "" && k.ID == ""
}

// StrategyStatus is the engine-reported run state of a strategy.
type StrategyStatus string

const (
	StatusStopped    StrategyStatus = "stopped"
	StatusRunning    StrategyStatus = "running"
	StatusNotTrading StrategyStatus = "not-trading"
)

// IsValid reports whether s is one of the known statuses.
func (s StrategyStatus) IsValid() bool {
	switch s {
	case StatusStopped, StatusRunning, StatusNotTrading:
		return true
	}
	return false
}

// LifecycleCommand is a control command sent to a strategy.
type LifecycleCommand string

const (
	CommandRestart       LifecycleCommand = "restart"
	CommandStopTrading   LifecycleCommand = "stop-trading"
	CommandResumeTrading LifecycleCommand = "resume-trading"
)

// LifecycleCommands lists every command, in menu order.
func LifecycleCommands() []LifecycleCommand {
	return []LifecycleCommand{CommandRestart, CommandStopTrading, CommandResumeTrading}
}

// IsValid reports whether c is one of the known commands.
func (c LifecycleCommand) IsValid() bool {
	switch c {
	case CommandRestart, CommandStopTrading, CommandResumeTrading:
		return true
	}
	return false
}

// MutableField names a strategy state field that may be overwritten through
// the mutation API. The set is fixed by the engine.
type MutableField string

const (
	FieldValueStrat         MutableField = "value_strat"
	FieldPnl                MutableField = "pnl"
	FieldNominalPosition    MutableField = "nominal_position"
	FieldPreviousValueStrat MutableField = "previous_value_strat"
)

// MutableFields lists every editable field, in menu order.
func MutableFields() []MutableField {
	return []MutableField{
		FieldValueStrat,
		FieldPnl,
		FieldNominalPosition,
		FieldPreviousValueStrat,
	}
}

// IsValid reports whether f is one of the known mutable fields.
func (f MutableField) IsValid() bool {
	switch f {
	case FieldValueStrat, FieldPnl, FieldNominalPosition, FieldPreviousValueStrat:
		return true
	}
	return false
}

// StrategyState is the decoded form of the serialized state blob a strategy
// reports. Unknown fields are ignored on decode.
type StrategyState struct {
	Position           float64 `json:"position"`
	Pnl                float64 `json:"pnl"`
	ValueStrat         float64 `json:"value_strat"`
	NominalPosition    float64 `json:"nominal_position"`
	PreviousValueStrat float64 `json:"previous_value_strat,omitempty"`
}

// Strategy is one row of the fleet as reported by the engine. RawState is
// the serialized state JSON; decode it with ParseState rather than assuming
// it is well formed.
type Strategy struct {
	Key      StrategyKey    `json:"key"`
	RawState string         `json:"state"`
	Status   StrategyStatus `json:"status"`
}

// Model is a named computed artifact belonging to a strategy. The payload is
// an opaque JSON document.
type Model struct {
	ID      string `json:"id"`
	RawJSON string `json:"json"`
}

// OperationKind distinguishes position-opening from position-closing
// operations.
type OperationKind string

const (
	OperationOpen  OperationKind = "open"
	OperationClose OperationKind = "close"
)

// PositionKind is the direction of the position an operation acts on.
type PositionKind string

const (
	PositionLong  PositionKind = "long"
	PositionShort PositionKind = "short"
)

// TradeKind is the side of a trade.
type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

// Transaction is one fill belonging to an operation. LastOrder, when present,
// is an opaque serialized order record; use ParseJSON to display it.
type Transaction struct {
	Value        float64      `json:"value"`
	Pair         string       `json:"pair"`
	Time         time.Time    `json:"time"`
	PositionKind PositionKind `json:"positionKind"`
	Price        float64      `json:"price"`
	LastOrder    string       `json:"lastOrder,omitempty"`
	Quantity     float64      `json:"quantity"`
	TradeKind    TradeKind    `json:"tradeKind"`
}

// Operation is a historical open/close trading event grouping one or more
// transactions.
type Operation struct {
	ID           string        `json:"id"`
	Kind         OperationKind `json:"kind"`
	Transactions []Transaction `json:"transactions"`
}

// ModelReset carries the flags of a model reset request. An empty Name resets
// every model of the strategy.
type ModelReset struct {
	Name         string `json:"name,omitempty"`
	StopTrading  bool   `json:"stopTrading"`
	RestartAfter bool   `json:"restartAfter"`
}

// FieldMutation carries a single state field overwrite.
type FieldMutation struct {
	Field MutableField `json:"field"`
	Value float64      `json:"value"`
}

// Validate checks the mutation before it is sent.
func (m FieldMutation) Validate() error {
	if !m.Field.IsValid() {
		return WrapError(ErrBadField, fmt.Errorf("unknown field %q", m.Field))
	}
	return nil
}
