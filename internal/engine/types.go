package engine

import (
	"encoding/json"
	"time"

	"stratdeck/internal/core"
)

// graphqlRequest is the POST body of every engine call.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// wireStrategy is the strats projection. State and Status are empty in the
// identity-only query.
type wireStrategy struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	State  string `json:"state,omitempty"`
	Status string `json:"status,omitempty"`
}

func (w wireStrategy) toCore() core.Strategy {
	return core.Strategy{
		Key:      core.StrategyKey{Type: w.Type, ID: w.ID},
		RawState: w.State,
		Status:   core.StrategyStatus(w.Status),
	}
}

type wireModel struct {
	ID   string `json:"id"`
	JSON string `json:"json"`
}

type wireTransaction struct {
	Value        float64   `json:"value"`
	Pair         string    `json:"pair"`
	Time         time.Time `json:"time"`
	PositionKind string    `json:"positionKind"`
	Price        float64   `json:"price"`
	LastOrder    string    `json:"lastOrder,omitempty"`
	Quantity     float64   `json:"quantity"`
	TradeKind    string    `json:"tradeKind"`
}

type wireOperation struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Transactions []wireTransaction `json:"transactions"`
}

func (w wireOperation) toCore() core.Operation {
	op := core.Operation{
		ID:           w.ID,
		Kind:         core.OperationKind(w.Kind),
		Transactions: make([]core.Transaction, len(w.Transactions)),
	}
	for i, tx := range w.Transactions {
		op.Transactions[i] = core.Transaction{
			Value:        tx.Value,
			Pair:         tx.Pair,
			Time:         tx.Time,
			PositionKind: core.PositionKind(tx.PositionKind),
			Price:        tx.Price,
			LastOrder:    tx.LastOrder,
			Quantity:     tx.Quantity,
			TradeKind:    core.TradeKind(tx.TradeKind),
		}
	}
	return op
}

// typeAndKey is the (type, id) input object scoping most calls.
func typeAndKey(key core.StrategyKey) map[string]any {
	return map[string]any{"type": key.Type, "id": key.ID}
}
