// Package board is the read-model behind the dashboard: it projects engine
// strategies into table rows, merges batch outcomes back into them, and
// aggregates fleet-level statistics.
package board

import (
	"context"
	"fmt"

	"github.com/montanaflynn/stats"

	"stratdeck/internal/batch"
	"stratdeck/internal/core"
	"stratdeck/internal/snapshot"
	"stratdeck/internal/table"
)

// Field keys used by the strategy table.
const (
	FieldType            = "type"
	FieldID              = "id"
	FieldStatus          = "status"
	FieldPosition        = "position"
	FieldPnl             = "pnl"
	FieldValueStrat      = "value_strat"
	FieldNominalPosition = "nominal_position"
	FieldParse           = "parse"
	FieldResponse        = "response"
)

// ParseMarker is displayed in place of numeric fields when a strategy's
// state blob cannot be decoded.
const ParseMarker = "unparseable"

func renderFloat(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f", f)
}

func renderString(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "-"
	}
	return s
}

// Columns returns the strategy table layout.
func Columns() []table.Column {
	return []table.Column{
		{Key: FieldType, Label: "Type", Width: 20, Render: renderString},
		{Key: FieldID, Label: "Id", Width: 16, Render: renderString},
		{Key: FieldStatus, Label: "Status", Width: 12, Render: renderString},
		{Key: FieldPosition, Label: "Position", Width: 10, Render: renderFloat},
		{Key: FieldPnl, Label: "PnL", Width: 10, Render: renderFloat},
		{Key: FieldValueStrat, Label: "Value", Width: 10, Render: renderFloat},
		{Key: FieldNominalPosition, Label: "Nominal", Width: 10, Render: renderFloat},
		{Key: FieldResponse, Label: "Response", Width: 28, Render: renderString},
	}
}

// BuildRows projects strategies into table rows. Strategies whose state blob
// does not decode keep their identity and status but carry no numeric
// fields, so they sort first and render the parse marker.
func BuildRows(strats []core.Strategy) []table.Row {
	rows := make([]table.Row, len(strats))
	for i, s := range strats {
		fields := map[string]any{
			FieldType:   s.Key.Type,
			FieldID:     s.Key.ID,
			FieldStatus: string(s.Status),
		}
		ps := core.ParseState(s.RawState)
		if ps.Outcome == core.ParseOK {
			fields[FieldPosition] = ps.State.Position
			fields[FieldPnl] = ps.State.Pnl
			fields[FieldValueStrat] = ps.State.ValueStrat
			fields[FieldNominalPosition] = ps.State.NominalPosition
		} else {
			fields[FieldParse] = ParseMarker
		}
		rows[i] = table.Row{ID: s.Key.String(), Fields: fields}
	}
	return rows
}

// MergeResponses returns a copy of rows with the response column filled in
// from the latest batch outcomes. Rows without an outcome get an empty
// response.
func MergeResponses(rows []table.Row, results map[string]batch.Outcome) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		fields := make(map[string]any, len(r.Fields)+1)
		for k, v := range r.Fields {
			fields[k] = v
		}
		delete(fields, FieldResponse)
		if o, ok := results[r.ID]; ok {
			fields[FieldResponse] = o.Display()
		}
		out[i] = table.Row{ID: r.ID, Fields: fields}
	}
	return out
}

// Summary aggregates the fleet at a point in time.
type Summary struct {
	Total       int
	Running     int
	NotTrading  int
	Stopped     int
	Unparseable int

	TotalPnl  float64
	MeanPnl   float64
	MedianPnl float64
}

// Summarize computes fleet statistics over the parseable strategies.
func Summarize(strats []core.Strategy) Summary {
	var sum Summary
	sum.Total = len(strats)

	var pnls []float64
	for _, s := range strats {
		switch s.Status {
		case core.StatusRunning:
			sum.Running++
		case core.StatusNotTrading:
			sum.NotTrading++
		case core.StatusStopped:
			sum.Stopped++
		}
		ps := core.ParseState(s.RawState)
		if ps.Outcome != core.ParseOK {
			sum.Unparseable++
			continue
		}
		pnls = append(pnls, ps.State.Pnl)
	}
	if len(pnls) == 0 {
		return sum
	}
	sum.TotalPnl, _ = stats.Sum(pnls)
	sum.MeanPnl, _ = stats.Mean(pnls)
	sum.MedianPnl, _ = stats.Median(pnls)
	return sum
}

// Engine is the slice of the engine API the board's actions need.
type Engine interface {
	SetStateField(ctx context.Context, key core.StrategyKey, fm core.FieldMutation) (bool, error)
	CancelOperation(ctx context.Context, key core.StrategyKey) (bool, error)
	ResetModels(ctx context.Context, key core.StrategyKey, reset core.ModelReset) (core.StrategyStatus, error)
	SendCommand(ctx context.Context, key core.StrategyKey, cmd core.LifecycleCommand) (core.StrategyStatus, error)
}

// SendCommandOp builds the per-row operation for a lifecycle command.
func SendCommandOp(e Engine, cmd core.LifecycleCommand) batch.Op {
	return func(ctx context.Context, key core.StrategyKey) (string, error) {
		status, err := e.SendCommand(ctx, key, cmd)
		if err != nil {
			return "", err
		}
		return string(status), nil
	}
}

// ResetModelOp builds the per-row operation for a model reset.
func ResetModelOp(e Engine, reset core.ModelReset) batch.Op {
	return func(ctx context.Context, key core.StrategyKey) (string, error) {
		status, err := e.ResetModels(ctx, key, reset)
		if err != nil {
			return "", err
		}
		return string(status), nil
	}
}

// SetFieldOp builds the per-row operation for a state field mutation.
func SetFieldOp(e Engine, fm core.FieldMutation) batch.Op {
	return func(ctx context.Context, key core.StrategyKey) (string, error) {
		done, err := e.SetStateField(ctx, key, fm)
		if err != nil {
			return "", err
		}
		if !done {
			return "not applied", nil
		}
		return fmt.Sprintf("%s=%v", fm.Field, fm.Value), nil
	}
}

// Exporter is the slice of the snapshot package the export action needs.
type Exporter interface {
	Export(ctx context.Context, keys []core.StrategyKey) (snapshot.Result, error)
}

// ExportOp builds the per-row operation snapshotting one strategy to the
// configured export store.
func ExportOp(e Exporter) batch.Op {
	return func(ctx context.Context, key core.StrategyKey) (string, error) {
		res, err := e.Export(ctx, []core.StrategyKey{key})
		if err != nil {
			return "", err
		}
		if len(res.Failed) > 0 {
			return "", core.WrapError(core.ErrExportFailed,
				fmt.Errorf("strategy %s", key))
		}
		return fmt.Sprintf("%d files", len(res.Written)), nil
	}
}

// CancelOperationOp builds the per-row operation for cancelling an ongoing
// operation. Unlike the others it targets a single row, never the selection.
func CancelOperationOp(e Engine) batch.Op {
	return func(ctx context.Context, key core.StrategyKey) (string, error) {
		done, err := e.CancelOperation(ctx, key)
		if err != nil {
			return "", err
		}
		if !done {
			return "nothing ongoing", nil
		}
		return "cancelled", nil
	}
}
