package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stratdeck/internal/core"
)

// Source is the slice of the engine API the exporter reads from.
type Source interface {
	StratsExtended(ctx context.Context) ([]core.Strategy, error)
	Models(ctx context.Context, key core.StrategyKey) ([]core.Model, error)
	Operations(ctx context.Context, key core.StrategyKey) ([]core.Operation, error)
}

// Exporter writes one directory per exported strategy:
//
//	<type>/<id>/<timestamp>/state.json
//	<type>/<id>/<timestamp>/models.json
//	<type>/<id>/<timestamp>/operations.json
type Exporter struct {
	store  Store
	source Source
	log    *zap.Logger
	now    func() time.Time
}

func NewExporter(store Store, source Source, log *zap.Logger) *Exporter {
	return &Exporter{store: store, source: source, log: log, now: time.Now}
}

// Result summarizes one export run.
type Result struct {
	Written []string
	Failed  []core.StrategyKey
}

// stateRecord is the state.json payload.
type stateRecord struct {
	Key        core.StrategyKey    `json:"key"`
	Status     core.StrategyStatus `json:"status"`
	State      json.RawMessage     `json:"state,omitempty"`
	RawState   string              `json:"rawState,omitempty"`
	ExportedAt time.Time           `json:"exportedAt"`
}

// Export snapshots the given strategies, or the whole fleet when keys is
// empty. A strategy that fails to export does not abort the run; it is
// reported in the result instead.
func (e *Exporter) Export(ctx context.Context, keys []core.StrategyKey) (Result, error) {
	strats, err := e.source.StratsExtended(ctx)
	if err != nil {
		return Result{}, core.WrapError(core.ErrExportFailed, err)
	}

	byKey := make(map[string]core.Strategy, len(strats))
	for _, s := range strats {
		byKey[s.Key.String()] = s
	}

	if len(keys) == 0 {
		keys = make([]core.StrategyKey, len(strats))
		for i, s := range strats {
			keys[i] = s.Key
		}
	}

	stamp := e.now().UTC().Format("20060102T150405Z")
	var res Result
	for _, key := range keys {
		strat, ok := byKey[key.String()]
		if !ok {
			e.log.Warn("strategy not in fleet, skipping export", zap.String("key", key.String()))
			res.Failed = append(res.Failed, key)
			continue
		}
		written, err := e.exportOne(ctx, strat, stamp)
		if err != nil {
			e.log.Warn("strategy export failed", zap.String("key", key.String()), zap.Error(err))
			res.Failed = append(res.Failed, key)
			continue
		}
		res.Written = append(res.Written, written...)
	}
	if len(res.Written) > 0 {
		e.log.Info("export finished",
			zap.Int("files", len(res.Written)),
			zap.Int("failed", len(res.Failed)))
	}
	return res, nil
}

func (e *Exporter) exportOne(ctx context.Context, strat core.Strategy, stamp string) ([]string, error) {
	base := fmt.Sprintf("%s/%s/%s", strat.Key.Type, strat.Key.ID, stamp)

	rec := stateRecord{
		Key:        strat.Key,
		Status:     strat.Status,
		ExportedAt: e.now().UTC(),
	}
	// Keep the raw blob verbatim when it is not valid JSON, so nothing is
	// lost on corrupted engine payloads.
	if pj := core.ParseJSON(strat.RawState); pj.Outcome == core.ParseOK {
		rec.State = json.RawMessage(strat.RawState)
	} else {
		rec.RawState = strat.RawState
	}

	models, err := e.source.Models(ctx, strat.Key)
	if err != nil {
		return nil, err
	}
	ops, err := e.source.Operations(ctx, strat.Key)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, part := range []struct {
		name string
		data any
	}{
		{"state.json", rec},
		{"models.json", models},
		{"operations.json", ops},
	} {
		blob, err := json.MarshalIndent(part.data, "", "  ")
		if err != nil {
			return nil, err
		}
		path := base + "/" + part.name
		if err := e.store.Write(ctx, path, blob); err != nil {
			return nil, core.WrapError(core.ErrExportFailed, err)
		}
		written = append(written, path)
	}
	return written, nil
}
