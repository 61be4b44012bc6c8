// Package engine is the typed client for the trading engine's query/mutation
// API. The engine itself is an external collaborator; everything the
// dashboard knows about it goes through this package.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"stratdeck/internal/core"
	"stratdeck/internal/metrics"
)

// Config holds client configuration for one engine endpoint.
type Config struct {
	// URL is the GraphQL endpoint, e.g. http://host:8089/graphql.
	URL string
	// WSURL is the state stream endpoint, e.g. ws://host:8089/ws.
	WSURL string
	// Timeout bounds each HTTP call. Zero means 10s.
	Timeout time.Duration
	// Metrics is optional; when set, calls are recorded on it.
	Metrics *metrics.Registry
}

// Client talks to one engine endpoint. Rebuild the client when the target
// host changes.
type Client struct {
	client  *http.Client
	url     string
	wsURL   string
	metrics *metrics.Registry
	log     *zap.Logger
}

// New creates a client for the given endpoint.
func New(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		url:     cfg.URL,
		wsURL:   cfg.WSURL,
		metrics: cfg.Metrics,
		log:     log,
	}
}

// URL returns the endpoint this client is bound to.
func (c *Client) URL() string { return c.url }

const (
	queryStrats = `query { strats { type id } }`

	queryStratsExtended = `query { strats { type id state status } }`

	queryModels = `query($tk: TypeAndKeyInput!) {
  models(tk: $tk) { id json }
}`

	queryOperations = `query($tk: TypeAndKeyInput!) {
  operations(tk: $tk) {
    id kind
    transactions { value pair time positionKind price lastOrder quantity tradeKind }
  }
}`

	queryDumpOrder = `query($exchange: String!, $orderId: String!) {
  dumpOrder(exchange: $exchange, orderId: $orderId)
}`

	mutationSetStateField = `mutation($tk: TypeAndKeyInput!, $fm: FieldMutationInput!) {
  setStateField(tk: $tk, fm: $fm)
}`

	mutationCancelOperation = `mutation($tk: TypeAndKeyInput!) {
  cancelOperation(tk: $tk)
}`

	mutationResetModel = `mutation($tk: TypeAndKeyInput!, $reset: ModelResetInput!) {
  resetModel(tk: $tk, reset: $reset)
}`

	mutationSendCommand = `mutation($tk: TypeAndKeyInput!, $cmd: LifecycleCommand!) {
  sendCommand(tk: $tk, cmd: $cmd)
}`
)

// do posts one GraphQL document and decodes the data payload into out.
func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	start := time.Now()
	err := c.post(ctx, query, vars, out)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordEngineCall(op, status, time.Since(start).Seconds())
	}
	if err != nil {
		c.log.Warn("engine call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Client) post(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return core.WrapError(core.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.WrapError(core.ErrEngineUnavailable,
			fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var gr graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return core.WrapError(core.ErrDecode, err)
	}
	if len(gr.Errors) > 0 {
		msg := gr.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not found") {
			return core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%s", msg))
		}
		return core.WrapError(core.ErrEngineRejected, fmt.Errorf("%s", msg))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return core.WrapError(core.ErrDecode, err)
	}
	return nil
}

// Strats lists every strategy's identity.
func (c *Client) Strats(ctx context.Context) ([]core.StrategyKey, error) {
	var data struct {
		Strats []wireStrategy `json:"strats"`
	}
	if err := c.do(ctx, "strats", queryStrats, nil, &data); err != nil {
		return nil, err
	}
	keys := make([]core.StrategyKey, len(data.Strats))
	for i, s := range data.Strats {
		keys[i] = core.StrategyKey{Type: s.Type, ID: s.ID}
	}
	return keys, nil
}

// StratsExtended lists every strategy with its serialized state and status.
func (c *Client) StratsExtended(ctx context.Context) ([]core.Strategy, error) {
	var data struct {
		Strats []wireStrategy `json:"strats"`
	}
	if err := c.do(ctx, "stratsExtended", queryStratsExtended, nil, &data); err != nil {
		return nil, err
	}
	strats := make([]core.Strategy, len(data.Strats))
	for i, s := range data.Strats {
		strats[i] = s.toCore()
	}
	return strats, nil
}

// Models returns the named model payloads of one strategy.
func (c *Client) Models(ctx context.Context, key core.StrategyKey) ([]core.Model, error) {
	var data struct {
		Models []wireModel `json:"models"`
	}
	vars := map[string]any{"tk": typeAndKey(key)}
	if err := c.do(ctx, "models", queryModels, vars, &data); err != nil {
		return nil, err
	}
	models := make([]core.Model, len(data.Models))
	for i, m := range data.Models {
		models[i] = core.Model{ID: m.ID, RawJSON: m.JSON}
	}
	return models, nil
}

// Operations returns the operation history of one strategy.
func (c *Client) Operations(ctx context.Context, key core.StrategyKey) ([]core.Operation, error) {
	var data struct {
		Operations []wireOperation `json:"operations"`
	}
	vars := map[string]any{"tk": typeAndKey(key)}
	if err := c.do(ctx, "operations", queryOperations, vars, &data); err != nil {
		return nil, err
	}
	ops := make([]core.Operation, len(data.Operations))
	for i, op := range data.Operations {
		ops[i] = op.toCore()
	}
	return ops, nil
}

// DumpOrder fetches the raw transaction records of one exchange order. It is
// only called on demand; the payloads can be large.
func (c *Client) DumpOrder(ctx context.Context, exchange, orderID string) ([]string, error) {
	var data struct {
		DumpOrder []string `json:"dumpOrder"`
	}
	vars := map[string]any{"exchange": exchange, "orderId": orderID}
	if err := c.do(ctx, "dumpOrder", queryDumpOrder, vars, &data); err != nil {
		return nil, err
	}
	return data.DumpOrder, nil
}

// SetStateField overwrites one mutable state field of a strategy.
func (c *Client) SetStateField(ctx context.Context, key core.StrategyKey, fm core.FieldMutation) (bool, error) {
	if err := fm.Validate(); err != nil {
		return false, err
	}
	var data struct {
		SetStateField bool `json:"setStateField"`
	}
	vars := map[string]any{
		"tk": typeAndKey(key),
		"fm": map[string]any{"field": string(fm.Field), "value": fm.Value},
	}
	if err := c.do(ctx, "setStateField", mutationSetStateField, vars, &data); err != nil {
		return false, err
	}
	return data.SetStateField, nil
}

// CancelOperation cancels the ongoing operation of a strategy.
func (c *Client) CancelOperation(ctx context.Context, key core.StrategyKey) (bool, error) {
	var data struct {
		CancelOperation bool `json:"cancelOperation"`
	}
	vars := map[string]any{"tk": typeAndKey(key)}
	if err := c.do(ctx, "cancelOperation", mutationCancelOperation, vars, &data); err != nil {
		return false, err
	}
	return data.CancelOperation, nil
}

// ResetModels resets one named model, or all of them when reset.Name is
// empty, returning the strategy's resulting status.
func (c *Client) ResetModels(ctx context.Context, key core.StrategyKey, reset core.ModelReset) (core.StrategyStatus, error) {
	var data struct {
		ResetModel string `json:"resetModel"`
	}
	vars := map[string]any{
		"tk": typeAndKey(key),
		"reset": map[string]any{
			"name":         reset.Name,
			"stopTrading":  reset.StopTrading,
			"restartAfter": reset.RestartAfter,
		},
	}
	if err := c.do(ctx, "resetModel", mutationResetModel, vars, &data); err != nil {
		return "", err
	}
	return core.StrategyStatus(data.ResetModel), nil
}

// SendCommand sends a lifecycle command, returning the strategy's resulting
// status.
func (c *Client) SendCommand(ctx context.Context, key core.StrategyKey, cmd core.LifecycleCommand) (core.StrategyStatus, error) {
	if !cmd.IsValid() {
		return "", core.WrapError(core.ErrBadCommand, fmt.Errorf("unknown command %q", cmd))
	}
	var data struct {
		SendCommand string `json:"sendCommand"`
	}
	vars := map[string]any{"tk": typeAndKey(key), "cmd": string(cmd)}
	if err := c.do(ctx, "sendCommand", mutationSendCommand, vars, &data); err != nil {
		return "", err
	}
	return core.StrategyStatus(data.SendCommand), nil
}
