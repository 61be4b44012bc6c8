package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stratdeck/internal/config"
	"stratdeck/internal/core"
	"stratdeck/internal/metrics"
)

// Server exposes the simulated engine over HTTP: a query/mutation endpoint
// at /graphql, a state stream at /ws and optionally Prometheus metrics.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	fleet      *Fleet
	hub        *Hub
	log        *zap.Logger
	metrics    *metrics.Registry
	tick       time.Duration
}

// NewServer wires the fleet, hub and routes together.
func NewServer(cfg config.SimConfig, fleet *Fleet, log *zap.Logger) *Server {
	reg := metrics.NewRegistry()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.GinLogging(log))
	router.Use(metrics.GinMiddleware(reg))

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:  router,
		fleet:   fleet,
		hub:     NewHub(log, reg),
		log:     log,
		metrics: reg,
		tick:    cfg.TickInterval,
	}

	router.POST("/graphql", s.handleGraphQL)
	router.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })
	router.GET("/healthz", s.handleHealth)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the HTTP handler, for tests that mount the server on
// httptest instead of a real listener.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the hub and the tick loop, then serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.tickLoop(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("sim engine listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("sim server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info("shutting down sim engine")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fleet.Tick()
			s.publish()
		}
	}
}

// publish broadcasts the current fleet snapshot and refreshes the per-status
// gauges.
func (s *Server) publish() {
	snap := s.fleet.Snapshot()
	frame := make([]map[string]any, len(snap))
	for i, st := range snap {
		frame[i] = map[string]any{
			"type":   st.Key.Type,
			"id":     st.Key.ID,
			"state":  st.RawState,
			"status": string(st.Status),
		}
	}
	if msg, err := json.Marshal(frame); err == nil {
		s.hub.Broadcast(msg)
	}
	for status, n := range s.fleet.StatusCounts() {
		s.metrics.SetFleetSize(string(status), n)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "strategies": len(s.fleet.Keys())})
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// handleGraphQL routes a request to the matching resolver. The document is
// not parsed as GraphQL; the field name in the query text decides the
// operation, which is all the dashboard's fixed documents need.
func (s *Server) handleGraphQL(c *gin.Context) {
	var req gqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		gqlError(c, "malformed request: "+err.Error())
		return
	}

	switch {
	case strings.Contains(req.Query, "setStateField"):
		s.resolveSetStateField(c, req)
	case strings.Contains(req.Query, "cancelOperation"):
		s.resolveCancelOperation(c, req)
	case strings.Contains(req.Query, "resetModel"):
		s.resolveResetModel(c, req)
	case strings.Contains(req.Query, "sendCommand"):
		s.resolveSendCommand(c, req)
	case strings.Contains(req.Query, "dumpOrder"):
		s.resolveDumpOrder(c, req)
	case strings.Contains(req.Query, "models"):
		s.resolveModels(c, req)
	case strings.Contains(req.Query, "operations"):
		s.resolveOperations(c, req)
	case strings.Contains(req.Query, "strats"):
		s.resolveStrats(c, req)
	default:
		gqlError(c, "unknown operation")
	}
}

func gqlData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func gqlError(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"errors": []gin.H{{"message": msg}}})
}

// gqlFromErr maps resolver errors onto the wire phrases clients key on.
func gqlFromErr(c *gin.Context, err error) {
	if errors.Is(err, core.ErrStrategyNotFound) {
		gqlError(c, "Strategy not found")
		return
	}
	gqlError(c, err.Error())
}

// keyFromVars extracts the (type, id) input object from variables.
func keyFromVars(vars map[string]any) (core.StrategyKey, error) {
	tk, ok := vars["tk"].(map[string]any)
	if !ok {
		return core.StrategyKey{}, fmt.Errorf("missing tk variable")
	}
	typ, _ := tk["type"].(string)
	id, _ := tk["id"].(string)
	key := core.StrategyKey{Type: typ, ID: id}
	if key.IsZero() {
		return core.StrategyKey{}, fmt.Errorf("incomplete tk variable")
	}
	return key, nil
}

func (s *Server) resolveStrats(c *gin.Context, req gqlRequest) {
	extended := strings.Contains(req.Query, "state")
	snap := s.fleet.Snapshot()
	out := make([]map[string]any, len(snap))
	for i, st := range snap {
		row := map[string]any{"type": st.Key.Type, "id": st.Key.ID}
		if extended {
			row["state"] = st.RawState
			row["status"] = string(st.Status)
		}
		out[i] = row
	}
	gqlData(c, gin.H{"strats": out})
}

func (s *Server) resolveModels(c *gin.Context, req gqlRequest) {
	key, err := keyFromVars(req.Variables)
	if err != nil {
		gqlError(c, err.Error())
		return
	}
	models, err := s.fleet.Models(key)
	if err != nil {
		gqlFromErr(c, err)
		return
	}
	out := make([]map[string]any, len(models))
	for i, m := range models {
		out[i] = map[string]any{"id": m.ID, "json": m.RawJSON}
	}
	gqlData(c, gin.H{"models": out})
}

func (s *Server) resolveOperations(c *gin.Context, req gqlRequest) {
	key, err := keyFromVars(req.Variables)
	if err != nil {
		gqlError(c, err.Error())
		return
	}
	ops, err := s.fleet.Operations(key)
	if err != nil {
		gqlFromErr(c, err)
		return
	}
	gqlData(c, gin.H{"operations": ops})
}

func (s *Server) resolveDumpOrder(c *gin.Context, req gqlRequest) {
	exchange, _ := req.Variables["exchange"].(string)
	orderID, _ := req.Variables["orderId"].(string)
	if exchange == "" || orderID == "" {
		gqlError(c, "dumpOrder requires exchange and orderId")
		return
	}
	records := s.fleet.DumpOrder(exchange, orderID)
	if records == nil {
		records = []string{}
	}
	gqlData(c, gin.H{"dumpOrder": records})
}

func (s *Server) resolveSetStateField(c *gin.Context, req gqlRequest) {
	key, err := keyFromVars(req.Variables)
	if err != nil {
		gqlError(c, err.Error())
		return
	}
	fmVars, ok := req.Variables["fm"].(map[string]any)
	if !ok {
		gqlError(c, "missing fm variable")
		return
	}
	field, _ := fmVars["field"].(string)
	value, _ := fmVars["value"].(float64)
	done, err := s.fleet.SetField(key, core.FieldMutation{
		Field: core.MutableField(field),
		Value: value,
	})
	if err != nil {
		gqlFromErr(c, err)
		return
	}
	gqlData(c, gin.H{"setStateField": done})
}

func (s *Server) resolveCancelOperation(c *gin.Context, req gqlRequest) {
	key, err := keyFromVars(req.Variables)
	if err != nil {
		gqlError(c, err.Error())
		return
	}
	done, err := s.fleet.CancelOperation(key)
	if err != nil {
		gqlFromErr(c, err)
		return
	}
	gqlData(c, gin.H{"cancelOperation": done})
}

func (s *Server) resolveResetModel(c *gin.Context, req gqlRequest) {
	key, err := keyFromVars(req.Variables)
	if err != nil {
		gqlError(c, err.Error())
		return
	}
	resetVars, ok := req.Variables["reset"].(map[string]any)
	if !ok {
		gqlError(c, "missing reset variable")
		return
	}
	name, _ := resetVars["name"].(string)
	stopTrading, _ := resetVars["stopTrading"].(bool)
	restartAfter, _ := resetVars["restartAfter"].(bool)
	status, err := s.fleet.ResetModels(key, core.ModelReset{
		Name:         name,
		StopTrading:  stopTrading,
		RestartAfter: restartAfter,
	})
	if err != nil {
		gqlFromErr(c, err)
		return
	}
	gqlData(c, gin.H{"resetModel": string(status)})
}

func (s *Server) resolveSendCommand(c *gin.Context, req gqlRequest) {
	key, err := keyFromVars(req.Variables)
	if err != nil {
		gqlError(c, err.Error())
		return
	}
	cmd, _ := req.Variables["cmd"].(string)
	status, err := s.fleet.Command(key, core.LifecycleCommand(cmd))
	if err != nil {
		gqlFromErr(c, err)
		return
	}
	gqlData(c, gin.H{"sendCommand": string(status)})
}
