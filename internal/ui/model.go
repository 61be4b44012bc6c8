// Package ui is the terminal dashboard. It renders the strategy fleet as a
// sortable, selectable table and drives batch actions against the engine.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"stratdeck/internal/batch"
	"stratdeck/internal/board"
	"stratdeck/internal/config"
	"stratdeck/internal/core"
	"stratdeck/internal/engine"
	"stratdeck/internal/metrics"
	"stratdeck/internal/snapshot"
	"stratdeck/internal/table"
)

type mode int

const (
	modeTable mode = iota
	modeConfirm
	modeValue
	modeTarget
)

type actionKind int

const (
	actionResume actionKind = iota
	actionStopTrading
	actionRestart
	actionResetModels
	actionResetAndStop
	actionSetField
	actionCancelOp
	actionExport
)

type action struct {
	kind     actionKind
	label    string
	rowLevel bool // targets the cursor row, ignores the selection
	needsVal bool
}

var actions = map[actionKind]action{
	actionResume:       {actionResume, "resume trading", false, false},
	actionStopTrading:  {actionStopTrading, "stop trading", false, false},
	actionRestart:      {actionRestart, "restart", false, false},
	actionResetModels:  {actionResetModels, "reset models", false, false},
	actionResetAndStop: {actionResetAndStop, "reset models and stop", false, false},
	actionSetField:     {actionSetField, "set field", false, true},
	actionCancelOp:     {actionCancelOp, "cancel ongoing operation", true, false},
	actionExport:       {actionExport, "export snapshot", false, false},
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	store  *config.Store
	client *engine.Client
	runner *batch.Runner
	meters *metrics.Registry
	log    *zap.Logger

	tbl     *table.Model
	strats  []core.Strategy
	summary board.Summary
	details map[string]*stratDetail

	cursor   int // index into the visible window
	mode     mode
	pending  action
	fieldIdx int // selected entry of core.MutableFields in the value dialog
	input    textinput.Model
	spin     spinner.Model

	targets     []string
	targetIdx   int
	target      config.Target
	targetCh    <-chan config.Target
	refresh     time.Duration
	watchCh     <-chan []core.Strategy
	watchCancel context.CancelFunc

	width, height int
	statusMsg     string
	errorMsg      string
	fetchErr      error
}

// NewModel builds the dashboard over a config store.
func NewModel(store *config.Store, log *zap.Logger) *Model {
	tbl := table.New(board.Columns(), board.FieldID)
	cfg := store.Config()
	if allowed(cfg.Dashboard.PageSize) {
		tbl.SetPageSize(cfg.Dashboard.PageSize)
	}

	in := textinput.New()
	in.Placeholder = "value"
	in.CharLimit = 24
	in.Width = 24

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	names := make([]string, 0, len(cfg.Endpoints))
	for name := range cfg.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	meters := metrics.NewRegistry()
	m := &Model{
		store:    store,
		runner:   batch.NewRunner(log, meters),
		meters:   meters,
		log:      log,
		tbl:      tbl,
		details:  map[string]*stratDetail{},
		input:    in,
		spin:     sp,
		targets:  names,
		target:   store.Target(),
		targetCh: store.Subscribe(),
		refresh:  cfg.Dashboard.RefreshInterval,
	}
	m.client = m.buildClient(m.target)
	return m
}

func allowed(n int) bool {
	for _, s := range table.PageSizes {
		if s == n {
			return true
		}
	}
	return false
}

func (m *Model) buildClient(t config.Target) *engine.Client {
	return engine.New(engine.Config{
		URL:     t.Endpoint.URL,
		WSURL:   t.Endpoint.WS,
		Metrics: m.meters,
	}, m.log)
}

// Messages.

type tickMsg time.Time

type stratsMsg struct {
	strats []core.Strategy
	err    error
}

type watchMsg struct {
	strats []core.Strategy
	ok     bool
}

type batchDoneMsg struct {
	results map[string]batch.Outcome
}

type targetMsg config.Target

// stratDetail is the lazily fetched expansion payload for one row: model
// values and operation history, plus raw order records on demand.
type stratDetail struct {
	models []core.Model
	ops    []core.Operation
	orders []string
	err    error
}

type detailMsg struct {
	id     string
	models []core.Model
	ops    []core.Operation
	err    error
}

type ordersMsg struct {
	id     string
	orders []string
	err    error
}

// Commands.

func (m *Model) tickCmd() tea.Cmd {
	d := m.refresh
	if d <= 0 {
		d = 2 * time.Second
	}
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) fetchCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		strats, err := client.StratsExtended(ctx)
		return stratsMsg{strats: strats, err: err}
	}
}

type watchStartedMsg struct {
	ch     <-chan []core.Strategy
	cancel context.CancelFunc
}

func (m *Model) startWatchCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := client.Watch(ctx)
		if err != nil {
			cancel()
			return watchMsg{ok: false}
		}
		return watchStartedMsg{ch: ch, cancel: cancel}
	}
}

func (m *Model) receiveWatch() tea.Cmd {
	ch := m.watchCh
	return func() tea.Msg {
		strats, ok := <-ch
		return watchMsg{strats: strats, ok: ok}
	}
}

// watchTargetCmd re-arms the receive on the store subscription taken at
// construction; subscribing again per switch would leak channels.
func (m *Model) watchTargetCmd() tea.Cmd {
	ch := m.targetCh
	return func() tea.Msg {
		return targetMsg(<-ch)
	}
}

func (m *Model) detailCmd(id string, key core.StrategyKey) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		models, err := client.Models(ctx, key)
		if err != nil {
			return detailMsg{id: id, err: err}
		}
		ops, err := client.Operations(ctx, key)
		if err != nil {
			return detailMsg{id: id, err: err}
		}
		return detailMsg{id: id, models: models, ops: ops}
	}
}

func (m *Model) dumpOrderCmd(id, exchange, orderID string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		orders, err := client.DumpOrder(ctx, exchange, orderID)
		return ordersMsg{id: id, orders: orders, err: err}
	}
}

func (m *Model) runBatchCmd(action string, keys []core.StrategyKey, op batch.Op) tea.Cmd {
	runner := m.runner
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return batchDoneMsg{results: runner.Run(ctx, action, keys, op)}
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.startWatchCmd(), m.watchTargetCmd(), m.tickCmd(), m.spin.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case stratsMsg:
		if msg.err != nil {
			m.fetchErr = msg.err
			m.setStrats(nil)
			return m, nil
		}
		m.fetchErr = nil
		m.setStrats(msg.strats)
		return m, nil

	case watchStartedMsg:
		if m.watchCancel != nil {
			m.watchCancel()
		}
		m.watchCh = msg.ch
		m.watchCancel = msg.cancel
		return m, m.receiveWatch()

	case watchMsg:
		if !msg.ok {
			// Stream gone; periodic fetches keep the board alive.
			return m, nil
		}
		m.fetchErr = nil
		m.setStrats(msg.strats)
		return m, m.receiveWatch()

	case batchDoneMsg:
		m.refreshRows()
		failed := 0
		for _, o := range msg.results {
			if o.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			m.statusMsg = errorStyle.Render(
				fmt.Sprintf("%d of %d rows failed", failed, len(msg.results)))
		} else {
			m.statusMsg = successStyle.Render(
				fmt.Sprintf("%d rows done", len(msg.results)))
		}
		return m, m.fetchCmd()

	case detailMsg:
		m.details[msg.id] = &stratDetail{models: msg.models, ops: msg.ops, err: msg.err}
		return m, nil

	case ordersMsg:
		if d, ok := m.details[msg.id]; ok {
			if msg.err != nil {
				d.err = msg.err
			} else {
				d.orders = msg.orders
			}
		}
		return m, nil

	case targetMsg:
		m.applyTarget(config.Target(msg))
		return m, tea.Batch(m.fetchCmd(), m.startWatchCmd(), m.watchTargetCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// setStrats replaces the fleet snapshot, rebuilding rows and summary. The
// table prunes selections for rows that disappeared.
func (m *Model) setStrats(strats []core.Strategy) {
	m.strats = strats
	m.summary = board.Summarize(strats)
	m.refreshRows()
}

func (m *Model) refreshRows() {
	rows := board.MergeResponses(board.BuildRows(m.strats), m.runner.Results())
	m.tbl.SetRows(rows)
	m.clampCursor()
}

func (m *Model) applyTarget(t config.Target) {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	m.target = t
	m.client = m.buildClient(t)
	m.details = map[string]*stratDetail{}
	m.statusMsg = successStyle.Render("target: " + t.Name)
	for i, name := range m.targets {
		if name == t.Name {
			m.targetIdx = i
		}
	}
}

func (m *Model) visible() []table.Row { return m.tbl.VisibleRows() }

func (m *Model) clampCursor() {
	n := len(m.visible())
	if n == 0 {
		m.cursor = 0
		return
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) cursorRow() (table.Row, bool) {
	rows := m.visible()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return table.Row{}, false
	}
	return rows[m.cursor], true
}

func rowKey(r table.Row) core.StrategyKey {
	typ, _ := r.Field(board.FieldType).(string)
	id, _ := r.Field(board.FieldID).(string)
	return core.StrategyKey{Type: typ, ID: id}
}

func (m *Model) selectedKeys() []core.StrategyKey {
	rows := m.tbl.SelectedRows()
	keys := make([]core.StrategyKey, len(rows))
	for i, r := range rows {
		keys[i] = rowKey(r)
	}
	return keys
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	switch m.mode {
	case modeConfirm:
		return m.handleConfirmKey(msg)
	case modeValue:
		return m.handleValueKey(msg)
	case modeTarget:
		return m.handleTargetKey(msg)
	}
	return m.handleTableKey(msg)
}

func (m *Model) handleTableKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.errorMsg = ""

	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "up", "k":
		m.cursor--
		m.clampCursor()

	case "down", "j":
		m.cursor++
		m.clampCursor()

	case "left", "h":
		m.tbl.PrevPage()
		m.clampCursor()

	case "right", "l":
		m.tbl.NextPage()
		m.clampCursor()

	case "p":
		m.cyclePageSize()

	case "c":
		m.tbl.ToggleDensity()

	case " ":
		if r, ok := m.cursorRow(); ok {
			m.tbl.ToggleSelect(r.ID)
		}

	case "a":
		m.tbl.ToggleSelectAll(!m.tbl.AllChecked())

	case "enter", "e":
		if r, ok := m.cursorRow(); ok {
			m.tbl.ToggleExpand(r.ID)
			if m.tbl.IsExpanded(r.ID) && m.details[r.ID] == nil {
				return m, m.detailCmd(r.ID, rowKey(r))
			}
		}

	case "o":
		return m.dumpCursorOrder()

	case "1", "2", "3", "4", "5", "6", "7", "8":
		idx := int(msg.String()[0] - '1')
		cols := m.tbl.Columns()
		if idx < len(cols) {
			m.tbl.SortBy(cols[idx].Key)
			m.clampCursor()
		}

	case "R":
		return m.openAction(actionResume)
	case "S":
		return m.openAction(actionStopTrading)
	case "T":
		return m.openAction(actionRestart)
	case "M":
		return m.openAction(actionResetModels)
	case "N":
		return m.openAction(actionResetAndStop)
	case "F":
		return m.openAction(actionSetField)
	case "x":
		return m.openAction(actionCancelOp)
	case "E":
		return m.openAction(actionExport)

	case "g":
		if len(m.targets) > 1 {
			m.mode = modeTarget
		}
	}
	return m, nil
}

// dumpCursorOrder fetches the raw exchange records behind the cursor row's
// most recent order. The reference comes from the lastOrder blob of the
// newest transaction, so the row's detail must have been expanded first.
func (m *Model) dumpCursorOrder() (tea.Model, tea.Cmd) {
	r, ok := m.cursorRow()
	if !ok {
		return m, nil
	}
	d := m.details[r.ID]
	if d == nil {
		m.errorMsg = "expand the row first"
		return m, nil
	}
	exchange, orderID, ok := latestOrderRef(d.ops)
	if !ok {
		m.errorMsg = "no orders recorded"
		return m, nil
	}
	return m, m.dumpOrderCmd(r.ID, exchange, orderID)
}

// latestOrderRef scans the operation history newest-first for a transaction
// whose lastOrder blob names the exchange and order id.
func latestOrderRef(ops []core.Operation) (exchange, orderID string, ok bool) {
	for i := len(ops) - 1; i >= 0; i-- {
		txs := ops[i].Transactions
		for j := len(txs) - 1; j >= 0; j-- {
			if txs[j].LastOrder == "" {
				continue
			}
			var ref struct {
				Exchange string `json:"exchange"`
				OrderID  string `json:"order_id"`
			}
			if err := json.Unmarshal([]byte(txs[j].LastOrder), &ref); err != nil {
				continue
			}
			if ref.Exchange != "" && ref.OrderID != "" {
				return ref.Exchange, ref.OrderID, true
			}
		}
	}
	return "", "", false
}

// openAction enters the confirmation dialog for an action, or refuses when
// the batch runner is busy or nothing is targeted.
func (m *Model) openAction(kind actionKind) (tea.Model, tea.Cmd) {
	if m.runner.State() == batch.Submitting {
		m.errorMsg = "a batch is already running"
		return m, nil
	}
	act := actions[kind]
	if act.rowLevel {
		if _, ok := m.cursorRow(); !ok {
			m.errorMsg = "no row under cursor"
			return m, nil
		}
	} else if m.tbl.SelectedCount() == 0 {
		m.errorMsg = "nothing selected"
		return m, nil
	}
	m.pending = act
	if act.needsVal {
		m.input.SetValue("")
		m.input.Focus()
		m.mode = modeValue
		return m, textinput.Blink
	}
	m.mode = modeConfirm
	return m, nil
}

func (m *Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "n":
		m.mode = modeTable
	case "enter", "y":
		m.mode = modeTable
		return m, m.launch(0)
	}
	return m, nil
}

func (m *Model) handleValueKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeTable
		m.input.Blur()
		return m, nil
	case tea.KeyTab:
		m.fieldIdx = (m.fieldIdx + 1) % len(core.MutableFields())
		return m, nil
	case tea.KeyEnter:
		v, err := strconv.ParseFloat(m.input.Value(), 64)
		if err != nil {
			m.errorMsg = "not a number: " + m.input.Value()
			return m, nil
		}
		m.mode = modeTable
		m.input.Blur()
		return m, m.launch(v)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleTargetKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeTable
	case "up", "k":
		if m.targetIdx > 0 {
			m.targetIdx--
		}
	case "down", "j":
		if m.targetIdx < len(m.targets)-1 {
			m.targetIdx++
		}
	case "enter":
		m.mode = modeTable
		name := m.targets[m.targetIdx]
		if name == m.target.Name {
			return m, nil
		}
		if err := m.store.SetTarget(name); err != nil {
			m.errorMsg = err.Error()
		}
		// The store notifies every subscriber; the switch lands as a
		// targetMsg, also when another process changed it.
	}
	return m, nil
}

// launch starts the pending action as a batch run.
func (m *Model) launch(value float64) tea.Cmd {
	var keys []core.StrategyKey
	if m.pending.rowLevel {
		r, ok := m.cursorRow()
		if !ok {
			return nil
		}
		keys = []core.StrategyKey{rowKey(r)}
	} else {
		keys = m.selectedKeys()
	}
	if len(keys) == 0 {
		return nil
	}

	var op batch.Op
	switch m.pending.kind {
	case actionResume:
		op = board.SendCommandOp(m.client, core.CommandResumeTrading)
	case actionStopTrading:
		op = board.SendCommandOp(m.client, core.CommandStopTrading)
	case actionRestart:
		op = board.SendCommandOp(m.client, core.CommandRestart)
	case actionResetModels:
		op = board.ResetModelOp(m.client, core.ModelReset{RestartAfter: true})
	case actionResetAndStop:
		op = board.ResetModelOp(m.client, core.ModelReset{StopTrading: true})
	case actionSetField:
		field := core.MutableFields()[m.fieldIdx]
		op = board.SetFieldOp(m.client, core.FieldMutation{Field: field, Value: value})
	case actionCancelOp:
		op = board.CancelOperationOp(m.client)
	case actionExport:
		store, err := snapshot.NewStore(m.store.Config().Export)
		if err != nil {
			m.errorMsg = err.Error()
			return nil
		}
		op = board.ExportOp(snapshot.NewExporter(store, m.client, m.log))
	default:
		return nil
	}
	m.statusMsg = fmt.Sprintf("%s: %d rows", m.pending.label, len(keys))
	return m.runBatchCmd(m.pending.label, keys, op)
}

func (m *Model) cyclePageSize() {
	cur := m.tbl.PageSize()
	for i, s := range table.PageSizes {
		if s == cur {
			m.tbl.SetPageSize(table.PageSizes[(i+1)%len(table.PageSizes)])
			m.clampCursor()
			return
		}
	}
}

// Run starts the dashboard on the alternate screen.
func Run(store *config.Store, log *zap.Logger) error {
	p := tea.NewProgram(NewModel(store, log), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
