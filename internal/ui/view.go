package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"stratdeck/internal/batch"
	"stratdeck/internal/board"
	"stratdeck/internal/core"
	"stratdeck/internal/table"
)

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderTable(),
		m.renderFooter(),
		m.renderStatusBar(),
		helpStyle.Render(m.helpLine()),
	}

	view := lipgloss.JoinVertical(lipgloss.Left, sections...)

	switch m.mode {
	case modeConfirm:
		return view + "\n" + m.renderConfirm()
	case modeValue:
		return view + "\n" + m.renderValueInput()
	case modeTarget:
		return view + "\n" + m.renderTargetPicker()
	}
	return view
}

func (m *Model) renderHeader() string {
	title := headerStyle.Render("stratdeck")
	if n := m.tbl.SelectedCount(); n > 0 {
		title = headerStyle.Render(fmt.Sprintf("%d selected", n))
	}
	target := targetStyle.Render(m.target.Name + " " + m.client.URL())

	s := m.summary
	summary := fmt.Sprintf(" %d strategies  %d running  %d halted  %d stopped",
		s.Total, s.Running, s.NotTrading, s.Stopped)
	if s.Unparseable > 0 {
		summary += parseErrStyle.Render(fmt.Sprintf("  %d unparseable", s.Unparseable))
	}
	summary += fmt.Sprintf("  pnl %.2f (mean %.2f)", s.TotalPnl, s.MeanPnl)

	busy := ""
	if m.runner.State() == batch.Submitting {
		busy = " " + m.spin.View() + "submitting..."
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, target, summary, busy)
}

func (m *Model) colWidth(c table.Column) int {
	w := c.Width
	if w <= 0 {
		w = 12
	}
	if m.tbl.Compact() && w > 10 {
		w = 10
	}
	return w
}

func (m *Model) renderTable() string {
	var b strings.Builder

	sortKey, dir := m.tbl.SortState()

	// Select-all checkbox plus column headers.
	mark := "[ ]"
	if m.tbl.AllChecked() {
		mark = "[x]"
	} else if m.tbl.Indeterminate() {
		mark = "[-]"
	}
	b.WriteString(mark + " ")
	for i, c := range m.tbl.Columns() {
		label := fmt.Sprintf("%d:%s", i+1, c.Label)
		style := columnStyle
		if c.Key == sortKey {
			style = sortedColumnStyle
			if dir == table.Descending {
				label += " v"
			} else {
				label += " ^"
			}
		}
		b.WriteString(style.Render(pad(label, m.colWidth(c))) + " ")
	}
	b.WriteString("\n")

	rows := m.tbl.VisibleRows()
	if len(rows) == 0 {
		reason := "no strategies"
		if m.fetchErr != nil {
			reason = "engine unreachable"
		}
		b.WriteString(disabledStyle.Render("  (" + reason + ")"))
		return b.String()
	}

	for i, r := range rows {
		line := m.renderRow(r)
		if i == m.cursor {
			line = cursorRowStyle.Render(line)
		}
		b.WriteString(line + "\n")
		if m.tbl.IsExpanded(r.ID) && !m.tbl.Compact() {
			b.WriteString(m.renderDetail(r) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderRow(r table.Row) string {
	var b strings.Builder
	if m.tbl.IsSelected(r.ID) {
		b.WriteString(selectedMarkStyle.Render("[x]") + " ")
	} else {
		b.WriteString("[ ] ")
	}
	for _, c := range m.tbl.Columns() {
		cell := c.Cell(r)
		if c.Key == board.FieldStatus {
			cell = statusStyle(cell).Render(pad(cell, m.colWidth(c)))
		} else if c.Key == board.FieldPnl && r.Field(board.FieldParse) != nil {
			cell = parseErrStyle.Render(pad(board.ParseMarker, m.colWidth(c)))
		} else {
			cell = pad(cell, m.colWidth(c))
		}
		b.WriteString(cell + " ")
	}
	return b.String()
}

func (m *Model) renderDetail(r table.Row) string {
	var parts []string
	for _, c := range m.tbl.Columns() {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Label, c.Cell(r)))
	}
	if r.Field(board.FieldParse) != nil {
		parts = append(parts, parseErrStyle.Render("state did not decode"))
	}
	lines := []string{strings.Join(parts, "  ")}

	switch d := m.details[r.ID]; {
	case d == nil:
		lines = append(lines, "loading detail...")
	case d.err != nil:
		lines = append(lines, errorStyle.Render("detail: "+d.err.Error()))
	default:
		for _, mo := range d.models {
			lines = append(lines, "model "+mo.ID+": "+renderModelJSON(mo.RawJSON))
		}
		n := len(d.ops)
		show := d.ops
		if n > 3 {
			show = d.ops[n-3:]
		}
		for _, op := range show {
			lines = append(lines, fmt.Sprintf("op %s %s (%d tx)", op.Kind, op.ID, len(op.Transactions)))
		}
		for _, raw := range d.orders {
			lines = append(lines, "order: "+raw)
		}
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}

// renderModelJSON decodes one model payload for display. Payloads that do
// not decode keep their raw text behind the parse marker instead of
// breaking the detail render.
func renderModelJSON(raw string) string {
	pj := core.ParseJSON(raw)
	switch pj.Outcome {
	case core.ParseOK:
		return pj.Pretty()
	case core.ParseInvalid:
		return parseErrStyle.Render(board.ParseMarker) + " " + pj.Raw
	}
	return "(empty)"
}

func (m *Model) renderFooter() string {
	return fmt.Sprintf("  page %d/%d  size %d  selected %d",
		m.tbl.Page()+1, max(m.tbl.PageCount(), 1), m.tbl.PageSize(), m.tbl.SelectedCount())
}

func (m *Model) renderStatusBar() string {
	msg := m.statusMsg
	if m.errorMsg != "" {
		msg = errorStyle.Render(m.errorMsg)
	}
	if m.fetchErr != nil {
		msg = errorStyle.Render(m.fetchErr.Error())
	}
	return statusBarStyle.Width(max(m.width, 20)).Render(msg)
}

func (m *Model) helpLine() string {
	return "space:select a:all enter:expand o:orders 1-8:sort h/l:page p:size c:density " +
		"R:resume S:stop T:restart M:reset N:reset+stop F:set-field x:cancel-op E:export g:target q:quit"
}

func (m *Model) renderConfirm() string {
	n := m.tbl.SelectedCount()
	scope := fmt.Sprintf("%d selected strategies", n)
	if m.pending.rowLevel {
		if r, ok := m.cursorRow(); ok {
			scope = r.ID
		}
	}
	return dialogStyle.Render(fmt.Sprintf("%s on %s?\n\n[enter/y] run   [esc/n] cancel",
		m.pending.label, scope))
}

func (m *Model) renderValueInput() string {
	fields := core.MutableFields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		if i == m.fieldIdx {
			parts[i] = sortedColumnStyle.Render("[" + string(f) + "]")
		} else {
			parts[i] = string(f)
		}
	}
	return dialogStyle.Render(fmt.Sprintf("%s (%d selected)\n\n%s\n%s\n\n[tab] field   [enter] run   [esc] cancel",
		m.pending.label, m.tbl.SelectedCount(), strings.Join(parts, "  "), m.input.View()))
}

func (m *Model) renderTargetPicker() string {
	var b strings.Builder
	b.WriteString("switch target\n\n")
	for i, name := range m.targets {
		cursor := "  "
		if i == m.targetIdx {
			cursor = "> "
		}
		current := ""
		if name == m.target.Name {
			current = " (current)"
		}
		b.WriteString(cursor + name + current + "\n")
	}
	b.WriteString("\n[enter] switch   [esc] cancel")
	return dialogStyle.Render(b.String())
}

// pad fits s into a w-wide cell without splitting a rune or miscounting
// wide characters.
func pad(s string, w int) string {
	return runewidth.FillRight(runewidth.Truncate(s, w, ""), w)
}
