// Package table implements the sortable, selectable, paginated row model
// backing the dashboard views. It is a pure in-memory engine: every
// operation is a total function and rendering layers only read from it.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// Row is an entity with a unique identifier and an open set of named fields.
// Rows are immutable snapshots; the engine never mutates one in place.
type Row struct {
	ID     string
	Fields map[string]any
}

// Field returns the named field value, or nil when absent.
func (r Row) Field(key string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// RenderFunc maps a raw field value to its display form.
type RenderFunc func(v any) string

// Column describes one projected field. Render is optional; columns without
// one fall back to identity formatting. The same field key may appear in
// several columns with different renderers.
type Column struct {
	Key    string
	Label  string
	Width  int
	Render RenderFunc
}

// Cell returns the display value of this column for the given row.
func (c Column) Cell(r Row) string {
	v := r.Field(c.Key)
	if c.Render != nil {
		return c.Render(v)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Direction is the active sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// String returns the display form of a Direction.
func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// PageSizes is the fixed set of allowed page sizes.
var PageSizes = []int{10, 25, 50, 100}

func allowedPageSize(n int) bool {
	for _, s := range PageSizes {
		if s == n {
			return true
		}
	}
	return false
}

// Model holds the full row set plus the display state derived over it: sort
// state, selection set, pagination window, per-row expansion and density.
type Model struct {
	columns []Column

	rows   []Row
	byID   map[string]int
	sorted []int // permutation of rows under the active sort

	sortKey string
	dir     Direction

	selected map[string]struct{}
	expanded map[string]struct{}
	compact  bool

	page     int
	pageSize int
}

// New creates a model over the given columns, initially ascending on the
// default sort key with an empty row set.
func New(columns []Column, defaultSort string) *Model {
	return &Model{
		columns:  columns,
		byID:     map[string]int{},
		sortKey:  defaultSort,
		dir:      Ascending,
		selected: map[string]struct{}{},
		expanded: map[string]struct{}{},
		pageSize: PageSizes[0],
	}
}

// Columns returns the column definitions.
func (m *Model) Columns() []Column { return m.columns }

// SetRows replaces the full row set. Selection and expansion entries whose
// ids no longer exist are dropped, and the page index is clamped so the
// window never points past the end.
func (m *Model) SetRows(rows []Row) {
	m.rows = rows
	m.byID = make(map[string]int, len(rows))
	for i, r := range rows {
		m.byID[r.ID] = i
	}
	for id := range m.selected {
		if _, ok := m.byID[id]; !ok {
			delete(m.selected, id)
		}
	}
	for id := range m.expanded {
		if _, ok := m.byID[id]; !ok {
			delete(m.expanded, id)
		}
	}
	m.resort()
	m.clampPage()
}

// Len returns the total row count.
func (m *Model) Len() int { return len(m.rows) }

// --- sorting ---

// SortBy sets the active sort column. Clicking the already-active ascending
// column flips to descending; any other prior state resets to ascending.
func (m *Model) SortBy(key string) {
	if key == m.sortKey && m.dir == Ascending {
		m.dir = Descending
	} else {
		m.sortKey = key
		m.dir = Ascending
	}
	m.resort()
}

// SortState returns the active sort column and direction.
func (m *Model) SortState() (string, Direction) {
	return m.sortKey, m.dir
}

// compareValues orders two field values natively: numerically for numbers,
// lexicographically for strings. Nil sorts first. Mixed or unknown types
// fall back to their printed form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// resort rebuilds the sorted permutation. The comparator is the ascending
// field comparison with an original-index tie-break, so equal values keep
// their relative order across re-sorts. Descending negates the whole
// comparator, tie-break included: the descending order is the exact reverse
// of the ascending one.
func (m *Model) resort() {
	m.sorted = make([]int, len(m.rows))
	for i := range m.sorted {
		m.sorted[i] = i
	}
	cmp := func(i, j int) int {
		c := compareValues(m.rows[i].Field(m.sortKey), m.rows[j].Field(m.sortKey))
		if c == 0 {
			switch {
			case i < j:
				c = -1
			case i > j:
				c = 1
			}
		}
		if m.dir == Descending {
			return -c
		}
		return c
	}
	sort.Slice(m.sorted, func(a, b int) bool {
		return cmp(m.sorted[a], m.sorted[b]) < 0
	})
}

// SortedRows returns every row under the active sort, before pagination.
func (m *Model) SortedRows() []Row {
	out := make([]Row, len(m.sorted))
	for i, idx := range m.sorted {
		out[i] = m.rows[idx]
	}
	return out
}

// --- selection ---

// ToggleSelect flips the membership of one row id: absent ids are added,
// present ones removed. Ids that match no current row are inert.
func (m *Model) ToggleSelect(id string) {
	if _, ok := m.byID[id]; !ok {
		return
	}
	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
	} else {
		m.selected[id] = struct{}{}
	}
}

// ToggleSelectAll selects every row of the full sorted set, or clears the
// selection entirely.
func (m *Model) ToggleSelectAll(on bool) {
	if !on {
		m.selected = map[string]struct{}{}
		return
	}
	m.selected = make(map[string]struct{}, len(m.rows))
	for _, r := range m.rows {
		m.selected[r.ID] = struct{}{}
	}
}

// IsSelected reports membership of one row id.
func (m *Model) IsSelected(id string) bool {
	_, ok := m.selected[id]
	return ok
}

// SelectedCount returns the selection size.
func (m *Model) SelectedCount() int { return len(m.selected) }

// Indeterminate reports the header checkbox "some but not all" state.
func (m *Model) Indeterminate() bool {
	return len(m.selected) > 0 && len(m.selected) < len(m.rows)
}

// AllChecked reports the header checkbox "everything selected" state.
func (m *Model) AllChecked() bool {
	return len(m.rows) > 0 && len(m.selected) == len(m.rows)
}

// SelectedRows returns the selected rows in the active sort order.
func (m *Model) SelectedRows() []Row {
	out := make([]Row, 0, len(m.selected))
	for _, idx := range m.sorted {
		r := m.rows[idx]
		if _, ok := m.selected[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// --- pagination ---

// Page returns the current zero-based page index.
func (m *Model) Page() int { return m.page }

// PageSize returns the current page size.
func (m *Model) PageSize() int { return m.pageSize }

// PageCount returns the number of pages under the current size. An empty
// row set still has one (empty) page.
func (m *Model) PageCount() int {
	if len(m.rows) == 0 {
		return 1
	}
	return (len(m.rows) + m.pageSize - 1) / m.pageSize
}

// SetPage moves the window, clamped to the valid page range.
func (m *Model) SetPage(p int) {
	m.page = p
	m.clampPage()
}

// NextPage advances one page if there is one.
func (m *Model) NextPage() { m.SetPage(m.page + 1) }

// PrevPage goes back one page if there is one.
func (m *Model) PrevPage() { m.SetPage(m.page - 1) }

// SetPageSize switches to another allowed page size and resets the window
// to the first page. Sizes outside the allowed set are ignored.
func (m *Model) SetPageSize(size int) {
	if !allowedPageSize(size) {
		return
	}
	m.pageSize = size
	m.page = 0
}

func (m *Model) clampPage() {
	if m.page < 0 {
		m.page = 0
	}
	if max := m.PageCount() - 1; m.page > max {
		m.page = max
	}
}

// VisibleRows returns the window [page*size, page*size+size) of the full
// sorted set. Pagination always operates on the complete sorted rows, never
// a previously sliced subset.
func (m *Model) VisibleRows() []Row {
	all := m.SortedRows()
	lo := m.page * m.pageSize
	if lo >= len(all) {
		return nil
	}
	hi := lo + m.pageSize
	if hi > len(all) {
		hi = len(all)
	}
	return all[lo:hi]
}

// --- expansion and density ---

// ToggleExpand flips the detail region of one row. Expansion is per-row and
// independent: no accordion behavior.
func (m *Model) ToggleExpand(id string) {
	if _, ok := m.byID[id]; !ok {
		return
	}
	if _, ok := m.expanded[id]; ok {
		delete(m.expanded, id)
	} else {
		m.expanded[id] = struct{}{}
	}
}

// IsExpanded reports whether a row's detail region is shown.
func (m *Model) IsExpanded(id string) bool {
	_, ok := m.expanded[id]
	return ok
}

// ToggleDensity flips the display-only compact row mode. It has no effect
// on data or pagination.
func (m *Model) ToggleDensity() { m.compact = !m.compact }

// Compact reports whether compact density is active.
func (m *Model) Compact() bool { return m.compact }
