// Package exec drives the SQL front-end's AST against the storage
// core: catalog lookups, B+Tree traversal, row encode/decode, and the
// single scan-filter-sort-aggregate visitor that every SELECT uses.
// UPDATE and DELETE run their own scan loops.
package exec

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/flint-db/flintdb/internal/dberr"
	"github.com/flint-db/flintdb/internal/sql"
	"github.com/flint-db/flintdb/internal/storage/catalog"
	"github.com/flint-db/flintdb/internal/storage/pager"
)

// Engine owns one open database file and executes statements against
// it one at a time.
type Engine struct {
	pg  *pager.Pager
	log *logrus.Entry
}

// Open opens (or creates) the database file at path and prepares it
// for statement execution.
func Open(path string, cfg pager.Config) (*Engine, error) {
	pg, err := pager.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{pg: pg, log: logger.WithField("component", "exec")}, nil
}

func (e *Engine) Close() error { return e.pg.Close() }

// Result is the outcome of one executed statement.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Run parses and executes a single SQL statement inside its own
// transaction: CREATE/DROP/INSERT/UPDATE/DELETE commit on success and
// abort on any error; SELECT never dirties a page and runs without a
// transaction.
func (e *Engine) Run(src string) (Result, error) {
	stmt, err := sql.Parse(src)
	if err != nil {
		return Result{}, err
	}

	if _, ok := stmt.(sql.Select); ok {
		return e.execSelect(stmt.(sql.Select))
	}

	if err := e.pg.BeginTx(); err != nil {
		return Result{}, err
	}
	res, err := e.dispatch(stmt)
	if err != nil {
		if abortErr := e.pg.Abort(); abortErr != nil {
			e.log.WithError(abortErr).Error("abort failed after statement error")
		}
		return Result{}, err
	}
	if err := e.pg.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) dispatch(stmt sql.Statement) (Result, error) {
	switch s := stmt.(type) {
	case sql.CreateTable:
		return e.execCreateTable(s)
	case sql.DropTable:
		return e.execDropTable(s)
	case sql.Insert:
		return e.execInsert(s)
	case sql.Update:
		return e.execUpdate(s)
	case sql.Delete:
		return e.execDelete(s)
	default:
		return Result{}, dberr.SchemaError("unsupported statement")
	}
}

func (e *Engine) openCatalog() (*catalog.Catalog, error) {
	root := e.pg.Header().CatalogRoot
	if root == pager.InvalidPageID {
		cat, err := catalog.Create(e.pg)
		if err != nil {
			return nil, err
		}
		e.pg.PersistHeader(cat.Root(), e.pg.Header().AuxRoot)
		return cat, nil
	}
	return catalog.Open(e.pg, root), nil
}

func (e *Engine) execCreateTable(s sql.CreateTable) (Result, error) {
	cat, err := e.openCatalog()
	if err != nil {
		return Result{}, err
	}

	primary := -1
	cols := make([]catalog.Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = catalog.Column{Name: c.Name, Type: c.Type, Primary: c.Primary}
		if c.Primary {
			primary = i
		}
	}
	if len(cols) > pager.MaxColumns {
		return Result{}, dberr.SchemaError("too many columns")
	}

	tree, err := pager.CreateBTree(e.pg)
	if err != nil {
		return Result{}, err
	}
	schema := catalog.Schema{
		Name:          s.Table,
		Columns:       cols,
		PrimaryColumn: primary,
		DataRoot:      tree.Root(),
	}
	if err := cat.CreateTable(schema); err != nil {
		return Result{}, err
	}
	e.pg.PersistHeader(cat.Root(), e.pg.Header().AuxRoot)
	return Result{}, nil
}

func (e *Engine) execDropTable(s sql.DropTable) (Result, error) {
	cat, err := e.openCatalog()
	if err != nil {
		return Result{}, err
	}
	if _, ok, err := cat.LookupTable(s.Table); err != nil {
		return Result{}, err
	} else if !ok {
		return Result{}, dberr.NotFound("table not found: " + s.Table)
	}
	if err := cat.DropTable(s.Table); err != nil {
		return Result{}, err
	}
	e.pg.PersistHeader(cat.Root(), e.pg.Header().AuxRoot)
	return Result{}, nil
}

func (e *Engine) execInsert(s sql.Insert) (Result, error) {
	cat, err := e.openCatalog()
	if err != nil {
		return Result{}, err
	}
	schema, ok, err := cat.LookupTable(s.Table)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, dberr.NotFound("table not found: " + s.Table)
	}
	if len(s.Values) != len(schema.Columns) {
		return Result{}, dberr.ConstraintError("value count does not match column count")
	}

	row := make([]pager.Value, len(s.Values))
	var pk int32
	havePK := false
	for i, lit := range s.Values {
		v, err := literalToValue(lit, schema.Columns[i].Type)
		if err != nil {
			return Result{}, err
		}
		row[i] = v
		if schema.PrimaryColumn == i && v.Tag != pager.TagNull {
			if v.Tag != pager.TagInt32 {
				return Result{}, dberr.ConstraintError("primary key column must be INTEGER")
			}
			pk = v.I32
			havePK = true
		}
	}
	if !havePK {
		schema.AutoIncrement++
		pk = schema.AutoIncrement
		if schema.PrimaryColumn >= 0 {
			row[schema.PrimaryColumn] = pager.IntValue(pk)
		}
	}

	tree := pager.OpenBTree(e.pg, schema.DataRoot)
	if _, found, err := tree.Search(pk); err != nil {
		return Result{}, err
	} else if found {
		return Result{}, dberr.ConstraintError("duplicate primary key")
	}

	rowPage, err := e.pg.AllocatePage()
	if err != nil {
		return Result{}, err
	}
	if err := e.pg.MarkDirty(rowPage.ID); err != nil {
		e.pg.UnpinPage(rowPage.ID)
		return Result{}, err
	}
	if err := pager.WriteRowPage(rowPage, row); err != nil {
		e.pg.UnpinPage(rowPage.ID)
		return Result{}, err
	}
	e.pg.UnpinPage(rowPage.ID)

	if err := tree.Insert(pk, uint32(rowPage.ID)); err != nil {
		return Result{}, err
	}

	schema.DataRoot = tree.Root()
	schema.RowCount++
	if err := cat.PersistSchema(schema); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: 1}, nil
}

func (e *Engine) execUpdate(s sql.Update) (Result, error) {
	cat, err := e.openCatalog()
	if err != nil {
		return Result{}, err
	}
	schema, ok, err := cat.LookupTable(s.Table)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, dberr.NotFound("table not found: " + s.Table)
	}
	setIdx := columnIndex(schema, s.Column)
	if setIdx < 0 {
		return Result{}, dberr.SchemaError("unknown column: " + s.Column)
	}
	if setIdx == schema.PrimaryColumn {
		return Result{}, dberr.ConstraintError("primary key column cannot be updated: " + s.Column)
	}
	newVal, err := literalToValue(s.Value, schema.Columns[setIdx].Type)
	if err != nil {
		return Result{}, err
	}

	tree := pager.OpenBTree(e.pg, schema.DataRoot)
	var affected int64
	err = tree.ScanRange(minKey, maxKey, func(key int32, value uint32) error {
		page, err := e.pg.GetPage(pager.PageID(value))
		if err != nil {
			return err
		}
		row, err := pager.ReadRowPage(page)
		e.pg.UnpinPage(pager.PageID(value))
		if err != nil {
			return err
		}
		if s.Where != nil && !matchWhere(schema, row, s.Where) {
			return nil
		}
		row[setIdx] = newVal

		page, err = e.pg.GetPage(pager.PageID(value))
		if err != nil {
			return err
		}
		if err := e.pg.MarkDirty(pager.PageID(value)); err != nil {
			e.pg.UnpinPage(pager.PageID(value))
			return err
		}
		if err := pager.WriteRowPage(page, row); err != nil {
			e.pg.UnpinPage(pager.PageID(value))
			return err
		}
		e.pg.UnpinPage(pager.PageID(value))
		affected++
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: affected}, nil
}

func (e *Engine) execDelete(s sql.Delete) (Result, error) {
	cat, err := e.openCatalog()
	if err != nil {
		return Result{}, err
	}
	schema, ok, err := cat.LookupTable(s.Table)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, dberr.NotFound("table not found: " + s.Table)
	}

	tree := pager.OpenBTree(e.pg, schema.DataRoot)

	// Two-pass: the cursor is unstable under mutation, so the first pass
	// only collects keys to remove.
	var toDelete []int32
	err = tree.ScanRange(minKey, maxKey, func(key int32, value uint32) error {
		page, err := e.pg.GetPage(pager.PageID(value))
		if err != nil {
			return err
		}
		row, err := pager.ReadRowPage(page)
		e.pg.UnpinPage(pager.PageID(value))
		if err != nil {
			return err
		}
		if s.Where == nil || matchWhere(schema, row, s.Where) {
			toDelete = append(toDelete, key)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, key := range toDelete {
		if err := tree.Delete(key); err != nil {
			return Result{}, err
		}
	}

	schema.DataRoot = tree.Root()
	schema.RowCount -= int64(len(toDelete))
	if err := cat.PersistSchema(schema); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: int64(len(toDelete))}, nil
}

func (e *Engine) execSelect(s sql.Select) (Result, error) {
	root := e.pg.Header().CatalogRoot
	if root == pager.InvalidPageID {
		return Result{}, dberr.NotFound("table not found: " + s.Table)
	}
	cat := catalog.Open(e.pg, root)
	schema, ok, err := cat.LookupTable(s.Table)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, dberr.NotFound("table not found: " + s.Table)
	}

	tree := pager.OpenBTree(e.pg, schema.DataRoot)
	visitor := newAggVisitor(schema, s)

	err = tree.ScanRange(minKey, maxKey, func(key int32, value uint32) error {
		page, err := e.pg.GetPage(pager.PageID(value))
		if err != nil {
			return err
		}
		row, err := pager.ReadRowPage(page)
		e.pg.UnpinPage(pager.PageID(value))
		if err != nil {
			return err
		}
		if s.Where != nil && !matchWhere(schema, row, s.Where) {
			return nil
		}
		visitor.visit(row)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return visitor.result(), nil
}

const (
	minKey int32 = -2147483648
	maxKey int32 = 2147483647
)

func columnIndex(schema catalog.Schema, name string) int {
	for i, c := range schema.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func literalToValue(lit sql.Literal, colType string) (pager.Value, error) {
	switch lit.Kind {
	case sql.LitNull:
		return pager.NullValue(), nil
	case sql.LitInt:
		if colType != "INTEGER" {
			return pager.Value{}, dberr.ConstraintError("type mismatch: expected " + colType)
		}
		return pager.IntValue(lit.Int), nil
	case sql.LitString:
		switch colType {
		case "TEXT":
			return pager.TextValue(lit.Str), nil
		case "BLOB":
			return pager.BlobValue([]byte(lit.Str)), nil
		default:
			return pager.Value{}, dberr.ConstraintError("type mismatch: expected " + colType)
		}
	default:
		return pager.Value{}, dberr.SchemaError("unknown literal kind")
	}
}

func matchWhere(schema catalog.Schema, row []pager.Value, w *sql.Where) bool {
	idx := columnIndex(schema, w.Column)
	if idx < 0 || idx >= len(row) {
		return false
	}
	cmp, ok := compareValue(row[idx], w.Value)
	if !ok {
		return false
	}
	switch w.Op {
	case sql.OpEq:
		return cmp == 0
	case sql.OpNe:
		return cmp != 0
	case sql.OpLt:
		return cmp < 0
	case sql.OpLe:
		return cmp <= 0
	case sql.OpGt:
		return cmp > 0
	case sql.OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// compareValue compares a stored row value against a literal. Text
// comparison is byte-wise over the full value, not truncated.
func compareValue(v pager.Value, lit sql.Literal) (int, bool) {
	switch {
	case v.Tag == pager.TagInt32 && lit.Kind == sql.LitInt:
		switch {
		case v.I32 < lit.Int:
			return -1, true
		case v.I32 > lit.Int:
			return 1, true
		default:
			return 0, true
		}
	case v.Tag == pager.TagText && lit.Kind == sql.LitString:
		return compareBytes([]byte(v.Text), []byte(lit.Str)), true
	case v.Tag == pager.TagBlob && lit.Kind == sql.LitString:
		return compareBytes(v.Blob, []byte(lit.Str)), true
	case v.Tag == pager.TagNull && lit.Kind == sql.LitNull:
		return 0, true
	default:
		return 0, false
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// valueToAny converts a stored column value to the Go type Result
// callers consume: nil, int32, string, or []byte.
func valueToAny(v pager.Value) any {
	switch v.Tag {
	case pager.TagNull:
		return nil
	case pager.TagInt32:
		return v.I32
	case pager.TagText:
		return v.Text
	case pager.TagBlob:
		return v.Blob
	default:
		return nil
	}
}

// aggVisitor is the single scan-filter-sort-aggregate visitor every
// SELECT shares, parameterized by the projected aggregate instead of
// one duplicated inner loop per function.
type aggVisitor struct {
	schema catalog.Schema
	stmt   sql.Select

	rows    [][]pager.Value
	count   int64
	sum     int64
	haveAgg bool
	minV    pager.Value
	maxV    pager.Value
}

func newAggVisitor(schema catalog.Schema, stmt sql.Select) *aggVisitor {
	return &aggVisitor{schema: schema, stmt: stmt}
}

func (a *aggVisitor) visit(row []pager.Value) {
	if a.stmt.Agg == sql.AggNone {
		a.rows = append(a.rows, row)
		return
	}
	if a.stmt.Agg == sql.AggCount {
		a.count++
		return
	}
	idx := columnIndex(a.schema, a.stmt.AggCol)
	if idx < 0 || idx >= len(row) {
		return
	}
	v := row[idx]
	if v.Tag == pager.TagNull {
		return
	}
	switch a.stmt.Agg {
	case sql.AggCountCol:
		a.count++
	case sql.AggSum, sql.AggAvg:
		a.count++
		a.sum += int64(v.I32)
	case sql.AggMin:
		if !a.haveAgg || v.I32 < a.minV.I32 {
			a.minV = v
		}
		a.haveAgg = true
	case sql.AggMax:
		if !a.haveAgg || v.I32 > a.maxV.I32 {
			a.maxV = v
		}
		a.haveAgg = true
	}
}

func (a *aggVisitor) result() Result {
	switch a.stmt.Agg {
	case sql.AggCount, sql.AggCountCol:
		return Result{Columns: []string{"count"}, Rows: [][]any{{a.count}}}
	case sql.AggSum:
		return Result{Columns: []string{"sum"}, Rows: [][]any{{int32(a.sum)}}}
	case sql.AggAvg:
		var avg int32
		if a.count > 0 {
			avg = int32(a.sum / a.count)
		}
		return Result{Columns: []string{"avg"}, Rows: [][]any{{avg}}}
	case sql.AggMin:
		return Result{Columns: []string{"min"}, Rows: [][]any{{valueToAny(a.minV)}}}
	case sql.AggMax:
		return Result{Columns: []string{"max"}, Rows: [][]any{{valueToAny(a.maxV)}}}
	default:
		return a.projectRows()
	}
}

func (a *aggVisitor) projectRows() Result {
	rows := a.rows
	if a.stmt.OrderBy != nil {
		idx := columnIndex(a.schema, a.stmt.OrderBy.Column)
		desc := a.stmt.OrderBy.Desc
		sort.SliceStable(rows, func(i, j int) bool {
			less := lessValue(rows[i][idx], rows[j][idx])
			if desc {
				return !less && !equalValue(rows[i][idx], rows[j][idx])
			}
			return less
		})
	}
	if a.stmt.Limit != nil && *a.stmt.Limit < len(rows) {
		rows = rows[:*a.stmt.Limit]
	}

	cols := make([]string, len(a.schema.Columns))
	for i, c := range a.schema.Columns {
		cols[i] = c.Name
	}
	out := make([][]any, len(rows))
	for i, r := range rows {
		converted := make([]any, len(r))
		for j, v := range r {
			converted[j] = valueToAny(v)
		}
		out[i] = converted
	}
	return Result{Columns: cols, Rows: out}
}

func lessValue(a, b pager.Value) bool {
	switch a.Tag {
	case pager.TagInt32:
		return a.I32 < b.I32
	case pager.TagText:
		return a.Text < b.Text
	case pager.TagBlob:
		return compareBytes(a.Blob, b.Blob) < 0
	default:
		return false
	}
}

func equalValue(a, b pager.Value) bool {
	switch a.Tag {
	case pager.TagInt32:
		return a.I32 == b.I32
	case pager.TagText:
		return a.Text == b.Text
	case pager.TagBlob:
		return compareBytes(a.Blob, b.Blob) == 0
	default:
		return a.Tag == b.Tag
	}
}
