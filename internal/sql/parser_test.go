package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	ct, ok := stmt.(CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Table)
	require.Len(t, ct.Columns, 2)
	assert.Equal(t, ColumnDef{Name: "id", Type: "INTEGER", Primary: true}, ct.Columns[0])
	assert.Equal(t, ColumnDef{Name: "name", Type: "TEXT"}, ct.Columns[1])
}

func TestParse_DropTable(t *testing.T) {
	stmt, err := Parse(`DROP TABLE users`)
	require.NoError(t, err)
	assert.Equal(t, DropTable{Table: "users"}, stmt)
}

func TestParse_Insert(t *testing.T) {
	stmt, err := Parse(`INSERT INTO users VALUES (1, 'ada', NULL)`)
	require.NoError(t, err)
	ins, ok := stmt.(Insert)
	require.True(t, ok)
	assert.Equal(t, "users", ins.Table)
	require.Len(t, ins.Values, 3)
	assert.Equal(t, Literal{Kind: LitInt, Int: 1}, ins.Values[0])
	assert.Equal(t, Literal{Kind: LitString, Str: "ada"}, ins.Values[1])
	assert.Equal(t, Literal{Kind: LitNull}, ins.Values[2])
}

func TestParse_Insert_NegativeNumber(t *testing.T) {
	stmt, err := Parse(`INSERT INTO t VALUES (-7)`)
	require.NoError(t, err)
	ins := stmt.(Insert)
	assert.Equal(t, int32(-7), ins.Values[0].Int)
}

func TestParse_Insert_EscapedQuote(t *testing.T) {
	stmt, err := Parse(`INSERT INTO t VALUES ('it''s')`)
	require.NoError(t, err)
	ins := stmt.(Insert)
	assert.Equal(t, "it's", ins.Values[0].Str)
}

func TestParse_SelectStar(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM users WHERE id = 1`)
	require.NoError(t, err)
	sel, ok := stmt.(Select)
	require.True(t, ok)
	assert.Equal(t, AggNone, sel.Agg)
	require.NotNil(t, sel.Where)
	assert.Equal(t, "id", sel.Where.Column)
	assert.Equal(t, OpEq, sel.Where.Op)
	assert.Equal(t, int32(1), sel.Where.Value.Int)
}

func TestParse_SelectAggregates(t *testing.T) {
	cases := map[string]Aggregate{
		`SELECT COUNT(*) FROM t`:     AggCount,
		`SELECT COUNT(col) FROM t`:   AggCountCol,
		`SELECT SUM(col) FROM t`:     AggSum,
		`SELECT AVG(col) FROM t`:     AggAvg,
		`SELECT MIN(col) FROM t`:     AggMin,
		`SELECT MAX(col) FROM t`:     AggMax,
	}
	for src, want := range cases {
		stmt, err := Parse(src)
		require.NoError(t, err, src)
		sel := stmt.(Select)
		assert.Equal(t, want, sel.Agg, src)
	}
}

func TestParse_SelectOrderByLimit(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM t ORDER BY name DESC LIMIT 5`)
	require.NoError(t, err)
	sel := stmt.(Select)
	require.NotNil(t, sel.OrderBy)
	assert.Equal(t, "name", sel.OrderBy.Column)
	assert.True(t, sel.OrderBy.Desc)
	require.NotNil(t, sel.Limit)
	assert.Equal(t, 5, *sel.Limit)
}

func TestParse_Update(t *testing.T) {
	stmt, err := Parse(`UPDATE t SET name = 'bob' WHERE id = 2`)
	require.NoError(t, err)
	upd := stmt.(Update)
	assert.Equal(t, "t", upd.Table)
	assert.Equal(t, "name", upd.Column)
	assert.Equal(t, "bob", upd.Value.Str)
	require.NotNil(t, upd.Where)
	assert.Equal(t, int32(2), upd.Where.Value.Int)
}

func TestParse_Delete(t *testing.T) {
	stmt, err := Parse(`DELETE FROM t WHERE id != 3`)
	require.NoError(t, err)
	del := stmt.(Delete)
	assert.Equal(t, "t", del.Table)
	require.NotNil(t, del.Where)
	assert.Equal(t, OpNe, del.Where.Op)
}

func TestParse_TrailingSemicolon(t *testing.T) {
	_, err := Parse(`DELETE FROM t;`)
	assert.NoError(t, err)
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`SELECT FROM t`,
		`CREATE TABLE t (`,
		`INSERT INTO t VALUES (1,)`,
		`garbage`,
		`SELECT * FROM t WHERE`,
		`DELETE FROM t WHERE id = 1 extra`,
	}
	for _, src := range cases {
		_, err := Parse(src)
		assert.Error(t, err, src)
	}
}
