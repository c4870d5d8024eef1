package exec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flint-db/flintdb/internal/storage/pager"
	"github.com/flint-db/flintdb/internal/testutil"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := testutil.TempDBPath(t)
	e, err := Open(path, pager.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		testutil.MustRemove(path)
	})
	return e
}

func mustRun(t *testing.T, e *Engine, sql string) Result {
	t.Helper()
	res, err := e.Run(sql)
	require.NoError(t, err, sql)
	return res
}

// S1: projected rows come back in ORDER BY DESC order.
func TestEngine_SelectOrderByDesc(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, n TEXT)`)
	mustRun(t, e, `INSERT INTO t VALUES (1, 'a')`)
	mustRun(t, e, `INSERT INTO t VALUES (2, 'b')`)

	res := mustRun(t, e, `SELECT * FROM t ORDER BY id DESC`)
	require.Len(t, res.Rows, 2)
	require.Equal(t, []any{int32(2), "b"}, res.Rows[0])
	require.Equal(t, []any{int32(1), "a"}, res.Rows[1])
}

// S2: delete below a threshold leaves the remaining keys in order.
func TestEngine_DeleteRange(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, n TEXT)`)
	for _, k := range []int{5, 3, 7, 1, 9, 4, 6, 8, 2} {
		mustRun(t, e, sprintfInsert(k))
	}
	res := mustRun(t, e, `DELETE FROM t WHERE id < 5`)
	require.EqualValues(t, 4, res.RowsAffected)

	sel := mustRun(t, e, `SELECT * FROM t ORDER BY id ASC`)
	require.Len(t, sel.Rows, 5)
	for i, want := range []int32{5, 6, 7, 8, 9} {
		require.Equal(t, want, sel.Rows[i][0])
	}
}

func sprintfInsert(k int) string {
	return "INSERT INTO t VALUES (" + itoa(k) + ", 'x')"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// S3: SUM/AVG skip NULLs and AVG is integer division over the non-null count.
func TestEngine_SumAvgSkipsNulls(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, p INTEGER)`)
	for i, v := range []string{"10", "20", "30", "NULL", "40"} {
		mustRun(t, e, "INSERT INTO t VALUES ("+itoa(i+1)+", "+v+")")
	}

	sum := mustRun(t, e, `SELECT SUM(p) FROM t`)
	require.Equal(t, int32(100), sum.Rows[0][0])

	avg := mustRun(t, e, `SELECT AVG(p) FROM t`)
	require.Equal(t, int32(25), avg.Rows[0][0])
}

// AVG truncates toward zero like any other integer division; it must not
// round to the nearest whole number.
func TestEngine_AvgIsIntegerDivision(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, p INTEGER)`)
	// 103/4 = 25.75: truncation gives 25, rounding would give 26.
	for i, v := range []string{"10", "33", "30", "30"} {
		mustRun(t, e, "INSERT INTO t VALUES ("+itoa(i+1)+", "+v+")")
	}

	avg := mustRun(t, e, `SELECT AVG(p) FROM t`)
	require.Equal(t, int32(25), avg.Rows[0][0])
}

// S5: a duplicate primary key insert fails and leaves the original row intact.
func TestEngine_DuplicatePrimaryKeyRejected(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, n TEXT)`)
	mustRun(t, e, `INSERT INTO t VALUES (1, 'orig')`)

	_, err := e.Run(`INSERT INTO t VALUES (1, 'dup')`)
	require.Error(t, err)

	sel := mustRun(t, e, `SELECT * FROM t WHERE id = 1`)
	require.Len(t, sel.Rows, 1)
	require.Equal(t, "orig", sel.Rows[0][1])
}

func TestEngine_UpdateMatchingRows(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, n TEXT)`)
	mustRun(t, e, `INSERT INTO t VALUES (1, 'a')`)
	mustRun(t, e, `INSERT INTO t VALUES (2, 'a')`)

	res := mustRun(t, e, `UPDATE t SET n = 'z' WHERE id = 2`)
	require.EqualValues(t, 1, res.RowsAffected)

	sel := mustRun(t, e, `SELECT * FROM t ORDER BY id ASC`)
	require.Equal(t, "a", sel.Rows[0][1])
	require.Equal(t, "z", sel.Rows[1][1])
}

func TestEngine_UpdateOfPrimaryKeyRejected(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, n TEXT)`)
	mustRun(t, e, `INSERT INTO t VALUES (1, 'a')`)

	_, err := e.Run(`UPDATE t SET id = 2 WHERE id = 1`)
	require.Error(t, err)

	sel := mustRun(t, e, `SELECT * FROM t`)
	require.EqualValues(t, 1, sel.Rows[0][0])
}

func TestEngine_DropTableThenSelectFails(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	mustRun(t, e, `DROP TABLE t`)
	_, err := e.Run(`SELECT * FROM t`)
	require.Error(t, err)
}

func TestEngine_AutoIncrementWithoutExplicitPK(t *testing.T) {
	e := openTestEngine(t)
	mustRun(t, e, `CREATE TABLE t (id INTEGER PRIMARY KEY, n TEXT)`)
	// Every column is always supplied positionally; auto-increment only
	// kicks in when the primary-key column's own literal is NULL.
	mustRun(t, e, `INSERT INTO t VALUES (NULL, 'a')`)
	mustRun(t, e, `INSERT INTO t VALUES (NULL, 'b')`)

	sel := mustRun(t, e, `SELECT * FROM t ORDER BY id ASC`)
	require.Len(t, sel.Rows, 2)
	require.Equal(t, int32(1), sel.Rows[0][0])
	require.Equal(t, int32(2), sel.Rows[1][0])
}
