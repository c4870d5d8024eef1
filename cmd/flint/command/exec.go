package command

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/flint-db/flintdb/internal/exec"
	"github.com/flint-db/flintdb/internal/storage/pager"
)

// ExecCommand runs exactly one statement against a database file and
// exits, for scripting use.
type ExecCommand struct{}

func (c *ExecCommand) Help() string {
	return strings.TrimSpace(`
Usage: flint exec -db path.fdb -sql "..."

Options:

	-db  path to the database file (required)
	-sql the statement to execute (required)
`)
}

func (c *ExecCommand) Synopsis() string {
	return "Execute a single SQL statement"
}

func (c *ExecCommand) Run(args []string) int {
	var dbPath, stmt string

	flags := flag.NewFlagSet("exec", flag.ContinueOnError)
	flags.StringVar(&dbPath, "db", "", "database file path")
	flags.StringVar(&stmt, "sql", "", "statement to execute")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if dbPath == "" || stmt == "" {
		fmt.Fprintln(os.Stderr, "flint exec: -db and -sql are required")
		return 1
	}

	engine, err := exec.Open(dbPath, pager.Config{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		return 1
	}
	defer engine.Close()

	res, err := engine.Run(stmt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	printResult(res)
	return 0
}
