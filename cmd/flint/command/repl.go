package command

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flint-db/flintdb/internal/exec"
	"github.com/flint-db/flintdb/internal/storage/pager"
)

// ReplCommand runs an interactive, line-buffered SQL shell against one
// database file: input lines are collected until one ends in ';', and
// the collected text is run as a single statement.
type ReplCommand struct{}

func (c *ReplCommand) Help() string {
	return strings.TrimSpace(`
Usage: flint repl -db path.fdb [-page-cache N]

Options:

	-db         path to the database file (required)
	-page-cache page cache capacity in pages (default 256)
`)
}

func (c *ReplCommand) Synopsis() string {
	return "Interactive SQL shell"
}

func (c *ReplCommand) Run(args []string) int {
	var dbPath string
	var cacheCapacity int

	flags := flag.NewFlagSet("repl", flag.ContinueOnError)
	flags.StringVar(&dbPath, "db", "", "database file path")
	flags.IntVar(&cacheCapacity, "page-cache", 256, "page cache capacity")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "flint repl: -db is required")
		return 1
	}

	log := logrus.New()
	engine, err := exec.Open(dbPath, pager.Config{CacheCapacity: cacheCapacity, Log: log})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		return 1
	}
	defer engine.Close()

	interactive := false
	if fi, statErr := os.Stdin.Stat(); statErr == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}
	if interactive {
		fmt.Println("flint REPL. End statements with ';'. Ctrl-D to exit.")
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	var buf strings.Builder
	for {
		if interactive {
			if buf.Len() == 0 {
				fmt.Print("flint> ")
			} else {
				fmt.Print(" ...  ")
			}
		}
		if !sc.Scan() {
			break
		}
		line := sc.Text()
		trimmed := strings.TrimSpace(stripComment(line))
		if trimmed == "" {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()

		res, err := engine.Run(stmt)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		printResult(res)
	}
	return 0
}

func stripComment(line string) string {
	if i := strings.Index(line, "--"); i >= 0 {
		return line[:i]
	}
	return line
}

func printResult(res exec.Result) {
	if len(res.Columns) == 0 {
		if res.RowsAffected > 0 {
			fmt.Printf("OK (%d row(s) affected)\n", res.RowsAffected)
		} else {
			fmt.Println("OK")
		}
		return
	}
	fmt.Println(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprint(v)
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	fmt.Printf("(%d row(s))\n", len(res.Rows))
}
