package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/flint-db/flintdb/cmd/flint/command"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"-h"}
	}

	commands := map[string]cli.CommandFactory{
		"repl": func() (cli.Command, error) {
			return &command.ReplCommand{}, nil
		},
		"exec": func() (cli.Command, error) {
			return &command.ExecCommand{}, nil
		},
		"inspect": func() (cli.Command, error) {
			return &command.InspectCommand{}, nil
		},
	}

	flintCLI := &cli.CLI{
		Name:     "flint",
		Args:     args,
		Commands: commands,
		HelpFunc: cli.BasicHelpFunc("flint"),
	}

	exitCode, err := flintCLI.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
	os.Exit(exitCode)
}
