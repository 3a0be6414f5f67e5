// Command camelscope is a language server for Perl 5 speaking LSP 3.17
// over stdio.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/lsp"
	"github.com/camelscope/camelscope/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "camelscope",
		Usage:   "Perl language server",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stdio",
				Usage: "serve LSP over stdin/stdout (required to start the server)",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "write diagnostic logs to `PATH` (a temp file when empty)",
			},
		},
		Action: run,
	}
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintln(c.App.Writer, version.FullInfo())
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if !c.Bool("stdio") {
		return cli.Exit("camelscope: --stdio is required (no other transport is supported)", 2)
	}

	// stdout belongs to the protocol from here on; all logging is
	// file-only.
	debug.SetLSPMode(true)
	if c.IsSet("log") {
		path, err := debug.InitDebugLogFile(c.String("log"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "camelscope: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "camelscope: logging to %s\n", path)
		}
		defer func() { _ = debug.CloseDebugLog() }()
	}

	srv := lsp.NewServer(os.Stdin, os.Stdout)
	code := srv.Run(context.Background())
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
