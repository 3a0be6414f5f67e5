package providers

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"go.lsp.dev/protocol"

	"github.com/camelscope/camelscope/internal/config"
	"github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/perlerr"
)

// Formatting pipes the document through the configured external formatter
// (perltidy-style: source on stdin, formatted text on stdout). A missing
// binary or a timeout returns no edits plus the error for the dispatcher
// to surface as a diagnostic, never a request failure.
func Formatting(ctx context.Context, doc *document.Snapshot, enc Encoding, cfg config.Formatter) ([]protocol.TextEdit, error) {
	if cfg.Command == "" {
		return []protocol.TextEdit{}, &perlerr.ExternalToolError{Command: "(formatter)", Missing: true}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	src := doc.Text.String()
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Stdin = bytes.NewReader([]byte(src))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		debug.LogLSP("formatter %s timed out after %dms\n", cfg.Command, cfg.TimeoutMs)
		return []protocol.TextEdit{}, &perlerr.ExternalToolError{Command: cfg.Command, TimedOut: true}
	case errors.Is(err, exec.ErrNotFound):
		return []protocol.TextEdit{}, &perlerr.ExternalToolError{Command: cfg.Command, Missing: true}
	case err != nil:
		debug.LogLSP("formatter %s failed: %v (%s)\n", cfg.Command, err, stderr.String())
		return []protocol.TextEdit{}, &perlerr.ExternalToolError{Command: cfg.Command, Underlying: err}
	}

	formatted := stdout.String()
	if formatted == src || formatted == "" {
		return []protocol.TextEdit{}, nil
	}

	// One whole-document edit
	full := lspRange(doc, enc, 0, doc.Text.Len())
	return []protocol.TextEdit{{Range: full, NewText: formatted}}, nil
}

// RangeFormatting formats the whole document through the subprocess and
// returns the whole-document edit; the edit is not trimmed to the
// requested range.
func RangeFormatting(ctx context.Context, doc *document.Snapshot, enc Encoding, cfg config.Formatter, r protocol.Range) ([]protocol.TextEdit, error) {
	edits, err := Formatting(ctx, doc, enc, cfg)
	if err != nil || len(edits) == 0 {
		return edits, err
	}
	// External formatters reflow whole files; scoping the result to a
	// range safely needs stable anchors, so fall back to the full edit.
	return edits, nil
}
