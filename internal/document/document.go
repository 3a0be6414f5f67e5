// Package document models open editor documents: a rope for the text, a
// lazily rebuilt position mapper, and the current syntax tree. A document
// is the single source of truth for its text while open; the on-disk file
// is shadowed until didClose.
package document

import (
	"fmt"

	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/parser"
	"github.com/camelscope/camelscope/internal/rope"
	"github.com/camelscope/camelscope/internal/syntax"
)

// ParseConfig selects the reparse strategy for a document.
type ParseConfig struct {
	// Incremental enables subtree reparse on didChange; full reparse is
	// both the default and the fallback.
	Incremental bool
	// ShadowCheck verifies every incremental reparse against a full
	// reparse and keeps the full tree on mismatch.
	ShadowCheck bool
	// MaxDepth is the parser recursion bound.
	MaxDepth int
}

// Change is one didChange content change, already range-resolved: a full
// replacement when Full is set, otherwise a byte-range splice.
type Change struct {
	Full    bool
	Start   int
	End     int
	NewText string
}

// Document is one open document revision chain. Mutated in place by the
// dispatcher; readers use Snapshot.
type Document struct {
	URI     uri.URI
	Version int32

	text   *rope.Rope
	mapper *rope.Mapper // nil while the line index is invalid
	tree   *syntax.Tree

	cfg ParseConfig
}

// Snapshot is an immutable view of one document revision, safe to read
// concurrently with later edits.
type Snapshot struct {
	URI     uri.URI
	Version int32
	Text    *rope.Rope
	Mapper  *rope.Mapper
	Tree    *syntax.Tree
}

// New creates a document from didOpen text and parses it.
func New(u uri.URI, text string, version int32, cfg ParseConfig) *Document {
	d := &Document{URI: u, Version: version, text: rope.FromString(text), cfg: cfg}
	d.tree = parser.ParseWith(text, parser.Options{MaxDepth: cfg.MaxDepth})
	return d
}

// Rope returns the current text rope.
func (d *Document) Rope() *rope.Rope {
	return d.text
}

// Tree returns the current syntax tree.
func (d *Document) Tree() *syntax.Tree {
	return d.tree
}

// Mapper returns the position mapper, rebuilding the line index if the
// last edit invalidated it.
func (d *Document) Mapper() *rope.Mapper {
	if d.mapper == nil {
		d.mapper = rope.NewMapper(d.text)
	}
	return d.mapper
}

// Snapshot captures the current revision.
func (d *Document) Snapshot() *Snapshot {
	return &Snapshot{
		URI:     d.URI,
		Version: d.Version,
		Text:    d.text,
		Mapper:  d.Mapper(),
		Tree:    d.tree,
	}
}

// Apply applies one change and reparses. The rope is replaced (it is
// persistent, so prior snapshots keep their revision), the line index is
// invalidated, and the tree is rebuilt incrementally when configured and
// possible.
func (d *Document) Apply(ch Change, version int32) error {
	if ch.Full {
		d.text = rope.FromString(ch.NewText)
		d.mapper = nil
		d.Version = version
		d.tree = parser.ParseWith(ch.NewText, parser.Options{MaxDepth: d.cfg.MaxDepth})
		return nil
	}

	oldSrc := d.text.String()
	newRope, err := d.text.Replace(ch.Start, ch.End, ch.NewText)
	if err != nil {
		return fmt.Errorf("apply change to %s: %w", d.URI, err)
	}
	oldTree := d.tree
	d.text = newRope
	d.mapper = nil
	d.Version = version

	newSrc := newRope.String()
	ed := parser.Edit{Start: ch.Start, OldEnd: ch.End, NewEnd: ch.Start + len(ch.NewText)}
	opts := parser.Options{MaxDepth: d.cfg.MaxDepth}

	if d.cfg.Incremental {
		if inc, ok := parser.IncrementalReparse(oldTree, oldSrc, newSrc, ed, opts); ok {
			if d.cfg.ShadowCheck {
				full := parser.ParseWith(newSrc, opts)
				if syntax.NormalizeSexp(syntax.ToSexp(inc)) != syntax.NormalizeSexp(syntax.ToSexp(full)) {
					debug.LogParse("shadow check mismatch at %s [%d,%d); keeping full reparse\n", d.URI, ch.Start, ch.End)
					d.tree = full
					return nil
				}
			}
			d.tree = inc
			return nil
		}
	}
	d.tree = parser.ParseWith(newSrc, opts)
	return nil
}
