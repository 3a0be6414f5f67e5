// Package providers implements the LSP feature providers. Every provider
// is a pure function from an immutable index snapshot, a document
// snapshot, and request params to a response; the dispatcher composes
// them into its method table. Long-running providers take a context and
// check cancellation at file boundaries and per collected result.
package providers

import (
	"context"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/rope"
	"github.com/camelscope/camelscope/internal/syntax"
)

// Encoding is re-exported so the dispatcher configures providers with the
// negotiated position encoding.
type Encoding = rope.Encoding

// fileScope is the per-document extraction: local symbols and references
// with resolved keys. Providers recompute it per request from the
// snapshot tree; it never outlives the snapshot.
type fileScope struct {
	symbols []index.Symbol
	refs    []index.Reference
}

func scopeOf(doc *document.Snapshot) fileScope {
	syms, refs := index.ExtractFile(doc.URI, doc.Text.String(), doc.Tree)
	return fileScope{symbols: syms, refs: refs}
}

// keyAt returns the symbol key under the byte offset, preferring the
// innermost declaration or reference whose range covers it.
func (fs fileScope) keyAt(off int) (key string, start, end int, ok bool) {
	span := -1
	for _, s := range fs.symbols {
		if off >= s.Start && off < s.End && (span < 0 || s.End-s.Start < span) {
			key, start, end, ok = s.Key(), s.Start, s.End, true
			span = s.End - s.Start
		}
	}
	for _, r := range fs.refs {
		if off >= r.Start && off < r.End && (span < 0 || r.End-r.Start < span) {
			key, start, end, ok = r.Key, r.Start, r.End, true
			span = r.End - r.Start
		}
	}
	return key, start, end, ok
}

// lspRange converts a byte range through the document's mapper.
func lspRange(doc *document.Snapshot, enc Encoding, start, end int) protocol.Range {
	s := doc.Mapper.FromByte(start, enc)
	e := doc.Mapper.FromByte(end, enc)
	return protocol.Range{
		Start: protocol.Position{Line: uint32(s.Line), Character: uint32(s.Character)},
		End:   protocol.Position{Line: uint32(e.Line), Character: uint32(e.Character)},
	}
}

// byteOffset converts an LSP position through the document's mapper,
// clamping out-of-range positions per LSP convention.
func byteOffset(doc *document.Snapshot, enc Encoding, pos protocol.Position) int {
	off, _ := doc.Mapper.ToByte(rope.Position{Line: int(pos.Line), Character: int(pos.Character)}, enc)
	return off
}

// FileRanger converts a byte range in an arbitrary indexed file. Closed
// files get a throwaway mapper over their current on-disk content.
type FileRanger interface {
	// RangeOf maps a byte range in the URI's current text to an LSP
	// range. Returns false when the file cannot be read.
	RangeOf(u uri.URI, start, end int) (protocol.Range, bool)
}

// cancelled reports whether the request context is done.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// nodeAt returns the deepest node covering the offset.
func nodeAt(doc *document.Snapshot, off int) *syntax.Node {
	return doc.Tree.Root.ChildAt(off)
}
