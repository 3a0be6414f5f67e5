package providers

import (
	"context"
	"fmt"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/perlerr"
	"github.com/camelscope/camelscope/internal/syntax"
)

// Diagnostics converts the tree's error nodes into publishable
// diagnostics.
func Diagnostics(doc *document.Snapshot, enc Encoding) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(doc.Tree.Errors))
	for _, e := range doc.Tree.Errors {
		msg := e.Text
		if msg == "" {
			msg = "syntax error"
		}
		if e.Kind == syntax.KindRecursionLimit {
			msg = "construct nesting exceeds the parser recursion limit"
		}
		out = append(out, protocol.Diagnostic{
			Range:    lspRange(doc, enc, e.Start, e.End),
			Severity: protocol.DiagnosticSeverityError,
			Source:   "camelscope",
			Message:  msg,
		})
	}
	return out
}

// CodeAction offers a use-statement quick fix for unresolved module
// imports in the requested range.
func CodeAction(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, params *protocol.CodeActionParams) []protocol.CodeAction {
	fs := scopeOf(doc)
	startOff := byteOffset(doc, enc, params.Range.Start)
	endOff := byteOffset(doc, enc, params.Range.End)

	var actions []protocol.CodeAction
	for _, ref := range fs.refs {
		if ref.Role != index.RoleCall || ref.End < startOff || ref.Start > endOff {
			continue
		}
		if snap.Resolved(ref.Key) {
			continue
		}
		name := strings.TrimPrefix(ref.Key, "sub:")
		if i := strings.LastIndex(name, "::"); i > 0 {
			module := name[:i]
			if module == "main" || !snap.Resolved(index.PackageKey(module)) {
				continue
			}
			title := fmt.Sprintf("Add `use %s;`", module)
			insert := protocol.TextEdit{
				Range:   lspRange(doc, enc, 0, 0),
				NewText: fmt.Sprintf("use %s;\n", module),
			}
			actions = append(actions, protocol.CodeAction{
				Title: title,
				Kind:  protocol.QuickFix,
				Edit: &protocol.WorkspaceEdit{
					Changes: map[uri.URI][]protocol.TextEdit{doc.URI: {insert}},
				},
			})
		}
	}
	return actions
}

// CodeLens annotates each sub declaration with its indexed reference
// count.
func CodeLens(ctx context.Context, snap *index.Snapshot, doc *document.Snapshot, enc Encoding) ([]protocol.CodeLens, error) {
	fs := scopeOf(doc)
	var out []protocol.CodeLens
	for _, sym := range fs.symbols {
		if sym.Kind != index.SymbolSub && sym.Kind != index.SymbolMethod {
			continue
		}
		if cancelled(ctx) {
			return nil, perlerr.NewCancelled(nil)
		}
		count := len(snap.Refs[sym.Key()])
		noun := "references"
		if count == 1 {
			noun = "reference"
		}
		out = append(out, protocol.CodeLens{
			Range: lspRange(doc, enc, sym.Start, sym.End),
			Command: &protocol.Command{
				Title:   fmt.Sprintf("%d %s", count, noun),
				Command: "camelscope.showReferences",
			},
		})
	}
	return out, nil
}

// PrepareCallHierarchy returns the sub under the cursor as a hierarchy
// item.
func PrepareCallHierarchy(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, pos protocol.Position) []protocol.CallHierarchyItem {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, pos))
	if !ok {
		return []protocol.CallHierarchyItem{}
	}
	sym, ok := snap.Symbols[key]
	if !ok || (sym.Kind != index.SymbolSub && sym.Kind != index.SymbolMethod) {
		return []protocol.CallHierarchyItem{}
	}
	if sym.URI != doc.URI {
		return []protocol.CallHierarchyItem{}
	}
	return []protocol.CallHierarchyItem{{
		Name:           sym.Container + "::" + sym.Name,
		Kind:           protocol.SymbolKindFunction,
		URI:            sym.URI,
		Range:          lspRange(doc, enc, sym.Start, sym.End),
		SelectionRange: lspRange(doc, enc, sym.Start, sym.Start+len("sub")),
	}}
}

// IncomingCalls lists call references to the item, grouped by the file
// they occur in.
func IncomingCalls(ctx context.Context, snap *index.Snapshot, ranger FileRanger, item protocol.CallHierarchyItem) ([]protocol.CallHierarchyIncomingCall, error) {
	name := item.Name
	var key string
	if i := strings.LastIndex(name, "::"); i >= 0 {
		key = index.SubKey(name[:i], name[i+2:])
	} else {
		key = index.SubKey("", name)
	}

	grouped := make(map[uri.URI][]protocol.Range)
	for _, ref := range snap.Refs[key] {
		if cancelled(ctx) {
			return nil, perlerr.NewCancelled(nil)
		}
		if ref.Role != index.RoleCall {
			continue
		}
		if r, ok := ranger.RangeOf(ref.URI, ref.Start, ref.End); ok {
			grouped[ref.URI] = append(grouped[ref.URI], r)
		}
	}

	out := make([]protocol.CallHierarchyIncomingCall, 0, len(grouped))
	for u, ranges := range grouped {
		from := protocol.CallHierarchyItem{
			Name: string(u),
			Kind: protocol.SymbolKindFile,
			URI:  u,
		}
		if len(ranges) > 0 {
			from.Range = ranges[0]
			from.SelectionRange = ranges[0]
		}
		out = append(out, protocol.CallHierarchyIncomingCall{From: from, FromRanges: ranges})
	}
	return out, nil
}

// OutgoingCalls lists the calls made inside the item's sub body.
func OutgoingCalls(ctx context.Context, snap *index.Snapshot, doc *document.Snapshot, enc Encoding, ranger FileRanger, item protocol.CallHierarchyItem) ([]protocol.CallHierarchyOutgoingCall, error) {
	fs := scopeOf(doc)
	itemStart := byteOffset(doc, enc, item.Range.Start)
	itemEnd := byteOffset(doc, enc, item.Range.End)

	var out []protocol.CallHierarchyOutgoingCall
	for _, ref := range fs.refs {
		if ref.Role != index.RoleCall || ref.Start < itemStart || ref.End > itemEnd {
			continue
		}
		if cancelled(ctx) {
			return nil, perlerr.NewCancelled(nil)
		}
		sym, ok := snap.Symbols[ref.Key]
		if !ok {
			continue
		}
		toRange, ok := ranger.RangeOf(sym.URI, sym.Start, sym.End)
		if !ok {
			continue
		}
		out = append(out, protocol.CallHierarchyOutgoingCall{
			To: protocol.CallHierarchyItem{
				Name:           sym.Container + "::" + sym.Name,
				Kind:           protocol.SymbolKindFunction,
				URI:            sym.URI,
				Range:          toRange,
				SelectionRange: toRange,
			},
			FromRanges: []protocol.Range{lspRange(doc, enc, ref.Start, ref.End)},
		})
	}
	return out, nil
}
