package providers

import (
	"context"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/perlerr"
)

// Definition resolves the symbol key under the cursor against the index.
// Unresolved names return an empty slice, not an error.
func Definition(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, ranger FileRanger, pos protocol.Position) []protocol.Location {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, pos))
	if !ok {
		return []protocol.Location{}
	}
	sym, ok := snap.Symbols[key]
	if !ok {
		return []protocol.Location{}
	}
	return locationsOf(doc, enc, ranger, []index.Symbol{sym})
}

// TypeDefinition maps a variable or call to the package that defines its
// type, when the declaration's container package is indexed.
func TypeDefinition(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, ranger FileRanger, pos protocol.Position) []protocol.Location {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, pos))
	if !ok {
		return []protocol.Location{}
	}
	sym, ok := snap.Symbols[key]
	if !ok || sym.Container == "" {
		return []protocol.Location{}
	}
	pkg, ok := snap.Symbols[index.PackageKey(sym.Container)]
	if !ok {
		return []protocol.Location{}
	}
	return locationsOf(doc, enc, ranger, []index.Symbol{pkg})
}

// Implementation resolves method names across every indexed package:
// all subs and methods sharing the name.
func Implementation(ctx context.Context, snap *index.Snapshot, doc *document.Snapshot, enc Encoding, ranger FileRanger, pos protocol.Position) []protocol.Location {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, pos))
	if !ok {
		return []protocol.Location{}
	}
	name := key
	if i := strings.LastIndex(key, "::"); i >= 0 {
		name = key[i+2:]
	}

	var impls []index.Symbol
	for _, sym := range snap.Symbols {
		if cancelled(ctx) {
			break
		}
		if (sym.Kind == index.SymbolSub || sym.Kind == index.SymbolMethod) && sym.Name == name {
			impls = append(impls, sym)
		}
	}
	return locationsOf(doc, enc, ranger, impls)
}

// References returns every indexed use site of the symbol under the
// cursor, optionally including the declaration. Cancellation is checked
// per collected result.
func References(ctx context.Context, snap *index.Snapshot, doc *document.Snapshot, enc Encoding, ranger FileRanger, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, params.Position))
	if !ok {
		return []protocol.Location{}, nil
	}

	var out []protocol.Location
	if params.Context.IncludeDeclaration {
		if sym, found := snap.Symbols[key]; found {
			out = append(out, locationsOf(doc, enc, ranger, []index.Symbol{sym})...)
		}
	}
	for _, ref := range snap.Refs[key] {
		if cancelled(ctx) {
			return nil, perlerr.NewCancelled(nil)
		}
		if loc, ok := refLocation(doc, enc, ranger, ref); ok {
			out = append(out, loc)
		}
	}
	if out == nil {
		out = []protocol.Location{}
	}
	return out, nil
}

// DocumentHighlight marks intra-document references to the symbol under
// the cursor with read/write/text kinds.
func DocumentHighlight(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, pos protocol.Position) []protocol.DocumentHighlight {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, pos))
	if !ok {
		return []protocol.DocumentHighlight{}
	}

	var out []protocol.DocumentHighlight
	for _, sym := range fs.symbols {
		if sym.Key() == key {
			out = append(out, protocol.DocumentHighlight{
				Range: lspRange(doc, enc, sym.Start, sym.End),
				Kind:  protocol.DocumentHighlightKindText,
			})
		}
	}
	for _, ref := range fs.refs {
		if ref.Key != key {
			continue
		}
		kind := protocol.DocumentHighlightKindRead
		if ref.Role == index.RoleWrite {
			kind = protocol.DocumentHighlightKindWrite
		}
		out = append(out, protocol.DocumentHighlight{
			Range: lspRange(doc, enc, ref.Start, ref.End),
			Kind:  kind,
		})
	}
	if out == nil {
		out = []protocol.DocumentHighlight{}
	}
	return out
}

// PrepareRename validates that the cursor is on a renameable symbol and
// returns its exact range plus the current name as placeholder.
func PrepareRename(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, pos protocol.Position) (*protocol.Range, string, error) {
	fs := scopeOf(doc)
	off := byteOffset(doc, enc, pos)
	_, start, end, ok := fs.keyAt(off)
	if !ok {
		return nil, "", perlerr.NewProtocolError(perlerr.KindInvalidRequest, "no renameable symbol at cursor")
	}
	r := lspRange(doc, enc, start, end)
	placeholder := doc.Text.Slice(start, end)
	placeholder = strings.TrimLeft(placeholder, "$@%&")
	return &r, placeholder, nil
}

// Rename builds a WorkspaceEdit over every indexed reference and the
// declaration. The new name must be a legal identifier for the symbol's
// kind.
func Rename(ctx context.Context, snap *index.Snapshot, doc *document.Snapshot, enc Encoding, ranger FileRanger, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	fs := scopeOf(doc)
	key, _, _, ok := fs.keyAt(byteOffset(doc, enc, params.Position))
	if !ok {
		return nil, perlerr.NewProtocolError(perlerr.KindInvalidRequest, "no renameable symbol at cursor")
	}

	sym, hasSym := snap.Symbols[key]
	if err := validateNewName(params.NewName, sym, hasSym); err != nil {
		return nil, err
	}

	changes := make(map[uri.URI][]protocol.TextEdit)
	add := func(u uri.URI, start, end int, text string) bool {
		var r protocol.Range
		if u == doc.URI {
			r = lspRange(doc, enc, start, end)
		} else {
			var found bool
			r, found = ranger.RangeOf(u, start, end)
			if !found {
				return false
			}
		}
		changes[u] = append(changes[u], protocol.TextEdit{Range: r, NewText: text})
		return true
	}

	if hasSym {
		newText := params.NewName
		if sym.Kind == index.SymbolVarMy || sym.Kind == index.SymbolVarOur {
			// The declaration range covers the sigil; keep it.
			sigil := sigilOf(sym.Name)
			newText = sigil + params.NewName
		}
		add(sym.URI, sym.Start, sym.End, newText)
	}
	for _, ref := range snap.Refs[key] {
		if cancelled(ctx) {
			return nil, perlerr.NewCancelled(nil)
		}
		text := params.NewName
		if strings.HasPrefix(key, "my:") || strings.HasPrefix(key, "our:") {
			text = sigilOfRange(doc, ref) + params.NewName
		}
		add(ref.URI, ref.Start, ref.End, text)
	}

	return &protocol.WorkspaceEdit{Changes: changes}, nil
}

// validateNewName enforces identifier legality per symbol kind: plain
// identifier for subs and variables, ::-separated words for packages.
func validateNewName(name string, sym index.Symbol, hasSym bool) error {
	if name == "" {
		return perlerr.NewProtocolError(perlerr.KindInvalidParams, "new name must not be empty")
	}
	kind := index.SymbolSub
	if hasSym {
		kind = sym.Kind
	}
	parts := []string{name}
	if kind == index.SymbolPackage {
		parts = strings.Split(name, "::")
	}
	for _, part := range parts {
		if !isIdentWord(part) {
			return perlerr.NewProtocolError(perlerr.KindInvalidParams,
				"%q is not a legal name for a %s", name, kind)
		}
	}
	return nil
}

func isIdentWord(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sigilOf(name string) string {
	if name != "" && strings.ContainsAny(name[:1], "$@%&") {
		return name[:1]
	}
	return ""
}

// sigilOfRange recovers the sigil from the reference text in the open
// document; cross-file references take it from the key, whose name part
// carries the sigil written at the use site.
func sigilOfRange(doc *document.Snapshot, ref index.Reference) string {
	if ref.URI != doc.URI {
		// cross-file lexical refs cannot exist; package variable keys
		// end in ::<sigil><name>
		if i := strings.LastIndex(ref.Key, "::"); i >= 0 {
			return sigilOf(ref.Key[i+2:])
		}
		return ""
	}
	text := doc.Text.Slice(ref.Start, ref.End)
	if text != "" && strings.ContainsAny(text[:1], "$@%&") {
		return text[:1]
	}
	return ""
}

func locationsOf(doc *document.Snapshot, enc Encoding, ranger FileRanger, syms []index.Symbol) []protocol.Location {
	out := make([]protocol.Location, 0, len(syms))
	for _, sym := range syms {
		if sym.URI == doc.URI {
			out = append(out, protocol.Location{URI: sym.URI, Range: lspRange(doc, enc, sym.Start, sym.End)})
			continue
		}
		if r, ok := ranger.RangeOf(sym.URI, sym.Start, sym.End); ok {
			out = append(out, protocol.Location{URI: sym.URI, Range: r})
		}
	}
	return out
}

func refLocation(doc *document.Snapshot, enc Encoding, ranger FileRanger, ref index.Reference) (protocol.Location, bool) {
	if ref.URI == doc.URI {
		return protocol.Location{URI: ref.URI, Range: lspRange(doc, enc, ref.Start, ref.End)}, true
	}
	r, ok := ranger.RangeOf(ref.URI, ref.Start, ref.End)
	if !ok {
		return protocol.Location{}, false
	}
	return protocol.Location{URI: ref.URI, Range: r}, true
}
