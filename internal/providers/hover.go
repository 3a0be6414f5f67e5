package providers

import (
	"strings"

	"go.lsp.dev/protocol"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
)

// Hover shows the symbol's signature and its doc comment: the contiguous
// '#' block immediately above the declaration.
func Hover(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, pos protocol.Position) *protocol.Hover {
	fs := scopeOf(doc)
	key, start, end, ok := fs.keyAt(byteOffset(doc, enc, pos))
	if !ok {
		return nil
	}
	sym, ok := snap.Symbols[key]
	if !ok {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("```perl\n")
	switch sym.Kind {
	case index.SymbolSub, index.SymbolMethod:
		sb.WriteString("sub ")
		if sym.Container != "" && sym.Container != "main" {
			sb.WriteString(sym.Container + "::")
		}
		sb.WriteString(sym.Name)
		if sym.Signature != "" {
			sb.WriteString(" " + sym.Signature)
		}
	case index.SymbolPackage:
		sb.WriteString("package " + sym.Name)
	case index.SymbolVarMy:
		sb.WriteString("my " + sym.Name)
	case index.SymbolVarOur:
		sb.WriteString("our " + sym.Name)
	default:
		sb.WriteString(sym.Name)
	}
	sb.WriteString("\n```")
	if sym.Doc != "" {
		sb.WriteString("\n\n" + sym.Doc)
	}

	r := lspRange(doc, enc, start, end)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.Markdown, Value: sb.String()},
		Range:    &r,
	}
}

// SignatureHelp shows the declared parameter list of the called sub.
func SignatureHelp(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, pos protocol.Position) *protocol.SignatureHelp {
	off := byteOffset(doc, enc, pos)
	fs := scopeOf(doc)

	// Find the innermost call reference whose range precedes the cursor
	var best *index.Reference
	for i := range fs.refs {
		ref := &fs.refs[i]
		if ref.Role != index.RoleCall || ref.Start > off {
			continue
		}
		if best == nil || ref.Start > best.Start {
			best = ref
		}
	}
	if best == nil {
		return nil
	}
	sym, ok := snap.Symbols[best.Key]
	if !ok || sym.Signature == "" {
		return nil
	}

	label := sym.Name + sym.Signature
	params := parseSignatureParams(sym.Signature)
	info := protocol.SignatureInformation{
		Label:      label,
		Parameters: params,
	}
	if sym.Doc != "" {
		info.Documentation = sym.Doc
	}

	active := activeParameter(doc, off, best.Start)
	return &protocol.SignatureHelp{
		Signatures:      []protocol.SignatureInformation{info},
		ActiveSignature: 0,
		ActiveParameter: active,
	}
}

func parseSignatureParams(sig string) []protocol.ParameterInformation {
	inner := strings.Trim(sig, "() ")
	if inner == "" {
		return nil
	}
	var out []protocol.ParameterInformation
	for _, part := range strings.Split(inner, ",") {
		out = append(out, protocol.ParameterInformation{Label: strings.TrimSpace(part)})
	}
	return out
}

// activeParameter counts top-level commas between the call site and the
// cursor.
func activeParameter(doc *document.Snapshot, off, callStart int) uint32 {
	text := doc.Text.Slice(callStart, off)
	depth := 0
	var commas uint32
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth <= 1 {
				commas++
			}
		}
	}
	return commas
}
