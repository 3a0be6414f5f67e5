package providers

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/syntax"
	"github.com/camelscope/camelscope/pkg/pathutil"
)

// CompletionConfig carries the workspace context path completion needs.
type CompletionConfig struct {
	Roots        []string
	IncludePaths []string
}

// Completion assembles the contextual candidate set: lexicals visible at
// the cursor, package symbols, imported symbols, and file paths inside
// use/require.
func Completion(snap *index.Snapshot, doc *document.Snapshot, enc Encoding, cfg CompletionConfig, pos protocol.Position) *protocol.CompletionList {
	off := byteOffset(doc, enc, pos)
	text := doc.Text.String()
	prefixStart := wordStart(text, off)
	prefix := text[prefixStart:off]

	if modPrefix, ok := usePathContext(text, prefixStart); ok {
		return pathCompletions(cfg, modPrefix+prefix)
	}
	if n := nodeAt(doc, max(0, off-1)); n != nil {
		switch n.Kind {
		// ERROR covers the string still being typed (no closing quote)
		case syntax.KindString, syntax.KindQuoted, syntax.KindHeredoc, syntax.KindError:
			if p, ok := stringPathPrefix(text, off); ok {
				return filePathCompletions(cfg, p)
			}
		}
	}

	fs := scopeOf(doc)
	seen := make(map[string]bool)
	var items []protocol.CompletionItem

	addItem := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) && prefix != "" {
			return
		}
		seen[label] = true
		items = append(items, protocol.CompletionItem{
			Label:  label,
			Kind:   kind,
			Detail: detail,
		})
	}

	// Lexicals visible at the cursor: declarations whose enclosing scope
	// covers the position.
	for _, sym := range fs.symbols {
		if sym.Kind != index.SymbolVarMy {
			continue
		}
		if scope := enclosingScopeEnd(doc, sym.Start); off <= scope && sym.Start <= off {
			addItem(sym.Name, protocol.CompletionItemKindVariable, "my "+sym.Name)
		}
	}

	// Current document's subs and package vars
	for _, sym := range fs.symbols {
		switch sym.Kind {
		case index.SymbolSub, index.SymbolMethod:
			addItem(sym.Name, protocol.CompletionItemKindFunction, sym.Container+"::"+sym.Name+sym.Signature)
		case index.SymbolVarOur:
			addItem(sym.Name, protocol.CompletionItemKindVariable, "our "+sym.Name)
		}
	}

	// Workspace symbols: packages and subs of packages this file imports
	imported := make(map[string]bool)
	for _, ref := range fs.refs {
		if ref.Role == index.RoleImport {
			imported[strings.TrimPrefix(ref.Key, "pkg:")] = true
		}
	}
	for _, sym := range snap.Symbols {
		switch sym.Kind {
		case index.SymbolPackage:
			addItem(sym.Name, protocol.CompletionItemKindModule, "package "+sym.Name)
		case index.SymbolSub, index.SymbolMethod:
			if imported[sym.Container] {
				addItem(sym.Container+"::"+sym.Name, protocol.CompletionItemKindFunction, sym.Container+"::"+sym.Name+sym.Signature)
			}
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return &protocol.CompletionList{IsIncomplete: false, Items: items}
}

// wordStart walks back over identifier characters, sigils, and :: to the
// start of the word being completed.
func wordStart(text string, off int) int {
	i := off
	for i > 0 {
		c := text[i-1]
		if c == '_' || c == ':' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '$' || c == '@' || c == '%' || c == '&' {
			i--
			continue
		}
		break
	}
	return i
}

// usePathContext reports whether the word begins in module position of a
// use/require statement. The returned prefix is always empty: the
// already-typed module prefix is part of the completion word itself.
func usePathContext(text string, wordStart int) (string, bool) {
	lineStart := strings.LastIndexByte(text[:wordStart], '\n') + 1
	line := text[lineStart:wordStart]
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "use ") || strings.HasPrefix(trimmed, "require ") {
		return "", true
	}
	return "", false
}

// pathCompletions offers module files under the configured roots. Paths
// that would escape the roots are rejected, never listed.
func pathCompletions(cfg CompletionConfig, prefix string) *protocol.CompletionList {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)

	relDir := strings.ReplaceAll(prefix, "::", string(os.PathSeparator))
	relDir = filepath.Dir(relDir)

	roots := make([]string, 0, len(cfg.Roots)+len(cfg.IncludePaths))
	roots = append(roots, cfg.Roots...)
	roots = append(roots, cfg.IncludePaths...)

	for _, root := range roots {
		for _, base := range []string{root, filepath.Join(root, "lib")} {
			dir := filepath.Join(base, relDir)
			confined, err := pathutil.Confine(base, dir)
			if err != nil {
				continue
			}
			entries, err := os.ReadDir(confined)
			if err != nil {
				continue
			}
			for _, e := range entries {
				name := e.Name()
				var label string
				switch {
				case e.IsDir():
					label = name + "::"
				case strings.HasSuffix(name, ".pm"):
					label = strings.TrimSuffix(name, ".pm")
				default:
					continue
				}
				if relDir != "." {
					label = strings.ReplaceAll(filepath.ToSlash(relDir), "/", "::") + "::" + label
				}
				if seen[label] {
					continue
				}
				seen[label] = true
				kind := protocol.CompletionItemKindModule
				if e.IsDir() {
					kind = protocol.CompletionItemKindFolder
				}
				items = append(items, protocol.CompletionItem{Label: label, Kind: kind})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return &protocol.CompletionList{IsIncomplete: false, Items: items}
}

// stringPathPrefix extracts a path-shaped prefix behind the cursor
// inside a string literal: it must contain a '/' to trigger.
func stringPathPrefix(text string, off int) (string, bool) {
	i := off
	for i > 0 {
		c := text[i-1]
		if c == '"' || c == '\'' || c == ' ' || c == '\t' || c == '\n' || c == '(' {
			break
		}
		i--
	}
	p := text[i:off]
	if !strings.Contains(p, "/") {
		return "", false
	}
	return p, true
}

// filePathCompletions lists directory entries for a path prefix typed in
// a string, confined to the workspace roots. Absolute paths and
// traversal outside the roots are rejected.
func filePathCompletions(cfg CompletionConfig, prefix string) *protocol.CompletionList {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	dir := prefix[:strings.LastIndexByte(prefix, '/')+1]

	for _, root := range cfg.Roots {
		confined, err := pathutil.Confine(root, filepath.FromSlash(dir))
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(confined)
		if err != nil {
			continue
		}
		for _, e := range entries {
			label := dir + e.Name()
			if e.IsDir() {
				label += "/"
			}
			if seen[label] {
				continue
			}
			seen[label] = true
			kind := protocol.CompletionItemKindFile
			if e.IsDir() {
				kind = protocol.CompletionItemKindFolder
			}
			items = append(items, protocol.CompletionItem{Label: label, Kind: kind})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return &protocol.CompletionList{IsIncomplete: false, Items: items}
}

// enclosingScopeEnd returns the end of the innermost block containing the
// offset, or the document end at top level.
func enclosingScopeEnd(doc *document.Snapshot, off int) int {
	end := doc.Text.Len()
	n := doc.Tree.Root
	for {
		descended := false
		for _, c := range n.Children {
			if c.Contains(off) {
				if c.Kind == syntax.KindBlock {
					end = c.End
				}
				n = c
				descended = true
				break
			}
		}
		if !descended {
			return end
		}
	}
}
