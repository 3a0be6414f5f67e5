package providers

import (
	"context"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"
	"go.lsp.dev/protocol"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/perlerr"
	"github.com/camelscope/camelscope/internal/syntax"
)

// WorkspaceSymbolLimit is the early-exit cap on workspace/symbol results.
const WorkspaceSymbolLimit = 128

// DocumentSymbol builds the tree of symbols for one file: packages
// containing subs, methods, and package variables. A statement-form
// `package Foo;` scopes every following sibling until the next package
// statement; the block form scopes its block.
func DocumentSymbol(doc *document.Snapshot, enc Encoding) []protocol.DocumentSymbol {
	var out []protocol.DocumentSymbol
	var walk func(n *syntax.Node, acc *[]protocol.DocumentSymbol)
	walk = func(n *syntax.Node, acc *[]protocol.DocumentSymbol) {
		cur := acc
		for _, c := range n.Children {
			switch c.Kind {
			case syntax.KindPackage, syntax.KindClassDecl:
				sym := protocol.DocumentSymbol{
					Name:           c.Name,
					Kind:           protocol.SymbolKindPackage,
					Range:          lspRange(doc, enc, c.Start, c.End),
					SelectionRange: lspRange(doc, enc, c.Start, c.Start+len("package")),
				}
				walk(c, &sym.Children)
				*acc = append(*acc, sym)
				if len(c.Children) == 0 {
					// Statement form: adopt the following siblings
					cur = &(*acc)[len(*acc)-1].Children
				}
				continue
			case syntax.KindSubDecl:
				sym := protocol.DocumentSymbol{
					Name:           c.Name,
					Kind:           protocol.SymbolKindFunction,
					Range:          lspRange(doc, enc, c.Start, c.End),
					SelectionRange: lspRange(doc, enc, c.Start, c.Start+len("sub")),
				}
				walk(c, &sym.Children)
				*cur = append(*cur, sym)
			case syntax.KindMethodDecl:
				sym := protocol.DocumentSymbol{
					Name:           c.Name,
					Kind:           protocol.SymbolKindMethod,
					Range:          lspRange(doc, enc, c.Start, c.End),
					SelectionRange: lspRange(doc, enc, c.Start, c.Start+len("method")),
				}
				walk(c, &sym.Children)
				*cur = append(*cur, sym)
			case syntax.KindVarDecl:
				if c.Text == "our" {
					for _, v := range c.Children {
						if v.Kind == syntax.KindVariable {
							*cur = append(*cur, protocol.DocumentSymbol{
								Name:           string(v.Sigil) + v.Name,
								Kind:           protocol.SymbolKindVariable,
								Range:          lspRange(doc, enc, v.Start, v.End),
								SelectionRange: lspRange(doc, enc, v.Start, v.End),
							})
						}
					}
				}
			default:
				walk(c, cur)
			}
		}
	}
	walk(doc.Tree.Root, &out)
	return out
}

// scored pairs a candidate with its fuzzy rank.
type scored struct {
	info  protocol.SymbolInformation
	score float32
}

// WorkspaceSymbol fuzzy-matches the query against every indexed symbol
// name, capped at WorkspaceSymbolLimit results. Cancellation is checked
// per collected result.
func WorkspaceSymbol(ctx context.Context, snap *index.Snapshot, ranger FileRanger, query string) ([]protocol.SymbolInformation, error) {
	query = strings.ToLower(query)
	var results []scored

	for _, sym := range snap.Symbols {
		if cancelled(ctx) {
			return nil, perlerr.NewCancelled(nil)
		}
		if sym.Kind == index.SymbolFile || sym.Kind == index.SymbolVarMy {
			continue
		}
		score := matchScore(query, strings.ToLower(sym.Name))
		if score <= 0 {
			continue
		}
		r, ok := ranger.RangeOf(sym.URI, sym.Start, sym.End)
		if !ok {
			continue
		}
		results = append(results, scored{
			info: protocol.SymbolInformation{
				Name:          sym.Name,
				Kind:          lspSymbolKind(sym.Kind),
				Location:      protocol.Location{URI: sym.URI, Range: r},
				ContainerName: sym.Container,
			},
			score: score,
		})
		if len(results) >= WorkspaceSymbolLimit*4 {
			break // early exit; ranking trims below
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > WorkspaceSymbolLimit {
		results = results[:WorkspaceSymbolLimit]
	}
	out := make([]protocol.SymbolInformation, 0, len(results))
	for _, r := range results {
		out = append(out, r.info)
	}
	return out, nil
}

// matchScore ranks a candidate: exact > prefix > substring > fuzzy
// (Jaro-Winkler past a 0.8 floor). Zero means no match.
func matchScore(query, name string) float32 {
	switch {
	case query == "":
		return 0.1
	case name == query:
		return 100
	case strings.HasPrefix(name, query):
		return 80
	case strings.Contains(name, query):
		return 60
	}
	sim, err := edlib.StringsSimilarity(query, name, edlib.JaroWinkler)
	if err != nil || sim < 0.8 {
		return 0
	}
	return sim * 50
}

func lspSymbolKind(k index.SymbolKind) protocol.SymbolKind {
	switch k {
	case index.SymbolPackage:
		return protocol.SymbolKindPackage
	case index.SymbolSub:
		return protocol.SymbolKindFunction
	case index.SymbolMethod:
		return protocol.SymbolKindMethod
	case index.SymbolFile:
		return protocol.SymbolKindFile
	default:
		return protocol.SymbolKindVariable
	}
}
