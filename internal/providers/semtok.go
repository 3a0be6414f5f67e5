package providers

import (
	"sort"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/syntax"
)

// Semantic token type indices. The slices below must match this order.
const (
	semKeyword = iota
	semVariable
	semString
	semNumber
	semOperator
	semFunction
	semType
	semComment
	semRegexp
	semPunctSpecial
)

// SemanticTokenTypes is the legend advertised in the server capabilities.
var SemanticTokenTypes = []string{
	"keyword", "variable", "string", "number", "operator",
	"function", "type", "comment", "regexp", "punctuation.special",
}

// SemanticTokenModifiers is the (empty) modifier legend.
var SemanticTokenModifiers = []string{}

type semToken struct {
	start  int
	length int
	typ    uint32
}

// SemanticTokensFull emits the document's tokens in LSP's delta-encoded
// line/char/length/type/modifier quintuples, derived from node kinds.
// Variable sigils are emitted separately as punctuation.special.
func SemanticTokensFull(doc *document.Snapshot, enc Encoding) *protocol.SemanticTokens {
	toks := collectSemTokens(doc)
	return &protocol.SemanticTokens{Data: encodeSemTokens(doc, enc, toks)}
}

func collectSemTokens(doc *document.Snapshot) []semToken {
	var toks []semToken
	add := func(start, end int, typ uint32) {
		if end > start {
			toks = append(toks, semToken{start: start, length: end - start, typ: typ})
		}
	}

	doc.Tree.Root.Walk(func(n *syntax.Node) bool {
		switch n.Kind {
		case syntax.KindVariable:
			// Sigil as punctuation.special, the name as variable
			add(n.Start, n.Start+1, semPunctSpecial)
			add(n.Start+1, n.End, semVariable)
		case syntax.KindCast:
			add(n.Start, n.Start+len(n.Text), semPunctSpecial)
		case syntax.KindNumber:
			add(n.Start, n.End, semNumber)
		case syntax.KindString, syntax.KindQuoted, syntax.KindQwList, syntax.KindHeredoc:
			add(n.Start, n.End, semString)
		case syntax.KindRegex, syntax.KindSubstitution, syntax.KindTransliteration:
			add(n.Start, n.End, semRegexp)
		case syntax.KindSubDecl, syntax.KindMethodDecl:
			// The leading keyword, then the name
			kwLen := len("sub")
			if n.Kind == syntax.KindMethodDecl {
				kwLen = len("method")
			}
			add(n.Start, n.Start+kwLen, semKeyword)
			add(n.Start+kwLen+1, n.Start+kwLen+1+len(n.Name), semFunction)
		case syntax.KindPackage, syntax.KindClassDecl:
			kwLen := len("package")
			if n.Kind == syntax.KindClassDecl {
				kwLen = len("class")
			}
			add(n.Start, n.Start+kwLen, semKeyword)
			add(n.Start+kwLen+1, n.Start+kwLen+1+len(n.Name), semType)
		case syntax.KindVarDecl:
			add(n.Start, n.Start+len(n.Text), semKeyword)
		case syntax.KindUse, syntax.KindRequire:
			kw := "use"
			if n.Kind == syntax.KindRequire {
				kw = "require"
			} else if n.Text == "no" {
				kw = "no"
			}
			add(n.Start, n.Start+len(kw), semKeyword)
			add(n.Start+len(kw)+1, n.Start+len(kw)+1+len(n.Name), semType)
		case syntax.KindCall:
			if n.Name != "" {
				add(n.Start, n.Start+len(n.Name), semFunction)
			}
		case syntax.KindBinary, syntax.KindAssignment:
			// Operator sits in the gap between the two children
			if len(n.Children) == 2 && n.Text != "" {
				gapStart := n.Children[0].End
				gap := doc.Text.Slice(gapStart, n.Children[1].Start)
				if i := strings.Index(gap, n.Text); i >= 0 {
					add(gapStart+i, gapStart+i+len(n.Text), semOperator)
				}
			}
		}
		return true
	})

	for _, c := range doc.Tree.Comments {
		toks = append(toks, semToken{start: c.Start, length: c.End - c.Start, typ: semComment})
	}

	sort.Slice(toks, func(i, j int) bool { return toks[i].start < toks[j].start })

	// Drop overlaps so the delta encoding stays monotonic
	out := toks[:0]
	prevEnd := -1
	for _, t := range toks {
		if t.start < prevEnd {
			continue
		}
		out = append(out, t)
		prevEnd = t.start + t.length
	}
	return out
}

func encodeSemTokens(doc *document.Snapshot, enc Encoding, toks []semToken) []uint32 {
	data := make([]uint32, 0, len(toks)*5)
	prevLine, prevChar := 0, 0
	for _, t := range toks {
		p := doc.Mapper.FromByte(t.start, enc)
		endP := doc.Mapper.FromByte(t.start+t.length, enc)
		length := endP.Character - p.Character
		if endP.Line != p.Line {
			// Multi-line token (heredoc, POD): clamp to first line
			_, contentEnd, _ := doc.Mapper.LineIndex().LineSpan(p.Line, doc.Text)
			end := doc.Mapper.FromByte(contentEnd, enc)
			length = end.Character - p.Character
		}
		if length <= 0 {
			continue
		}

		deltaLine := p.Line - prevLine
		deltaChar := p.Character
		if deltaLine == 0 {
			deltaChar = p.Character - prevChar
		}
		data = append(data, uint32(deltaLine), uint32(deltaChar), uint32(length), t.typ, 0)
		prevLine, prevChar = p.Line, p.Character
	}
	return data
}

// SemanticTokensDelta diffs a previous full result against the current
// one, emitting a single splice edit covering the changed region.
func SemanticTokensDelta(prev []uint32, doc *document.Snapshot, enc Encoding) *protocol.SemanticTokensDelta {
	cur := SemanticTokensFull(doc, enc).Data

	// Common prefix and suffix
	p := 0
	for p < len(prev) && p < len(cur) && prev[p] == cur[p] {
		p++
	}
	sPrev, sCur := len(prev), len(cur)
	for sPrev > p && sCur > p && prev[sPrev-1] == cur[sCur-1] {
		sPrev--
		sCur--
	}

	if p == len(prev) && p == len(cur) {
		return &protocol.SemanticTokensDelta{Edits: []protocol.SemanticTokensEdit{}}
	}
	return &protocol.SemanticTokensDelta{
		Edits: []protocol.SemanticTokensEdit{{
			Start:       uint32(p),
			DeleteCount: uint32(sPrev - p),
			Data:        cur[p:sCur],
		}},
	}
}
