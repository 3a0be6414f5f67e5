// Package syntax defines the typed syntax tree produced by the parser:
// node kinds, byte ranges, structural invariants, and the S-expression
// serialization used for cross-parser parity tests.
package syntax

import "fmt"

// NodeKind enumerates the closed set of node kinds.
type NodeKind uint8

const (
	KindProgram NodeKind = iota
	KindPackage
	KindUse
	KindRequire
	KindSubDecl
	KindMethodDecl
	KindClassDecl
	KindFieldDecl
	KindAnonSub
	KindSignature
	KindVarDecl
	KindAssignment
	KindBinary
	KindBinaryISA
	KindUnary
	KindPostfixDeref
	KindTernary
	KindCall
	KindMethodCall
	KindVariable
	KindCast
	KindElement
	KindNumber
	KindString
	KindQwList
	KindQuoted
	KindRegex
	KindSubstitution
	KindTransliteration
	KindHeredoc
	KindHeredocBody
	KindReadline
	KindFileTest
	KindList
	KindParen
	KindAnonArray
	KindAnonHash
	KindBlock
	KindIf
	KindElsif
	KindElse
	KindUnless
	KindWhile
	KindUntil
	KindForC
	KindForeach
	KindIfMod
	KindUnlessMod
	KindWhileMod
	KindUntilMod
	KindForMod
	KindForeachMod
	KindReturn
	KindLoopCtrl
	KindDoBlock
	KindEvalBlock
	KindTry
	KindCatch
	KindFinally
	KindDefer
	KindLabel
	KindError
	KindRecursionLimit

	kindCount
)

var kindNames = [kindCount]string{
	KindProgram:         "program",
	KindPackage:         "package_statement",
	KindUse:             "use_statement",
	KindRequire:         "require_statement",
	KindSubDecl:         "sub_declaration",
	KindMethodDecl:      "method_declaration",
	KindClassDecl:       "class_declaration",
	KindFieldDecl:       "field_declaration",
	KindAnonSub:         "anonymous_sub",
	KindSignature:       "signature",
	KindVarDecl:         "variable_declaration",
	KindAssignment:      "assignment",
	KindBinary:          "binary_exp",
	KindBinaryISA:       "binary_ISA",
	KindUnary:           "unary_exp",
	KindPostfixDeref:    "postfix_deref",
	KindTernary:         "ternary_exp",
	KindCall:            "call",
	KindMethodCall:      "method_call",
	KindVariable:        "variable",
	KindCast:            "cast",
	KindElement:         "element_access",
	KindNumber:          "number",
	KindString:          "string",
	KindQwList:          "qw_list",
	KindQuoted:          "quoted",
	KindRegex:           "regex",
	KindSubstitution:    "substitution",
	KindTransliteration: "transliteration",
	KindHeredoc:         "heredoc",
	KindHeredocBody:     "heredoc_body",
	KindReadline:        "readline",
	KindFileTest:        "file_test",
	KindList:            "list",
	KindParen:           "paren_exp",
	KindAnonArray:       "anonymous_array",
	KindAnonHash:        "anonymous_hash",
	KindBlock:           "block",
	KindIf:              "if_statement",
	KindElsif:           "elsif_clause",
	KindElse:            "else_clause",
	KindUnless:          "unless_statement",
	KindWhile:           "while_statement",
	KindUntil:           "until_statement",
	KindForC:            "for_statement",
	KindForeach:         "foreach_statement",
	KindIfMod:           "if_modifier",
	KindUnlessMod:       "unless_modifier",
	KindWhileMod:        "while_modifier",
	KindUntilMod:        "until_modifier",
	KindForMod:          "for_modifier",
	KindForeachMod:      "foreach_modifier",
	KindReturn:          "return_statement",
	KindLoopCtrl:        "loop_control",
	KindDoBlock:         "do_block",
	KindEvalBlock:       "eval_block",
	KindTry:             "try_statement",
	KindCatch:           "catch_clause",
	KindFinally:         "finally_clause",
	KindDefer:           "defer_block",
	KindLabel:           "label",
	KindError:           "ERROR",
	KindRecursionLimit:  "recursion_limit",
}

// String returns the S-expression name of the kind.
func (k NodeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is one syntax tree node. Nodes do not own source text; Text, Name
// and Flags hold small identifying payloads (identifier spelling, operator,
// raw literal) and everything else is recovered by slicing the document
// rope with [Start, End).
type Node struct {
	Kind     NodeKind
	Start    int
	End      int
	Children []*Node

	// Kind-specific payloads
	Text  string // operator spelling, identifier, raw literal text
	Name  string // declared name (subs, packages, variables)
	Sigil byte   // variable sigil
	Flags string // regex / quote-like flags
}

// Span returns the byte range as a pair.
func (n *Node) Span() (int, int) {
	return n.Start, n.End
}

// Contains reports whether the byte offset falls inside the node.
func (n *Node) Contains(off int) bool {
	return off >= n.Start && off < n.End
}

// ChildAt returns the deepest descendant containing off, or nil.
func (n *Node) ChildAt(off int) *Node {
	if !n.Contains(off) {
		return nil
	}
	cur := n
outer:
	for {
		for _, c := range cur.Children {
			if c.Contains(off) {
				cur = c
				continue outer
			}
		}
		return cur
	}
}

// Walk calls fn for n and every descendant in source order. Returning
// false prunes the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Tree is a parsed file: the root program node plus parse-wide metadata.
type Tree struct {
	Root *Node

	// Errors lists every Error and RecursionLimit node for diagnostics,
	// in source order.
	Errors []*Node

	// Heredocs links each heredoc start node to its stitched body node.
	// Bodies live after the statement that starts them, outside its byte
	// range, so they are linked here instead of appearing as children.
	Heredocs map[*Node]*Node

	// Comments carries the comment trivia from the lexer, in source
	// order, for doc extraction and semantic tokens.
	Comments []Comment
}

// Comment is one piece of comment or POD trivia.
type Comment struct {
	Start int
	End   int
	Text  string
	Pod   bool
}

// Validate checks the structural invariants: every child range contained
// in its parent, sibling ranges non-overlapping and in source order.
func (t *Tree) Validate() error {
	return validate(t.Root)
}

func validate(n *Node) error {
	prevEnd := n.Start
	for _, c := range n.Children {
		if c.Start < n.Start || c.End > n.End {
			return fmt.Errorf("%s [%d,%d) escapes parent %s [%d,%d)", c.Kind, c.Start, c.End, n.Kind, n.Start, n.End)
		}
		if c.Start < prevEnd {
			return fmt.Errorf("%s at %d overlaps previous sibling ending at %d", c.Kind, c.Start, prevEnd)
		}
		if c.End < c.Start {
			return fmt.Errorf("%s has inverted range [%d,%d)", c.Kind, c.Start, c.End)
		}
		prevEnd = c.End
		if err := validate(c); err != nil {
			return err
		}
	}
	return nil
}

// Arena bulk-allocates nodes for one parse. A full reparse drops the whole
// arena at once instead of freeing nodes piecemeal.
type Arena struct {
	chunk []Node
}

const arenaChunk = 256

// New returns a zeroed node from the arena.
func (a *Arena) New(kind NodeKind, start, end int) *Node {
	if len(a.chunk) == cap(a.chunk) {
		a.chunk = make([]Node, 0, arenaChunk)
	}
	a.chunk = append(a.chunk, Node{Kind: kind, Start: start, End: end})
	return &a.chunk[len(a.chunk)-1]
}
