// Package parser implements the hand-written recursive-descent Perl
// parser. Parse always returns a tree: syntax errors become explicit
// ERROR nodes spanning to the next synchronization point, and recursion
// past the configured bound becomes a recursion_limit node. Heredoc bodies
// are stitched to their start markers in a post-pass.
package parser

import (
	"strings"

	"github.com/camelscope/camelscope/internal/lexer"
	"github.com/camelscope/camelscope/internal/syntax"
)

// DefaultMaxDepth bounds construct nesting. Checked on entry to each
// recursive rule; exceeding it produces a recursion_limit node and
// unwinds to the statement level.
const DefaultMaxDepth = 500

// Options configure a parse.
type Options struct {
	// MaxDepth overrides DefaultMaxDepth when > 0.
	MaxDepth int
}

// Parser holds the state of one parse. It consumes the lexer through a
// two-token window (tok, peek).
type Parser struct {
	src     string
	lx      *lexer.Lexer
	tok     lexer.Token
	peek    lexer.Token
	prevEnd int

	arena    syntax.Arena
	maxDepth int
	depth    int

	errors []*syntax.Node

	// heredoc stitching
	bodies   []lexer.Token
	heredocs []*syntax.Node
}

// Parse parses src with default options.
func Parse(src string) *syntax.Tree {
	return ParseWith(src, Options{})
}

// ParseWith parses src with explicit options.
func ParseWith(src string, opts Options) *syntax.Tree {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	p := &Parser{src: src, lx: lexer.New(src), maxDepth: maxDepth}
	// Prime the two-token window
	p.advance()
	p.advance()
	root := p.parseProgram()
	tree := &syntax.Tree{Root: root, Errors: p.errors}
	for _, c := range p.lx.Comments {
		tree.Comments = append(tree.Comments, syntax.Comment{
			Start: c.Start, End: c.End, Text: c.Text, Pod: c.Kind == lexer.Pod,
		})
	}
	p.stitchHeredocs(tree)
	return tree
}

// advance shifts the token window. Heredoc bodies never enter the window;
// they are set aside for the stitching post-pass.
func (p *Parser) advance() {
	p.prevEnd = p.tok.End
	p.tok = p.peek
	for {
		t := p.lx.Next()
		if t.Kind == lexer.HeredocBody {
			p.bodies = append(p.bodies, t)
			continue
		}
		p.peek = t
		return
	}
}

func (p *Parser) at(k lexer.Kind) bool    { return p.tok.Kind == k }
func (p *Parser) atOp(text string) bool   { return p.tok.IsOp(text) }
func (p *Parser) atKeyword(w string) bool { return p.tok.IsKeyword(w) }
func (p *Parser) peekOp(text string) bool { return p.peek.IsOp(text) }

// eatOp consumes the operator if present.
func (p *Parser) eatOp(text string) bool {
	if p.atOp(text) {
		p.advance()
		return true
	}
	return false
}

// eatSemi consumes an optional statement terminator.
func (p *Parser) eatSemi() {
	if p.atOp(";") {
		p.advance()
	}
}

// node allocates from the parse arena.
func (p *Parser) node(kind syntax.NodeKind, start, end int) *syntax.Node {
	return p.arena.New(kind, start, end)
}

// variableNode builds a variable leaf from the current token.
func (p *Parser) variableNode() *syntax.Node {
	v := p.node(syntax.KindVariable, p.tok.Start, p.tok.End)
	v.Sigil = p.tok.Sigil
	v.Name = p.tok.Name
	return v
}

// errorTo synthesizes an ERROR node from start to the next sync point:
// a statement terminator, the next closing brace (nesting is not
// tracked), or EOF.
func (p *Parser) errorTo(start int, msg string) *syntax.Node {
	for !p.at(lexer.EOF) && !p.atOp(";") && !p.atOp("}") {
		p.advance()
	}
	if p.atOp(";") {
		p.advance()
	}
	end := max(start, p.prevEnd)
	n := p.node(syntax.KindError, start, end)
	n.Text = msg
	p.errors = append(p.errors, n)
	return n
}

// recursionNode reports that the depth bound was hit and skips to a sync
// point so the caller chain can unwind without reentering the rule.
func (p *Parser) recursionNode() *syntax.Node {
	start := p.tok.Start
	for !p.at(lexer.EOF) && !p.atOp(";") && !p.atOp("}") {
		p.advance()
	}
	n := p.node(syntax.KindRecursionLimit, start, max(start, p.prevEnd))
	p.errors = append(p.errors, n)
	return n
}

// enter is the per-rule depth check. It returns false when the bound is
// exceeded; the caller must then return p.recursionNode().
func (p *Parser) enter() bool {
	p.depth++
	return p.depth <= p.maxDepth
}

func (p *Parser) leave() {
	p.depth--
}

func (p *Parser) parseProgram() *syntax.Node {
	prog := p.node(syntax.KindProgram, 0, len(p.src))
	for !p.at(lexer.EOF) {
		before := p.tok
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Children = append(prog.Children, stmt)
		}
		// Totality guard: any statement parse must consume input
		if p.tok.Kind == before.Kind && p.tok.Start == before.Start && !p.at(lexer.EOF) {
			p.advance()
		}
	}
	return prog
}

func (p *Parser) parseStatement() *syntax.Node {
	if !p.enter() {
		p.leave()
		return p.recursionNode()
	}
	defer p.leave()

	start := p.tok.Start
	switch {
	case p.at(lexer.Error):
		msg := p.tok.Message
		p.advance()
		return p.errorTo(start, msg)

	case p.atOp(";"):
		p.advance()
		return nil // empty statement

	case p.at(lexer.Keyword):
		return p.parseKeywordStatement()

	case p.atOp("{"):
		return p.parseBlock()

	case p.at(lexer.Ident) && p.peekOp(":"):
		name := p.tok.Text
		p.advance() // name
		p.advance() // :
		n := p.node(syntax.KindLabel, start, p.prevEnd)
		n.Name = name
		if !p.at(lexer.EOF) && !p.atOp("}") {
			if body := p.parseStatement(); body != nil {
				n.Children = append(n.Children, body)
				n.End = body.End
			}
		}
		return n

	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) parseKeywordStatement() *syntax.Node {
	word := p.tok.Text
	switch word {
	case "package":
		return p.parsePackage()
	case "use", "no":
		return p.parseUse(word)
	case "require":
		return p.parseRequire()
	case "sub":
		if p.peek.Kind == lexer.Ident {
			return p.parseSubLike(syntax.KindSubDecl)
		}
		return p.parseExprStatement() // anonymous sub expression
	case "method":
		if p.peek.Kind == lexer.Ident {
			return p.parseSubLike(syntax.KindMethodDecl)
		}
		return p.parseExprStatement()
	case "class":
		return p.parseClass()
	case "field":
		return p.parseField()
	case "if", "unless":
		return p.parseIf(word)
	case "while", "until":
		return p.parseWhile(word)
	case "for", "foreach":
		return p.parseFor(word)
	case "try":
		return p.parseTry()
	case "defer":
		start := p.tok.Start
		p.advance()
		n := p.node(syntax.KindDefer, start, p.prevEnd)
		if p.atOp("{") {
			blk := p.parseBlock()
			n.Children = append(n.Children, blk)
			n.End = blk.End
		}
		p.eatSemi()
		return n
	default:
		// my/our/local/state, do, eval, anonymous sub: expression forms
		return p.parseExprStatement()
	}
}

func (p *Parser) parsePackage() *syntax.Node {
	start := p.tok.Start
	p.advance() // package
	n := p.node(syntax.KindPackage, start, p.prevEnd)
	if p.at(lexer.Ident) {
		n.Name = p.tok.Text
		p.advance()
	} else {
		return p.errorTo(start, "expected package name")
	}
	if p.at(lexer.Number) { // package Foo 1.23;
		p.advance()
	}
	if p.atOp("{") {
		blk := p.parseBlock()
		n.Children = append(n.Children, blk)
		n.End = blk.End
		return n
	}
	n.End = p.prevEnd
	p.eatSemi()
	n.End = max(n.End, p.prevEnd)
	return n
}

func (p *Parser) parseUse(word string) *syntax.Node {
	start := p.tok.Start
	p.advance() // use / no
	n := p.node(syntax.KindUse, start, p.prevEnd)
	n.Text = word
	switch {
	case p.at(lexer.Ident), p.at(lexer.Number):
		n.Name = p.tok.Text
		p.advance()
	default:
		return p.errorTo(start, "expected module name after "+word)
	}
	for !p.atOp(";") && !p.atOp("}") && !p.at(lexer.EOF) {
		arg := p.parseExpr(bpAssign)
		n.Children = append(n.Children, arg)
		if !p.eatOp(",") && !p.eatOp("=>") {
			break
		}
	}
	n.End = p.prevEnd
	p.eatSemi()
	n.End = max(n.End, p.prevEnd)
	return n
}

func (p *Parser) parseRequire() *syntax.Node {
	start := p.tok.Start
	p.advance()
	n := p.node(syntax.KindRequire, start, p.prevEnd)
	switch {
	case p.at(lexer.Ident), p.at(lexer.Number):
		n.Name = p.tok.Text
		p.advance()
	case p.at(lexer.String), p.at(lexer.Variable):
		expr := p.parseExpr(bpAssign)
		n.Children = append(n.Children, expr)
	default:
		return p.errorTo(start, "expected module after require")
	}
	n.End = p.prevEnd
	return p.finishSimpleStatement(n)
}

// parseSubLike parses `sub NAME ... BLOCK` and `method NAME ... BLOCK`.
func (p *Parser) parseSubLike(kind syntax.NodeKind) *syntax.Node {
	start := p.tok.Start
	p.advance() // sub / method
	n := p.node(kind, start, p.prevEnd)
	n.Name = p.tok.Text
	p.advance()
	if p.atOp("(") {
		sig := p.parseSignature()
		n.Children = append(n.Children, sig)
	}
	// Attributes: `:lvalue` etc., skipped to the body or terminator
	for p.atOp(":") {
		p.advance()
		if p.at(lexer.Ident) {
			p.advance()
			if p.atOp("(") {
				p.skipBalanced("(", ")")
			}
		}
	}
	if p.atOp("{") {
		blk := p.parseBlock()
		n.Children = append(n.Children, blk)
		n.End = blk.End
		return n
	}
	// Forward declaration
	n.End = p.prevEnd
	p.eatSemi()
	n.End = max(n.End, p.prevEnd)
	return n
}

func (p *Parser) parseSignature() *syntax.Node {
	start := p.tok.Start
	p.advance() // (
	n := p.node(syntax.KindSignature, start, p.prevEnd)
	for !p.atOp(")") && !p.at(lexer.EOF) {
		if p.at(lexer.Variable) {
			v := p.variableNode()
			n.Children = append(n.Children, v)
			p.advance()
			if p.eatOp("=") || p.eatOp("//=") || p.eatOp("||=") {
				p.parseExpr(bpTernary)
			}
		} else {
			p.advance()
		}
		p.eatOp(",")
	}
	p.eatOp(")")
	n.End = p.prevEnd
	return n
}

func (p *Parser) parseClass() *syntax.Node {
	start := p.tok.Start
	p.advance() // class
	n := p.node(syntax.KindClassDecl, start, p.prevEnd)
	if !p.at(lexer.Ident) {
		return p.errorTo(start, "expected class name")
	}
	n.Name = p.tok.Text
	p.advance()
	if p.at(lexer.Number) { // class Foo 1.0
		p.advance()
	}
	for p.atOp(":") { // :isa(Base)
		p.advance()
		if p.at(lexer.Ident) {
			p.advance()
			if p.atOp("(") {
				p.skipBalanced("(", ")")
			}
		}
	}
	if p.atOp("{") {
		blk := p.parseBlock()
		n.Children = append(n.Children, blk)
		n.End = blk.End
		return n
	}
	n.End = p.prevEnd
	p.eatSemi()
	n.End = max(n.End, p.prevEnd)
	return n
}

func (p *Parser) parseField() *syntax.Node {
	start := p.tok.Start
	p.advance() // field
	n := p.node(syntax.KindFieldDecl, start, p.prevEnd)
	if p.at(lexer.Variable) {
		n.Sigil = p.tok.Sigil
		n.Name = p.tok.Name
		n.Children = append(n.Children, p.variableNode())
		p.advance()
	} else {
		return p.errorTo(start, "expected field variable")
	}
	for p.atOp(":") { // :param etc.
		p.advance()
		if p.at(lexer.Ident) {
			p.advance()
		}
	}
	if p.eatOp("=") || p.eatOp("//=") || p.eatOp("||=") {
		init := p.parseExpr(bpAssign)
		n.Children = append(n.Children, init)
	}
	n.End = p.prevEnd
	return p.finishSimpleStatement(n)
}

func (p *Parser) parseBlock() *syntax.Node {
	if !p.enter() {
		p.leave()
		return p.recursionNode()
	}
	defer p.leave()

	start := p.tok.Start
	p.advance() // {
	n := p.node(syntax.KindBlock, start, p.prevEnd)
	for !p.atOp("}") && !p.at(lexer.EOF) {
		before := p.tok
		stmt := p.parseStatement()
		if stmt != nil {
			n.Children = append(n.Children, stmt)
		}
		if p.tok.Kind == before.Kind && p.tok.Start == before.Start && !p.at(lexer.EOF) {
			p.advance()
		}
	}
	if p.atOp("}") {
		p.advance()
	}
	n.End = p.prevEnd
	return n
}

func (p *Parser) parseIf(word string) *syntax.Node {
	start := p.tok.Start
	p.advance() // if / unless
	kind := syntax.KindIf
	if word == "unless" {
		kind = syntax.KindUnless
	}
	n := p.node(kind, start, p.prevEnd)
	if !p.atOp("(") {
		return p.errorTo(start, "expected ( after "+word)
	}
	n.Children = append(n.Children, p.parseParen())
	if !p.atOp("{") {
		return p.errorTo(start, "expected block after "+word+" condition")
	}
	blk := p.parseBlock()
	n.Children = append(n.Children, blk)
	n.End = blk.End
	for p.atKeyword("elsif") {
		cs := p.tok.Start
		p.advance()
		clause := p.node(syntax.KindElsif, cs, p.prevEnd)
		if p.atOp("(") {
			clause.Children = append(clause.Children, p.parseParen())
		}
		if p.atOp("{") {
			b := p.parseBlock()
			clause.Children = append(clause.Children, b)
			clause.End = b.End
		}
		n.Children = append(n.Children, clause)
		n.End = clause.End
	}
	if p.atKeyword("else") {
		cs := p.tok.Start
		p.advance()
		clause := p.node(syntax.KindElse, cs, p.prevEnd)
		if p.atOp("{") {
			b := p.parseBlock()
			clause.Children = append(clause.Children, b)
			clause.End = b.End
		}
		n.Children = append(n.Children, clause)
		n.End = clause.End
	}
	return n
}

func (p *Parser) parseWhile(word string) *syntax.Node {
	start := p.tok.Start
	p.advance()
	kind := syntax.KindWhile
	if word == "until" {
		kind = syntax.KindUntil
	}
	n := p.node(kind, start, p.prevEnd)
	if !p.atOp("(") {
		return p.errorTo(start, "expected ( after "+word)
	}
	n.Children = append(n.Children, p.parseParen())
	if !p.atOp("{") {
		return p.errorTo(start, "expected block after "+word+" condition")
	}
	blk := p.parseBlock()
	n.Children = append(n.Children, blk)
	n.End = blk.End
	return n
}

// parseFor distinguishes C-style `for (init; cond; step)` from
// `foreach my $x (list)` by scanning for a top-level ';' inside the
// parenthesized head.
func (p *Parser) parseFor(word string) *syntax.Node {
	start := p.tok.Start
	p.advance() // for / foreach

	var loopVar *syntax.Node
	if p.atKeyword("my") || p.atKeyword("our") || p.atKeyword("state") {
		ds := p.tok.Start
		declWord := p.tok.Text
		p.advance()
		decl := p.node(syntax.KindVarDecl, ds, p.prevEnd)
		decl.Text = declWord
		if p.at(lexer.Variable) {
			v := p.variableNode()
			decl.Children = append(decl.Children, v)
			decl.End = v.End
			p.advance()
		}
		loopVar = decl
	} else if p.at(lexer.Variable) && p.peekOp("(") {
		loopVar = p.variableNode()
		p.advance()
	}

	if !p.atOp("(") {
		return p.errorTo(start, "expected ( in "+word+" loop")
	}

	if loopVar == nil && p.headHasSemicolon() {
		n := p.node(syntax.KindForC, start, p.prevEnd)
		p.advance() // (
		if !p.atOp(";") {
			n.Children = append(n.Children, p.parseExpr(bpLowOr))
		}
		p.eatOp(";")
		if !p.atOp(";") {
			n.Children = append(n.Children, p.parseExpr(bpLowOr))
		}
		p.eatOp(";")
		if !p.atOp(")") {
			n.Children = append(n.Children, p.parseExpr(bpLowOr))
		}
		p.eatOp(")")
		if p.atOp("{") {
			blk := p.parseBlock()
			n.Children = append(n.Children, blk)
			n.End = blk.End
		} else {
			n.End = p.prevEnd
		}
		return n
	}

	n := p.node(syntax.KindForeach, start, p.prevEnd)
	if loopVar != nil {
		n.Children = append(n.Children, loopVar)
	}
	n.Children = append(n.Children, p.parseParen())
	if !p.atOp("{") {
		return p.errorTo(start, "expected block after "+word+" list")
	}
	blk := p.parseBlock()
	n.Children = append(n.Children, blk)
	n.End = blk.End
	return n
}

// headHasSemicolon scans the source for a ';' before the ')' matching the
// current '(' token, without consuming anything.
func (p *Parser) headHasSemicolon() bool {
	depth := 0
	for i := p.tok.Start; i < len(p.src); i++ {
		switch p.src[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return false
			}
		case ';':
			if depth == 1 {
				return true
			}
		}
	}
	return false
}

func (p *Parser) parseTry() *syntax.Node {
	start := p.tok.Start
	p.advance() // try
	n := p.node(syntax.KindTry, start, p.prevEnd)
	if !p.atOp("{") {
		return p.errorTo(start, "expected block after try")
	}
	blk := p.parseBlock()
	n.Children = append(n.Children, blk)
	n.End = blk.End
	if p.atKeyword("catch") {
		cs := p.tok.Start
		p.advance()
		clause := p.node(syntax.KindCatch, cs, p.prevEnd)
		if p.atOp("(") {
			clause.Children = append(clause.Children, p.parseParen())
		}
		if p.atOp("{") {
			b := p.parseBlock()
			clause.Children = append(clause.Children, b)
			clause.End = b.End
		}
		n.Children = append(n.Children, clause)
		n.End = clause.End
	}
	if p.atKeyword("finally") {
		fs := p.tok.Start
		p.advance()
		clause := p.node(syntax.KindFinally, fs, p.prevEnd)
		if p.atOp("{") {
			b := p.parseBlock()
			clause.Children = append(clause.Children, b)
			clause.End = b.End
		}
		n.Children = append(n.Children, clause)
		n.End = clause.End
	}
	p.eatSemi()
	return n
}

// parseExprStatement parses an expression statement, then any trailing
// statement modifiers, then the terminator. The expression node itself is
// the statement; modifiers re-wrap it.
func (p *Parser) parseExprStatement() *syntax.Node {
	start := p.tok.Start
	expr := p.parseExpr(bpLowOr)
	if expr == nil {
		return p.errorTo(start, "expected expression")
	}
	return p.finishSimpleStatement(expr)
}

// atStatementModifier reports whether the current token begins a trailing
// statement modifier.
func (p *Parser) atStatementModifier() bool {
	if !p.at(lexer.Keyword) {
		return false
	}
	switch p.tok.Text {
	case "if", "unless", "while", "until", "for", "foreach":
		return true
	}
	return false
}

// finishSimpleStatement applies statement modifiers to stmt, consumes the
// terminator, and returns the (possibly re-wrapped) statement node.
func (p *Parser) finishSimpleStatement(stmt *syntax.Node) *syntax.Node {
	for p.atStatementModifier() {
		word := p.tok.Text
		p.advance()
		var kind syntax.NodeKind
		switch word {
		case "if":
			kind = syntax.KindIfMod
		case "unless":
			kind = syntax.KindUnlessMod
		case "while":
			kind = syntax.KindWhileMod
		case "until":
			kind = syntax.KindUntilMod
		case "for":
			kind = syntax.KindForMod
		default:
			kind = syntax.KindForeachMod
		}
		cond := p.parseExpr(bpLowOr)
		mod := p.node(kind, stmt.Start, cond.End)
		mod.Children = append(mod.Children, stmt, cond)
		stmt = mod
	}
	p.eatSemi()
	if p.prevEnd > stmt.End {
		stmt.End = p.prevEnd
	}
	return stmt
}

// skipBalanced consumes from an opening delimiter through its matching
// closer, used for constructs we record but do not model (attribute
// arguments).
func (p *Parser) skipBalanced(open, clos string) {
	depth := 0
	for !p.at(lexer.EOF) {
		if p.atOp(open) {
			depth++
		} else if p.atOp(clos) {
			depth--
			if depth == 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

// stitchHeredocs aligns HeredocBody tokens with heredoc start nodes by
// tag, in source order. Bodies live outside their statement's byte range,
// so they are linked through the tree's Heredocs map rather than spliced
// into the child lists.
func (p *Parser) stitchHeredocs(tree *syntax.Tree) {
	if len(p.heredocs) == 0 || len(p.bodies) == 0 {
		return
	}
	tree.Heredocs = make(map[*syntax.Node]*syntax.Node, len(p.heredocs))
	used := make([]bool, len(p.bodies))
	for _, h := range p.heredocs {
		for i, b := range p.bodies {
			if used[i] || b.Tag != h.Name || b.Start < h.End {
				continue
			}
			body := p.node(syntax.KindHeredocBody, b.Start, b.End)
			body.Text = b.Body
			tree.Heredocs[h] = body
			used[i] = true
			break
		}
	}
}

func trimFlags(text, flags string) string {
	return strings.TrimSuffix(text, flags)
}
