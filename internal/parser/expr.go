package parser

import (
	"github.com/camelscope/camelscope/internal/lexer"
	"github.com/camelscope/camelscope/internal/syntax"
)

// Binding powers, low to high, following Perl's documented precedence.
// Higher binds tighter. Right-associative levels re-enter at the same
// power; left-associative levels re-enter one above.
const (
	bpLowOr    = 1  // or xor
	bpLowAnd   = 2  // and
	bpLowNot   = 3  // not
	bpComma    = 4  // , =>
	bpAssign   = 5  // = += -= ...
	bpTernary  = 6  // ?:
	bpRange    = 7  // .. ...
	bpOrOr     = 8  // || //
	bpAndAnd   = 9  // &&
	bpBitOr    = 10 // | ^
	bpBitAnd   = 11 // &
	bpEquality = 12 // == != <=> eq ne cmp ~~
	bpRelation = 13 // < > <= >= lt gt le ge ISA
	bpNamedUni = 14 // named unary operators, file tests
	bpShift    = 15 // << >>
	bpAdditive = 16 // + - .
	bpMultipl  = 17 // * / % x
	bpBind     = 18 // =~ !~
	bpUnary    = 19 // ! ~ \ unary + -
	bpPower    = 20 // **
	bpIncDec   = 21 // ++ --
)

type infixInfo struct {
	bp         int
	rightAssoc bool
}

var symbolInfix = map[string]infixInfo{
	"=":   {bpAssign, true},
	"+=":  {bpAssign, true},
	"-=":  {bpAssign, true},
	"*=":  {bpAssign, true},
	"/=":  {bpAssign, true},
	".=":  {bpAssign, true},
	"%=":  {bpAssign, true},
	"x=":  {bpAssign, true},
	"**=": {bpAssign, true},
	"||=": {bpAssign, true},
	"&&=": {bpAssign, true},
	"//=": {bpAssign, true},
	"|=":  {bpAssign, true},
	"&=":  {bpAssign, true},
	"^=":  {bpAssign, true},
	"<<=": {bpAssign, true},
	">>=": {bpAssign, true},

	"..":  {bpRange, false},
	"...": {bpRange, false},

	"||": {bpOrOr, false},
	"//": {bpOrOr, false},
	"&&": {bpAndAnd, false},

	"|": {bpBitOr, false},
	"^": {bpBitOr, false},
	"&": {bpBitAnd, false},

	"==":  {bpEquality, false},
	"!=":  {bpEquality, false},
	"<=>": {bpEquality, false},
	"~~":  {bpEquality, false},

	"<":  {bpRelation, false},
	">":  {bpRelation, false},
	"<=": {bpRelation, false},
	">=": {bpRelation, false},

	"<<": {bpShift, false},
	">>": {bpShift, false},

	"+": {bpAdditive, false},
	"-": {bpAdditive, false},
	".": {bpAdditive, false},

	"*": {bpMultipl, false},
	"/": {bpMultipl, false},
	"%": {bpMultipl, false},

	"=~": {bpBind, false},
	"!~": {bpBind, false},

	"**": {bpPower, true},
}

var wordInfix = map[string]infixInfo{
	"or":  {bpLowOr, false},
	"xor": {bpLowOr, false},
	"and": {bpLowAnd, false},
	"eq":  {bpEquality, false},
	"ne":  {bpEquality, false},
	"cmp": {bpEquality, false},
	"lt":  {bpRelation, false},
	"gt":  {bpRelation, false},
	"le":  {bpRelation, false},
	"ge":  {bpRelation, false},
	"ISA": {bpRelation, false},
	"isa": {bpRelation, false},
	"x":   {bpMultipl, false},
}

// peekInfix classifies the current token as an infix operator, if it is
// one in this position.
func (p *Parser) peekInfix() (text string, info infixInfo, ok bool) {
	switch p.tok.Kind {
	case lexer.Op:
		switch p.tok.Text {
		case ",", "=>":
			return p.tok.Text, infixInfo{bpComma, false}, true
		case "?":
			return "?", infixInfo{bpTernary, true}, true
		}
		if in, found := symbolInfix[p.tok.Text]; found {
			return p.tok.Text, in, true
		}
	case lexer.Ident:
		if in, found := wordInfix[p.tok.Text]; found {
			return p.tok.Text, in, true
		}
	}
	return "", infixInfo{}, false
}

// parseExpr parses an expression with Pratt-style precedence climbing.
func (p *Parser) parseExpr(minBP int) *syntax.Node {
	if !p.enter() {
		p.leave()
		return p.recursionNode()
	}
	defer p.leave()

	left := p.parsePrefix()
	if left == nil {
		return p.errorTo(p.tok.Start, "expected expression near "+p.tok.Text)
	}

	for {
		op, info, ok := p.peekInfix()
		if !ok || info.bp < minBP {
			return left
		}
		p.advance() // operator

		switch {
		case op == "?":
			mid := p.parseExpr(bpAssign)
			var right *syntax.Node
			if p.eatOp(":") {
				right = p.parseExpr(bpTernary)
			} else {
				right = p.errorTo(p.tok.Start, "expected : in ternary")
			}
			n := p.node(syntax.KindTernary, left.Start, right.End)
			n.Children = append(n.Children, left, mid, right)
			left = n

		case op == "," || op == "=>":
			if !p.startsExpr() {
				// trailing separator
				if left.Kind != syntax.KindList {
					n := p.node(syntax.KindList, left.Start, p.prevEnd)
					n.Children = append(n.Children, left)
					left = n
				} else {
					left.End = p.prevEnd
				}
				continue
			}
			right := p.parseExpr(bpComma + 1)
			if left.Kind == syntax.KindList {
				left.Children = append(left.Children, right)
				left.End = right.End
			} else {
				n := p.node(syntax.KindList, left.Start, right.End)
				n.Children = append(n.Children, left, right)
				left = n
			}

		default:
			nextMin := info.bp + 1
			if info.rightAssoc {
				nextMin = info.bp
			}
			right := p.parseExpr(nextMin)
			var kind syntax.NodeKind
			switch {
			case info.bp == bpAssign:
				kind = syntax.KindAssignment
			case op == "ISA" || op == "isa":
				kind = syntax.KindBinaryISA
			default:
				kind = syntax.KindBinary
			}
			n := p.node(kind, left.Start, right.End)
			if kind != syntax.KindBinaryISA {
				n.Text = op
			}
			n.Children = append(n.Children, left, right)
			left = n
		}
	}
}

// startsExpr reports whether the current token can begin a term.
func (p *Parser) startsExpr() bool {
	switch p.tok.Kind {
	case lexer.Number, lexer.String, lexer.QuoteLike, lexer.Match,
		lexer.Readline, lexer.Variable, lexer.Cast, lexer.FileTest,
		lexer.HeredocStart:
		return true
	case lexer.Ident:
		// A word operator cannot begin a term, except prefix not
		return !lexer.IsWordOperator(p.tok.Text) || p.tok.Text == "not"
	case lexer.Keyword:
		switch p.tok.Text {
		case "my", "our", "local", "state", "do", "eval", "sub", "return",
			"last", "next", "redo", "goto":
			return true
		}
		return false
	case lexer.Op:
		switch p.tok.Text {
		case "(", "[", "{", "\\", "!", "~", "-", "+", "++", "--", "$", "@", "%", "&", "*":
			return true
		}
		return false
	default:
		return false
	}
}

// parsePrefix parses one primary term plus its postfix chain.
func (p *Parser) parsePrefix() *syntax.Node {
	if !p.enter() {
		p.leave()
		return p.recursionNode()
	}
	defer p.leave()

	start := p.tok.Start
	var n *syntax.Node

	switch p.tok.Kind {
	case lexer.Number:
		n = p.node(syntax.KindNumber, start, p.tok.End)
		n.Text = p.tok.Text
		p.advance()

	case lexer.String:
		n = p.node(syntax.KindString, start, p.tok.End)
		n.Text = p.tok.Text
		p.advance()

	case lexer.Readline:
		n = p.node(syntax.KindReadline, start, p.tok.End)
		n.Text = p.tok.Text
		p.advance()

	case lexer.Match:
		n = p.node(syntax.KindRegex, start, p.tok.End)
		n.Text = trimFlags(p.tok.Text, p.tok.Flags)
		n.Flags = p.tok.Flags
		p.advance()

	case lexer.QuoteLike:
		var kind syntax.NodeKind
		switch p.tok.Op {
		case "qw":
			kind = syntax.KindQwList
		case "m", "qr":
			kind = syntax.KindRegex
		case "s":
			kind = syntax.KindSubstitution
		case "tr", "y":
			kind = syntax.KindTransliteration
		default: // q qq qx
			kind = syntax.KindQuoted
		}
		n = p.node(kind, start, p.tok.End)
		n.Text = trimFlags(p.tok.Text, p.tok.Flags)
		n.Flags = p.tok.Flags
		p.advance()

	case lexer.HeredocStart:
		n = p.node(syntax.KindHeredoc, start, p.tok.End)
		n.Name = p.tok.Tag
		n.Text = p.tok.Text
		p.heredocs = append(p.heredocs, n)
		p.advance()

	case lexer.Variable:
		n = p.variableNode()
		p.advance()

	case lexer.Cast:
		n = p.node(syntax.KindCast, start, p.tok.End)
		n.Text = p.tok.Text
		p.advance()
		var operand *syntax.Node
		if p.atOp("{") {
			obs := p.tok.Start
			p.advance()
			operand = p.node(syntax.KindBlock, obs, p.prevEnd)
			if !p.atOp("}") {
				inner := p.parseExpr(bpLowOr)
				operand.Children = append(operand.Children, inner)
			}
			p.eatOp("}")
			operand.End = p.prevEnd
		} else {
			operand = p.parsePrefix()
		}
		if operand != nil {
			n.Children = append(n.Children, operand)
			n.End = operand.End
		}

	case lexer.FileTest:
		n = p.node(syntax.KindFileTest, start, p.tok.End)
		n.Text = p.tok.Text
		p.advance()
		if p.startsExpr() {
			operand := p.parseExpr(bpNamedUni)
			n.Children = append(n.Children, operand)
			n.End = operand.End
		}

	case lexer.Error:
		n = p.node(syntax.KindError, start, p.tok.End)
		n.Text = p.tok.Message
		p.errors = append(p.errors, n)
		p.advance()

	case lexer.Keyword:
		n = p.parseKeywordTerm()

	case lexer.Ident:
		n = p.parseBareword()

	case lexer.Op:
		n = p.parseOpTerm()
	}

	if n == nil {
		return nil
	}
	return p.parsePostfix(n)
}

// parseKeywordTerm handles keywords that are legal in expression
// position.
func (p *Parser) parseKeywordTerm() *syntax.Node {
	start := p.tok.Start
	word := p.tok.Text
	switch word {
	case "my", "our", "local", "state":
		p.advance()
		n := p.node(syntax.KindVarDecl, start, p.prevEnd)
		n.Text = word
		switch {
		case p.at(lexer.Variable):
			v := p.variableNode()
			n.Children = append(n.Children, v)
			n.End = v.End
			p.advance()
		case p.atOp("("):
			lst := p.parseParen()
			n.Children = append(n.Children, lst)
			n.End = lst.End
		default:
			return p.errorTo(start, "expected variable after "+word)
		}
		return n

	case "do":
		p.advance()
		n := p.node(syntax.KindDoBlock, start, p.prevEnd)
		if p.atOp("{") {
			blk := p.parseBlock()
			n.Children = append(n.Children, blk)
			n.End = blk.End
		} else if p.startsExpr() {
			expr := p.parseExpr(bpNamedUni)
			n.Children = append(n.Children, expr)
			n.End = expr.End
		}
		return n

	case "eval":
		p.advance()
		n := p.node(syntax.KindEvalBlock, start, p.prevEnd)
		if p.atOp("{") {
			blk := p.parseBlock()
			n.Children = append(n.Children, blk)
			n.End = blk.End
		} else if p.startsExpr() {
			expr := p.parseExpr(bpNamedUni)
			n.Children = append(n.Children, expr)
			n.End = expr.End
		}
		return n

	case "sub":
		p.advance()
		n := p.node(syntax.KindAnonSub, start, p.prevEnd)
		if p.atOp("(") {
			n.Children = append(n.Children, p.parseSignature())
		}
		if p.atOp("{") {
			blk := p.parseBlock()
			n.Children = append(n.Children, blk)
			n.End = blk.End
		}
		return n

	case "return":
		p.advance()
		n := p.node(syntax.KindReturn, start, p.prevEnd)
		if p.startsExpr() {
			expr := p.parseExpr(bpComma)
			n.Children = append(n.Children, expr)
			n.End = expr.End
		}
		return n

	case "last", "next", "redo", "goto":
		p.advance()
		n := p.node(syntax.KindLoopCtrl, start, p.prevEnd)
		n.Text = word
		if p.at(lexer.Ident) && !lexer.IsWordOperator(p.tok.Text) {
			n.Name = p.tok.Text
			p.advance()
			n.End = p.prevEnd
		}
		return n
	}
	return nil
}

// parseBareword handles identifiers in term position: auto-quoted hash
// keys, list-operator calls, and plain calls.
func (p *Parser) parseBareword() *syntax.Node {
	start := p.tok.Start
	name := p.tok.Text

	if name == "not" {
		p.advance()
		operand := p.parseExpr(bpLowNot)
		n := p.node(syntax.KindUnary, start, operand.End)
		n.Text = "not"
		n.Children = append(n.Children, operand)
		return n
	}
	p.advance()

	// Bareword before => auto-quotes
	if p.atOp("=>") {
		n := p.node(syntax.KindString, start, p.prevEnd)
		n.Text = name
		return n
	}

	n := p.node(syntax.KindCall, start, p.prevEnd)
	n.Name = name

	switch {
	case p.atOp("(") && p.tok.Start == p.prevEnd:
		args := p.parseParen()
		p.appendArgs(n, args)
		n.End = args.End
	case p.atOp("->"):
		// Package receiver; the postfix chain builds the method call
	case p.startsExpr():
		args := p.parseExpr(bpComma)
		p.appendArgs(n, args)
		n.End = args.End
	}
	return n
}

// appendArgs flattens a parsed argument expression into call children.
func (p *Parser) appendArgs(call *syntax.Node, args *syntax.Node) {
	if args == nil {
		return
	}
	if args.Kind == syntax.KindList {
		call.Children = append(call.Children, args.Children...)
		return
	}
	call.Children = append(call.Children, args)
}

// parseOpTerm handles operators that begin a term.
func (p *Parser) parseOpTerm() *syntax.Node {
	start := p.tok.Start
	switch p.tok.Text {
	case "(":
		return p.parseParen()

	case "[":
		p.advance()
		n := p.node(syntax.KindAnonArray, start, p.prevEnd)
		if !p.atOp("]") {
			inner := p.parseExpr(bpLowOr)
			p.appendArgs(n, inner)
		}
		if !p.eatOp("]") {
			return p.errorTo(start, "expected ] to close anonymous array")
		}
		n.End = p.prevEnd
		return n

	case "{":
		p.advance()
		n := p.node(syntax.KindAnonHash, start, p.prevEnd)
		if !p.atOp("}") {
			inner := p.parseExpr(bpLowOr)
			p.appendArgs(n, inner)
		}
		if !p.eatOp("}") {
			return p.errorTo(start, "expected } to close anonymous hash")
		}
		n.End = p.prevEnd
		return n

	case "\\", "!", "~":
		op := p.tok.Text
		p.advance()
		operand := p.parseExpr(bpUnary)
		n := p.node(syntax.KindUnary, start, operand.End)
		n.Text = op
		n.Children = append(n.Children, operand)
		return n

	case "-", "+":
		op := p.tok.Text
		p.advance()
		operand := p.parseExpr(bpUnary)
		n := p.node(syntax.KindUnary, start, operand.End)
		n.Text = op
		n.Children = append(n.Children, operand)
		return n

	case "++", "--":
		op := p.tok.Text
		p.advance()
		operand := p.parseExpr(bpIncDec)
		n := p.node(syntax.KindUnary, start, operand.End)
		n.Text = op
		n.Children = append(n.Children, operand)
		return n
	}
	return nil
}

// parseParen parses a parenthesized expression or list. The node range
// includes the parentheses.
func (p *Parser) parseParen() *syntax.Node {
	start := p.tok.Start
	p.advance() // (
	n := p.node(syntax.KindParen, start, p.prevEnd)
	if !p.atOp(")") {
		inner := p.parseExpr(bpLowOr)
		n.Children = append(n.Children, inner)
	}
	if !p.eatOp(")") {
		if len(n.Children) == 1 && n.Children[0].Kind == syntax.KindRecursionLimit {
			// The limit node already skipped to the sync point; keep it
			// in the tree rather than replacing it with an ERROR node.
			return n.Children[0]
		}
		return p.errorTo(start, "expected ) to close parenthesized expression")
	}
	n.End = p.prevEnd
	return n
}

// parsePostfix applies ->, subscripts, calls, postfix deref, and ++/--
// to a parsed term.
func (p *Parser) parsePostfix(left *syntax.Node) *syntax.Node {
	for {
		switch {
		case p.atOp("->@*") || p.atOp("->%*") || p.atOp("->$*"):
			n := p.node(syntax.KindPostfixDeref, left.Start, p.tok.End)
			n.Text = p.tok.Text
			n.Children = append(n.Children, left)
			p.advance()
			left = n

		case p.atOp("->"):
			p.advance()
			left = p.parseArrow(left)
			if left == nil {
				return p.errorTo(p.prevEnd, "expected method, subscript, or deref after ->")
			}

		case p.atOp("[") && p.tok.Start == left.End && subscriptable(left):
			p.advance()
			idx := p.parseExpr(bpLowOr)
			p.eatOp("]")
			n := p.node(syntax.KindElement, left.Start, p.prevEnd)
			n.Children = append(n.Children, left, idx)
			left = n

		case p.atOp("{") && p.tok.Start == left.End && subscriptable(left):
			p.advance()
			key := p.parseHashKey()
			p.eatOp("}")
			n := p.node(syntax.KindElement, left.Start, p.prevEnd)
			n.Children = append(n.Children, left, key)
			left = n

		case (p.atOp("++") || p.atOp("--")) && lvalueLike(left):
			n := p.node(syntax.KindUnary, left.Start, p.tok.End)
			n.Text = p.tok.Text
			n.Children = append(n.Children, left)
			p.advance()
			left = n

		default:
			return left
		}
	}
}

// parseArrow parses the construct following a '->'.
func (p *Parser) parseArrow(recv *syntax.Node) *syntax.Node {
	switch {
	case p.at(lexer.Ident):
		name := p.tok.Text
		p.advance()
		n := p.node(syntax.KindMethodCall, recv.Start, p.prevEnd)
		n.Name = name
		n.Children = append(n.Children, recv)
		if p.atOp("(") {
			args := p.parseParen()
			p.appendArgs(n, args)
			n.End = args.End
		}
		return n

	case p.at(lexer.Variable):
		v := p.variableNode()
		p.advance()
		n := p.node(syntax.KindMethodCall, recv.Start, p.prevEnd)
		n.Children = append(n.Children, recv, v)
		if p.atOp("(") {
			args := p.parseParen()
			p.appendArgs(n, args)
			n.End = args.End
		}
		return n

	case p.atOp("["):
		p.advance()
		idx := p.parseExpr(bpLowOr)
		p.eatOp("]")
		n := p.node(syntax.KindElement, recv.Start, p.prevEnd)
		n.Children = append(n.Children, recv, idx)
		return n

	case p.atOp("{"):
		p.advance()
		key := p.parseHashKey()
		p.eatOp("}")
		n := p.node(syntax.KindElement, recv.Start, p.prevEnd)
		n.Children = append(n.Children, recv, key)
		return n

	case p.atOp("("):
		args := p.parseParen()
		n := p.node(syntax.KindCall, recv.Start, args.End)
		n.Children = append(n.Children, recv)
		p.appendArgs(n, args)
		return n
	}
	return nil
}

// parseHashKey parses a hash subscript, auto-quoting a lone bareword.
func (p *Parser) parseHashKey() *syntax.Node {
	if p.at(lexer.Ident) && p.peekOp("}") && !lexer.IsWordOperator(p.tok.Text) {
		n := p.node(syntax.KindString, p.tok.Start, p.tok.End)
		n.Text = p.tok.Text
		p.advance()
		return n
	}
	return p.parseExpr(bpLowOr)
}

func subscriptable(n *syntax.Node) bool {
	switch n.Kind {
	case syntax.KindVariable, syntax.KindElement, syntax.KindCast:
		return true
	}
	return false
}

func lvalueLike(n *syntax.Node) bool {
	switch n.Kind {
	case syntax.KindVariable, syntax.KindElement, syntax.KindCast:
		return true
	}
	return false
}
