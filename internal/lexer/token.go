package lexer

import "fmt"

// Kind classifies tokens. The set is closed; the parser switches over it
// exhaustively.
type Kind int

const (
	EOF Kind = iota
	Error

	Ident   // bareword, possibly package-qualified (Foo::Bar)
	Keyword // structural keyword (my, sub, if, ...)

	Variable // sigil-prefixed identifier or punctuation variable
	Cast     // sigil applied to a block or another sigil: ${...}, $$x, @{...}

	Number
	String    // '...' or "..." literal
	QuoteLike // q qq qw qr qx m s tr y with arbitrary delimiters
	Match     // bare /.../flags regex match
	Readline  // <STDIN>, <$fh>, <>

	HeredocStart // <<TAG, <<"TAG", <<'TAG', <<~TAG
	HeredocBody  // body lines emitted at the line end that starts them

	FileTest // -e, -f, -d and friends

	Op // operator or punctuation, Text carries the spelling

	Comment // # to end of line
	Pod     // =pod ... =cut block
)

var kindNames = map[Kind]string{
	EOF:          "EOF",
	Error:        "Error",
	Ident:        "Ident",
	Keyword:      "Keyword",
	Variable:     "Variable",
	Cast:         "Cast",
	Number:       "Number",
	String:       "String",
	QuoteLike:    "QuoteLike",
	Match:        "Match",
	Readline:     "Readline",
	HeredocStart: "HeredocStart",
	HeredocBody:  "HeredocBody",
	FileTest:     "FileTest",
	Op:           "Op",
	Comment:      "Comment",
	Pod:          "Pod",
}

// String returns the kind name for diagnostics.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is one lexeme with its byte span. Text is the raw source slice;
// kind-specific payloads live in the remaining fields.
type Token struct {
	Kind  Kind
	Start int
	End   int
	Text  string

	// Variable / Cast
	Sigil byte
	Name  string

	// String
	Interp bool // double-quoted semantics (interpolation)

	// QuoteLike
	Op    string   // q qq qw qr qx m s tr y
	Open  byte     // opening delimiter
	Close byte     // matching closer (same as Open unless a bracket pair)
	Parts []string // delimited sections, without delimiters
	Flags string

	// Heredoc
	Tag    string
	Indent bool // <<~ strips leading whitespace
	Body   string

	// Error
	Message string
}

// IsOp reports whether the token is the given operator spelling.
func (t Token) IsOp(text string) bool {
	return t.Kind == Op && t.Text == text
}

// IsKeyword reports whether the token is the given keyword.
func (t Token) IsKeyword(word string) bool {
	return t.Kind == Keyword && t.Text == word
}

// keywords are words with structural meaning to the parser. Named operators
// (and, or, eq, cmp, x, ISA, ...) are not keywords; the parser recognizes
// them in operator position so they stay usable as call names.
var keywords = map[string]bool{
	"my": true, "our": true, "local": true, "state": true,
	"sub": true, "package": true, "use": true, "no": true, "require": true,
	"return": true, "if": true, "elsif": true, "else": true, "unless": true,
	"while": true, "until": true, "for": true, "foreach": true, "do": true,
	"last": true, "next": true, "redo": true, "goto": true,
	"class": true, "method": true, "field": true,
	"defer": true, "try": true, "catch": true, "finally": true,
	"eval": true,
}

// wordOperators are barewords that act as infix or prefix operators.
var wordOperators = map[string]bool{
	"and": true, "or": true, "not": true, "xor": true,
	"eq": true, "ne": true, "lt": true, "gt": true, "le": true, "ge": true,
	"cmp": true, "x": true, "ISA": true, "isa": true,
}

// IsWordOperator reports whether the ident spells a named operator.
func IsWordOperator(text string) bool {
	return wordOperators[text]
}

// quoteLikeOps maps the quote-like operator words to their section count.
var quoteLikeOps = map[string]int{
	"q": 1, "qq": 1, "qw": 1, "qr": 1, "qx": 1,
	"m": 1, "s": 2, "tr": 2, "y": 2,
}

// fileTestLetters are the letters valid after '-' in a file-test operator.
const fileTestLetters = "erwxoRWXOzsfdlpSbcugktTBAMC"
