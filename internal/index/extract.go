package index

import (
	"path"
	"sort"
	"strings"

	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/syntax"
)

// perlBuiltins are call names that never produce cross-file references.
var perlBuiltins = map[string]bool{
	"print": true, "printf": true, "say": true, "warn": true, "die": true,
	"push": true, "pop": true, "shift": true, "unshift": true, "splice": true,
	"keys": true, "values": true, "each": true, "exists": true, "delete": true,
	"defined": true, "ref": true, "bless": true, "wantarray": true,
	"scalar": true, "length": true, "substr": true, "index": true, "rindex": true,
	"uc": true, "lc": true, "ucfirst": true, "lcfirst": true, "sprintf": true,
	"join": true, "split": true, "reverse": true, "sort": true, "grep": true,
	"map": true, "chomp": true, "chop": true, "chr": true, "ord": true,
	"open": true, "close": true, "read": true, "binmode": true, "eof": true,
	"abs": true, "int": true, "sqrt": true, "rand": true, "srand": true,
	"local": true, "caller": true, "exit": true, "sleep": true, "time": true,
	"localtime": true, "gmtime": true, "stat": true, "lstat": true,
	"chdir": true, "mkdir": true, "rmdir": true, "unlink": true, "rename": true,
	"require": true, "return": true, "undef": true, "lock": true,
}

// extractor walks one file's tree and accumulates symbols and references.
type extractor struct {
	uri  uri.URI
	src  string
	tree *syntax.Tree

	pkg    string
	scopes []map[string]string // sigil+name -> lexical key

	lineStarts []int

	symbols []Symbol
	refs    []Reference
}

// ExtractFile walks the tree and returns the file's symbols and
// references, including the file symbol itself.
func ExtractFile(u uri.URI, src string, tree *syntax.Tree) ([]Symbol, []Reference) {
	ex := &extractor{uri: u, src: src, tree: tree, pkg: "main"}
	ex.lineStarts = lineStartsOf(src)

	ex.symbols = append(ex.symbols, Symbol{
		Name: path.Base(u.Filename()),
		Kind: SymbolFile,
		URI:  u,
	})

	ex.pushScope()
	for _, stmt := range tree.Root.Children {
		ex.walk(stmt, false)
	}
	ex.popScope()
	return ex.symbols, ex.refs
}

func (ex *extractor) pushScope() {
	ex.scopes = append(ex.scopes, make(map[string]string))
}

func (ex *extractor) popScope() {
	ex.scopes = ex.scopes[:len(ex.scopes)-1]
}

func (ex *extractor) declare(sigil byte, name, key string) {
	ex.scopes[len(ex.scopes)-1][string(sigil)+name] = key
}

// lookup finds a lexical by sigil and name. Element access reads ($x[0],
// $x{k}) use the scalar sigil for array and hash lexicals, so the other
// sigils are tried as fallbacks.
func (ex *extractor) lookup(sigil byte, name string) (string, bool) {
	for i := len(ex.scopes) - 1; i >= 0; i-- {
		if k, ok := ex.scopes[i][string(sigil)+name]; ok {
			return k, true
		}
		for _, alt := range []byte{'@', '%', '$'} {
			if alt == sigil {
				continue
			}
			if k, ok := ex.scopes[i][string(alt)+name]; ok {
				return k, true
			}
		}
	}
	return "", false
}

func (ex *extractor) walk(n *syntax.Node, write bool) {
	if n == nil {
		return
	}
	switch n.Kind {
	case syntax.KindPackage, syntax.KindClassDecl:
		saved := ex.pkg
		ex.pkg = n.Name
		ex.symbols = append(ex.symbols, Symbol{
			Name:      n.Name,
			Kind:      SymbolPackage,
			Container: "",
			Doc:       ex.docFor(n.Start),
			URI:       ex.uri,
			Start:     n.Start,
			End:       n.End,
		})
		for _, c := range n.Children {
			ex.walk(c, false)
		}
		// A block form restores the outer package; the statement form
		// stays in effect for the rest of the file.
		if len(n.Children) > 0 && n.Children[len(n.Children)-1].Kind == syntax.KindBlock {
			ex.pkg = saved
		}

	case syntax.KindSubDecl, syntax.KindMethodDecl:
		kind := SymbolSub
		if n.Kind == syntax.KindMethodDecl {
			kind = SymbolMethod
		}
		sym := Symbol{
			Name:      n.Name,
			Kind:      kind,
			Container: ex.pkg,
			Doc:       ex.docFor(n.Start),
			URI:       ex.uri,
			Start:     n.Start,
			End:       n.End,
		}
		ex.pushScope()
		for _, c := range n.Children {
			if c.Kind == syntax.KindSignature {
				sym.Signature = ex.src[c.Start:c.End]
				for _, v := range c.Children {
					if v.Kind == syntax.KindVariable {
						ex.declareLexical(v)
					}
				}
			}
		}
		ex.symbols = append(ex.symbols, sym)
		for _, c := range n.Children {
			if c.Kind != syntax.KindSignature {
				ex.walk(c, false)
			}
		}
		ex.popScope()

	case syntax.KindAnonSub, syntax.KindBlock:
		ex.pushScope()
		for _, c := range n.Children {
			ex.walk(c, write)
		}
		ex.popScope()

	case syntax.KindFieldDecl:
		for _, c := range n.Children {
			if c.Kind == syntax.KindVariable {
				ex.declareLexical(c)
			} else {
				ex.walk(c, false)
			}
		}

	case syntax.KindVarDecl:
		switch n.Text {
		case "my", "state":
			ex.forEachTargetVar(n, ex.declareLexical)
		case "our":
			ex.forEachTargetVar(n, func(v *syntax.Node) {
				key := OurKey(ex.pkg, string(v.Sigil)+v.Name)
				ex.symbols = append(ex.symbols, Symbol{
					Name:      string(v.Sigil) + v.Name,
					Kind:      SymbolVarOur,
					Container: ex.pkg,
					Doc:       ex.docFor(n.Start),
					URI:       ex.uri,
					Start:     v.Start,
					End:       v.End,
				})
				ex.declare(v.Sigil, v.Name, key)
			})
		default: // local: a dynamic write to an existing variable
			ex.forEachTargetVar(n, func(v *syntax.Node) {
				ex.variableRef(v, true)
			})
		}

	case syntax.KindAssignment:
		if len(n.Children) == 2 {
			ex.walk(n.Children[0], true)
			ex.walk(n.Children[1], false)
			return
		}
		for _, c := range n.Children {
			ex.walk(c, false)
		}

	case syntax.KindVariable:
		ex.variableRef(n, write)

	case syntax.KindCall:
		if n.Name != "" && !perlBuiltins[n.Name] && isIdentName(n.Name) {
			ex.refs = append(ex.refs, Reference{
				Key:   SubKey(ex.pkg, n.Name),
				URI:   ex.uri,
				Start: n.Start,
				End:   n.Start + len(n.Name),
				Role:  RoleCall,
			})
		}
		for _, c := range n.Children {
			ex.walk(c, false)
		}

	case syntax.KindMethodCall:
		children := n.Children
		if n.Name != "" && len(n.Children) > 0 {
			if recv := n.Children[0]; recv.Kind == syntax.KindCall && recv.Name != "" && len(recv.Children) == 0 {
				ex.refs = append(ex.refs, Reference{
					Key:   SubKey(recv.Name, n.Name),
					URI:   ex.uri,
					Start: recv.End,
					End:   n.End,
					Role:  RoleCall,
				})
				// The bareword receiver names the class; it is not a sub call
				children = n.Children[1:]
			}
		}
		for _, c := range children {
			ex.walk(c, false)
		}

	case syntax.KindUse:
		if n.Name != "" && isIdentName(n.Name) && !isPragma(n.Name) {
			ex.refs = append(ex.refs, Reference{
				Key:   PackageKey(n.Name),
				URI:   ex.uri,
				Start: n.Start,
				End:   n.End,
				Role:  RoleImport,
			})
		}
		for _, c := range n.Children {
			ex.walk(c, false)
		}

	case syntax.KindRequire:
		if n.Name != "" && isIdentName(n.Name) {
			ex.refs = append(ex.refs, Reference{
				Key:   PackageKey(n.Name),
				URI:   ex.uri,
				Start: n.Start,
				End:   n.End,
				Role:  RoleImport,
			})
		}

	default:
		for _, c := range n.Children {
			ex.walk(c, write)
		}
	}
}

// forEachTargetVar visits the declared variables of a variable
// declaration: either a single variable child or a parenthesized list.
func (ex *extractor) forEachTargetVar(n *syntax.Node, fn func(*syntax.Node)) {
	for _, c := range n.Children {
		switch c.Kind {
		case syntax.KindVariable:
			fn(c)
		case syntax.KindParen, syntax.KindList:
			ex.forEachTargetVar(c, fn)
		}
	}
}

func (ex *extractor) declareLexical(v *syntax.Node) {
	name := string(v.Sigil) + v.Name
	key := LexicalKey(ex.uri, v.Start, name)
	ex.symbols = append(ex.symbols, Symbol{
		Name:      name,
		Kind:      SymbolVarMy,
		Container: ex.pkg,
		URI:       ex.uri,
		Start:     v.Start,
		End:       v.End,
	})
	ex.declare(v.Sigil, v.Name, key)
}

// variableRef records a reference for a variable use site. Lexicals
// resolve through the scope stack; package-qualified names resolve to
// package variable keys; punctuation variables are not indexed.
func (ex *extractor) variableRef(v *syntax.Node, write bool) {
	if v.Name == "" || !isIdentName(strings.TrimPrefix(v.Name, "#")) {
		return
	}
	role := RoleRead
	if write {
		role = RoleWrite
	}
	name := strings.TrimPrefix(v.Name, "#")
	if key, ok := ex.lookup(v.Sigil, name); ok {
		ex.refs = append(ex.refs, Reference{
			Key: key, URI: ex.uri, Start: v.Start, End: v.End, Role: role,
		})
		return
	}
	if strings.Contains(name, "::") {
		i := strings.LastIndex(name, "::")
		ex.refs = append(ex.refs, Reference{
			Key:  OurKey(name[:i], string(v.Sigil)+name[i+2:]),
			URI:  ex.uri,
			Start: v.Start, End: v.End, Role: role,
		})
		return
	}
	ex.refs = append(ex.refs, Reference{
		Key:  OurKey(ex.pkg, string(v.Sigil)+name),
		URI:  ex.uri,
		Start: v.Start, End: v.End, Role: role,
	})
}

// docFor extracts the contiguous '#' comment block immediately preceding
// the declaration at declStart, with no blank line in between. Leading
// '#' and at most one following space are stripped per line.
func (ex *extractor) docFor(declStart int) string {
	declLine := ex.lineOf(declStart)
	if declLine == 0 {
		return ""
	}

	// Comments indexed by their line number
	byLine := make(map[int]string)
	for _, c := range ex.tree.Comments {
		if !c.Pod {
			byLine[ex.lineOf(c.Start)] = c.Text
		}
	}

	var lines []string
	for ln := declLine - 1; ln >= 0; ln-- {
		text, ok := byLine[ln]
		if !ok {
			break
		}
		lines = append(lines, stripCommentMarker(text))
	}
	if len(lines) == 0 {
		return ""
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func stripCommentMarker(text string) string {
	text = strings.TrimPrefix(text, "#")
	text = strings.TrimPrefix(text, " ")
	return text
}

func (ex *extractor) lineOf(byteOff int) int {
	i := sort.SearchInts(ex.lineStarts, byteOff+1)
	return i - 1
}

func lineStartsOf(src string) []int {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// isIdentName reports whether the name is a plain identifier, possibly
// package-qualified.
func isIdentName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == ':' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	c := name[0]
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isPragma(name string) bool {
	switch name {
	case "strict", "warnings", "utf8", "lib", "constant", "feature",
		"vars", "parent", "base", "overload", "experimental", "version":
		return true
	}
	return false
}
