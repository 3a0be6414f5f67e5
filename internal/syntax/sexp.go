package syntax

import (
	"strings"
)

// ToSexp serializes the tree in the tree-sitter-compatible S-expression
// form used by the golden parity tests: `(kind atom... child...)`.
// Leaves carry their identifying payload as atoms, e.g. `(variable $ x)`
// or `(string "'MyClass'")`.
func ToSexp(t *Tree) string {
	var sb strings.Builder
	writeSexp(&sb, t.Root)
	return sb.String()
}

// NodeSexp serializes a single subtree.
func NodeSexp(n *Node) string {
	var sb strings.Builder
	writeSexp(&sb, n)
	return sb.String()
}

func writeSexp(sb *strings.Builder, n *Node) {
	sb.WriteByte('(')
	sb.WriteString(n.Kind.String())

	for _, atom := range atoms(n) {
		sb.WriteByte(' ')
		sb.WriteString(atom)
	}
	for _, c := range n.Children {
		sb.WriteByte(' ')
		writeSexp(sb, c)
	}
	sb.WriteByte(')')
}

// atoms returns the payload atoms for a node, in serialization order.
func atoms(n *Node) []string {
	switch n.Kind {
	case KindVariable:
		return []string{string(n.Sigil), n.Name}
	case KindCast, KindPostfixDeref:
		return []string{n.Text}
	case KindNumber:
		return []string{n.Text}
	case KindString, KindQwList, KindQuoted, KindReadline:
		return []string{quoteAtom(n.Text)}
	case KindRegex, KindSubstitution, KindTransliteration:
		if n.Flags != "" {
			return []string{n.Text, n.Flags}
		}
		return []string{n.Text}
	case KindBinary, KindUnary, KindAssignment:
		return []string{n.Text}
	case KindCall, KindMethodCall:
		if n.Name != "" {
			return []string{n.Name}
		}
		return nil
	case KindPackage, KindUse, KindRequire, KindSubDecl, KindMethodDecl,
		KindClassDecl, KindFieldDecl, KindLabel:
		if n.Name != "" {
			return []string{n.Name}
		}
		return nil
	case KindVarDecl:
		// my/our/local/state
		return []string{n.Text}
	case KindLoopCtrl:
		if n.Name != "" {
			return []string{n.Text, n.Name}
		}
		return []string{n.Text}
	case KindFileTest:
		return []string{n.Text}
	case KindHeredoc:
		return []string{n.Name}
	default:
		return nil
	}
}

// quoteAtom wraps raw literal text in double quotes, escaping backslashes
// and embedded quotes so the S-expression stays parseable.
func quoteAtom(raw string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(raw[i])
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// NormalizeSexp collapses all whitespace runs to single spaces and trims,
// so golden files can be wrapped for readability.
func NormalizeSexp(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
