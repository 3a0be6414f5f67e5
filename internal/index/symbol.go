// Package index maintains the workspace-wide symbol and reference
// mappings. Updates are transactional per URI: a writer computes the new
// per-file sets, then swaps a fresh immutable snapshot in; readers keep
// their snapshot for the duration of a request.
package index

import (
	"fmt"
	"strings"

	"go.lsp.dev/uri"
)

// SymbolKind classifies indexed symbols.
type SymbolKind uint8

const (
	SymbolPackage SymbolKind = iota
	SymbolSub
	SymbolMethod
	SymbolVarMy
	SymbolVarOur
	SymbolFile
)

var symbolKindNames = map[SymbolKind]string{
	SymbolPackage: "package",
	SymbolSub:     "sub",
	SymbolMethod:  "method",
	SymbolVarMy:   "variable-my",
	SymbolVarOur:  "variable-our",
	SymbolFile:    "file",
}

// String returns the kind name.
func (k SymbolKind) String() string {
	return symbolKindNames[k]
}

// Symbol is one declaration site.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Container string // enclosing package, if any
	Signature string // declared parameter list, if any
	Doc       string // doc comment block, already stripped
	URI       uri.URI
	Start     int
	End       int
}

// Key returns the canonical lookup key for the symbol.
func (s Symbol) Key() string {
	switch s.Kind {
	case SymbolPackage:
		return PackageKey(s.Name)
	case SymbolSub, SymbolMethod:
		return SubKey(s.Container, s.Name)
	case SymbolVarOur:
		return OurKey(s.Container, s.Name)
	case SymbolFile:
		return FileKey(s.URI)
	default:
		return LexicalKey(s.URI, s.Start, s.Name)
	}
}

// RefRole classifies how a use site refers to its symbol.
type RefRole uint8

const (
	RoleRead RefRole = iota
	RoleWrite
	RoleCall
	RoleImport
)

var refRoleNames = map[RefRole]string{
	RoleRead:   "read",
	RoleWrite:  "write",
	RoleCall:   "call",
	RoleImport: "import",
}

// String returns the role name.
func (r RefRole) String() string {
	return refRoleNames[r]
}

// Reference is one use site. Key identifies the referenced symbol; a key
// with no matching symbol is an unresolved reference, never a dangling
// one.
type Reference struct {
	Key   string
	URI   uri.URI
	Start int
	End   int
	Role  RefRole
}

// PackageKey returns the key for a package name.
func PackageKey(name string) string {
	return "pkg:" + name
}

// SubKey returns the key for a sub or method, qualified by its package.
// Unqualified names fall into main.
func SubKey(container, name string) string {
	if strings.Contains(name, "::") {
		i := strings.LastIndex(name, "::")
		return "sub:" + name[:i] + "::" + name[i+2:]
	}
	if container == "" {
		container = "main"
	}
	return "sub:" + container + "::" + name
}

// OurKey returns the key for a package variable.
func OurKey(container, name string) string {
	if container == "" {
		container = "main"
	}
	return "our:" + container + "::" + name
}

// LexicalKey returns the key for a my/state variable, unique per
// declaration site.
func LexicalKey(u uri.URI, declStart int, name string) string {
	return fmt.Sprintf("my:%s:%d:%s", u, declStart, name)
}

// FileKey returns the key for a workspace file symbol.
func FileKey(u uri.URI) string {
	return "file:" + string(u)
}
