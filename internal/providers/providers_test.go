package providers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/config"
	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/perlerr"
	"github.com/camelscope/camelscope/internal/rope"
)

var parseCfg = document.ParseConfig{Incremental: true, MaxDepth: 500}

type fixture struct {
	docs  map[uri.URI]*document.Snapshot
	store *index.Store
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	f := &fixture{docs: make(map[uri.URI]*document.Snapshot), store: index.NewStore()}
	for path, text := range files {
		u := uri.File(path)
		d := document.New(u, text, 1, parseCfg)
		snap := d.Snapshot()
		f.docs[u] = snap
		syms, refs := index.ExtractFile(u, text, snap.Tree)
		f.store.Update(u, syms, refs)
	}
	f.store.SetReady()
	return f
}

func (f *fixture) RangeOf(u uri.URI, start, end int) (protocol.Range, bool) {
	doc, ok := f.docs[u]
	if !ok {
		return protocol.Range{}, false
	}
	return lspRange(doc, rope.EncodingUTF16, start, end), true
}

func (f *fixture) doc(path string) *document.Snapshot {
	return f.docs[uri.File(path)]
}

func (f *fixture) snap() *index.Snapshot {
	return f.store.Snapshot()
}

// The scenario from the protocol conformance suite: definition of $x at
// its use site lands on the declaration at line 0, characters 3-5.
func TestDefinitionOfLexical(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x = 42;\nprint $x;"})
	doc := f.doc("/w/a.pl")

	locs := Definition(f.snap(), doc, rope.EncodingUTF16, f, protocol.Position{Line: 1, Character: 6})
	require.Len(t, locs, 1)
	assert.Equal(t, uri.File("/w/a.pl"), locs[0].URI)
	assert.Equal(t, uint32(0), locs[0].Range.Start.Line)
	assert.Equal(t, uint32(3), locs[0].Range.Start.Character)
	assert.Equal(t, uint32(5), locs[0].Range.End.Character)
}

func TestDefinitionCrossFile(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/w/lib/Util.pm": "package Util;\nsub helper { return 1; }\n1;\n",
		"/w/main.pl":     "use Util;\nUtil::helper();\n",
	})
	doc := f.doc("/w/main.pl")

	// Cursor on the call to Util::helper
	locs := Definition(f.snap(), doc, rope.EncodingUTF16, f, protocol.Position{Line: 1, Character: 8})
	require.Len(t, locs, 1)
	assert.Equal(t, uri.File("/w/lib/Util.pm"), locs[0].URI)
	assert.Equal(t, uint32(1), locs[0].Range.Start.Line)
}

func TestDefinitionOfUnresolvedNameIsEmpty(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "Nowhere::missing();\n"})
	locs := Definition(f.snap(), f.doc("/w/a.pl"), rope.EncodingUTF16, f, protocol.Position{Line: 0, Character: 3})
	assert.Empty(t, locs)
}

func TestReferencesIncludeDeclaration(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x = 1;\nprint $x;\n$x = 2;\n"})
	doc := f.doc("/w/a.pl")

	params := &protocol.ReferenceParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: 0, Character: 4},
		},
		Context: protocol.ReferenceContext{IncludeDeclaration: true},
	}
	locs, err := References(context.Background(), f.snap(), doc, rope.EncodingUTF16, f, params)
	require.NoError(t, err)
	assert.Len(t, locs, 3, "declaration + read + write")

	params.Context.IncludeDeclaration = false
	locs, err = References(context.Background(), f.snap(), doc, rope.EncodingUTF16, f, params)
	require.NoError(t, err)
	assert.Len(t, locs, 2)
}

func TestReferencesCancellation(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x = 1;\nprint $x;\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	params := &protocol.ReferenceParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: 0, Character: 4},
		},
	}
	_, err := References(ctx, f.snap(), f.doc("/w/a.pl"), rope.EncodingUTF16, f, params)
	var perr *perlerr.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, perlerr.CodeRequestCancelled, perr.RPCCode())
}

func TestDocumentHighlightRoles(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $n = 0;\n$n = 5;\nprint $n;\n"})
	doc := f.doc("/w/a.pl")

	hls := DocumentHighlight(f.snap(), doc, rope.EncodingUTF16, protocol.Position{Line: 2, Character: 7})
	require.GreaterOrEqual(t, len(hls), 3)

	kinds := map[protocol.DocumentHighlightKind]int{}
	for _, h := range hls {
		kinds[h.Kind]++
	}
	assert.Equal(t, 1, kinds[protocol.DocumentHighlightKindText], "the declaration")
	assert.Equal(t, 1, kinds[protocol.DocumentHighlightKindWrite])
	assert.Equal(t, 1, kinds[protocol.DocumentHighlightKindRead])
}

func TestHoverShowsSignatureAndDoc(t *testing.T) {
	src := "package M;\n# Greets loudly.\nsub greet ($name) { print $name; }\ngreet('x');\n"
	f := newFixture(t, map[string]string{"/w/m.pm": src})
	doc := f.doc("/w/m.pm")

	line := uint32(strings.Count(src[:strings.Index(src, "greet('x')")], "\n"))
	h := Hover(f.snap(), doc, rope.EncodingUTF16, protocol.Position{Line: line, Character: 2})
	require.NotNil(t, h)
	assert.Contains(t, h.Contents.Value, "sub M::greet ($name)")
	assert.Contains(t, h.Contents.Value, "Greets loudly.")
}

func TestRenameLexicalKeepsSigil(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $old = 1;\nprint $old;\n"})
	doc := f.doc("/w/a.pl")

	params := &protocol.RenameParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: 0, Character: 4},
		},
		NewName: "fresh",
	}
	edit, err := Rename(context.Background(), f.snap(), doc, rope.EncodingUTF16, f, params)
	require.NoError(t, err)
	edits := edit.Changes[uri.File("/w/a.pl")]
	require.Len(t, edits, 2)
	for _, e := range edits {
		assert.Equal(t, "$fresh", e.NewText)
	}
}

func TestRenameRejectsIllegalName(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "sub f { }\nf();\n"})
	doc := f.doc("/w/a.pl")

	params := &protocol.RenameParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: 0, Character: 4},
		},
		NewName: "1bad name",
	}
	_, err := Rename(context.Background(), f.snap(), doc, rope.EncodingUTF16, f, params)
	require.Error(t, err)
}

func TestRenamePackageAllowsQualifiedName(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pm": "package Old::Name;\n1;\n"})
	doc := f.doc("/w/a.pm")

	params := &protocol.RenameParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: 0, Character: 10},
		},
		NewName: "New::Name",
	}
	_, err := Rename(context.Background(), f.snap(), doc, rope.EncodingUTF16, f, params)
	assert.NoError(t, err)
}

func TestPrepareRename(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $thing = 1;\n"})
	doc := f.doc("/w/a.pl")

	r, placeholder, err := PrepareRename(f.snap(), doc, rope.EncodingUTF16, protocol.Position{Line: 0, Character: 5})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "thing", placeholder)
	assert.Equal(t, uint32(3), r.Start.Character)
}

func TestCompletionListsLexicalsAndSubs(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/w/a.pl": "my $count = 1;\nsub tally { }\nmy $c = $c\n",
	})
	doc := f.doc("/w/a.pl")

	list := Completion(f.snap(), doc, rope.EncodingUTF16, CompletionConfig{}, protocol.Position{Line: 2, Character: 10})
	require.NotNil(t, list)

	labels := map[string]bool{}
	for _, item := range list.Items {
		labels[item.Label] = true
	}
	assert.True(t, labels["$count"], "visible lexical offered, got %v", labels)
	assert.True(t, labels["$c"])
}

func TestWorkspaceSymbolFuzzyAndCap(t *testing.T) {
	files := map[string]string{
		"/w/a.pm": "package Alpha;\nsub format_name { }\nsub forget { }\n1;\n",
		"/w/b.pm": "package Beta;\nsub fortify { }\nsub other { }\n1;\n",
	}
	f := newFixture(t, files)

	syms, err := WorkspaceSymbol(context.Background(), f.snap(), f, "fo")
	require.NoError(t, err)
	require.NotEmpty(t, syms)
	names := map[string]bool{}
	for _, s := range syms {
		names[s.Name] = true
	}
	assert.True(t, names["format_name"])
	assert.True(t, names["forget"])
	assert.True(t, names["fortify"])
	assert.False(t, names["other"])
	assert.LessOrEqual(t, len(syms), WorkspaceSymbolLimit)
}

func TestWorkspaceSymbolTypoTolerance(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pm": "package P;\nsub calculate { }\n1;\n"})
	syms, err := WorkspaceSymbol(context.Background(), f.snap(), f, "calcualte")
	require.NoError(t, err)
	require.NotEmpty(t, syms, "Jaro-Winkler catches transposition typos")
	assert.Equal(t, "calculate", syms[0].Name)
}

func TestDocumentSymbolTree(t *testing.T) {
	src := "package Top;\nsub one { }\nsub two { }\nour $VERSION = 1;\n"
	f := newFixture(t, map[string]string{"/w/t.pm": src})

	syms := DocumentSymbol(f.doc("/w/t.pm"), rope.EncodingUTF16)
	require.Len(t, syms, 1)
	assert.Equal(t, "Top", syms[0].Name)
	// package statement form scopes to end of file: subs nest under it
	var childNames []string
	for _, c := range syms[0].Children {
		childNames = append(childNames, c.Name)
	}
	assert.Contains(t, childNames, "one")
	assert.Contains(t, childNames, "two")
}

func TestSemanticTokensDeltaEncoding(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x = 42;\n"})
	toks := SemanticTokensFull(f.doc("/w/a.pl"), rope.EncodingUTF16)
	require.NotEmpty(t, toks.Data)
	require.Zero(t, len(toks.Data)%5, "quintuple encoding")

	// First token starts at line 0: delta line must be 0
	assert.Equal(t, uint32(0), toks.Data[0])
	// All delta lines within one line are zero with increasing chars
	for i := 5; i < len(toks.Data); i += 5 {
		if toks.Data[i] == 0 {
			assert.Greater(t, toks.Data[i+1], uint32(0), "same-line tokens advance")
		}
	}
}

func TestSemanticTokensDeltaOnUnchangedDocument(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x = 1;\n"})
	doc := f.doc("/w/a.pl")
	full := SemanticTokensFull(doc, rope.EncodingUTF16)

	delta := SemanticTokensDelta(full.Data, doc, rope.EncodingUTF16)
	assert.Empty(t, delta.Edits)
}

func TestFormattingMissingBinaryReturnsNoEdits(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x=1;\n"})
	cfg := config.Formatter{Command: "/no/such/formatter-binary", TimeoutMs: 1000}

	edits, err := Formatting(context.Background(), f.doc("/w/a.pl"), rope.EncodingUTF16, cfg)
	assert.Empty(t, edits)
	var terr *perlerr.ExternalToolError
	require.ErrorAs(t, err, &terr)
}

func TestFormattingTimeout(t *testing.T) {
	f := newFixture(t, map[string]string{"/w/a.pl": "my $x=1;\n"})
	cfg := config.Formatter{Command: "sleep", Args: []string{"5"}, TimeoutMs: 50}

	edits, err := Formatting(context.Background(), f.doc("/w/a.pl"), rope.EncodingUTF16, cfg)
	assert.Empty(t, edits)
	var terr *perlerr.ExternalToolError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.TimedOut)
}

func TestCodeLensCountsReferences(t *testing.T) {
	f := newFixture(t, map[string]string{
		"/w/a.pl": "sub used { }\nused();\nused();\nsub unused { }\n",
	})
	lenses, err := CodeLens(context.Background(), f.snap(), f.doc("/w/a.pl"), rope.EncodingUTF16)
	require.NoError(t, err)
	require.Len(t, lenses, 2)

	titles := map[string]bool{}
	for _, l := range lenses {
		titles[l.Command.Title] = true
	}
	assert.True(t, titles["2 references"])
	assert.True(t, titles["0 references"])
}

func TestStringPathCompletionConfinedToRoots(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "words.txt"), []byte("x\n"), 0o644))

	src := `my $f = "data/wo`
	f := newFixture(t, map[string]string{"/w/a.pl": src})
	cfg := CompletionConfig{Roots: []string{root}}

	list := Completion(f.snap(), f.doc("/w/a.pl"), rope.EncodingUTF16, cfg,
		protocol.Position{Line: 0, Character: uint32(len(src))})
	require.NotNil(t, list)
	labels := map[string]bool{}
	for _, item := range list.Items {
		labels[item.Label] = true
	}
	assert.True(t, labels["data/words.txt"], "got %v", labels)

	// Traversal outside the roots is rejected, never listed
	esc := `my $f = "../../etc/pas`
	f2 := newFixture(t, map[string]string{"/w/b.pl": esc})
	list = Completion(f2.snap(), f2.doc("/w/b.pl"), rope.EncodingUTF16, cfg,
		protocol.Position{Line: 0, Character: uint32(len(esc))})
	require.NotNil(t, list)
	assert.Empty(t, list.Items)
}
