package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/parser"
	"github.com/camelscope/camelscope/internal/syntax"
)

var testCfg = ParseConfig{Incremental: true, ShadowCheck: true, MaxDepth: parser.DefaultMaxDepth}

func TestOpenChangeClose(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")

	s.Open(u, "my $x = 1;\n", 1)
	require.True(t, s.IsOpen(u))

	err := s.Apply(u, []Change{{Start: 8, End: 9, NewText: "42"}}, 2)
	require.NoError(t, err)

	snap, ok := s.Snapshot(u)
	require.True(t, ok)
	assert.Equal(t, int32(2), snap.Version)
	assert.Equal(t, "my $x = 42;\n", snap.Text.String())

	s.Close(u)
	assert.False(t, s.IsOpen(u))
	_, ok = s.Snapshot(u)
	assert.False(t, ok)
}

func TestApplyToUnopenedDocumentFails(t *testing.T) {
	s := NewStore(testCfg)
	err := s.Apply(uri.File("/w/missing.pl"), []Change{{Full: true, NewText: "1;"}}, 1)
	var notOpen *NotOpenError
	require.ErrorAs(t, err, &notOpen)
}

func TestSnapshotSurvivesLaterEdits(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")
	s.Open(u, "my $x = 1;\n", 1)

	before, ok := s.Snapshot(u)
	require.True(t, ok)

	require.NoError(t, s.Apply(u, []Change{{Start: 0, End: 0, NewText: "use strict;\n"}}, 2))

	assert.Equal(t, "my $x = 1;\n", before.Text.String(), "snapshot is immutable")
	after, _ := s.Snapshot(u)
	assert.Equal(t, "use strict;\nmy $x = 1;\n", after.Text.String())
	assert.NotEqual(t, before.Tree, after.Tree)
}

func TestFullChangeReplacesText(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")
	s.Open(u, "old text here", 1)

	require.NoError(t, s.Apply(u, []Change{{Full: true, NewText: "sub f { }\n"}}, 2))
	snap, _ := s.Snapshot(u)
	assert.Equal(t, "sub f { }\n", snap.Text.String())
	assert.Empty(t, snap.Tree.Errors)
}

func TestIncrementalMatchesFullUnderShadowCheck(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")
	src := "sub f {\n  my $a = 1;\n}\nsub g {\n  my $b = 2;\n}\n"
	s.Open(u, src, 1)

	// Edit inside g's body; shadow check asserts incremental == full
	at := strings.Index(src, "2")
	require.NoError(t, s.Apply(u, []Change{{Start: at, End: at + 1, NewText: "99"}}, 2))

	snap, _ := s.Snapshot(u)
	full := parser.Parse(snap.Text.String())
	assert.Equal(t,
		syntax.NormalizeSexp(syntax.ToSexp(full)),
		syntax.NormalizeSexp(syntax.ToSexp(snap.Tree)))
}

func TestEditSequencePreservesTreeValidity(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")
	s.Open(u, "sub f { return 1; }\n", 1)

	edits := []Change{
		{Start: 15, End: 16, NewText: "2"},
		{Start: 0, End: 0, NewText: "use strict;\n"},
		{Start: 5, End: 5, NewText: "x"},
	}
	version := int32(2)
	for _, ed := range edits {
		require.NoError(t, s.Apply(u, []Change{ed}, version))
		snap, _ := s.Snapshot(u)
		require.NoError(t, snap.Tree.Validate())
		version++
	}
}

func TestApplyRejectsOutOfRangeEdit(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")
	s.Open(u, "short", 1)

	err := s.Apply(u, []Change{{Start: 2, End: 99, NewText: ""}}, 2)
	require.Error(t, err)

	// Document state is unchanged by the failed request
	snap, _ := s.Snapshot(u)
	assert.Equal(t, "short", snap.Text.String())
	assert.Equal(t, int32(1), snap.Version)
}

func TestMapperInvalidationAcrossEdits(t *testing.T) {
	s := NewStore(testCfg)
	u := uri.File("/w/a.pl")
	s.Open(u, "a\nb\n", 1)

	snap, _ := s.Snapshot(u)
	require.Equal(t, 3, snap.Mapper.LineIndex().LineCount())

	require.NoError(t, s.Apply(u, []Change{{Start: 1, End: 1, NewText: "\nnew line"}}, 2))
	snap, _ = s.Snapshot(u)
	assert.Equal(t, 4, snap.Mapper.LineIndex().LineCount())
}
