package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camelscope/camelscope/internal/syntax"
)

// applyEdit performs the text replacement and returns the new source.
func applyEdit(src string, ed Edit, newText string) string {
	return src[:ed.Start] + newText + src[ed.OldEnd:]
}

// reparseBoth runs the incremental path (asserting it applied when
// expectIncremental) and checks S-expression equality against a full
// reparse of the new text.
func reparseBoth(t *testing.T, oldSrc string, ed Edit, newText string, expectIncremental bool) {
	t.Helper()
	oldTree := Parse(oldSrc)
	require.NoError(t, oldTree.Validate())

	newSrc := applyEdit(oldSrc, ed, newText)
	ed.NewEnd = ed.Start + len(newText)

	full := Parse(newSrc)
	inc, ok := IncrementalReparse(oldTree, oldSrc, newSrc, ed, Options{})
	if expectIncremental {
		require.True(t, ok, "incremental path must apply for edit %+v", ed)
	}
	if !ok {
		return
	}
	require.NoError(t, inc.Validate())
	assert.Equal(t,
		syntax.NormalizeSexp(syntax.ToSexp(full)),
		syntax.NormalizeSexp(syntax.ToSexp(inc)),
		"incremental tree must match full reparse")
}

func TestIncrementalEditInsideSubBody(t *testing.T) {
	src := "sub one { return 1; }\nsub two { return 2; }\nsub three { return 3; }\n"

	// Change `2` to `42` inside sub two's body
	at := strings.Index(src, "return 2") + len("return ")
	reparseBoth(t, src, Edit{Start: at, OldEnd: at + 1}, "42", true)
}

func TestIncrementalInsertStatement(t *testing.T) {
	src := "sub f {\n  my $a = 1;\n  my $b = 2;\n}\nprint f();\n"
	at := strings.Index(src, "  my $b")
	reparseBoth(t, src, Edit{Start: at, OldEnd: at}, "  my $c = 9;\n", true)
}

func TestIncrementalDeleteStatement(t *testing.T) {
	src := "sub f {\n  my $a = 1;\n  my $b = 2;\n}\n"
	at := strings.Index(src, "  my $b")
	end := at + len("  my $b = 2;\n")
	reparseBoth(t, src, Edit{Start: at, OldEnd: end}, "", true)
}

func TestIncrementalSharesPrefixSubtrees(t *testing.T) {
	src := "sub one { return 1; }\nsub two { return 2; }\n"
	oldTree := Parse(src)

	at := strings.Index(src, "return 2") + len("return ")
	ed := Edit{Start: at, OldEnd: at + 1, NewEnd: at + 2}
	newSrc := applyEdit(src, Edit{Start: at, OldEnd: at + 1}, "42")

	inc, ok := IncrementalReparse(oldTree, src, newSrc, ed, Options{})
	require.True(t, ok)

	// The first sub's node is shared, not copied
	assert.Same(t, oldTree.Root.Children[0], inc.Root.Children[0])
	// The second sub's spine is fresh
	assert.NotSame(t, oldTree.Root.Children[1], inc.Root.Children[1])
}

func TestIncrementalTopLevelEditFallsBack(t *testing.T) {
	src := "my $x = 1;\nmy $y = 2;\n"
	oldTree := Parse(src)
	ed := Edit{Start: 8, OldEnd: 9, NewEnd: 9}
	newSrc := applyEdit(src, Edit{Start: 8, OldEnd: 9}, "7")

	_, ok := IncrementalReparse(oldTree, src, newSrc, ed, Options{})
	assert.False(t, ok, "edits outside any block fall back to full reparse")
}

func TestIncrementalUnbalancedEditFallsBack(t *testing.T) {
	src := "sub f { my $a = 1; }\n"
	oldTree := Parse(src)

	// Delete the closing brace: the subtree parse cannot line up
	at := strings.Index(src, "}")
	ed := Edit{Start: at, OldEnd: at + 1, NewEnd: at}
	newSrc := applyEdit(src, Edit{Start: at, OldEnd: at + 1}, "")

	_, ok := IncrementalReparse(oldTree, src, newSrc, ed, Options{})
	assert.False(t, ok)
}

func TestIncrementalHeredocFallsBack(t *testing.T) {
	src := "sub f { my $t = <<EOF;\nbody\nEOF\n}\n"
	oldTree := Parse(src)
	require.NotEmpty(t, oldTree.Heredocs)

	at := strings.Index(src, "body")
	ed := Edit{Start: at, OldEnd: at + 1, NewEnd: at + 1}
	newSrc := applyEdit(src, Edit{Start: at, OldEnd: at + 1}, "B")

	_, ok := IncrementalReparse(oldTree, src, newSrc, ed, Options{})
	assert.False(t, ok, "heredoc bodies cross statement ranges; full reparse required")
}

// Shadow-check style sweep: every single-byte insertion point in a file,
// incremental (when applicable) must equal full reparse.
func TestIncrementalShadowSweep(t *testing.T) {
	src := `sub greet {
  my ($name) = @_;
  if ($name) {
    print "hi, $name";
  } else {
    print "hi";
  }
}
my $who = shift;
greet($who);
`
	for at := 0; at <= len(src); at++ {
		reparseBoth(t, src, Edit{Start: at, OldEnd: at}, "x", false)
	}
}

func TestIncrementalLargeDocumentNewlineInsert(t *testing.T) {
	// A larger document in the spirit of a 10 KiB file: many subs, edit
	// one newline into a body, both strategies agree.
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("sub fn")
		sb.WriteByte(byte('a' + i%26))
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(" { my $v = ")
		sb.WriteString(strings.Repeat("1", 1+i%5))
		sb.WriteString("; return $v; }\n")
	}
	src := sb.String()
	require.Greater(t, len(src), 5_000)

	at := strings.Index(src, "return $v; }") // inside an early body
	reparseBoth(t, src, Edit{Start: at, OldEnd: at}, "\n", true)
}

func TestIncrementalCommentsMerged(t *testing.T) {
	src := "# top\nsub f {\n  # inner\n  my $a = 1;\n}\n# tail\n"
	oldTree := Parse(src)
	require.Len(t, oldTree.Comments, 3)

	at := strings.Index(src, "1")
	ed := Edit{Start: at, OldEnd: at + 1, NewEnd: at + 2}
	newSrc := applyEdit(src, Edit{Start: at, OldEnd: at + 1}, "42")

	inc, ok := IncrementalReparse(oldTree, src, newSrc, ed, Options{})
	require.True(t, ok)
	require.Len(t, inc.Comments, 3)
	assert.Equal(t, "# top", inc.Comments[0].Text)
	assert.Equal(t, "# inner", inc.Comments[1].Text)
	assert.Equal(t, "# tail", inc.Comments[2].Text)
	assert.Equal(t, strings.Index(newSrc, "# tail"), inc.Comments[2].Start)
}
