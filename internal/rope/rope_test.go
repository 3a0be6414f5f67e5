package rope

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDelete(t *testing.T) {
	r := FromString("hello world")

	r2, err := r.Insert(5, ",")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", r2.String())
	assert.Equal(t, "hello world", r.String(), "original must be unchanged")

	r3, err := r2.Delete(0, 7)
	require.NoError(t, err)
	assert.Equal(t, "world", r3.String())

	r4, err := r3.Replace(0, 5, "universe")
	require.NoError(t, err)
	assert.Equal(t, "universe", r4.String())
}

func TestInsertBounds(t *testing.T) {
	r := FromString("abc")

	_, err := r.Insert(-1, "x")
	assert.Error(t, err)
	_, err = r.Insert(4, "x")
	assert.Error(t, err)
	_, err = r.Delete(2, 1)
	assert.Error(t, err)
	_, err = r.Delete(0, 4)
	assert.Error(t, err)
}

func TestSlice(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("0123456789")
	}
	r := FromString(sb.String())

	assert.Equal(t, "0123", r.Slice(0, 4))
	assert.Equal(t, "9012", r.Slice(999, 1003))
	assert.Equal(t, "", r.Slice(5, 5))
	assert.Equal(t, "89", r.Slice(1998, 5000), "end clamps to length")
}

// Random edit sequences against a plain string oracle.
func TestRandomEditsMatchOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	oracle := "package main;\nuse strict;\nprint \"hi\";\n"
	r := FromString(oracle)

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 || len(oracle) == 0 {
			at := rng.Intn(len(oracle) + 1)
			ins := strings.Repeat("x", rng.Intn(20)) + "\n"
			var err error
			r, err = r.Insert(at, ins)
			require.NoError(t, err)
			oracle = oracle[:at] + ins + oracle[at:]
		} else {
			start := rng.Intn(len(oracle) + 1)
			end := start + rng.Intn(len(oracle)-start+1)
			var err error
			r, err = r.Delete(start, end)
			require.NoError(t, err)
			oracle = oracle[:start] + oracle[end:]
		}
		require.Equal(t, len(oracle), r.Len())
	}
	assert.Equal(t, oracle, r.String())
	assert.Less(t, r.Depth(), 40, "tree must stay balanced under random edits")
}

func TestLineIndexBreaks(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		starts []int
	}{
		{"empty", "", []int{0}},
		{"no trailing newline", "ab", []int{0}},
		{"lf", "a\nb", []int{0, 2}},
		{"crlf counts once", "a\r\nb", []int{0, 3}},
		{"lone cr", "a\rb", []int{0, 2}},
		{"mixed", "a\nb\r\nc\rd", []int{0, 2, 5, 7}},
		{"cr then crlf", "\r\r\n", []int{0, 1, 3}},
		{"trailing lf", "a\n", []int{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewLineIndex(FromString(tt.text))
			assert.Equal(t, tt.starts, idx.starts)
		})
	}
}

func TestLineOfByte(t *testing.T) {
	r := FromString("ab\ncd\r\nef")
	idx := NewLineIndex(r)

	assert.Equal(t, 0, idx.LineOfByte(0))
	assert.Equal(t, 0, idx.LineOfByte(2)) // the \n itself
	assert.Equal(t, 1, idx.LineOfByte(3))
	assert.Equal(t, 1, idx.LineOfByte(5)) // the \r of \r\n
	assert.Equal(t, 2, idx.LineOfByte(7))
	assert.Equal(t, 2, idx.LineOfByte(999), "past end clamps to last line")
	assert.Equal(t, 3, idx.LineCount())
}

func TestPositionRoundTripUTF16(t *testing.T) {
	// "héllo" (é is 2 bytes), a 4-byte emoji (2 UTF-16 units), CRLF lines
	text := "héllo\r\n\U0001F600x\nplain"
	m := NewMapper(FromString(text))

	for line := 0; line < m.LineIndex().LineCount(); line++ {
		start, contentEnd, _ := m.LineIndex().LineSpan(line, m.rope)
		units := 0
		for _, r := range m.rope.Slice(start, contentEnd) {
			units += utf16Len(r)
		}
		for ch := 0; ch <= units; ch++ {
			p := Position{Line: line, Character: ch}
			b, clamped := m.ToByte(p, EncodingUTF16)
			if clamped {
				continue // mid-surrogate positions snap forward
			}
			got := m.FromByte(b, EncodingUTF16)
			assert.Equal(t, p, got, "round trip at line %d char %d", line, ch)
		}
	}
}

func TestPositionRoundTripUTF8(t *testing.T) {
	text := "my $x = 42;\nprint $x;"
	m := NewMapper(FromString(text))

	for line := 0; line < m.LineIndex().LineCount(); line++ {
		start, contentEnd, _ := m.LineIndex().LineSpan(line, m.rope)
		for ch := 0; ch <= contentEnd-start; ch++ {
			p := Position{Line: line, Character: ch}
			b, clamped := m.ToByte(p, EncodingUTF8)
			require.False(t, clamped)
			assert.Equal(t, p, m.FromByte(b, EncodingUTF8))
		}
	}
}

func TestPositionClamping(t *testing.T) {
	m := NewMapper(FromString("ab\ncd"))

	b, clamped := m.ToByte(Position{Line: 99, Character: 0}, EncodingUTF16)
	assert.True(t, clamped)
	assert.Equal(t, 5, b, "line past end clamps to end of document")

	b, clamped = m.ToByte(Position{Line: 0, Character: 99}, EncodingUTF16)
	assert.True(t, clamped)
	assert.Equal(t, 2, b, "character past end clamps to end of line content")

	b, clamped = m.ToByte(Position{Line: -1, Character: 0}, EncodingUTF16)
	assert.True(t, clamped)
	assert.Equal(t, 0, b)

	p := m.FromByte(999, EncodingUTF16)
	assert.Equal(t, Position{Line: 1, Character: 2}, p)
}

func TestAstralCharacterCountsTwoUnits(t *testing.T) {
	m := NewMapper(FromString("\U0001F600a"))

	b, clamped := m.ToByte(Position{Line: 0, Character: 2}, EncodingUTF16)
	require.False(t, clamped)
	assert.Equal(t, 4, b, "emoji occupies two UTF-16 units and four bytes")

	assert.Equal(t, Position{Line: 0, Character: 2}, m.FromByte(4, EncodingUTF16))
	assert.Equal(t, Position{Line: 0, Character: 4}, m.FromByte(4, EncodingUTF8))
}
