package rope


// Encoding selects the unit of the LSP character column.
type Encoding int

const (
	// EncodingUTF16 counts UTF-16 code units; astral-plane characters
	// occupy two. This is the LSP default.
	EncodingUTF16 Encoding = iota
	// EncodingUTF8 counts bytes on the line.
	EncodingUTF8
)

// Position is a zero-based line/character pair in some encoding.
type Position struct {
	Line      int
	Character int
}

// Mapper translates between byte offsets and LSP positions over one
// revision of a document. It holds the rope and its line index; both are
// immutable, so a mapper is safe to share across readers.
type Mapper struct {
	rope  *Rope
	index *LineIndex
}

// NewMapper builds a mapper for r.
func NewMapper(r *Rope) *Mapper {
	return &Mapper{rope: r, index: NewLineIndex(r)}
}

// LineIndex exposes the underlying line index.
func (m *Mapper) LineIndex() *LineIndex {
	return m.index
}

// Clamping: out-of-range lines clamp to the last line, and out-of-range
// characters clamp to the end of the line content, per LSP convention.
// Malformed positions therefore always produce a valid byte offset; the
// Clamped return reports that clamping happened.

// ToByte converts an LSP position to a byte offset.
func (m *Mapper) ToByte(p Position, enc Encoding) (byteOff int, clamped bool) {
	if p.Line < 0 {
		return 0, true
	}
	if p.Line >= m.index.LineCount() {
		return m.rope.Len(), true
	}
	start, contentEnd, _ := m.index.LineSpan(p.Line, m.rope)
	if p.Character < 0 {
		return start, true
	}
	line := m.rope.Slice(start, contentEnd)
	switch enc {
	case EncodingUTF8:
		if p.Character > len(line) {
			return contentEnd, true
		}
		return start + p.Character, false
	default:
		units := 0
		for i, r := range line {
			if units >= p.Character {
				// units passes the target only when it fell between the
				// two units of a surrogate pair: snap forward and report it
				return start + i, units > p.Character
			}
			units += utf16Len(r)
		}
		if units == p.Character {
			return contentEnd, false
		}
		return contentEnd, true
	}
}

// FromByte converts a byte offset to an LSP position. Offsets out of range
// clamp to the document bounds; offsets inside a multi-byte sequence snap
// to the start of the character.
func (m *Mapper) FromByte(byteOff int, enc Encoding) Position {
	if byteOff < 0 {
		byteOff = 0
	}
	if byteOff > m.rope.Len() {
		byteOff = m.rope.Len()
	}
	lineNum := m.index.LineOfByte(byteOff)
	start, contentEnd, _ := m.index.LineSpan(lineNum, m.rope)
	if byteOff > contentEnd {
		// Inside the line terminator
		byteOff = contentEnd
	}
	for byteOff > start && byteOff < m.rope.Len() && m.rope.ByteAt(byteOff)&0xC0 == 0x80 {
		byteOff--
	}
	line := m.rope.Slice(start, byteOff)
	switch enc {
	case EncodingUTF8:
		return Position{Line: lineNum, Character: len(line)}
	default:
		units := 0
		for _, r := range line {
			units += utf16Len(r)
		}
		return Position{Line: lineNum, Character: units}
	}
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// ByteLenOfRune reports the UTF-8 width of the rune starting at byteOff,
// or 1 for a continuation or invalid byte.
func (m *Mapper) ByteLenOfRune(byteOff int) int {
	if byteOff >= m.rope.Len() {
		return 0
	}
	b := m.rope.ByteAt(byteOff)
	switch {
	case b < 0x80:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// Valid reports whether p addresses an existing character position (no
// clamping required) in the given encoding.
func (m *Mapper) Valid(p Position, enc Encoding) bool {
	_, clamped := m.ToByte(p, enc)
	return !clamped
}
