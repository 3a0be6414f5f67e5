package rope

import "sort"

// LineIndex records the byte offset of every line start. It is rebuilt from
// the rope after an edit invalidates it (documents carry a validity flag
// rather than updating the index on every keystroke) and answers
// line-of-byte and byte-of-line queries by binary search.
//
// Line breaks are LF, CRLF, or a lone CR. A CRLF pair counts as a single
// break, with the break boundary after the LF.
type LineIndex struct {
	starts []int // starts[i] is the byte offset of line i; starts[0] == 0
	total  int   // total bytes in the indexed text
}

// NewLineIndex scans the rope and records line starts.
func NewLineIndex(r *Rope) *LineIndex {
	idx := &LineIndex{starts: []int{0}, total: r.Len()}
	base := 0
	pendingCR := false
	r.Chunks(func(chunk string) bool {
		for i := 0; i < len(chunk); i++ {
			c := chunk[i]
			if pendingCR {
				// The CR from the previous byte ended a line unless this
				// byte is the LF of a CRLF pair, which extends the break.
				pendingCR = false
				if c == '\n' {
					idx.starts[len(idx.starts)-1] = base + i + 1
					continue
				}
			}
			switch c {
			case '\n':
				idx.starts = append(idx.starts, base+i+1)
			case '\r':
				idx.starts = append(idx.starts, base+i+1)
				pendingCR = true
			}
		}
		base += len(chunk)
		return true
	})
	return idx
}

// LineCount returns the number of lines. An empty document has one line.
func (idx *LineIndex) LineCount() int {
	return len(idx.starts)
}

// LineOfByte returns the line containing byte offset b. Offsets past the
// end of the text map to the last line.
func (idx *LineIndex) LineOfByte(b int) int {
	if b <= 0 {
		return 0
	}
	if b >= idx.total {
		return len(idx.starts) - 1
	}
	// First line start strictly greater than b, minus one
	i := sort.SearchInts(idx.starts, b+1)
	return i - 1
}

// ByteOfLine returns the byte offset of the start of line. Lines past the
// end map to the end of the text.
func (idx *LineIndex) ByteOfLine(line int) int {
	if line < 0 {
		return 0
	}
	if line >= len(idx.starts) {
		return idx.total
	}
	return idx.starts[line]
}

// LineSpan returns the byte range [start, end) of line content, excluding
// the line terminator. The terminator end (next line start or EOF) is
// returned separately.
func (idx *LineIndex) LineSpan(line int, r *Rope) (start, contentEnd, breakEnd int) {
	start = idx.ByteOfLine(line)
	if line+1 < len(idx.starts) {
		breakEnd = idx.starts[line+1]
	} else {
		breakEnd = idx.total
	}
	contentEnd = breakEnd
	// Trim the terminator: LF, CRLF, or lone CR
	if contentEnd > start && r.ByteAt(contentEnd-1) == '\n' {
		contentEnd--
	}
	if contentEnd > start && r.ByteAt(contentEnd-1) == '\r' {
		contentEnd--
	}
	return start, contentEnd, breakEnd
}
