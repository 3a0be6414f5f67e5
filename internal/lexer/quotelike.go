package lexer

import "strings"

// closerFor returns the matching closing delimiter. Bracket pairs nest;
// every other delimiter closes itself.
func closerFor(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	case '{':
		return '}'
	case '<':
		return '>'
	default:
		return open
	}
}

// peekDelimiter looks past optional horizontal whitespace for a quote-like
// delimiter. '#' and '=' only count when immediately adjacent to the
// operator word ('q #' is a comment, 'q =>' is a fat comma).
func (l *Lexer) peekDelimiter() (delim byte, at int, ok bool) {
	i := l.pos
	spaced := false
	for i < len(l.src) && (l.src[i] == ' ' || l.src[i] == '\t') {
		i++
		spaced = true
	}
	if i >= len(l.src) {
		return 0, 0, false
	}
	c := l.src[i]
	if isIdentChar(c) || c == ' ' || c == '\t' || c == '\n' || c == '\r' {
		return 0, 0, false
	}
	switch c {
	case ',', ';':
		return 0, 0, false
	case '#':
		if spaced {
			return 0, 0, false
		}
	case '=':
		if spaced || (i+1 < len(l.src) && l.src[i+1] == '>') {
			return 0, 0, false
		}
	}
	return c, i, true
}

// scanSection consumes one delimited section starting at the opening
// delimiter and returns its content. Bracket-pair delimiters nest;
// backslash escapes the delimiter everywhere.
func (l *Lexer) scanSection(open byte) (content string, terminated bool) {
	clos := closerFor(open)
	l.pos++ // opening delimiter
	depth := 1
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos += 2
			continue
		}
		if c == open && clos != open {
			depth++
		} else if c == clos {
			depth--
			if depth == 0 {
				content = l.src[start:l.pos]
				l.pos++
				return content, true
			}
		}
		l.pos++
	}
	return l.src[start:l.pos], false
}

// scanQuoteLike scans q/qq/qw/qr/qx/m/s/tr/y with its delimiter, section
// count, and trailing flags.
func (l *Lexer) scanQuoteLike(start int, word string, sections int, delim byte, delimAt int) Token {
	l.pos = delimAt
	clos := closerFor(delim)

	t := Token{Kind: QuoteLike, Start: start, Op: word, Open: delim, Close: clos}
	part, ok := l.scanSection(delim)
	t.Parts = append(t.Parts, part)
	if !ok {
		t.End = l.pos
		t.Text = l.src[start:l.pos]
		return Token{Kind: Error, Start: start, End: l.pos, Text: t.Text, Message: "unterminated " + word + " operator"}
	}

	if sections == 2 {
		second := delim
		if clos != delim {
			// Bracket-pair delimited replacement re-opens with its own
			// delimiter, e.g. s{foo}{bar} or s{foo}(bar)
			for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
				l.pos++
			}
			if l.pos >= len(l.src) {
				return Token{Kind: Error, Start: start, End: l.pos, Text: l.src[start:l.pos], Message: "missing replacement for " + word}
			}
			second = l.src[l.pos]
			part, ok = l.scanSection(second)
		} else {
			// Same-delimiter form: the closer of part one opens part two
			l.pos--
			part, ok = l.scanSection(second)
		}
		t.Parts = append(t.Parts, part)
		if !ok {
			return Token{Kind: Error, Start: start, End: l.pos, Text: l.src[start:l.pos], Message: "unterminated " + word + " operator"}
		}
	}

	flagStart := l.pos
	for l.pos < len(l.src) && isAlpha(l.src[l.pos]) {
		l.pos++
	}
	t.Flags = l.src[flagStart:l.pos]
	t.End = l.pos
	t.Text = l.src[start:l.pos]
	t.Interp = delim != '\'' && word != "q" && word != "qw"
	return t
}

// scanMatch scans a bare /pattern/flags regex match.
func (l *Lexer) scanMatch(start int) Token {
	part, ok := l.scanSection('/')
	if !ok {
		return Token{Kind: Error, Start: start, End: l.pos, Text: l.src[start:l.pos], Message: "unterminated regex"}
	}
	flagStart := l.pos
	for l.pos < len(l.src) && isAlpha(l.src[l.pos]) {
		l.pos++
	}
	return Token{
		Kind: Match, Start: start, End: l.pos,
		Text:   l.src[start:l.pos],
		Parts:  []string{part},
		Flags:  l.src[flagStart:l.pos],
		Open:   '/',
		Close:  '/',
		Interp: true,
	}
}

// isHeredocStart reports whether '<<' at the cursor begins a heredoc
// start marker rather than a left shift. The tag must follow without
// whitespace: an identifier, optionally preceded by '~', or a quoted tag.
func (l *Lexer) isHeredocStart() bool {
	s := l.src
	if !strings.HasPrefix(s[l.pos:], "<<") {
		return false
	}
	i := l.pos + 2
	if i < len(s) && s[i] == '~' {
		i++
	}
	if i >= len(s) {
		return false
	}
	c := s[i]
	return isIdentStart(c) || c == '\'' || c == '"' || c == '`'
}

// scanHeredocStart scans the <<TAG marker and queues the body for the
// next line end.
func (l *Lexer) scanHeredocStart(start int) Token {
	s := l.src
	l.pos += 2
	indent := false
	if l.pos < len(s) && s[l.pos] == '~' {
		indent = true
		l.pos++
	}
	interp := true
	var tag string
	if c := s[l.pos]; c == '\'' || c == '"' || c == '`' {
		quote := c
		l.pos++
		tagStart := l.pos
		for l.pos < len(s) && s[l.pos] != quote && s[l.pos] != '\n' {
			l.pos++
		}
		tag = s[tagStart:l.pos]
		if l.pos < len(s) && s[l.pos] == quote {
			l.pos++
		}
		interp = quote != '\''
	} else {
		tagStart := l.pos
		for l.pos < len(s) && isIdentChar(s[l.pos]) {
			l.pos++
		}
		tag = s[tagStart:l.pos]
	}
	l.pending = append(l.pending, pendingHeredoc{tag: tag, interp: interp, indent: indent})
	return Token{
		Kind: HeredocStart, Start: start, End: l.pos,
		Text: s[start:l.pos], Tag: tag, Indent: indent, Interp: interp,
	}
}

// collectHeredocBodies consumes the body lines for every pending heredoc,
// in marker order, starting at the current position (just past a line
// end). Body tokens are queued and returned ahead of regular scanning.
func (l *Lexer) collectHeredocBodies() {
	for _, p := range l.pending {
		bodyStart := l.pos
		terminated := false
		var bodyEnd int
		for l.pos < len(l.src) {
			lineStart := l.pos
			nl := strings.IndexByte(l.src[l.pos:], '\n')
			var line string
			if nl < 0 {
				line = l.src[l.pos:]
				l.pos = len(l.src)
			} else {
				line = l.src[l.pos : l.pos+nl]
				l.pos += nl + 1
			}
			trimmed := strings.TrimRight(line, "\r")
			if p.indent {
				trimmed = strings.TrimLeft(trimmed, " \t")
			}
			if trimmed == p.tag {
				terminated = true
				bodyEnd = lineStart
				break
			}
		}
		if !terminated {
			bodyEnd = l.pos
		}
		body := l.src[bodyStart:bodyEnd]
		tok := Token{
			Kind: HeredocBody, Start: bodyStart, End: l.pos,
			Text: l.src[bodyStart:l.pos], Tag: p.tag, Body: body,
			Interp: p.interp, Indent: p.indent,
		}
		if !terminated {
			tok.Message = "unterminated heredoc " + p.tag
		}
		l.queue = append(l.queue, tok)
	}
	l.pending = nil
}
