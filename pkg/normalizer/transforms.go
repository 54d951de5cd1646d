package normalizer

import "strings"

const codeFence = "```"

// scanner tracks whether the current byte sits inside a JSON string literal.
type scanner struct {
	inString bool
	escape   bool
}

// step consumes c and reports whether it is structural (outside any string literal).
func (sc *scanner) step(c byte) bool {
	if sc.inString {
		switch {
		case sc.escape:
			sc.escape = false
		case c == '\\':
			sc.escape = true
		case c == '"':
			sc.inString = false
		}
		return false
	}
	if c == '"' {
		sc.inString = true
		return false
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func nextNonSpace(s string, from int) int {
	for from < len(s) && isSpace(s[from]) {
		from++
	}
	return from
}

// hasOpeningDoubleBrace reports a structural "{{", which never occurs in valid JSON.
func hasOpeningDoubleBrace(s string) bool {
	var sc scanner
	for i := 0; i < len(s)-1; i++ {
		if sc.step(s[i]) && s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}

// collapseDoubledBraces undoes prompt-template escaping. It only runs when the
// text contains "{{", so valid nested objects ending in "}}" are left alone.
func collapseDoubledBraces(s string) string {
	if !hasOpeningDoubleBrace(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) && (c == '{' || c == '}') && i+1 < len(s) && s[i+1] == c {
			b.WriteByte(c)
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unwrapFence(s string) string {
	start := strings.Index(s, codeFence)
	if start == -1 {
		return s
	}
	rest := s[start+len(codeFence):]
	if end := strings.Index(rest, codeFence); end != -1 {
		rest = rest[:end]
	}
	rest = strings.TrimLeft(rest, "\r\n")
	if idx := strings.Index(rest, "\n"); idx != -1 {
		first := strings.TrimSpace(rest[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			rest = rest[idx+1:]
		}
	}
	return strings.TrimSpace(rest)
}

func span(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return s
	}
	end := strings.LastIndexByte(s, close)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// extractSpan cuts prose around the outermost value of the expected shape. A
// run of objects requested as an array is wrapped in brackets.
func extractSpan(s string, shape Shape) string {
	s = unwrapFence(s)
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	arrayFirst := arr >= 0 && (obj < 0 || arr < obj)

	switch shape {
	case ShapeObject:
		return span(s, '{', '}')
	case ShapeArray:
		if arrayFirst {
			return span(s, '[', ']')
		}
		if obj >= 0 {
			return "[" + span(s, '{', '}') + "]"
		}
		return s
	default:
		if arrayFirst {
			return span(s, '[', ']')
		}
		return span(s, '{', '}')
	}
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) && c == ',' {
			if j := nextNonSpace(s, i+1); j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func insertBoundaryCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		b.WriteByte(c)
		if !sc.step(c) || (c != '}' && c != ']') {
			continue
		}
		j := nextNonSpace(s, i+1)
		if j >= len(s) {
			continue
		}
		if (c == '}' && s[j] == '{') || (c == ']' && s[j] == '[') {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// insertStringCommas separates a string literal, object or array from a
// directly following string literal.
func insertStringCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		wasInString := sc.inString
		structural := sc.step(c)
		b.WriteByte(c)

		closedString := wasInString && !sc.inString
		closedValue := structural && (c == '}' || c == ']')
		if !closedString && !closedValue {
			continue
		}
		if j := nextNonSpace(s, i+1); j < len(s) && s[j] == '"' {
			b.WriteByte(',')
		}
	}
	return b.String()
}
