package relocation

import "strings"

// pathByte reports whether c can be part of a relative path literal.
func pathByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return c == '.' || c == '/' || c == '-' || c == '_' || c == '\\'
}

// literalAt reports whether text[i:] starts a standalone occurrence of lit:
// the bytes around it must not continue a path. A leading "./" is allowed.
func literalAt(text string, i int, lit string) bool {
	if !strings.HasPrefix(text[i:], lit) {
		return false
	}
	if i > 0 && pathByte(text[i-1]) && !(i >= 2 && text[i-2:i] == "./" && (i == 2 || !pathByte(text[i-3]))) {
		return false
	}
	end := i + len(lit)
	if end < len(text) && pathByte(text[end]) {
		// A sentence-ending dot still ends the literal.
		if text[end] != '.' || (end+1 < len(text) && pathByte(text[end+1])) {
			return false
		}
	}
	return true
}

func containsLiteral(text, lit string) bool {
	for i := 0; i+len(lit) <= len(text); {
		idx := strings.Index(text[i:], lit)
		if idx < 0 {
			return false
		}
		if literalAt(text, i+idx, lit) {
			return true
		}
		i += idx + 1
	}
	return false
}

// applyRewrites substitutes every standalone occurrence of each Old literal.
// Rewrites are applied in one left-to-right pass so a replacement is never
// rewritten again.
func applyRewrites(data []byte, rewrites []Rewrite) []byte {
	if len(rewrites) == 0 {
		return data
	}
	text := string(data)
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		matched := false
		for _, rw := range rewrites {
			if literalAt(text, i, rw.Old) {
				b.WriteString(rw.New)
				i += len(rw.Old)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(text[i])
			i++
		}
	}
	return []byte(b.String())
}
