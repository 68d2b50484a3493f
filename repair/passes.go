package repair

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// scan walks s byte by byte and reports whether each byte lies inside a
// string literal. Quote bytes themselves are reported as outside.
func scan(s string, fn func(i int, c byte, inString bool)) {
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString && escaped:
			escaped = false
			fn(i, c, true)
		case inString && c == '\\':
			escaped = true
			fn(i, c, true)
		case c == '"':
			inString = !inString
			fn(i, c, false)
		default:
			fn(i, c, inString)
		}
	}
}

// TrailingCommas drops commas that directly precede a closing brace or
// bracket.
func TrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	scan(s, func(i int, c byte, inString bool) {
		if c == ',' && !inString {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				return
			}
		}
		b.WriteByte(c)
	})
	return b.String()
}

var numberWordRe = regexp.MustCompile(`(:\s*)([A-Za-z]+(?:[ _-]+[A-Za-z]+)*)(\s*[,}\]\r\n])`)

// NumberWords replaces spelled-out English numbers that follow a colon,
// such as thirty_five or "two hundred and ten", with digits. Text inside
// string literals is left alone.
func NumberWords(s string) string {
	inString := make([]bool, len(s))
	scan(s, func(i int, _ byte, in bool) { inString[i] = in })

	var b strings.Builder
	last := 0
	for _, m := range numberWordRe.FindAllStringSubmatchIndex(s, -1) {
		if inString[m[0]] {
			continue
		}
		n, ok := ParseNumber(s[m[4]:m[5]])
		if !ok {
			continue
		}
		b.WriteString(s[last:m[4]])
		b.WriteString(strconv.Itoa(n))
		last = m[5]
	}
	b.WriteString(s[last:])
	return b.String()
}

const (
	quotePlaceholder     = "\x00QUOTE\x00"
	backslashPlaceholder = "\x00BACKSLASH\x00"
)

// InteriorQuotes escapes quotes inside string values that the producer
// forgot to escape. A quote closes a string only when it is followed by
// something that can follow a string in JSON.
func InteriorQuotes(s string) string {
	s = strings.ReplaceAll(s, `\\`, backslashPlaceholder)
	s = strings.ReplaceAll(s, `\"`, quotePlaceholder)
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '"' {
			b.WriteByte(c)
			continue
		}
		if !inString {
			inString = true
			b.WriteByte(c)
			continue
		}
		if closesString(s, i+1) {
			inString = false
			b.WriteByte(c)
			continue
		}
		b.WriteString(`\"`)
	}
	out := strings.ReplaceAll(b.String(), quotePlaceholder, `\"`)
	return strings.ReplaceAll(out, backslashPlaceholder, `\\`)
}

func closesString(s string, j int) bool {
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	if j >= len(s) {
		return true
	}
	switch s[j] {
	case ':', '}', ']':
		return true
	case ',':
		j++
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		if j >= len(s) {
			return true
		}
		c := s[j]
		return c == '"' || c == '{' || c == '[' || c == '}' || c == ']' || c == '-' ||
			(c >= '0' && c <= '9') || strings.HasPrefix(s[j:], "true") ||
			strings.HasPrefix(s[j:], "false") || strings.HasPrefix(s[j:], "null")
	}
	return false
}

// ControlChars removes raw control characters other than newline, carriage
// return and tab.
func ControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// maxTruncations bounds how many closing braces Truncate tries.
const maxTruncations = 256

// Truncate cuts s after the last closing brace at which the text, with any
// still-open containers closed, parses. Trailing garbage from a cut-off
// generation is discarded.
func Truncate(s string) string {
	type cut struct {
		end     int
		closers string
	}
	var cuts []cut
	var stack []byte
	scan(s, func(i int, c byte, inString bool) {
		if inString {
			return
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return
			}
			stack = stack[:len(stack)-1]
			if c == '}' {
				cuts = append(cuts, cut{end: i + 1, closers: reversed(stack)})
			}
		}
	})
	for k, tried := len(cuts)-1, 0; k >= 0 && tried < maxTruncations; k, tried = k-1, tried+1 {
		cand := TrailingCommas(s[:cuts[k].end] + cuts[k].closers)
		if json.Valid([]byte(cand)) {
			return cand
		}
	}
	return s
}

func reversed(stack []byte) string {
	out := make([]byte, len(stack))
	for i, c := range stack {
		out[len(stack)-1-i] = c
	}
	return string(out)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
