// Package repair turns the raw text of a generative backend into parseable
// JSON. Repairs are an ordered list of pure text passes, each applied only
// while parsing still fails.
package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrUnrecoverableFormat is matched by every *UnrecoverableFormatError.
var ErrUnrecoverableFormat = errors.New("repair: unrecoverable format")

// UnrecoverableFormatError reports text that no pass could turn into JSON.
// Err, Offset and Context describe the parse failure of the unrepaired text.
type UnrecoverableFormatError struct {
	Err     error
	Offset  int64
	Context string
}

func (e *UnrecoverableFormatError) Error() string {
	return fmt.Sprintf("repair: unparsable JSON at offset %d near %q: %v", e.Offset, e.Context, e.Err)
}

func (e *UnrecoverableFormatError) Unwrap() error { return e.Err }

// Is matches ErrUnrecoverableFormat.
func (e *UnrecoverableFormatError) Is(target error) bool {
	return target == ErrUnrecoverableFormat
}

// Pass is a single named text transform.
type Pass struct {
	Name  string
	Apply func(string) string
}

// Passes are tried in order. Each one sees the output of the previous one.
var Passes = []Pass{
	{"trailing-commas", TrailingCommas},
	{"number-words", NumberWords},
	{"interior-quotes", InteriorQuotes},
	{"control-chars", ControlChars},
	{"truncate", Truncate},
}

// contextWindow is the number of bytes kept on each side of a parse error.
const contextWindow = 24

// JSON extracts the JSON object from raw and repairs it until it parses.
func JSON(raw string) (string, error) {
	text := Extract(raw)
	firstErr := parse(text)
	if firstErr == nil {
		return text, nil
	}
	for _, p := range Passes {
		text = p.Apply(text)
		if parse(text) == nil {
			slog.Debug("repair: output repaired", "pass", p.Name)
			return text, nil
		}
	}
	return "", unrecoverable(Extract(raw), firstErr)
}

// Decode repairs raw and unmarshals it into v.
func Decode(raw string, v any) error {
	text, err := JSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("repair: decoding repaired JSON: %w", err)
	}
	return nil
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

// Extract strips markdown fences and surrounding prose, keeping the span
// from the first '{' to the last '}'. Text without a closing brace is kept
// from the first '{' so truncated output can still be repaired.
func Extract(raw string) string {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	} else if i := strings.Index(raw, "```"); i >= 0 {
		// Unterminated fence from a cut-off generation.
		raw = raw[i+3:]
		raw = strings.TrimPrefix(strings.TrimPrefix(raw, "json"), "JSON")
	}
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	if start < 0 {
		return raw
	}
	end := strings.LastIndex(raw, "}")
	if end > start && !unbalanced(raw[start:end+1]) {
		return raw[start : end+1]
	}
	return raw[start:]
}

// unbalanced reports whether s leaves an object or array open.
func unbalanced(s string) bool {
	depth := 0
	scan(s, func(i int, c byte, inString bool) {
		if inString {
			return
		}
		switch c {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	})
	return depth > 0
}

func parse(text string) error {
	var v any
	return json.Unmarshal([]byte(text), &v)
}

func unrecoverable(text string, err error) error {
	var offset int64
	var se *json.SyntaxError
	if errors.As(err, &se) {
		offset = se.Offset
	}
	lo := max(int(offset)-contextWindow, 0)
	hi := min(int(offset)+contextWindow, len(text))
	lo = min(lo, hi)
	return &UnrecoverableFormatError{Err: err, Offset: offset, Context: text[lo:hi]}
}
