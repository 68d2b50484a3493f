// Package ident derives and validates the hierarchical identifiers used by
// curriculum nodes: SEQ1, SEQ1-P2, SEQ1-P2-A3, SEQ1-P2-A3-R1.
//
// An identifier is a pure function of its parent identifier and the child's
// ordinal, so re-deriving the identifier of an existing child always yields
// the same value.
package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is a depth in the curriculum hierarchy.
type Level int

const (
	LevelUnknown Level = iota
	LevelSequence
	LevelPhase
	LevelActivity
	LevelRole
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelSequence:
		return "sequence"
	case LevelPhase:
		return "phase"
	case LevelActivity:
		return "activity"
	case LevelRole:
		return "role"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to a Level. Unknown names yield LevelUnknown.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequence", "seq":
		return LevelSequence
	case "phase":
		return LevelPhase
	case "activity":
		return LevelActivity
	case "role":
		return LevelRole
	default:
		return LevelUnknown
	}
}

// Child returns the level directly below l, or LevelUnknown for roles.
func (l Level) Child() Level {
	switch l {
	case LevelSequence:
		return LevelPhase
	case LevelPhase:
		return LevelActivity
	case LevelActivity:
		return LevelRole
	default:
		return LevelUnknown
	}
}

const sequencePrefix = "SEQ"

// tag is the single-letter marker a level uses below the root.
func (l Level) tag() string {
	switch l {
	case LevelPhase:
		return "P"
	case LevelActivity:
		return "A"
	case LevelRole:
		return "R"
	default:
		return ""
	}
}

// Sequence returns the root identifier for the n-th sequence (1-based).
func Sequence(n int) string {
	return sequencePrefix + strconv.Itoa(n)
}

// Child returns "{parent}-{tag}{n}" for a child at the given level.
// Sequences ignore parent and use the root form.
func Child(parent string, level Level, n int) string {
	if level == LevelSequence {
		return Sequence(n)
	}
	return fmt.Sprintf("%s-%s%d", parent, level.tag(), n)
}

// Next returns the first identifier for a new child of parent whose ordinal
// is at least siblings+1 and which is not reported as taken.
func Next(parent string, level Level, siblings int, taken func(string) bool) string {
	n := siblings + 1
	for {
		id := Child(parent, level, n)
		if taken == nil || !taken(id) {
			return id
		}
		n++
	}
}

// Parsed is the decomposition of a hierarchical identifier.
type Parsed struct {
	Level    Level
	Ordinals []int // one ordinal per level, outermost first
}

// Parent returns the identifier of the enclosing node, or "" for sequences.
func (p Parsed) Parent() string {
	if len(p.Ordinals) <= 1 {
		return ""
	}
	return Format(Parsed{Level: p.Level - 1, Ordinals: p.Ordinals[:len(p.Ordinals)-1]})
}

// Format renders a Parsed value back into its canonical identifier.
func Format(p Parsed) string {
	if len(p.Ordinals) == 0 {
		return ""
	}
	id := Sequence(p.Ordinals[0])
	lvl := LevelSequence
	for _, n := range p.Ordinals[1:] {
		lvl = lvl.Child()
		id = Child(id, lvl, n)
	}
	return id
}

// Parse decomposes a canonical identifier. It reports false for anything
// that is not of the form SEQn[-Pn[-An[-Rn]]] with positive ordinals.
func Parse(id string) (Parsed, bool) {
	parts := strings.Split(id, "-")
	if len(parts) == 0 || len(parts) > 4 {
		return Parsed{}, false
	}
	if !strings.HasPrefix(parts[0], sequencePrefix) {
		return Parsed{}, false
	}
	first, ok := ordinal(parts[0][len(sequencePrefix):])
	if !ok {
		return Parsed{}, false
	}
	p := Parsed{Level: LevelSequence, Ordinals: []int{first}}
	for _, part := range parts[1:] {
		next := p.Level.Child()
		tag := next.tag()
		if !strings.HasPrefix(part, tag) {
			return Parsed{}, false
		}
		n, ok := ordinal(part[len(tag):])
		if !ok {
			return Parsed{}, false
		}
		p.Level = next
		p.Ordinals = append(p.Ordinals, n)
	}
	return p, true
}

// Valid reports whether id is a canonical hierarchical identifier.
func Valid(id string) bool {
	_, ok := Parse(id)
	return ok
}

// LevelOf returns the level encoded in id, or LevelUnknown.
func LevelOf(id string) Level {
	p, ok := Parse(id)
	if !ok {
		return LevelUnknown
	}
	return p.Level
}

// ordinal parses a positive decimal with no sign and no leading zero.
func ordinal(s string) (int, bool) {
	if s == "" || s[0] == '0' {
		return 0, false
	}
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
