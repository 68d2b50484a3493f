package catalog

import (
	"sort"
	"strings"
	"unicode"
)

const rrfK = 60 // RRF constant (standard value from literature)

// Rank orders nodes by lexical relevance to query and returns at most k
// of them with Score set. Title overlap and description overlap are ranked
// independently and fused with reciprocal rank fusion:
// score = sum(1 / (rrfK + rank_i)). Nodes that share no term with query
// keep their input order behind those that do.
func Rank(query string, nodes []Node, k int) []Node {
	terms := significantTerms(query)

	type entry struct {
		node  Node
		pos   int
		title int
		desc  int
		score float64
	}
	entries := make([]*entry, len(nodes))
	for i, n := range nodes {
		entries[i] = &entry{
			node:  n,
			pos:   i,
			title: overlap(terms, n.Title),
			desc:  overlap(terms, n.Description+" "+strings.Join(n.Subjects, " ")),
		}
	}

	fuse := func(key func(*entry) int) {
		ranked := make([]*entry, 0, len(entries))
		for _, e := range entries {
			if key(e) > 0 {
				ranked = append(ranked, e)
			}
		}
		sort.SliceStable(ranked, func(i, j int) bool { return key(ranked[i]) > key(ranked[j]) })
		for rank, e := range ranked {
			e.score += 1 / float64(rrfK+rank+1)
		}
	}
	fuse(func(e *entry) int { return e.title })
	fuse(func(e *entry) int { return e.desc })

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].pos < entries[j].pos
	})
	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	out := make([]Node, len(entries))
	for i, e := range entries {
		out[i] = e.node
		out[i].Score = e.score
	}
	return out
}

func overlap(terms map[string]bool, text string) int {
	n := 0
	seen := map[string]bool{}
	for _, w := range words(text) {
		if terms[w] && !seen[w] {
			seen[w] = true
			n++
		}
	}
	return n
}

// significantTerms returns the lower-cased words of s longer than two
// runes that are not stop words.
func significantTerms(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range words(s) {
		if len([]rune(w)) > 2 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// English and German function words; plans arrive in either language.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "are": true, "was": true, "into": true,
	"about": true, "their": true, "they": true, "how": true, "what": true,
	"der": true, "die": true, "das": true, "und": true, "mit": true,
	"für": true, "von": true, "den": true, "dem": true, "ein": true,
	"eine": true, "einer": true, "zum": true, "zur": true, "auf": true,
	"sich": true, "wie": true, "ist": true, "sind": true, "werden": true,
}
