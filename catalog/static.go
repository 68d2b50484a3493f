package catalog

import (
	"context"
	"slices"
	"strings"
)

// Static is an in-memory repository. It backs tests and offline runs.
type Static []Node

// Search returns the nodes matching q in their stored order. Free-text
// criteria match when every word occurs in the title or description;
// subject and level criteria match tags case-insensitively. Unknown
// properties match everything.
func (s Static) Search(ctx context.Context, q Query) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Node
	for _, n := range s {
		if !matches(n, q) {
			continue
		}
		out = append(out, n)
		if q.MaxResults > 0 && len(out) == q.MaxResults {
			break
		}
	}
	return out, nil
}

func matches(n Node, q Query) bool {
	if len(q.Criteria) == 0 {
		return true
	}
	or := q.Combine == CombineOr
	for _, c := range q.Criteria {
		ok := criterionMatches(n, c)
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

func criterionMatches(n Node, c Criterion) bool {
	v := strings.ToLower(c.Value)
	switch c.Property {
	case PropertyText:
		hay := strings.ToLower(n.Title + " " + n.Description)
		for _, w := range strings.Fields(v) {
			if !strings.Contains(hay, w) {
				return false
			}
		}
		return true
	case PropertySubject:
		return hasTag(n.Subjects, v)
	case PropertyLevel:
		return hasTag(n.Levels, v)
	}
	return true
}

func hasTag(tags []string, v string) bool {
	return slices.ContainsFunc(tags, func(t string) bool { return strings.ToLower(t) == v })
}
