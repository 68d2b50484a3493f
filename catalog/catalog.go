// Package catalog queries an external repository of learning resources.
// The orchestrator uses it to turn search suggestions into candidate
// materials for a role.
package catalog

import (
	"context"
	"errors"
	"strings"
)

// ErrSearch wraps every failed repository call.
var ErrSearch = errors.New("catalog: search failed")

// Combine selects how the criteria of a query are joined.
type Combine string

const (
	CombineAnd Combine = "AND"
	CombineOr  Combine = "OR"
)

// Well-known criterion properties.
const (
	PropertyText     = "ngsearchword"
	PropertyCategory = "ccm:oeh_lrt_aggregated"
	PropertySubject  = "ccm:taxonid"
	PropertyLevel    = "ccm:educationalcontext"
)

// Criterion is one property filter of a query.
type Criterion struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Query is an ordered list of criteria plus result bounds.
type Query struct {
	Criteria   []Criterion `json:"criteria"`
	MaxResults int         `json:"max_results"`
	Combine    Combine     `json:"combine"`
}

// Text returns the values of every free-text criterion joined by spaces.
func (q Query) Text() string {
	var words []string
	for _, c := range q.Criteria {
		if c.Property == PropertyText {
			words = append(words, c.Value)
		}
	}
	return strings.Join(words, " ")
}

// Node is one candidate resource returned by a repository.
type Node struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Subjects    []string `json:"subjects" yaml:"subjects"`
	Levels      []string `json:"levels" yaml:"levels"`
	URL         string   `json:"url" yaml:"url"`
	PreviewURL  string   `json:"preview_url" yaml:"preview_url"`
	Score       float64  `json:"score,omitempty" yaml:"score,omitempty"`
}

// Repository searches a resource catalog.
type Repository interface {
	Search(ctx context.Context, q Query) ([]Node, error)
}
