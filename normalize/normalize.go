// Package normalize turns an untrusted, loosely shaped plan object into a
// complete canonical plan. It never fails on shape problems: missing fields
// get typed defaults, unknown references are repaired or dropped, and the
// resulting hierarchy satisfies every structural invariant.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/brunobiangulo/goplan/model"
)

// ErrNotJSON is returned by JSON when the input is not a JSON document at all.
var ErrNotJSON = errors.New("normalize: input is not JSON")

// Option configures a normalization.
type Option func(*options)

type options struct {
	retired func(string) bool
}

// WithRetired makes id assignment skip every id retired reports. A supplied
// id that is retired is treated as missing.
func WithRetired(retired func(string) bool) Option {
	return func(o *options) { o.retired = retired }
}

// Plan normalizes raw into a canonical plan. raw may be a decoded JSON
// object, JSON text as string or []byte, or any value that marshals to a
// JSON object. Anything else yields an empty, valid plan. raw is never
// modified.
func Plan(raw any, opts ...Option) *model.Plan {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m := toMap(raw)
	p := &model.Plan{}

	p.Metadata = decode(model.Metadata{}, m["metadata"])
	p.Problem = decode(model.Problem{}, m["problem"])
	p.Context = decode(model.Context{}, m["context"])
	p.InfluenceFactors = decode([]model.InfluenceFactor{}, m["influence_factors"])
	p.Consequences = decode(model.Consequences{}, m["consequences"])
	p.ImplementationNotes = decode([]model.ImplementationNote{}, m["implementation_notes"])
	p.RelatedPatterns = decode([]string{}, m["related_patterns"])
	p.Feedback = decode(model.Feedback{}, m["feedback"])
	p.Sources = decode([]model.Source{}, m["sources"])

	sol := obj(m, "solution")
	p.Solution.Approach = str(sol, "solution_approach", "approach")

	rawActors, _ := list(m, "actors")
	p.Actors = actors(rawActors)
	rawEnvs, _ := list(m, "environments")
	p.Environments = environments(rawEnvs)

	b := &builder{plan: p}
	b.sequences(sequenceList(m, sol))
	b.synthesizeRoles()
	assignIDs(p, o.retired)
	repairRefs(p)
	repairLinks(p)

	materialize(reflect.ValueOf(p))
	return p
}

// JSON decodes data and normalizes it. The only error is ErrNotJSON; shape
// problems are repaired.
func JSON(data []byte, opts ...Option) (*model.Plan, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotJSON, err)
	}
	return Plan(v, opts...), nil
}

// sequenceList finds the learning sequences wherever a producer put them.
func sequenceList(m, sol map[string]any) []any {
	candidates := []map[string]any{
		obj(sol, "didactic_template"),
		sol,
		obj(m, "didactic_template"),
		m,
	}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if l, ok := list(c, "learning_sequences", "sequences"); ok {
			return l
		}
	}
	return nil
}

func toMap(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case []byte:
		return unmarshalMap(v)
	case json.RawMessage:
		return unmarshalMap(v)
	case string:
		return unmarshalMap([]byte(v))
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return map[string]any{}
	}
	return unmarshalMap(data)
}

func unmarshalMap(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
