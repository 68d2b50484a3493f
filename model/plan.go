// Package model defines the canonical lesson-plan document: a curriculum
// hierarchy of sequences, phases, activities and roles, plus the actor and
// environment rosters the roles refer to.
//
// The JSON tags are the exchange format shared with importers, exporters
// and the generative backend.
package model

import (
	"encoding/json"
	"fmt"

	deepcopy "github.com/tiendc/go-deepcopy"
)

// Plan is the whole lesson-plan document.
type Plan struct {
	Metadata            Metadata             `json:"metadata"`
	Problem             Problem              `json:"problem"`
	Context             Context              `json:"context"`
	InfluenceFactors    []InfluenceFactor    `json:"influence_factors"`
	Solution            Solution             `json:"solution"`
	Consequences        Consequences         `json:"consequences"`
	ImplementationNotes []ImplementationNote `json:"implementation_notes"`
	RelatedPatterns     []string             `json:"related_patterns"`
	Feedback            Feedback             `json:"feedback"`
	Sources             []Source             `json:"sources"`
	Actors              []Actor              `json:"actors"`
	Environments        []Environment        `json:"environments"`
}

// Metadata describes the plan as a whole.
type Metadata struct {
	Title          string   `json:"title"`
	Subject        string   `json:"subject"`
	EducationLevel string   `json:"education_level"`
	Language       string   `json:"language"`
	Author         string   `json:"author"`
	Version        string   `json:"version"`
	Keywords       []string `json:"keywords"`
}

// Problem is the didactic problem the plan answers.
type Problem struct {
	Description   string   `json:"problem_description"`
	LearningGoals []string `json:"learning_goals"`
	Challenges    []string `json:"didactic_challenges"`
}

// Context captures the teaching situation.
type Context struct {
	TargetGroup   string   `json:"target_group"`
	Subject       string   `json:"subject"`
	TimeFrame     string   `json:"time_frame"`
	Prerequisites []string `json:"prerequisites"`
	Setting       string   `json:"setting"`
}

// InfluenceFactor is one factor that shapes the plan.
type InfluenceFactor struct {
	Factor      string `json:"factor"`
	Description string `json:"description"`
}

// Solution holds the didactic template and its sequences.
type Solution struct {
	Approach         string           `json:"solution_approach"`
	DidacticTemplate DidacticTemplate `json:"didactic_template"`
}

// DidacticTemplate owns the ordered list of learning sequences.
type DidacticTemplate struct {
	LearningSequences []Sequence `json:"learning_sequences"`
}

// Consequences lists the expected effects of the plan.
type Consequences struct {
	Advantages    []string `json:"advantages"`
	Disadvantages []string `json:"disadvantages"`
}

// ImplementationNote is a free-form hint for teachers running the plan.
type ImplementationNote struct {
	NoteID      string `json:"note_id"`
	Description string `json:"description"`
}

// Feedback collects experiences from running the plan.
type Feedback struct {
	Experiences []string `json:"experiences"`
	Suggestions []string `json:"suggestions"`
}

// Source is a bibliographic or web reference.
type Source struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	URL      string `json:"url"`
}

// Sequences returns the plan's learning sequences.
func (p *Plan) Sequences() []Sequence {
	return p.Solution.DidacticTemplate.LearningSequences
}

// Clone returns a deep copy of the plan. Mutating the copy never touches
// the receiver.
func (p *Plan) Clone() (*Plan, error) {
	var out Plan
	if err := deepcopy.Copy(&out, p); err != nil {
		return nil, fmt.Errorf("cloning plan: %w", err)
	}
	return &out, nil
}

// Actor returns the actor with the given id, or nil.
func (p *Plan) Actor(id string) *Actor {
	for i := range p.Actors {
		if p.Actors[i].ID == id {
			return &p.Actors[i]
		}
	}
	return nil
}

// Environment returns the environment with the given id, or nil.
func (p *Plan) Environment(id string) *Environment {
	for i := range p.Environments {
		if p.Environments[i].ID == id {
			return &p.Environments[i]
		}
	}
	return nil
}

// Activity returns the activity with the given id, or nil.
func (p *Plan) Activity(id string) *Activity {
	var found *Activity
	p.WalkActivities(func(_ *Sequence, _ *Phase, a *Activity) bool {
		if a.ID == id {
			found = a
			return false
		}
		return true
	})
	return found
}

// WalkActivities visits every activity in document order. Returning false
// from fn stops the walk.
func (p *Plan) WalkActivities(fn func(seq *Sequence, ph *Phase, a *Activity) bool) {
	seqs := p.Solution.DidacticTemplate.LearningSequences
	for si := range seqs {
		for pi := range seqs[si].Phases {
			ph := &seqs[si].Phases[pi]
			for ai := range ph.Activities {
				if !fn(&seqs[si], ph, &ph.Activities[ai]) {
					return
				}
			}
		}
	}
}

// WalkRoles visits every role in document order. Returning false from fn
// stops the walk.
func (p *Plan) WalkRoles(fn func(a *Activity, r *Role) bool) {
	p.WalkActivities(func(_ *Sequence, _ *Phase, a *Activity) bool {
		for ri := range a.Roles {
			if !fn(a, &a.Roles[ri]) {
				return false
			}
		}
		return true
	})
}

// MarshalIndent renders the plan as indented canonical JSON.
func (p *Plan) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
