package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/brunobiangulo/goplan/model"
)

// Validate checks every structural invariant of plan and returns all
// violations joined, or nil. Each violation matches ErrInvariant.
func Validate(plan *model.Plan) error {
	v := &validator{plan: plan, seen: make(map[string]bool)}
	v.run()
	return errors.Join(v.errs...)
}

type validator struct {
	plan *model.Plan
	seen map[string]bool
	errs []error

	sequences  map[string]*model.Sequence
	phases     map[string]*model.Phase
	activities map[string]*model.Activity
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...)))
}

func (v *validator) id(kind, id string) {
	if id == "" {
		v.fail("%s without id", kind)
		return
	}
	if v.seen[id] {
		v.fail("duplicate id %q", id)
	}
	v.seen[id] = true
}

func (v *validator) run() {
	v.sequences = make(map[string]*model.Sequence)
	v.phases = make(map[string]*model.Phase)
	v.activities = make(map[string]*model.Activity)

	seqs := v.plan.Solution.DidacticTemplate.LearningSequences
	for si := range seqs {
		s := &seqs[si]
		v.id("sequence", s.ID)
		v.sequences[s.ID] = s
		for pi := range s.Phases {
			ph := &s.Phases[pi]
			v.id("phase", ph.ID)
			v.phases[ph.ID] = ph
			for ai := range ph.Activities {
				a := &ph.Activities[ai]
				v.id("activity", a.ID)
				v.activities[a.ID] = a
				if a.Duration < 0 {
					v.fail("activity %q has negative duration %d", a.ID, a.Duration)
				}
				for ri := range a.Roles {
					v.id("role", a.Roles[ri].ID)
				}
			}
		}
	}

	v.checkSequenceLinks()
	v.checkPhaseLinks()
	v.checkActivityLinks()
	v.checkRosters()
	v.checkRoles()
}

func (v *validator) checkSequenceLinks() {
	for id, s := range v.sequences {
		if hasDuplicates(s.PrerequisiteSequences) || hasDuplicates(s.NextSequences) {
			v.fail("sequence %q has duplicate links", id)
		}
		for _, p := range s.PrerequisiteSequences {
			ps, ok := v.sequences[p]
			if !ok {
				v.fail("sequence %q: dangling prerequisite %q", id, p)
				continue
			}
			if p == id {
				v.fail("sequence %q is its own prerequisite", id)
			}
			if !slices.Contains(ps.NextSequences, id) {
				v.fail("sequence %q: prerequisite %q does not list it as next", id, p)
			}
		}
		for _, n := range s.NextSequences {
			ns, ok := v.sequences[n]
			if !ok {
				v.fail("sequence %q: dangling next %q", id, n)
				continue
			}
			if !slices.Contains(ns.PrerequisiteSequences, id) {
				v.fail("sequence %q: next %q does not list it as prerequisite", id, n)
			}
		}
	}
	v.checkAcyclic("sequence", func(id string) []string {
		if s, ok := v.sequences[id]; ok {
			return s.PrerequisiteSequences
		}
		return nil
	}, keys(v.sequences))
}

func (v *validator) checkPhaseLinks() {
	for id, ph := range v.phases {
		if p := ph.PrerequisitePhase; p != "" {
			pp, ok := v.phases[p]
			switch {
			case !ok:
				v.fail("phase %q: dangling prerequisite %q", id, p)
			case p == id:
				v.fail("phase %q is its own prerequisite", id)
			case pp.NextPhase != id:
				v.fail("phase %q: prerequisite %q has next %q", id, p, pp.NextPhase)
			}
		}
		if n := ph.NextPhase; n != "" {
			np, ok := v.phases[n]
			switch {
			case !ok:
				v.fail("phase %q: dangling next %q", id, n)
			case np.PrerequisitePhase != id:
				v.fail("phase %q: next %q has prerequisite %q", id, n, np.PrerequisitePhase)
			}
		}
	}
	v.checkAcyclic("phase", func(id string) []string {
		if ph, ok := v.phases[id]; ok && ph.PrerequisitePhase != "" {
			return []string{ph.PrerequisitePhase}
		}
		return nil
	}, keys(v.phases))
}

func (v *validator) checkActivityLinks() {
	for id, a := range v.activities {
		if hasDuplicates(a.NextActivity) {
			v.fail("activity %q has duplicate next links", id)
		}
		if p := a.PrerequisiteActivity; p != "" {
			pa, ok := v.activities[p]
			switch {
			case !ok:
				v.fail("activity %q: dangling prerequisite %q", id, p)
			case p == id:
				v.fail("activity %q is its own prerequisite", id)
			case !slices.Contains(pa.NextActivity, id):
				v.fail("activity %q: prerequisite %q does not list it as next", id, p)
			}
		}
		for _, n := range a.NextActivity {
			na, ok := v.activities[n]
			switch {
			case !ok:
				v.fail("activity %q: dangling next %q", id, n)
			case na.PrerequisiteActivity != id:
				v.fail("activity %q: next %q has prerequisite %q", id, n, na.PrerequisiteActivity)
			}
		}
	}
	v.checkAcyclic("activity", func(id string) []string {
		if a, ok := v.activities[id]; ok && a.PrerequisiteActivity != "" {
			return []string{a.PrerequisiteActivity}
		}
		return nil
	}, keys(v.activities))
}

// checkAcyclic runs a colouring DFS over prerequisite edges.
func (v *validator) checkAcyclic(kind string, prereqs func(string) []string, ids []string) {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(ids))
	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		for _, p := range prereqs(id) {
			switch colour[p] {
			case grey:
				return false
			case white:
				if !visit(p) {
					return false
				}
			}
		}
		colour[id] = black
		return true
	}
	for _, id := range ids {
		if colour[id] == white && !visit(id) {
			v.fail("%s links form a cycle through %q", kind, id)
			return
		}
	}
}

func (v *validator) checkRosters() {
	actors := make(map[string]bool)
	for _, a := range v.plan.Actors {
		if a.ID == "" {
			v.fail("actor without id")
		}
		if actors[a.ID] {
			v.fail("duplicate actor id %q", a.ID)
		}
		actors[a.ID] = true
	}
	envs := make(map[string]bool)
	for _, e := range v.plan.Environments {
		if e.ID == "" {
			v.fail("environment without id")
		}
		if envs[e.ID] {
			v.fail("duplicate environment id %q", e.ID)
		}
		envs[e.ID] = true
	}
}

func (v *validator) checkRoles() {
	v.plan.WalkRoles(func(a *model.Activity, r *model.Role) bool {
		actor := v.plan.Actor(r.ActorID)
		if actor == nil {
			v.fail("role %q: unknown actor %q", r.ID, r.ActorID)
		} else {
			for _, d := range r.SelectedDifferentiation {
				if !actor.HasAccommodation(d) {
					v.fail("role %q: accommodation %q not offered by actor %q", r.ID, d, actor.ID)
				}
			}
		}
		if u := r.LearningEnvironment; u != nil {
			env := v.plan.Environment(u.EnvironmentID)
			if env == nil {
				v.fail("role %q: unknown environment %q", r.ID, u.EnvironmentID)
				return true
			}
			for kind, ids := range map[string][]string{
				model.KindMaterial: u.SelectedMaterials,
				model.KindTool:     u.SelectedTools,
				model.KindService:  u.SelectedServices,
			} {
				for _, rid := range ids {
					if !env.HasResource(kind, rid) {
						v.fail("role %q: unknown %s %q", r.ID, kind, rid)
					}
				}
			}
		}
		return true
	})
}

func hasDuplicates(ids []string) bool {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
