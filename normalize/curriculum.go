package normalize

import (
	"fmt"
	"slices"
	"strings"

	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
)

// DefaultDuration is used when an activity's duration is missing or holds no
// number.
const DefaultDuration = 45

// builder assembles the hierarchy and remembers, per activity, the loose
// hints that only matter for role synthesis.
type builder struct {
	plan    *model.Plan
	pending []pendingActivity
}

type pendingActivity struct {
	si, pi, ai int
	actorIDs   []string
	materials  []string
	hints      string
}

func (b *builder) activity(p pendingActivity) *model.Activity {
	return &b.plan.Solution.DidacticTemplate.LearningSequences[p.si].Phases[p.pi].Activities[p.ai]
}

func (b *builder) sequences(raw []any) {
	seqs := make([]model.Sequence, 0, len(raw))
	for si, it := range raw {
		m := asObj(it)
		s := model.Sequence{
			ID:                    str(m, "sequence_id", "id"),
			Name:                  str(m, "sequence_name", "name", "title"),
			TimeFrame:             str(m, "time_frame"),
			LearningGoal:          str(m, "learning_goal", "goal"),
			TransitionType:        transition(str(m, "transition_type")),
			PrerequisiteSequences: strs(m, "prerequisite_sequences", "prerequisites"),
			NextSequences:         strs(m, "next_sequences"),
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("Sequence %d", si+1)
		}

		phases, _ := list(m, "phases")
		if len(phases) == 0 {
			// Loose shape: activities hang directly off the sequence.
			if acts, ok := list(m, "learning_activities", "activities"); ok {
				phases = []any{map[string]any{
					"phase_name":          s.Name,
					"time_frame":          s.TimeFrame,
					"learning_goal":       s.LearningGoal,
					"learning_activities": acts,
				}}
			}
		}
		s.Phases = make([]model.Phase, 0, len(phases))
		for pi, pr := range phases {
			s.Phases = append(s.Phases, b.phase(asObj(pr), si, pi))
		}
		seqs = append(seqs, s)
	}
	b.plan.Solution.DidacticTemplate.LearningSequences = seqs
}

func (b *builder) phase(m map[string]any, si, pi int) model.Phase {
	ph := model.Phase{
		ID:                str(m, "phase_id", "id"),
		Name:              str(m, "phase_name", "name", "title"),
		TimeFrame:         str(m, "time_frame"),
		LearningGoal:      str(m, "learning_goal", "goal"),
		TransitionType:    transition(str(m, "transition_type")),
		PrerequisitePhase: first(strs(m, "prerequisite_phase")),
		NextPhase:         first(strs(m, "next_phase")),
	}
	if ph.Name == "" {
		ph.Name = fmt.Sprintf("Phase %d", pi+1)
	}
	acts, _ := list(m, "learning_activities", "activities")
	ph.Activities = make([]model.Activity, 0, len(acts))
	for ai, ar := range acts {
		ph.Activities = append(ph.Activities, b.activityFrom(asObj(ar), si, pi, ai))
	}
	return ph
}

func (b *builder) activityFrom(m map[string]any, si, pi, ai int) model.Activity {
	a := model.Activity{
		ID:                   str(m, "activity_id", "id"),
		Name:                 str(m, "name", "activity_name", "title"),
		Description:          str(m, "description"),
		Duration:             duration(m["duration"]),
		Goal:                 str(m, "goal", "learning_goal"),
		TransitionType:       transition(str(m, "transition_type")),
		PrerequisiteActivity: first(strs(m, "prerequisite_activity")),
		NextActivity:         strs(m, "next_activity", "next_activities"),
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("Activity %d", ai+1)
	}
	rs, _ := list(m, "roles")
	a.Roles = make([]model.Role, 0, len(rs))
	for _, rr := range rs {
		if rm, ok := rr.(map[string]any); ok {
			a.Roles = append(a.Roles, role(rm))
		}
	}

	hints := append([]string{a.Name, a.Description}, strs(m, "tags", "keywords")...)
	hints = append(hints, str(m, "type", "activity_type", "method", "social_form"))
	b.pending = append(b.pending, pendingActivity{
		si: si, pi: pi, ai: ai,
		actorIDs:  strs(m, "actor_ids", "actors"),
		materials: strs(m, "materials", "material_ids", "selected_materials"),
		hints:     strings.ToLower(strings.Join(hints, " ")),
	})
	return a
}

func role(m map[string]any) model.Role {
	r := model.Role{
		ID:                      str(m, "role_id", "id"),
		Name:                    str(m, "role_name", "name"),
		ActorID:                 str(m, "actor_id", "actor"),
		TaskDescription:         str(m, "task_description", "task", "description"),
		SelectedDifferentiation: strs(m, "selected_differentiation", "differentiation"),
	}
	if le := obj(m, "learning_environment"); le != nil {
		r.LearningEnvironment = usage(le, str(le, "environment_id", "id"))
	} else if id := str(m, "environment_id"); id != "" {
		r.LearningEnvironment = usage(m, id)
	}
	return r
}

func usage(m map[string]any, envID string) *model.EnvironmentUsage {
	return &model.EnvironmentUsage{
		EnvironmentID:     envID,
		SelectedMaterials: strs(m, "selected_materials", "materials"),
		SelectedTools:     strs(m, "selected_tools", "tools"),
		SelectedServices:  strs(m, "selected_services", "services"),
	}
}

// duration coerces a number or a string holding a number into whole
// minutes. Negative values clamp to zero and huge ones to MaxInt32.
func duration(v any) int {
	n, ok := number(v)
	if !ok {
		return DefaultDuration
	}
	if n < 0 {
		return 0
	}
	return int(whole(n))
}

// transition maps loose spellings onto a known transition type, defaulting
// to sequential.
func transition(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.NewReplacer("_", "-", " ", "-").Replace(t)
	if slices.Contains(model.TransitionTypes, t) {
		return t
	}
	return model.TransitionSequential
}

func first(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// assigner hands out hierarchical ids. A supplied id is kept on its first
// occurrence; missing and duplicate ids are derived from the parent and
// the node's position, skipping every id supplied anywhere in the tree.
// Retired ids are never kept or handed out.
type assigner struct {
	reserved map[string]bool
	claimed  map[string]bool
	retired  func(string) bool
}

func (a *assigner) taken(id string) bool {
	return a.reserved[id] || a.claimed[id] || a.isRetired(id)
}

func (a *assigner) isRetired(id string) bool {
	return a.retired != nil && a.retired(id)
}

func (a *assigner) claim(id, parent string, level ident.Level, idx int) string {
	if id != "" && !a.claimed[id] && !a.isRetired(id) {
		a.claimed[id] = true
		return id
	}
	nid := ident.Next(parent, level, idx, a.taken)
	a.claimed[nid] = true
	return nid
}

func assignIDs(p *model.Plan, retired func(string) bool) {
	a := &assigner{reserved: make(map[string]bool), claimed: make(map[string]bool), retired: retired}
	seqs := p.Solution.DidacticTemplate.LearningSequences
	for _, s := range seqs {
		a.reserved[s.ID] = true
		for _, ph := range s.Phases {
			a.reserved[ph.ID] = true
			for _, act := range ph.Activities {
				a.reserved[act.ID] = true
				for _, r := range act.Roles {
					a.reserved[r.ID] = true
				}
			}
		}
	}
	delete(a.reserved, "")

	for si := range seqs {
		s := &seqs[si]
		s.ID = a.claim(s.ID, "", ident.LevelSequence, si)
		for pi := range s.Phases {
			ph := &s.Phases[pi]
			ph.ID = a.claim(ph.ID, s.ID, ident.LevelPhase, pi)
			for ai := range ph.Activities {
				act := &ph.Activities[ai]
				act.ID = a.claim(act.ID, ph.ID, ident.LevelActivity, ai)
				for ri := range act.Roles {
					act.Roles[ri].ID = a.claim(act.Roles[ri].ID, act.ID, ident.LevelRole, ri)
				}
			}
		}
	}
}
