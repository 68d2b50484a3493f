// Package graph keeps the curriculum hierarchy of a plan consistent while it
// is edited. Every structural change goes through a Manager, which owns the
// bidirectional prerequisite/next links, the deletion cascade and the
// referential checks on roles.
package graph

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
)

// Manager applies structural edits to a plan. The plan is an explicit handle
// owned by the caller; the manager never copies it.
type Manager struct {
	plan *model.Plan

	// retired holds ids of deleted nodes so they are never handed out again
	// during the session.
	retired map[string]bool
}

// New returns a manager editing plan in place.
func New(plan *model.Plan) *Manager {
	return &Manager{plan: plan, retired: make(map[string]bool)}
}

// Resume returns a manager for plan that also refuses the given retired ids,
// as reported by Retired in an earlier session.
func Resume(plan *model.Plan, retired []string) *Manager {
	m := New(plan)
	for _, id := range retired {
		m.retired[id] = true
	}
	return m
}

// Retired lists the ids of deleted nodes, sorted.
func (m *Manager) Retired() []string {
	ids := make([]string, 0, len(m.retired))
	for id := range m.retired {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Plan returns the plan being edited.
func (m *Manager) Plan() *model.Plan {
	return m.plan
}

// node is the location of a hierarchy node at the time of lookup. Pointers
// stay valid only until the next structural change.
type node struct {
	level    ident.Level
	seq      *model.Sequence
	phase    *model.Phase
	activity *model.Activity
	role     *model.Role

	seqIdx, phaseIdx, activityIdx, roleIdx int
}

func (m *Manager) sequences() []model.Sequence {
	return m.plan.Solution.DidacticTemplate.LearningSequences
}

// locate finds the hierarchy node with the given id.
func (m *Manager) locate(id string) (node, bool) {
	if id == "" {
		return node{}, false
	}
	seqs := m.sequences()
	for si := range seqs {
		s := &seqs[si]
		if s.ID == id {
			return node{level: ident.LevelSequence, seq: s, seqIdx: si}, true
		}
		for pi := range s.Phases {
			ph := &s.Phases[pi]
			if ph.ID == id {
				return node{level: ident.LevelPhase, seq: s, phase: ph, seqIdx: si, phaseIdx: pi}, true
			}
			for ai := range ph.Activities {
				a := &ph.Activities[ai]
				if a.ID == id {
					return node{level: ident.LevelActivity, seq: s, phase: ph, activity: a,
						seqIdx: si, phaseIdx: pi, activityIdx: ai}, true
				}
				for ri := range a.Roles {
					if a.Roles[ri].ID == id {
						return node{level: ident.LevelRole, seq: s, phase: ph, activity: a, role: &a.Roles[ri],
							seqIdx: si, phaseIdx: pi, activityIdx: ai, roleIdx: ri}, true
					}
				}
			}
		}
	}
	return node{}, false
}

func (m *Manager) mustLocate(id string) (node, error) {
	n, ok := m.locate(id)
	if !ok {
		return node{}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}

// Level reports the hierarchy level of the node with the given id.
func (m *Manager) Level(id string) (ident.Level, error) {
	n, err := m.mustLocate(id)
	if err != nil {
		return ident.LevelUnknown, err
	}
	return n.level, nil
}

// Node is a read-only view of a located hierarchy node. Exactly the
// pointers up to Level are set; they stay valid only until the next
// structural change.
type Node struct {
	Level    ident.Level
	Sequence *model.Sequence
	Phase    *model.Phase
	Activity *model.Activity
	Role     *model.Role
}

// Find returns the node with the given id.
func (m *Manager) Find(id string) (Node, bool) {
	n, ok := m.locate(id)
	if !ok {
		return Node{}, false
	}
	return Node{Level: n.level, Sequence: n.seq, Phase: n.phase, Activity: n.activity, Role: n.role}, true
}

func (m *Manager) taken(id string) bool {
	if m.retired[id] {
		return true
	}
	_, ok := m.locate(id)
	return ok
}

// AddChild appends a new, default-filled child under parentID and returns
// its id. Sequences are added with parentID "" and level LevelSequence.
// New roles are bound to the first actor of the roster.
func (m *Manager) AddChild(parentID string, level ident.Level) (string, error) {
	if level == ident.LevelSequence {
		if parentID != "" {
			return "", fmt.Errorf("%w: sequences have no parent (got %q)", ErrLevelMismatch, parentID)
		}
		tmpl := &m.plan.Solution.DidacticTemplate
		id := ident.Next("", ident.LevelSequence, len(tmpl.LearningSequences), m.taken)
		tmpl.LearningSequences = append(tmpl.LearningSequences, model.Sequence{
			ID:                    id,
			Name:                  fmt.Sprintf("Sequence %d", len(tmpl.LearningSequences)+1),
			TransitionType:        model.TransitionSequential,
			Phases:                []model.Phase{},
			PrerequisiteSequences: []string{},
			NextSequences:         []string{},
		})
		slog.Debug("graph: sequence added", "id", id)
		return id, nil
	}

	parent, err := m.mustLocate(parentID)
	if err != nil {
		return "", err
	}
	if parent.level.Child() != level {
		return "", fmt.Errorf("%w: cannot add %s under %s %q", ErrLevelMismatch, level, parent.level, parentID)
	}

	var id string
	switch level {
	case ident.LevelPhase:
		s := parent.seq
		id = ident.Next(s.ID, level, len(s.Phases), m.taken)
		s.Phases = append(s.Phases, model.Phase{
			ID:             id,
			Name:           fmt.Sprintf("Phase %d", len(s.Phases)+1),
			TransitionType: model.TransitionSequential,
			Activities:     []model.Activity{},
		})
	case ident.LevelActivity:
		ph := parent.phase
		id = ident.Next(ph.ID, level, len(ph.Activities), m.taken)
		ph.Activities = append(ph.Activities, model.Activity{
			ID:             id,
			Name:           fmt.Sprintf("Activity %d", len(ph.Activities)+1),
			TransitionType: model.TransitionSequential,
			Roles:          []model.Role{},
			NextActivity:   []string{},
		})
	case ident.LevelRole:
		if len(m.plan.Actors) == 0 {
			return "", fmt.Errorf("%w: a role needs an actor and the roster is empty", ErrUnknownReference)
		}
		actor := m.plan.Actors[0]
		a := parent.activity
		id = ident.Next(a.ID, level, len(a.Roles), m.taken)
		a.Roles = append(a.Roles, model.Role{
			ID:                      id,
			Name:                    actor.Name,
			ActorID:                 actor.ID,
			SelectedDifferentiation: []string{},
		})
	default:
		return "", fmt.Errorf("%w: unsupported level %s", ErrLevelMismatch, level)
	}
	slog.Debug("graph: child added", "parent", parentID, "level", level.String(), "id", id)
	return id, nil
}

// DeleteNode removes the node and its whole subtree. Every link that points
// at a removed node is dropped from its neighbour; nodes that followed a
// removed node end up without a prerequisite.
func (m *Manager) DeleteNode(id string) error {
	n, err := m.mustLocate(id)
	if err != nil {
		return err
	}

	switch n.level {
	case ident.LevelSequence:
		m.unlinkSequence(n.seq)
		for pi := range n.seq.Phases {
			m.unlinkPhaseSubtree(&n.seq.Phases[pi])
		}
		m.retireSequence(n.seq)
		tmpl := &m.plan.Solution.DidacticTemplate
		tmpl.LearningSequences = slices.Delete(tmpl.LearningSequences, n.seqIdx, n.seqIdx+1)
	case ident.LevelPhase:
		m.unlinkPhaseSubtree(n.phase)
		m.retirePhase(n.phase)
		n.seq.Phases = slices.Delete(n.seq.Phases, n.phaseIdx, n.phaseIdx+1)
	case ident.LevelActivity:
		m.unlinkActivity(n.activity)
		m.retireActivity(n.activity)
		n.phase.Activities = slices.Delete(n.phase.Activities, n.activityIdx, n.activityIdx+1)
	case ident.LevelRole:
		m.retired[id] = true
		n.activity.Roles = slices.Delete(n.activity.Roles, n.roleIdx, n.roleIdx+1)
	}
	slog.Debug("graph: node deleted", "id", id, "level", n.level.String())
	return nil
}

func (m *Manager) unlinkSequence(s *model.Sequence) {
	for _, pid := range s.PrerequisiteSequences {
		if p, ok := m.locate(pid); ok && p.level == ident.LevelSequence {
			p.seq.NextSequences = remove(p.seq.NextSequences, s.ID)
		}
	}
	for _, nid := range s.NextSequences {
		if x, ok := m.locate(nid); ok && x.level == ident.LevelSequence {
			x.seq.PrerequisiteSequences = remove(x.seq.PrerequisiteSequences, s.ID)
		}
	}
}

func (m *Manager) unlinkPhaseSubtree(ph *model.Phase) {
	if p, ok := m.locate(ph.PrerequisitePhase); ok && p.level == ident.LevelPhase && p.phase.NextPhase == ph.ID {
		p.phase.NextPhase = ""
	}
	if x, ok := m.locate(ph.NextPhase); ok && x.level == ident.LevelPhase && x.phase.PrerequisitePhase == ph.ID {
		x.phase.PrerequisitePhase = ""
	}
	for ai := range ph.Activities {
		m.unlinkActivity(&ph.Activities[ai])
	}
}

func (m *Manager) unlinkActivity(a *model.Activity) {
	if p, ok := m.locate(a.PrerequisiteActivity); ok && p.level == ident.LevelActivity {
		p.activity.NextActivity = remove(p.activity.NextActivity, a.ID)
	}
	for _, nid := range a.NextActivity {
		if x, ok := m.locate(nid); ok && x.level == ident.LevelActivity && x.activity.PrerequisiteActivity == a.ID {
			x.activity.PrerequisiteActivity = ""
		}
	}
}

func (m *Manager) retireSequence(s *model.Sequence) {
	m.retired[s.ID] = true
	for pi := range s.Phases {
		m.retirePhase(&s.Phases[pi])
	}
}

func (m *Manager) retirePhase(ph *model.Phase) {
	m.retired[ph.ID] = true
	for ai := range ph.Activities {
		m.retireActivity(&ph.Activities[ai])
	}
}

func (m *Manager) retireActivity(a *model.Activity) {
	m.retired[a.ID] = true
	for _, r := range a.Roles {
		m.retired[r.ID] = true
	}
}

// DeleteActor removes an actor and every role bound to it.
func (m *Manager) DeleteActor(id string) error {
	idx := slices.IndexFunc(m.plan.Actors, func(a model.Actor) bool { return a.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: actor %q", ErrNodeNotFound, id)
	}
	m.plan.Actors = slices.Delete(m.plan.Actors, idx, idx+1)

	removed := 0
	m.plan.WalkActivities(func(_ *model.Sequence, _ *model.Phase, a *model.Activity) bool {
		a.Roles = slices.DeleteFunc(a.Roles, func(r model.Role) bool {
			if r.ActorID == id {
				m.retired[r.ID] = true
				removed++
				return true
			}
			return false
		})
		return true
	})
	slog.Debug("graph: actor deleted", "id", id, "roles_removed", removed)
	return nil
}

// DeleteEnvironment removes an environment and clears every role's usage of
// it.
func (m *Manager) DeleteEnvironment(id string) error {
	idx := slices.IndexFunc(m.plan.Environments, func(e model.Environment) bool { return e.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: environment %q", ErrNodeNotFound, id)
	}
	m.plan.Environments = slices.Delete(m.plan.Environments, idx, idx+1)
	m.plan.WalkRoles(func(_ *model.Activity, r *model.Role) bool {
		if r.LearningEnvironment != nil && r.LearningEnvironment.EnvironmentID == id {
			r.LearningEnvironment = nil
		}
		return true
	})
	return nil
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
