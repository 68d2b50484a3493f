package graph

import (
	"fmt"
	"slices"

	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
)

// Patch is a partial update of a hierarchy node. Nil fields are left
// unchanged. Fields that do not exist at the node's level are ignored.
type Patch struct {
	Name           *string `json:"name,omitempty"`
	TimeFrame      *string `json:"time_frame,omitempty"`
	LearningGoal   *string `json:"learning_goal,omitempty"`
	TransitionType *string `json:"transition_type,omitempty"`

	// Activity fields.
	Description *string `json:"description,omitempty"`
	Duration    *int    `json:"duration,omitempty"`
	Goal        *string `json:"goal,omitempty"`

	// Role fields.
	ActorID                 *string                 `json:"actor_id,omitempty"`
	TaskDescription         *string                 `json:"task_description,omitempty"`
	LearningEnvironment     *model.EnvironmentUsage `json:"learning_environment,omitempty"`
	ClearEnvironment        bool                    `json:"clear_environment,omitempty"`
	SelectedDifferentiation *[]string               `json:"selected_differentiation,omitempty"`

	// Prerequisites routes through SetPrerequisite. An empty, non-nil slice
	// clears the link.
	Prerequisites *[]string `json:"prerequisites,omitempty"`
}

// UpdateNode merges patch into the node with the given id. The whole patch
// is validated before anything is written.
func (m *Manager) UpdateNode(id string, patch Patch) error {
	n, err := m.mustLocate(id)
	if err != nil {
		return err
	}
	if err := m.checkPatch(n, id, patch); err != nil {
		return err
	}

	switch n.level {
	case ident.LevelSequence:
		s := n.seq
		set(&s.Name, patch.Name)
		set(&s.TimeFrame, patch.TimeFrame)
		set(&s.LearningGoal, patch.LearningGoal)
		set(&s.TransitionType, patch.TransitionType)
	case ident.LevelPhase:
		ph := n.phase
		set(&ph.Name, patch.Name)
		set(&ph.TimeFrame, patch.TimeFrame)
		set(&ph.LearningGoal, patch.LearningGoal)
		set(&ph.TransitionType, patch.TransitionType)
	case ident.LevelActivity:
		a := n.activity
		set(&a.Name, patch.Name)
		set(&a.Description, patch.Description)
		set(&a.Goal, patch.Goal)
		set(&a.TransitionType, patch.TransitionType)
		if patch.Duration != nil {
			a.Duration = *patch.Duration
		}
	case ident.LevelRole:
		m.applyRolePatch(n.role, patch)
	}

	if patch.Prerequisites != nil {
		// Already validated by checkPatch.
		return m.SetPrerequisite(id, *patch.Prerequisites...)
	}
	return nil
}

func set(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (m *Manager) checkPatch(n node, id string, patch Patch) error {
	if patch.TransitionType != nil && !slices.Contains(model.TransitionTypes, *patch.TransitionType) {
		return fmt.Errorf("%w: transition type %q", ErrInvalidValue, *patch.TransitionType)
	}
	if patch.Duration != nil && *patch.Duration < 0 {
		return fmt.Errorf("%w: duration %d is negative", ErrInvalidValue, *patch.Duration)
	}
	if patch.Prerequisites != nil {
		prereqs := dedupe(slices.DeleteFunc(slices.Clone(*patch.Prerequisites), func(s string) bool { return s == "" }))
		if err := m.checkLinks(n, id, prereqs); err != nil {
			return err
		}
	}
	if n.level == ident.LevelRole {
		return m.checkRolePatch(n.role, patch)
	}
	return nil
}

func (m *Manager) checkRolePatch(r *model.Role, patch Patch) error {
	actorID := r.ActorID
	if patch.ActorID != nil {
		actorID = *patch.ActorID
	}
	actor := m.plan.Actor(actorID)
	if actor == nil {
		return fmt.Errorf("%w: actor %q", ErrUnknownReference, actorID)
	}

	if patch.LearningEnvironment != nil {
		if err := m.checkUsage(patch.LearningEnvironment); err != nil {
			return err
		}
	}

	if patch.SelectedDifferentiation != nil {
		for _, d := range *patch.SelectedDifferentiation {
			if !actor.HasAccommodation(d) {
				return fmt.Errorf("%w: accommodation %q is not offered to actor %q", ErrUnknownReference, d, actorID)
			}
		}
	}
	return nil
}

func (m *Manager) checkUsage(u *model.EnvironmentUsage) error {
	env := m.plan.Environment(u.EnvironmentID)
	if env == nil {
		return fmt.Errorf("%w: environment %q", ErrUnknownReference, u.EnvironmentID)
	}
	for kind, ids := range map[string][]string{
		model.KindMaterial: u.SelectedMaterials,
		model.KindTool:     u.SelectedTools,
		model.KindService:  u.SelectedServices,
	} {
		for _, rid := range ids {
			if !env.HasResource(kind, rid) {
				return fmt.Errorf("%w: %s %q in environment %q", ErrUnknownReference, kind, rid, env.ID)
			}
		}
	}
	return nil
}

func (m *Manager) applyRolePatch(r *model.Role, patch Patch) {
	set(&r.Name, patch.Name)
	set(&r.TaskDescription, patch.TaskDescription)
	if patch.ActorID != nil && *patch.ActorID != r.ActorID {
		r.ActorID = *patch.ActorID
		// Selections only make sense for the actor that offers them.
		actor := m.plan.Actor(r.ActorID)
		r.SelectedDifferentiation = slices.DeleteFunc(r.SelectedDifferentiation, func(d string) bool {
			return !actor.HasAccommodation(d)
		})
	}
	if patch.ClearEnvironment {
		r.LearningEnvironment = nil
	}
	if patch.LearningEnvironment != nil {
		u := *patch.LearningEnvironment
		u.SelectedMaterials = dedupe(u.SelectedMaterials)
		u.SelectedTools = dedupe(u.SelectedTools)
		u.SelectedServices = dedupe(u.SelectedServices)
		r.LearningEnvironment = &u
	}
	if patch.SelectedDifferentiation != nil {
		r.SelectedDifferentiation = dedupe(*patch.SelectedDifferentiation)
	}
}
