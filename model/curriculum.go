package model

// Transition types govern how sibling nodes are meant to follow each other.
const (
	TransitionSequential   = "sequential"
	TransitionParallel     = "parallel"
	TransitionConditional  = "conditional"
	TransitionBranching    = "branching"
	TransitionLooping      = "looping"
	TransitionOptional     = "optional"
	TransitionFeedbackLoop = "feedback-loop"
)

// TransitionTypes lists every accepted transition type.
var TransitionTypes = []string{
	TransitionSequential,
	TransitionParallel,
	TransitionConditional,
	TransitionBranching,
	TransitionLooping,
	TransitionOptional,
	TransitionFeedbackLoop,
}

// Sequence is the outermost curriculum level. Prerequisite and next links
// are many-to-many.
type Sequence struct {
	ID                    string   `json:"sequence_id"`
	Name                  string   `json:"sequence_name"`
	TimeFrame             string   `json:"time_frame"`
	LearningGoal          string   `json:"learning_goal"`
	TransitionType        string   `json:"transition_type"`
	Phases                []Phase  `json:"phases"`
	PrerequisiteSequences []string `json:"prerequisite_sequences"`
	NextSequences         []string `json:"next_sequences"`
}

// Phase groups activities inside a sequence. Links are one-to-one.
type Phase struct {
	ID                string     `json:"phase_id"`
	Name              string     `json:"phase_name"`
	TimeFrame         string     `json:"time_frame"`
	LearningGoal      string     `json:"learning_goal"`
	TransitionType    string     `json:"transition_type"`
	Activities        []Activity `json:"learning_activities"`
	PrerequisitePhase string     `json:"prerequisite_phase"`
	NextPhase         string     `json:"next_phase"`
}

// Activity is a single teaching/learning step. It has at most one
// prerequisite but may lead to several next activities.
type Activity struct {
	ID                   string   `json:"activity_id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Duration             int      `json:"duration"`
	Goal                 string   `json:"goal"`
	TransitionType       string   `json:"transition_type"`
	Roles                []Role   `json:"roles"`
	PrerequisiteActivity string   `json:"prerequisite_activity"`
	NextActivity         []string `json:"next_activity"`
}

// Role binds an actor to a task within an activity.
type Role struct {
	ID                      string            `json:"role_id"`
	Name                    string            `json:"role_name"`
	ActorID                 string            `json:"actor_id"`
	TaskDescription         string            `json:"task_description"`
	LearningEnvironment     *EnvironmentUsage `json:"learning_environment"`
	SelectedDifferentiation []string          `json:"selected_differentiation"`
}

// EnvironmentUsage records which environment a role works in and which of
// its resources the role uses.
type EnvironmentUsage struct {
	EnvironmentID     string   `json:"environment_id"`
	SelectedMaterials []string `json:"selected_materials"`
	SelectedTools     []string `json:"selected_tools"`
	SelectedServices  []string `json:"selected_services"`
}

// Phase returns the phase with the given id inside s, or nil.
func (s *Sequence) Phase(id string) *Phase {
	for i := range s.Phases {
		if s.Phases[i].ID == id {
			return &s.Phases[i]
		}
	}
	return nil
}
