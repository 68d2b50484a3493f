package model

// Actor types.
const (
	ActorIndividual     = "individual"
	ActorGroup          = "group"
	ActorSyntheticAgent = "synthetic-agent"
)

// RoleHint is the normalised answer to "does this actor lead the activity
// or take part in it". It is computed once during normalization and read
// everywhere else.
type RoleHint string

const (
	HintLead        RoleHint = "lead"
	HintParticipant RoleHint = "participant"
	HintUnspecified RoleHint = "unspecified"
)

// Actor is a person, a group of learners, or a synthetic agent taking part
// in the plan.
type Actor struct {
	ID                     string               `json:"id"`
	Name                   string               `json:"name"`
	Type                   string               `json:"type"`
	RoleHint               RoleHint             `json:"role_hint"`
	Demographics           Demographics         `json:"demographic_data"`
	Education              Education            `json:"education"`
	Competencies           Competencies         `json:"competencies"`
	LearningRequirements   LearningRequirements `json:"learning_requirements"`
	InterestsAndGoals      InterestsAndGoals    `json:"interests_and_goals"`
	SocialStructure        SocialStructure      `json:"social_structure"`
	DifferentiationOptions []Accommodation      `json:"differentiation_options"`
}

// Demographics describes who the actor is.
type Demographics struct {
	AgeRange            string `json:"age_range"`
	GenderDistribution  string `json:"gender_distribution"`
	CulturalBackground  string `json:"cultural_background"`
	SocioeconomicStatus string `json:"socioeconomic_status"`
}

// Education describes the actor's schooling and prior knowledge.
type Education struct {
	EducationLevel string   `json:"education_level"`
	PriorKnowledge []string `json:"prior_knowledge"`
	Qualifications []string `json:"qualifications"`
}

// Competencies lists the actor's abilities.
type Competencies struct {
	CognitiveAbilities string         `json:"cognitive_abilities"`
	Methodological     []string       `json:"methodological_competencies"`
	Social             []string       `json:"social_competencies"`
	DigitalLiteracy    string         `json:"digital_literacy"`
	LanguageSkills     LanguageSkills `json:"language_skills"`
}

// LanguageSkills maps languages to proficiency levels.
type LanguageSkills struct {
	InstructionLanguage string            `json:"instruction_language"`
	Levels              map[string]string `json:"levels"`
}

// LearningRequirements lists preferences and special needs.
type LearningRequirements struct {
	LearningPreferences []string `json:"learning_preferences"`
	SpecialNeeds        []string `json:"special_needs"`
	Accessibility       []string `json:"accessibility"`
}

// InterestsAndGoals captures what drives the actor.
type InterestsAndGoals struct {
	Interests  []string   `json:"interests"`
	Goals      []string   `json:"goals"`
	Motivation Motivation `json:"motivation"`
}

// Motivation is the kind and strength of the actor's motivation.
type Motivation struct {
	Type  string `json:"type"`
	Level string `json:"level"`
}

// SocialStructure describes group composition for group actors.
type SocialStructure struct {
	GroupSize             string `json:"group_size"`
	Heterogeneity         string `json:"heterogeneity"`
	GroupDynamics         string `json:"group_dynamics"`
	CooperationExperience string `json:"cooperation_experience"`
}

// Accommodation is a differentiation option offered to an actor.
type Accommodation struct {
	ID          string   `json:"option_id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Hints       []string `json:"hints"`
}

// AccommodationIDs returns the ids of the actor's differentiation options in
// order.
func (a *Actor) AccommodationIDs() []string {
	ids := make([]string, 0, len(a.DifferentiationOptions))
	for _, o := range a.DifferentiationOptions {
		ids = append(ids, o.ID)
	}
	return ids
}

// HasAccommodation reports whether id names one of the actor's options.
func (a *Actor) HasAccommodation(id string) bool {
	for _, o := range a.DifferentiationOptions {
		if o.ID == id {
			return true
		}
	}
	return false
}

// HasSpecialNeeds reports whether the profile lists any special learning
// needs.
func (a *Actor) HasSpecialNeeds() bool {
	for _, n := range a.LearningRequirements.SpecialNeeds {
		if n != "" {
			return true
		}
	}
	return false
}
