package normalize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/goplan/model"
)

var (
	leadPattern        = regexp.MustCompile(`(?i)(teacher|lehr|instructor|tutor|trainer|educator|facilitator|dozent|moderator|lecturer|coach)`)
	participantPattern = regexp.MustCompile(`(?i)(student|learner|lernend|sch(ü|ue)ler|pupil|class|klasse|participant|teilnehm|group|gruppe|team)`)
)

// defaultActor returns a fresh actor profile with every sub-object set.
func defaultActor() model.Actor {
	return model.Actor{
		Type: model.ActorIndividual,
		Education: model.Education{
			PriorKnowledge: []string{},
			Qualifications: []string{},
		},
		Competencies: model.Competencies{
			Methodological: []string{},
			Social:         []string{},
			LanguageSkills: model.LanguageSkills{Levels: map[string]string{}},
		},
		LearningRequirements: model.LearningRequirements{
			LearningPreferences: []string{},
			SpecialNeeds:        []string{},
			Accessibility:       []string{},
		},
		InterestsAndGoals: model.InterestsAndGoals{
			Interests:  []string{},
			Goals:      []string{},
			Motivation: model.Motivation{Type: "mixed", Level: "medium"},
		},
		DifferentiationOptions: []model.Accommodation{},
	}
}

// actorType maps loose spellings onto the three actor types.
func actorType(s string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "group", "class", "team", "gruppe", "klasse":
		return model.ActorGroup
	case "synthetic-agent", "synthetic", "agent", "ai", "bot", "ki":
		return model.ActorSyntheticAgent
	default:
		return model.ActorIndividual
	}
}

// roleHint decides once whether an actor leads activities or takes part in
// them. Name and id patterns win over the actor type.
func roleHint(a *model.Actor) model.RoleHint {
	switch a.RoleHint {
	case model.HintLead, model.HintParticipant, model.HintUnspecified:
		return a.RoleHint
	}
	probe := a.Name + " " + a.ID
	switch {
	case leadPattern.MatchString(probe):
		return model.HintLead
	case participantPattern.MatchString(probe):
		return model.HintParticipant
	}
	switch a.Type {
	case model.ActorGroup:
		return model.HintParticipant
	case model.ActorIndividual:
		return model.HintLead
	default:
		return model.HintUnspecified
	}
}

func defaultActorName(idx int, typ string) string {
	switch idx {
	case 0:
		return "Teacher"
	case 1:
		return "Learners"
	}
	switch typ {
	case model.ActorGroup:
		return fmt.Sprintf("Group %d", idx+1)
	case model.ActorSyntheticAgent:
		return fmt.Sprintf("Agent %d", idx+1)
	default:
		return fmt.Sprintf("Person %d", idx+1)
	}
}

// actors normalizes the roster. Missing or duplicate ids are replaced with
// the next free A{n}.
func actors(raw []any) []model.Actor {
	out := make([]model.Actor, 0, len(raw))
	taken := make(map[string]bool)
	for _, it := range raw {
		if id := str(named(it), "id", "actor_id"); id != "" && !taken[id] {
			taken[id] = true
		}
	}
	claimed := make(map[string]bool)
	for i, it := range raw {
		m := named(it)
		a := actor(m, i)
		if a.ID == "" || claimed[a.ID] {
			a.ID = freeID("A", taken)
		}
		claimed[a.ID] = true
		taken[a.ID] = true
		a.DifferentiationOptions = Accommodations(a.ID, a.DifferentiationOptions)
		out = append(out, a)
	}
	return out
}

func actor(m map[string]any, idx int) model.Actor {
	a := decode(defaultActor(), m)
	a.ID = str(m, "id", "actor_id")
	a.Type = actorType(str(m, "type", "actor_type"))
	if a.Name == "" {
		a.Name = str(m, "actor_name", "label")
	}
	if a.Name == "" {
		a.Name = defaultActorName(idx, a.Type)
	}
	a.RoleHint = roleHint(&a)
	return a
}

// placeholderActor is appended when a role names an actor that does not
// exist.
func placeholderActor(id string, idx int) model.Actor {
	a := defaultActor()
	a.ID = id
	a.Name = defaultActorName(idx, a.Type)
	a.RoleHint = roleHint(&a)
	slog.Debug("normalize: placeholder actor added", "id", id)
	return a
}

// Accommodations gives every option an id unique within the actor and a
// label.
func Accommodations(actorID string, opts []model.Accommodation) []model.Accommodation {
	taken := make(map[string]bool, len(opts))
	for _, o := range opts {
		if o.ID != "" {
			taken[o.ID] = true
		}
	}
	claimed := make(map[string]bool, len(opts))
	out := make([]model.Accommodation, 0, len(opts))
	for i, o := range opts {
		if o.ID == "" || claimed[o.ID] {
			o.ID = freeID(actorID+"-D", taken)
		}
		claimed[o.ID] = true
		taken[o.ID] = true
		if o.Label == "" {
			o.Label = fmt.Sprintf("Option %d", i+1)
		}
		if o.Hints == nil {
			o.Hints = []string{}
		}
		out = append(out, o)
	}
	return out
}

// freeID returns prefix{n} for the smallest n >= 1 not in taken and marks
// it taken.
func freeID(prefix string, taken map[string]bool) string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("%s%d", prefix, n)
		if !taken[id] {
			taken[id] = true
			return id
		}
	}
}

func asObj(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// named treats a bare string as an object carrying only a name.
func named(v any) map[string]any {
	if s, ok := v.(string); ok {
		return map[string]any{"name": s}
	}
	return asObj(v)
}
