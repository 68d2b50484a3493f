package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/goplan/model"
)

// maxReferenceChars bounds the reference text sent with the draft prompt.
const maxReferenceChars = 24000

const draftSystem = `You are an instructional designer. You write complete lesson plans as one JSON object.
The object has exactly these top-level keys: metadata, problem, context, influence_factors, solution, consequences, implementation_notes, related_patterns, feedback, sources, actors, environments.
solution.didactic_template.learning_sequences is a list of sequences. Each sequence has sequence_id, sequence_name, time_frame, learning_goal, transition_type, phases, prerequisite_sequences and next_sequences.
Each phase has phase_id, phase_name, time_frame, learning_goal, transition_type, learning_activities, prerequisite_phase and next_phase.
Each activity has activity_id, name, description, duration (minutes, integer), goal, transition_type, roles, prerequisite_activity and next_activity (list).
Each role has role_id, role_name, actor_id, task_description, learning_environment {environment_id, selected_materials, selected_tools, selected_services} and selected_differentiation.
Ids follow the pattern SEQ1, SEQ1-P1, SEQ1-P1-A1, SEQ1-P1-A1-R1. transition_type is one of sequential, parallel, conditional, branching, looping, optional, feedback-loop.
Keep every id of the current plan that you keep. Answer with the JSON object only.`

func draftPrompt(plan *model.Plan, req Request) string {
	current, _ := plan.MarshalIndent()
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", strings.TrimSpace(req.Intent))
	fmt.Fprintf(&b, "Current plan:\n%s\n", current)
	if len(req.References) > 0 {
		b.WriteString("\nReference material:\n")
		budget := maxReferenceChars
		for _, ref := range req.References {
			if budget <= 0 {
				break
			}
			text := ref.Text
			if len(text) > budget {
				text = text[:budget]
			}
			budget -= len(text)
			fmt.Fprintf(&b, "--- %s ---\n%s\n\n", ref.Name, text)
		}
	}
	b.WriteString("\nWrite the revised plan.")
	return b.String()
}

const linkingSystem = `You assign actors and learning environments to activities of a lesson plan.
For every activity, return the roles taking part in it. Use only actor ids and resource ids from the rosters you are given.
Answer with one JSON object: {"activities": [{"activity_id": "...", "roles": [{"role_name": "...", "actor_id": "...", "task_description": "...", "learning_environment": {"environment_id": "...", "selected_materials": [], "selected_tools": [], "selected_services": []}}]}]}`

type rosterActor struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	RoleHint model.RoleHint `json:"role_hint"`
}

type rosterResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type rosterEnvironment struct {
	ID        string           `json:"environment_id"`
	Name      string           `json:"name"`
	Materials []rosterResource `json:"materials"`
	Tools     []rosterResource `json:"tools"`
	Services  []rosterResource `json:"services"`
}

type rosterActivity struct {
	ID          string `json:"activity_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
}

func linkingPrompt(plan *model.Plan) string {
	actors := make([]rosterActor, 0, len(plan.Actors))
	for _, a := range plan.Actors {
		actors = append(actors, rosterActor{ID: a.ID, Name: a.Name, Type: a.Type, RoleHint: a.RoleHint})
	}
	envs := make([]rosterEnvironment, 0, len(plan.Environments))
	for _, e := range plan.Environments {
		envs = append(envs, rosterEnvironment{
			ID:        e.ID,
			Name:      e.Name,
			Materials: roster(e.Materials),
			Tools:     roster(e.Tools),
			Services:  roster(e.Services),
		})
	}
	var acts []rosterActivity
	plan.WalkActivities(func(_ *model.Sequence, _ *model.Phase, a *model.Activity) bool {
		acts = append(acts, rosterActivity{ID: a.ID, Name: a.Name, Description: a.Description, Duration: a.Duration})
		return true
	})
	return fmt.Sprintf("Actors:\n%s\n\nEnvironments:\n%s\n\nActivities:\n%s\n\nReturn the roles for every activity.",
		jsonText(actors), jsonText(envs), jsonText(acts))
}

func roster(rs []model.Resource) []rosterResource {
	out := make([]rosterResource, 0, len(rs))
	for _, r := range rs {
		out = append(out, rosterResource{ID: r.ID, Name: r.Name})
	}
	return out
}

const accommodationSystem = `You design differentiation options for a group of learners.
Answer with one JSON object: {"differentiation_options": [{"option_id": "...", "label": "...", "description": "...", "hints": ["..."]}]}`

// targetedPrompt asks for support measures tailored to listed special needs.
func targetedPrompt(plan *model.Plan, a *model.Actor) string {
	return fmt.Sprintf(`Lesson: %s (%s)

Learner group:
%s

The group lists these special learning needs: %s.
Propose one to four differentiation options, each targeting one or more of these needs.`,
		plan.Metadata.Title, plan.Context.Subject, jsonText(a), strings.Join(a.LearningRequirements.SpecialNeeds, ", "))
}

// tieredPrompt asks for exactly two performance tiers.
func tieredPrompt(plan *model.Plan, a *model.Actor) string {
	return fmt.Sprintf(`Lesson: %s (%s)

Learner group:
%s

Propose exactly two differentiation options by performance level:
1. option_id "extension": deeper or more open tasks for learners who are ahead.
2. option_id "foundational-support": scaffolding and worked examples for learners who need support.`,
		plan.Metadata.Title, plan.Context.Subject, jsonText(a))
}

const suggestionSystem = `You help find learning materials in an open educational resource catalog.
Answer with one JSON object: {"suggestions": [{"term": "...", "category": "..."}]} holding one or two short search terms, each with a resource category such as worksheet, video, interactive, text, image or presentation.`

func suggestionPrompt(p pair) string {
	audience := "learners working on their own"
	if p.lead {
		audience = "the teacher leading the activity"
	}
	return fmt.Sprintf(`Subject: %s
Education level: %s
Activity: %s
Activity description: %s
Role: %s
Task: %s

Suggest search terms for materials used by %s.`,
		p.subject, p.level, p.activityName, p.activityDescription, p.roleName, p.task, audience)
}

const scoringSystem = `You rank candidate learning materials by how well they fit an activity.
Answer with one JSON object: {"ranking": [{"index": 1, "score": 0.9}]} listing the best candidates first. index refers to the candidate numbers given. score is between 0 and 1.`

func scoringPrompt(p pair, cands []candidate, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity: %s\nDescription: %s\nRole: %s\nTask: %s\n\nCandidates:\n",
		p.activityName, p.activityDescription, p.roleName, p.task)
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.node.Title, clip(c.node.Description, 300))
	}
	fmt.Fprintf(&b, "\nPick the %d best candidates.", topK)
	return b.String()
}

func jsonText(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(data)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
