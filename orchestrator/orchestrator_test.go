package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/goplan/catalog"
	"github.com/brunobiangulo/goplan/llm"
	"github.com/brunobiangulo/goplan/model"
	"github.com/brunobiangulo/goplan/normalize"
	"github.com/brunobiangulo/goplan/repair"
)

// fakeLLM answers by system prompt. It is safe for concurrent use.
type fakeLLM struct {
	mu      sync.Mutex
	systems []string
	reply   func(system, user string) (string, error)
}

func (f *fakeLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	system, user := req.Messages[0].Content, req.Messages[1].Content
	f.mu.Lock()
	f.systems = append(f.systems, system)
	f.mu.Unlock()
	text, err := f.reply(system, user)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Segments:    []llm.Segment{{Type: "output_text", Text: text}},
		TotalTokens: 10,
	}, nil
}

func (f *fakeLLM) calls(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.systems {
		if s == system {
			n++
		}
	}
	return n
}

const fixture = `{
  "metadata": {"title": "Plants", "subject": "Biology", "education_level": "Primary"},
  "actors": [
    {"id": "A1", "name": "Teacher", "type": "individual"},
    {"id": "A2", "name": "Class 4b", "type": "group", "learning_requirements": {"special_needs": ["dyslexia"]}}
  ],
  "environments": [
    {"environment_id": "ENV1", "name": "Classroom", "materials": [{"id": "M1", "name": "Textbook"}]}
  ],
  "solution": {"didactic_template": {"learning_sequences": [
    {"sequence_id": "SEQ1", "sequence_name": "Growth", "phases": [
      {"phase_id": "SEQ1-P1", "phase_name": "Intro", "learning_activities": [
        {"activity_id": "SEQ1-P1-A1", "name": "Observe a plant", "description": "Look at the leaves", "roles": [
          {"role_id": "SEQ1-P1-A1-R1", "actor_id": "A1", "role_name": "Lead",
           "learning_environment": {"environment_id": "ENV1", "selected_materials": ["M1"]}},
          {"role_id": "SEQ1-P1-A1-R2", "actor_id": "A2", "role_name": "Observers"}
        ]},
        {"activity_id": "SEQ1-P1-A2", "name": "Draw the plant", "roles": [
          {"role_id": "SEQ1-P1-A2-R1", "actor_id": "A2", "role_name": "Artists"}
        ]}
      ]}
    ]}
  ]}}
}`

func testPlan(t *testing.T) *model.Plan {
	t.Helper()
	p, err := normalize.JSON([]byte(fixture))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func only(phases ...string) Config {
	cfg := DefaultConfig()
	cfg.Draft = slices.Contains(phases, PhaseDraft)
	cfg.LinkEnvironments = slices.Contains(phases, PhaseLinking)
	cfg.Accommodations = slices.Contains(phases, PhaseAccommodations)
	cfg.DiscoverResources = slices.Contains(phases, PhaseDiscovery)
	return cfg
}

func role(t *testing.T, p *model.Plan, activityID, roleID string) *model.Role {
	t.Helper()
	a := p.Activity(activityID)
	if a == nil {
		t.Fatalf("activity %s missing", activityID)
	}
	for i := range a.Roles {
		if a.Roles[i].ID == roleID {
			return &a.Roles[i]
		}
	}
	t.Fatalf("role %s missing", roleID)
	return nil
}

func TestAccommodationFanBack(t *testing.T) {
	fake := &fakeLLM{reply: func(system, _ string) (string, error) {
		return `{"differentiation_options": [
			{"option_id": "d1", "label": "Audio texts", "description": "Read-aloud versions"},
			{"option_id": "d2", "label": "Large print"},
		]}`, nil
	}}
	in := testPlan(t)
	res := New(fake, nil, only(PhaseAccommodations)).Run(context.Background(), in, Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}

	if ids := res.Plan.Actor("A2").AccommodationIDs(); !slices.Equal(ids, []string{"d1", "d2"}) {
		t.Errorf("A2 options = %v", ids)
	}
	for _, id := range [][2]string{{"SEQ1-P1-A1", "SEQ1-P1-A1-R2"}, {"SEQ1-P1-A2", "SEQ1-P1-A2-R1"}} {
		if got := role(t, res.Plan, id[0], id[1]).SelectedDifferentiation; !slices.Equal(got, []string{"d1", "d2"}) {
			t.Errorf("%s selected_differentiation = %v", id[1], got)
		}
	}
	if got := role(t, res.Plan, "SEQ1-P1-A1", "SEQ1-P1-A1-R1").SelectedDifferentiation; len(got) != 0 {
		t.Errorf("teacher role got differentiation %v", got)
	}
	if len(in.Actor("A2").DifferentiationOptions) != 0 {
		t.Error("input plan was modified")
	}
	if res.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d", res.TotalTokens)
	}
}

func TestTieredAccommodations(t *testing.T) {
	in := testPlan(t)
	in.Actor("A2").LearningRequirements.SpecialNeeds = nil

	var prompts []string
	fake := &fakeLLM{reply: func(_, user string) (string, error) {
		prompts = append(prompts, user)
		return `{"options": [
			{"option_id": "x", "label": "Basic support", "description": "worked examples"},
			{"option_id": "y", "label": "Advanced challenge", "description": "open tasks"},
			{"option_id": "z", "label": "Something else"}
		]}`, nil
	}}
	res := New(fake, nil, only(PhaseAccommodations)).Run(context.Background(), in, Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	opts := res.Plan.Actor("A2").DifferentiationOptions
	if len(opts) != 2 || opts[0].ID != tierExtension || opts[1].ID != tierSupport {
		t.Fatalf("options = %+v", opts)
	}
	if opts[0].Description != "open tasks" || opts[1].Description != "worked examples" {
		t.Errorf("tiers matched wrongly: %+v", opts)
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "exactly two") {
		t.Errorf("tiered prompt not used: %q", prompts)
	}
}

func TestTiers(t *testing.T) {
	tests := []struct {
		name string
		in   []model.Accommodation
		want [2]string // descriptions of extension, support
	}{
		{"by id", []model.Accommodation{{ID: "foundational-support", Description: "s"}, {ID: "extension", Description: "e"}}, [2]string{"e", "s"}},
		{"by position", []model.Accommodation{{Description: "first"}, {Description: "second"}}, [2]string{"first", "second"}},
		{"one option", []model.Accommodation{{Label: "Extra support", Description: "s"}}, [2]string{"", "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tiers(tt.in)
			if len(got) != 2 {
				t.Fatalf("got %d options", len(got))
			}
			if got[0].Description != tt.want[0] || got[1].Description != tt.want[1] {
				t.Errorf("tiers = %+v", got)
			}
		})
	}
}

func TestAccommodationFailureIsIsolated(t *testing.T) {
	in := testPlan(t)
	in.Actors = append(in.Actors, model.Actor{
		ID: "A3", Name: "Class 4c", Type: model.ActorGroup,
		LearningRequirements: model.LearningRequirements{SpecialNeeds: []string{"adhd"}},
	})
	fake := &fakeLLM{reply: func(_, user string) (string, error) {
		if strings.Contains(user, "Class 4c") {
			return "sorry, I cannot help with that", nil
		}
		return `{"differentiation_options": [{"option_id": "d1", "label": "Audio"}]}`, nil
	}}
	res := New(fake, nil, only(PhaseAccommodations)).Run(context.Background(), in, Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if len(res.Plan.Actor("A2").DifferentiationOptions) != 1 {
		t.Error("A2 lost its options because A3 failed")
	}
	if len(res.Plan.Actor("A3").DifferentiationOptions) != 0 {
		t.Error("A3 should have no options")
	}
	failed := slices.ContainsFunc(res.Log, func(e Entry) bool {
		return strings.Contains(e.Message, "A3") && e.Error != ""
	})
	if !failed {
		t.Errorf("failure not logged: %+v", res.Log)
	}
}

func TestDiscoveryMerge(t *testing.T) {
	repo := catalog.Static{
		{ID: "n7", Title: "Plant anatomy poster", Description: "Leaves and roots", URL: "https://example.org/n7"},
	}
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return `{"suggestions": [{"term": "plant", "category": "image"}]}`, nil
	}}
	res := New(fake, repo, only(PhaseDiscovery)).Run(context.Background(), testPlan(t), Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}

	env := res.Plan.Environment("ENV1")
	var added *model.Resource
	for i := range env.Materials {
		if env.Materials[i].Source == model.SourceExternalCatalog {
			added = &env.Materials[i]
		}
	}
	if added == nil {
		t.Fatalf("no catalog material added: %+v", env.Materials)
	}
	if added.Catalog.NodeID != "n7" || added.Catalog.Score != flatScore || added.Category != "image" {
		t.Errorf("material = %+v / %+v", added, added.Catalog)
	}

	sel := role(t, res.Plan, "SEQ1-P1-A1", "SEQ1-P1-A1-R1").LearningEnvironment.SelectedMaterials
	if !slices.Contains(sel, "M1") || !slices.Contains(sel, added.ID) || len(sel) != 2 {
		t.Errorf("selected_materials = %v", sel)
	}

	// Roles without an environment go to a synthesized default one; the
	// same catalog node is not stored twice in it.
	def := res.Plan.Environment("ENV2")
	if def == nil {
		t.Fatal("default environment not added")
	}
	if len(def.Materials) != 1 {
		t.Errorf("default environment materials = %d, want 1", len(def.Materials))
	}
	r2 := role(t, res.Plan, "SEQ1-P1-A2", "SEQ1-P1-A2-R1").LearningEnvironment
	if r2 == nil || r2.EnvironmentID != "ENV2" || !slices.Equal(r2.SelectedMaterials, []string{def.Materials[0].ID}) {
		t.Errorf("role usage = %+v", r2)
	}
}

func TestDiscoveryUnfilteredFallback(t *testing.T) {
	var queries []catalog.Query
	var mu sync.Mutex
	repo := searchFunc(func(q catalog.Query) ([]catalog.Node, error) {
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		if len(q.Criteria) > 1 {
			return nil, nil
		}
		return []catalog.Node{{ID: "n1", Title: "Leaf"}}, nil
	})
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return `{"suggestions": ["leaf"]}`, nil
	}}
	cfg := only(PhaseDiscovery)
	cfg.FilterBySubject = true
	res := New(fake, repo, cfg).Run(context.Background(), testPlan(t), Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if len(queries) != 6 {
		t.Fatalf("queries = %d, want 6 (filtered + unfiltered for 3 roles)", len(queries))
	}
	sel := role(t, res.Plan, "SEQ1-P1-A1", "SEQ1-P1-A1-R1").LearningEnvironment.SelectedMaterials
	if len(sel) != 2 {
		t.Errorf("selected_materials = %v", sel)
	}
}

type searchFunc func(catalog.Query) ([]catalog.Node, error)

func (f searchFunc) Search(_ context.Context, q catalog.Query) ([]catalog.Node, error) { return f(q) }

func TestDiscoveryRanking(t *testing.T) {
	var repo catalog.Static
	for i := 1; i <= 6; i++ {
		repo = append(repo, catalog.Node{ID: fmt.Sprintf("n%d", i), Title: fmt.Sprintf("Resource %d", i)})
	}
	repo[4].Title = "Resource: observe plant leaves"

	tests := []struct {
		name    string
		scoring func() (string, error)
		want    []string
	}{
		{"model ranking", func() (string, error) {
			return `{"ranking": [{"index": 2, "score": 0.4}, {"index": 6, "score": 0.9}, {"index": 99, "score": 1}]}`, nil
		}, []string{"n6", "n2"}},
		{"lexical fallback", func() (string, error) {
			return "", errors.New("backend down")
		}, []string{"n5", "n1", "n2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{reply: func(system, _ string) (string, error) {
				if system == scoringSystem {
					return tt.scoring()
				}
				return `{"suggestions": [{"term": "resource"}]}`, nil
			}}
			in := testPlan(t)
			a := in.Activity("SEQ1-P1-A1")
			a.Roles = a.Roles[:1]
			in.Activity("SEQ1-P1-A2").Roles = nil

			res := New(fake, repo, only(PhaseDiscovery)).Run(context.Background(), in, Request{})
			if res.State != StateCompleted {
				t.Fatalf("state = %s, err = %v", res.State, res.Err)
			}
			var got []string
			for _, m := range res.Plan.Environment("ENV1").Materials {
				if m.Catalog != nil {
					got = append(got, m.Catalog.NodeID)
				}
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("materials = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDraftAdopted(t *testing.T) {
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return "Here is the plan:\n```json\n" + `{"metadata": {"title": "Photosynthesis"},
			"solution": {"didactic_template": {"learning_sequences": [{"sequence_name": "Light", "phases": [],}]}}}` + "\n```", nil
	}}
	in := testPlan(t)
	res := New(fake, nil, only(PhaseDraft)).Run(context.Background(), in, Request{
		Intent:     "Teach photosynthesis",
		References: []Reference{{Name: "curriculum.pdf", Text: "Grade 4 biology"}},
	})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if res.Plan.Metadata.Title != "Photosynthesis" || len(res.Plan.Sequences()) != 1 || res.Plan.Sequences()[0].ID != "SEQ1" {
		t.Errorf("draft not adopted: %+v", res.Plan.Metadata)
	}
	if in.Metadata.Title != "Plants" {
		t.Error("input plan was modified")
	}
}

func TestDraftFailureAborts(t *testing.T) {
	fake := &fakeLLM{reply: func(system, _ string) (string, error) {
		if system == draftSystem {
			return "I could not produce a plan.", nil
		}
		return "{}", nil
	}}
	var statuses []string
	res := New(fake, nil, only(PhaseDraft, PhaseAccommodations)).Run(context.Background(), testPlan(t), Request{
		Status: func(s string) { statuses = append(statuses, s) },
	})
	if res.State != StateAborted || res.Phase != PhaseDraft {
		t.Fatalf("state = %s, phase = %s", res.State, res.Phase)
	}
	var pe *PhaseError
	if !errors.As(res.Err, &pe) || pe.Phase != PhaseDraft {
		t.Fatalf("err = %v, want PhaseError", res.Err)
	}
	if !errors.Is(res.Err, repair.ErrUnrecoverableFormat) {
		t.Errorf("cause lost: %v", res.Err)
	}
	if res.Plan.Metadata.Title != "Plants" {
		t.Error("last good plan not preserved")
	}
	if fake.calls(accommodationSystem) != 0 {
		t.Error("later phase ran after abort")
	}
	if len(statuses) == 0 || !strings.HasPrefix(statuses[len(statuses)-1], "Aborted") {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestLinkingMergesByActivity(t *testing.T) {
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return `{"activities": [{"activity_id": "SEQ1-P1-A2", "roles": [
			{"role_name": "Illustrators", "actor_id": "A2", "task_description": "Draw",
			 "learning_environment": {"environment_id": "ENV1", "selected_materials": ["M1", "M404"]}}
		]}, {"activity_id": "nope", "roles": []}]}`, nil
	}}
	in := testPlan(t)
	res := New(fake, nil, only(PhaseLinking)).Run(context.Background(), in, Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}

	a2 := res.Plan.Activity("SEQ1-P1-A2")
	if len(a2.Roles) != 1 || a2.Roles[0].Name != "Illustrators" || a2.Roles[0].ID == "" {
		t.Fatalf("roles = %+v", a2.Roles)
	}
	if got := a2.Roles[0].LearningEnvironment.SelectedMaterials; !slices.Equal(got, []string{"M1"}) {
		t.Errorf("selected_materials = %v, want unknown ids dropped", got)
	}
	if a1 := res.Plan.Activity("SEQ1-P1-A1"); len(a1.Roles) != 2 || a1.Roles[0].Name != "Lead" {
		t.Errorf("untouched activity changed: %+v", a1.Roles)
	}
}

func TestLinkingSkipsRetiredIDs(t *testing.T) {
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return `{"activities": [{"activity_id": "SEQ1-P1-A1", "roles": [
			{"role_id": "SEQ1-P1-A1-R1", "actor_id": "A1", "role_name": "Lead"},
			{"actor_id": "A2", "role_name": "Observers"},
			{"role_id": "SEQ1-P1-A1-R3", "actor_id": "A2", "role_name": "Recorders"}
		]}]}`, nil
	}}
	in := testPlan(t)
	in.Activity("SEQ1-P1-A2").Roles = []model.Role{}

	res := New(fake, nil, only(PhaseLinking)).Run(context.Background(), in, Request{
		Retired: []string{"SEQ1-P1-A1-R3", "SEQ1-P1-A2-R1"},
	})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}

	var ids []string
	for _, r := range res.Plan.Activity("SEQ1-P1-A1").Roles {
		ids = append(ids, r.ID)
	}
	if want := []string{"SEQ1-P1-A1-R1", "SEQ1-P1-A1-R4", "SEQ1-P1-A1-R5"}; !slices.Equal(ids, want) {
		t.Errorf("role ids = %v, want %v", ids, want)
	}
	if got := res.Plan.Activity("SEQ1-P1-A2").Roles; len(got) != 0 {
		t.Errorf("unmentioned activity got roles %+v", got)
	}
	if !slices.Equal(res.Retired, []string{"SEQ1-P1-A1-R2"}) {
		t.Errorf("Retired = %v, want the replaced role", res.Retired)
	}
}

func TestLinkingFailureKeepsPlan(t *testing.T) {
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return "", errors.New("status 502")
	}}
	res := New(fake, nil, only(PhaseLinking)).Run(context.Background(), testPlan(t), Request{})
	if res.State != StateCompleted {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if len(res.Plan.Activity("SEQ1-P1-A2").Roles) != 1 {
		t.Error("plan changed after failed linking")
	}
}

func TestCancelStopsBeforeNextPhase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeLLM{reply: func(string, string) (string, error) {
		return `{"activities": []}`, nil
	}}
	res := New(fake, nil, only(PhaseLinking, PhaseAccommodations)).Run(ctx, testPlan(t), Request{
		Status: func(s string) {
			if strings.HasPrefix(s, "Phase 1/2") {
				cancel()
			}
		},
	})
	if res.State != StateCancelled || !errors.Is(res.Err, ErrCancelled) {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if res.Step != 1 || res.Steps != 2 {
		t.Errorf("step %d of %d", res.Step, res.Steps)
	}
	if fake.calls(accommodationSystem) != 0 {
		t.Error("accommodation phase started after cancel")
	}
}

func TestNoProvider(t *testing.T) {
	res := New(nil, nil, DefaultConfig()).Run(context.Background(), nil, Request{})
	if res.State != StateAborted || !errors.Is(res.Err, ErrNoProvider) {
		t.Errorf("state = %s, err = %v", res.State, res.Err)
	}
}
