package graph

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
)

func newTestPlan() *model.Plan {
	return &model.Plan{
		Actors: []model.Actor{
			{ID: "A1", Name: "Teacher", Type: model.ActorIndividual, RoleHint: model.HintLead},
			{ID: "A2", Name: "Learners", Type: model.ActorGroup, RoleHint: model.HintParticipant,
				DifferentiationOptions: []model.Accommodation{{ID: "d1"}, {ID: "d2"}}},
		},
		Environments: []model.Environment{
			{ID: "ENV1", Name: "Classroom",
				Materials: []model.Resource{{ID: "M1", Source: model.SourceManual}},
				Tools:     []model.Resource{{ID: "T1", Source: model.SourceManual}}},
		},
	}
}

func mustAdd(t *testing.T, m *Manager, parent string, level ident.Level) string {
	t.Helper()
	id, err := m.AddChild(parent, level)
	if err != nil {
		t.Fatalf("AddChild(%q, %v): %v", parent, level, err)
	}
	return id
}

func mustValid(t *testing.T, p *model.Plan) {
	t.Helper()
	if err := Validate(p); err != nil {
		t.Fatalf("invariants violated:\n%v", err)
	}
}

// threeActivities builds SEQ1-P1 with activities A1..A3 and returns the manager.
func threeActivities(t *testing.T) *Manager {
	t.Helper()
	m := New(newTestPlan())
	seq := mustAdd(t, m, "", ident.LevelSequence)
	ph := mustAdd(t, m, seq, ident.LevelPhase)
	for range 3 {
		mustAdd(t, m, ph, ident.LevelActivity)
	}
	return m
}

func TestAddChildDerivesIDs(t *testing.T) {
	m := New(newTestPlan())
	seq := mustAdd(t, m, "", ident.LevelSequence)
	ph := mustAdd(t, m, seq, ident.LevelPhase)
	a := mustAdd(t, m, ph, ident.LevelActivity)
	r := mustAdd(t, m, a, ident.LevelRole)

	want := []string{"SEQ1", "SEQ1-P1", "SEQ1-P1-A1", "SEQ1-P1-A1-R1"}
	if got := []string{seq, ph, a, r}; !slices.Equal(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}

	n, ok := m.Find(r)
	if !ok || n.Level != ident.LevelRole {
		t.Fatalf("Find(%q) = %+v, %v", r, n, ok)
	}
	if n.Role.ActorID != "A1" {
		t.Errorf("new role bound to %q, want first actor A1", n.Role.ActorID)
	}
	if n.Activity.Duration != 0 || n.Activity.TransitionType != model.TransitionSequential {
		t.Errorf("unexpected activity defaults: %+v", n.Activity)
	}
	mustValid(t, m.Plan())
}

func TestAddChildLevelMismatch(t *testing.T) {
	m := New(newTestPlan())
	seq := mustAdd(t, m, "", ident.LevelSequence)

	tests := []struct {
		name   string
		parent string
		level  ident.Level
		want   error
	}{
		{"role under sequence", seq, ident.LevelRole, ErrLevelMismatch},
		{"sequence with parent", seq, ident.LevelSequence, ErrLevelMismatch},
		{"unknown parent", "SEQ9", ident.LevelPhase, ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.AddChild(tt.parent, tt.level); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddRoleNeedsActor(t *testing.T) {
	p := newTestPlan()
	p.Actors = nil
	m := New(p)
	seq := mustAdd(t, m, "", ident.LevelSequence)
	ph := mustAdd(t, m, seq, ident.LevelPhase)
	a := mustAdd(t, m, ph, ident.LevelActivity)
	if _, err := m.AddChild(a, ident.LevelRole); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("err = %v, want ErrUnknownReference", err)
	}
}

func TestSetPrerequisiteActivity(t *testing.T) {
	m := threeActivities(t)
	p := m.Plan()

	if err := m.SetPrerequisite("SEQ1-P1-A2", "SEQ1-P1-A1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPrerequisite("SEQ1-P1-A3", "SEQ1-P1-A1"); err != nil {
		t.Fatal(err)
	}
	a1 := p.Activity("SEQ1-P1-A1")
	if !slices.Equal(a1.NextActivity, []string{"SEQ1-P1-A2", "SEQ1-P1-A3"}) {
		t.Errorf("A1.next = %v", a1.NextActivity)
	}

	// Re-pointing A3 moves it from A1.next to A2.next.
	if err := m.SetPrerequisite("SEQ1-P1-A3", "SEQ1-P1-A2"); err != nil {
		t.Fatal(err)
	}
	if slices.Contains(a1.NextActivity, "SEQ1-P1-A3") {
		t.Errorf("A1.next still holds A3: %v", a1.NextActivity)
	}
	if got := p.Activity("SEQ1-P1-A2").NextActivity; !slices.Equal(got, []string{"SEQ1-P1-A3"}) {
		t.Errorf("A2.next = %v", got)
	}

	// Setting the same link twice never duplicates the entry.
	if err := m.SetPrerequisite("SEQ1-P1-A3", "SEQ1-P1-A2"); err != nil {
		t.Fatal(err)
	}
	if got := p.Activity("SEQ1-P1-A2").NextActivity; len(got) != 1 {
		t.Errorf("A2.next = %v, want a single entry", got)
	}

	// Clearing.
	if err := m.SetPrerequisite("SEQ1-P1-A3"); err != nil {
		t.Fatal(err)
	}
	if got := p.Activity("SEQ1-P1-A3").PrerequisiteActivity; got != "" {
		t.Errorf("A3.prerequisite = %q after clear", got)
	}
	mustValid(t, p)
}

func TestSetPrerequisiteRejects(t *testing.T) {
	m := threeActivities(t)
	if err := m.ChainSiblings("SEQ1-P1"); err != nil {
		t.Fatal(err)
	}
	before, _ := m.Plan().Clone()

	tests := []struct {
		name    string
		id      string
		prereqs []string
		want    error
	}{
		{"self", "SEQ1-P1-A1", []string{"SEQ1-P1-A1"}, ErrInvalidLink},
		{"cycle", "SEQ1-P1-A1", []string{"SEQ1-P1-A3"}, ErrInvalidLink},
		{"two prerequisites", "SEQ1-P1-A3", []string{"SEQ1-P1-A1", "SEQ1-P1-A2"}, ErrInvalidLink},
		{"wrong level", "SEQ1-P1-A2", []string{"SEQ1-P1"}, ErrInvalidLink},
		{"missing target", "SEQ1-P1-A2", []string{"SEQ1-P1-A9"}, ErrNodeNotFound},
		{"missing node", "SEQ1-P1-A9", []string{"SEQ1-P1-A1"}, ErrNodeNotFound},
		{"role", "SEQ1-P1-A1-R1", nil, ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetPrerequisite(tt.id, tt.prereqs...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.want == ErrInvalidLink {
				var le *InvalidLinkError
				if !errors.As(err, &le) || le.ID != tt.id {
					t.Errorf("expected *InvalidLinkError for %q, got %#v", tt.id, err)
				}
			}
		})
	}

	after := m.Plan()
	for _, id := range []string{"SEQ1-P1-A1", "SEQ1-P1-A2", "SEQ1-P1-A3"} {
		b, a := before.Activity(id), after.Activity(id)
		if b.PrerequisiteActivity != a.PrerequisiteActivity || !slices.Equal(b.NextActivity, a.NextActivity) {
			t.Errorf("%s changed by a rejected link: %+v -> %+v", id, b, a)
		}
	}
	mustValid(t, after)
}

func TestSetPrerequisiteOnRoleRejected(t *testing.T) {
	m := threeActivities(t)
	r := mustAdd(t, m, "SEQ1-P1-A1", ident.LevelRole)
	if err := m.SetPrerequisite(r, "SEQ1-P1-A2"); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("err = %v, want ErrInvalidLink", err)
	}
}

func TestPhaseLinksAreOneToOne(t *testing.T) {
	m := New(newTestPlan())
	seq := mustAdd(t, m, "", ident.LevelSequence)
	p1 := mustAdd(t, m, seq, ident.LevelPhase)
	p2 := mustAdd(t, m, seq, ident.LevelPhase)
	p3 := mustAdd(t, m, seq, ident.LevelPhase)

	if err := m.SetPrerequisite(p2, p1); err != nil {
		t.Fatal(err)
	}
	// p3 takes p1 as prerequisite; p2 loses it because p1.next is single.
	if err := m.SetPrerequisite(p3, p1); err != nil {
		t.Fatal(err)
	}
	s := &m.Plan().Solution.DidacticTemplate.LearningSequences[0]
	if got := s.Phase(p1).NextPhase; got != p3 {
		t.Errorf("P1.next = %q, want %q", got, p3)
	}
	if got := s.Phase(p2).PrerequisitePhase; got != "" {
		t.Errorf("P2.prerequisite = %q, want cleared", got)
	}
	mustValid(t, m.Plan())
}

func TestSequenceLinksAreManyToMany(t *testing.T) {
	m := New(newTestPlan())
	s1 := mustAdd(t, m, "", ident.LevelSequence)
	s2 := mustAdd(t, m, "", ident.LevelSequence)
	s3 := mustAdd(t, m, "", ident.LevelSequence)

	if err := m.SetPrerequisite(s3, s1, s2, s1); err != nil {
		t.Fatal(err)
	}
	seqs := m.Plan().Sequences()
	if !slices.Equal(seqs[2].PrerequisiteSequences, []string{s1, s2}) {
		t.Errorf("S3.prerequisites = %v", seqs[2].PrerequisiteSequences)
	}
	if !slices.Equal(seqs[0].NextSequences, []string{s3}) || !slices.Equal(seqs[1].NextSequences, []string{s3}) {
		t.Errorf("next sets = %v / %v", seqs[0].NextSequences, seqs[1].NextSequences)
	}
	if err := m.SetPrerequisite(s1, s3); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("cycle through sequences: err = %v", err)
	}
	mustValid(t, m.Plan())
}

func TestDeleteDropsLinks(t *testing.T) {
	m := threeActivities(t)
	if err := m.ChainSiblings("SEQ1-P1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteNode("SEQ1-P1-A2"); err != nil {
		t.Fatal(err)
	}
	p := m.Plan()
	if p.Activity("SEQ1-P1-A2") != nil {
		t.Fatal("deleted activity still present")
	}
	if got := p.Activity("SEQ1-P1-A3").PrerequisiteActivity; got != "" {
		t.Errorf("A3.prerequisite = %q, want empty", got)
	}
	if got := p.Activity("SEQ1-P1-A1").NextActivity; len(got) != 0 {
		t.Errorf("A1.next = %v, want empty", got)
	}
	mustValid(t, p)
}

func TestDeletePhaseCascadesAcrossSequences(t *testing.T) {
	m := New(newTestPlan())
	s1 := mustAdd(t, m, "", ident.LevelSequence)
	s2 := mustAdd(t, m, "", ident.LevelSequence)
	p1 := mustAdd(t, m, s1, ident.LevelPhase)
	p2 := mustAdd(t, m, s2, ident.LevelPhase)
	a1 := mustAdd(t, m, p1, ident.LevelActivity)
	a2 := mustAdd(t, m, p2, ident.LevelActivity)
	if err := m.SetPrerequisite(p2, p1); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPrerequisite(a2, a1); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPrerequisite(s2, s1); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteNode(s1); err != nil {
		t.Fatal(err)
	}
	p := m.Plan()
	if len(p.Sequences()) != 1 {
		t.Fatalf("sequences = %d, want 1", len(p.Sequences()))
	}
	s := p.Sequences()[0]
	if len(s.PrerequisiteSequences) != 0 || s.Phases[0].PrerequisitePhase != "" ||
		s.Phases[0].Activities[0].PrerequisiteActivity != "" {
		t.Errorf("dangling links survive: %+v", s)
	}
	mustValid(t, p)
}

func TestDeletedIDsAreNotReused(t *testing.T) {
	m := threeActivities(t)
	if err := m.DeleteNode("SEQ1-P1-A3"); err != nil {
		t.Fatal(err)
	}
	id := mustAdd(t, m, "SEQ1-P1", ident.LevelActivity)
	if id == "SEQ1-P1-A3" {
		t.Errorf("retired id %q handed out again", id)
	}
	if id != "SEQ1-P1-A4" {
		t.Errorf("id = %q, want SEQ1-P1-A4", id)
	}
	mustValid(t, m.Plan())
}

func TestResumeKeepsRetiredIDs(t *testing.T) {
	m := threeActivities(t)
	if err := m.DeleteNode("SEQ1-P1-A3"); err != nil {
		t.Fatal(err)
	}
	retired := m.Retired()
	if !slices.Contains(retired, "SEQ1-P1-A3") {
		t.Fatalf("Retired() = %v", retired)
	}

	resumed := Resume(m.Plan(), retired)
	if id := mustAdd(t, resumed, "SEQ1-P1", ident.LevelActivity); id != "SEQ1-P1-A4" {
		t.Errorf("id = %q, want SEQ1-P1-A4", id)
	}
}

func TestUpdateNode(t *testing.T) {
	m := threeActivities(t)
	r := mustAdd(t, m, "SEQ1-P1-A1", ident.LevelRole)

	name := "Warm-up"
	dur := 15
	if err := m.UpdateNode("SEQ1-P1-A1", Patch{Name: &name, Duration: &dur}); err != nil {
		t.Fatal(err)
	}
	a := m.Plan().Activity("SEQ1-P1-A1")
	if a.Name != name || a.Duration != 15 {
		t.Errorf("activity = %+v", a)
	}

	prereq := []string{"SEQ1-P1-A1"}
	if err := m.UpdateNode("SEQ1-P1-A2", Patch{Prerequisites: &prereq}); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(m.Plan().Activity("SEQ1-P1-A1").NextActivity, "SEQ1-P1-A2") {
		t.Error("link field in patch did not route through SetPrerequisite")
	}

	actor := "A2"
	diff := []string{"d2", "d1", "d2"}
	env := &model.EnvironmentUsage{EnvironmentID: "ENV1", SelectedMaterials: []string{"M1"}}
	if err := m.UpdateNode(r, Patch{ActorID: &actor, SelectedDifferentiation: &diff, LearningEnvironment: env}); err != nil {
		t.Fatal(err)
	}
	role := m.Plan().Activity("SEQ1-P1-A1").Roles[0]
	if role.ActorID != "A2" || !slices.Equal(role.SelectedDifferentiation, []string{"d2", "d1"}) {
		t.Errorf("role = %+v", role)
	}
	mustValid(t, m.Plan())
}

func TestUpdateNodeRejects(t *testing.T) {
	m := threeActivities(t)
	r := mustAdd(t, m, "SEQ1-P1-A1", ident.LevelRole)

	str := func(s string) *string { return &s }
	neg := -5
	tests := []struct {
		name  string
		id    string
		patch Patch
		want  error
	}{
		{"unknown actor", r, Patch{ActorID: str("A9")}, ErrUnknownReference},
		{"unknown environment", r, Patch{LearningEnvironment: &model.EnvironmentUsage{EnvironmentID: "ENV9"}}, ErrUnknownReference},
		{"unknown material", r, Patch{LearningEnvironment: &model.EnvironmentUsage{EnvironmentID: "ENV1", SelectedMaterials: []string{"M9"}}}, ErrUnknownReference},
		{"accommodation not offered", r, Patch{SelectedDifferentiation: &[]string{"d1"}}, ErrUnknownReference},
		{"negative duration", "SEQ1-P1-A2", Patch{Duration: &neg}, ErrInvalidValue},
		{"bad transition", "SEQ1", Patch{TransitionType: str("sideways")}, ErrInvalidValue},
		{"self link", "SEQ1-P1-A2", Patch{Name: str("x"), Prerequisites: &[]string{"SEQ1-P1-A2"}}, ErrInvalidLink},
		{"missing", "SEQ1-P1-A9", Patch{}, ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.UpdateNode(tt.id, tt.patch); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	// A rejected patch writes nothing, not even its valid fields.
	if got := m.Plan().Activity("SEQ1-P1-A2").Name; got == "x" {
		t.Error("rejected patch was partially applied")
	}
}

func TestDeleteActorAndEnvironment(t *testing.T) {
	m := threeActivities(t)
	actor := "A2"
	r1 := mustAdd(t, m, "SEQ1-P1-A1", ident.LevelRole)
	r2 := mustAdd(t, m, "SEQ1-P1-A1", ident.LevelRole)
	env := &model.EnvironmentUsage{EnvironmentID: "ENV1", SelectedTools: []string{"T1"}}
	if err := m.UpdateNode(r2, Patch{ActorID: &actor, LearningEnvironment: env}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateNode(r1, Patch{LearningEnvironment: env}); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteActor("A2"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Find(r2); ok {
		t.Error("role of deleted actor survived")
	}
	if err := m.DeleteEnvironment("ENV1"); err != nil {
		t.Fatal(err)
	}
	n, _ := m.Find(r1)
	if n.Role.LearningEnvironment != nil {
		t.Error("usage of deleted environment survived")
	}
	if err := m.DeleteActor("A2"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
	mustValid(t, m.Plan())
}

func TestDownstream(t *testing.T) {
	m := threeActivities(t)
	if err := m.ChainSiblings("SEQ1-P1"); err != nil {
		t.Fatal(err)
	}
	got := m.Downstream("SEQ1-P1-A1")
	if !slices.Equal(got, []string{"SEQ1-P1-A2", "SEQ1-P1-A3"}) {
		t.Errorf("Downstream = %v", got)
	}
}

// TestRandomEditsKeepInvariants drives the manager with a long, seeded
// sequence of mixed operations and checks the plan after every step.
func TestRandomEditsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	m := New(newTestPlan())
	mustAdd(t, m, "", ident.LevelSequence)

	ids := func(level ident.Level) []string {
		var out []string
		p := m.Plan()
		for _, s := range p.Sequences() {
			if level == ident.LevelSequence {
				out = append(out, s.ID)
			}
			for _, ph := range s.Phases {
				if level == ident.LevelPhase {
					out = append(out, ph.ID)
				}
				for _, a := range ph.Activities {
					if level == ident.LevelActivity {
						out = append(out, a.ID)
					}
					for _, r := range a.Roles {
						if level == ident.LevelRole {
							out = append(out, r.ID)
						}
					}
				}
			}
		}
		return out
	}
	pick := func(xs []string) string { return xs[rng.IntN(len(xs))] }
	levels := []ident.Level{ident.LevelSequence, ident.LevelPhase, ident.LevelActivity}
	seen := make(map[string]bool)

	for step := range 600 {
		switch op := rng.IntN(10); {
		case op < 4:
			level := levels[rng.IntN(len(levels))] + ident.Level(rng.IntN(2))
			var parent string
			if level != ident.LevelSequence {
				parents := ids(level - 1)
				if len(parents) == 0 {
					continue
				}
				parent = pick(parents)
			}
			id, err := m.AddChild(parent, level)
			if err != nil {
				t.Fatalf("step %d: AddChild: %v", step, err)
			}
			if seen[id] {
				t.Fatalf("step %d: id %q handed out twice", step, id)
			}
			seen[id] = true
		case op < 8:
			level := levels[rng.IntN(len(levels))]
			nodes := ids(level)
			if len(nodes) < 2 {
				continue
			}
			err := m.SetPrerequisite(pick(nodes), pick(nodes))
			if err != nil && !errors.Is(err, ErrInvalidLink) {
				t.Fatalf("step %d: SetPrerequisite: %v", step, err)
			}
		default:
			level := levels[rng.IntN(len(levels))] + ident.Level(rng.IntN(2))
			nodes := ids(level)
			if len(nodes) == 0 || (level == ident.LevelSequence && len(nodes) == 1) {
				continue
			}
			if err := m.DeleteNode(pick(nodes)); err != nil {
				t.Fatalf("step %d: DeleteNode: %v", step, err)
			}
		}
		if err := Validate(m.Plan()); err != nil {
			t.Fatalf("step %d:\n%v", step, err)
		}
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	p := newTestPlan()
	p.Solution.DidacticTemplate.LearningSequences = []model.Sequence{{
		ID: "SEQ1",
		Phases: []model.Phase{{
			ID:        "SEQ1-P1",
			NextPhase: "SEQ1-P9",
			Activities: []model.Activity{
				{ID: "SEQ1-P1-A1", Duration: -1, PrerequisiteActivity: "SEQ1-P1-A1", NextActivity: []string{"SEQ1-P1-A1"},
					Roles: []model.Role{{ID: "R", ActorID: "A9"}}},
				{ID: "SEQ1-P1"},
			},
		}},
	}}
	err := Validate(p)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("err = %v, want ErrInvariant", err)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("expected a joined error, got %T", err)
	}
	// duplicate id, negative duration, self link, dangling next phase,
	// unknown actor, cycle.
	if n := len(joined.Unwrap()); n < 5 {
		t.Errorf("got %d violations, want at least 5:\n%v", n, err)
	}
}
