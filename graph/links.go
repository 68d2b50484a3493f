package graph

import (
	"fmt"
	"slices"

	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
)

// SetPrerequisite replaces the prerequisite link(s) of id. Phases and
// activities accept at most one prerequisite; sequences accept a set. An
// empty list clears the link.
//
// The old prerequisite loses id from its next field, the new one gains it
// once. Self links and links that would close a cycle are rejected with an
// *InvalidLinkError and leave the plan untouched.
func (m *Manager) SetPrerequisite(id string, prereqs ...string) error {
	n, err := m.mustLocate(id)
	if err != nil {
		return err
	}
	prereqs = slices.DeleteFunc(slices.Clone(prereqs), func(s string) bool { return s == "" })
	prereqs = dedupe(prereqs)

	if err := m.checkLinks(n, id, prereqs); err != nil {
		return err
	}

	switch n.level {
	case ident.LevelSequence:
		m.linkSequence(n.seq, prereqs)
	case ident.LevelPhase:
		m.linkPhase(n.phase, first(prereqs))
	case ident.LevelActivity:
		m.linkActivity(n.activity, first(prereqs))
	}
	return nil
}

func (m *Manager) checkLinks(n node, id string, prereqs []string) error {
	if n.level == ident.LevelRole {
		return invalidLink(id, first(prereqs), "roles carry no prerequisite links")
	}
	if n.level != ident.LevelSequence && len(prereqs) > 1 {
		return invalidLink(id, prereqs[1], fmt.Sprintf("a %s takes a single prerequisite", n.level))
	}
	for _, p := range prereqs {
		if p == id {
			return invalidLink(id, p, "a node cannot be its own prerequisite")
		}
		target, ok := m.locate(p)
		if !ok {
			return fmt.Errorf("%w: prerequisite %q", ErrNodeNotFound, p)
		}
		if target.level != n.level {
			return invalidLink(id, p, fmt.Sprintf("prerequisite is a %s, want %s", target.level, n.level))
		}
		if m.reachable(id, p) {
			return invalidLink(id, p, "link would create a cycle")
		}
	}
	return nil
}

func (m *Manager) linkSequence(s *model.Sequence, prereqs []string) {
	for _, old := range s.PrerequisiteSequences {
		if o, ok := m.locate(old); ok && o.level == ident.LevelSequence {
			o.seq.NextSequences = remove(o.seq.NextSequences, s.ID)
		}
	}
	s.PrerequisiteSequences = prereqs
	for _, p := range prereqs {
		target, _ := m.locate(p)
		target.seq.NextSequences = appendUnique(target.seq.NextSequences, s.ID)
	}
}

func (m *Manager) linkPhase(ph *model.Phase, prereq string) {
	if o, ok := m.locate(ph.PrerequisitePhase); ok && o.level == ident.LevelPhase && o.phase.NextPhase == ph.ID {
		o.phase.NextPhase = ""
	}
	ph.PrerequisitePhase = prereq
	if prereq == "" {
		return
	}
	target, _ := m.locate(prereq)
	// Phase links are one-to-one: whoever followed the new prerequisite
	// before loses its back link.
	if w := target.phase.NextPhase; w != "" && w != ph.ID {
		if x, ok := m.locate(w); ok && x.level == ident.LevelPhase && x.phase.PrerequisitePhase == prereq {
			x.phase.PrerequisitePhase = ""
		}
	}
	target.phase.NextPhase = ph.ID
}

func (m *Manager) linkActivity(a *model.Activity, prereq string) {
	if o, ok := m.locate(a.PrerequisiteActivity); ok && o.level == ident.LevelActivity {
		o.activity.NextActivity = remove(o.activity.NextActivity, a.ID)
	}
	a.PrerequisiteActivity = prereq
	if prereq == "" {
		return
	}
	target, _ := m.locate(prereq)
	target.activity.NextActivity = appendUnique(target.activity.NextActivity, a.ID)
}

// ChainSiblings links the children of parentID (the root sequences when
// parentID is empty) in insertion order, each child taking its predecessor
// as prerequisite. Existing prerequisites of those children are cleared
// first.
func (m *Manager) ChainSiblings(parentID string) error {
	ids, _, err := m.children(parentID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.SetPrerequisite(id); err != nil {
			return err
		}
	}
	for i := 1; i < len(ids); i++ {
		if err := m.SetPrerequisite(ids[i], ids[i-1]); err != nil {
			return fmt.Errorf("chaining %s after %s: %w", ids[i], ids[i-1], err)
		}
	}
	return nil
}

func first(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = appendUnique(out, id)
	}
	return out
}
