package normalize

import (
	"log/slog"
	"slices"

	"github.com/brunobiangulo/goplan/model"
)

// edges accumulates accepted prerequisite -> next links for one level.
// Links that point at unknown nodes, exceed the fan limits or would close a
// cycle are refused.
type edges struct {
	order   map[string]int
	next    map[string][]string
	prev    map[string][]string
	maxPrev int // 0 means unbounded
	maxNext int
	dropped int
}

func newEdges(ids []string, maxPrev, maxNext int) *edges {
	e := &edges{
		order:   make(map[string]int, len(ids)),
		next:    make(map[string][]string),
		prev:    make(map[string][]string),
		maxPrev: maxPrev,
		maxNext: maxNext,
	}
	for i, id := range ids {
		e.order[id] = i
	}
	return e
}

func (e *edges) add(from, to string) {
	_, okFrom := e.order[from]
	_, okTo := e.order[to]
	switch {
	case from == "" || to == "":
		return
	case slices.Contains(e.next[from], to):
		return
	case !okFrom || !okTo || from == to,
		e.maxPrev > 0 && len(e.prev[to]) >= e.maxPrev,
		e.maxNext > 0 && len(e.next[from]) >= e.maxNext,
		e.reaches(to, from):
		e.dropped++
		return
	}
	e.next[from] = append(e.next[from], to)
	e.prev[to] = append(e.prev[to], from)
}

func (e *edges) reaches(start, target string) bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		for _, n := range e.next[cur] {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// sorted returns ids in document order so repeated runs agree.
func (e *edges) sorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int { return e.order[a] - e.order[b] })
	if out == nil {
		out = []string{}
	}
	return out
}

// repairLinks rebuilds every link field from the declared prerequisites
// first and the declared successors second, so a prerequisite wins over a
// conflicting next entry. The result is symmetric and acyclic.
func repairLinks(p *model.Plan) {
	seqs := p.Solution.DidacticTemplate.LearningSequences

	var seqIDs, phaseIDs, actIDs []string
	for _, s := range seqs {
		seqIDs = append(seqIDs, s.ID)
		for _, ph := range s.Phases {
			phaseIDs = append(phaseIDs, ph.ID)
			for _, a := range ph.Activities {
				actIDs = append(actIDs, a.ID)
			}
		}
	}

	se := newEdges(seqIDs, 0, 0)
	for _, s := range seqs {
		for _, pid := range s.PrerequisiteSequences {
			se.add(pid, s.ID)
		}
	}
	for _, s := range seqs {
		for _, nid := range s.NextSequences {
			se.add(s.ID, nid)
		}
	}

	pe := newEdges(phaseIDs, 1, 1)
	ae := newEdges(actIDs, 1, 0)
	p.WalkActivities(func(_ *model.Sequence, _ *model.Phase, a *model.Activity) bool {
		ae.add(a.PrerequisiteActivity, a.ID)
		return true
	})
	p.WalkActivities(func(_ *model.Sequence, _ *model.Phase, a *model.Activity) bool {
		for _, nid := range a.NextActivity {
			ae.add(a.ID, nid)
		}
		return true
	})
	for _, s := range seqs {
		for _, ph := range s.Phases {
			pe.add(ph.PrerequisitePhase, ph.ID)
		}
	}
	for _, s := range seqs {
		for _, ph := range s.Phases {
			pe.add(ph.ID, ph.NextPhase)
		}
	}

	for si := range seqs {
		s := &seqs[si]
		s.PrerequisiteSequences = se.sorted(se.prev[s.ID])
		s.NextSequences = se.sorted(se.next[s.ID])
		for pi := range s.Phases {
			ph := &s.Phases[pi]
			ph.PrerequisitePhase = first(pe.prev[ph.ID])
			ph.NextPhase = first(pe.next[ph.ID])
			for ai := range ph.Activities {
				a := &ph.Activities[ai]
				a.PrerequisiteActivity = first(ae.prev[a.ID])
				a.NextActivity = ae.sorted(ae.next[a.ID])
			}
		}
	}

	if n := se.dropped + pe.dropped + ae.dropped; n > 0 {
		slog.Debug("normalize: dropped invalid links", "count", n)
	}
}
