package graph

import "github.com/brunobiangulo/goplan/ident"

// successors returns the ids that directly follow id at its own level.
func (m *Manager) successors(id string) []string {
	n, ok := m.locate(id)
	if !ok {
		return nil
	}
	switch n.level {
	case ident.LevelSequence:
		return n.seq.NextSequences
	case ident.LevelPhase:
		if n.phase.NextPhase == "" {
			return nil
		}
		return []string{n.phase.NextPhase}
	case ident.LevelActivity:
		return n.activity.NextActivity
	default:
		return nil
	}
}

// reachable reports whether target can be reached from start by following
// next links. It walks breadth first and visits every node at most once.
func (m *Manager) reachable(start, target string) bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		var next []string
		for _, id := range queue {
			for _, nid := range m.successors(id) {
				if nid == target {
					return true
				}
				if !visited[nid] {
					visited[nid] = true
					next = append(next, nid)
				}
			}
		}
		queue = next
	}
	return false
}

// Downstream returns every node reachable from id through next links, in
// breadth-first order. The start node is not included.
func (m *Manager) Downstream(id string) []string {
	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		var next []string
		for _, cur := range queue {
			for _, nid := range m.successors(cur) {
				if !visited[nid] {
					visited[nid] = true
					out = append(out, nid)
					next = append(next, nid)
				}
			}
		}
		queue = next
	}
	return out
}

// children returns the ids of the direct children of parentID, or of the
// root sequences when parentID is empty.
func (m *Manager) children(parentID string) ([]string, ident.Level, error) {
	if parentID == "" {
		ids := make([]string, 0, len(m.sequences()))
		for _, s := range m.sequences() {
			ids = append(ids, s.ID)
		}
		return ids, ident.LevelSequence, nil
	}
	n, err := m.mustLocate(parentID)
	if err != nil {
		return nil, ident.LevelUnknown, err
	}
	var ids []string
	switch n.level {
	case ident.LevelSequence:
		for _, ph := range n.seq.Phases {
			ids = append(ids, ph.ID)
		}
	case ident.LevelPhase:
		for _, a := range n.phase.Activities {
			ids = append(ids, a.ID)
		}
	default:
		return nil, ident.LevelUnknown, ErrLevelMismatch
	}
	return ids, n.level.Child(), nil
}
