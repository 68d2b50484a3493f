package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/goplan/model"
	"github.com/brunobiangulo/goplan/normalize"
	"github.com/brunobiangulo/goplan/repair"
)

// linkingPhase asks for per-activity roles that reference real actor and
// resource ids. Activities absent from the answer keep their roles.
func linkingPhase(ctx context.Context, r *run) error {
	if len(r.plan.Environments) == 0 {
		return skip("plan has no environments")
	}
	activities := 0
	r.plan.WalkActivities(func(*model.Sequence, *model.Phase, *model.Activity) bool {
		activities++
		return true
	})
	if activities == 0 {
		return skip("plan has no activities")
	}

	text, err := r.ask(ctx, linkingSystem, linkingPrompt(r.plan))
	if err != nil {
		return abandoned{fmt.Errorf("linking roles: %w", err)}
	}
	var answer any
	if err := repair.Decode(text, &answer); err != nil {
		return abandoned{err}
	}
	roles := rolesByActivity(answer)
	if len(roles) == 0 {
		return abandoned{fmt.Errorf("linking roles: answer names no activity")}
	}

	n := mergeRoles(r.plan, roles, r.isRetired)
	slog.Info("orchestrator: roles linked", "activities", n)
	r.log(fmt.Sprintf("roles linked for %d of %d activities", n, activities))
	return nil
}

// rolesByActivity reads {"activities": [{"activity_id", "roles"}]} or a
// bare list of the same items.
func rolesByActivity(answer any) map[string][]any {
	items, ok := answer.([]any)
	if !ok {
		m, _ := answer.(map[string]any)
		items, _ = m["activities"].([]any)
	}
	out := map[string][]any{}
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["activity_id"].(string)
		roles, ok := m["roles"].([]any)
		if id == "" || !ok {
			continue
		}
		out[id] = roles
	}
	return out
}

// mergeRoles replaces the roles of the named activities. New roles get
// fresh ids and resolvable references; every other activity is left as it
// is. It returns the number of activities that were replaced.
func mergeRoles(plan *model.Plan, roles map[string][]any, retired func(string) bool) int {
	n := 0
	plan.WalkActivities(func(_ *model.Sequence, _ *model.Phase, a *model.Activity) bool {
		if rs, ok := roles[a.ID]; ok {
			a.Roles = normalize.Roles(plan, a, rs, retired)
			n++
		}
		return true
	})
	if n < len(roles) {
		slog.Debug("orchestrator: linking named unknown activities", "unknown", len(roles)-n)
	}
	return n
}
