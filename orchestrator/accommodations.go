package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/brunobiangulo/goplan/batch"
	"github.com/brunobiangulo/goplan/model"
	"github.com/brunobiangulo/goplan/normalize"
	"github.com/brunobiangulo/goplan/repair"
)

const (
	tierExtension = "extension"
	tierSupport   = "foundational-support"
)

var errNoOptions = errors.New("answer holds no differentiation options")

type accommodationTask struct {
	actor model.Actor
}

type accommodationResult struct {
	actorID string
	options []model.Accommodation
}

// accommodationPhase generates options for every group actor that has
// none, then fans each actor's option ids back into its roles.
func accommodationPhase(ctx context.Context, r *run) error {
	var tasks []accommodationTask
	for _, a := range r.plan.Actors {
		if a.Type == model.ActorGroup && len(a.DifferentiationOptions) == 0 {
			tasks = append(tasks, accommodationTask{actor: a})
		}
	}
	if len(tasks) == 0 {
		return skip("no group actor without differentiation options")
	}

	snapshot := r.plan
	worker := batch.Safe(func(ctx context.Context, t accommodationTask) (accommodationResult, error) {
		return r.accommodations(ctx, snapshot, t)
	})
	outs, err := batch.Run(ctx, tasks, worker,
		batch.WithConcurrency(r.o.cfg.Concurrency),
		batch.WithProgress(func(done, total int) {
			r.status(fmt.Sprintf("Differentiation options: %d/%d groups", done, total))
		}))

	for i, out := range outs {
		id := tasks[i].actor.ID
		if !out.OK() {
			slog.Warn("orchestrator: accommodations failed", "actor", id, "error", out.Err)
			r.logErr("no differentiation options generated for "+id, out.Err)
			continue
		}
		applyAccommodations(r.plan, out.Value)
	}
	ok, failed := batch.Tally(outs)
	r.log(fmt.Sprintf("differentiation options: %d groups done, %d failed", ok, failed))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func (r *run) accommodations(ctx context.Context, plan *model.Plan, t accommodationTask) (accommodationResult, error) {
	a := &t.actor
	targeted := a.HasSpecialNeeds()
	prompt := tieredPrompt(plan, a)
	if targeted {
		prompt = targetedPrompt(plan, a)
	}
	text, err := r.ask(ctx, accommodationSystem, prompt)
	if err != nil {
		return accommodationResult{}, err
	}
	var answer any
	if err := repair.Decode(text, &answer); err != nil {
		return accommodationResult{}, err
	}
	opts, err := options(answer)
	if err != nil {
		return accommodationResult{}, err
	}
	if !targeted {
		opts = tiers(opts)
	}
	if len(opts) == 0 {
		return accommodationResult{}, errNoOptions
	}
	return accommodationResult{actorID: a.ID, options: normalize.Accommodations(a.ID, opts)}, nil
}

// options reads {"differentiation_options": [...]}, {"options": [...]} or
// a bare list.
func options(answer any) ([]model.Accommodation, error) {
	list, ok := answer.([]any)
	if !ok {
		m, _ := answer.(map[string]any)
		for _, key := range []string{"differentiation_options", "options"} {
			if list, ok = m[key].([]any); ok {
				break
			}
		}
	}
	if len(list) == 0 {
		return nil, errNoOptions
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	var opts []model.Accommodation
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("decoding differentiation options: %w", err)
	}
	return opts, nil
}

// tiers reduces opts to exactly the extension and foundational-support
// options. Options are matched by id or label first, then by position.
func tiers(opts []model.Accommodation) []model.Accommodation {
	if len(opts) == 0 {
		return nil
	}
	pick := func(keys ...string) int {
		for i, o := range opts {
			s := strings.ToLower(o.ID + " " + o.Label)
			for _, k := range keys {
				if strings.Contains(s, k) {
					return i
				}
			}
		}
		return -1
	}
	ext := pick(tierExtension, "advanced", "challenge")
	sup := pick("foundational", "support", "basic")
	if sup == ext {
		sup = -1
	}
	for i := range opts {
		switch {
		case ext < 0 && i != sup:
			ext = i
		case sup < 0 && i != ext:
			sup = i
		}
	}

	out := make([]model.Accommodation, 0, 2)
	for _, t := range []struct {
		idx   int
		id    string
		label string
	}{{ext, tierExtension, "Extension"}, {sup, tierSupport, "Foundational support"}} {
		o := model.Accommodation{ID: t.id, Label: t.label, Hints: []string{}}
		if t.idx >= 0 {
			src := opts[t.idx]
			o.Description = src.Description
			o.Hints = slices.Clone(src.Hints)
			if src.Label != "" {
				o.Label = src.Label
			}
		}
		out = append(out, o)
	}
	return out
}

// applyAccommodations attaches the options to the actor and sets
// selected_differentiation on each of its roles to all option ids.
func applyAccommodations(p *model.Plan, res accommodationResult) {
	actor := p.Actor(res.actorID)
	if actor == nil {
		return
	}
	actor.DifferentiationOptions = res.options
	ids := actor.AccommodationIDs()
	roles := 0
	p.WalkRoles(func(_ *model.Activity, role *model.Role) bool {
		if role.ActorID == res.actorID {
			role.SelectedDifferentiation = slices.Clone(ids)
			roles++
		}
		return true
	})
	slog.Debug("orchestrator: accommodations applied", "actor", res.actorID, "options", len(ids), "roles", roles)
}
