package normalize

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
)

// Activity styles used to pick a synthesized task text.
const (
	styleFrontal    = "frontal"
	styleIndividual = "individual"
	styleGroup      = "group"
	styleGeneral    = "general"
)

var styleKeywords = []struct {
	style string
	words []string
}{
	{styleGroup, []string{"group", "gruppe", "team", "discussion", "diskussion", "collaborat", "partner", "kooperativ", "debate"}},
	{styleIndividual, []string{"quiz", "test", "individual", "einzel", "exercise", "übung", "uebung", "worksheet", "arbeitsblatt", "self-study", "selbst"}},
	{styleFrontal, []string{"lecture", "presentation", "vortrag", "frontal", "input", "introduction", "einführung", "einfuehrung", "explain", "erklär", "demonstrat"}},
}

func activityStyle(hints string) string {
	for _, k := range styleKeywords {
		for _, w := range k.words {
			if strings.Contains(hints, w) {
				return k.style
			}
		}
	}
	return styleGeneral
}

// taskTexts is keyed by role hint, then activity style.
var taskTexts = map[model.RoleHint]map[string]string{
	model.HintLead: {
		styleFrontal:    "Presents the content of %q and guides the learners through it.",
		styleIndividual: "Hands out the tasks of %q, supports individual learners and checks the results.",
		styleGroup:      "Forms the groups for %q, moderates the collaboration and collects the results.",
		styleGeneral:    "Leads the activity %q.",
	},
	model.HintParticipant: {
		styleFrontal:    "Follows the input in %q, takes notes and asks questions.",
		styleIndividual: "Works individually on the tasks of %q.",
		styleGroup:      "Works together in groups on %q and presents the results.",
		styleGeneral:    "Takes part in the activity %q.",
	},
}

// TaskText returns a generic task description for an actor with the given
// hint in an activity.
func TaskText(hint model.RoleHint, style, activityName string) string {
	if byStyle, ok := taskTexts[hint]; ok {
		return fmt.Sprintf(byStyle[style], activityName)
	}
	return fmt.Sprintf("Supports the activity %q.", activityName)
}

// synthesizeRoles gives every activity without roles one role per actor of
// the roster. Material references on the source activity are carried over
// only to the actors the activity named.
func (b *builder) synthesizeRoles() {
	p := b.plan
	if len(p.Actors) == 0 {
		return
	}
	for _, pa := range b.pending {
		a := b.activity(pa)
		if len(a.Roles) > 0 {
			continue
		}
		style := activityStyle(pa.hints)
		envID, mats := resolveMaterials(p, pa.materials)
		for _, actor := range p.Actors {
			r := model.Role{
				Name:                    actor.Name,
				ActorID:                 actor.ID,
				TaskDescription:         TaskText(actor.RoleHint, style, a.Name),
				SelectedDifferentiation: []string{},
			}
			if envID != "" && slices.Contains(pa.actorIDs, actor.ID) {
				r.LearningEnvironment = &model.EnvironmentUsage{
					EnvironmentID:     envID,
					SelectedMaterials: slices.Clone(mats),
					SelectedTools:     []string{},
					SelectedServices:  []string{},
				}
			}
			a.Roles = append(a.Roles, r)
		}
		slog.Debug("normalize: roles synthesized", "activity", a.Name, "roles", len(a.Roles), "style", style)
	}
}

// resolveMaterials maps material references (ids or names) onto the first
// environment that holds any of them.
func resolveMaterials(p *model.Plan, refs []string) (string, []string) {
	for _, env := range p.Environments {
		var ids []string
		for _, ref := range refs {
			for _, m := range env.Materials {
				if m.ID == ref || strings.EqualFold(m.Name, ref) {
					ids = append(ids, m.ID)
					break
				}
			}
		}
		if len(ids) > 0 {
			return env.ID, dedupe(ids)
		}
	}
	return "", nil
}

// repairRefs makes every role reference resolve. Unknown actors get a
// placeholder, unknown environments drop the usage, and unknown resource or
// accommodation ids are filtered out.
func repairRefs(p *model.Plan) {
	taken := actorIDs(p)
	p.WalkRoles(func(_ *model.Activity, r *model.Role) bool {
		repairRole(p, taken, r)
		return true
	})
}

func actorIDs(p *model.Plan) map[string]bool {
	taken := make(map[string]bool, len(p.Actors))
	for _, a := range p.Actors {
		taken[a.ID] = true
	}
	return taken
}

func repairRole(p *model.Plan, taken map[string]bool, r *model.Role) {
	switch {
	case r.ActorID == "" && len(p.Actors) > 0:
		r.ActorID = p.Actors[0].ID
	case r.ActorID == "":
		r.ActorID = freeID("A", taken)
		p.Actors = append(p.Actors, placeholderActor(r.ActorID, len(p.Actors)))
	case p.Actor(r.ActorID) == nil:
		taken[r.ActorID] = true
		p.Actors = append(p.Actors, placeholderActor(r.ActorID, len(p.Actors)))
	}
	actor := p.Actor(r.ActorID)
	if r.Name == "" {
		r.Name = actor.Name
	}

	r.SelectedDifferentiation = slices.DeleteFunc(dedupe(r.SelectedDifferentiation), func(d string) bool {
		return !actor.HasAccommodation(d)
	})

	if u := r.LearningEnvironment; u != nil {
		env := p.Environment(u.EnvironmentID)
		if env == nil {
			slog.Debug("normalize: dropped unknown environment", "role", r.ID, "environment", u.EnvironmentID)
			r.LearningEnvironment = nil
			return
		}
		u.SelectedMaterials = known(env, model.KindMaterial, u.SelectedMaterials)
		u.SelectedTools = known(env, model.KindTool, u.SelectedTools)
		u.SelectedServices = known(env, model.KindService, u.SelectedServices)
	}
}

// Roles decodes raw role objects as the new roles of activity a in plan p.
// A supplied role id is kept when it belongs to a and no other node holds
// it; other roles get the next id under a that no role of p holds and
// retired does not report. References are repaired against p's rosters,
// which may gain placeholder actors. a itself is not modified.
func Roles(p *model.Plan, a *model.Activity, raw []any, retired func(string) bool) []model.Role {
	own := map[string]bool{}
	for _, r := range a.Roles {
		own[r.ID] = true
	}
	held := map[string]bool{}
	p.WalkRoles(func(_ *model.Activity, r *model.Role) bool {
		held[r.ID] = true
		return true
	})
	claimed := map[string]bool{}
	isRetired := func(id string) bool { return retired != nil && retired(id) }
	taken := func(id string) bool { return held[id] || claimed[id] || isRetired(id) }

	actors := actorIDs(p)
	out := make([]model.Role, 0, len(raw))
	for i, v := range raw {
		r := role(asObj(v))
		parsed, ok := ident.Parse(r.ID)
		keep := ok && parsed.Level == ident.LevelRole && parsed.Parent() == a.ID &&
			!claimed[r.ID] && !isRetired(r.ID) && (own[r.ID] || !held[r.ID])
		if !keep {
			r.ID = ident.Next(a.ID, ident.LevelRole, i, taken)
		}
		claimed[r.ID] = true
		repairRole(p, actors, &r)
		materialize(reflect.ValueOf(&r))
		out = append(out, r)
	}
	return out
}
