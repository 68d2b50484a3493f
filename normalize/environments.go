package normalize

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brunobiangulo/goplan/model"
)

var defaultCategory = map[string]string{
	model.KindMaterial: "document",
	model.KindTool:     "software",
	model.KindService:  "platform",
}

// ResourceID returns a fresh, time-ordered resource id such as
// "material-0190f3c4-...". Resources are leaves, so a generated id is never
// re-derived.
func ResourceID(kind string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return kind + "-" + id.String()
}

// environments normalizes the environment roster. Missing or duplicate ids
// become the next free ENV{n}.
func environments(raw []any) []model.Environment {
	out := make([]model.Environment, 0, len(raw))
	taken := make(map[string]bool)
	for _, it := range raw {
		if id := str(named(it), "environment_id", "id"); id != "" {
			taken[id] = true
		}
	}
	claimed := make(map[string]bool)
	seenRes := make(map[string]bool)
	for i, it := range raw {
		m := named(it)
		e := model.Environment{
			ID:          str(m, "environment_id", "id"),
			Name:        str(m, "name", "environment_name"),
			Description: str(m, "description"),
		}
		if e.ID == "" || claimed[e.ID] {
			e.ID = freeID("ENV", taken)
		}
		claimed[e.ID] = true
		if e.Name == "" {
			e.Name = fmt.Sprintf("Environment %d", i+1)
		}
		e.Materials = resources(m, model.KindMaterial, seenRes, "materials")
		e.Tools = resources(m, model.KindTool, seenRes, "tools")
		e.Services = resources(m, model.KindService, seenRes, "services")
		out = append(out, e)
	}
	return out
}

// DefaultEnvironment is the environment synthesized for roles that have
// none when resources must be attached somewhere.
func DefaultEnvironment(id string) model.Environment {
	return model.Environment{
		ID:        id,
		Name:      "Learning environment",
		Materials: []model.Resource{},
		Tools:     []model.Resource{},
		Services:  []model.Resource{},
	}
}

func resources(m map[string]any, kind string, seen map[string]bool, key string) []model.Resource {
	items, _ := list(m, key)
	out := make([]model.Resource, 0, len(items))
	for _, it := range items {
		r := decode(model.Resource{}, named(it))
		if r.Name == "" {
			r.Name = str(named(it), "title", "label")
		}
		if r.ID == "" || seen[r.ID] {
			r.ID = ResourceID(kind)
		}
		seen[r.ID] = true
		if r.Category == "" {
			r.Category = defaultCategory[kind]
		}
		r.Source = source(r.Source, r)
		out = append(out, r)
	}
	return out
}

func source(s string, r model.Resource) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case model.SourceExternalCatalog, "catalog", "external", "edu-sharing", "wlo":
		return model.SourceExternalCatalog
	case model.SourceCriteriaFilter, "criteria", "filter":
		return model.SourceCriteriaFilter
	case model.SourceManual:
		return model.SourceManual
	}
	if r.Catalog != nil {
		return model.SourceExternalCatalog
	}
	return model.SourceManual
}
