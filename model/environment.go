package model

// Provenance values for resources.
const (
	SourceManual          = "manual"
	SourceExternalCatalog = "external-catalog"
	SourceCriteriaFilter  = "criteria-filter"
)

// Resource kinds.
const (
	KindMaterial = "material"
	KindTool     = "tool"
	KindService  = "service"
)

// Environment is a learning environment and the resources it offers.
type Environment struct {
	ID          string     `json:"environment_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Materials   []Resource `json:"materials"`
	Tools       []Resource `json:"tools"`
	Services    []Resource `json:"services"`
}

// Resource is a material, tool or service inside an environment.
type Resource struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Source   string         `json:"source"`
	Catalog  *CatalogRecord `json:"catalog,omitempty"`
	Criteria []Criterion    `json:"criteria,omitempty"`
}

// CatalogRecord is the metadata kept for resources pulled from the external
// catalog.
type CatalogRecord struct {
	NodeID      string   `json:"node_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	PreviewURL  string   `json:"preview_url"`
	Subjects    []string `json:"subjects"`
	Levels      []string `json:"education_levels"`
	Score       float64  `json:"score"`
}

// Criterion is a single property/value filter used by criteria-filter
// resources.
type Criterion struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Resources returns the environment's resources of the given kind.
func (e *Environment) Resources(kind string) []Resource {
	switch kind {
	case KindMaterial:
		return e.Materials
	case KindTool:
		return e.Tools
	case KindService:
		return e.Services
	default:
		return nil
	}
}

// HasResource reports whether id names a resource of the given kind.
func (e *Environment) HasResource(kind, id string) bool {
	for _, r := range e.Resources(kind) {
		if r.ID == id {
			return true
		}
	}
	return false
}
