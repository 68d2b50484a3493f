package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/brunobiangulo/goplan/batch"
	"github.com/brunobiangulo/goplan/catalog"
	"github.com/brunobiangulo/goplan/model"
	"github.com/brunobiangulo/goplan/normalize"
	"github.com/brunobiangulo/goplan/repair"
)

// flatScore is the score kept when no ranking was needed.
const flatScore = 1.0

const maxSuggestions = 2

// pair is one (activity, role) task of the discovery phase. It carries
// everything the worker needs so workers never read the shared plan.
type pair struct {
	activityID          string
	activityName        string
	activityDescription string
	roleID              string
	roleName            string
	task                string
	envID               string
	lead                bool
	subject             string
	level               string
}

type suggestion struct {
	Term     string `json:"term"`
	Category string `json:"category"`
}

type candidate struct {
	node     catalog.Node
	category string
}

type discovery struct {
	materials []model.Resource
}

// discoveryPhase finds catalog materials for every role and merges them
// into the roles' environments and material selections.
func discoveryPhase(ctx context.Context, r *run) error {
	if r.o.repo == nil {
		return skip("no resource repository configured")
	}
	pairs, defaultEnv := collectPairs(r.plan)
	if len(pairs) == 0 {
		return skip("plan has no roles")
	}

	worker := batch.Safe(func(ctx context.Context, p pair) (discovery, error) {
		return r.discover(ctx, p)
	})
	outs, err := batch.Run(ctx, pairs, worker,
		batch.WithConcurrency(r.o.cfg.Concurrency),
		batch.WithProgress(func(done, total int) {
			r.status(fmt.Sprintf("Resource search: %d/%d roles", done, total))
		}))

	added := 0
	for i, out := range outs {
		p := pairs[i]
		if !out.OK() {
			slog.Warn("orchestrator: resource discovery failed", "activity", p.activityID, "role", p.roleID, "error", out.Err)
			r.logErr(fmt.Sprintf("no resources found for %s/%s", p.activityID, p.roleID), out.Err)
			continue
		}
		if len(out.Value.materials) == 0 {
			continue
		}
		if defaultEnv != "" && p.envID == defaultEnv && r.plan.Environment(defaultEnv) == nil {
			r.plan.Environments = append(r.plan.Environments, normalize.DefaultEnvironment(defaultEnv))
		}
		added += mergeMaterials(r.plan, p, out.Value.materials)
	}
	ok, failed := batch.Tally(outs)
	r.log(fmt.Sprintf("resource search: %d roles done, %d failed, %d materials added", ok, failed, added))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// collectPairs lists every role with the environment its materials go to.
// Roles without a resolvable environment share one synthesized default
// environment whose id is returned.
func collectPairs(p *model.Plan) ([]pair, string) {
	taken := map[string]bool{}
	for _, e := range p.Environments {
		taken[e.ID] = true
	}
	var defaultEnv string
	subject := cmp.Or(p.Metadata.Subject, p.Context.Subject)
	level := p.Metadata.EducationLevel

	var pairs []pair
	p.WalkRoles(func(a *model.Activity, role *model.Role) bool {
		envID := ""
		if u := role.LearningEnvironment; u != nil && p.Environment(u.EnvironmentID) != nil {
			envID = u.EnvironmentID
		}
		if envID == "" {
			if defaultEnv == "" {
				defaultEnv = nextEnvID(taken)
			}
			envID = defaultEnv
		}
		lead := false
		if actor := p.Actor(role.ActorID); actor != nil {
			lead = actor.RoleHint == model.HintLead
		}
		pairs = append(pairs, pair{
			activityID:          a.ID,
			activityName:        a.Name,
			activityDescription: a.Description,
			roleID:              role.ID,
			roleName:            role.Name,
			task:                role.TaskDescription,
			envID:               envID,
			lead:                lead,
			subject:             subject,
			level:               level,
		})
		return true
	})
	return pairs, defaultEnv
}

func nextEnvID(taken map[string]bool) string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("ENV%d", n)
		if !taken[id] {
			taken[id] = true
			return id
		}
	}
}

func (r *run) discover(ctx context.Context, p pair) (discovery, error) {
	sugs, err := r.suggest(ctx, p)
	if err != nil {
		return discovery{}, err
	}

	var cands []candidate
	seen := map[string]bool{}
	for _, s := range sugs {
		nodes, err := r.search(ctx, p, s)
		if err != nil {
			return discovery{}, err
		}
		for _, n := range nodes {
			key := nodeKey(n)
			if seen[key] {
				continue
			}
			seen[key] = true
			cands = append(cands, candidate{node: n, category: s.Category})
		}
	}
	if len(cands) == 0 {
		return discovery{}, nil
	}

	top := r.top(ctx, p, cands)
	mats := make([]model.Resource, 0, len(top))
	for _, c := range top {
		mats = append(mats, material(c))
	}
	return discovery{materials: mats}, nil
}

// suggest asks for up to two search terms. An unusable answer falls back
// to the activity name.
func (r *run) suggest(ctx context.Context, p pair) ([]suggestion, error) {
	text, err := r.ask(ctx, suggestionSystem, suggestionPrompt(p))
	if err != nil {
		return nil, err
	}
	var answer any
	if err := repair.Decode(text, &answer); err != nil {
		return nil, err
	}
	sugs := suggestions(answer)
	if len(sugs) == 0 && p.activityName != "" {
		sugs = []suggestion{{Term: p.activityName}}
	}
	return sugs, nil
}

// suggestions reads {"suggestions": [...]} where items are objects or bare
// strings.
func suggestions(answer any) []suggestion {
	list, ok := answer.([]any)
	if !ok {
		m, _ := answer.(map[string]any)
		list, _ = m["suggestions"].([]any)
	}
	var out []suggestion
	for _, it := range list {
		var s suggestion
		switch v := it.(type) {
		case string:
			s.Term = v
		case map[string]any:
			s.Term, _ = v["term"].(string)
			s.Category, _ = v["category"].(string)
		}
		s.Term = strings.TrimSpace(s.Term)
		if s.Term == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// search queries the repository with every enabled filter and retries
// without filters when nothing matches.
func (r *run) search(ctx context.Context, p pair, s suggestion) ([]catalog.Node, error) {
	cfg := r.o.cfg
	text := catalog.Criterion{Property: catalog.PropertyText, Value: s.Term}
	q := catalog.Query{
		Criteria:   []catalog.Criterion{text},
		MaxResults: cfg.MaxCandidates,
		Combine:    catalog.CombineAnd,
	}
	filtered := false
	if s.Category != "" {
		q.Criteria = append(q.Criteria, catalog.Criterion{Property: catalog.PropertyCategory, Value: s.Category})
		filtered = true
	}
	if cfg.FilterBySubject && p.subject != "" {
		q.Criteria = append(q.Criteria, catalog.Criterion{Property: catalog.PropertySubject, Value: p.subject})
		filtered = true
	}
	if cfg.FilterByLevel && p.level != "" {
		q.Criteria = append(q.Criteria, catalog.Criterion{Property: catalog.PropertyLevel, Value: p.level})
		filtered = true
	}

	nodes, err := r.o.repo.Search(ctx, q)
	if err != nil || len(nodes) > 0 || !filtered {
		return nodes, err
	}
	slog.Debug("orchestrator: no filtered candidates, retrying unfiltered", "term", s.Term)
	q.Criteria = []catalog.Criterion{text}
	return r.o.repo.Search(ctx, q)
}

// top keeps every candidate when there are at most TopK of them. Otherwise
// the model ranks them, and lexical fusion ranks them if that call fails.
func (r *run) top(ctx context.Context, p pair, cands []candidate) []candidate {
	k := r.o.cfg.TopK
	if len(cands) <= k {
		for i := range cands {
			cands[i].node.Score = flatScore
		}
		return cands
	}
	picked, err := r.score(ctx, p, cands, k)
	if err == nil {
		return picked
	}
	slog.Debug("orchestrator: scoring failed, ranking lexically", "activity", p.activityID, "error", err)

	nodes := make([]catalog.Node, len(cands))
	byNode := make(map[string]candidate, len(cands))
	for i, c := range cands {
		nodes[i] = c.node
		byNode[nodeKey(c.node)] = c
	}
	order := catalog.Rank(strings.Join([]string{p.activityName, p.activityDescription, p.task}, " "), nodes, k)
	out := make([]candidate, 0, len(order))
	for _, n := range order {
		c := byNode[nodeKey(n)]
		c.node.Score = n.Score
		out = append(out, c)
	}
	return out
}

var errNoRanking = errors.New("answer ranks no candidate")

type ranked struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (r *run) score(ctx context.Context, p pair, cands []candidate, k int) ([]candidate, error) {
	text, err := r.ask(ctx, scoringSystem, scoringPrompt(p, cands, k))
	if err != nil {
		return nil, err
	}
	var answer struct {
		Ranking []ranked `json:"ranking"`
	}
	if err := repair.Decode(text, &answer); err != nil {
		return nil, err
	}
	slices.SortStableFunc(answer.Ranking, func(a, b ranked) int {
		return cmp.Compare(b.Score, a.Score)
	})

	var out []candidate
	used := map[int]bool{}
	for _, rk := range answer.Ranking {
		i := rk.Index - 1
		if i < 0 || i >= len(cands) || used[i] {
			continue
		}
		used[i] = true
		c := cands[i]
		c.node.Score = rk.Score
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	if len(out) == 0 {
		return nil, errNoRanking
	}
	return out, nil
}

func nodeKey(n catalog.Node) string {
	return cmp.Or(n.ID, n.URL, n.Title)
}

// material turns a catalog candidate into a new external-catalog material.
func material(c candidate) model.Resource {
	n := c.node
	return model.Resource{
		ID:       normalize.ResourceID(model.KindMaterial),
		Name:     cmp.Or(n.Title, n.URL, "Catalog resource"),
		Category: cmp.Or(c.category, "document"),
		Source:   model.SourceExternalCatalog,
		Catalog: &model.CatalogRecord{
			NodeID:      n.ID,
			Title:       n.Title,
			Description: n.Description,
			URL:         n.URL,
			PreviewURL:  n.PreviewURL,
			Subjects:    nonNil(n.Subjects),
			Levels:      nonNil(n.Levels),
			Score:       n.Score,
		},
	}
}

// mergeMaterials appends new materials to the pair's environment and
// unions their ids into the role's selection. A catalog node already held
// by the environment is reused instead of added twice. It returns the
// number of materials added.
func mergeMaterials(p *model.Plan, pr pair, mats []model.Resource) int {
	env := p.Environment(pr.envID)
	a := p.Activity(pr.activityID)
	if env == nil || a == nil {
		return 0
	}
	var role *model.Role
	for i := range a.Roles {
		if a.Roles[i].ID == pr.roleID {
			role = &a.Roles[i]
		}
	}
	if role == nil {
		return 0
	}

	added := 0
	ids := make([]string, 0, len(mats))
	for _, m := range mats {
		if id := catalogMaterial(env, m.Catalog); id != "" {
			ids = append(ids, id)
			continue
		}
		env.Materials = append(env.Materials, m)
		ids = append(ids, m.ID)
		added++
	}

	u := role.LearningEnvironment
	if u == nil || u.EnvironmentID != env.ID {
		u = &model.EnvironmentUsage{
			EnvironmentID:     env.ID,
			SelectedMaterials: []string{},
			SelectedTools:     []string{},
			SelectedServices:  []string{},
		}
		role.LearningEnvironment = u
	}
	for _, id := range ids {
		if !slices.Contains(u.SelectedMaterials, id) {
			u.SelectedMaterials = append(u.SelectedMaterials, id)
		}
	}
	return added
}

func catalogMaterial(env *model.Environment, rec *model.CatalogRecord) string {
	if rec == nil || rec.NodeID == "" {
		return ""
	}
	for _, m := range env.Materials {
		if m.Catalog != nil && m.Catalog.NodeID == rec.NodeID {
			return m.ID
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
