// Package goplan stores lesson plans, applies structural edits through the
// consistency rules of the graph package and runs the generation pipeline
// against a configured language model and resource catalog.
package goplan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/brunobiangulo/goplan/catalog"
	"github.com/brunobiangulo/goplan/graph"
	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/llm"
	"github.com/brunobiangulo/goplan/normalize"
	"github.com/brunobiangulo/goplan/orchestrator"
	"github.com/brunobiangulo/goplan/parser"
	"github.com/brunobiangulo/goplan/store"
)

// Engine is the main entry point for plan editing and generation.
type Engine interface {
	// Import normalizes a plan document of any shape and stores it.
	Import(ctx context.Context, data []byte) (*store.Plan, error)

	// Plan loads a stored plan.
	Plan(ctx context.Context, id string) (*store.Plan, error)

	// ListPlans returns all stored plans.
	ListPlans(ctx context.Context) ([]store.PlanSummary, error)

	// DeletePlan removes a plan and its run history.
	DeletePlan(ctx context.Context, id string) error

	// AddNode appends a default child of the given level under parentID
	// and returns the new id. Sequences use parentID "".
	AddNode(ctx context.Context, planID, parentID string, level ident.Level) (string, error)

	// UpdateNode applies a field patch to one node.
	UpdateNode(ctx context.Context, planID, nodeID string, patch graph.Patch) error

	// DeleteNode removes a node with its subtree and every link to it.
	DeleteNode(ctx context.Context, planID, nodeID string) error

	// SetPrerequisite replaces the prerequisites of a node. No ids clears
	// the link.
	SetPrerequisite(ctx context.Context, planID, nodeID string, prereqs ...string) error

	// Node returns one node of a stored plan.
	Node(ctx context.Context, planID, nodeID string) (graph.Node, error)

	// ChainSiblings links the children of parentID in order, each after
	// its predecessor. parentID "" chains the sequences.
	ChainSiblings(ctx context.Context, planID, parentID string) error

	// DeleteActor removes an actor and every role bound to it.
	DeleteActor(ctx context.Context, planID, actorID string) error

	// DeleteEnvironment removes an environment and clears its usages.
	DeleteEnvironment(ctx context.Context, planID, envID string) error

	// Generate runs the generation pipeline on a stored plan, saves the
	// resulting plan and records the run.
	Generate(ctx context.Context, planID string, req GenerateRequest) (*Generation, error)

	// Runs lists the recorded runs of a plan, newest first.
	Runs(ctx context.Context, planID string) ([]store.Run, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// GenerateRequest describes one generation run.
type GenerateRequest struct {
	Intent string `json:"intent"`
	// References name documents (pdf, xlsx, txt, md) under
	// Config.ReferenceDir that ground the draft.
	References []string `json:"references,omitempty"`
	// Paths are documents read as given. Only local callers set them.
	Paths []string `json:"-"`
	// Status receives progress strings while the run is going.
	Status func(string) `json:"-"`
}

// Generation is a finished run as recorded in the store.
type Generation struct {
	RunID string `json:"run_id"`
	*orchestrator.Result
}

// Option configures the engine.
type Option func(*options)

type options struct {
	chat llm.Provider
	repo catalog.Repository
}

// WithProvider replaces the provider built from Config.Chat.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithRepository replaces the catalog built from the config.
func WithRepository(r catalog.Repository) Option {
	return func(o *options) { o.repo = r }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	store   *store.Store
	parsers *parser.Registry
	orch    *orchestrator.Orchestrator

	// mu serializes load-modify-save cycles on stored plans.
	mu sync.Mutex
}

// New creates a goplan engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.chat == nil {
		p, err := llm.NewProvider(cfg.Chat)
		if err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		o.chat = p
	}
	if o.repo == nil {
		switch {
		case cfg.CatalogFile != "":
			static, err := loadCatalogFile(cfg.CatalogFile)
			if err != nil {
				return nil, err
			}
			o.repo = static
		case cfg.Catalog.BaseURL != "":
			o.repo = catalog.NewHTTP(cfg.Catalog)
		}
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &engine{
		cfg:     cfg,
		store:   s,
		parsers: parser.NewRegistry(),
		orch:    orchestrator.New(o.chat, o.repo, cfg.Generation),
	}, nil
}

// Import normalizes and stores a plan document.
func (e *engine) Import(ctx context.Context, data []byte) (*store.Plan, error) {
	plan, err := normalize.JSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := graph.Validate(plan); err != nil {
		slog.Warn("goplan: normalized plan still violates invariants", "error", err)
	}
	id, err := e.store.SavePlan(ctx, "", plan, nil)
	if err != nil {
		return nil, err
	}
	slog.Info("goplan: plan imported", "plan", id, "title", plan.Metadata.Title,
		"sequences", len(plan.Sequences()))
	return e.Plan(ctx, id)
}

func (e *engine) Plan(ctx context.Context, id string) (*store.Plan, error) {
	p, err := e.store.GetPlan(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p, err
}

func (e *engine) ListPlans(ctx context.Context) ([]store.PlanSummary, error) {
	return e.store.ListPlans(ctx)
}

func (e *engine) DeletePlan(ctx context.Context, id string) error {
	err := e.store.DeletePlan(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return err
}

func (e *engine) AddNode(ctx context.Context, planID, parentID string, level ident.Level) (string, error) {
	var id string
	err := e.edit(ctx, planID, func(m *graph.Manager) error {
		var err error
		id, err = m.AddChild(parentID, level)
		return err
	})
	return id, err
}

func (e *engine) UpdateNode(ctx context.Context, planID, nodeID string, patch graph.Patch) error {
	return e.edit(ctx, planID, func(m *graph.Manager) error {
		return m.UpdateNode(nodeID, patch)
	})
}

func (e *engine) DeleteNode(ctx context.Context, planID, nodeID string) error {
	return e.edit(ctx, planID, func(m *graph.Manager) error {
		return m.DeleteNode(nodeID)
	})
}

func (e *engine) SetPrerequisite(ctx context.Context, planID, nodeID string, prereqs ...string) error {
	return e.edit(ctx, planID, func(m *graph.Manager) error {
		return m.SetPrerequisite(nodeID, prereqs...)
	})
}

func (e *engine) Node(ctx context.Context, planID, nodeID string) (graph.Node, error) {
	p, err := e.Plan(ctx, planID)
	if err != nil {
		return graph.Node{}, err
	}
	n, ok := graph.Resume(p.Document, p.Retired).Find(nodeID)
	if !ok {
		return graph.Node{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, nodeID)
	}
	return n, nil
}

func (e *engine) ChainSiblings(ctx context.Context, planID, parentID string) error {
	return e.edit(ctx, planID, func(m *graph.Manager) error {
		return m.ChainSiblings(parentID)
	})
}

func (e *engine) DeleteActor(ctx context.Context, planID, actorID string) error {
	return e.edit(ctx, planID, func(m *graph.Manager) error {
		return m.DeleteActor(actorID)
	})
}

func (e *engine) DeleteEnvironment(ctx context.Context, planID, envID string) error {
	return e.edit(ctx, planID, func(m *graph.Manager) error {
		return m.DeleteEnvironment(envID)
	})
}

// edit loads a plan, applies fn through a manager that remembers the
// plan's retired ids and saves the result. Nothing is saved when fn fails.
func (e *engine) edit(ctx context.Context, planID string, fn func(*graph.Manager) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.Plan(ctx, planID)
	if err != nil {
		return err
	}
	m := graph.Resume(p.Document, p.Retired)
	if err := fn(m); err != nil {
		return err
	}
	_, err = e.store.SavePlan(ctx, planID, m.Plan(), m.Retired())
	return err
}

// Generate runs the pipeline on a copy of the stored plan. Whatever state
// the run ends in, the plan it returns is saved: on abort or cancellation
// that is the last state every finished phase agreed on. When the stored
// plan was edited while the run was going, nothing is saved and the error
// matches ErrPlanChanged; the generation still carries the run's plan.
func (e *engine) Generate(ctx context.Context, planID string, req GenerateRequest) (*Generation, error) {
	p, err := e.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	paths, err := e.referencePaths(req.References)
	if err != nil {
		return nil, err
	}
	refs, err := e.references(ctx, append(paths, req.Paths...))
	if err != nil {
		return nil, err
	}

	res := e.orch.Run(ctx, p.Document, orchestrator.Request{
		Intent:     req.Intent,
		References: refs,
		Retired:    p.Retired,
		Status:     req.Status,
	})

	// The run may have been cancelled; persisting its outcome must not be.
	saveCtx := context.WithoutCancel(ctx)
	changed, err := e.saveGenerated(saveCtx, p, res)
	if err != nil {
		return nil, err
	}

	runID, err := e.store.InsertRun(saveCtx, runRecord(planID, req.Intent, res))
	if err != nil {
		return nil, err
	}
	gen := &Generation{RunID: runID, Result: res}
	slog.Info("goplan: generation finished", "plan", planID, "run", runID,
		"state", res.State, "tokens", res.TotalTokens, "elapsed_ms", res.ElapsedMs, "saved", !changed)

	switch {
	case res.State == orchestrator.StateAborted:
		return gen, fmt.Errorf("%w: %w", ErrGenerationFailed, res.Err)
	case changed:
		return gen, fmt.Errorf("%w: %s", ErrPlanChanged, planID)
	}
	return gen, nil
}

// saveGenerated stores the run's plan unless the stored plan no longer
// matches the one the run started from. It reports whether it was changed.
func (e *engine) saveGenerated(ctx context.Context, before *store.Plan, res *orchestrator.Result) (bool, error) {
	if res.Plan == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.Plan(ctx, before.ID)
	if err != nil {
		return false, err
	}
	if current.ContentHash != before.ContentHash {
		slog.Warn("goplan: plan edited during generation, result not saved", "plan", before.ID)
		return true, nil
	}
	retired := append(slices.Clone(current.Retired), res.Retired...)
	_, err = e.store.SavePlan(ctx, before.ID, res.Plan, retired)
	return false, err
}

// referencePaths resolves reference names under Config.ReferenceDir. A name
// that is absolute, climbs out with "..", or leaves the directory through a
// symlink is rejected.
func (e *engine) referencePaths(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if e.cfg.ReferenceDir == "" {
		return nil, fmt.Errorf("%w: no reference directory configured", ErrReferenceDenied)
	}
	root, err := os.OpenRoot(e.cfg.ReferenceDir)
	if err != nil {
		return nil, fmt.Errorf("opening reference directory: %w", err)
	}
	defer root.Close()

	paths := make([]string, 0, len(names))
	for _, name := range names {
		if !filepath.IsLocal(name) {
			return nil, fmt.Errorf("%w: %s", ErrReferenceDenied, name)
		}
		_, err := root.Stat(name)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s: %w", ErrParsingFailed, name, err)
		case err != nil:
			return nil, fmt.Errorf("%w: %s: %w", ErrReferenceDenied, name, err)
		}
		paths = append(paths, filepath.Join(e.cfg.ReferenceDir, name))
	}
	return paths, nil
}

// references parses reference documents into prompt text.
func (e *engine) references(ctx context.Context, paths []string) ([]orchestrator.Reference, error) {
	var refs []orchestrator.Reference
	for _, path := range paths {
		doc, err := e.parsers.Parse(ctx, path)
		switch {
		case errors.Is(err, parser.ErrUnsupported):
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
		case err != nil:
			return nil, fmt.Errorf("%w: %s: %w", ErrParsingFailed, path, err)
		}
		refs = append(refs, orchestrator.Reference{Name: doc.Name, Text: doc.Text(e.cfg.MaxReferenceChars)})
	}
	return refs, nil
}

func runRecord(planID, intent string, res *orchestrator.Result) store.Run {
	r := store.Run{
		PlanID:      planID,
		Intent:      intent,
		State:       string(res.State),
		Phase:       res.Phase,
		TotalTokens: res.TotalTokens,
		ElapsedMs:   res.ElapsedMs,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	for _, entry := range res.Log {
		r.Events = append(r.Events, store.Event{
			Time:    entry.Time,
			Phase:   entry.Phase,
			Message: entry.Message,
			Error:   entry.Error,
		})
	}
	return r
}

func (e *engine) Runs(ctx context.Context, planID string) ([]store.Run, error) {
	if _, err := e.Plan(ctx, planID); err != nil {
		return nil, err
	}
	return e.store.ListRuns(ctx, planID)
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}
