// Package orchestrator runs the generation pipeline over one lesson plan.
// Four optional phases (draft, role-environment linking, accommodations and
// resource discovery) run in order with a strict barrier between them. Batch
// phases fan out through package batch and merge their results into the
// working plan once a window has resolved.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/brunobiangulo/goplan/catalog"
	"github.com/brunobiangulo/goplan/llm"
	"github.com/brunobiangulo/goplan/model"
)

// Phase names.
const (
	PhaseDraft          = "draft"
	PhaseLinking        = "link-environments"
	PhaseAccommodations = "accommodations"
	PhaseDiscovery      = "discover-resources"
)

// State is the lifecycle of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateCancelled State = "cancelled"
)

// Config holds orchestrator configuration.
type Config struct {
	Draft             bool `json:"draft" yaml:"draft"`
	LinkEnvironments  bool `json:"link_environments" yaml:"link_environments"`
	Accommodations    bool `json:"accommodations" yaml:"accommodations"`
	DiscoverResources bool `json:"discover_resources" yaml:"discover_resources"`

	Concurrency     int        `json:"concurrency" yaml:"concurrency"`
	MaxCandidates   int        `json:"max_candidates" yaml:"max_candidates"`
	TopK            int        `json:"top_k" yaml:"top_k"`
	FilterBySubject bool       `json:"filter_by_subject" yaml:"filter_by_subject"`
	FilterByLevel   bool       `json:"filter_by_level" yaml:"filter_by_level"`
	MaxOutputTokens int        `json:"max_output_tokens" yaml:"max_output_tokens"`
	Effort          llm.Effort `json:"effort" yaml:"effort"`
}

// DefaultConfig enables every phase.
func DefaultConfig() Config {
	return Config{
		Draft:             true,
		LinkEnvironments:  true,
		Accommodations:    true,
		DiscoverResources: true,
		Concurrency:       20,
		MaxCandidates:     30,
		TopK:              3,
		MaxOutputTokens:   16000,
		Effort:            llm.EffortMedium,
	}
}

// Reference is a source document whose text grounds the draft.
type Reference struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Request is the input of one run besides the plan.
type Request struct {
	// Intent is the user's free-text description of what to build.
	Intent     string
	References []Reference
	// Retired lists ids deleted from the plan before this run. They are
	// never handed out again.
	Retired []string
	// Status receives human-readable progress strings. It is advisory.
	Status func(string)
}

// Entry is one line of the run log.
type Entry struct {
	Time    time.Time `json:"time"`
	Phase   string    `json:"phase"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	State State `json:"state"`
	// Phase is the phase running when the run stopped, empty on completion.
	Phase string `json:"phase,omitempty"`
	// Step and Steps count enabled phases: Step of Steps is running.
	Step        int         `json:"step"`
	Steps       int         `json:"steps"`
	Plan        *model.Plan `json:"plan"`
	Err         error       `json:"-"`
	Log         []Entry     `json:"log"`
	Retired     []string    `json:"retired,omitempty"` // ids the run removed from the plan
	TotalTokens int64       `json:"total_tokens"`
	ElapsedMs   int64       `json:"elapsed_ms"`
}

// Orchestrator runs the pipeline. It holds no per-run state and may run
// several plans concurrently.
type Orchestrator struct {
	chat llm.Provider
	repo catalog.Repository
	cfg  Config
}

// New creates an orchestrator. repo may be nil when resource discovery is
// disabled.
func New(chat llm.Provider, repo catalog.Repository, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	return &Orchestrator{chat: chat, repo: repo, cfg: cfg}
}

// run carries the state of one Run call. Only the control goroutine
// touches plan and res; workers read the snapshot they were given.
type run struct {
	o      *Orchestrator
	req    Request
	plan   *model.Plan
	res    *Result
	phase  string
	tokens atomic.Int64

	// seen holds every id the working plan has carried; retired the ones
	// that are gone, including req.Retired.
	seen    map[string]bool
	retired map[string]bool
}

type phaseFunc func(ctx context.Context, r *run) error

// Run executes the enabled phases against a deep copy of plan. The input
// plan is never modified. Run always returns a Result: on abort its Plan
// holds the last state every completed phase agreed on.
func (o *Orchestrator) Run(ctx context.Context, plan *model.Plan, req Request) *Result {
	start := time.Now()
	res := &Result{State: StateIdle}
	r := &run{o: o, req: req, res: res}

	var err error
	if plan == nil {
		plan = &model.Plan{}
	}
	if r.plan, err = plan.Clone(); err != nil {
		return r.finish(StateAborted, fmt.Errorf("copying plan: %w", err), start)
	}
	res.Plan = r.plan
	r.seen = nodeIDs(r.plan)
	r.retired = make(map[string]bool, len(req.Retired))
	for _, id := range req.Retired {
		r.retired[id] = true
	}
	if o.chat == nil {
		return r.finish(StateAborted, ErrNoProvider, start)
	}

	type step struct {
		name string
		fn   phaseFunc
	}
	var steps []step
	if o.cfg.Draft {
		steps = append(steps, step{PhaseDraft, draftPhase})
	}
	if o.cfg.LinkEnvironments {
		steps = append(steps, step{PhaseLinking, linkingPhase})
	}
	if o.cfg.Accommodations {
		steps = append(steps, step{PhaseAccommodations, accommodationPhase})
	}
	if o.cfg.DiscoverResources {
		steps = append(steps, step{PhaseDiscovery, discoveryPhase})
	}
	res.Steps = len(steps)
	res.State = StateRunning

	for i, s := range steps {
		if ctx.Err() != nil {
			return r.finish(StateCancelled, ErrCancelled, start)
		}
		r.phase = s.name
		res.Phase = s.name
		res.Step = i + 1
		r.status(fmt.Sprintf("Phase %d/%d: %s", i+1, len(steps), s.name))
		slog.Info("orchestrator: phase starting", "phase", s.name, "step", i+1, "of", len(steps))

		phaseStart := time.Now()
		err := s.fn(ctx, r)
		r.track()
		var (
			sk skipped
			ab abandoned
		)
		switch {
		case errors.Is(err, ErrCancelled), err != nil && ctx.Err() != nil:
			return r.finish(StateCancelled, ErrCancelled, start)
		case errors.As(err, &sk):
			r.log("phase skipped: " + sk.reason)
		case errors.As(err, &ab):
			r.logErr("phase failed, plan left unchanged", ab.err)
			slog.Warn("orchestrator: phase failed", "phase", s.name, "error", ab.err)
		case err != nil:
			return r.finish(StateAborted, &PhaseError{Phase: s.name, Err: err}, start)
		default:
			r.log(fmt.Sprintf("phase completed in %s", time.Since(phaseStart).Round(time.Millisecond)))
		}
		slog.Info("orchestrator: phase completed", "phase", s.name,
			"elapsed", time.Since(phaseStart).Round(time.Millisecond))
	}
	res.Phase = ""
	return r.finish(StateCompleted, nil, start)
}

func (r *run) finish(state State, err error, start time.Time) *Result {
	r.res.State = state
	r.res.Err = err
	r.res.TotalTokens = r.tokens.Load()
	r.res.ElapsedMs = time.Since(start).Milliseconds()
	for id := range r.retired {
		if !slices.Contains(r.req.Retired, id) {
			r.res.Retired = append(r.res.Retired, id)
		}
	}
	slices.Sort(r.res.Retired)
	switch state {
	case StateAborted:
		r.logErr("run aborted", err)
		r.status("Aborted: " + err.Error())
		slog.Warn("orchestrator: run aborted", "phase", r.phase, "error", err)
	case StateCancelled:
		r.log("run cancelled")
		r.status("Cancelled")
		slog.Info("orchestrator: run cancelled", "phase", r.phase)
	case StateCompleted:
		r.log("run completed")
		r.status("Completed")
		slog.Info("orchestrator: run completed", "tokens", r.res.TotalTokens, "elapsed_ms", r.res.ElapsedMs)
	}
	return r.res
}

// track retires every id the working plan no longer holds.
func (r *run) track() {
	current := nodeIDs(r.plan)
	for id := range r.seen {
		if !current[id] {
			r.retired[id] = true
		}
	}
	maps.Copy(r.seen, current)
}

func (r *run) isRetired(id string) bool {
	return r.retired[id]
}

// nodeIDs collects the ids of every sequence, phase, activity and role.
func nodeIDs(p *model.Plan) map[string]bool {
	ids := map[string]bool{}
	for _, s := range p.Solution.DidacticTemplate.LearningSequences {
		ids[s.ID] = true
		for _, ph := range s.Phases {
			ids[ph.ID] = true
			for _, a := range ph.Activities {
				ids[a.ID] = true
				for _, role := range a.Roles {
					ids[role.ID] = true
				}
			}
		}
	}
	delete(ids, "")
	return ids
}

func (r *run) status(msg string) {
	if r.req.Status != nil {
		r.req.Status(msg)
	}
}

func (r *run) log(msg string) {
	r.res.Log = append(r.res.Log, Entry{Time: time.Now(), Phase: r.phase, Message: msg})
}

func (r *run) logErr(msg string, err error) {
	e := Entry{Time: time.Now(), Phase: r.phase, Message: msg}
	if err != nil {
		e.Error = err.Error()
	}
	r.res.Log = append(r.res.Log, e)
}

// ask sends one JSON-mode request and returns the first text segment.
func (r *run) ask(ctx context.Context, system, user string) (string, error) {
	resp, err := r.o.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{llm.System(system), llm.User(user)},
		MaxTokens:      r.o.cfg.MaxOutputTokens,
		Effort:         r.o.cfg.Effort,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return "", err
	}
	r.tokens.Add(int64(resp.TotalTokens))
	return llm.Text(resp)
}
