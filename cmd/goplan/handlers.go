package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/goplan"
	"github.com/brunobiangulo/goplan/graph"
	"github.com/brunobiangulo/goplan/ident"
)

// maxPlanBytes caps an imported plan document.
const maxPlanBytes = 10 << 20

type handler struct {
	engine goplan.Engine
}

func newHandler(e goplan.Engine) *handler {
	return &handler{engine: e}
}

// POST /plans
// The body is a plan document in any shape the normalizer accepts.
func (h *handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPlanBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	p, err := h.engine.Import(r.Context(), data)
	if err != nil {
		writeEngineError(w, "import failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GET /plans
func (h *handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.engine.ListPlans(r.Context())
	if err != nil {
		writeEngineError(w, "failed to list plans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

// GET /plans/{id}
func (h *handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to load plan", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DELETE /plans/{id}
func (h *handler) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeletePlan(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, "delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /plans/{id}/nodes
func (h *handler) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
		Level    string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	level := ident.ParseLevel(req.Level)
	if level == ident.LevelUnknown {
		writeError(w, http.StatusBadRequest, "level must be sequence, phase, activity or role")
		return
	}

	id, err := h.engine.AddNode(r.Context(), r.PathValue("id"), req.ParentID, level)
	if err != nil {
		writeEngineError(w, "add failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "level": level.String()})
}

// PATCH /plans/{id}/nodes/{node}
func (h *handler) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var patch graph.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.engine.UpdateNode(r.Context(), r.PathValue("id"), r.PathValue("node"), patch); err != nil {
		writeEngineError(w, "update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DELETE /plans/{id}/nodes/{node}
func (h *handler) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteNode(r.Context(), r.PathValue("id"), r.PathValue("node")); err != nil {
		writeEngineError(w, "delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /plans/{id}/nodes/{node}
func (h *handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node")
	n, err := h.engine.Node(r.Context(), r.PathValue("id"), nodeID)
	if err != nil {
		writeEngineError(w, "failed to load node", err)
		return
	}
	var body any
	switch {
	case n.Role != nil:
		body = n.Role
	case n.Activity != nil:
		body = n.Activity
	case n.Phase != nil:
		body = n.Phase
	default:
		body = n.Sequence
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    nodeID,
		"level": n.Level.String(),
		"node":  body,
	})
}

// POST /plans/{id}/chain
// Links the children of parent_id in order; an empty parent_id chains the
// sequences.
func (h *handler) handleChainSiblings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.engine.ChainSiblings(r.Context(), r.PathValue("id"), req.ParentID); err != nil {
		writeEngineError(w, "chain failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "chained"})
}

// DELETE /plans/{id}/actors/{actor}
func (h *handler) handleDeleteActor(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteActor(r.Context(), r.PathValue("id"), r.PathValue("actor")); err != nil {
		writeEngineError(w, "delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DELETE /plans/{id}/environments/{environment}
func (h *handler) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteEnvironment(r.Context(), r.PathValue("id"), r.PathValue("environment")); err != nil {
		writeEngineError(w, "delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// PUT /plans/{id}/nodes/{node}/prerequisite
// An empty list clears the link.
func (h *handler) handleSetPrerequisite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prerequisites []string `json:"prerequisites"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err := h.engine.SetPrerequisite(r.Context(), r.PathValue("id"), r.PathValue("node"), req.Prerequisites...)
	if err != nil {
		writeEngineError(w, "link failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// generateResponse adds the run error, which the result does not encode.
type generateResponse struct {
	*goplan.Generation
	Error string `json:"error,omitempty"`
}

// POST /plans/{id}/generate
func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req goplan.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// References name files under the server's reference directory.
	for _, ref := range req.References {
		if !filepath.IsLocal(ref) {
			writeError(w, http.StatusForbidden, "reference must be a relative path inside the reference directory: "+ref)
			return
		}
	}
	planID := r.PathValue("id")
	req.Status = func(s string) {
		slog.Debug("generation status", "plan", planID, "status", s)
	}

	gen, err := h.engine.Generate(ctx, planID, req)
	switch {
	case errors.Is(err, goplan.ErrGenerationFailed) && gen != nil:
		slog.Error("generation aborted", "plan", planID, "error", err)
		writeJSON(w, http.StatusBadGateway, generateResponse{Generation: gen, Error: gen.Err.Error()})
	case errors.Is(err, goplan.ErrPlanChanged) && gen != nil:
		writeJSON(w, http.StatusConflict, generateResponse{Generation: gen, Error: err.Error()})
	case err != nil:
		writeEngineError(w, "generation failed", err)
	default:
		resp := generateResponse{Generation: gen}
		if gen.Err != nil {
			resp.Error = gen.Err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GET /plans/{id}/runs
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.engine.Runs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	var linkErr *graph.InvalidLinkError
	switch {
	case errors.Is(err, goplan.ErrPlanNotFound), errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.As(err, &linkErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, goplan.ErrReferenceDenied):
		return http.StatusForbidden
	case errors.Is(err, goplan.ErrPlanChanged):
		return http.StatusConflict
	case errors.Is(err, graph.ErrLevelMismatch),
		errors.Is(err, graph.ErrUnknownReference),
		errors.Is(err, graph.ErrInvalidValue),
		errors.Is(err, goplan.ErrInvalidPlan),
		errors.Is(err, goplan.ErrUnsupportedFormat),
		errors.Is(err, goplan.ErrParsingFailed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError reports client errors verbatim and hides internal ones.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
