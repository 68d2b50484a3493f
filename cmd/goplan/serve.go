package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goplan"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plan API over HTTP",
		Long: `Serve the plan API over HTTP.

GOPLAN_API_KEY enables bearer-token authentication and GOPLAN_CORS_ORIGINS
sets the allowed CORS origins. Generate requests may only name reference
documents inside reference_dir (GOPLAN_REFERENCE_DIR).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			engine, err := goplan.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()
			return serve(addr, engine, os.Getenv("GOPLAN_API_KEY"), os.Getenv("GOPLAN_CORS_ORIGINS"))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// newMux registers the API routes.
func newMux(h *handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /plans", h.handleCreatePlan)
	mux.HandleFunc("GET /plans", h.handleListPlans)
	mux.HandleFunc("GET /plans/{id}", h.handleGetPlan)
	mux.HandleFunc("DELETE /plans/{id}", h.handleDeletePlan)
	mux.HandleFunc("POST /plans/{id}/nodes", h.handleAddNode)
	mux.HandleFunc("GET /plans/{id}/nodes/{node}", h.handleGetNode)
	mux.HandleFunc("PATCH /plans/{id}/nodes/{node}", h.handleUpdateNode)
	mux.HandleFunc("DELETE /plans/{id}/nodes/{node}", h.handleDeleteNode)
	mux.HandleFunc("PUT /plans/{id}/nodes/{node}/prerequisite", h.handleSetPrerequisite)
	mux.HandleFunc("POST /plans/{id}/chain", h.handleChainSiblings)
	mux.HandleFunc("DELETE /plans/{id}/actors/{actor}", h.handleDeleteActor)
	mux.HandleFunc("DELETE /plans/{id}/environments/{environment}", h.handleDeleteEnvironment)
	mux.HandleFunc("POST /plans/{id}/generate", h.handleGenerate)
	mux.HandleFunc("GET /plans/{id}/runs", h.handleListRuns)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// newServer wraps the routes in the middleware chain:
// recovery -> cors -> auth -> logging -> mux.
func newServer(engine goplan.Engine, apiKey, corsOrigins string) http.Handler {
	var handler http.Handler = newMux(newHandler(engine))
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

func serve(addr string, engine goplan.Engine, apiKey, corsOrigins string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      newServer(engine, apiKey, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // generation runs can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		slog.Error("server error", "error", err)
		return err
	case <-done:
	}
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
