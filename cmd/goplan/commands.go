package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goplan"
	"github.com/brunobiangulo/goplan/graph"
	"github.com/brunobiangulo/goplan/model"
	"github.com/brunobiangulo/goplan/normalize"
)

func newNormalizeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Repair a plan document into the canonical shape",
		Long: `Read a plan document (a file or stdin), fill missing fields, assign
ids, drop dangling references and write the canonical JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			plan, err := normalize.JSON(data)
			if err != nil {
				return err
			}
			if err := graph.Validate(plan); err != nil {
				slog.Warn("normalized plan still violates invariants", "error", err)
			}
			return writePlan(cmd.OutOrStdout(), output, plan)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newGenerateCmd(g *globalFlags) *cobra.Command {
	var (
		planFile string
		planID   string
		intent   string
		refs     []string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the generation pipeline on a plan",
		Long: `Run the generation pipeline on a stored plan (--id) or on a plan file
(--plan), which is imported first. The resulting plan is saved, the run is
recorded, and the plan is written to stdout or --output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (planFile == "") == (planID == "") {
				return errors.New("exactly one of --plan or --id is required")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			engine, err := goplan.New(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if planFile != "" {
				if planID, err = importPlan(ctx, engine, planFile); err != nil {
					return err
				}
			}

			stderr := cmd.ErrOrStderr()
			gen, err := engine.Generate(ctx, planID, goplan.GenerateRequest{
				Intent: intent,
				Paths:  refs,
				Status: func(s string) { fmt.Fprintln(stderr, s) },
			})
			if errors.Is(err, goplan.ErrPlanChanged) {
				slog.Warn("plan was edited during the run; the result was not stored", "plan", planID)
			}
			if gen != nil {
				fmt.Fprintf(stderr, "plan %s run %s: %s (%d tokens, %d ms)\n",
					planID, gen.RunID, gen.State, gen.TotalTokens, gen.ElapsedMs)
				if werr := writePlan(cmd.OutOrStdout(), output, gen.Plan); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "plan document to import and generate on")
	cmd.Flags().StringVar(&planID, "id", "", "id of a stored plan")
	cmd.Flags().StringVarP(&intent, "intent", "i", "", "what the plan should teach")
	cmd.Flags().StringSliceVarP(&refs, "ref", "r", nil, "reference document (pdf, xlsx, txt, md); repeatable")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the plan to file instead of stdout")
	return cmd
}

func importPlan(ctx context.Context, engine goplan.Engine, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading plan: %w", err)
	}
	p, err := engine.Import(ctx, data)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}

func writePlan(stdout io.Writer, path string, plan *model.Plan) error {
	data, err := plan.MarshalIndent()
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
