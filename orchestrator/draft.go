package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/goplan/normalize"
	"github.com/brunobiangulo/goplan/repair"
)

// draftPhase asks for a revised plan and adopts it once it parses. Any
// failure aborts the run before the working plan changes.
func draftPhase(ctx context.Context, r *run) error {
	text, err := r.ask(ctx, draftSystem, draftPrompt(r.plan, r.req))
	if err != nil {
		return fmt.Errorf("generating draft: %w", err)
	}
	fixed, err := repair.JSON(text)
	if err != nil {
		return err
	}
	plan, err := normalize.JSON([]byte(fixed), normalize.WithRetired(r.isRetired))
	if err != nil {
		return err
	}

	sequences := len(plan.Sequences())
	slog.Info("orchestrator: draft adopted", "sequences", sequences, "actors", len(plan.Actors))
	r.log(fmt.Sprintf("draft adopted: %d sequences, %d actors, %d environments",
		sequences, len(plan.Actors), len(plan.Environments)))
	*r.plan = *plan
	return nil
}
