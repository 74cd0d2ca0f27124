package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"epl-engine/internal/models"
	"epl-engine/internal/policy"
	"epl-engine/internal/server"
)

// runServe runs the streaming evaluation loop: documents in on stdin,
// decisions out on stdout, with the status server alongside when
// enabled.
func runServe(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)

	coordinator, err := app.newCoordinator()
	if err != nil {
		output.Error("Failed to build pipeline: %v", err)
		return err
	}
	defer coordinator.Close()

	if err := app.Scheduler.Start(); err != nil {
		output.Error("Failed to start notification scheduler: %v", err)
		return err
	}
	defer app.Scheduler.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var statusServer *server.Server
	if app.Config.Server.Enabled {
		statusServer = server.New(app.Config.Server.Addr, app.Logger, coordinator)
		g.Go(statusServer.Start)
	}

	docs := make(chan evaluateInput, 16)
	g.Go(func() error {
		return readDocuments(cmd.InOrStdin(), docs)
	})

	g.Go(func() error {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case in, ok := <-docs:
				if !ok {
					return nil
				}
				seedLedger(app, in)
				result := coordinator.Evaluate(ctx, in.Candidate, in.Metrics, in.Market)
				if err := encoder.Encode(result); err != nil {
					return fmt.Errorf("encoding decision: %w", err)
				}
			}
		}
	})

	err = g.Wait()

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := statusServer.Shutdown(shutdownCtx); serr != nil {
			app.Logger.Error().Err(serr).Msg("Status server shutdown failed")
		}
	}

	if err == context.Canceled {
		return nil
	}
	return err
}

// seedLedger overlays positions supplied inline with a document onto the
// running ledger. Documents without positions leave the ledger as the
// engine's own mutations built it.
func seedLedger(app *App, in evaluateInput) {
	for _, pos := range in.Positions {
		pos := pos
		_ = app.Ledger.Apply(context.Background(), newSeedMutation(pos))
	}
}

// newSeedMutation wraps a supplied position in a ledger overlay request.
func newSeedMutation(pos models.PositionInfo) models.LedgerMutation {
	// Replace semantics with a fresh mutation key so a repeated snapshot
	// overlays the held state.
	return models.LedgerMutation{
		CandidateID: "seed:" + uuid.NewString(),
		Symbol:      pos.Symbol,
		Kind:        models.MutationReplace,
		Position:    &pos,
	}
}

// fetchStatus retrieves the status document from a running engine.
func fetchStatus(ctx context.Context, url string) (*policy.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying status endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status policy.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &status, nil
}
