package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"epl-engine/internal/ledger"
	"epl-engine/internal/models"
)

// evaluateInput is the JSON document accepted by the evaluate command:
// one candidate plus the portfolio state it is judged against.
type evaluateInput struct {
	Candidate models.SignalCandidate `json:"candidate"`
	Positions []models.PositionInfo  `json:"positions"`
	Metrics   models.RiskMetrics     `json:"metrics"`
	Market    models.MarketContext   `json:"market"`
}

// addEvaluateCommand adds the one-shot evaluation command.
func addEvaluateCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "evaluate [file]",
		Short: "Evaluate one candidate against a portfolio snapshot",
		Long: `Evaluate reads a JSON document containing a signal candidate and the
portfolio snapshot, runs the full decision pipeline and prints the
resulting disposition. Reads from stdin when no file is given.`,
		Example: `  epl evaluate candidate.json
  cat candidate.json | epl evaluate`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			var reader io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					output.Error("Failed to open input: %v", err)
					return err
				}
				defer f.Close()
				reader = f
			}

			var in evaluateInput
			if err := json.NewDecoder(reader).Decode(&in); err != nil {
				output.Error("Failed to decode input: %v", err)
				return err
			}

			// Seed the ledger with the supplied portfolio snapshot.
			app.Ledger = ledger.NewMemoryLedgerWith(in.Positions)

			coordinator, err := app.newCoordinator()
			if err != nil {
				output.Error("Failed to build pipeline: %v", err)
				return err
			}
			defer coordinator.Close()

			result := coordinator.Evaluate(cmd.Context(), in.Candidate, in.Metrics, in.Market)

			if output.IsJSON() {
				return output.JSON(result)
			}
			printResult(output, result)
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}

// addServeCommand adds the streaming evaluation command.
func addServeCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a streaming service",
		Long: `Serve consumes newline-delimited evaluation documents from stdin and
emits one JSON decision per line. When enabled in configuration, a
status HTTP server runs alongside.`,
		Example: `  signal-source | epl serve
  epl serve < candidates.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app)
		},
	}

	rootCmd.AddCommand(cmd)
}

// addStatusCommand adds the remote status query command.
func addStatusCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running engine's status endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			return queryStatus(cmd, addr)
		},
	}
	cmd.Flags().String("addr", "", "status server address (default from config)")

	rootCmd.AddCommand(cmd)
}

// printResult renders a decision in human-readable form.
func printResult(output *Output, r *models.EPLDecisionResult) {
	switch r.Decision {
	case models.IgnoreSignal:
		output.Warning("Decision: %s (%s)", r.Decision, r.IgnoreReason)
	default:
		output.Success("Decision: %s", r.Decision)
	}

	output.Printf("  Symbol:     %s %s\n", r.Direction, r.Symbol)
	output.Printf("  Priority:   %s\n", r.Priority)
	output.Printf("  Score:      %.3f\n", r.Score)
	output.Printf("  Confidence: %.3f\n", r.Confidence)
	output.Printf("  Latency:    %s\n", r.Latency)

	if r.Execution != nil {
		output.Println()
		output.Bold("Execution")
		output.Printf("  Size:         %.4f\n", r.Execution.Size)
		output.Printf("  Stop loss:    %.2f\n", r.Execution.StopLoss)
		output.Printf("  Take profit:  %.2f\n", r.Execution.TakeProfit)
		output.Printf("  Risk/trade:   %.2f%%\n", r.Execution.RiskPerTrade*100)
		if r.Execution.TrailingStop {
			output.Printf("  Trailing stop enabled\n")
		}
	}

	if r.Risk != nil && !r.Risk.Approved {
		output.Println()
		output.Warning("Risk gates failed: %s", strings.Join(r.Risk.FailedGates, ", "))
	}

	if len(r.Reasons) > 0 {
		output.Println()
		output.Dim("Reasoning: %s", strings.Join(r.Reasons, "; "))
	}
	if len(r.Suggestions) > 0 {
		output.Dim("Suggestions: %s", strings.Join(r.Suggestions, "; "))
	}
}

// readDocuments decodes newline-delimited evaluation documents.
func readDocuments(r io.Reader, out chan<- evaluateInput) error {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var in evaluateInput
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return fmt.Errorf("decoding input line: %w", err)
		}
		out <- in
	}
	return scanner.Err()
}

// queryStatus fetches and prints the status document from a running
// engine.
func queryStatus(cmd *cobra.Command, addr string) error {
	output := NewOutput(cmd)

	url := addr
	if !strings.HasPrefix(url, "http") {
		url = "http://localhost" + addr
		if !strings.HasPrefix(addr, ":") {
			url = "http://" + addr
		}
	}
	url += "/status"

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	status, err := fetchStatus(ctx, url)
	if err != nil {
		output.Error("Failed to query status: %v", err)
		return err
	}
	return output.JSON(status)
}
