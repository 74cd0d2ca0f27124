package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"epl-engine/internal/models"
	"epl-engine/internal/store"
)

// addAuditCommands adds the audit log query commands.
func addAuditCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the decision audit log",
	}

	cmd.AddCommand(newAuditListCmd(app))
	cmd.AddCommand(newAuditShowCmd(app))
	cmd.AddCommand(newAuditStatsCmd(app))

	rootCmd.AddCommand(cmd)
}

func newAuditListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent decision records",
		Example: `  epl audit list --symbol BTCUSDT --limit 20
  epl audit list --decision IGNORE_SIGNAL --days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Audit == nil {
				output.Error("Audit store unavailable")
				return fmt.Errorf("audit store unavailable")
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			decision, _ := cmd.Flags().GetString("decision")
			priority, _ := cmd.Flags().GetString("priority")
			limit, _ := cmd.Flags().GetInt("limit")
			days, _ := cmd.Flags().GetInt("days")

			filter := store.DecisionFilter{
				Symbol:   symbol,
				Decision: models.EPLDecision(decision),
				Priority: models.PriorityClass(priority),
				Limit:    limit,
			}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}

			records, err := app.Audit.List(cmd.Context(), filter)
			if err != nil {
				output.Error("Failed to query audit log: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}

			if len(records) == 0 {
				output.Dim("No decision records found")
				return nil
			}
			for _, r := range records {
				line := fmt.Sprintf("%s  %-20s %-8s %-10s score=%.2f conf=%.2f %s",
					r.Timestamp.Format("2006-01-02 15:04:05"),
					r.Decision, r.Direction, r.Symbol, r.Score, r.Confidence, r.Priority)
				if r.Ignored() {
					output.Dim("%s (%s)", line, r.IgnoreReason)
				} else {
					output.Println(line)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().String("decision", "", "filter by decision type")
	cmd.Flags().String("priority", "", "filter by priority class")
	cmd.Flags().Int("limit", 50, "maximum records")
	cmd.Flags().Int("days", 0, "restrict to the last N days")

	return cmd
}

func newAuditShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <candidate-id>",
		Short: "Show the decision record for one candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Audit == nil {
				output.Error("Audit store unavailable")
				return fmt.Errorf("audit store unavailable")
			}

			record, err := app.Audit.GetByCandidateID(cmd.Context(), args[0])
			if err != nil {
				output.Error("Failed to load record: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(record)
			}
			printResult(output, record)
			return nil
		},
	}
}

func newAuditStatsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate statistics over the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Audit == nil {
				output.Error("Audit store unavailable")
				return fmt.Errorf("audit store unavailable")
			}

			days, _ := cmd.Flags().GetInt("days")
			var from time.Time
			if days > 0 {
				from = time.Now().AddDate(0, 0, -days)
			}

			stats, err := app.Audit.Stats(cmd.Context(), from, time.Time{})
			if err != nil {
				output.Error("Failed to compute stats: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(stats)
			}

			output.Bold("Decision statistics")
			output.Printf("  Total:          %d\n", stats.Total)
			output.Printf("  Avg score:      %.3f\n", stats.AvgScore)
			output.Printf("  Avg confidence: %.3f\n", stats.AvgConfidence)
			output.Printf("  Avg latency:    %s\n", stats.AvgLatency)
			if len(stats.ByDecision) > 0 {
				output.Println()
				output.Bold("By decision")
				for decision, count := range stats.ByDecision {
					output.Printf("  %-22s %d\n", decision, count)
				}
			}
			if len(stats.ByIgnoreCode) > 0 {
				output.Println()
				output.Bold("Ignore reasons")
				for reason, count := range stats.ByIgnoreCode {
					output.Printf("  %-22s %d\n", reason, count)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int("days", 0, "restrict to the last N days")

	return cmd
}
