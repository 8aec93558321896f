package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/orchestrator"
)

func newRunCmd() *cobra.Command {
	var recurrence string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetches and delivers today's due editions",
		Long: `Loads the catalog, materializes today's ledger entries and processes
every due source whose recurrence matches --recurrence. Sources that already
succeeded today are skipped, so the command can be rerun safely.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := domain.ParseRecurrenceFilter(recurrence)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := appInstance.Run(ctx, filter)
			appInstance.PushMetrics()
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if summary.Interrupted {
				appInstance.GetLogger().Warn("run interrupted", zap.Int("attempted", summary.Attempted()))
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&recurrence, "recurrence", string(domain.RecurrenceAll), "all|daily|weekly|monthly")
	return cmd
}

func renderSummary(w io.Writer, s orchestrator.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("run %s (%s)", s.RunID, s.Filter))
	t.AppendHeader(table.Row{"Root", "Source", "Status"})
	for _, r := range s.Results {
		t.AppendRow(table.Row{r.Root, r.Source, r.Status})
	}
	t.AppendFooter(table.Row{"", "scheduled", s.Scheduled})
	t.AppendFooter(table.Row{"", "elapsed", s.Finished.Sub(s.Started).Round(time.Second)})
	t.Render()
	renderCounts(w, s.Counts)
}

func renderCounts(w io.Writer, counts map[domain.Status]int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Status", "Count"})
	for _, st := range domain.Statuses {
		t.AppendRow(table.Row{st, counts[st]})
	}
	t.Render()
}
