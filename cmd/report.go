package cmd

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/edition-fetcher/internal/app"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Prints today's ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := appInstance.Report(cmd.Context())
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func renderReport(w io.Writer, rows []app.ReportRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Root", "Source", "Frequency", "Date", "Status", "Downloaded at"})

	counts := make(map[domain.Status]int)
	for _, r := range rows {
		counts[r.Status]++
		frequency := string(r.Recurrence)
		if frequency == "" {
			frequency = "-"
		}
		downloaded := ""
		if r.DownloadedAt != nil {
			downloaded = r.DownloadedAt.Format(time.DateTime)
		}
		t.AppendRow(table.Row{r.Root, r.Source, frequency, r.Date, r.Status, downloaded})
	}
	t.Render()
	renderCounts(w, counts)
}
