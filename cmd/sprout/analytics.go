package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sprout/pkg/flags"
)

func newAnalyticsCommand(ctx *commandContext) *cobra.Command {
	var dispensaryID string
	var days int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show review outcomes and correction rates per dispensary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			query := flags.AnalyticsQuery{DispensaryID: dispensaryID, Window: a.cfg.AnalyticsWindow()}
			if cmd.Flags().Changed("days") {
				query.Window = 0
				if days > 0 {
					query.Window = daysWindow(days)
				}
			}
			report, err := a.flags.Analytics(cmd.Context(), query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			renderAnalytics(out, report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dispensaryID, "dispensary", "d", "", "Only this dispensary")
	cmd.Flags().IntVar(&days, "days", 0, "Trailing window in days (defaults to ANALYTICS_WINDOW_DAYS)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func renderAnalytics(w io.Writer, report []flags.DispensaryAnalytics) {
	if len(report) == 0 {
		fmt.Fprintln(w, "No flags in window")
		return
	}

	rows := make([][]string, 0, len(report))
	for _, d := range report {
		rows = append(rows, []string{
			d.DispensaryID,
			itoa(d.Total),
			itoa(d.Pending),
			itoa(d.Approved),
			itoa(d.Rejected),
			itoa(d.Dismissed),
			itoa(d.Merged),
			percent(d.CorrectionRate),
		})
	}
	writeTable(w, []string{"Dispensary", "Total", "Pending", "Approved", "Rejected", "Dismissed", "Merged", "Correction rate"}, rows, 1, 2, 3, 4, 5, 6, 7)

	for _, d := range report {
		if len(d.TopCorrectedFields) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nMost corrected fields for %s\n", d.DispensaryID)
		fieldRows := make([][]string, 0, len(d.TopCorrectedFields))
		for _, f := range d.TopCorrectedFields {
			fieldRows = append(fieldRows, []string{string(f.Field), itoa(f.Count), f.ExampleFrom, f.ExampleTo})
		}
		writeTable(w, []string{"Field", "Count", "Example from", "Example to"}, fieldRows, 1)
	}
}
