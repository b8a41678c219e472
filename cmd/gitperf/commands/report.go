package commands

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/audit"
	"github.com/gitperf/gitperf/internal/gitperferr"
)

// errNoMeasurementNames is returned when report/audit/good run without any
// --name flags to select measurements.
var errNoMeasurementNames = errors.New("no --name measurement selected")

// NewReportCommand returns the "report" subcommand: a plain-text table of
// the audit engine's summary statistics for the requested measurement
// names, without the pass/fail decision audit applies.
func NewReportCommand() *cobra.Command {
	f := &seriesFlags{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render summary statistics for one or more measurements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, f)
		},
	}

	bindSeriesFlags(cmd, f)

	return cmd
}

func runReport(cmd *cobra.Command, f *seriesFlags) error {
	ctx := cmd.Context()

	if len(f.names) == 0 {
		return gitperferr.New("report", gitperferr.ClassInputMalformed, errNoMeasurementNames)
	}

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return gitperferr.New("report", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	inputs := make([]audit.Input, 0, len(f.names))

	for _, name := range f.names {
		in, err := auditInputFor(ctx, c, f, name)
		if err != nil {
			return gitperferr.New("report", gitperferr.Classify(err), err)
		}

		inputs = append(inputs, in)
	}

	results, err := audit.AuditAll(ctx, inputs, c.resolver)
	if err != nil {
		return gitperferr.New("report", gitperferr.Classify(err), err)
	}

	renderReportTable(cmd, results)

	return nil
}

func renderReportTable(cmd *cobra.Command, results []audit.Result) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(cmd.OutOrStdout())
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"measurement", "n", "mean", "stddev", "mad", "median", "unit", "trend"})

	for _, r := range results {
		tbl.AppendRow(table.Row{
			r.Name, humanize.Comma(int64(r.N)),
			fmt.Sprintf("%.4g", r.Mean),
			fmt.Sprintf("%.4g", r.StdDev),
			fmt.Sprintf("%.4g", r.MAD),
			fmt.Sprintf("%.4g", r.Median),
			r.Unit,
			r.Sparkline,
		})
	}

	tbl.Render()
}
