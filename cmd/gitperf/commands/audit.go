package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gitperf/gitperf/internal/audit"
	"github.com/gitperf/gitperf/internal/gitperferr"
)

// errAuditFailed marks an audit run in which at least one measurement
// regressed; the root command prints it on stderr after the failure table
// and maps it to a nonzero exit.
var errAuditFailed = errors.New("audit: one or more measurements failed")

// NewAuditCommand returns the "audit" subcommand: the z-score/relative-
// deviation regression decision over one or more measurement names, exiting
// nonzero if any fails.
func NewAuditCommand() *cobra.Command {
	f := &seriesFlags{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit measurements for regression against their trailing history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, f)
		},
	}

	bindSeriesFlags(cmd, f)

	return cmd
}

func runAudit(cmd *cobra.Command, f *seriesFlags) error {
	results, err := collectAuditResults(cmd, f)
	if err != nil {
		return err
	}

	renderAuditTable(cmd, results)

	if audit.OverallFailed(results) {
		return gitperferr.New("audit", gitperferr.ClassAuditRegression, errAuditFailed)
	}

	return nil
}

func collectAuditResults(cmd *cobra.Command, f *seriesFlags) ([]audit.Result, error) {
	ctx := cmd.Context()

	if len(f.names) == 0 {
		return nil, gitperferr.New("audit", gitperferr.ClassInputMalformed, errNoMeasurementNames)
	}

	c, err := newCore(ctx, f.repo, f.remote)
	if err != nil {
		return nil, gitperferr.New("audit", gitperferr.Classify(err), err)
	}
	defer c.close(ctx)

	inputs := make([]audit.Input, 0, len(f.names))

	for _, name := range f.names {
		in, err := auditInputFor(ctx, c, f, name)
		if err != nil {
			return nil, gitperferr.New("audit", gitperferr.Classify(err), err)
		}

		inputs = append(inputs, in)
	}

	results, err := audit.AuditAll(ctx, inputs, c.resolver)
	if err != nil {
		return nil, gitperferr.New("audit", gitperferr.Classify(err), err)
	}

	return results, nil
}

func renderAuditTable(cmd *cobra.Command, results []audit.Result) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(cmd.OutOrStdout())
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"measurement", "status", "direction", "z", "Δ%", "note", "trend"})

	for _, r := range results {
		tbl.AppendRow(table.Row{
			r.Name, statusLabel(r.Status), r.Direction,
			fmt.Sprintf("%.3g", r.Z),
			fmt.Sprintf("%.3g", r.RelativeDeviation),
			r.Note, r.Sparkline,
		})
	}

	tbl.Render()
}

func statusLabel(status audit.Status) string {
	switch status {
	case audit.StatusPass:
		return color.New(color.FgGreen).Sprint("pass")
	case audit.StatusPassThreshold:
		return color.New(color.FgYellow).Sprint("pass-threshold")
	case audit.StatusFail:
		return color.New(color.FgRed).Sprint("fail")
	case audit.StatusSkipped:
		return color.New(color.FgCyan).Sprint("skipped")
	default:
		return string(status)
	}
}
