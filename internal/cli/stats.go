package cli

import (
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and runtime metrics",
		Long: `Count the rows of every declared model type, then print the runtime
metrics collected while doing so.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	db, err := openDB(ctx, opts)
	if err != nil {
		return err
	}
	defer db.Close()

	types := make([]map[string]any, 0)
	for _, t := range db.Types() {
		n, err := db.Count(ctx, t)
		if err != nil {
			return WrapExitError(ExitFailure, "count failed", err)
		}
		types = append(types, map[string]any{"type": t.Name(), "table": t.Table(), "rows": n})
	}

	families, err := db.Metrics().Gather()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to gather metrics", err)
	}
	metrics := flattenMetrics(families)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(map[string]any{"types": types, "metrics": metrics})
	}
	if err := out.Rows([]string{"type", "table", "rows"}, types); err != nil {
		return err
	}
	return out.KeyValues("metrics", metrics)
}

// flattenMetrics maps "name{label=value,...}" to the sample value.
// Histograms report their sample count.
func flattenMetrics(families []*dto.MetricFamily) map[string]any {
	out := make(map[string]any)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				parts := make([]string, len(labels))
				for i, lp := range labels {
					parts[i] = fmt.Sprintf("%s=%s", lp.GetName(), lp.GetValue())
				}
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[key] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[key] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[key] = m.GetHistogram().GetSampleCount()
			default:
				out[key] = m.String()
			}
		}
	}
	return out
}
