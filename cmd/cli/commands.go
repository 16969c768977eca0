package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/expense-insight/internal/analysis"
	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/config"
	"github.com/dvloznov/expense-insight/internal/logger"
	"github.com/dvloznov/expense-insight/internal/profile"
)

type openFunc func(ctx context.Context, cfg *config.Config) (*analysis.Service, func() error, error)

// globalFlags override config values for one invocation.
type globalFlags struct {
	configPath string
	source     string
	csvURI     string
	projectID  string
	logLevel   string
}

func newRootCommand(open openFunc) *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "expense-insight",
		Short: "Anomaly detection and root-cause analysis over the expense ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to YAML config")
	pf.StringVar(&g.source, "source", "", "ledger source: bigquery or csv")
	pf.StringVar(&g.csvURI, "csv", "", "CSV export path or gs:// URI (implies --source csv)")
	pf.StringVar(&g.projectID, "project", "", "BigQuery project ID")
	pf.StringVar(&g.logLevel, "log-level", "", "log level")

	// withService resolves config, opens the ledger and runs fn.
	withService := func(cmd *cobra.Command, fn func(ctx context.Context, svc *analysis.Service) (any, error)) error {
		cfg, err := g.resolve()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		log := logger.FromContext(ctx).Level(logger.ParseLevel(cfg.Log.Level))
		ctx = logger.WithContext(ctx, log)

		svc, closeFn, err := open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer closeFn()

		out, err := fn(ctx, svc)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}

	rootCmd.AddCommand(
		newAnomalyCommand(withService),
		newRCACommand(withService),
		newProfileCommand(withService),
		newBreakdownCommand(withService),
	)
	return rootCmd
}

func (g globalFlags) resolve() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.csvURI != "" {
		cfg.Ledger.Source = "csv"
		cfg.Ledger.CSVURI = g.csvURI
	}
	if g.source != "" {
		cfg.Ledger.Source = g.source
	}
	if g.projectID != "" {
		cfg.Ledger.ProjectID = g.projectID
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, svc *analysis.Service) (any, error)) error

func newAnomalyCommand(run runner) *cobra.Command {
	var (
		method                              string
		threshold, contamination, threshPct float64
	)

	cmd := &cobra.Command{
		Use:   "anomaly",
		Short: "Detect anomalous ledger entries and periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var o anomaly.Overrides
			flags := cmd.Flags()
			if flags.Changed("threshold") {
				o.Threshold = &threshold
			}
			if flags.Changed("contamination") {
				o.Contamination = &contamination
			}
			if flags.Changed("threshold-pct") {
				o.ThresholdPct = &threshPct
			}
			if err := o.Validate(); err != nil {
				return err
			}

			return run(cmd, func(ctx context.Context, svc *analysis.Service) (any, error) {
				return svc.Detect(ctx, method, o)
			})
		},
	}

	d := anomaly.DefaultParams()
	cmd.Flags().StringVar(&method, "method", string(anomaly.MethodComprehensive), "statistical, ml, trend or comprehensive")
	cmd.Flags().Float64Var(&threshold, "threshold", d.Threshold, "robust z-score threshold")
	cmd.Flags().Float64Var(&contamination, "contamination", d.Contamination, "expected outlier share")
	cmd.Flags().Float64Var(&threshPct, "threshold-pct", d.ThresholdPct, "month-over-month change threshold in percent")

	return cmd
}

func newRCACommand(run runner) *cobra.Command {
	var from, to string

	rcaCmd := &cobra.Command{
		Use:   "rca",
		Short: "Explain the change between two periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *analysis.Service) (any, error) {
				return svc.RCA(ctx, from, to)
			})
		},
	}
	rcaCmd.Flags().StringVar(&from, "from", "", "earlier period key, e.g. 2023-01")
	rcaCmd.Flags().StringVar(&to, "to", "", "later period key, e.g. 2023-02")
	_ = rcaCmd.MarkFlagRequired("from")
	_ = rcaCmd.MarkFlagRequired("to")

	rcaCmd.AddCommand(&cobra.Command{
		Use:   "dynamic",
		Short: "Explain every consecutive pair of periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *analysis.Service) (any, error) {
				return svc.DynamicRCA(ctx)
			})
		},
	})

	return rcaCmd
}

func newProfileCommand(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Summarize ledger quality, totals and largest groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *analysis.Service) (any, error) {
				return svc.Profile(ctx)
			})
		},
	}
}

func newBreakdownCommand(run runner) *cobra.Command {
	var topN int

	cmd := &cobra.Command{
		Use:   "breakdown <dimension>",
		Short: "Group ledger amounts by one dimension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *analysis.Service) (any, error) {
				return svc.Breakdown(ctx, args[0], topN)
			})
		},
	}
	cmd.Flags().IntVar(&topN, "top", profile.DefaultTopN, "number of groups to show")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
