package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proxima/adapters/excel"
	"proxima/app"
	"proxima/domain/experiment"
	"proxima/internal/config"
	"proxima/internal/errors"
	"proxima/internal/inference"
	"proxima/internal/logging"
	"proxima/internal/testkit"
)

const cliSession = "cli"

// globals holds the flags shared by every subcommand
type globals struct {
	data        string
	profile     string
	users       int
	experiments int
	seed        uint64
	nBootstrap  int
	alpha       float64
	format      string
	out         string
	verbose     bool

	logger *zap.Logger
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	def := testkit.DefaultGeneratorConfig()

	root := &cobra.Command{
		Use:           "proxima-cli",
		Short:         "Evaluate early proxy metrics against a long-term outcome",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "WARN"
			if g.verbose {
				level = "DEBUG"
			}
			logger, err := logging.New(logging.Config{Level: level, Development: true})
			if err != nil {
				return err
			}
			g.logger = logger
			return validateFormat(g.format)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.data, "data", "", "CSV or Excel dataset; a synthetic dataset is generated when empty")
	pf.StringVar(&g.profile, "profile", "", "YAML analysis profile mapping dataset columns")
	pf.IntVar(&g.users, "users", def.Users, "Synthetic users to generate")
	pf.IntVar(&g.experiments, "experiments", def.Experiments, "Synthetic experiments to generate")
	pf.Uint64Var(&g.seed, "seed", def.Seed, "Seed for generation and bootstrap draws")
	pf.IntVar(&g.nBootstrap, "n-bootstrap", inference.DefaultBootstrapConfig().N, "Bootstrap draws")
	pf.Float64Var(&g.alpha, "alpha", 0.05, "Significance level")
	pf.StringVar(&g.format, "format", "table", "Output format: table, json, markdown or html")
	pf.StringVar(&g.out, "out", "", "Write output to a file; .csv and .xlsx get result tables")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Log progress to stderr")

	root.AddCommand(
		newGenerateCmd(g),
		newScoreCmd(g),
		newFragilityCmd(g),
		newDecideCmd(g),
		newRegretCmd(g),
		newCICmd(g),
		newCompareCmd(g),
		newReportCmd(g),
	)
	return root
}

// dataset loads --data or generates a synthetic dataset
func (g *globals) dataset() (*experiment.Dataset, error) {
	if g.data == "" {
		return testkit.Generate(testkit.GeneratorConfig{Users: g.users, Experiments: g.experiments, Seed: g.seed})
	}
	profile, err := config.LoadProfile(g.profile)
	if err != nil {
		return nil, err
	}
	ds, load, err := app.ReadDatasetFile(g.data, profile, g.logger)
	if err != nil {
		return nil, err
	}
	for col, n := range load.Unparsed {
		g.logger.Warn("non-numeric values loaded as missing", zap.String("column", col), zap.Int("count", n))
	}
	return ds, nil
}

func (g *globals) target() (app.Target, error) {
	ds, err := g.dataset()
	if err != nil {
		return app.Target{}, err
	}
	return app.Target{SessionID: cliSession, Dataset: ds}, nil
}

func (g *globals) service() *app.AnalysisService {
	bs := inference.DefaultBootstrapConfig()
	bs.N = g.nBootstrap
	bs.Alpha = g.alpha
	bs.Seed = g.seed
	return app.NewAnalysisService(app.AnalysisOptions{Bootstrap: bs, Logger: g.logger})
}

func newGenerateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic experiment dataset",
		Long: `Generate the synthetic streaming experiment dataset and write it with --out.

Example: proxima-cli generate --users 50000 --experiments 20 --seed 7 --out data.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.out == "" {
				return errors.InvalidInput("--out is required")
			}
			cfg := testkit.GeneratorConfig{Users: g.users, Experiments: g.experiments, Seed: g.seed}
			if err := cfg.ValidateBounds(); err != nil {
				return err
			}
			ds, err := testkit.Generate(cfg)
			if err != nil {
				return err
			}
			sheet, err := excel.DatasetSheet(ds, "data")
			if err != nil {
				return err
			}
			if err := excel.WriteFile(g.out, []excel.Sheet{sheet}); err != nil {
				return err
			}
			s := ds.Summary()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d users across %d experiments to %s\n", s.NUsers, s.NExperiments, g.out)
			return nil
		},
	}
}

func newScoreCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Rank proxy metrics by reliability",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			rep, err := g.service().Scores(cmd.Context(), t)
			if err != nil {
				return err
			}
			return g.emit(cmd, reportOutput(rep))
		},
	}
}

func newFragilityCmd(g *globals) *cobra.Command {
	var minCount int
	cmd := &cobra.Command{
		Use:   "fragility <proxy>",
		Short: "List segments where the proxy's direction disagrees with the long-term effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			rep, err := g.service().Fragility(cmd.Context(), t, args[0], minCount)
			if err != nil {
				return err
			}
			return g.emit(cmd, reportOutput(rep))
		},
	}
	cmd.Flags().IntVar(&minCount, "min-count", 500, "Minimum users per segment cell")
	return cmd
}

func newDecideCmd(g *globals) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Simulate ship decisions made on each proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			rep, err := g.service().Decisions(cmd.Context(), t, threshold)
			if err != nil {
				return err
			}
			return g.emit(cmd, reportOutput(rep))
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Ship when the effect exceeds this value")
	return cmd
}

func newRegretCmd(g *globals) *cobra.Command {
	var (
		threshold float64
		minCount  int
	)
	cmd := &cobra.Command{
		Use:   "regret <proxy>",
		Short: "Break decision regret down by segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			rep, err := g.service().RegretBySegment(cmd.Context(), t, args[0], threshold, minCount)
			if err != nil {
				return err
			}
			return g.emit(cmd, reportOutput(rep))
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Ship when the effect exceeds this value")
	cmd.Flags().IntVar(&minCount, "min-count", 0, "Minimum users per segment cell")
	return cmd
}

func newCICmd(g *globals) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "ci <metric>",
		Short: "Confidence interval for a treatment effect, a proxy's reliability or its correlation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			svc := g.service()
			metric := args[0]
			switch strings.ToLower(kind) {
			case "effect":
				res, err := svc.EffectCIs(cmd.Context(), t, metric, app.BootstrapParams{})
				if err != nil {
					return err
				}
				return g.emit(cmd, effectOutput(res))
			case "reliability":
				res, err := svc.ReliabilityCI(cmd.Context(), t, metric, app.BootstrapParams{})
				if err != nil {
					return err
				}
				return g.emit(cmd, intervalOutput("Reliability interval for "+metric, res, res.BootstrapInterval, res.Warnings))
			case "correlation":
				res, err := svc.CorrelationCI(cmd.Context(), t, metric, app.BootstrapParams{})
				if err != nil {
					return err
				}
				out := intervalOutput("Correlation interval for "+metric, res, res.BootstrapInterval, res.Warnings)
				out.sections[0].Rows = append(out.sections[0].Rows,
					[]string{"p-value", fmt.Sprintf("%.4g", res.PValue)},
					[]string{"experiments", fmt.Sprint(res.NExperiments)})
				return g.emit(cmd, out)
			default:
				return errors.InvalidInputf("unknown interval kind %q (effect, reliability or correlation)", kind)
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "effect", "Interval kind: effect, reliability or correlation")
	return cmd
}

func newCompareCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <proxy1> <proxy2>",
		Short: "McNemar test on the directional accuracy of two proxies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			res, err := g.service().CompareProxies(cmd.Context(), t, args[0], args[1], g.alpha)
			if err != nil {
				return err
			}
			return g.emit(cmd, comparisonOutput(res))
		},
	}
}

func newReportCmd(g *globals) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run the full analysis: scores, decisions and fragile segments",
		Long: `Run the full analysis and print it. Use --format markdown or html for a document.

Example: proxima-cli report --data experiments.xlsx --profile profile.yaml --format html --out report.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := g.target()
			if err != nil {
				return err
			}
			rep, err := g.service().FullAnalysis(cmd.Context(), t, threshold)
			if err != nil {
				return err
			}
			return g.emit(cmd, reportOutput(rep))
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Ship when the effect exceeds this value")
	return cmd
}
