package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listings-etl/internal/audit"
	"github.com/listings-etl/internal/config"
	"github.com/listings-etl/internal/db"
	"github.com/listings-etl/internal/etlerr"
	"github.com/listings-etl/internal/logging"
	"github.com/listings-etl/internal/pipeline"
	"github.com/listings-etl/internal/web"
)

// Exit codes: 1 for run failures, 2 for configuration and schema problems
// an operator has to fix before retrying.
const (
	exitFailure = 1
	exitConfig  = 2
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "listing-etl",
		Short:         "Listings cleaning and deduplication transform",
		Long:          `Normalizes a raw listings dataset, removes exact and near duplicates and writes the cleaned dataset.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createValidateCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr *etlerr.ConfigurationError
	var schemaErr *etlerr.SchemaMismatchError
	if errors.As(err, &cfgErr) || errors.As(err, &schemaErr) {
		return exitConfig
	}
	return exitFailure
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openTracker connects the audit store when it is enabled. The returned
// close function is never nil.
func openTracker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*audit.Tracker, func(), error) {
	if !cfg.Audit.Enabled {
		return nil, func() {}, nil
	}
	conn, err := db.Open(ctx, cfg.Audit.DSN)
	if err != nil {
		return nil, func() {}, err
	}
	tracker := audit.NewTracker(conn.DB, logger)
	if err := tracker.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, func() {}, err
	}
	return tracker, func() { conn.Close() }, nil
}

func newDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline.Driver, *audit.Tracker, func(), error) {
	tracker, closeFn, err := openTracker(ctx, cfg, logger)
	if err != nil {
		return nil, nil, closeFn, err
	}
	var opts []pipeline.Option
	if tracker != nil {
		opts = append(opts, pipeline.WithRecorder(tracker))
	}
	return pipeline.NewDriver(logger, opts...), tracker, closeFn, nil
}

// transformFlags are the config overrides shared by run and validate.
type transformFlags struct {
	input        string
	output       string
	rejects      string
	report       string
	threshold    float64
	workers      int
	noSimilarity bool
}

func (f *transformFlags) register(cmd *cobra.Command, withOutputs bool) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "input dataset (.parquet or .csv)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", -1, "near-duplicate similarity threshold in [0,1]")
	cmd.Flags().IntVar(&f.workers, "workers", -1, "near-duplicate scoring workers (0 = one per CPU)")
	cmd.Flags().BoolVar(&f.noSimilarity, "no-similarity", false, "skip near-duplicate detection")
	if withOutputs {
		cmd.Flags().StringVarP(&f.output, "output", "o", "", "output dataset (.parquet or .csv)")
		cmd.Flags().StringVar(&f.rejects, "rejects", "", "rejected records dataset")
		cmd.Flags().StringVar(&f.report, "report", "", "dedup report JSON")
	}
}

func (f *transformFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.input != "" {
		cfg.InputPath = f.input
	}
	if f.output != "" {
		cfg.OutputPath = f.output
	}
	if f.rejects != "" {
		cfg.RejectsPath = f.rejects
	}
	if f.report != "" {
		cfg.ReportPath = f.report
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Similarity.Threshold = f.threshold
	}
	if cmd.Flags().Changed("workers") {
		cfg.Similarity.Workers = f.workers
	}
	if f.noSimilarity {
		cfg.Similarity.Enabled = false
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// createRunCmd creates the run subcommand
func createRunCmd() *cobra.Command {
	var flags transformFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Clean and deduplicate a listings dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			flags.apply(cmd, cfg)

			driver, _, closeFn, err := newDriver(cmd.Context(), cfg, logger)
			defer closeFn()
			if err != nil {
				return err
			}

			summary, err := driver.Run(cmd.Context(), cfg.InputPath, cfg.OutputPath, cfg)
			if err != nil {
				logger.Error("run failed", zap.String("run_id", summary.RunID), zap.Error(err))
				return err
			}
			return printJSON(summary)
		},
	}
	flags.register(cmd, true)
	return cmd
}

// createValidateCmd creates a command that runs every stage without writing
func createValidateCmd() *cobra.Command {
	var flags transformFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check config and input and report the counts a run would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			flags.apply(cmd, cfg)

			stats, err := pipeline.NewDriver(logger).DryRun(cmd.Context(), cfg.InputPath, cfg)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	flags.register(cmd, false)
	return cmd
}

// createVerifyCmd creates a command that checks a written output
func createVerifyCmd() *cobra.Command {
	var output, report string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm the output dataset exists and agrees with the dedup report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if output == "" {
				output = cfg.OutputPath
			}
			if report == "" {
				report = cfg.ReportPath
			}

			shape, err := pipeline.Verify(output, report)
			if err != nil {
				return err
			}
			logger.Info("output verified",
				zap.String("path", shape.Path),
				zap.Int("rows", shape.Rows),
				zap.Int("columns", len(shape.Columns)),
			)
			return printJSON(shape)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output dataset to verify")
	cmd.Flags().StringVar(&report, "report", "", "dedup report to check against")
	return cmd
}

// createServeCmd creates the HTTP trigger subcommand
func createServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP run trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.CheckServer(); err != nil {
				return err
			}

			driver, tracker, closeFn, err := newDriver(cmd.Context(), cfg, logger)
			defer closeFn()
			if err != nil {
				return err
			}

			var opts []web.Option
			if tracker != nil {
				opts = append(opts, web.WithHistory(tracker))
			}
			return web.NewServer(cfg, driver, logger, opts...).Start(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port")
	return cmd
}
