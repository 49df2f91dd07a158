package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/augur/internal/config"
	"github.com/aristath/augur/internal/di"
	"github.com/aristath/augur/internal/modules/forecasting"
	"github.com/aristath/augur/pkg/logger"
)

type rootOptions struct {
	dataDir  string
	logLevel string
	jsonOut  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "forecast",
		Short:        "Price forecasting from the command line",
		Long:         "Predict, train and manage price forecasting models stored in the augur model database.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory holding forecast.db (defaults to AUGUR_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		newPredictCmd(opts),
		newTrainCmd(opts),
		newModelsCmd(opts),
	)
	return rootCmd
}

// session is an opened container plus the logger the command runs with
type session struct {
	cfg       *config.Config
	container *di.Container
	log       zerolog.Logger
}

func openSession(cmd *cobra.Command, opts *rootOptions, mutate func(*config.Config)) (*session, error) {
	if opts.dataDir != "" {
		abs, err := filepath.Abs(opts.dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		if err := os.Setenv("AUGUR_DATA_DIR", abs); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := logger.New(logger.Config{
		Level:  opts.logLevel,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})

	container, err := di.InitializeDatabases(cfg)
	if err != nil {
		return nil, err
	}
	if err := di.InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, err
	}
	return &session{cfg: cfg, container: container, log: log}, nil
}

func (s *session) Close() {
	if err := s.container.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close database")
	}
}

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var (
		ticker    string
		noML      bool
		autoTrain bool
	)

	cmd := &cobra.Command{
		Use:   "predict [price file|-]",
		Short: "Predict the next price of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prices, err := readPricesFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			sess, err := openSession(cmd, opts, func(cfg *config.Config) {
				if noML {
					cfg.ML.Enabled = false
				}
				cfg.ML.AutoTrain = autoTrain
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			sess.container.Orchestrator.Start(ctx)

			record := sess.container.Orchestrator.Predict(ctx, prices, ticker)
			if record == nil {
				return fmt.Errorf("need at least %d prices, got %d", forecasting.MinFallbackPoints, len(prices))
			}
			return printPrediction(cmd.OutOrStdout(), opts.jsonOut, ticker, prices[len(prices)-1], record)
		},
	}

	cmd.Flags().StringVar(&ticker, "ticker", "UNKNOWN", "ticker symbol the prices belong to")
	cmd.Flags().BoolVar(&noML, "no-ml", false, "use the statistical predictor only")
	cmd.Flags().BoolVar(&autoTrain, "auto-train", false, "train a model first when none is stored")
	return cmd
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var (
		epochs int
		name   string
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "train [price file|-]",
		Short: "Train the sequence model on a price series and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prices, err := readPricesFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			sess, err := openSession(cmd, opts, func(cfg *config.Config) {
				cfg.ML.Enabled = true
				cfg.ML.AutoTrain = false
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			if !opts.jsonOut {
				updates, cancel := sess.container.Orchestrator.SubscribeProgress()
				done := make(chan struct{})
				go func() {
					defer close(done)
					for p := range updates {
						printProgress(cmd.ErrOrStderr(), p)
					}
				}()
				defer func() {
					cancel()
					<-done
				}()
			}

			ctx := cmd.Context()
			result := sess.container.Orchestrator.Train(ctx, prices, epochs)
			if result.Success && save {
				if !sess.container.Orchestrator.Save(ctx, name) {
					return fmt.Errorf("model trained but could not be saved as %q", name)
				}
			}

			if err := printTrainResult(cmd.OutOrStdout(), opts.jsonOut, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("training failed: %s", result.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&epochs, "epochs", forecasting.DefaultEpochs, "training epochs")
	cmd.Flags().StringVar(&name, "name", forecasting.DefaultModelName, "name to store the model under")
	cmd.Flags().BoolVar(&save, "save", true, "store the trained model")
	return cmd
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Manage stored models",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			models, err := sess.container.ModelRepo.List(cmd.Context())
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), opts.jsonOut, models)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a stored model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.container.ModelRepo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	modelsCmd.AddCommand(listCmd, deleteCmd)
	return modelsCmd
}

func printPrediction(w io.Writer, asJSON bool, ticker string, last float64, record *forecasting.PredictionRecord) error {
	if asJSON {
		return writeJSON(w, map[string]interface{}{
			"ticker":     ticker,
			"last_price": last,
			"prediction": record,
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ticker\t%s\n", ticker)
	fmt.Fprintf(tw, "last price\t%.4f\n", last)
	fmt.Fprintf(tw, "predicted price\t%.4f\n", record.PredictedPrice)
	fmt.Fprintf(tw, "direction\t%s\n", record.Direction)
	fmt.Fprintf(tw, "confidence\t%.1f%%\n", record.Confidence)
	fmt.Fprintf(tw, "volatility\t%.4f\n", record.Volatility)
	fmt.Fprintf(tw, "method\t%s\n", record.Method)
	return tw.Flush()
}

func printProgress(w io.Writer, p forecasting.TrainingProgress) {
	switch p.Phase {
	case forecasting.PhaseStarted:
		fmt.Fprintf(w, "started: %s\n", p.Message)
	case forecasting.PhaseEpoch:
		fmt.Fprintf(w, "epoch %d/%d  loss=%.6f  mae=%.6f  val_loss=%.6f\n", p.Epoch, p.Epochs, p.Loss, p.MAE, p.ValLoss)
	}
}

func printTrainResult(w io.Writer, asJSON bool, result forecasting.TrainResult) error {
	if asJSON {
		return writeJSON(w, result)
	}
	if !result.Success {
		fmt.Fprintf(w, "training failed (%s): %s\n", result.Reason, result.Error)
		return nil
	}
	fmt.Fprintf(w, "trained %d epochs on %d examples in %s: loss=%.6f mae=%.6f val_loss=%.6f val_mae=%.6f\n",
		result.Epochs, result.Examples, result.Duration.Round(time.Millisecond),
		result.FinalLoss, result.FinalMAE, result.FinalValLoss, result.FinalValMAE)
	return nil
}

func printModels(w io.Writer, asJSON bool, models []forecasting.ModelRecord) error {
	if asJSON {
		return writeJSON(w, models)
	}
	if len(models) == 0 {
		fmt.Fprintln(w, "no stored models")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHAPE\tLOSS\tMAE\tTRAINED")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%dx%d\t%.6f\t%.6f\t%s\n",
			m.Name, m.SequenceLength, m.FeatureCount, m.FinalLoss, m.FinalMAE, m.TrainedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
