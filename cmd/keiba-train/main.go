package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/features"
	"github.com/yourusername/keiba-engine/internal/logger"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
	"github.com/yourusername/keiba-engine/internal/training"
)

type app struct {
	cfg   *config.Config
	repos *repository.Repositories
	db    *database.DB
	log   *logrus.Logger
}

func main() {
	var configPath, surface string

	root := &cobra.Command{
		Use:           "keiba-train",
		Short:         "Training and evaluation pipeline for the race prediction engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&surface, "surface", "mixed", "surface variant: mixed, turf or dirt")

	root.AddCommand(
		trainCmd(&configPath, &surface),
		evaluateCmd(&configPath, &surface),
		extractCmd(&configPath, &surface),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "keiba-train: %v\n", err)
		os.Exit(1)
	}
}

func setup(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database.SecretName != "" && !cfg.IsMockMode() {
		if err := config.LoadSecretsFromAWS(cfg, cfg.Database.AWSRegion, cfg.Database.SecretName); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg.App.LogLevel)

	a := &app{cfg: cfg, log: log}
	if cfg.IsMockMode() {
		log.Warn("Running against the in-memory mock store")
		a.repos = repository.NewMockRepositories()
		return a, nil
	}

	a.db, err = database.NewDB(context.Background(), &cfg.Database)
	if err != nil {
		return nil, err
	}
	a.repos, err = repository.NewRepositories(a.db)
	if err != nil {
		a.db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func trainCmd(configPath, surface *string) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Run a full retrain and promote the artifact if it beats the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			manager := modelmanager.NewManager(a.cfg.Model, a.log)
			_ = manager.Reload()

			trainer := training.NewTrainer(a.cfg, a.repos, manager, a.log)
			res, err := trainer.Run(ctx, models.Surface(*surface))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func evaluateCmd(configPath, surface *string) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Backtest the active artifact over one finalized year",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			manager := modelmanager.NewManager(a.cfg.Model, a.log)
			if err := manager.Reload(); err != nil {
				return err
			}
			model, err := manager.Load(*surface)
			if err != nil {
				return err
			}

			rows, err := features.NewExtractor(a.repos, a.log).ExtractYear(ctx, year, models.Surface(*surface))
			if err != nil {
				return err
			}
			eval, err := training.NewEvaluator(a.repos, a.log).Evaluate(ctx, model, training.NewDataset(rows))
			if err != nil {
				return err
			}
			return printJSON(cmd, eval)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "calendar year to backtest")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func extractCmd(configPath, surface *string) *cobra.Command {
	var year int
	var out string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Dump one year's feature matrix as CSV for offline analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			rows, err := features.NewExtractor(a.repos, a.log).ExtractYear(ctx, year, models.Surface(*surface))
			if err != nil {
				return err
			}
			if err := writeCSV(out, rows); err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{"rows": len(rows), "path": out}).Info("Feature dump written")
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "calendar year to extract")
	cmd.Flags().StringVar(&out, "out", "features.csv", "output CSV path")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func writeCSV(path string, rows []features.FeatureRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"race_id", "horse_id", "horse_number", "target"}, features.Names()...)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.RaceID, r.HorseID, strconv.Itoa(r.HorseNumber), strconv.Itoa(r.Target))
		for _, v := range r.Values {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
