package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/brk3/habitd/internal/apiclient"
	"github.com/brk3/habitd/internal/config"
	"github.com/brk3/habitd/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "habits",
	Short: "Track habits day by day and get reminded to practice them",
	Long: `
	Habits keeps a day-by-day record of the activities you want to practice,
	computes streaks from it, and schedules reminders at the times you choose.
	Run "habits server" to start the engine, then use the other commands to
	talk to it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("HABITS_CONFIG", configPath); err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logger.InitWithOptions(logger.Options{Level: level, JSON: cfg.Log.JSON, File: cfg.Log.File})
		return nil
	},
}

func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

func newClient() *apiclient.Client {
	return apiclient.New(cfg.APIBaseURL, cfg.AuthToken)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HABITS_CONFIG or ./config.yaml)")
}
