package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"giftarb/internal/config"
	"giftarb/internal/database"
)

var (
	configPath     string
	startArbitrage bool
	startResale    bool
	scanLimit      int
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "giftarb",
		Short:         "Gift marketplace arbitrage bot",
		Long:          `Polls Tonnel and Portals for cross-market price gaps, trades them and keeps listings under the floor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "config file or directory containing config.yaml")

	root.AddCommand(newRunCommand(), newScanCommand(), newMigrateCommand())
	return root
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, admin bot and opportunity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx, startArbitrage, startResale)
		},
	}
	cmd.Flags().BoolVar(&startArbitrage, "arbitrage", false, "start the arbitrage engine immediately")
	cmd.Flags().BoolVar(&startResale, "resale", false, "start the resale module immediately")
	return cmd
}

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery cycle and print the opportunities found",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.scheduler.ForceUpdate(ctx)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			fmt.Printf("Found %d opportunities\n", count)

			opps, err := a.repo.ListOpportunities(ctx, database.OpportunityFilter{SortBy: database.SortByProfit, Limit: scanLimit})
			if err != nil {
				return fmt.Errorf("failed to list opportunities: %w", err)
			}
			for _, o := range opps {
				fmt.Printf("  %-24s %-16s %s %s -> %s %s  profit %s  [%s]\n",
					o.Name, o.Model, o.Source, o.BuyPrice, o.Target, o.SellPrice, o.Profit, o.PriceRange)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&scanLimit, "limit", 20, "number of opportunities to print")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("cannot load config: %w", err)
			}
			logger := config.NewLogger(cfg.Logging, os.Stderr)

			repo, closeDB, err := openRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("Main: schema is up to date")
			return nil
		},
	}
}
