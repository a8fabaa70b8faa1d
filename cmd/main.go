package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"profile2site/internal/app"
	"profile2site/internal/browser"
	"profile2site/internal/config"
	"profile2site/internal/extract"
	"profile2site/internal/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "profile2site",
	Short:         "Resolve directory profile pages to the company websites they link to",
	Long:          `A resumable browser scraper that visits company profile pages, extracts the linked website and checkpoints every outcome so an interrupted run can pick up where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Process the input, creating the progress snapshot if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd, app.Options{})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue from an existing progress snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		retryFailed, err := cmd.Flags().GetBool("retry-failed")
		if err != nil {
			return err
		}
		return runScrape(cmd, app.Options{Resume: true, RetryFailed: retryFailed})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the snapshot against the input without opening a browser",
	RunE:  runStatus,
}

var singleCmd = &cobra.Command{
	Use:   "single URL",
	Short: "Extract the website of one profile page and print it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSingle,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")

	config.RegisterFlags(startCmd.Flags())
	config.RegisterFlags(resumeCmd.Flags())
	resumeCmd.Flags().Bool("retry-failed", false, "Move failed records back to pending before resuming")
	config.RegisterFlags(statusCmd.Flags())
	config.RegisterFlags(singleCmd.Flags())

	rootCmd.AddCommand(startCmd, resumeCmd, statusCmd, singleCmd)
}

// setup loads the configuration and builds the logger
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func runScrape(cmd *cobra.Command, opts app.Options) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launch := func(ctx context.Context) (browser.Browser, error) {
		return browser.New(ctx, cfg.Browser.Driver, app.BrowserOptions(cfg), log)
	}
	controller, b, err := app.Prepare(ctx, cfg, launch, opts, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("Error closing browser", zap.Error(err))
		}
	}()
	defer func() {
		if err := controller.Close(); err != nil {
			log.Error("Error closing snapshot", zap.Error(err))
		}
	}()

	// First signal drains, second one cancels in-flight work.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		log.Info("Received shutdown signal, finishing in-flight records (signal again to stop now)")
		controller.Stop()

		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		log.Warn("Received second shutdown signal, stopping now")
		cancel()
	}()

	summary, err := controller.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resolved=%d failed=%d pending=%d report=%s\n",
		summary.Counts.Resolved, summary.Counts.Failed, summary.Counts.Pending, summary.ReportPath)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	loaded, err := app.Load(cmd.Context(), cfg, app.SnapshotReadOnly, log)
	if err != nil {
		return err
	}
	defer loaded.Snapshot.Close()

	return app.WriteStatus(cmd.OutOrStdout(), loaded)
}

func runSingle(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	target := args[0]
	if err := extract.ValidateTarget(target); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := browser.New(ctx, cfg.Browser.Driver, app.BrowserOptions(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	value, err := extract.New(page, app.ExtractOptions(cfg), log).Extract(ctx, target)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
