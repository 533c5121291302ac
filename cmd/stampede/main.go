package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surgeworks/stampede/pkg/blob"
	"github.com/surgeworks/stampede/pkg/config"
	"github.com/surgeworks/stampede/pkg/history"
	"github.com/surgeworks/stampede/pkg/log"
	"github.com/surgeworks/stampede/pkg/manager"
	"github.com/surgeworks/stampede/pkg/metrics"
	"github.com/surgeworks/stampede/pkg/orchestrator"
	"github.com/surgeworks/stampede/pkg/provider"
	"github.com/surgeworks/stampede/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stampede",
	Short: "Stampede - Distributed load-test orchestrator",
	Long: `Stampede partitions a load test across a fleet of short-lived cloud
worker containers, shepherds them through their lifecycle, aggregates
the per-worker result streams, and grades the target's performance.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stampede version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir(), "Directory for the run history database")

	runCmd.Flags().String("plan", "", "Path to the YAML test plan (required)")
	runCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	runCmd.MarkFlagRequired("plan")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resultsCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a load test described by a YAML plan file",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: true})

		planPath, _ := cmd.Flags().GetString("plan")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		tp, err := config.Load(planPath)
		if err != nil {
			return err
		}

		if metricsAddr != "" {
			metrics.Serve(metricsAddr)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := blob.NewS3Store(ctx, tp.Cloud.Region)
		if err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}

		prov, err := provider.NewECSProvider(ctx, provider.ECSConfig{
			Region:           tp.Cloud.Region,
			Cluster:          tp.Cloud.Cluster,
			Subnets:          tp.Cloud.Subnets,
			SecurityGroups:   tp.Cloud.SecurityGroups,
			AssignPublicIP:   tp.Cloud.AssignPublicIP,
			ExecutionRoleARN: tp.Cloud.ExecutionRoleARN,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize container provider: %w", err)
		}

		var hist *history.Store
		if dataDir != "" {
			if mkErr := os.MkdirAll(dataDir, 0755); mkErr == nil {
				var hErr error
				if hist, hErr = history.Open(dataDir); hErr != nil {
					log.Warn("run history disabled: " + hErr.Error())
					hist = nil
				}
			}
		}
		orch := orchestrator.New(prov, store, manager.DefaultConfig(), hist)
		outcome, err := orch.Run(ctx, tp.PlanInput())
		if hist != nil {
			hist.Close()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(types.ExitCodeFor(outcome, err))
		}

		printOutcome(outcome)
		os.Exit(types.ExitCodeFor(outcome, nil))
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List past run outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		hist, err := history.Open(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer hist.Close()

		outcomes, err := hist.List()
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(outcomes) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		fmt.Printf("%-28s  %-10s  %-6s  %-6s  %s\n", "RUN ID", "STATUS", "GRADE", "SCORE", "STARTED")
		for _, o := range outcomes {
			grade, score := "-", "-"
			if o.Report != nil {
				grade = o.Report.Grade
				score = fmt.Sprintf("%d", o.Report.Score)
			}
			fmt.Printf("%-28s  %-10s  %-6s  %-6s  %s\n",
				o.RunID, o.Status, grade, score, o.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func printOutcome(o *types.RunOutcome) {
	fmt.Printf("Run %s finished: %s\n", o.RunID, o.Status)
	if o.Report != nil {
		fmt.Printf("  Grade: %s (score %d/100)\n", o.Report.Grade, o.Report.Score)
		for _, f := range o.Report.Findings {
			fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Title, f.Detail)
		}
	}
	if o.Manifest != nil {
		fmt.Printf("  Workers: %d/%d succeeded\n", o.Manifest.SuccessfulWorkers, o.Manifest.WorkerCount)
	}
	if o.SummaryLocation != "" {
		fmt.Printf("  Results: %s\n", o.SummaryLocation)
	}
	if o.OrchestratorError != "" {
		fmt.Printf("  Warning: %s\n", o.OrchestratorError)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stampede"
	}
	return home + "/.stampede"
}
