package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/playwright-community/playwright-go"
	"github.com/spf13/cobra"

	"github.com/wayfarer-labs/pilot/internal/cache"
	"github.com/wayfarer-labs/pilot/internal/classifier"
	"github.com/wayfarer-labs/pilot/internal/config"
	"github.com/wayfarer-labs/pilot/internal/driver"
	"github.com/wayfarer-labs/pilot/internal/executor"
	"github.com/wayfarer-labs/pilot/internal/observability"
	"github.com/wayfarer-labs/pilot/internal/orchestrator"
	"github.com/wayfarer-labs/pilot/internal/perception"
	"github.com/wayfarer-labs/pilot/internal/planner"
	"github.com/wayfarer-labs/pilot/internal/resolver"
	"github.com/wayfarer-labs/pilot/internal/session"
	"github.com/wayfarer-labs/pilot/internal/sitepatterns"
	"github.com/wayfarer-labs/pilot/internal/workflow"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath   string
		workflowPath string
	)

	cmd := &cobra.Command{
		Use:   "run [raw text]",
		Short: "Classify, plan, and execute a natural-language command",
		Long: `run sends raw_text through the Classifier, Planner, and Executor
against a freshly acquired browser session, then prints the resulting
PlanOutcome.

With --workflow, raw_text is ignored and the named YAML/JSON5 document is
parsed directly into an ActionPlan, bypassing the Classifier and Planner.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			rawText := joinArgs(args)
			return runCommand(cmd.Context(), cmd.OutOrStdout(), cfg, rawText, workflowPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file (defaults applied when omitted)")
	cmd.Flags().StringVarP(&workflowPath, "workflow", "w", "", "Run a structured workflow document instead of classifying raw text")

	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the resolved configuration defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file (defaults applied when omitted)")
	return cmd
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func printStatus(w io.Writer, cfg *config.Config) error {
	_, err := fmt.Fprintf(w, "driver=%s pool.max_sessions=%d orchestrator.deadline=%s classifier.mode=%s\n",
		cfg.Driver.Backend, cfg.Pool.MaxSessions, cfg.Orchestrator.Deadline, cfg.Classifier.Mode)
	return err
}

// runCommand wires every component per SPEC_FULL.md's COMPONENT MAP and
// runs a single Orchestrator.Execute call, releasing the browser and pool
// on return.
func runCommand(ctx context.Context, w io.Writer, cfg *config.Config, rawText, workflowPath string) error {
	logger := observability.MustNewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("pilot: start playwright: %w", err)
	}
	defer pw.Stop()

	factory := func(ctx context.Context) (driver.Adapter, error) {
		return driver.NewPlaywrightAdapter(pw, driver.PlaywrightOptions{
			Headless:       cfg.Driver.Headless,
			ViewportWidth:  cfg.Driver.ViewportWidth,
			ViewportHeight: cfg.Driver.ViewportHeight,
			RemoteURL:      cfg.Driver.RemoteURL,
		})
	}

	pool := session.New(cfg.Pool, factory)
	defer pool.Drain()

	res := resolver.New(cfg.Resolver, sitepatterns.New(nil))
	eng := perception.New(cfg.Perception, cache.NewSnapshotCache(cache.SnapshotCacheOptions{TTL: cfg.Perception.StandardBudget, MaxSize: 256}))
	ex := executor.New(res, eng)
	pl := planner.New(cfg.Perception, cfg.Planner)
	cls := classifier.NewRuleBased(classifier.NewSiteWhitelist())

	orc := orchestrator.New(cls, pl, pool, ex, logger, cfg.Orchestrator)

	if workflowPath != "" {
		return runWorkflow(ctx, w, orc, workflowPath)
	}

	result, err := orc.Execute(ctx, rawText, orchestrator.Options{})
	if err != nil {
		return err
	}
	return printResult(w, result)
}

func runWorkflow(ctx context.Context, w io.Writer, orc *orchestrator.Orchestrator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pilot: read workflow %s: %w", path, err)
	}
	plan, err := workflow.ParseFile(path, data)
	if err != nil {
		return err
	}
	result, err := orc.ExecutePlan(ctx, plan)
	if err != nil {
		return err
	}
	return printResult(w, result)
}

func printResult(w io.Writer, result *orchestrator.Result) error {
	_, err := fmt.Fprintf(w, "task_type=%s outcome=%s steps_completed=%d steps_failed=%d summary=%q\n",
		result.TaskType, result.Outcome, result.Exec.SuccessCount, result.Exec.FailureCount, result.Exec.Summary)
	return err
}
