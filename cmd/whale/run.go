package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/floradistro/whale/internal/config"
	"github.com/floradistro/whale/internal/engine"
	"github.com/floradistro/whale/internal/notify"
	"github.com/floradistro/whale/internal/telemetry"
	"github.com/floradistro/whale/internal/tooling"
)

var (
	runModel      string
	runFallback   string
	runMaxTurns   int
	runBudget     float64
	runPlan       bool
	runYolo       bool
	runQuiet      bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt...>",
	Short: "Run one agent conversation to completion",
	Long: `Run a single tool-calling conversation in the current directory.

The model works the prompt with file and shell tools until it stops
requesting tools or a limit is hit. A second terminal can interrupt the
run with 'whale stop'.

Examples:
  whale run "add a --verbose flag to the CLI"
  whale run --plan "how would you restructure the storage layer?"
  whale run --budget 1.50 "fix the failing tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runModel, "model", "", "Model to converse with (default from config)")
	runCmd.Flags().StringVar(&runFallback, "fallback-model", "", "Model used on the final transient retry")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Cap on model round-trips (default from config)")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "Stop once estimated spend exceeds this many USD")
	runCmd.Flags().BoolVar(&runPlan, "plan", false, "Plan mode: only read-only tools may run")
	runCmd.Flags().BoolVar(&runYolo, "yolo", false, "Allow every tool call without prompting")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Print only the final response")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)

	t, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	recorder := telemetry.NewRecorder(cwd)
	defer recorder.Close()

	d := tooling.NewDispatcher()
	tooling.RegisterLocalTools(d, cwd)
	d.SetSpanHook(func(name string, durMs int64, success bool, class tooling.ErrorClass) {
		recorder.Record(name, durMs, success, string(class))
	})

	e := engine.New(t, d, engine.Config{
		Model:         cfg.Defaults.Model,
		FallbackModel: cfg.Defaults.FallbackModel,
		SystemPrompt:  runSystemPrompt(cwd),
		Tools:         tooling.LocalToolDefinitions(),
		MaxTurns:      cfg.Limits.MaxTurns,
		MaxBudgetUSD:  cfg.Limits.MaxBudgetUSD,
		Permission:    permissionMode(cfg),
		ResultCap:     cfg.Limits.ResultCap,
	})

	toolColor := color.New(color.FgCyan)
	errColor := color.New(color.FgRed)
	e.SetEventHandler(func(ev engine.Event) {
		if runQuiet {
			return
		}
		switch ev.Type {
		case engine.EventTextDelta:
			fmt.Print(ev.Text)
		case engine.EventToolStarted:
			toolColor.Fprintf(os.Stderr, "\n> %s\n", ev.Tool.Name)
		case engine.EventToolFinished:
			if ev.Tool.Status == "error" {
				errColor.Fprintf(os.Stderr, "  %s failed (%dms)\n", ev.Tool.Name, ev.Tool.DurationMs)
			}
		case engine.EventAutoCompact:
			toolColor.Fprintln(os.Stderr, "\n[context compacted]")
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	watchStopSignal(ctx, cancel, cwd)

	res, err := e.RunTurn(ctx, strings.Join(args, " "))
	if err != nil {
		if engine.IsCancelled(err) {
			fmt.Fprintln(os.Stderr, "\nrun cancelled")
			return nil
		}
		return err
	}

	if runQuiet {
		fmt.Println(res.Output)
	} else {
		fmt.Printf("\n\n%s %d round-trips, %d in / %d out tokens, ~$%.4f\n",
			color.GreenString("done:"), res.Iterations, res.TokensIn, res.TokensOut, res.CostUSD)
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runModel != "" {
		cfg.Defaults.Model = runModel
	}
	if runFallback != "" {
		cfg.Defaults.FallbackModel = runFallback
	}
	if runMaxTurns > 0 {
		cfg.Limits.MaxTurns = runMaxTurns
	}
	if runBudget > 0 {
		cfg.Limits.MaxBudgetUSD = runBudget
	}
}

func permissionMode(cfg *config.Config) engine.PermissionMode {
	switch {
	case runPlan:
		return engine.PermissionPlan
	case runYolo:
		return engine.PermissionYolo
	default:
		return engine.PermissionMode(cfg.Defaults.Permission)
	}
}

// watchStopSignal cancels the run when another whale process drops the stop
// sentinel.
func watchStopSignal(ctx context.Context, cancel context.CancelFunc, projectRoot string) {
	signals, err := notify.NewSignals(projectRoot)
	if err != nil {
		return
	}
	signals.Clear()
	go func() {
		defer signals.Close()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if signals.ShouldStop() {
					cancel()
					return
				}
			}
		}
	}()
}

func runSystemPrompt(cwd string) string {
	return fmt.Sprintf(
		"You are whale, an autonomous coding agent working in %s. Use the available tools to inspect and change the project. Prefer small verified steps; run commands to check your work. When the task is done, summarize what changed.",
		cwd,
	)
}
