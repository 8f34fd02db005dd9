package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/floradistro/whale/internal/config"
	"github.com/floradistro/whale/internal/team"
	"github.com/floradistro/whale/pkg/models"
)

var teamCmd = &cobra.Command{
	Use:   "team <blueprint.yaml>",
	Short: "Run a team of workers against a task blueprint",
	Long: `Materialize a YAML blueprint into a task graph and run it with a
worker per teammate. Workers claim tasks whose dependencies are complete
and whose files no other in-progress task touches, and coordinate over a
shared mailbox.

Example blueprint:

  name: release
  teammates:
    - name: ada
    - name: grace
  tasks:
    - name: changelog
      description: Write the changelog for v2
      files: [CHANGELOG.md]
    - name: tag
      description: Tag and push the release
      depends_on: [changelog]`,
	Args: cobra.ExactArgs(1),
	RunE: runTeam,
}

func runTeam(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	bp, err := config.LoadBlueprint(args[0])
	if err != nil {
		return err
	}

	t, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	store, err := team.Open(team.DBPath(cwd))
	if err != nil {
		return err
	}
	defer store.Close()

	lead := team.NewLead(team.LeadConfig{
		Store:        store,
		Transport:    t,
		WorkDir:      cwd,
		DefaultModel: cfg.Defaults.Model,
		OnEvent:      printWorkerEvent,
	})

	created, err := lead.Materialize(*bp)
	if err != nil {
		return err
	}
	fmt.Printf("team %s: %d teammates, %d tasks\n", created.Name, len(created.Teammates), len(created.Tasks))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	watchStopSignal(ctx, cancel, cwd)

	final, err := lead.Run(ctx, created.ID, bp.System)
	if err != nil {
		return err
	}

	printTeamSummary(final)
	if final.Status != models.TeamCompleted {
		return fmt.Errorf("team %s finished %s", final.Name, final.Status)
	}
	if !final.Succeeded() {
		completed, blocked := final.TaskCounts()
		return fmt.Errorf("team %s completed with %d blocked tasks (%d of %d done)",
			final.Name, blocked, completed, len(final.Tasks))
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printWorkerEvent(ev team.WorkerEvent) {
	switch ev.Kind {
	case team.WorkerTaskClaimed:
		color.Cyan("  %s claimed %s", short(ev.TeammateID), short(ev.TaskID))
	case team.WorkerTaskCompleted:
		color.Green("  %s completed %s", short(ev.TeammateID), short(ev.TaskID))
	case team.WorkerTaskFailed:
		color.Red("  %s failed %s: %v", short(ev.TeammateID), short(ev.TaskID), ev.Err)
	}
}

func printTeamSummary(t *models.Team) {
	fmt.Println()
	for _, task := range t.Tasks {
		mark := color.GreenString("✓")
		detail := task.Result
		if task.Status != models.TaskCompleted {
			mark = color.RedString("✗")
			detail = task.Error
		}
		fmt.Printf("%s %s", mark, task.Description)
		if detail != "" {
			fmt.Printf(": %s", detail)
		}
		fmt.Println()
	}

	var tokens int64
	for _, tm := range t.Teammates {
		tokens += tm.TokensUsed
	}
	completed, blocked := t.TaskCounts()
	fmt.Printf("\nteam %s: %s, %d completed, %d blocked, %d tokens across %d teammates\n",
		t.Name, t.Status, completed, blocked, tokens, len(t.Teammates))
}
