package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/floradistro/whale/internal/notify"
	"github.com/floradistro/whale/internal/team"
	"github.com/floradistro/whale/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project's team runs",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the running whale process in this project to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		signals, err := notify.NewSignals(cwd)
		if err != nil {
			return err
		}
		defer signals.Close()
		if err := signals.SendStop(); err != nil {
			return err
		}
		fmt.Println("stop signal sent")
		return nil
	},
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	dbPath := team.DBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No team runs in this project. Start one with 'whale team <blueprint.yaml>'.")
		return nil
	}

	store, err := team.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	teams, err := store.Teams()
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		fmt.Println("No team runs recorded.")
		return nil
	}

	for _, t := range teams {
		snap, err := store.Team(t.ID)
		if err != nil {
			return err
		}
		printTeamStatus(snap)
	}
	return nil
}

func printTeamStatus(t *models.Team) {
	header := color.New(color.Bold)
	header.Printf("%s  [%s]  %s\n", t.Name, t.Status, t.CreatedAt.Local().Format("2006-01-02 15:04"))

	completed, blocked := t.TaskCounts()
	fmt.Printf("  tasks: %d/%d completed, %d blocked\n", completed, len(t.Tasks), blocked)

	for _, tm := range t.Teammates {
		line := fmt.Sprintf("  %-12s %-8s %d tokens", tm.Name, tm.Status, tm.TokensUsed)
		if tm.CurrentTask != "" {
			line += "  on " + short(tm.CurrentTask)
		}
		fmt.Println(line)
	}
	fmt.Println()
}
