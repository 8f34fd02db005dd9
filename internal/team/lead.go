package team

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/floradistro/whale/internal/transport"
	"github.com/floradistro/whale/pkg/models"
)

// Supervision timing. Variables so tests can shrink them.
var (
	// superviseInterval is the lead's health-check cadence.
	superviseInterval = 15 * time.Second
	// teamTimeout bounds the whole run.
	teamTimeout = 5 * time.Minute
	// stallTimeout is how long a worker may go without an event before the
	// lead writes it off. A crashed goroutine and a wedged one look the
	// same from here; both get their task failed and the teammate marked
	// done.
	stallTimeout = 2 * time.Minute
)

// TaskSpec declares one task in a team blueprint. Dependencies reference
// other tasks by Name, resolved to ids when the graph is created.
type TaskSpec struct {
	Name        string   `yaml:"name" mapstructure:"name"`
	Description string   `yaml:"description" mapstructure:"description"`
	DependsOn   []string `yaml:"depends_on" mapstructure:"depends_on"`
	Files       []string `yaml:"files" mapstructure:"files"`
}

// MateSpec declares one teammate in a team blueprint.
type MateSpec struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Model string `yaml:"model" mapstructure:"model"`
}

// Blueprint is a declarative team definition.
type Blueprint struct {
	Name      string     `yaml:"name" mapstructure:"name"`
	System    string     `yaml:"system" mapstructure:"system"`
	Teammates []MateSpec `yaml:"teammates" mapstructure:"teammates"`
	Tasks     []TaskSpec `yaml:"tasks" mapstructure:"tasks"`
}

// LeadConfig configures a team lead.
type LeadConfig struct {
	// Store persists the team, its task graph and mailbox.
	Store *Store
	// Transport is shared by every teammate's conversations.
	Transport transport.Transport
	// WorkDir is the project root teammates operate in.
	WorkDir string
	// DefaultModel is used for teammates whose spec names none.
	DefaultModel string
	// OnEvent, when set, observes worker events as they arrive.
	OnEvent func(WorkerEvent)
}

// Lead orchestrates one team run: it materializes the blueprint into the
// store, runs a goroutine per teammate and supervises them until the task
// graph drains or a timeout fires.
type Lead struct {
	cfg LeadConfig

	// newWorker is swappable for tests.
	newWorker func(mate models.Teammate, teamID, system string, events chan<- WorkerEvent) *Worker
}

// NewLead returns a lead over the given config.
func NewLead(cfg LeadConfig) *Lead {
	l := &Lead{cfg: cfg}
	l.newWorker = func(mate models.Teammate, teamID, system string, events chan<- WorkerEvent) *Worker {
		lock := NewLock(filepath.Join(filepath.Dir(cfg.Store.Path()), "team.lock"))
		return NewWorker(mate, teamID, cfg.Store, lock, cfg.Transport, cfg.WorkDir, system, events)
	}
	return l
}

// Materialize writes the blueprint into the store: the team row, its
// teammates, and the task graph with name references resolved to task ids.
func (l *Lead) Materialize(bp Blueprint) (*models.Team, error) {
	if len(bp.Tasks) == 0 {
		return nil, fmt.Errorf("blueprint %q has no tasks", bp.Name)
	}
	if len(bp.Teammates) == 0 {
		return nil, fmt.Errorf("blueprint %q has no teammates", bp.Name)
	}

	team, err := l.cfg.Store.CreateTeam(bp.Name)
	if err != nil {
		return nil, err
	}

	for _, m := range bp.Teammates {
		model := m.Model
		if model == "" {
			model = l.cfg.DefaultModel
		}
		if _, err := l.cfg.Store.AddTeammate(team.ID, m.Name, model); err != nil {
			return nil, err
		}
	}

	// Two passes: insert in declaration order, then resolve name references.
	// A task may only depend on tasks declared before it, which also rules
	// out cycles.
	idByName := make(map[string]string, len(bp.Tasks))
	for _, spec := range bp.Tasks {
		if spec.Name == "" {
			return nil, fmt.Errorf("blueprint %q: task with empty name", bp.Name)
		}
		if _, dup := idByName[spec.Name]; dup {
			return nil, fmt.Errorf("blueprint %q: duplicate task name %q", bp.Name, spec.Name)
		}

		var deps []string
		for _, ref := range spec.DependsOn {
			id, ok := idByName[ref]
			if !ok {
				return nil, fmt.Errorf("task %q depends on %q, which is not declared before it", spec.Name, ref)
			}
			deps = append(deps, id)
		}

		task, err := l.cfg.Store.AddTask(team.ID, spec.Description, deps, spec.Files)
		if err != nil {
			return nil, err
		}
		idByName[spec.Name] = task.ID
	}

	return l.cfg.Store.Team(team.ID)
}

// Run executes the materialized team until the graph drains, the team
// timeout fires, or ctx ends. It returns the final team snapshot.
func (l *Lead) Run(ctx context.Context, teamID, system string) (*models.Team, error) {
	mates, err := l.cfg.Store.Teammates(teamID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, teamTimeout)
	defer cancel()

	events := make(chan WorkerEvent, 64)
	lastSeen := make(map[string]time.Time, len(mates))
	running := make(map[string]bool, len(mates))
	currentTask := make(map[string]string, len(mates))
	mateByID := make(map[string]*models.Teammate, len(mates))

	for _, mate := range mates {
		w := l.newWorker(*mate, teamID, system, events)
		lastSeen[mate.ID] = time.Now()
		running[mate.ID] = true
		mateByID[mate.ID] = mate
		go w.Run(ctx)
	}
	log.Printf("[team] started %d teammates for team %s", len(mates), teamID)

	ticker := time.NewTicker(superviseInterval)
	defer ticker.Stop()

	alive := len(mates)
	for alive > 0 {
		select {
		case <-ctx.Done():
			return l.finish(teamID, fmt.Errorf("team run ended early: %w", ctx.Err()))

		case ev := <-events:
			lastSeen[ev.TeammateID] = time.Now()
			switch ev.Kind {
			case WorkerTaskClaimed:
				currentTask[ev.TeammateID] = ev.TaskID
			case WorkerTaskCompleted, WorkerTaskFailed:
				delete(currentTask, ev.TeammateID)
			case WorkerDone:
				if running[ev.TeammateID] {
					running[ev.TeammateID] = false
					alive--
				}
			}
			if l.cfg.OnEvent != nil {
				l.cfg.OnEvent(ev)
			}

		case <-ticker.C:
			for id, active := range running {
				if !active || time.Since(lastSeen[id]) < stallTimeout {
					continue
				}
				log.Printf("[team] teammate %s stalled, failing its task", id)
				if taskID, ok := currentTask[id]; ok {
					if err := l.cfg.Store.FailTask(taskID, id, "teammate stalled: no progress within the stall timeout"); err != nil {
						log.Printf("[team] fail %s: %v", taskID, err)
					}
					delete(currentTask, id)
				}
				if mate := mateByID[id]; mate != nil {
					mate.Status = models.TeammateDone
					mate.CurrentTask = ""
					if err := l.cfg.Store.UpdateTeammate(mate); err != nil {
						log.Printf("[team] mark %s done: %v", id, err)
					}
				}
				running[id] = false
				alive--
			}
		}
	}

	return l.finish(teamID, nil)
}

// finish persists the team's terminal status. A run that drained its
// workers is completed even when some tasks ended blocked; those show up
// in the task counts. Failed is reserved for run-level errors such as the
// team timeout.
func (l *Lead) finish(teamID string, runErr error) (*models.Team, error) {
	status := models.TeamCompleted
	if runErr != nil {
		status = models.TeamFailed
		log.Printf("[team] team %s: %v", teamID, runErr)
	}

	if err := l.cfg.Store.SetTeamStatus(teamID, status); err != nil {
		return nil, err
	}
	team, err := l.cfg.Store.Team(teamID)
	if err != nil {
		return nil, err
	}
	completed, blocked := team.TaskCounts()
	log.Printf("[team] team %s finished: %s (%d completed, %d blocked of %d tasks)",
		teamID, status, completed, blocked, len(team.Tasks))
	return team, nil
}
