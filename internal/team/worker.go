package team

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/floradistro/whale/internal/engine"
	"github.com/floradistro/whale/internal/tooling"
	"github.com/floradistro/whale/internal/transport"
	"github.com/floradistro/whale/pkg/models"
)

const (
	// maxWorkerTurns bounds one task conversation. A task that cannot
	// finish in this many round-trips gets force-resolved rather than
	// burning tokens forever.
	maxWorkerTurns = 12
)

// workerPollInterval is how long an idle worker waits before re-checking
// for claimable tasks. Variable so tests can shrink it.
var workerPollInterval = time.Second

// WorkerEventKind identifies worker lifecycle notifications to the lead.
type WorkerEventKind string

const (
	// WorkerTaskClaimed fires when the worker claims a task.
	WorkerTaskClaimed WorkerEventKind = "task_claimed"
	// WorkerTaskCompleted fires when the worker's task reaches completed.
	WorkerTaskCompleted WorkerEventKind = "task_completed"
	// WorkerTaskFailed fires when the worker's task could not be finished.
	WorkerTaskFailed WorkerEventKind = "task_failed"
	// WorkerProgress is a heartbeat carrying cumulative token usage.
	WorkerProgress WorkerEventKind = "progress"
	// WorkerDone fires once when the worker exits.
	WorkerDone WorkerEventKind = "done"
)

// WorkerEvent is one notification from a worker goroutine to the lead.
type WorkerEvent struct {
	Kind       WorkerEventKind
	TeammateID string
	TaskID     string
	Tokens     int64
	Err        error
}

// Worker runs one teammate: it claims available tasks, drives a conversation
// per task, and reports lifecycle events to the lead.
type Worker struct {
	mate      models.Teammate
	teamID    string
	store     *Store
	lock      *Lock
	events    chan<- WorkerEvent
	transport transport.Transport
	workDir   string
	system    string

	// converse runs one task conversation; swappable for tests.
	converse func(ctx context.Context, task *models.Task) (*engine.TurnResult, error)
}

// NewWorker builds a worker for the teammate.
func NewWorker(mate models.Teammate, teamID string, s *Store, lock *Lock, t transport.Transport, workDir, system string, events chan<- WorkerEvent) *Worker {
	w := &Worker{
		mate:      mate,
		teamID:    teamID,
		store:     s,
		lock:      lock,
		events:    events,
		transport: t,
		workDir:   workDir,
		system:    system,
	}
	w.converse = w.converseViaEngine
	return w
}

func (w *Worker) emit(ev WorkerEvent) {
	ev.TeammateID = w.mate.ID
	w.events <- ev
}

// Run is the worker loop. It exits when no pending or in-progress work
// remains, or when ctx is cancelled. The final WorkerDone event is always
// sent.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		w.setStatus(models.TeammateDone, "")
		w.emit(WorkerEvent{Kind: WorkerDone, Tokens: w.mate.TokensUsed})
	}()

	now := time.Now().UTC()
	w.mate.StartedAt = &now

	for {
		if ctx.Err() != nil {
			return
		}

		task, remaining, err := w.claimNext(ctx)
		if err != nil {
			log.Printf("[team] %s: claim failed: %v", w.mate.Name, err)
			return
		}
		if task == nil {
			if !remaining {
				return
			}
			// Work is in flight elsewhere; our next task may unblock.
			w.setStatus(models.TeammateWaiting, "")
			select {
			case <-ctx.Done():
				return
			case <-time.After(workerPollInterval):
			}
			continue
		}

		w.setStatus(models.TeammateWorking, task.ID)
		w.emit(WorkerEvent{Kind: WorkerTaskClaimed, TaskID: task.ID})
		w.runTask(ctx, task)
	}
}

// claimNext claims the first available task under the advisory lock. A nil
// task with remaining=true means nothing is claimable yet; remaining=false
// means the graph holds no more pending work for anyone.
func (w *Worker) claimNext(ctx context.Context) (task *models.Task, remaining bool, err error) {
	lockErr := w.lock.WithLock(ctx, func() error {
		available, aerr := w.store.AvailableTasks(w.teamID)
		if aerr != nil {
			return aerr
		}
		if len(available) > 0 {
			claimed, cerr := w.store.ClaimTask(w.teamID, available[0].ID, w.mate.ID)
			if cerr != nil {
				return cerr
			}
			task = claimed
			return nil
		}

		tasks, terr := w.store.Tasks(w.teamID)
		if terr != nil {
			return terr
		}
		for _, t := range tasks {
			if t.Status == models.TaskPending || t.Status == models.TaskInProgress {
				remaining = true
				break
			}
		}
		return nil
	})
	return task, remaining, lockErr
}

// runTask drives one conversation for the claimed task and resolves the
// task's final status from the outcome.
func (w *Worker) runTask(ctx context.Context, task *models.Task) {
	res, err := w.converse(ctx, task)
	if res != nil {
		w.mate.TokensUsed += res.TokensIn + res.TokensOut
		w.emit(WorkerEvent{Kind: WorkerProgress, TaskID: task.ID, Tokens: w.mate.TokensUsed})
	}

	current, lookErr := w.store.Task(task.ID)
	if lookErr != nil {
		log.Printf("[team] %s: lookup %s: %v", w.mate.Name, task.ID, lookErr)
		return
	}

	switch {
	case current.Status == models.TaskCompleted:
		w.emit(WorkerEvent{Kind: WorkerTaskCompleted, TaskID: task.ID})

	case err != nil:
		w.failTask(task.ID, err.Error())

	case res != nil && res.TokensIn+res.TokensOut > 0:
		// The conversation ran out of turns without calling CompleteTask.
		// Real tokens were spent, so the work likely happened; close the
		// task with the final response rather than discarding it.
		result := res.Output
		if result == "" {
			result = "completed (turn limit reached)"
		}
		if cerr := w.store.CompleteTask(task.ID, w.mate.ID, result); cerr != nil {
			w.failTask(task.ID, cerr.Error())
			return
		}
		log.Printf("[team] %s: auto-completed %s after turn limit", w.mate.Name, task.ID)
		w.emit(WorkerEvent{Kind: WorkerTaskCompleted, TaskID: task.ID})

	default:
		// Zero tokens means the model never engaged; treat as a hard
		// failure, not silent success.
		w.failTask(task.ID, "conversation produced no output")
	}

	w.setStatus(models.TeammateIdle, "")
}

func (w *Worker) failTask(taskID, reason string) {
	if err := w.store.FailTask(taskID, w.mate.ID, reason); err != nil {
		log.Printf("[team] %s: fail %s: %v", w.mate.Name, taskID, err)
	}
	w.emit(WorkerEvent{Kind: WorkerTaskFailed, TaskID: taskID, Err: fmt.Errorf("%s", reason)})
}

func (w *Worker) setStatus(status models.TeammateStatus, taskID string) {
	w.mate.Status = status
	w.mate.CurrentTask = taskID
	if err := w.store.UpdateTeammate(&w.mate); err != nil {
		log.Printf("[team] %s: update status: %v", w.mate.Name, err)
	}
}

// converseViaEngine runs the task conversation on a fresh engine wired with
// the local file tools plus the team coordination tools.
func (w *Worker) converseViaEngine(ctx context.Context, task *models.Task) (*engine.TurnResult, error) {
	d := tooling.NewDispatcher()
	tooling.RegisterLocalTools(d, w.workDir)
	RegisterTeamTools(d, w.store, w.lock, w.teamID, w.mate.ID)

	tools := append(tooling.LocalToolDefinitions(), TeamToolDefinitions()...)
	e := engine.New(w.transport, d, engine.Config{
		Model:        w.mate.Model,
		SystemPrompt: w.system,
		Tools:        tools,
		MaxTurns:     maxWorkerTurns,
	})

	prompt := fmt.Sprintf(
		"You are teammate %q (id %s). Your claimed task %s:\n\n%s\n\nWork the task, then call CompleteTask with a result summary. Use CheckMail between steps; coordinate over SendMessage when your work affects others.",
		w.mate.Name, w.mate.ID, task.ID, task.Description,
	)
	return e.RunTurn(ctx, prompt)
}
