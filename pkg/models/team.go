package models

import "time"

// TaskStatus represents the current state of a team task.
type TaskStatus string

const (
	// TaskPending indicates the task has not started.
	TaskPending TaskStatus = "pending"
	// TaskInProgress indicates a teammate is working on the task.
	TaskInProgress TaskStatus = "in_progress"
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskBlocked indicates the task cannot proceed.
	TaskBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true once the task can no longer change state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskBlocked
}

// Task is one unit of team work.
//
// A task moves pending -> in_progress only when every dependency is completed
// and no in_progress task shares an entry in Files. Only the teammate named in
// AssignedTo may move it out of in_progress.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is what the task asks for.
	Description string `json:"description"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the teammate currently holding the task, if any.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Files lists the paths this task is expected to touch. Tasks whose
	// Files intersect are never in_progress at the same time.
	Files []string `json:"files,omitempty"`
	// Result holds the teammate's output once completed.
	Result string `json:"result,omitempty"`
	// Error holds the failure reason once blocked.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// TeammateStatus represents the lifecycle state of a teammate.
type TeammateStatus string

const (
	// TeammateIdle indicates the teammate holds no task.
	TeammateIdle TeammateStatus = "idle"
	// TeammateWorking indicates the teammate holds a task.
	TeammateWorking TeammateStatus = "working"
	// TeammateWaiting indicates no task is claimable but work remains in flight.
	TeammateWaiting TeammateStatus = "waiting"
	// TeammateDone indicates the teammate has exited.
	TeammateDone TeammateStatus = "done"
)

// Valid returns true if the status is a known value.
func (s TeammateStatus) Valid() bool {
	switch s {
	case TeammateIdle, TeammateWorking, TeammateWaiting, TeammateDone:
		return true
	default:
		return false
	}
}

// Teammate is one agent worker inside a team.
type Teammate struct {
	// ID is the unique identifier for this teammate.
	ID string `json:"id"`
	// Name is the human-readable teammate name.
	Name string `json:"name"`
	// Model is the model identifier this teammate converses with.
	Model string `json:"model"`
	// Status is the current lifecycle state.
	Status TeammateStatus `json:"status"`
	// CurrentTask is the task the teammate holds, if any.
	CurrentTask string `json:"current_task,omitempty"`
	// TokensUsed is the cumulative token count for this teammate.
	TokensUsed int64 `json:"tokens_used"`
	// StartedAt is when the teammate's worker started, nil before that.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// MailboxLead is the To address for messages directed at the team lead.
const MailboxLead = "lead"

// MailboxAll is the To address for broadcast messages.
const MailboxAll = "all"

// TeamMessage is inter-agent mail.
type TeamMessage struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// From is the sending teammate ID (or MailboxLead).
	From string `json:"from"`
	// To is the receiving teammate ID, MailboxLead, or MailboxAll.
	To string `json:"to"`
	// Content is the message body.
	Content string `json:"content"`
	// Timestamp is when the message was sent.
	Timestamp time.Time `json:"timestamp"`
	// Read marks whether the recipient has seen the message.
	Read bool `json:"read"`
}

// TeamStatus represents the overall state of a team.
type TeamStatus string

const (
	// TeamActive indicates workers are still running.
	TeamActive TeamStatus = "active"
	// TeamCompleted indicates the team finished.
	TeamCompleted TeamStatus = "completed"
	// TeamFailed indicates the team could not finish.
	TeamFailed TeamStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TeamStatus) Valid() bool {
	switch s {
	case TeamActive, TeamCompleted, TeamFailed:
		return true
	default:
		return false
	}
}

// Team is the aggregate root of one team run. Any read-modify-write that
// touches more than one field happens under the team's advisory lock.
type Team struct {
	// ID is the unique identifier for this team.
	ID string `json:"id"`
	// Name is the human-readable team name.
	Name string `json:"name"`
	// LeadID identifies the lead orchestrator.
	LeadID string `json:"lead_id"`
	// Teammates are the workers of this team.
	Teammates []Teammate `json:"teammates"`
	// Tasks is the team's task graph.
	Tasks []Task `json:"tasks"`
	// Messages is the team's mailbox.
	Messages []TeamMessage `json:"messages"`
	// Status is the overall team state.
	Status TeamStatus `json:"status"`
	// CreatedAt is when the team was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the team last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskCounts returns how many tasks are completed and how many blocked.
func (t *Team) TaskCounts() (completed, blocked int) {
	for _, task := range t.Tasks {
		switch task.Status {
		case TaskCompleted:
			completed++
		case TaskBlocked:
			blocked++
		}
	}
	return completed, blocked
}

// Succeeded reports whether every task completed with none blocked. A team
// can finish with status completed and still not have succeeded.
func (t *Team) Succeeded() bool {
	completed, blocked := t.TaskCounts()
	return blocked == 0 && completed == len(t.Tasks)
}

// TaskByID returns a pointer into Tasks for the given id, or nil.
func (t *Team) TaskByID(id string) *Task {
	for i := range t.Tasks {
		if t.Tasks[i].ID == id {
			return &t.Tasks[i]
		}
	}
	return nil
}

// TeammateByID returns a pointer into Teammates for the given id, or nil.
func (t *Team) TeammateByID(id string) *Teammate {
	for i := range t.Teammates {
		if t.Teammates[i].ID == id {
			return &t.Teammates[i]
		}
	}
	return nil
}
