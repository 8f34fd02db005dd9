package team

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/floradistro/whale/internal/tooling"
	"github.com/floradistro/whale/internal/transport"
)

// TeamToolNames lists the coordination tools a teammate's conversation gets
// on top of the local file tools.
var TeamToolNames = []string{
	"SendMessage", "Broadcast", "CheckMail", "ListTasks", "ClaimTask", "CompleteTask",
}

// teamTools binds the coordination tools to one teammate's identity.
type teamTools struct {
	store  *Store
	lock   *Lock
	teamID string
	selfID string
}

// RegisterTeamTools wires the coordination tools for the given teammate into
// the dispatcher.
func RegisterTeamTools(d *tooling.Dispatcher, s *Store, lock *Lock, teamID, selfID string) {
	tt := &teamTools{store: s, lock: lock, teamID: teamID, selfID: selfID}
	for _, name := range TeamToolNames {
		d.Register(name, tooling.KindLocal, tt)
	}
}

// Execute implements tooling.Handler.
func (t *teamTools) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case "SendMessage":
		return t.sendMessage(input)
	case "Broadcast":
		return t.broadcast(input)
	case "CheckMail":
		return t.checkMail()
	case "ListTasks":
		return t.listTasks()
	case "ClaimTask":
		return t.claimTask(ctx, input)
	case "CompleteTask":
		return t.completeTask(input)
	default:
		return "", fmt.Errorf("unknown team tool: %s", name)
	}
}

func (t *teamTools) sendMessage(input json.RawMessage) (string, error) {
	var args struct {
		To      string `json:"to"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if args.To == "" || args.Content == "" {
		return "", fmt.Errorf("invalid input: to and content are required")
	}
	if _, err := t.store.SendMessage(t.teamID, t.selfID, args.To, args.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("message sent to %s", args.To), nil
}

func (t *teamTools) broadcast(input json.RawMessage) (string, error) {
	var args struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if args.Content == "" {
		return "", fmt.Errorf("invalid input: content is required")
	}
	if _, err := t.store.SendMessage(t.teamID, t.selfID, "all", args.Content); err != nil {
		return "", err
	}
	return "broadcast sent", nil
}

func (t *teamTools) checkMail() (string, error) {
	msgs, err := t.store.UnreadMessages(t.teamID, t.selfID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "no new messages", nil
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.From, m.Content)
	}
	return b.String(), nil
}

func (t *teamTools) listTasks() (string, error) {
	tasks, err := t.store.Tasks(t.teamID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, task := range tasks {
		owner := ""
		if task.AssignedTo != "" {
			owner = " @" + task.AssignedTo
		}
		fmt.Fprintf(&b, "%s [%s]%s %s\n", task.ID, task.Status, owner, task.Description)
	}
	return b.String(), nil
}

func (t *teamTools) claimTask(ctx context.Context, input json.RawMessage) (string, error) {
	var args struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	var claimed string
	err := t.lock.WithLock(ctx, func() error {
		task, err := t.store.ClaimTask(t.teamID, args.TaskID, t.selfID)
		if err != nil {
			return err
		}
		claimed = task.Description
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("claimed task %s: %s", args.TaskID, claimed), nil
}

func (t *teamTools) completeTask(input json.RawMessage) (string, error) {
	var args struct {
		TaskID string `json:"task_id"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if err := t.store.CompleteTask(args.TaskID, t.selfID, args.Result); err != nil {
		return "", err
	}
	return fmt.Sprintf("task %s completed", args.TaskID), nil
}

// TeamToolDefinitions returns the request catalogue entries for the
// coordination tools, in a stable order.
func TeamToolDefinitions() []transport.ToolDefinition {
	return []transport.ToolDefinition{
		{
			Name:        "SendMessage",
			Description: "Send a message to a teammate by id, or to 'lead'.",
			Properties: map[string]any{
				"to":      map[string]any{"type": "string", "description": "Recipient teammate id or 'lead'"},
				"content": map[string]any{"type": "string", "description": "Message body"},
			},
			Required: []string{"to", "content"},
		},
		{
			Name:        "Broadcast",
			Description: "Send a message to every teammate and the lead.",
			Properties: map[string]any{
				"content": map[string]any{"type": "string", "description": "Message body"},
			},
			Required: []string{"content"},
		},
		{
			Name:        "CheckMail",
			Description: "Read your unread messages. Each message is delivered once.",
			Properties:  map[string]any{},
		},
		{
			Name:        "ListTasks",
			Description: "List the team's tasks with status and owner.",
			Properties:  map[string]any{},
		},
		{
			Name:        "ClaimTask",
			Description: "Claim a pending task. Fails if its dependencies are incomplete, its files overlap an in-progress task, or another teammate holds it.",
			Properties: map[string]any{
				"task_id": map[string]any{"type": "string", "description": "Task id to claim"},
			},
			Required: []string{"task_id"},
		},
		{
			Name:        "CompleteTask",
			Description: "Mark a task you hold as completed, with a short result summary.",
			Properties: map[string]any{
				"task_id": map[string]any{"type": "string", "description": "Task id to complete"},
				"result":  map[string]any{"type": "string", "description": "What was done"},
			},
			Required: []string{"task_id", "result"},
		},
	}
}
