// Package team runs multi-agent teams: a lead decomposes work into a task
// graph persisted in SQLite, teammates claim tasks under an advisory file
// lock and report back over a mailbox table.
package team

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/floradistro/whale/pkg/models"
)

// Store wraps the team SQLite database.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DBPath returns the path of a team database inside the project.
func DBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".whale", "team.db")
}

// Open opens (creating if needed) the team database at path and applies
// migrations. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Teams},
		{2, migrationV2Tasks},
		{3, migrationV3Messages},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Teams = `
CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS teammates (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL REFERENCES teams(id),
	name TEXT NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	current_task TEXT,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_teammates_team_id ON teammates(team_id);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL REFERENCES teams(id),
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_to TEXT,
	dependencies TEXT,
	files TEXT,
	result TEXT,
	error TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_team_id ON tasks(team_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV3Messages = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL REFERENCES teams(id),
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	content TEXT NOT NULL,
	read INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_to_id ON messages(team_id, to_id, read);
`

// timeLayout is RFC3339 with fixed-width nanoseconds. The fraction is never
// trimmed, so string comparison of stored values matches time ordering and
// created_at sorts stay deterministic within one second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	_ = json.Unmarshal([]byte(s), &items)
	return items
}

// CreateTeam inserts a new team and returns it.
func (s *Store) CreateTeam(name string) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	team := &models.Team{
		ID:        uuid.New().String(),
		Name:      name,
		LeadID:    models.MailboxLead,
		Status:    models.TeamActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.conn.Exec(
		"INSERT INTO teams (id, name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		team.ID, team.Name, string(team.Status), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert team: %w", err)
	}
	return team, nil
}

// SetTeamStatus updates a team's terminal status.
func (s *Store) SetTeamStatus(teamID string, status models.TeamStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(
		"UPDATE teams SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), teamID,
	)
	if err != nil {
		return fmt.Errorf("update team status: %w", err)
	}
	return nil
}

// Team loads the aggregate snapshot: the row plus its teammates and tasks.
func (s *Store) Team(teamID string) (*models.Team, error) {
	s.mu.RLock()
	var team models.Team
	var status, createdAt, updatedAt string
	err := s.conn.QueryRow(
		"SELECT id, name, status, created_at, updated_at FROM teams WHERE id = ?", teamID,
	).Scan(&team.ID, &team.Name, &status, &createdAt, &updatedAt)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("query team: %w", err)
	}
	team.LeadID = models.MailboxLead
	team.Status = models.TeamStatus(status)
	team.CreatedAt = parseTime(createdAt)
	team.UpdatedAt = parseTime(updatedAt)

	mates, err := s.Teammates(teamID)
	if err != nil {
		return nil, err
	}
	for _, tm := range mates {
		team.Teammates = append(team.Teammates, *tm)
	}
	tasks, err := s.Tasks(teamID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		team.Tasks = append(team.Tasks, *t)
	}
	return &team, nil
}

// AddTeammate registers a teammate on the team.
func (s *Store) AddTeammate(teamID, name, model string) (*models.Teammate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm := &models.Teammate{
		ID:     uuid.New().String(),
		Name:   name,
		Model:  model,
		Status: models.TeammateIdle,
	}
	_, err := s.conn.Exec(
		"INSERT INTO teammates (id, team_id, name, model, status) VALUES (?, ?, ?, ?, ?)",
		tm.ID, teamID, tm.Name, tm.Model, string(tm.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("insert teammate: %w", err)
	}
	return tm, nil
}

// UpdateTeammate persists a teammate's working state.
func (s *Store) UpdateTeammate(tm *models.Teammate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var started any
	if tm.StartedAt != nil {
		started = formatTime(*tm.StartedAt)
	}
	_, err := s.conn.Exec(
		"UPDATE teammates SET status = ?, current_task = ?, tokens_used = ?, started_at = ? WHERE id = ?",
		string(tm.Status), tm.CurrentTask, tm.TokensUsed, started, tm.ID,
	)
	if err != nil {
		return fmt.Errorf("update teammate: %w", err)
	}
	return nil
}

// AddTask inserts a pending task into the team's graph.
func (s *Store) AddTask(teamID, description string, dependencies, files []string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	task := &models.Task{
		ID:           uuid.New().String(),
		Description:  description,
		Status:       models.TaskPending,
		Dependencies: dependencies,
		Files:        files,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.conn.Exec(
		`INSERT INTO tasks (id, team_id, description, status, dependencies, files, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, teamID, task.Description, string(task.Status),
		marshalList(task.Dependencies), marshalList(task.Files),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// Task returns one task by id.
func (s *Store) Task(taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanTask(s.conn.QueryRow(taskSelect+" WHERE id = ?", taskID))
}

// Tasks returns the team's tasks ordered by creation time.
func (s *Store) Tasks(teamID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(taskSelect+" WHERE team_id = ? ORDER BY created_at, id", teamID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const taskSelect = `SELECT id, description, status, COALESCE(assigned_to, ''),
	COALESCE(dependencies, '[]'), COALESCE(files, '[]'),
	COALESCE(result, ''), COALESCE(error, ''), created_at, updated_at FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status, deps, files, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Description, &status, &t.AssignedTo, &deps, &files,
		&t.Result, &t.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = models.TaskStatus(status)
	t.Dependencies = unmarshalList(deps)
	t.Files = unmarshalList(files)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// AvailableTasks returns the pending tasks a teammate could claim right now:
// every dependency completed and no declared file shared with a task already
// in progress.
func (s *Store) AvailableTasks(teamID string) ([]*models.Task, error) {
	tasks, err := s.Tasks(teamID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Task, len(tasks))
	inProgressFiles := make(map[string]bool)
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status == models.TaskInProgress {
			for _, f := range t.Files {
				inProgressFiles[f] = true
			}
		}
	}

	var available []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskPending {
			continue
		}
		if !depsCompleted(t, byID) || conflictsWith(t, inProgressFiles) {
			continue
		}
		available = append(available, t)
	}
	return available, nil
}

func depsCompleted(t *models.Task, byID map[string]*models.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := byID[dep]
		if !ok || d.Status != models.TaskCompleted {
			return false
		}
	}
	return true
}

func conflictsWith(t *models.Task, inProgressFiles map[string]bool) bool {
	for _, f := range t.Files {
		if inProgressFiles[f] {
			return true
		}
	}
	return false
}

// ClaimTask moves a pending task to in_progress for the teammate. It is
// idempotent for the same claimant: re-claiming a task you already hold
// succeeds. Claims are refused when dependencies are incomplete, the task's
// files overlap another in-progress task's, or someone else holds it.
// Callers serialize claims across processes with a Lock.
func (s *Store) ClaimTask(teamID, taskID, teammateID string) (*models.Task, error) {
	task, err := s.Task(taskID)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", taskID, err)
	}

	if task.Status == models.TaskInProgress {
		if task.AssignedTo == teammateID {
			return task, nil
		}
		return nil, fmt.Errorf("task %s already claimed by %s", taskID, task.AssignedTo)
	}
	if task.Status != models.TaskPending {
		return nil, fmt.Errorf("task %s is %s, not claimable", taskID, task.Status)
	}

	tasks, err := s.Tasks(teamID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Task, len(tasks))
	inProgressFiles := make(map[string]bool)
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status == models.TaskInProgress {
			for _, f := range t.Files {
				inProgressFiles[f] = true
			}
		}
	}
	if !depsCompleted(task, byID) {
		return nil, fmt.Errorf("task %s has incomplete dependencies", taskID)
	}
	if conflictsWith(task, inProgressFiles) {
		return nil, fmt.Errorf("task %s touches files held by an in-progress task", taskID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.conn.Exec(
		"UPDATE tasks SET status = ?, assigned_to = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(models.TaskInProgress), teammateID, formatTime(time.Now()),
		taskID, string(models.TaskPending),
	)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("task %s claimed concurrently", taskID)
	}

	task.Status = models.TaskInProgress
	task.AssignedTo = teammateID
	return task, nil
}

// CompleteTask marks an in-progress task completed with its result text.
func (s *Store) CompleteTask(taskID, teammateID, result string) error {
	return s.finishTask(taskID, teammateID, models.TaskCompleted, result, "")
}

// FailTask marks an in-progress task blocked with the failure reason.
func (s *Store) FailTask(taskID, teammateID, reason string) error {
	return s.finishTask(taskID, teammateID, models.TaskBlocked, "", reason)
}

func (s *Store) finishTask(taskID, teammateID string, status models.TaskStatus, result, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(
		"UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ? AND assigned_to = ? AND status = ?",
		string(status), result, errText, formatTime(time.Now()),
		taskID, teammateID, string(models.TaskInProgress),
	)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s is not in progress under %s", taskID, teammateID)
	}
	return nil
}

// ReleaseTask returns a crashed teammate's task to pending so another
// teammate can pick it up.
func (s *Store) ReleaseTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(
		"UPDATE tasks SET status = ?, assigned_to = NULL, updated_at = ? WHERE id = ? AND status = ?",
		string(models.TaskPending), formatTime(time.Now()), taskID, string(models.TaskInProgress),
	)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}

// SendMessage appends a mailbox message. To may be a teammate id,
// MailboxLead or MailboxAll. Broadcasts fan out into one row per recipient
// so each inbox tracks its own read state.
func (s *Store) SendMessage(teamID, from, to, content string) (*models.TeamMessage, error) {
	recipients := []string{to}
	if to == models.MailboxAll {
		mates, err := s.Teammates(teamID)
		if err != nil {
			return nil, err
		}
		recipients = recipients[:0]
		if from != models.MailboxLead {
			recipients = append(recipients, models.MailboxLead)
		}
		for _, tm := range mates {
			if tm.ID != from {
				recipients = append(recipients, tm.ID)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.TeamMessage{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	for _, r := range recipients {
		_, err := s.conn.Exec(
			"INSERT INTO messages (id, team_id, from_id, to_id, content, read, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)",
			uuid.New().String(), teamID, msg.From, r, msg.Content, formatTime(msg.Timestamp),
		)
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	}
	return msg, nil
}

// UnreadMessages returns and marks read the messages addressed to the
// recipient. Each message is delivered once.
func (s *Store) UnreadMessages(teamID, recipient string) ([]*models.TeamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(
		`SELECT id, from_id, to_id, content, created_at FROM messages
		 WHERE team_id = ? AND read = 0 AND to_id = ?
		 ORDER BY created_at, id`,
		teamID, recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.TeamMessage
	var ids []any
	for rows.Next() {
		var m models.TeamMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = parseTime(createdAt)
		m.Read = true
		msgs = append(msgs, &m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.conn.Exec("UPDATE messages SET read = 1 WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("mark message read: %w", err)
		}
	}
	return msgs, nil
}

// Teams returns every team row, newest first.
func (s *Store) Teams() ([]*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query("SELECT id, name, status, created_at, updated_at FROM teams ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var t models.Team
		var status, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Name, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		t.LeadID = models.MailboxLead
		t.Status = models.TeamStatus(status)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		teams = append(teams, &t)
	}
	return teams, rows.Err()
}

// Teammates returns the team's registered teammates.
func (s *Store) Teammates(teamID string) ([]*models.Teammate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(
		`SELECT id, name, model, status, COALESCE(current_task, ''), tokens_used, COALESCE(started_at, '')
		 FROM teammates WHERE team_id = ? ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("query teammates: %w", err)
	}
	defer rows.Close()

	var mates []*models.Teammate
	for rows.Next() {
		var tm models.Teammate
		var status, started string
		if err := rows.Scan(&tm.ID, &tm.Name, &tm.Model, &status, &tm.CurrentTask, &tm.TokensUsed, &started); err != nil {
			return nil, fmt.Errorf("scan teammate: %w", err)
		}
		tm.Status = models.TeammateStatus(status)
		if started != "" {
			t := parseTime(started)
			tm.StartedAt = &t
		}
		mates = append(mates, &tm)
	}
	return mates, rows.Err()
}
