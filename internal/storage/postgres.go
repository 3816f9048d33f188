package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/xaenox/task-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

// User methods

const userColumns = `id, name, phone, role, org_id, telegram_chat_id, reminder_opt_out, lead_keys, last_used_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var leadKeys pq.StringArray
	err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Role, &u.OrgID,
		&u.TelegramChatID, &u.ReminderOptOut, &leadKeys, &u.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning user: %v", err)
	}
	u.LeadKeys = leadKeys
	return u, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStorage) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
	return scanUser(row)
}

func (s *PostgresStorage) FindUserByName(ctx context.Context, orgID, name string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE org_id = $1 AND (LOWER(name) = LOWER($2) OR LOWER(name) LIKE LOWER($2) || ' %')
		 ORDER BY id LIMIT 1`, orgID, name)
	return scanUser(row)
}

func (s *PostgresStorage) SaveUser(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO users (name, phone, role, org_id, telegram_chat_id, reminder_opt_out, lead_keys)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, last_used_at`,
			user.Name, user.Phone, user.Role, user.OrgID, user.TelegramChatID,
			user.ReminderOptOut, pq.Array(user.LeadKeys),
		).Scan(&user.ID, &user.LastUsedAt)
		if err != nil {
			return fmt.Errorf("error creating user: %v", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = $2, phone = $3, role = $4, org_id = $5,
		 telegram_chat_id = $6, reminder_opt_out = $7, lead_keys = $8, last_used_at = NOW()
		 WHERE id = $1`,
		user.ID, user.Name, user.Phone, user.Role, user.OrgID,
		user.TelegramChatID, user.ReminderOptOut, pq.Array(user.LeadKeys))
	if err != nil {
		return fmt.Errorf("error updating user: %v", err)
	}
	return nil
}

// Task methods

const taskColumns = `id, org_id, title, description, priority, status, progress, deadline,
	assignee_id, secondary_ids, created_by, notified_leads, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var secondary pq.Int64Array
	var leads pq.StringArray
	var deadline sql.NullTime
	err := row.Scan(&t.ID, &t.OrgID, &t.Title, &t.Description, &t.Priority,
		&t.Status, &t.Progress, &deadline, &t.AssigneeID, &secondary,
		&t.CreatedBy, &leads, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning task: %v", err)
	}
	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	t.SecondaryIDs = secondary
	t.NotifiedLeads = make(map[string]bool, len(leads))
	for _, k := range leads {
		t.NotifiedLeads[k] = true
	}
	return t, nil
}

func (s *PostgresStorage) CreateTask(ctx context.Context, task *models.Task) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tasks (id, org_id, title, description, priority, status, progress,
		                    deadline, assignee_id, secondary_ids, created_by)
		 VALUES ('TASK-' || to_char(NOW(), 'YYYY') || '-' || lpad(nextval('task_seq')::text, 4, '0'),
		         $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		task.OrgID, task.Title, task.Description, task.Priority, task.Status,
		task.Progress, task.Deadline, task.AssigneeID, pq.Array(task.SecondaryIDs),
		task.CreatedBy,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating task: %v", err)
	}
	if task.NotifiedLeads == nil {
		task.NotifiedLeads = make(map[string]bool)
	}
	return nil
}

func (s *PostgresStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *PostgresStorage) UpdateTask(ctx context.Context, task *models.Task) error {
	leads := make([]string, 0, len(task.NotifiedLeads))
	for k, v := range task.NotifiedLeads {
		if v {
			leads = append(leads, k)
		}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET org_id = $2, title = $3, description = $4, priority = $5,
		 status = $6, progress = $7, deadline = $8, assignee_id = $9,
		 secondary_ids = $10, notified_leads = $11, updated_at = NOW()
		 WHERE id = $1`,
		task.ID, task.OrgID, task.Title, task.Description, task.Priority,
		task.Status, task.Progress, task.Deadline, task.AssigneeID,
		pq.Array(task.SecondaryIDs), pq.Array(leads))
	if err != nil {
		return fmt.Errorf("error updating task: %v", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) SetTaskStatusProgress(ctx context.Context, id string, status models.TaskStatus, progress *int) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE tasks SET
		   status = COALESCE(NULLIF($2, ''), status),
		   progress = COALESCE($3, progress),
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+taskColumns,
		id, string(status), progress)
	return scanTask(row)
}

func (s *PostgresStorage) AppendTaskUpdate(ctx context.Context, update *models.TaskUpdate) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO task_updates (task_id, author_id, body, blocker)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		update.TaskID, update.AuthorID, update.Body, update.Blocker,
	).Scan(&update.ID, &update.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending task update: %v", err)
	}
	return nil
}

func (s *PostgresStorage) ListTaskUpdates(ctx context.Context, taskID string, limit int) ([]*models.TaskUpdate, error) {
	if limit <= 0 {
		limit = 10
	}
	// The newest rows, returned in chronological order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, author_id, body, blocker, created_at FROM (
		   SELECT id, task_id, author_id, body, blocker, created_at
		   FROM task_updates WHERE task_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) tail ORDER BY created_at`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying task updates: %v", err)
	}
	defer rows.Close()

	var out []*models.TaskUpdate
	for rows.Next() {
		u := &models.TaskUpdate{}
		if err := rows.Scan(&u.ID, &u.TaskID, &u.AuthorID, &u.Body, &u.Blocker, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning task update: %v", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE TRUE`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+cond, len(args))
	}
	if filter.AssigneeID != 0 {
		add("assignee_id = $%d", filter.AssigneeID)
	}
	if filter.OrgID != "" {
		add("org_id = $%d", filter.OrgID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Priority != "" {
		add("priority = $%d", string(filter.Priority))
	}
	if filter.OverdueAt != nil {
		add("deadline IS NOT NULL AND deadline < $%d AND status IN ('pending', 'in_progress', 'blocked')", *filter.OverdueAt)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying tasks: %v", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresStorage) TasksDueBetween(ctx context.Context, from, to time.Time) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE deadline BETWEEN $1 AND $2
		   AND status IN ('pending', 'in_progress', 'blocked')
		 ORDER BY id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("error querying due tasks: %v", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) MarkLeadNotified(ctx context.Context, taskID, leadKey string) (bool, error) {
	// Conditional append: only the caller that actually adds the marker
	// sees an affected row, so each lead fires at most once per task.
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET notified_leads = array_append(notified_leads, $2), updated_at = NOW()
		 WHERE id = $1 AND NOT ($2 = ANY(notified_leads))`,
		taskID, leadKey)
	if err != nil {
		return false, fmt.Errorf("error marking lead notified: %v", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %v", err)
	}
	return n > 0, nil
}

// Reminder methods

const reminderColumns = `id, owner_id, title, body, kind, due_at, status, sent_at, created_at`

func scanReminder(row interface{ Scan(...any) error }) (*models.Reminder, error) {
	r := &models.Reminder{}
	var sentAt sql.NullTime
	err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Body, &r.Kind, &r.DueAt,
		&r.Status, &sentAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning reminder: %v", err)
	}
	if sentAt.Valid {
		t := sentAt.Time
		r.SentAt = &t
	}
	return r, nil
}

func (s *PostgresStorage) CreateReminder(ctx context.Context, r *models.Reminder) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reminders (id, owner_id, title, body, kind, due_at)
		 VALUES ('REM-' || to_char(NOW(), 'YYYY') || '-' || lpad(nextval('reminder_seq')::text, 4, '0'),
		         $1, $2, $3, $4, $5)
		 RETURNING id, status, created_at`,
		r.OwnerID, r.Title, r.Body, r.Kind, r.DueAt,
	).Scan(&r.ID, &r.Status, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating reminder: %v", err)
	}
	return nil
}

func (s *PostgresStorage) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	return scanReminder(row)
}

func (s *PostgresStorage) PendingRemindersDue(ctx context.Context, from, to time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status = 'pending' AND due_at BETWEEN $1 AND $2
		 ORDER BY due_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("error querying due reminders: %v", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = 'sent', sent_at = $2
		 WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return false, fmt.Errorf("error marking reminder sent: %v", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %v", err)
	}
	return n > 0, nil
}

func (s *PostgresStorage) CancelReminder(ctx context.Context, id string, ownerID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = 'cancelled'
		 WHERE id = $1 AND owner_id = $2 AND status = 'pending'`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("error cancelling reminder: %v", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %v", err)
	}
	return n > 0, nil
}

func (s *PostgresStorage) ListRemindersByOwner(ctx context.Context, ownerID int64) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE owner_id = $1 ORDER BY due_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error querying reminders: %v", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Conversation methods

func (s *PostgresStorage) GetConversation(ctx context.Context, sender string, now time.Time) (*models.PendingConversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sender, user_id, kind, collected, missing, last_prompt, expires_at, updated_at
		 FROM conversations WHERE sender = $1 AND expires_at > $2`, sender, now)

	c := &models.PendingConversation{}
	var collected []byte
	var missing pq.StringArray
	err := row.Scan(&c.Sender, &c.UserID, &c.Kind, &collected, &missing,
		&c.LastPrompt, &c.ExpiresAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning conversation: %v", err)
	}
	if err := json.Unmarshal(collected, &c.Collected); err != nil {
		return nil, fmt.Errorf("error decoding conversation slots: %v", err)
	}
	c.Missing = missing
	return c, nil
}

func (s *PostgresStorage) SaveConversation(ctx context.Context, conv *models.PendingConversation) error {
	collected, err := json.Marshal(conv.Collected)
	if err != nil {
		return fmt.Errorf("error encoding conversation slots: %v", err)
	}
	// Single-statement upsert keyed by sender: concurrent replies from the
	// same sender resolve last-writer-wins without partial state.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (sender, user_id, kind, collected, missing, last_prompt, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (sender) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   kind = EXCLUDED.kind,
		   collected = EXCLUDED.collected,
		   missing = EXCLUDED.missing,
		   last_prompt = EXCLUDED.last_prompt,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = NOW()`,
		conv.Sender, conv.UserID, string(conv.Kind), collected,
		pq.Array(conv.Missing), conv.LastPrompt, conv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("error saving conversation: %v", err)
	}
	return nil
}

func (s *PostgresStorage) DeleteConversation(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE sender = $1`, sender)
	if err != nil {
		return fmt.Errorf("error deleting conversation: %v", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
