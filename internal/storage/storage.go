package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/task-bot/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// TaskFilter narrows List results with simple field filters.
type TaskFilter struct {
	AssigneeID int64
	OrgID      string
	Status     models.TaskStatus
	Priority   models.Priority
	// OverdueAt, when set, restricts to active tasks whose deadline has
	// passed at that instant.
	OverdueAt *time.Time
}

type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	// FindUserByName resolves a display name within one organization.
	FindUserByName(ctx context.Context, orgID, name string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
}

type TaskStore interface {
	// CreateTask assigns a sequence-based id (TASK-YYYY-NNNN) and persists
	// the task.
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	// SetTaskStatusProgress updates status and/or progress in one statement
	// and returns the task as stored afterwards, for write verification.
	SetTaskStatusProgress(ctx context.Context, id string, status models.TaskStatus, progress *int) (*models.Task, error)
	AppendTaskUpdate(ctx context.Context, update *models.TaskUpdate) error
	ListTaskUpdates(ctx context.Context, taskID string, limit int) ([]*models.TaskUpdate, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	// TasksDueBetween returns tasks in active statuses whose deadline falls
	// in [from, to].
	TasksDueBetween(ctx context.Context, from, to time.Time) ([]*models.Task, error)
	// MarkLeadNotified records that the given lead time fired for the task.
	// It is a conditional update: returns true only for the caller that
	// transitioned the marker, so a lead fires at most once per task.
	MarkLeadNotified(ctx context.Context, taskID, leadKey string) (bool, error)
}

type ReminderStore interface {
	// CreateReminder assigns a sequence-based id (REM-YYYY-NNNN) and
	// persists the reminder as pending.
	CreateReminder(ctx context.Context, r *models.Reminder) error
	GetReminder(ctx context.Context, id string) (*models.Reminder, error)
	// PendingRemindersDue returns pending reminders with dueAt in [from, to].
	PendingRemindersDue(ctx context.Context, from, to time.Time) ([]*models.Reminder, error)
	// MarkReminderSent transitions pending → sent. Conditional: returns true
	// only if the record was still pending, so overlapping scans cannot
	// double-send.
	MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error)
	CancelReminder(ctx context.Context, id string, ownerID int64) (bool, error)
	ListRemindersByOwner(ctx context.Context, ownerID int64) ([]*models.Reminder, error)
}

type ConversationStore interface {
	// GetConversation returns the pending conversation for a sender, or nil.
	// Conversations past their TTL are treated as absent.
	GetConversation(ctx context.Context, sender string, now time.Time) (*models.PendingConversation, error)
	// SaveConversation upserts the whole record keyed by sender in a single
	// atomic operation (last writer wins, never a partial state).
	SaveConversation(ctx context.Context, conv *models.PendingConversation) error
	DeleteConversation(ctx context.Context, sender string) error
}

// Storage aggregates all stores behind one handle, as the process uses a
// single backing database.
type Storage interface {
	UserStore
	TaskStore
	ReminderStore
	ConversationStore
	Close() error
}
