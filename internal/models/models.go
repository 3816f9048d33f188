package models

import (
	"strconv"
	"time"
)

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusBlocked    TaskStatus = "blocked"
	StatusCancelled  TaskStatus = "cancelled"
)

// ActiveStatuses are the states a task can still receive deadline reminders in.
var ActiveStatuses = []TaskStatus{StatusPending, StatusInProgress, StatusBlocked}

// Priority levels for tasks.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task is a unit of work assigned to a user.
type Task struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Priority     Priority   `json:"priority"`
	Status       TaskStatus `json:"status"`
	Progress     int        `json:"progress"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	AssigneeID   int64      `json:"assignee_id"`
	SecondaryIDs []int64    `json:"secondary_ids,omitempty"`
	CreatedBy    int64      `json:"created_by"`
	// NotifiedLeads records which deadline lead times have already fired,
	// keyed by the lead identifier (e.g. "1440m"). Each lead fires at most once.
	NotifiedLeads map[string]bool `json:"notified_leads,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TaskUpdate is a free-text progress note or blocker report attached to a task.
type TaskUpdate struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	Blocker   bool      `json:"blocker"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an employee reachable over a chat channel.
type User struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"` // canonical sender key
	Role           string `json:"role"`  // employee, manager, hr, admin
	OrgID          string `json:"org_id"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	ReminderOptOut bool   `json:"reminder_opt_out"`
	// LeadKeys, when non-empty, restricts which deadline lead times this
	// user is notified for.
	LeadKeys   []string  `json:"lead_keys,omitempty"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// IsManager reports whether the user may create or assign tasks for others.
func (u *User) IsManager() bool {
	switch u.Role {
	case "manager", "hr", "admin":
		return true
	}
	return false
}

// WantsLead reports whether this user should receive the given deadline lead
// time, honoring the opt-out and the subscription allowlist.
func (u *User) WantsLead(key string) bool {
	if u.ReminderOptOut {
		return false
	}
	if len(u.LeadKeys) == 0 {
		return true
	}
	for _, k := range u.LeadKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ReminderStatus is the closed set of reminder states.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a scheduled one-shot or meeting notification.
type Reminder struct {
	ID        string         `json:"id"`
	OwnerID   int64          `json:"owner_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Kind      string         `json:"kind"` // oneshot or meeting
	DueAt     time.Time      `json:"due_at"`
	Status    ReminderStatus `json:"status"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PendingConversation holds a partially-filled intent for one sender while
// missing slots are collected over follow-up messages. At most one exists per
// sender; once ExpiresAt has passed it must never be resumed.
type PendingConversation struct {
	Sender     string            `json:"sender"`
	UserID     int64             `json:"user_id"`
	Kind       IntentKind        `json:"kind"`
	Collected  map[string]string `json:"collected"`
	Missing    []string          `json:"missing"`
	LastPrompt string            `json:"last_prompt"`
	ExpiresAt  time.Time         `json:"expires_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Expired reports whether the conversation has lapsed at the given instant.
func (p *PendingConversation) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// LeadTime is one configured deadline lead: notify Minutes before the
// deadline, described to the user by Label.
type LeadTime struct {
	Minutes int    `mapstructure:"minutes" json:"minutes"`
	Label   string `mapstructure:"label" json:"label"`
}

// Key is the stable identifier used for per-task fired markers and per-user
// subscription filters.
func (l LeadTime) Key() string {
	return strconv.Itoa(l.Minutes) + "m"
}

func (l LeadTime) Duration() time.Duration {
	return time.Duration(l.Minutes) * time.Minute
}
