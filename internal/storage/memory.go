package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/task-bot/internal/models"
)

// MemoryStorage is the in-memory Storage used in tests and local runs. All
// conditional updates happen under one mutex, giving the same atomicity the
// postgres implementation gets from single-statement updates.
type MemoryStorage struct {
	mu          sync.RWMutex
	users       map[int64]*models.User
	tasks       map[string]*models.Task
	updates     map[string][]*models.TaskUpdate
	reminders   map[string]*models.Reminder
	convs       map[string]*models.PendingConversation
	taskSeq     int
	reminderSeq int
	updateSeq   int64
	userSeq     int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:     make(map[int64]*models.User),
		tasks:     make(map[string]*models.Task),
		updates:   make(map[string][]*models.TaskUpdate),
		reminders: make(map[string]*models.Reminder),
		convs:     make(map[string]*models.PendingConversation),
	}
}

// User methods

func (s *MemoryStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, exists := s.users[id]; exists {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) FindUserByName(ctx context.Context, orgID, name string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(name))
	for _, u := range s.users {
		if u.OrgID != orgID {
			continue
		}
		lower := strings.ToLower(u.Name)
		if lower == needle || strings.HasPrefix(lower, needle+" ") || strings.Split(lower, " ")[0] == needle {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) SaveUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		s.userSeq++
		user.ID = s.userSeq
	} else if user.ID > s.userSeq {
		s.userSeq = user.ID
	}
	user.LastUsedAt = time.Now()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// Task methods

func (s *MemoryStorage) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.taskSeq++
	now := time.Now()
	task.ID = fmt.Sprintf("TASK-%d-%04d", now.Year(), s.taskSeq)
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.NotifiedLeads == nil {
		task.NotifiedLeads = make(map[string]bool)
	}
	cp := cloneTask(task)
	s.tasks[task.ID] = cp
	return nil
}

func (s *MemoryStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, exists := s.tasks[id]; exists {
		return cloneTask(t), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; !exists {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStorage) SetTaskStatusProgress(ctx context.Context, id string, status models.TaskStatus, progress *int) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return nil, ErrNotFound
	}
	if status != "" {
		t.Status = status
	}
	if progress != nil {
		t.Progress = *progress
	}
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

func (s *MemoryStorage) AppendTaskUpdate(ctx context.Context, update *models.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[update.TaskID]; !exists {
		return ErrNotFound
	}
	s.updateSeq++
	update.ID = s.updateSeq
	update.CreatedAt = time.Now()
	cp := *update
	s.updates[update.TaskID] = append(s.updates[update.TaskID], &cp)
	return nil
}

func (s *MemoryStorage) ListTaskUpdates(ctx context.Context, taskID string, limit int) ([]*models.TaskUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.updates[taskID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*models.TaskUpdate, 0, len(all)-start)
	for _, u := range all[start:] {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, t := range s.tasks {
		if filter.AssigneeID != 0 && t.AssigneeID != filter.AssigneeID {
			continue
		}
		if filter.OrgID != "" && t.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		if filter.OverdueAt != nil {
			if t.Deadline == nil || !t.Deadline.Before(*filter.OverdueAt) || !isActive(t.Status) {
				continue
			}
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStorage) TasksDueBetween(ctx context.Context, from, to time.Time) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, t := range s.tasks {
		if t.Deadline == nil || !isActive(t.Status) {
			continue
		}
		if t.Deadline.Before(from) || t.Deadline.After(to) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) MarkLeadNotified(ctx context.Context, taskID, leadKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return false, ErrNotFound
	}
	if t.NotifiedLeads == nil {
		t.NotifiedLeads = make(map[string]bool)
	}
	if t.NotifiedLeads[leadKey] {
		return false, nil
	}
	t.NotifiedLeads[leadKey] = true
	t.UpdatedAt = time.Now()
	return true, nil
}

// Reminder methods

func (s *MemoryStorage) CreateReminder(ctx context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reminderSeq++
	now := time.Now()
	r.ID = fmt.Sprintf("REM-%d-%04d", now.Year(), s.reminderSeq)
	r.Status = models.ReminderPending
	r.CreatedAt = now
	cp := *r
	s.reminders[r.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.reminders[id]; exists {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) PendingRemindersDue(ctx context.Context, from, to time.Time) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.Status != models.ReminderPending {
			continue
		}
		if r.DueAt.Before(from) || r.DueAt.After(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *MemoryStorage) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.reminders[id]
	if !exists {
		return false, ErrNotFound
	}
	if r.Status != models.ReminderPending {
		return false, nil
	}
	r.Status = models.ReminderSent
	r.SentAt = &at
	return true, nil
}

func (s *MemoryStorage) CancelReminder(ctx context.Context, id string, ownerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.reminders[id]
	if !exists || r.OwnerID != ownerID {
		return false, ErrNotFound
	}
	if r.Status != models.ReminderPending {
		return false, nil
	}
	r.Status = models.ReminderCancelled
	return true, nil
}

func (s *MemoryStorage) ListRemindersByOwner(ctx context.Context, ownerID int64) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.OwnerID != ownerID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

// Conversation methods

func (s *MemoryStorage) GetConversation(ctx context.Context, sender string, now time.Time) (*models.PendingConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.convs[sender]
	if !exists {
		return nil, nil
	}
	if c.Expired(now) {
		delete(s.convs, sender)
		return nil, nil
	}
	cp := cloneConversation(c)
	return cp, nil
}

func (s *MemoryStorage) SaveConversation(ctx context.Context, conv *models.PendingConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv.UpdatedAt = time.Now()
	s.convs[conv.Sender] = cloneConversation(conv)
	return nil
}

func (s *MemoryStorage) DeleteConversation(ctx context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.convs, sender)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func isActive(st models.TaskStatus) bool {
	for _, a := range models.ActiveStatuses {
		if st == a {
			return true
		}
	}
	return false
}

func cloneTask(t *models.Task) *models.Task {
	cp := *t
	if t.NotifiedLeads != nil {
		cp.NotifiedLeads = make(map[string]bool, len(t.NotifiedLeads))
		for k, v := range t.NotifiedLeads {
			cp.NotifiedLeads[k] = v
		}
	}
	cp.SecondaryIDs = append([]int64(nil), t.SecondaryIDs...)
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	return &cp
}

func cloneConversation(c *models.PendingConversation) *models.PendingConversation {
	cp := *c
	cp.Collected = make(map[string]string, len(c.Collected))
	for k, v := range c.Collected {
		cp.Collected[k] = v
	}
	cp.Missing = append([]string(nil), c.Missing...)
	return &cp
}
