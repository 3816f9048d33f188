package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/task-bot/internal/models"
)

func TestTaskIDsAreSequential(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	year := time.Now().Year()

	for i := 1; i <= 3; i++ {
		task := &models.Task{OrgID: "acme", Title: "t", Status: models.StatusPending, AssigneeID: 1}
		require.NoError(t, s.CreateTask(ctx, task))
		assert.Equal(t, fmt.Sprintf("TASK-%d-%04d", year, i), task.ID)
	}

	r := &models.Reminder{OwnerID: 1, Title: "r", Kind: "oneshot", DueAt: time.Now()}
	require.NoError(t, s.CreateReminder(ctx, r))
	assert.Equal(t, fmt.Sprintf("REM-%d-0001", year), r.ID)
}

func TestMarkLeadNotifiedClaimsOnce(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	task := &models.Task{OrgID: "acme", Title: "t", Status: models.StatusPending, AssigneeID: 1}
	require.NoError(t, s.CreateTask(ctx, task))

	claimed, err := s.MarkLeadNotified(ctx, task.ID, "60m")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.MarkLeadNotified(ctx, task.ID, "60m")
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same lead must lose")

	claimed, err = s.MarkLeadNotified(ctx, task.ID, "30m")
	require.NoError(t, err)
	assert.True(t, claimed, "a different lead is an independent claim")

	_, err = s.MarkLeadNotified(ctx, "TASK-2026-9999", "60m")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkReminderSentClaimsOnce(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	at := time.Date(2026, 8, 25, 17, 0, 0, 0, time.UTC)

	r := &models.Reminder{OwnerID: 1, Title: "r", Kind: "oneshot", DueAt: at}
	require.NoError(t, s.CreateReminder(ctx, r))

	claimed, err := s.MarkReminderSent(ctx, r.ID, at)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.MarkReminderSent(ctx, r.ID, at)
	require.NoError(t, err)
	assert.False(t, claimed)

	stored, err := s.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderSent, stored.Status)
	require.NotNil(t, stored.SentAt)
	assert.True(t, stored.SentAt.Equal(at))
}

func TestCancelReminderOwnership(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	r := &models.Reminder{OwnerID: 1, Title: "r", Kind: "oneshot", DueAt: time.Now()}
	require.NoError(t, s.CreateReminder(ctx, r))

	_, err := s.CancelReminder(ctx, r.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound, "another owner must not see the reminder")

	ok, err := s.CancelReminder(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CancelReminder(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "cancelling twice is a no-op")

	claimed, err := s.MarkReminderSent(ctx, r.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed, "a cancelled reminder never sends")
}

func TestSetTaskStatusProgressReturnsStoredRow(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	task := &models.Task{OrgID: "acme", Title: "t", Status: models.StatusPending, AssigneeID: 1}
	require.NoError(t, s.CreateTask(ctx, task))

	p := 40
	stored, err := s.SetTaskStatusProgress(ctx, task.ID, models.StatusInProgress, &p)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Equal(t, 40, stored.Progress)

	// Status-only update leaves progress alone.
	stored, err = s.SetTaskStatusProgress(ctx, task.ID, models.StatusBlocked, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, stored.Status)
	assert.Equal(t, 40, stored.Progress)

	_, err = s.SetTaskStatusProgress(ctx, "TASK-2026-9999", models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksFilters(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	seed := []*models.Task{
		{OrgID: "acme", Title: "a", Status: models.StatusPending, Priority: models.PriorityHigh, AssigneeID: 1, Deadline: &past},
		{OrgID: "acme", Title: "b", Status: models.StatusCompleted, Priority: models.PriorityLow, AssigneeID: 1, Deadline: &past},
		{OrgID: "acme", Title: "c", Status: models.StatusInProgress, Priority: models.PriorityHigh, AssigneeID: 2, Deadline: &future},
		{OrgID: "other", Title: "d", Status: models.StatusPending, Priority: models.PriorityHigh, AssigneeID: 1},
	}
	for _, task := range seed {
		require.NoError(t, s.CreateTask(ctx, task))
	}

	got, err := s.ListTasks(ctx, TaskFilter{AssigneeID: 1, OrgID: "acme"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListTasks(ctx, TaskFilter{OrgID: "acme", Priority: models.PriorityHigh})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Overdue means past deadline and still active: the completed task drops out.
	got, err = s.ListTasks(ctx, TaskFilter{OrgID: "acme", OverdueAt: &now})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)
}

func TestTasksDueBetweenSkipsInactive(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	active := &models.Task{OrgID: "acme", Title: "a", Status: models.StatusPending, AssigneeID: 1, Deadline: &due}
	done := &models.Task{OrgID: "acme", Title: "b", Status: models.StatusCompleted, AssigneeID: 1, Deadline: &due}
	undated := &models.Task{OrgID: "acme", Title: "c", Status: models.StatusPending, AssigneeID: 1}
	for _, task := range []*models.Task{active, done, undated} {
		require.NoError(t, s.CreateTask(ctx, task))
	}

	got, err := s.TasksDueBetween(ctx, due.Add(-time.Minute), due.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func TestConversationUpsertAndExpiry(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	conv := &models.PendingConversation{
		Sender:    "919876543210",
		UserID:    1,
		Kind:      models.KindUpdateStatus,
		Collected: map[string]string{},
		Missing:   []string{models.SlotTaskID, models.SlotStatus},
		ExpiresAt: now.Add(5 * time.Minute),
	}
	require.NoError(t, s.SaveConversation(ctx, conv))

	got, err := s.GetConversation(ctx, "919876543210", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.KindUpdateStatus, got.Kind)

	// Saving again for the same sender replaces the pending state.
	conv.Kind = models.KindSetReminder
	require.NoError(t, s.SaveConversation(ctx, conv))
	got, err = s.GetConversation(ctx, "919876543210", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.KindSetReminder, got.Kind)

	// At the TTL boundary the state is dropped, and stays gone.
	got, err = s.GetConversation(ctx, "919876543210", now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetConversation(ctx, "919876543210", now)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindUserByName(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, &models.User{Name: "Priya Sharma", Phone: "919876543210", Role: "employee", OrgID: "acme"}))
	require.NoError(t, s.SaveUser(ctx, &models.User{Name: "Priya Sharma", Phone: "14155550100", Role: "employee", OrgID: "other"}))

	u, err := s.FindUserByName(ctx, "acme", "priya")
	require.NoError(t, err)
	assert.Equal(t, "919876543210", u.Phone)

	u, err = s.FindUserByName(ctx, "acme", "Priya Sharma")
	require.NoError(t, err)
	assert.Equal(t, "acme", u.OrgID)

	_, err = s.FindUserByName(ctx, "acme", "Ravi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskUpdatesTailLimit(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	task := &models.Task{OrgID: "acme", Title: "t", Status: models.StatusPending, AssigneeID: 1}
	require.NoError(t, s.CreateTask(ctx, task))

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendTaskUpdate(ctx, &models.TaskUpdate{
			TaskID:   task.ID,
			AuthorID: 1,
			Body:     fmt.Sprintf("note %d", i),
		}))
	}

	got, err := s.ListTaskUpdates(ctx, task.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "note 3", got[0].Body)
	assert.Equal(t, "note 5", got[2].Body)

	err = s.AppendTaskUpdate(ctx, &models.TaskUpdate{TaskID: "TASK-2026-9999", AuthorID: 1, Body: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
