package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/storage"
	"go.uber.org/zap"
)

var now = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

func newDispatcher() (*Dispatcher, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()
	return New(store, time.UTC, zap.NewNop()), store
}

func seedUser(t *testing.T, store *storage.MemoryStorage, name, phone, role string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Phone: phone, Role: role, OrgID: "acme"}
	require.NoError(t, store.SaveUser(context.Background(), u))
	return u
}

func seedTask(t *testing.T, store *storage.MemoryStorage, user *models.User) *models.Task {
	t.Helper()
	task := &models.Task{
		OrgID:      user.OrgID,
		Title:      "Review budget report",
		Status:     models.StatusPending,
		Priority:   models.PriorityMedium,
		AssigneeID: user.ID,
		CreatedBy:  user.ID,
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func TestCreateTask(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	in := models.NewIntent(models.KindCreateTask)
	in.SetSlot(models.SlotTitle, "Review budget report")
	in.SetSlot(models.SlotPriority, "high")
	in.SetSlot(models.SlotDeadline, now.AddDate(0, 0, 1).Format(time.RFC3339))

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "created")
	assert.Contains(t, reply, "Review budget report")
	assert.Contains(t, reply, "high priority")

	tasks, err := store.ListTasks(ctx, storage.TaskFilter{AssigneeID: u.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.PriorityHigh, tasks[0].Priority)
	require.NotNil(t, tasks[0].Deadline)
}

func TestCreateTaskWithoutTitle(t *testing.T) {
	d, store := newDispatcher()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	_, err := d.Dispatch(context.Background(), u, models.NewIntent(models.KindCreateTask), now)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAssignTaskRequiresManager(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	employee := seedUser(t, store, "Asha Rao", "919876543210", "employee")
	seedUser(t, store, "Priya Sharma", "919876543211", "employee")

	in := models.NewIntent(models.KindAssignTask)
	in.SetSlot(models.SlotTitle, "Prepare onboarding deck")
	in.SetSlot(models.SlotAssigneeName, "Priya")

	_, err := d.Dispatch(ctx, employee, in, now)
	var perr *PermissionError
	assert.ErrorAs(t, err, &perr)
}

func TestAssignTaskToNamedUser(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	manager := seedUser(t, store, "Ravi Menon", "919876543212", "manager")
	priya := seedUser(t, store, "Priya Sharma", "919876543211", "employee")

	in := models.NewIntent(models.KindAssignTask)
	in.SetSlot(models.SlotTitle, "Prepare onboarding deck")
	in.SetSlot(models.SlotAssigneeName, "Priya")

	reply, err := d.Dispatch(ctx, manager, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "assigned to Priya Sharma")

	tasks, err := store.ListTasks(ctx, storage.TaskFilter{AssigneeID: priya.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, manager.ID, tasks[0].CreatedBy)
}

func TestAssignTaskUnknownName(t *testing.T) {
	d, store := newDispatcher()
	manager := seedUser(t, store, "Ravi Menon", "919876543212", "manager")

	in := models.NewIntent(models.KindAssignTask)
	in.SetSlot(models.SlotTitle, "Prepare onboarding deck")
	in.SetSlot(models.SlotAssigneeName, "Nobody")

	_, err := d.Dispatch(context.Background(), manager, in, now)
	var nferr *NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

func TestCombinedStatusProgressUpdate(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")
	task := seedTask(t, store, u)

	p := 50
	in := models.NewIntent(models.KindUpdateStatusAndProgress)
	in.SetSlot(models.SlotTaskID, task.ID)
	in.SetSlot(models.SlotStatus, string(models.StatusCompleted))
	in.Progress = &p

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "completed")
	assert.Contains(t, reply, "50%")

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 50, stored.Progress)
}

func TestUpdateUnknownTask(t *testing.T) {
	d, store := newDispatcher()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	in := models.NewIntent(models.KindUpdateStatus)
	in.SetSlot(models.SlotTaskID, "TASK-2026-9999")
	in.SetSlot(models.SlotStatus, string(models.StatusCompleted))

	_, err := d.Dispatch(context.Background(), u, in, now)
	var nferr *NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

func TestTaskInvisibleAcrossOrgs(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")
	task := seedTask(t, store, u)

	outsider := &models.User{Name: "Eve", Phone: "14155550100", Role: "admin", OrgID: "other"}
	require.NoError(t, store.SaveUser(ctx, outsider))

	in := models.NewIntent(models.KindViewTask)
	in.SetSlot(models.SlotTaskID, task.ID)

	_, err := d.Dispatch(ctx, outsider, in, now)
	var nferr *NotFoundError
	assert.ErrorAs(t, err, &nferr, "tasks outside the caller's org read as not found")
}

func TestReportBlocker(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")
	task := seedTask(t, store, u)

	in := models.NewIntent(models.KindReportBlocker)
	in.SetSlot(models.SlotTaskID, task.ID)
	in.SetSlot(models.SlotBlocker, "vendor delay")

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "vendor delay")

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, stored.Status)

	updates, err := store.ListTaskUpdates(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Blocker)
}

func TestCancelTaskPermissions(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	creator := seedUser(t, store, "Asha Rao", "919876543210", "employee")
	task := seedTask(t, store, creator)

	// A colleague who neither created the task nor manages cannot cancel it.
	colleague := seedUser(t, store, "Priya Sharma", "919876543211", "employee")
	in := models.NewIntent(models.KindCancelTask)
	in.SetSlot(models.SlotTaskID, task.ID)

	_, err := d.Dispatch(ctx, colleague, in, now)
	var perr *PermissionError
	assert.ErrorAs(t, err, &perr)

	reply, err := d.Dispatch(ctx, creator, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "cancelled")
}

func TestViewTaskShowsRecentUpdates(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")
	task := seedTask(t, store, u)

	for _, note := range []string{"kickoff done", "draft sent", "waiting on finance", "final review"} {
		require.NoError(t, store.AppendTaskUpdate(ctx, &models.TaskUpdate{TaskID: task.ID, AuthorID: u.ID, Body: note}))
	}

	in := models.NewIntent(models.KindViewTask)
	in.SetSlot(models.SlotTaskID, task.ID)

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, task.Title)
	assert.Contains(t, reply, "final review")
	assert.NotContains(t, reply, "kickoff done", "only the three most recent updates are shown")
}

func TestSetReminderRejectsPast(t *testing.T) {
	d, store := newDispatcher()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	in := models.NewIntent(models.KindSetReminder)
	in.SetSlot(models.SlotTitle, "submit timesheet")
	in.SetSlot(models.SlotReminderTime, now.Add(-time.Hour).Format(time.RFC3339))

	_, err := d.Dispatch(context.Background(), u, in, now)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReminderLifecycle(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	in := models.NewIntent(models.KindSetReminder)
	in.SetSlot(models.SlotTitle, "submit timesheet")
	in.SetSlot(models.SlotReminderTime, now.Add(2*time.Hour).Format(time.RFC3339))

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "submit timesheet")

	reply, err = d.Dispatch(ctx, u, models.NewIntent(models.KindListReminders), now)
	require.NoError(t, err)
	assert.Contains(t, reply, "submit timesheet")

	reminders, err := store.ListRemindersByOwner(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)

	cancel := models.NewIntent(models.KindCancelReminder)
	cancel.SetSlot(models.SlotReminderID, reminders[0].ID)
	reply, err = d.Dispatch(ctx, u, cancel, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "cancelled")

	reply, err = d.Dispatch(ctx, u, models.NewIntent(models.KindListReminders), now)
	require.NoError(t, err)
	assert.Equal(t, "You have no pending reminders.", reply)
}

func TestScheduleMeetingKind(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	in := models.NewIntent(models.KindScheduleMeeting)
	in.SetSlot(models.SlotTitle, "sprint review")
	in.SetSlot(models.SlotReminderTime, now.Add(24*time.Hour).Format(time.RFC3339))

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "Meeting")

	reminders, err := store.ListRemindersByOwner(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "meeting", reminders[0].Kind)
}

func TestListTasksOverdueFilter(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	overdue := &models.Task{OrgID: "acme", Title: "late one", Status: models.StatusPending, AssigneeID: u.ID, CreatedBy: u.ID, Deadline: &past}
	onTime := &models.Task{OrgID: "acme", Title: "fine one", Status: models.StatusPending, AssigneeID: u.ID, CreatedBy: u.ID, Deadline: &future}
	require.NoError(t, store.CreateTask(ctx, overdue))
	require.NoError(t, store.CreateTask(ctx, onTime))

	in := models.NewIntent(models.KindListTasks)
	in.SetSlot(models.SlotFilter, "overdue")

	reply, err := d.Dispatch(ctx, u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "late one")
	assert.NotContains(t, reply, "fine one")
}

func TestStatusSummary(t *testing.T) {
	d, store := newDispatcher()
	ctx := context.Background()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	seedTask(t, store, u)
	done := seedTask(t, store, u)
	_, err := store.SetTaskStatusProgress(ctx, done.ID, models.StatusCompleted, nil)
	require.NoError(t, err)

	reply, err := d.Dispatch(ctx, u, models.NewIntent(models.KindStatus), now)
	require.NoError(t, err)
	assert.Contains(t, reply, "Asha")
	assert.Contains(t, reply, "1 pending")
	assert.Contains(t, reply, "1 completed")
}

func TestUnknownIntentEchoesMessage(t *testing.T) {
	d, store := newDispatcher()
	u := seedUser(t, store, "Asha Rao", "919876543210", "employee")

	in := models.NewIntent(models.KindUnknown)
	in.OriginalText = "the weather is nice"

	reply, err := d.Dispatch(context.Background(), u, in, now)
	require.NoError(t, err)
	assert.Contains(t, reply, "the weather is nice")
	assert.Contains(t, reply, "help")
}
