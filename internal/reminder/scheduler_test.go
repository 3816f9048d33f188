package reminder

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/storage"
	"go.uber.org/zap"
)

type fakeChannel struct {
	mu         sync.Mutex
	sends      []string // "to|text"
	configured bool
}

func (f *fakeChannel) Send(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to+"|"+text)
	return nil
}

func (f *fakeChannel) Configured() bool { return f.configured }

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

var testLeads = []models.LeadTime{
	{Minutes: 60, Label: "1 hour"},
	{Minutes: 30, Label: "30 minutes"},
}

func newScheduler(t *testing.T) (*Scheduler, *storage.MemoryStorage, *fakeChannel) {
	t.Helper()
	store := storage.NewMemoryStorage()
	ch := &fakeChannel{configured: true}
	s := NewScheduler(store, ch, testLeads, time.Minute, time.UTC, zap.NewNop())
	return s, store, ch
}

func addUser(t *testing.T, store *storage.MemoryStorage, phone string) *models.User {
	t.Helper()
	u := &models.User{Name: "Asha", Phone: phone, Role: "employee", OrgID: "acme"}
	require.NoError(t, store.SaveUser(context.Background(), u))
	return u
}

func addTask(t *testing.T, store *storage.MemoryStorage, assignee int64, deadline time.Time) *models.Task {
	t.Helper()
	task := &models.Task{
		OrgID:      "acme",
		Title:      "Review budget report",
		Status:     models.StatusPending,
		Priority:   models.PriorityMedium,
		AssigneeID: assignee,
		CreatedBy:  assignee,
		Deadline:   &deadline,
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func TestDeadlineLeadFiresAtMostOnce(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	task := addTask(t, store, u.ID, now.Add(60*time.Minute))

	s.scan(ctx, now)
	assert.Equal(t, 1, ch.count(), "1-hour lead fires on the first scan")

	// The same tick repeated must not re-fire the claimed lead.
	s.scan(ctx, now)
	s.scan(ctx, now.Add(10*time.Second))
	assert.Equal(t, 1, ch.count())

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.NotifiedLeads["60m"])
	assert.False(t, stored.NotifiedLeads["30m"])
}

func TestEachLeadFiresIndependently(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	task := addTask(t, store, u.ID, now.Add(60*time.Minute))

	s.scan(ctx, now)
	require.Equal(t, 1, ch.count())

	// Thirty minutes later the 30-minute lead window opens.
	s.scan(ctx, now.Add(30*time.Minute))
	assert.Equal(t, 2, ch.count())

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.NotifiedLeads["60m"])
	assert.True(t, stored.NotifiedLeads["30m"])
}

func TestInactiveTaskNeverFires(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	task := addTask(t, store, u.ID, now.Add(60*time.Minute))
	_, err := store.SetTaskStatusProgress(ctx, task.ID, models.StatusCancelled, nil)
	require.NoError(t, err)

	s.scan(ctx, now)
	assert.Zero(t, ch.count())
}

func TestSecondaryAssigneesDeduplicated(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	u1 := addUser(t, store, "919876543210")
	u2 := addUser(t, store, "919876543211")

	deadline := now.Add(60 * time.Minute)
	task := &models.Task{
		OrgID:        "acme",
		Title:        "Vendor audit",
		Status:       models.StatusInProgress,
		AssigneeID:   u1.ID,
		SecondaryIDs: []int64{u2.ID, u1.ID}, // primary repeated
		CreatedBy:    u1.ID,
		Deadline:     &deadline,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	s.scan(ctx, now)
	assert.Equal(t, 2, ch.count(), "each recipient exactly once")
}

func TestOptOutAndAllowlist(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	optedOut := &models.User{Name: "Ravi", Phone: "919876543212", Role: "employee", OrgID: "acme", ReminderOptOut: true}
	require.NoError(t, store.SaveUser(ctx, optedOut))
	addTask(t, store, optedOut.ID, now.Add(60*time.Minute))

	// Subscribed only to the 30-minute lead.
	picky := &models.User{Name: "Meera", Phone: "919876543213", Role: "employee", OrgID: "acme", LeadKeys: []string{"30m"}}
	require.NoError(t, store.SaveUser(ctx, picky))
	addTask(t, store, picky.ID, now.Add(60*time.Minute))

	s.scan(ctx, now)
	assert.Zero(t, ch.count(), "opt-out blocks all leads, allowlist blocks the 1-hour lead")

	s.scan(ctx, now.Add(30*time.Minute))
	assert.Equal(t, 1, ch.count(), "allowlisted 30-minute lead reaches the subscriber")
	assert.True(t, strings.HasPrefix(ch.sends[0], picky.Phone+"|"))
}

func TestStandaloneReminderExactlyOnce(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 17, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	r := &models.Reminder{OwnerID: u.ID, Title: "submit timesheet", Kind: "oneshot", DueAt: now}
	require.NoError(t, store.CreateReminder(ctx, r))

	s.scan(ctx, now)
	require.Equal(t, 1, ch.count())
	assert.Contains(t, ch.sends[0], "submit timesheet")

	s.scan(ctx, now)
	s.scan(ctx, now.Add(time.Minute))
	assert.Equal(t, 1, ch.count(), "sent reminder never re-fires")

	stored, err := store.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderSent, stored.Status)
	require.NotNil(t, stored.SentAt)
}

func TestReminderOlderThanJitterWindowIsDropped(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 17, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	r := &models.Reminder{OwnerID: u.ID, Title: "stale", Kind: "oneshot", DueAt: now.Add(-6 * time.Minute)}
	require.NoError(t, store.CreateReminder(ctx, r))

	s.scan(ctx, now)
	assert.Zero(t, ch.count())
}

func TestMeetingReminderText(t *testing.T) {
	s, store, ch := newScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	r := &models.Reminder{OwnerID: u.ID, Title: "sprint review", Kind: "meeting", DueAt: now}
	require.NoError(t, store.CreateReminder(ctx, r))

	s.scan(ctx, now)
	require.Equal(t, 1, ch.count())
	assert.Contains(t, ch.sends[0], "Meeting now: sprint review")
}

func TestUnconfiguredChannelSkipsScan(t *testing.T) {
	s, store, ch := newScheduler(t)
	ch.configured = false
	ctx := context.Background()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	u := addUser(t, store, "919876543210")
	addTask(t, store, u.ID, now.Add(60*time.Minute))
	r := &models.Reminder{OwnerID: u.ID, Title: "submit timesheet", Kind: "oneshot", DueAt: now}
	require.NoError(t, store.CreateReminder(ctx, r))

	s.scan(ctx, now)
	assert.Zero(t, ch.count())

	// The reminder stays pending for when the channel comes up.
	stored, err := store.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderPending, stored.Status)
}

func TestForceScanRejectsOverlap(t *testing.T) {
	s, _, _ := newScheduler(t)

	s.running.Store(true)
	err := s.ForceScan(context.Background())
	assert.Error(t, err)

	s.running.Store(false)
	assert.NoError(t, s.ForceScan(context.Background()))
}
