// Package dispatch maps a completed Intent to a domain operation and renders
// the reply sent back to the user.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/storage"
	"go.uber.org/zap"
)

type Dispatcher struct {
	store  storage.Storage
	loc    *time.Location
	logger *zap.Logger
}

func New(store storage.Storage, loc *time.Location, logger *zap.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{store: store, loc: loc, logger: logger}
}

// Dispatch executes a completed intent on behalf of user and returns the
// reply text. Errors belong to the taxonomy in errors.go.
func (d *Dispatcher) Dispatch(ctx context.Context, user *models.User, in *models.Intent, now time.Time) (string, error) {
	now = now.In(d.loc)
	d.logger.Debug("Dispatching intent",
		zap.String("kind", string(in.Kind)),
		zap.Int64("user_id", user.ID))
	switch in.Kind {
	case models.KindCreateTask:
		return d.createTask(ctx, user, in, now, user.ID)
	case models.KindAssignTask:
		return d.assignTask(ctx, user, in, now)
	case models.KindUpdateStatus, models.KindUpdateProgress, models.KindUpdateStatusAndProgress:
		return d.updateTask(ctx, user, in)
	case models.KindAddUpdate:
		return d.addUpdate(ctx, user, in, false)
	case models.KindReportBlocker:
		return d.reportBlocker(ctx, user, in)
	case models.KindCancelTask:
		return d.cancelTask(ctx, user, in)
	case models.KindViewTask:
		return d.viewTask(ctx, user, in, now)
	case models.KindListTasks:
		return d.listTasks(ctx, user, in, now)
	case models.KindListDeadlines:
		return d.listDeadlines(ctx, user, now)
	case models.KindSetReminder, models.KindScheduleMeeting:
		return d.setReminder(ctx, user, in, now)
	case models.KindListReminders:
		return d.listReminders(ctx, user, now)
	case models.KindCancelReminder:
		return d.cancelReminder(ctx, user, in)
	case models.KindStatus:
		return d.statusSummary(ctx, user, now)
	case models.KindHelp:
		return helpText, nil
	case models.KindWelcome:
		return fmt.Sprintf("Hello %s! 👋 I'm your task assistant. Send me commands like \"create task: ...\" or \"my tasks\". Send \"help\" for the full list.", firstName(user.Name)), nil
	default:
		return fmt.Sprintf("Sorry, I didn't understand: %q. Send \"help\" to see what I can do.", strings.TrimSpace(in.OriginalText)), nil
	}
}

const helpText = `Here's what I can do:
• create task: <title>, high priority, due tomorrow
• create task for <name>: <title>
• assign task: <title> to <name>
• TASK-2026-0041 completed 50%
• mark TASK-2026-0041 as done
• update TASK-2026-0041 progress to 75%
• update on TASK-2026-0041: <note>
• TASK-2026-0041 blocked by <reason>
• show task TASK-2026-0041 / my tasks / my deadlines
• cancel task TASK-2026-0041
• remind me to <thing> at 5pm / schedule meeting: <title> tomorrow 10am
• my reminders / cancel reminder REM-2026-0007
• status`

func (d *Dispatcher) createTask(ctx context.Context, user *models.User, in *models.Intent, now time.Time, assigneeID int64) (string, error) {
	title := strings.TrimSpace(in.Slot(models.SlotTitle))
	if title == "" {
		return "", &ValidationError{Msg: "The task needs a title. What should it be called?"}
	}

	task := &models.Task{
		OrgID:       user.OrgID,
		Title:       title,
		Description: in.Slot(models.SlotDescription),
		Priority:    models.PriorityMedium,
		Status:      models.StatusPending,
		AssigneeID:  assigneeID,
		CreatedBy:   user.ID,
	}
	if p := in.Slot(models.SlotPriority); p != "" {
		task.Priority = models.Priority(p)
	}
	if dl := in.Slot(models.SlotDeadline); dl != "" {
		t, err := time.Parse(time.RFC3339, dl)
		if err != nil {
			return "", &ValidationError{Msg: "I couldn't read that deadline. Try \"due tomorrow\" or a date like 2026-09-01."}
		}
		task.Deadline = &t
	}

	if err := d.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	reply := fmt.Sprintf("✅ Task %s created: %s (%s priority)", task.ID, task.Title, task.Priority)
	if task.Deadline != nil {
		reply += fmt.Sprintf(", due %s", task.Deadline.In(d.loc).Format("Mon, 2 Jan 15:04"))
	}
	return reply, nil
}

func (d *Dispatcher) assignTask(ctx context.Context, user *models.User, in *models.Intent, now time.Time) (string, error) {
	if !user.IsManager() {
		return "", &PermissionError{Action: "assign tasks", Roles: "managers, HR and admins"}
	}
	name := strings.TrimSpace(in.Slot(models.SlotAssigneeName))
	assignee, err := d.store.FindUserByName(ctx, user.OrgID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return "", &NotFoundError{Ref: fmt.Sprintf("anyone named %q in your organization", name)}
	}
	if err != nil {
		return "", fmt.Errorf("find assignee: %w", err)
	}

	reply, err := d.createTask(ctx, user, in, now, assignee.ID)
	if err != nil {
		return "", err
	}
	return reply + fmt.Sprintf(", assigned to %s", assignee.Name), nil
}

// updateTask handles status, progress and combined updates. The write is
// verified by comparing the re-read row to the intended values; a mismatch
// is reported as a retry-suggesting error, never as silent success.
func (d *Dispatcher) updateTask(ctx context.Context, user *models.User, in *models.Intent) (string, error) {
	task, err := d.ownedTask(ctx, user, in.Slot(models.SlotTaskID))
	if err != nil {
		return "", err
	}

	var status models.TaskStatus
	if s := in.Slot(models.SlotStatus); s != "" {
		status = models.TaskStatus(s)
	}
	if in.Kind != models.KindUpdateProgress && status == "" && in.Progress == nil {
		return "", &ValidationError{Msg: "I couldn't read a valid status. Try one of: pending, in progress, completed, blocked, cancelled."}
	}

	stored, err := d.store.SetTaskStatusProgress(ctx, task.ID, status, in.Progress)
	if errors.Is(err, storage.ErrNotFound) {
		return "", &NotFoundError{Ref: task.ID}
	}
	if err != nil {
		return "", fmt.Errorf("update task: %w", err)
	}
	if status != "" && stored.Status != status {
		return "", &PersistenceError{Op: "status update"}
	}
	if in.Progress != nil && stored.Progress != *in.Progress {
		return "", &PersistenceError{Op: "progress update"}
	}

	var parts []string
	if status != "" {
		parts = append(parts, fmt.Sprintf("status → %s", prettyStatus(stored.Status)))
	}
	if in.Progress != nil {
		parts = append(parts, fmt.Sprintf("progress → %d%%", stored.Progress))
	}
	return fmt.Sprintf("✅ %s updated: %s", stored.ID, strings.Join(parts, ", ")), nil
}

func (d *Dispatcher) addUpdate(ctx context.Context, user *models.User, in *models.Intent, blocker bool) (string, error) {
	task, err := d.ownedTask(ctx, user, in.Slot(models.SlotTaskID))
	if err != nil {
		return "", err
	}
	body := in.Slot(models.SlotMessage)
	if blocker {
		body = in.Slot(models.SlotBlocker)
	}
	update := &models.TaskUpdate{
		TaskID:   task.ID,
		AuthorID: user.ID,
		Body:     body,
		Blocker:  blocker,
	}
	if err := d.store.AppendTaskUpdate(ctx, update); err != nil {
		return "", fmt.Errorf("append update: %w", err)
	}
	if blocker {
		return fmt.Sprintf("🚧 Blocker recorded on %s: %s", task.ID, body), nil
	}
	return fmt.Sprintf("📝 Update added to %s.", task.ID), nil
}

func (d *Dispatcher) reportBlocker(ctx context.Context, user *models.User, in *models.Intent) (string, error) {
	task, err := d.ownedTask(ctx, user, in.Slot(models.SlotTaskID))
	if err != nil {
		return "", err
	}
	stored, err := d.store.SetTaskStatusProgress(ctx, task.ID, models.StatusBlocked, nil)
	if err != nil {
		return "", fmt.Errorf("mark blocked: %w", err)
	}
	if stored.Status != models.StatusBlocked {
		return "", &PersistenceError{Op: "blocker report"}
	}
	return d.addUpdate(ctx, user, in, true)
}

func (d *Dispatcher) cancelTask(ctx context.Context, user *models.User, in *models.Intent) (string, error) {
	task, err := d.ownedTask(ctx, user, in.Slot(models.SlotTaskID))
	if err != nil {
		return "", err
	}
	if task.CreatedBy != user.ID && !user.IsManager() {
		return "", &PermissionError{Action: "cancel this task", Roles: "the task creator, managers, HR and admins"}
	}
	stored, err := d.store.SetTaskStatusProgress(ctx, task.ID, models.StatusCancelled, nil)
	if err != nil {
		return "", fmt.Errorf("cancel task: %w", err)
	}
	if stored.Status != models.StatusCancelled {
		return "", &PersistenceError{Op: "cancellation"}
	}
	return fmt.Sprintf("🗑 Task %s cancelled.", task.ID), nil
}

func (d *Dispatcher) viewTask(ctx context.Context, user *models.User, in *models.Intent, now time.Time) (string, error) {
	task, err := d.ownedTask(ctx, user, in.Slot(models.SlotTaskID))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s — %s\n", task.ID, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", task.Description)
	}
	fmt.Fprintf(&b, "Status: %s | Progress: %d%% | Priority: %s\n",
		prettyStatus(task.Status), task.Progress, task.Priority)
	if task.Deadline != nil {
		fmt.Fprintf(&b, "Deadline: %s%s\n",
			task.Deadline.In(d.loc).Format("Mon, 2 Jan 2006 15:04"), overdueTag(task, now))
	}

	updates, err := d.store.ListTaskUpdates(ctx, task.ID, 3)
	if err != nil {
		return "", fmt.Errorf("list updates: %w", err)
	}
	if len(updates) > 0 {
		b.WriteString("Recent updates:\n")
		for _, u := range updates {
			tag := "•"
			if u.Blocker {
				tag = "🚧"
			}
			fmt.Fprintf(&b, "%s %s\n", tag, u.Body)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) listTasks(ctx context.Context, user *models.User, in *models.Intent, now time.Time) (string, error) {
	filter := storage.TaskFilter{AssigneeID: user.ID, OrgID: user.OrgID}
	if s := in.Slot(models.SlotStatus); s != "" {
		filter.Status = models.TaskStatus(s)
	}
	if p := in.Slot(models.SlotPriority); p != "" {
		filter.Priority = models.Priority(p)
	}
	if in.Slot(models.SlotFilter) == "overdue" {
		filter.OverdueAt = &now
	}

	tasks, err := d.store.ListTasks(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "No matching tasks found. 🎉", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your tasks (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "• %s [%s, %d%%] %s%s\n",
			t.ID, prettyStatus(t.Status), t.Progress, t.Title, overdueTag(t, now))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) listDeadlines(ctx context.Context, user *models.User, now time.Time) (string, error) {
	tasks, err := d.store.ListTasks(ctx, storage.TaskFilter{AssigneeID: user.ID, OrgID: user.OrgID})
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	var b strings.Builder
	count := 0
	for _, t := range tasks {
		if t.Deadline == nil || t.Status == models.StatusCompleted || t.Status == models.StatusCancelled {
			continue
		}
		fmt.Fprintf(&b, "• %s — %s, due %s%s\n",
			t.ID, t.Title, t.Deadline.In(d.loc).Format("Mon, 2 Jan 15:04"), overdueTag(t, now))
		count++
	}
	if count == 0 {
		return "You have no upcoming deadlines. 🎉", nil
	}
	return fmt.Sprintf("Upcoming deadlines (%d):\n%s", count, strings.TrimRight(b.String(), "\n")), nil
}

func (d *Dispatcher) setReminder(ctx context.Context, user *models.User, in *models.Intent, now time.Time) (string, error) {
	when, err := time.Parse(time.RFC3339, in.Slot(models.SlotReminderTime))
	if err != nil {
		return "", &ValidationError{Msg: "I couldn't read that time. Try \"tomorrow 9am\", \"5pm\" or \"in 2 hours\"."}
	}
	if !when.After(now) {
		return "", &ValidationError{Msg: "That time is already in the past. When should I remind you?"}
	}

	kind := "oneshot"
	if in.Kind == models.KindScheduleMeeting {
		kind = "meeting"
	}
	r := &models.Reminder{
		OwnerID: user.ID,
		Title:   in.Slot(models.SlotTitle),
		Body:    in.Slot(models.SlotDescription),
		Kind:    kind,
		DueAt:   when,
	}
	if err := d.store.CreateReminder(ctx, r); err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}

	noun := "Reminder"
	if kind == "meeting" {
		noun = "Meeting"
	}
	return fmt.Sprintf("⏰ %s %s set for %s: %s",
		noun, r.ID, when.In(d.loc).Format("Mon, 2 Jan 15:04"), r.Title), nil
}

func (d *Dispatcher) listReminders(ctx context.Context, user *models.User, now time.Time) (string, error) {
	reminders, err := d.store.ListRemindersByOwner(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("list reminders: %w", err)
	}

	var b strings.Builder
	count := 0
	for _, r := range reminders {
		if r.Status != models.ReminderPending {
			continue
		}
		fmt.Fprintf(&b, "• %s — %s at %s\n",
			r.ID, r.Title, r.DueAt.In(d.loc).Format("Mon, 2 Jan 15:04"))
		count++
	}
	if count == 0 {
		return "You have no pending reminders.", nil
	}
	return fmt.Sprintf("Your reminders (%d):\n%s", count, strings.TrimRight(b.String(), "\n")), nil
}

func (d *Dispatcher) cancelReminder(ctx context.Context, user *models.User, in *models.Intent) (string, error) {
	id := in.Slot(models.SlotReminderID)
	ok, err := d.store.CancelReminder(ctx, id, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", &NotFoundError{Ref: id}
	}
	if err != nil {
		return "", fmt.Errorf("cancel reminder: %w", err)
	}
	if !ok {
		return fmt.Sprintf("Reminder %s is no longer pending.", id), nil
	}
	return fmt.Sprintf("🗑 Reminder %s cancelled.", id), nil
}

func (d *Dispatcher) statusSummary(ctx context.Context, user *models.User, now time.Time) (string, error) {
	tasks, err := d.store.ListTasks(ctx, storage.TaskFilter{AssigneeID: user.ID, OrgID: user.OrgID})
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	counts := map[models.TaskStatus]int{}
	overdue := 0
	for _, t := range tasks {
		counts[t.Status]++
		if t.Deadline != nil && t.Deadline.Before(now) &&
			t.Status != models.StatusCompleted && t.Status != models.StatusCancelled {
			overdue++
		}
	}
	return fmt.Sprintf("📊 %s: %d pending, %d in progress, %d blocked, %d completed — %d overdue",
		firstName(user.Name), counts[models.StatusPending], counts[models.StatusInProgress],
		counts[models.StatusBlocked], counts[models.StatusCompleted], overdue), nil
}

// ownedTask fetches a task and checks it is visible to the user's
// organization.
func (d *Dispatcher) ownedTask(ctx context.Context, user *models.User, id string) (*models.Task, error) {
	if id == "" {
		return nil, &ValidationError{Msg: "Which task? Please include the task ID (e.g. TASK-2026-0041)."}
	}
	task, err := d.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &NotFoundError{Ref: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if user.OrgID != "" && task.OrgID != user.OrgID {
		return nil, &NotFoundError{Ref: id}
	}
	return task, nil
}

func prettyStatus(st models.TaskStatus) string {
	return strings.ReplaceAll(string(st), "_", " ")
}

func overdueTag(t *models.Task, now time.Time) string {
	if t.Deadline != nil && t.Deadline.Before(now) &&
		t.Status != models.StatusCompleted && t.Status != models.StatusCancelled {
		return " ⚠️ overdue"
	}
	return ""
}

func firstName(name string) string {
	if name == "" {
		return "there"
	}
	return strings.Fields(name)[0]
}
