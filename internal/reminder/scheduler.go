// Package reminder runs the timer-driven dispatcher that fires task deadline
// lead times and standalone reminders, each at most once.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaenox/task-bot/internal/channel"
	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/storage"
	"go.uber.org/zap"
)

// deadlineWindow is the symmetric window around now+lead a task deadline must
// fall into for that lead to fire on this tick.
const deadlineWindow = 30 * time.Second

// jitterWindow is how far back the standalone scan looks for pending
// reminders, tolerating scheduler delay between ticks.
const jitterWindow = 5 * time.Minute

// Scheduler owns the ticker and both scans. It is independently startable
// and stoppable; ticks that arrive while a scan is still running are skipped.
type Scheduler struct {
	store     storage.Storage
	ch        channel.Channel
	leadTimes []models.LeadTime
	interval  time.Duration
	loc       *time.Location
	logger    *zap.Logger

	running atomic.Bool
	stopCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewScheduler(store storage.Storage, ch channel.Channel, leadTimes []models.LeadTime, interval time.Duration, loc *time.Location, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	if ch == nil {
		ch = channel.Noop{}
	}
	return &Scheduler{
		store:     store,
		ch:        ch,
		leadTimes: leadTimes,
		interval:  interval,
		loc:       loc,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic scan goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Reminder dispatcher started",
			zap.Duration("interval", s.interval),
			zap.Int("lead_times", len(s.leadTimes)))

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the dispatcher and waits for an in-flight scan to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// ForceScan runs one scan immediately, for operational testing. Returns an
// error if a scan is already in flight.
func (s *Scheduler) ForceScan(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scan already running")
	}
	defer s.running.Store(false)
	s.scan(ctx, time.Now().In(s.loc))
	return nil
}

// tick guards against overlapping scans: if the previous scan is still doing
// I/O when the next tick fires, the tick is dropped.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Skipping reminder scan, previous scan still running")
		return
	}
	defer s.running.Store(false)
	s.scan(ctx, time.Now().In(s.loc))
}

func (s *Scheduler) scan(ctx context.Context, now time.Time) {
	if !s.ch.Configured() {
		s.logger.Debug("Notification channel not configured, skipping reminder scan")
		return
	}
	s.scanDeadlines(ctx, now)
	s.scanStandalone(ctx, now)
}

// scanDeadlines fires each configured lead time for tasks whose deadline
// falls in the window around now+lead. Each lead fires at most once per
// task; the marker is written even when some sends fail so the scan never
// re-fires.
func (s *Scheduler) scanDeadlines(ctx context.Context, now time.Time) {
	for _, lead := range s.leadTimes {
		target := now.Add(lead.Duration())
		tasks, err := s.store.TasksDueBetween(ctx, target.Add(-deadlineWindow), target.Add(deadlineWindow))
		if err != nil {
			s.logger.Error("Deadline scan failed",
				zap.Error(err),
				zap.String("lead", lead.Key()))
			continue
		}

		for _, task := range tasks {
			if task.NotifiedLeads[lead.Key()] {
				continue
			}
			// Claim the lead before sending: the conditional mark is the
			// at-most-once gate when scans overlap.
			claimed, err := s.store.MarkLeadNotified(ctx, task.ID, lead.Key())
			if err != nil {
				s.logger.Error("Failed to mark lead notified",
					zap.Error(err),
					zap.String("task_id", task.ID),
					zap.String("lead", lead.Key()))
				continue
			}
			if !claimed {
				continue
			}
			s.notifyAssignees(ctx, task, lead)
		}
	}
}

func (s *Scheduler) notifyAssignees(ctx context.Context, task *models.Task, lead models.LeadTime) {
	text := fmt.Sprintf("⏰ Reminder: task %s (%s) is due in %s.", task.ID, task.Title, lead.Label)
	recipients := append([]int64{task.AssigneeID}, task.SecondaryIDs...)
	seen := make(map[int64]bool, len(recipients))

	for _, id := range recipients {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true

		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			s.logger.Warn("Reminder recipient not found",
				zap.Int64("user_id", id),
				zap.String("task_id", task.ID))
			continue
		}
		if !user.WantsLead(lead.Key()) {
			continue
		}
		if err := s.ch.Send(ctx, user.Phone, text); err != nil {
			s.logger.Error("Failed to send deadline reminder",
				zap.Error(err),
				zap.Int64("user_id", id),
				zap.String("task_id", task.ID),
				zap.String("lead", lead.Key()))
		}
	}
}

// scanStandalone delivers due one-shot and meeting reminders exactly once.
// The pending → sent transition happens before the send attempt, so two
// overlapping ticks can never both deliver the same record.
func (s *Scheduler) scanStandalone(ctx context.Context, now time.Time) {
	due, err := s.store.PendingRemindersDue(ctx, now.Add(-jitterWindow), now)
	if err != nil {
		s.logger.Error("Standalone reminder scan failed", zap.Error(err))
		return
	}

	for _, r := range due {
		claimed, err := s.store.MarkReminderSent(ctx, r.ID, now)
		if err != nil {
			s.logger.Error("Failed to mark reminder sent",
				zap.Error(err),
				zap.String("reminder_id", r.ID))
			continue
		}
		if !claimed {
			continue
		}

		owner, err := s.store.GetUser(ctx, r.OwnerID)
		if err != nil {
			s.logger.Warn("Reminder owner not found",
				zap.Int64("user_id", r.OwnerID),
				zap.String("reminder_id", r.ID))
			continue
		}

		text := fmt.Sprintf("⏰ %s", r.Title)
		if r.Kind == "meeting" {
			text = fmt.Sprintf("📅 Meeting now: %s", r.Title)
		}
		if r.Body != "" {
			text += "\n" + r.Body
		}
		if err := s.ch.Send(ctx, owner.Phone, text); err != nil {
			s.logger.Error("Failed to send reminder",
				zap.Error(err),
				zap.String("reminder_id", r.ID),
				zap.Int64("user_id", owner.ID))
		}
	}
}
