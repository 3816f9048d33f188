// Package conversation carries partially-filled intents across turns until
// every required slot is collected, one clarifying prompt at a time.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/normalize"
	"github.com/xaenox/task-bot/internal/parser"
	"go.uber.org/zap"
)

// Store is the slice of storage the engine needs.
type Store interface {
	GetConversation(ctx context.Context, sender string, now time.Time) (*models.PendingConversation, error)
	SaveConversation(ctx context.Context, conv *models.PendingConversation) error
	DeleteConversation(ctx context.Context, sender string) error
}

// requiredSlots is the static per-kind slot table. Order matters: the first
// missing slot is the one prompted for.
var requiredSlots = map[models.IntentKind][]string{
	models.KindCreateTask:              {models.SlotTitle},
	models.KindAssignTask:              {models.SlotTitle, models.SlotAssigneeName},
	models.KindUpdateStatus:            {models.SlotTaskID, models.SlotStatus},
	models.KindUpdateProgress:          {models.SlotTaskID, models.SlotProgress},
	models.KindUpdateStatusAndProgress: {models.SlotTaskID},
	models.KindAddUpdate:               {models.SlotTaskID, models.SlotMessage},
	models.KindReportBlocker:           {models.SlotTaskID, models.SlotBlocker},
	models.KindCancelTask:              {models.SlotTaskID},
	models.KindViewTask:                {models.SlotTaskID},
	models.KindSetReminder:             {models.SlotTitle, models.SlotReminderTime},
	models.KindScheduleMeeting:         {models.SlotTitle, models.SlotReminderTime},
	models.KindCancelReminder:          {models.SlotReminderID},
}

var slotPrompts = map[string]string{
	models.SlotTitle:        "What should the task or reminder be called?",
	models.SlotAssigneeName: "Who should this task be assigned to?",
	models.SlotTaskID:       "Which task? Please send the task ID (e.g. TASK-2026-0041).",
	models.SlotReminderID:   "Which reminder? Please send the reminder ID (e.g. REM-2026-0007).",
	models.SlotStatus:       "What is the new status? (pending, in progress, completed, blocked, cancelled)",
	models.SlotProgress:     "What is the progress percentage? (0-100)",
	models.SlotMessage:      "What update would you like to add?",
	models.SlotBlocker:      "What is blocking this task?",
	models.SlotReminderTime: "When should I remind you? (e.g. tomorrow 9am, 5pm, in 2 hours)",
}

var cancelKeywords = map[string]bool{
	"cancel": true, "stop": true, "nevermind": true, "never mind": true,
	"forget it": true, "abort": true,
}

// Engine persists pending conversations per sender and merges follow-up
// replies into them.
type Engine struct {
	store  Store
	parser *parser.Parser
	ttl    time.Duration
	logger *zap.Logger
}

func NewEngine(store Store, p *parser.Parser, ttl time.Duration, logger *zap.Logger) *Engine {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{store: store, parser: p, ttl: ttl, logger: logger}
}

// MissingSlots returns the required slots the intent does not carry yet.
func MissingSlots(in *models.Intent) []string {
	var missing []string
	for _, slot := range requiredSlots[in.Kind] {
		if !in.HasSlot(slot) {
			missing = append(missing, slot)
		}
	}
	return missing
}

// Prompt renders the clarifying question for a slot.
func Prompt(slot string) string {
	if p, ok := slotPrompts[slot]; ok {
		return p
	}
	return fmt.Sprintf("Please provide the %s.", slot)
}

// Begin checks a freshly parsed intent for completeness. A complete intent is
// returned as-is with an empty prompt; an incomplete one is persisted as a
// PendingConversation and the first clarifying prompt is returned.
func (e *Engine) Begin(ctx context.Context, sender string, userID int64, in *models.Intent, now time.Time) (*models.Intent, string, error) {
	missing := MissingSlots(in)
	if len(missing) == 0 {
		return in, "", nil
	}

	prompt := Prompt(missing[0])
	conv := &models.PendingConversation{
		Sender:     sender,
		UserID:     userID,
		Kind:       in.Kind,
		Collected:  collectSlots(in),
		Missing:    missing,
		LastPrompt: prompt,
		ExpiresAt:  now.Add(e.ttl),
	}
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, "", fmt.Errorf("save conversation: %w", err)
	}
	e.logger.Debug("Conversation started",
		zap.String("sender", sender),
		zap.String("kind", string(in.Kind)),
		zap.Strings("missing", missing))
	return nil, prompt, nil
}

// Pending returns the live pending conversation for a sender, if any.
// Expired state is never resumed.
func (e *Engine) Pending(ctx context.Context, sender string, now time.Time) (*models.PendingConversation, error) {
	return e.store.GetConversation(ctx, sender, now)
}

// Resume merges a follow-up reply into the pending conversation. It returns
// either a completed intent (conversation deleted), or the next prompt
// (state updated), or cancelled=true when the sender backed out.
func (e *Engine) Resume(ctx context.Context, conv *models.PendingConversation, reply string, now time.Time) (in *models.Intent, prompt string, cancelled bool, err error) {
	trimmed := strings.TrimSpace(reply)
	if cancelKeywords[strings.ToLower(trimmed)] {
		if err := e.store.DeleteConversation(ctx, conv.Sender); err != nil {
			return nil, "", false, fmt.Errorf("delete conversation: %w", err)
		}
		return nil, "", true, nil
	}

	slot := e.inferSlot(conv, trimmed)
	conv.Collected[slot] = e.coerce(slot, trimmed, now)

	merged := e.toIntent(conv)
	missing := MissingSlots(merged)
	if len(missing) == 0 {
		if err := e.store.DeleteConversation(ctx, conv.Sender); err != nil {
			return nil, "", false, fmt.Errorf("delete conversation: %w", err)
		}
		return merged, "", false, nil
	}

	conv.Missing = missing
	conv.LastPrompt = Prompt(missing[0])
	conv.ExpiresAt = now.Add(e.ttl)
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return nil, "", false, fmt.Errorf("save conversation: %w", err)
	}
	return nil, conv.LastPrompt, false, nil
}

// inferSlot picks which missing slot a reply fills. A single missing slot
// takes the reply verbatim; otherwise content patterns decide, and when
// nothing matches the first missing slot takes it (a known best-effort
// heuristic).
func (e *Engine) inferSlot(conv *models.PendingConversation, reply string) string {
	if len(conv.Missing) == 1 {
		return conv.Missing[0]
	}

	has := func(name string) bool {
		for _, m := range conv.Missing {
			if m == name {
				return true
			}
		}
		return false
	}

	switch {
	case parser.TimeLike(reply) && has(models.SlotReminderTime):
		return models.SlotReminderTime
	case parser.TimeLike(reply) && has(models.SlotDeadline):
		return models.SlotDeadline
	case normalize.IsStatusWord(reply) && has(models.SlotStatus):
		return models.SlotStatus
	case normalize.LooksLikeRef(reply) && has(models.SlotTaskID):
		return models.SlotTaskID
	case normalize.LooksLikeRef(reply) && has(models.SlotReminderID):
		return models.SlotReminderID
	}
	return conv.Missing[0]
}

// coerce canonicalizes a reply for the slot it is being assigned to.
func (e *Engine) coerce(slot, reply string, now time.Time) string {
	now = now.In(e.parser.Location())
	switch slot {
	case models.SlotTaskID:
		return normalize.TaskRef(reply, now)
	case models.SlotReminderID:
		return normalize.ReminderRef(reply, now)
	case models.SlotStatus:
		return string(normalize.Status(reply))
	case models.SlotProgress:
		if p, ok := normalize.ClampProgress(reply); ok {
			return fmt.Sprintf("%d", p)
		}
		return ""
	case models.SlotReminderTime, models.SlotDeadline:
		if t := parser.ResolveWhen(reply, now); t != nil {
			return t.Format(time.RFC3339)
		}
		return ""
	}
	return reply
}

// toIntent rebuilds the intent from collected slots, kind preserved from the
// original message.
func (e *Engine) toIntent(conv *models.PendingConversation) *models.Intent {
	in := models.NewIntent(conv.Kind)
	for k, v := range conv.Collected {
		if k == models.SlotProgress {
			if p, ok := normalize.ClampProgress(v); ok {
				in.Progress = &p
			}
			continue
		}
		in.SetSlot(k, v)
	}
	return in
}

func collectSlots(in *models.Intent) map[string]string {
	out := make(map[string]string, len(in.Slots)+1)
	for k, v := range in.Slots {
		out[k] = v
	}
	if in.Progress != nil {
		out[models.SlotProgress] = fmt.Sprintf("%d", *in.Progress)
	}
	return out
}
