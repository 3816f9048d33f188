// Package interpreter resolves messages the rule cascade could not, by asking
// an LLM to emit one JSON object shaped exactly like an Intent.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/normalize"
	"go.uber.org/zap"
)

// CompletionClient is the slice of the OpenAI client the interpreter uses.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTInterpreter struct {
	client      CompletionClient
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	loc         *time.Location
	logger      *zap.Logger
}

func NewGPTInterpreter(apiKey, model string, maxTokens int, temperature float64, timeout time.Duration, loc *time.Location, logger *zap.Logger) *GPTInterpreter {
	return &GPTInterpreter{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		loc:         loc,
		logger:      logger,
	}
}

// NewWithClient is used by tests to substitute the completion transport.
func NewWithClient(client CompletionClient, loc *time.Location, logger *zap.Logger) *GPTInterpreter {
	return &GPTInterpreter{
		client:      client,
		model:       openai.GPT4oMini,
		maxTokens:   300,
		temperature: 0.2,
		timeout:     12 * time.Second,
		loc:         loc,
		logger:      logger,
	}
}

// wireIntent is the JSON contract with the model. Fields outside this shape
// are ignored.
type wireIntent struct {
	Kind         string          `json:"kind"`
	TaskID       string          `json:"taskId"`
	ReminderID   string          `json:"reminderId"`
	Status       string          `json:"status"`
	Progress     json.RawMessage `json:"progress"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Priority     string          `json:"priority"`
	Deadline     string          `json:"deadline"`
	AssigneeName string          `json:"assigneeName"`
	ReminderTime string          `json:"reminderTime"`
	Blocker      string          `json:"blocker"`
	Message      string          `json:"message"`
}

var knownKinds = map[string]models.IntentKind{}

func init() {
	for _, k := range []models.IntentKind{
		models.KindCreateTask, models.KindAssignTask, models.KindUpdateStatus,
		models.KindUpdateProgress, models.KindUpdateStatusAndProgress,
		models.KindAddUpdate, models.KindReportBlocker, models.KindCancelTask,
		models.KindViewTask, models.KindListTasks, models.KindListDeadlines,
		models.KindSetReminder, models.KindScheduleMeeting, models.KindListReminders,
		models.KindCancelReminder, models.KindStatus, models.KindHelp,
		models.KindWelcome, models.KindUnknown,
	} {
		knownKinds[string(k)] = k
	}
}

// Interpret asks the model to classify one message. The current local
// datetime is recomputed here on every call so relative expressions in the
// reply resolve against the request instant, never a stale template.
// Transport and parse failures are returned as errors; the caller decides
// how to fall back.
func (g *GPTInterpreter) Interpret(ctx context.Context, text string, user *models.User, now time.Time) (*models.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	now = now.In(g.loc)
	role, name := "employee", "there"
	if user != nil {
		role, name = user.Role, user.Name
	}

	prompt := fmt.Sprintf(`You are the command parser of a task management chat bot.
The sender is %s (role: %s). Current local date and time: %s.

Classify the message below into exactly one JSON object:
{
  "kind": one of [createTask, assignTask, updateStatus, updateProgress, updateStatusAndProgress, addUpdate, reportBlocker, cancelTask, viewTask, listTasks, listDeadlines, setReminder, scheduleMeeting, listReminders, cancelReminder, status, help, welcome, unknown],
  "taskId": "", "reminderId": "", "status": "", "progress": null,
  "title": "", "description": "", "priority": "", "deadline": "",
  "assigneeName": "", "reminderTime": "", "blocker": "", "message": ""
}

Rules:
- Fill only fields relevant to the kind; leave the rest empty.
- Resolve relative dates and times ("tomorrow", "in 2 hours") against the
  current local date and time given above, output RFC3339.
- progress is a number 0-100 when mentioned, otherwise null.
- If the message is not a task or reminder command, use kind "unknown".
- Return the JSON object only, no prose.

Message: %s`, name, role, now.Format("Monday, 2 January 2006 15:04 MST"), text)

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   g.maxTokens,
			Temperature: float32(g.temperature),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	raw := extractJSON(resp.Choices[0].Message.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in completion response")
	}

	var wire wireIntent
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		g.logger.Warn("Unparseable interpreter response",
			zap.Error(err),
			zap.String("response", raw))
		return nil, fmt.Errorf("decode completion JSON: %w", err)
	}

	return g.toIntent(&wire, text, now), nil
}

// extractJSON returns the first balanced JSON object in s, or "".
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// toIntent normalizes the wire shape with the same invariants the rule
// matcher output obeys: canonical status, clamped progress, combined kind
// when both status and progress are present, relative times re-resolved
// against the current instant.
func (g *GPTInterpreter) toIntent(w *wireIntent, original string, now time.Time) *models.Intent {
	kind, ok := knownKinds[strings.TrimSpace(w.Kind)]
	if !ok {
		kind = models.KindUnknown
	}
	in := models.NewIntent(kind)
	in.OriginalText = original

	if w.TaskID != "" {
		in.SetSlot(models.SlotTaskID, normalize.TaskRef(w.TaskID, now))
	}
	if w.ReminderID != "" {
		in.SetSlot(models.SlotReminderID, normalize.ReminderRef(w.ReminderID, now))
	}
	if w.Status != "" {
		if st := normalize.Status(w.Status); st != "" {
			in.SetSlot(models.SlotStatus, string(st))
		}
	}
	if len(w.Progress) > 0 && string(w.Progress) != "null" {
		if p, ok := normalize.ClampProgress(strings.Trim(string(w.Progress), `"`)); ok {
			in.Progress = &p
		}
	}
	in.SetSlot(models.SlotTitle, strings.TrimSpace(w.Title))
	in.SetSlot(models.SlotDescription, strings.TrimSpace(w.Description))
	if w.Priority != "" {
		in.SetSlot(models.SlotPriority, string(normalize.PriorityWord(w.Priority)))
	}
	in.SetSlot(models.SlotDeadline, resolveWireTime(w.Deadline, now))
	in.SetSlot(models.SlotReminderTime, resolveWireTime(w.ReminderTime, now))
	in.SetSlot(models.SlotAssigneeName, strings.TrimSpace(w.AssigneeName))
	in.SetSlot(models.SlotBlocker, strings.TrimSpace(w.Blocker))
	in.SetSlot(models.SlotMessage, strings.TrimSpace(w.Message))

	// Both a status and a numeric progress force the combined kind.
	if in.HasSlot(models.SlotStatus) && in.Progress != nil {
		in.Kind = models.KindUpdateStatusAndProgress
	}
	return in
}

// resolveWireTime accepts RFC3339 from the model but tolerates a relative
// phrase leaking through, resolving it against the current instant.
func resolveWireTime(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(now.Location()).Format(time.RFC3339)
	}
	if t := relativePhrase(s, now); t != nil {
		return t.Format(time.RFC3339)
	}
	return ""
}

func relativePhrase(s string, now time.Time) *time.Time {
	switch strings.ToLower(strings.Trim(s, ".,! ")) {
	case "today":
		t := time.Date(now.Year(), now.Month(), now.Day(), 18, 0, 0, 0, now.Location())
		return &t
	case "tomorrow":
		t := now.AddDate(0, 0, 1)
		return &t
	case "next week":
		t := now.AddDate(0, 0, 7)
		return &t
	case "next month":
		t := now.AddDate(0, 1, 0)
		return &t
	}
	return nil
}
