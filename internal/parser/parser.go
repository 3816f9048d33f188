// Package parser turns a free-text chat message into a structured Intent
// using an ordered cascade of pattern rules. The cascade is cheap and
// deterministic; only messages no rule recognizes go on to the LLM fallback.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/normalize"
)

// rule is one entry of the ordered cascade. The first rule whose pattern
// matches runs its extractor; an extractor may decline by returning nil, in
// which case the cascade continues. Precedence is the slice order in rules().
type rule struct {
	name    string
	pattern *regexp.Regexp
	extract func(p *Parser, m []string, text string, now time.Time) *models.Intent
}

type Parser struct {
	loc   *time.Location
	rules []rule
}

func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	p := &Parser{loc: loc}
	p.rules = buildRules()
	return p
}

// Location returns the fixed operating timezone all relative dates resolve in.
func (p *Parser) Location() *time.Location { return p.loc }

// Parse runs the cascade over one message. Never returns nil; unrecognized
// text yields an unknown Intent retaining the original message.
func (p *Parser) Parse(text string, now time.Time) *models.Intent {
	now = now.In(p.loc)
	trimmed := strings.TrimSpace(text)

	for _, r := range p.rules {
		m := r.pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		if in := r.extract(p, m, trimmed, now); in != nil {
			in.OriginalText = text
			return in
		}
	}

	in := models.NewIntent(models.KindUnknown)
	in.OriginalText = text
	return in
}

var (
	percentRe   = regexp.MustCompile(`(\d{1,3})\s*%`)
	priorityRe1 = regexp.MustCompile(`(?i)[,;]?\s*\bpriority\s*[:\s]\s*(low|medium|normal|high|urgent|critical)\b`)
	priorityRe2 = regexp.MustCompile(`(?i)[,;]?\s*\b(low|medium|normal|high|urgent|critical)\s+priority\b`)
	deadlineRe  = regexp.MustCompile(`(?i)[,;]?\s*\b(?:due|by|before|deadline)\s*[:\s]\s*([^,;]+)`)
)

func buildRules() []rule {
	return []rule{
		// 1. Combined status+progress: one message carrying a reference, a
		// percentage and a status keyword.
		{"combinedStatusProgress", percentRe, extractCombined},

		// 2. Fixed zero-argument commands.
		{"fixedCommand", regexp.MustCompile(`(?i)^\s*(help|commands|menu|what can you do\??|hi+|hello|hey|yo|namaste|good\s+(?:morning|afternoon|evening)|start|status|summary|my\s+status)\s*[.!?]*\s*$`), extractFixed},

		// 3. List / query phrases.
		{"listReminders", regexp.MustCompile(`(?i)^(?:list|show|view|get|my)\s+(?:my\s+|all\s+)?(?:pending\s+)?reminders\s*[.?!]*$`), func(p *Parser, m []string, text string, now time.Time) *models.Intent {
			return models.NewIntent(models.KindListReminders)
		}},
		{"listDeadlines", regexp.MustCompile(`(?i)^(?:list|show|view|my|upcoming|what(?:'s| are| is)?)\b.*\b(?:deadlines?|due\s+dates?)\b.*$`), func(p *Parser, m []string, text string, now time.Time) *models.Intent {
			return models.NewIntent(models.KindListDeadlines)
		}},
		// 4. Single-reference detail view. Ordered ahead of listTasks so
		// "show task TASK-2026-0041" is a view, not a filtered list.
		{"viewTask", regexp.MustCompile(`(?i)^(?:show|view|open|see|details?\s+(?:of|for)\s+|check\s+)\s*task\s+#?([A-Za-z0-9-]+)\s*[.?!]*$`), extractViewTask},
		{"listTasks", regexp.MustCompile(`(?i)^(?:please\s+)?(?:(?:list|show|view|get|display)\s+|what(?:'s| are)?\s+|my\s+|all\s+)+(.*?)\s*tasks?\s*(.*?)[.?!]*$`), extractListTasks},

		// 5. Creation phrases ("create task: ...").
		{"createTask", regexp.MustCompile(`(?i)^(?:create|new|add)\s+(?:a\s+)?task\s*[:\-]\s*(.+)$`), extractCreateTask},

		// 6. Assignment phrases. Note the two phrasings invert which group is
		// the assignee and which the title.
		{"assignTaskTo", regexp.MustCompile(`(?i)^assign\s+(?:a\s+)?task\s*[:\s]\s*(.+?)\s+to\s+(@?[A-Za-z][\w.]*(?:\s+[A-Za-z][\w.]*)?)\s*[.?!]*$`), extractAssignTo},
		{"createTaskFor", regexp.MustCompile(`(?i)^(?:create|new|add)\s+(?:a\s+)?task\s+for\s+(@?[A-Za-z][\w.]*(?:\s+[A-Za-z][\w.]*)?)\s*[:\-]\s*(.+)$`), extractCreateFor},

		// Reminder management.
		{"cancelReminder", regexp.MustCompile(`(?i)^(?:cancel|delete|remove)\s+(?:my\s+)?reminder\s*#?\s*([A-Za-z0-9-]*)\s*[.?!]*$`), extractCancelReminder},
		{"scheduleMeeting", regexp.MustCompile(`(?i)^(?:schedule|set\s*up|arrange)\s+(?:a\s+)?meeting\s*(?:[:\s]\s*(.+))?$`), extractScheduleMeeting},
		{"setReminder", regexp.MustCompile(`(?i)^(?:remind\s+me(?:\s+to|\s+about)?|set\s+(?:a\s+)?reminder\s*[:\s])\s*(.+)$`), extractSetReminder},
		{"setReminderBare", regexp.MustCompile(`(?i)^(?:set\s+(?:a\s+)?reminder|remind\s+me)\s*[.?!]*$`), func(p *Parser, m []string, text string, now time.Time) *models.Intent {
			return models.NewIntent(models.KindSetReminder)
		}},

		// 7. Status-change and deletion phrases.
		{"cancelTask", regexp.MustCompile(`(?i)^(?:cancel|delete|remove|drop)\s+task\s+#?(\S+)\s*[.?!]*$`), extractCancelTask},
		{"statusVerb", regexp.MustCompile(`(?i)^(complete|finish|close|start|begin|resume|pause|block)\s+(?:task\s+)?#?(\S+)\s*[.?!]*$`), extractStatusVerb},
		{"statusChange", regexp.MustCompile(`(?i)^(?:mark|set|update|move)\s+(?:task\s+)?#?(\S+?)\s+(?:as\s+|to\s+|status\s+(?:to\s+)?)?(.+?)\s*[.?!]*$`), extractStatusChange},
		{"statusIs", regexp.MustCompile(`(?i)^(?:task\s+)?#?(\S+)\s+(?:is\s+(?:now\s+)?)?([a-z _]+?)\s*[.?!]*$`), extractStatusIs},

		// 8. Progress-only phrases.
		{"progressOnly", percentRe, extractProgressOnly},

		// 9. Free-text update / comment phrases.
		{"addUpdate", regexp.MustCompile(`(?i)^(?:add\s+(?:an?\s+)?)?(?:update|comment|note)\s+(?:on|to|for)?\s*(?:task\s+)?#?([A-Za-z0-9-]+?)\s*:\s*(.+)$`), extractAddUpdate},

		// 10. Blocker reports.
		{"blockedBy", regexp.MustCompile(`(?i)^(?:task\s+)?#?(\S+)\s+(?:is\s+)?blocked(?:\s+(?:by|on|because(?:\s+of)?)\s+(.+))?\s*[.?!]*$`), extractBlocked},
		{"blockerReport", regexp.MustCompile(`(?i)^(?:i(?:'m| am)\s+)?(?:blocker|blocked|stuck)\s+(?:on\s+)?(?:task\s+)?#?(\S+)\s*(?:[:\s]\s*(.+))?$`), extractBlocked},
	}
}

// statusPhrase scans text for a status synonym, checking two-word phrases
// before single words so "in progress" is not read as "progress".
func statusPhrase(text string) (models.TaskStatus, string) {
	lower := strings.ToLower(text)
	for _, phrase := range []string{"in progress", "on hold", "not started", "to do"} {
		if strings.Contains(lower, phrase) {
			return normalize.Status(phrase), phrase
		}
	}
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".,!:;")
		if st := normalize.Status(w); st != "" {
			return st, w
		}
	}
	return "", ""
}

func extractCombined(p *Parser, m []string, text string, now time.Time) *models.Intent {
	progress, ok := normalize.ClampProgress(m[1])
	if !ok {
		return nil
	}
	st, stWord := statusPhrase(text)
	if st == "" {
		return nil
	}

	// The reference is any remaining token once the percentage and the
	// status keyword are accounted for.
	remainder := strings.Replace(text, m[0], "", 1)
	remainder = strings.Replace(strings.ToLower(remainder), stWord, "", 1)
	ref := ""
	for _, tok := range strings.Fields(remainder) {
		if r := normalize.TaskRef(tok, now); r != "" {
			ref = r
			break
		}
	}
	if ref == "" {
		return nil
	}

	in := models.NewIntent(models.KindUpdateStatusAndProgress)
	in.SetSlot(models.SlotTaskID, ref)
	in.SetSlot(models.SlotStatus, string(st))
	in.Progress = &progress
	return in
}

func extractFixed(p *Parser, m []string, text string, now time.Time) *models.Intent {
	word := strings.ToLower(strings.TrimSpace(m[1]))
	switch {
	case word == "help" || word == "commands" || word == "menu" || strings.HasPrefix(word, "what can"):
		return models.NewIntent(models.KindHelp)
	case word == "status" || word == "summary" || word == "my status":
		return models.NewIntent(models.KindStatus)
	default:
		return models.NewIntent(models.KindWelcome)
	}
}

func extractListTasks(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindListTasks)
	filterText := m[1] + " " + m[2]
	if st, _ := statusPhrase(filterText); st != "" {
		in.SetSlot(models.SlotStatus, string(st))
	}
	for _, w := range strings.Fields(strings.ToLower(filterText)) {
		if pr := normalize.PriorityWord(w); pr != "" {
			in.SetSlot(models.SlotPriority, string(pr))
			break
		}
	}
	if strings.Contains(strings.ToLower(filterText), "overdue") {
		in.SetSlot(models.SlotFilter, "overdue")
	}
	return in
}

func extractViewTask(p *Parser, m []string, text string, now time.Time) *models.Intent {
	ref := normalize.TaskRef(m[1], now)
	if ref == "" {
		return nil
	}
	in := models.NewIntent(models.KindViewTask)
	in.SetSlot(models.SlotTaskID, ref)
	return in
}

// stripTaskClauses pulls the priority and deadline clauses out of a task
// body, returning the cleaned body.
func stripTaskClauses(body string, now time.Time, in *models.Intent) string {
	if m := priorityRe1.FindStringSubmatch(body); m != nil {
		in.SetSlot(models.SlotPriority, string(normalize.PriorityWord(m[1])))
		body = strings.Replace(body, m[0], "", 1)
	} else if m := priorityRe2.FindStringSubmatch(body); m != nil {
		in.SetSlot(models.SlotPriority, string(normalize.PriorityWord(m[1])))
		body = strings.Replace(body, m[0], "", 1)
	}
	if m := deadlineRe.FindStringSubmatch(body); m != nil {
		if t := parseDeadline(m[1], now); t != nil {
			in.SetSlot(models.SlotDeadline, t.Format(time.RFC3339))
			body = strings.Replace(body, m[0], "", 1)
		}
	}
	return strings.Trim(strings.TrimSpace(body), ",;")
}

func extractCreateTask(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindCreateTask)
	body := stripTaskClauses(m[1], now, in)

	// A long trailing comma-clause becomes the description, provided the
	// leading clause is substantial on its own.
	if idx := strings.Index(body, ","); idx > 0 {
		title := strings.TrimSpace(body[:idx])
		rest := strings.TrimSpace(body[idx+1:])
		if len(rest) > 20 && len(title) > 10 {
			in.SetSlot(models.SlotTitle, title)
			in.SetSlot(models.SlotDescription, rest)
			return in
		}
	}
	in.SetSlot(models.SlotTitle, body)
	return in
}

func extractAssignTo(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindAssignTask)
	title := stripTaskClauses(m[1], now, in)
	in.SetSlot(models.SlotTitle, title)
	in.SetSlot(models.SlotAssigneeName, strings.TrimPrefix(strings.TrimSpace(m[2]), "@"))
	return in
}

func extractCreateFor(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindAssignTask)
	in.SetSlot(models.SlotAssigneeName, strings.TrimPrefix(strings.TrimSpace(m[1]), "@"))
	title := stripTaskClauses(m[2], now, in)
	in.SetSlot(models.SlotTitle, title)
	return in
}

func extractCancelReminder(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindCancelReminder)
	if m[1] != "" {
		if ref := normalize.ReminderRef(m[1], now); ref != "" {
			in.SetSlot(models.SlotReminderID, ref)
		}
	}
	return in
}

// splitWhen separates a trailing time clause from a reminder body. The last
// " at "/" on "/" in " connective whose tail parses as a time wins.
func splitWhen(body string, now time.Time) (title string, when *time.Time) {
	lower := strings.ToLower(body)
	for _, sep := range []string{" at ", " on ", " in ", " by "} {
		idx := strings.LastIndex(lower, sep)
		if idx < 0 {
			continue
		}
		tail := strings.TrimSpace(body[idx+len(sep):])
		clause := tail
		if sep == " in " {
			clause = "in " + tail
		}
		if t := parseWhen(clause, now); t != nil {
			return strings.TrimSpace(body[:idx]), t
		}
	}
	// No connective: split where the first time-like token begins, so
	// "sprint review tomorrow 10am" keeps its title.
	if loc := timeLikeRe.FindStringIndex(body); loc != nil {
		if t := parseWhen(strings.TrimSpace(body[loc[0]:]), now); t != nil {
			return strings.TrimRight(strings.TrimSpace(body[:loc[0]]), " ,"), t
		}
	}
	return strings.TrimSpace(body), nil
}

func extractSetReminder(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindSetReminder)
	title, when := splitWhen(strings.TrimSpace(m[1]), now)
	in.SetSlot(models.SlotTitle, title)
	if when != nil {
		in.SetSlot(models.SlotReminderTime, when.Format(time.RFC3339))
	}
	return in
}

func extractScheduleMeeting(p *Parser, m []string, text string, now time.Time) *models.Intent {
	in := models.NewIntent(models.KindScheduleMeeting)
	if m[1] != "" {
		title, when := splitWhen(strings.TrimSpace(m[1]), now)
		in.SetSlot(models.SlotTitle, title)
		if when != nil {
			in.SetSlot(models.SlotReminderTime, when.Format(time.RFC3339))
		}
	}
	return in
}

func extractCancelTask(p *Parser, m []string, text string, now time.Time) *models.Intent {
	ref := normalize.TaskRef(m[1], now)
	if ref == "" {
		return nil
	}
	in := models.NewIntent(models.KindCancelTask)
	in.SetSlot(models.SlotTaskID, ref)
	return in
}

var verbStatus = map[string]models.TaskStatus{
	"complete": models.StatusCompleted,
	"finish":   models.StatusCompleted,
	"close":    models.StatusCompleted,
	"start":    models.StatusInProgress,
	"begin":    models.StatusInProgress,
	"resume":   models.StatusInProgress,
	"pause":    models.StatusBlocked,
	"block":    models.StatusBlocked,
}

func extractStatusVerb(p *Parser, m []string, text string, now time.Time) *models.Intent {
	ref := normalize.TaskRef(m[2], now)
	if ref == "" {
		return nil
	}
	in := models.NewIntent(models.KindUpdateStatus)
	in.SetSlot(models.SlotTaskID, ref)
	in.SetSlot(models.SlotStatus, string(verbStatus[strings.ToLower(m[1])]))
	return in
}

func extractStatusChange(p *Parser, m []string, text string, now time.Time) *models.Intent {
	st := normalize.Status(m[2])
	if st == "" {
		return nil
	}
	ref := normalize.TaskRef(m[1], now)
	if ref == "" {
		return nil
	}
	in := models.NewIntent(models.KindUpdateStatus)
	in.SetSlot(models.SlotTaskID, ref)
	in.SetSlot(models.SlotStatus, string(st))
	return in
}

func extractStatusIs(p *Parser, m []string, text string, now time.Time) *models.Intent {
	st := normalize.Status(m[2])
	if st == "" {
		return nil
	}
	ref := normalize.TaskRef(m[1], now)
	if ref == "" {
		return nil
	}
	in := models.NewIntent(models.KindUpdateStatus)
	in.SetSlot(models.SlotTaskID, ref)
	in.SetSlot(models.SlotStatus, string(st))
	return in
}

// progressFraming is the closed set of words allowed around a progress
// percentage; anything else means the message is not a progress-only phrase.
var progressFraming = map[string]bool{
	"task": true, "progress": true, "update": true, "set": true, "move": true,
	"to": true, "at": true, "is": true, "now": true, "the": true, "of": true, "on": true,
}

func extractProgressOnly(p *Parser, m []string, text string, now time.Time) *models.Intent {
	progress, ok := normalize.ClampProgress(m[1])
	if !ok {
		return nil
	}
	remainder := strings.Replace(text, m[0], "", 1)
	ref := ""
	for _, tok := range strings.Fields(remainder) {
		w := strings.ToLower(strings.Trim(tok, ".,!:;"))
		if w == "" || progressFraming[w] {
			continue
		}
		if ref == "" {
			if r := normalize.TaskRef(tok, now); r != "" {
				ref = r
				continue
			}
		}
		return nil
	}

	in := models.NewIntent(models.KindUpdateProgress)
	in.SetSlot(models.SlotTaskID, ref)
	in.Progress = &progress
	return in
}

func extractAddUpdate(p *Parser, m []string, text string, now time.Time) *models.Intent {
	ref := normalize.TaskRef(m[1], now)
	if ref == "" {
		return nil
	}
	body := strings.TrimSpace(m[2])
	// Status words and bare percentages belong to the earlier matchers.
	if normalize.IsStatusWord(body) {
		return nil
	}
	if _, ok := normalize.ClampProgress(body); ok {
		return nil
	}
	in := models.NewIntent(models.KindAddUpdate)
	in.SetSlot(models.SlotTaskID, ref)
	in.SetSlot(models.SlotMessage, body)
	return in
}

func extractBlocked(p *Parser, m []string, text string, now time.Time) *models.Intent {
	ref := normalize.TaskRef(m[1], now)
	if ref == "" {
		return nil
	}
	in := models.NewIntent(models.KindReportBlocker)
	in.SetSlot(models.SlotTaskID, ref)
	if len(m) > 2 {
		in.SetSlot(models.SlotBlocker, strings.TrimSpace(m[2]))
	}
	return in
}
