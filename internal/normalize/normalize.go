// Package normalize canonicalizes the raw tokens that arrive over chat:
// sender addresses, status synonyms, task/reminder references and progress
// percentages. Every function here is idempotent.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/task-bot/internal/models"
)

const (
	TaskPrefix     = "TASK"
	ReminderPrefix = "REM"
)

var transportPrefixes = []string{"whatsapp:", "tel:", "sms:", "messenger:"}

// SenderKey strips transport prefixes and a leading + from a raw sender
// address, yielding the canonical key used for user lookup and conversation
// state. Numeric chat ids (telegram) pass through unchanged.
func SenderKey(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, p := range transportPrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	return s
}

var statusSynonyms = map[string]models.TaskStatus{
	"pending":     models.StatusPending,
	"open":        models.StatusPending,
	"new":         models.StatusPending,
	"todo":        models.StatusPending,
	"to do":       models.StatusPending,
	"not started": models.StatusPending,
	"in progress": models.StatusInProgress,
	"in_progress": models.StatusInProgress,
	"inprogress":  models.StatusInProgress,
	"started":     models.StatusInProgress,
	"working":     models.StatusInProgress,
	"ongoing":     models.StatusInProgress,
	"wip":         models.StatusInProgress,
	"doing":       models.StatusInProgress,
	"completed":   models.StatusCompleted,
	"complete":    models.StatusCompleted,
	"done":        models.StatusCompleted,
	"finished":    models.StatusCompleted,
	"finish":      models.StatusCompleted,
	"closed":      models.StatusCompleted,
	"blocked":     models.StatusBlocked,
	"block":       models.StatusBlocked,
	"stuck":       models.StatusBlocked,
	"on hold":     models.StatusBlocked,
	"hold":        models.StatusBlocked,
	"cancelled":   models.StatusCancelled,
	"canceled":    models.StatusCancelled,
	"cancel":      models.StatusCancelled,
	"dropped":     models.StatusCancelled,
}

// Status maps a free-form status token to its canonical value. Unknown
// synonyms return "" and must be rejected by the caller.
func Status(raw string) models.TaskStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.Trim(key, ".!,")
	if st, ok := statusSynonyms[key]; ok {
		return st
	}
	return ""
}

// IsStatusWord reports whether the token is a recognized status synonym.
func IsStatusWord(raw string) bool {
	return Status(raw) != ""
}

var (
	refFull    = regexp.MustCompile(`(?i)^(TASK|REM)-(\d{4})-(\d{1,4})$`)
	refShort   = regexp.MustCompile(`(?i)^(TASK|REM)-(\d{1,4})$`)
	refYearNum = regexp.MustCompile(`^(\d{4})-(\d{1,4})$`)
	refBareNum = regexp.MustCompile(`^\d{1,4}$`)
)

// TaskRef canonicalizes a task reference to TASK-YYYY-NNNN. Bare numeric
// forms gain the prefix and the current year; applying TaskRef twice is a
// no-op. Returns "" for tokens that cannot be a task reference.
func TaskRef(raw string, now time.Time) string {
	return ref(raw, TaskPrefix, now)
}

// ReminderRef canonicalizes a reminder reference to REM-YYYY-NNNN.
func ReminderRef(raw string, now time.Time) string {
	return ref(raw, ReminderPrefix, now)
}

func ref(raw, prefix string, now time.Time) string {
	tok := strings.TrimSpace(raw)
	tok = strings.TrimPrefix(tok, "#")
	tok = strings.Trim(tok, ".,!:;")
	if tok == "" {
		return ""
	}
	if m := refFull.FindStringSubmatch(tok); m != nil {
		if !strings.EqualFold(m[1], prefix) {
			return ""
		}
		return prefix + "-" + m[2] + "-" + pad4(m[3])
	}
	if m := refShort.FindStringSubmatch(tok); m != nil {
		if !strings.EqualFold(m[1], prefix) {
			return ""
		}
		return prefix + "-" + now.Format("2006") + "-" + pad4(m[2])
	}
	if m := refYearNum.FindStringSubmatch(tok); m != nil {
		return prefix + "-" + m[1] + "-" + pad4(m[2])
	}
	if refBareNum.MatchString(tok) {
		return prefix + "-" + now.Format("2006") + "-" + pad4(tok)
	}
	return ""
}

func pad4(digits string) string {
	for len(digits) < 4 {
		digits = "0" + digits
	}
	return digits
}

// LooksLikeRef reports whether the token resembles a task or reminder
// reference (prefixed or bare-numeric).
func LooksLikeRef(tok string) bool {
	t := strings.TrimPrefix(strings.TrimSpace(tok), "#")
	t = strings.Trim(t, ".,!:;")
	return refFull.MatchString(t) || refShort.MatchString(t) ||
		refYearNum.MatchString(t) || refBareNum.MatchString(t)
}

// ClampProgress parses a progress value and clamps it to [0,100].
// Out-of-range inputs clamp rather than error; unparseable inputs
// return ok=false.
func ClampProgress(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	n := int(f)
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

var priorityWords = map[string]models.Priority{
	"low":      models.PriorityLow,
	"medium":   models.PriorityMedium,
	"normal":   models.PriorityMedium,
	"high":     models.PriorityHigh,
	"urgent":   models.PriorityUrgent,
	"critical": models.PriorityUrgent,
}

// PriorityWord maps a priority token to its canonical value, or "" when
// unrecognized.
func PriorityWord(raw string) models.Priority {
	if p, ok := priorityWords[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return p
	}
	return ""
}
