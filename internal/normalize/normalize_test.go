package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xaenox/task-bot/internal/models"
)

var now = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

func TestSenderKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"whatsapp:+919876543210", "919876543210"},
		{"tel:+14155550100", "14155550100"},
		{"+919876543210", "919876543210"},
		{"919876543210", "919876543210"},
		{"  whatsapp:+91 ", "91"},
		{"123456789", "123456789"}, // telegram chat id passes through
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SenderKey(tt.raw), "SenderKey(%q)", tt.raw)
	}
}

func TestStatusSynonyms(t *testing.T) {
	tests := []struct {
		raw  string
		want models.TaskStatus
	}{
		{"done", models.StatusCompleted},
		{"Done.", models.StatusCompleted},
		{"finished", models.StatusCompleted},
		{"in progress", models.StatusInProgress},
		{"WIP", models.StatusInProgress},
		{"on hold", models.StatusBlocked},
		{"stuck", models.StatusBlocked},
		{"todo", models.StatusPending},
		{"canceled", models.StatusCancelled},
		{"banana", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.raw), "Status(%q)", tt.raw)
	}
}

func TestStatusIdempotent(t *testing.T) {
	for _, raw := range []string{"done", "wip", "on hold", "pending", "banana"} {
		once := Status(raw)
		assert.Equal(t, once, Status(string(once)), "normalize twice must be a no-op for %q", raw)
	}
}

func TestTaskRef(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"TASK-2026-0041", "TASK-2026-0041"},
		{"task-2026-41", "TASK-2026-0041"},
		{"TASK-41", "TASK-2026-0041"},
		{"2026-0041", "TASK-2026-0041"},
		{"41", "TASK-2026-0041"},
		{"#41", "TASK-2026-0041"},
		{"REM-2026-0007", ""}, // wrong prefix
		{"banana", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TaskRef(tt.raw, now), "TaskRef(%q)", tt.raw)
	}
}

func TestTaskRefIdempotent(t *testing.T) {
	for _, raw := range []string{"41", "TASK-41", "TASK-2026-0041", "2026-9"} {
		once := TaskRef(raw, now)
		assert.Equal(t, once, TaskRef(once, now), "TaskRef twice must be a no-op for %q", raw)
	}
}

func TestReminderRef(t *testing.T) {
	assert.Equal(t, "REM-2026-0007", ReminderRef("7", now))
	assert.Equal(t, "REM-2026-0007", ReminderRef("REM-2026-0007", now))
	assert.Equal(t, "", ReminderRef("TASK-2026-0007", now))
}

func TestClampProgress(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"50", 50, true},
		{"50%", 50, true},
		{" 50 % ", 50, true},
		{"0", 0, true},
		{"100", 100, true},
		{"150", 100, true},
		{"-10", 0, true},
		{"999", 100, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ClampProgress(tt.raw)
		assert.Equal(t, tt.ok, ok, "ClampProgress(%q) ok", tt.raw)
		if ok {
			assert.Equal(t, tt.want, got, "ClampProgress(%q)", tt.raw)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		}
	}
}
