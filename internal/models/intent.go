package models

// IntentKind tags the action a parsed message asks for.
type IntentKind string

const (
	KindCreateTask              IntentKind = "createTask"
	KindAssignTask              IntentKind = "assignTask"
	KindUpdateStatus            IntentKind = "updateStatus"
	KindUpdateProgress          IntentKind = "updateProgress"
	KindUpdateStatusAndProgress IntentKind = "updateStatusAndProgress"
	KindAddUpdate               IntentKind = "addUpdate"
	KindReportBlocker           IntentKind = "reportBlocker"
	KindCancelTask              IntentKind = "cancelTask"
	KindViewTask                IntentKind = "viewTask"
	KindListTasks               IntentKind = "listTasks"
	KindListDeadlines           IntentKind = "listDeadlines"
	KindSetReminder             IntentKind = "setReminder"
	KindScheduleMeeting         IntentKind = "scheduleMeeting"
	KindListReminders           IntentKind = "listReminders"
	KindCancelReminder          IntentKind = "cancelReminder"
	KindStatus                  IntentKind = "status"
	KindHelp                    IntentKind = "help"
	KindWelcome                 IntentKind = "welcome"
	KindUnknown                 IntentKind = "unknown"
)

// Slot names used across the parser, conversation engine and dispatcher.
const (
	SlotTaskID       = "taskId"
	SlotReminderID   = "reminderId"
	SlotStatus       = "status"
	SlotProgress     = "progress"
	SlotTitle        = "title"
	SlotDescription  = "description"
	SlotPriority     = "priority"
	SlotDeadline     = "deadline"
	SlotAssigneeName = "assigneeName"
	SlotReminderTime = "reminderTime"
	SlotBlocker      = "blocker"
	SlotMessage      = "message"
	SlotFilter       = "filter"
)

// Intent is the structured representation of a recognized user command.
// Only slots relevant to Kind are populated. Progress, when set, is always
// an integer clamped to [0,100].
type Intent struct {
	Kind         IntentKind        `json:"kind"`
	Slots        map[string]string `json:"slots,omitempty"`
	Progress     *int              `json:"progress,omitempty"`
	OriginalText string            `json:"originalText,omitempty"`
}

// NewIntent returns an Intent of the given kind with an empty slot map.
func NewIntent(kind IntentKind) *Intent {
	return &Intent{Kind: kind, Slots: make(map[string]string)}
}

// Slot returns the named slot value, or "" when absent.
func (i *Intent) Slot(name string) string {
	if i.Slots == nil {
		return ""
	}
	return i.Slots[name]
}

// SetSlot assigns a slot value, dropping empty values.
func (i *Intent) SetSlot(name, value string) {
	if value == "" {
		return
	}
	if i.Slots == nil {
		i.Slots = make(map[string]string)
	}
	i.Slots[name] = value
}

// HasSlot reports whether the named slot carries a value. The progress slot
// is considered present when the typed Progress field is set.
func (i *Intent) HasSlot(name string) bool {
	if name == SlotProgress {
		return i.Progress != nil
	}
	return i.Slot(name) != ""
}
