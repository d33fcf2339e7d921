package schema

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "inProgress"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// DefaultTaskStatus is used for unknown or malformed status names.
const DefaultTaskStatus = StatusTodo

var taskStatuses = map[string]TaskStatus{
	"todo":       StatusTodo,
	"inProgress": StatusInProgress,
	"done":       StatusDone,
	"cancelled":  StatusCancelled,
}

// ParseTaskStatus matches name exactly against the known variants.
// Anything else yields DefaultTaskStatus.
func ParseTaskStatus(name string) TaskStatus {
	if s, ok := taskStatuses[name]; ok {
		return s
	}
	return DefaultTaskStatus
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DefaultPriority is used for unknown or malformed priority names.
const DefaultPriority = PriorityMedium

var priorities = map[string]Priority{
	"low":    PriorityLow,
	"medium": PriorityMedium,
	"high":   PriorityHigh,
	"urgent": PriorityUrgent,
}

// ParsePriority matches name exactly against the known variants.
// Anything else yields DefaultPriority.
func ParsePriority(name string) Priority {
	if p, ok := priorities[name]; ok {
		return p
	}
	return DefaultPriority
}

// Frequency is how often a ritual resets.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// DefaultFrequency is used for unknown or malformed frequency names.
const DefaultFrequency = FrequencyDaily

var frequencies = map[string]Frequency{
	"daily":   FrequencyDaily,
	"weekly":  FrequencyWeekly,
	"monthly": FrequencyMonthly,
}

// ParseFrequency matches name exactly against the known variants.
// Anything else yields DefaultFrequency.
func ParseFrequency(name string) Frequency {
	if f, ok := frequencies[name]; ok {
		return f
	}
	return DefaultFrequency
}
