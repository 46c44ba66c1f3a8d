package crm

import "time"

// TaskKind is a structured discriminator for operator tasks. It replaces
// the free-text notes tag lookups the product started with; handlers query
// open tasks by kind.
type TaskKind string

const (
	TaskSpeedToLead TaskKind = "speed_to_lead"
	TaskReminder    TaskKind = "reminder"
	TaskFollowUp    TaskKind = "follow_up"
)

// TaskStatus represents the completion state of a task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskCompleted TaskStatus = "completed"
)

// CrmTask is an operator-facing task on the team dashboard.
type CrmTask struct {
	ID     int64 `json:"id,string"`
	LeadID int64 `json:"lead_id,string"`

	Kind       TaskKind   `json:"kind"`
	Status     TaskStatus `json:"status"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes"`
	DueAt      time.Time  `json:"due_at"`
	AssignedTo int64      `json:"assigned_to,string"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSpeedToLeadTask creates the first-touch call task for a fresh lead.
func NewSpeedToLeadTask(leadID, assigneeID int64, dueAt time.Time) *CrmTask {
	now := time.Now().UTC()
	return &CrmTask{
		LeadID:     leadID,
		Kind:       TaskSpeedToLead,
		Status:     TaskOpen,
		Title:      "Call/message new lead",
		DueAt:      dueAt,
		AssignedTo: assigneeID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Open reports whether the task still needs action.
func (t *CrmTask) Open() bool {
	return t.Status == TaskOpen
}
