package models

import "strings"

// Task priorities.
const (
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
	TaskPriorityUrgent = "urgent"
)

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// Task is a unit of field work assigned to a location.
type Task struct {
	SyncMeta
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Frequency   string `json:"frequency,omitempty"` // daily, weekly, monthly, once
	Status      string `json:"status"`
	LocationID  int64  `json:"location_id"`
	StartDate   int64  `json:"start_date,omitempty"`
	EndDate     int64  `json:"end_date,omitempty"`
	DueDate     int64  `json:"due_date,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Indexed returns the values used by status, date and text filters.
func (t *Task) Indexed() IndexFields {
	return IndexFields{
		Status: t.Status,
		Date:   t.DueDate,
		Text:   strings.TrimSpace(t.Title + " " + t.Description),
	}
}
