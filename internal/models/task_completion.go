package models

// TaskCompletion records that a task was carried out by an employee.
type TaskCompletion struct {
	SyncMeta
	TaskID      int64  `json:"task_id"`
	EmployeeID  int64  `json:"employee_id"`
	LocationID  int64  `json:"location_id"`
	CompletedAt int64  `json:"completed_at"`
	Notes       string `json:"notes,omitempty"`
}

// TableName returns the table name for TaskCompletion.
func (TaskCompletion) TableName() string {
	return "task_completions"
}

// Indexed returns the values used by status, date and text filters.
func (c *TaskCompletion) Indexed() IndexFields {
	return IndexFields{
		Date: c.CompletedAt,
		Text: c.Notes,
	}
}
