package models

// Checkpoint statuses.
const (
	CheckpointStatusCheckedIn  = "checked_in"
	CheckpointStatusCheckedOut = "checked_out"
)

// Checkpoint is a time-clock entry: an employee checking in or out at a location.
type Checkpoint struct {
	SyncMeta
	EmployeeID   int64    `json:"employee_id"`
	LocationID   int64    `json:"location_id"`
	CheckInTime  int64    `json:"check_in_time"`
	CheckOutTime int64    `json:"check_out_time,omitempty"`
	Status       string   `json:"status"`
	Notes        string   `json:"notes,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// TableName returns the table name for Checkpoint.
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// Indexed returns the values used by status, date and text filters.
func (c *Checkpoint) Indexed() IndexFields {
	return IndexFields{
		Status: c.Status,
		Date:   c.CheckInTime,
		Text:   c.Notes,
	}
}

// WorkedMillis returns the checked-in duration, or zero while still checked in.
func (c *Checkpoint) WorkedMillis() int64 {
	if c.CheckOutTime == 0 || c.CheckOutTime < c.CheckInTime {
		return 0
	}
	return c.CheckOutTime - c.CheckInTime
}
