package models

import "time"

// Conflict resolutions. Only server_wins is produced by the sync engine.
const (
	ResolutionServerWins = "server_wins"
)

// ConflictLog records a locally pending edit that was overwritten by the server copy
// during a batch sync.
type ConflictLog struct {
	ID              int64  `json:"id"`
	Entity          string `json:"entity"`
	LocalID         string `json:"local_id"`
	RecordID        int64  `json:"record_id"`
	LocalStatus     string `json:"local_status"`
	LocalUpdatedAt  int64  `json:"local_updated_at"`
	RemoteUpdatedAt int64  `json:"remote_updated_at"`
	Resolution      string `json:"resolution"`
	DetectedAt      int64  `json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
