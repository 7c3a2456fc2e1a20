// Package conflict detects local edits that a batch sync overwrites with the server
// copy. The server is authoritative; detection only records what was lost.
package conflict

import (
	"time"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// Detector builds conflict log entries for the local store's apply transaction.
type Detector struct {
	now func() time.Time
}

// NewDetector creates a Detector.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// Detect returns the log entry for a pending local record overwritten by remote.
// remote is nil when the server deleted the record. It matches db.ConflictFunc.
func (d *Detector) Detect(local, remote models.Record) *models.ConflictLog {
	if local == nil {
		return nil
	}
	lm := local.Meta()

	entry := &models.ConflictLog{
		Entity:         local.TableName(),
		LocalID:        lm.LocalID,
		RecordID:       lm.ID,
		LocalStatus:    string(lm.SyncStatus),
		LocalUpdatedAt: lm.UpdatedAt,
		Resolution:     models.ResolutionServerWins,
		DetectedAt:     d.now().UnixMilli(),
	}
	if remote != nil {
		entry.RemoteUpdatedAt = remote.Meta().UpdatedAt
		if entry.RecordID == 0 {
			entry.RecordID = remote.Meta().ID
		}
	}

	logging.Warn("Concurrent edit conflict detected, server copy wins",
		map[string]interface{}{
			"entity":           entry.Entity,
			"local_id":         entry.LocalID,
			"record_id":        entry.RecordID,
			"local_status":     entry.LocalStatus,
			"local_timestamp":  entry.LocalUpdatedAt,
			"remote_timestamp": entry.RemoteUpdatedAt,
			"remote_deleted":   remote == nil,
		})

	return entry
}
