// Package models provides the syncable record contract and the business entities of
// the field-operations client.
package models

import (
	"fmt"
	"time"
)

// SyncStatus tracks how a local record has diverged from the server.
type SyncStatus string

const (
	SyncStatusSynced        SyncStatus = "synced"
	SyncStatusPendingUpload SyncStatus = "pending_upload"
	SyncStatusPendingUpdate SyncStatus = "pending_update"
	SyncStatusPendingDelete SyncStatus = "pending_delete"
)

// Pending reports whether the status carries unreflected local mutations.
func (s SyncStatus) Pending() bool {
	return s != SyncStatusSynced
}

// Valid reports whether s is one of the four known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusSynced, SyncStatusPendingUpload, SyncStatusPendingUpdate, SyncStatusPendingDelete:
		return true
	}
	return false
}

// SyncMeta is embedded in every syncable entity.
//
// ID is the server-assigned identifier; zero means the record has not been created on
// the server yet. LocalID is generated on the device, keys the record in the local store
// and travels with uploads so the server can recognise retries.
type SyncMeta struct {
	ID             int64      `json:"id,omitempty"`
	LocalID        string     `json:"local_id,omitempty"`
	CreatedAt      int64      `json:"created_at"`
	UpdatedAt      int64      `json:"updated_at"`
	SyncStatus     SyncStatus `json:"-"`
	PendingChanges bool       `json:"-"`
	// AckedAt is the UpdatedAt value of an upload the server acknowledged without
	// returning a server id for it.
	AckedAt int64 `json:"-"`
}

// Meta returns the sync metadata. Promoted to every entity embedding SyncMeta.
func (m *SyncMeta) Meta() *SyncMeta {
	return m
}

// SetStatus sets the sync status and keeps the pending flag consistent with it.
func (m *SyncMeta) SetStatus(s SyncStatus) {
	m.SyncStatus = s
	m.PendingChanges = s.Pending()
}

// Touch bumps UpdatedAt to now.
func (m *SyncMeta) Touch() {
	m.UpdatedAt = NowMillis()
	if m.CreatedAt == 0 {
		m.CreatedAt = m.UpdatedAt
	}
}

// AwaitingConfirmation reports whether the record is an acknowledged upload that is
// still waiting for its server id. It is not resent unless it changes again.
func (m *SyncMeta) AwaitingConfirmation() bool {
	return m.ID == 0 && m.SyncStatus == SyncStatusPendingUpload && m.AckedAt != 0 && m.AckedAt == m.UpdatedAt
}

// CreatedAtTime returns CreatedAt as time.Time.
func (m *SyncMeta) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (m *SyncMeta) UpdatedAtTime() time.Time {
	return time.UnixMilli(m.UpdatedAt)
}

// Validate checks the record-level invariants.
func (m *SyncMeta) Validate() error {
	if !m.SyncStatus.Valid() {
		return fmt.Errorf("unknown sync status %q", m.SyncStatus)
	}
	if m.ID == 0 && m.SyncStatus == SyncStatusSynced {
		return fmt.Errorf("record %s: synced without a server id", m.LocalID)
	}
	if m.PendingChanges != m.SyncStatus.Pending() {
		return fmt.Errorf("record %s: pending flag disagrees with status %s", m.LocalID, m.SyncStatus)
	}
	return nil
}

// IndexFields are the entity-specific values the local store indexes for queries.
type IndexFields struct {
	Status string // business status, e.g. "open" or "done"
	Date   int64  // unix millis used for date-range filters
	Text   string // free text used for substring matching
}

// Record is implemented by every syncable entity (as a pointer).
type Record interface {
	Meta() *SyncMeta
	TableName() string
	Indexed() IndexFields
}

// Entity constrains a generic type parameter to a struct whose pointer is a Record.
type Entity[T any] interface {
	*T
	Record
}

// NowMillis returns the current time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
