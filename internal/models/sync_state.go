package models

import "time"

// SyncState is the persisted per-entity bookkeeping of the sync engine and the
// read-through cache.
type SyncState struct {
	Entity              string `json:"entity"`
	LastSync            int64  `json:"last_sync"`  // unix millis of last successful batch sync, 0 if never
	LastFetch           int64  `json:"last_fetch"` // unix millis of last successful list fetch
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	UpdatedAt           int64  `json:"updated_at"`
}

// TableName returns the table name for SyncState.
func (SyncState) TableName() string {
	return "sync_state"
}

// LastSyncTime returns LastSync as time.Time, zero when never synced.
func (s *SyncState) LastSyncTime() time.Time {
	if s.LastSync == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastSync)
}

// FetchedWithin reports whether the cache was refreshed within ttl of now.
// A non-positive ttl never expires.
func (s *SyncState) FetchedWithin(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return true
	}
	if s.LastFetch == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(s.LastFetch)) < ttl
}
