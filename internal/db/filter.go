package db

import (
	"strings"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
)

// Filter narrows a store query. Zero values mean "no constraint".
type Filter struct {
	// Status matches the entity's business status (see models.IndexFields).
	Status string
	// From and To bound the entity date, inclusive, in unix millis.
	From int64
	To   int64
	// Text is matched as a case-insensitive substring of the indexed text.
	Text string
	// SyncStatus matches one sync status.
	SyncStatus models.SyncStatus
	// IncludeDeleted also returns rows pending deletion.
	IncludeDeleted bool

	Limit  int
	Offset int
}

// where returns the WHERE clause (with leading space) and its arguments.
func (f Filter) where() (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if !f.IncludeDeleted && f.SyncStatus != models.SyncStatusPendingDelete {
		conditions = append(conditions, "sync_status != 'pending_delete'")
	}
	if f.SyncStatus != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(f.SyncStatus))
	}
	if f.Status != "" {
		conditions = append(conditions, "entity_status = ?")
		args = append(args, f.Status)
	}
	if f.From > 0 {
		conditions = append(conditions, "entity_date >= ?")
		args = append(args, f.From)
	}
	if f.To > 0 {
		conditions = append(conditions, "entity_date <= ?")
		args = append(args, f.To)
	}
	if text := strings.TrimSpace(f.Text); text != "" {
		conditions = append(conditions, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(text)+"%")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike escapes LIKE wildcards so user text matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
