package repository

import (
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
)

// SyncResult is the outcome of an explicit sync: Success with counts or Error with a
// message.
type SyncResult struct {
	OK      bool            `json:"ok"`
	Result  *syncpkg.Result `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Err     error           `json:"-"`
}

// SyncSuccess returns a successful SyncResult.
func SyncSuccess(res *syncpkg.Result) SyncResult {
	return SyncResult{OK: true, Result: res}
}

// SyncError returns a failed SyncResult.
func SyncError(err error) SyncResult {
	return SyncResult{Message: err.Error(), Code: string(apperrors.CodeOf(err)), Err: err}
}

func newSyncResult(res *syncpkg.Result, err error) SyncResult {
	if err != nil {
		return SyncError(err)
	}
	return SyncSuccess(res)
}
