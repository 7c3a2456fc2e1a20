// Package resource implements the cache-first read policy shared by every entity
// query: serve the local cache, fetch when needed and possible, and report progress as
// a short, finite sequence of states.
package resource

// Status is the phase of a State.
type Status int

const (
	StatusLoading Status = iota
	StatusSuccess
	StatusError
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// State is one step of a query. HasData distinguishes "no cached value" from a cached
// zero value such as an empty list.
type State[T any] struct {
	Status    Status
	Data      T
	HasData   bool
	FromCache bool
	Message   string
	Err       error
}

// Loading returns a Loading state, optionally carrying cached data.
func Loading[T any](data T, has bool) State[T] {
	return State[T]{Status: StatusLoading, Data: data, HasData: has, FromCache: has}
}

// Success returns a terminal Success state.
func Success[T any](data T, fromCache bool) State[T] {
	return State[T]{Status: StatusSuccess, Data: data, HasData: true, FromCache: fromCache}
}

// Failure returns a terminal Error state carrying whatever data is known.
func Failure[T any](err error, message string, data T, has bool) State[T] {
	if message == "" && err != nil {
		message = err.Error()
	}
	return State[T]{Status: StatusError, Data: data, HasData: has, FromCache: has, Message: message, Err: err}
}

// IsTerminal reports whether no further state follows.
func (s State[T]) IsTerminal() bool {
	return s.Status != StatusLoading
}
