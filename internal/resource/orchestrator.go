package resource

import (
	"context"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
)

// OfflineMessage is the Error message emitted when a fetch is needed while offline and
// nothing is cached.
const OfflineMessage = "offline"

// Source wires one query to its cache and its remote call.
//
// T is what callers see (read from the cache); R is what the remote returns.
type Source[T, R any] struct {
	// Name is used in log messages.
	Name string
	// ReadLocal reads the cache. ok is false when nothing is cached yet.
	ReadLocal func(ctx context.Context) (value T, ok bool, err error)
	// ShouldFetch decides whether the cached value needs refreshing.
	ShouldFetch func(cached T, ok bool) bool
	Fetch       func(ctx context.Context) (R, error)
	// Persist writes a fetched value into the cache.
	Persist func(ctx context.Context, fetched R) error
}

// Run executes src and returns its states. The channel yields Loading, optionally a
// Loading carrying cached data, then exactly one terminal state, and is then closed.
// Cancelling ctx stops emission and closes the channel early.
func Run[T, R any](ctx context.Context, oracle connectivity.Oracle, src Source[T, R]) <-chan State[T] {
	out := make(chan State[T], 3)
	go func() {
		defer close(out)
		run(ctx, oracle, src, out)
	}()
	return out
}

func run[T, R any](ctx context.Context, oracle connectivity.Oracle, src Source[T, R], out chan<- State[T]) {
	emit := func(s State[T]) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}
	var zero T

	if !emit(Loading(zero, false)) {
		return
	}

	cached, ok, err := src.ReadLocal(ctx)
	if err != nil {
		emit(localFailure[T](src.Name, "reading cache", err))
		return
	}
	if ok && !emit(Loading(cached, true)) {
		return
	}

	if !src.ShouldFetch(cached, ok) {
		emit(Success(cached, true))
		return
	}

	if oracle != nil && !oracle.IsAvailable() {
		if ok {
			emit(Success(cached, true))
		} else {
			emit(Failure(apperrors.New(apperrors.ErrNetworkUnavailable, OfflineMessage), OfflineMessage, cached, false))
		}
		return
	}

	fetched, err := src.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Warn("Fetch failed, serving cache", map[string]interface{}{
			"resource": src.Name,
			"cached":   ok,
			"code":     string(apperrors.CodeOf(err)),
			"error":    err.Error(),
		})
		emit(Failure(err, "", cached, ok))
		return
	}

	if err := src.Persist(ctx, fetched); err != nil {
		emit(localFailure[T](src.Name, "persisting fetch", err))
		return
	}

	fresh, ok, err := src.ReadLocal(ctx)
	if err != nil {
		emit(localFailure[T](src.Name, "re-reading cache", err))
		return
	}
	state := Success(fresh, false)
	state.HasData = ok
	emit(state)
}

func localFailure[T any](name, op string, err error) State[T] {
	err = apperrors.Storage(op, err)
	logging.ErrorWithCode("Local storage failure", string(apperrors.ErrLocalStorage), err, map[string]interface{}{
		"resource": name,
	})
	var zero T
	return Failure(err, "", zero, false)
}

// Collect drains ch into a slice.
func Collect[T any](ch <-chan State[T]) []State[T] {
	var states []State[T]
	for s := range ch {
		states = append(states, s)
	}
	return states
}

// Last drains ch and returns the final state. ok is false if nothing was emitted.
func Last[T any](ch <-chan State[T]) (last State[T], ok bool) {
	for s := range ch {
		last, ok = s, true
	}
	return last, ok
}
