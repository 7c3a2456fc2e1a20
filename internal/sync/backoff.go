package sync

import "time"

// Backoff returns the wait after failures consecutive failures: 2^failures * base,
// capped at ceiling.
func Backoff(failures int, base, ceiling time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	if failures >= 30 {
		return ceiling
	}
	backoff := base * time.Duration(int64(1)<<uint(failures))
	if backoff > ceiling || backoff <= 0 {
		backoff = ceiling
	}
	return backoff
}
