package conn

import "time"

const (
	baseDelay   = time.Second
	maxDelay    = 30 * time.Second
	maxAttempts = 6
)

// Delay returns the backoff delay for the given zero-based retry attempt:
// 1s, 2s, 4s, 8s, 16s, capped at 30s.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := baseDelay << uint(attempt)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}
