package outbox

import (
	"math/rand"
	"time"
	"unicode/utf8"
)

// retryDelay doubles base for every failed attempt after the first and
// stops at ceiling.
func retryDelay(attempts int, base, ceiling time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}

// jitter returns a value in [0, maxJitter].
func jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 || r == nil {
		return 0
	}
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}

// clipError keeps at most maxBytes of the message without splitting a rune,
// so it fits the last_error column.
func clipError(err error, maxBytes int) string {
	if err == nil || maxBytes <= 0 {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxBytes {
		return msg
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
