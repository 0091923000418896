package transport

import (
	"math/rand"
	"time"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// backoffDelay returns the full-jitter delay for the given retry attempt:
// a uniform random duration up to min(cap, base*2^attempt).
func backoffDelay(attempt int) time.Duration {
	ceiling := backoffCap
	if attempt < 30 {
		if d := backoffBase << uint(attempt); d < ceiling {
			ceiling = d
		}
	}
	if ceiling <= 0 {
		ceiling = backoffBase
	}
	return time.Duration(rand.Int63n(int64(ceiling))) + time.Millisecond
}
