package dialer

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase   = 500 * time.Millisecond
	backoffMax    = 30 * time.Second
	backoffJitter = 0.2
)

// backoff doubles from base to max with ±20% jitter on every delay so a
// fleet of clients losing the same daemon does not redial in lockstep.
type backoff struct {
	attempt int
}

func (b *backoff) next() time.Duration {
	d := backoffMax
	if b.attempt < 10 {
		if shifted := backoffBase << b.attempt; shifted < backoffMax {
			d = shifted
		}
	}
	b.attempt++
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

func (b *backoff) reset() {
	b.attempt = 0
}
