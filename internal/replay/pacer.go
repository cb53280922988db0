package replay

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/tapedeck-dev/tapedeck/internal/tape"
)

// pacer turns a chunk's recorded delay (or a latency override) into an
// actual wait, modeled as a one-shot rate.Limiter reservation rather than
// a bare time.Sleep.
type pacer struct {
	override *tape.Latency
	rng      *rand.Rand
}

func newPacer(override *tape.Latency, rng *rand.Rand) *pacer {
	return &pacer{override: override, rng: rng}
}

func (p *pacer) delayFor(recordedMs int) time.Duration {
	if p.override == nil {
		return time.Duration(recordedMs) * time.Millisecond
	}
	if p.override.Scalar != nil {
		return time.Duration(*p.override.Scalar) * time.Millisecond
	}
	r := p.override.Range
	lo, hi := r[0], r[1]
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	n := lo + p.rng.Intn(hi-lo+1)
	return time.Duration(n) * time.Millisecond
}

// wait blocks for the paced delay, or returns early if ctx is canceled.
func (p *pacer) wait(ctx context.Context, recordedMs int) error {
	d := p.delayFor(recordedMs)
	if d <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Every(d), 1)
	lim.Allow() // consume the initial free token so Wait actually blocks for d
	return lim.Wait(ctx)
}
