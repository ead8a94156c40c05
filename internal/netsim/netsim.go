// Package netsim provides an artificial latency injector used only by
// backend tests, pluggable as an optional field of the in-memory backend's
// state so scan/append paths can be exercised under simulated latency and
// cancellation.
package netsim

import (
	"context"
	"math/rand"
	"time"
)

// Simulator injects artificial delay into a backend operation. Wait must
// respect ctx cancellation: a cancelled context returns ctx.Err() without
// waiting out the full delay.
type Simulator interface {
	Wait(ctx context.Context) error
}

// None is the default no-op Simulator: it never delays.
var None Simulator = noop{}

type noop struct{}

func (noop) Wait(ctx context.Context) error { return ctx.Err() }

// Jitter delays for a random duration in [min, max), used by tests that
// want to exercise interleavings under contention.
type Jitter struct {
	Min, Max time.Duration
	rnd      *rand.Rand
}

// NewJitter builds a Jitter simulator seeded deterministically from seed, so
// tests using it stay reproducible.
func NewJitter(min, max time.Duration, seed int64) *Jitter {
	return &Jitter{Min: min, Max: max, rnd: rand.New(rand.NewSource(seed))}
}

func (j *Jitter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := j.Min
	if j.Max > j.Min {
		d += time.Duration(j.rnd.Int63n(int64(j.Max - j.Min)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
