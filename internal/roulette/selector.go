// Package roulette picks exactly one participant out of a funded degen pool.
// The combination rule is deterministic for fixed entropy draws and timestamp
// (tests depend on that) while remaining unpredictable beforehand, since the
// draws happen only at lock time.
package roulette

import (
	"fmt"
	"time"

	"github.com/tabsplit/settlement-engine/internal/entropy"
)

const twoPow64 = float64(1 << 63) * 2

// Result carries the selected index plus everything needed to audit the draw.
type Result struct {
	Index         int
	Draws         []entropy.Draw
	ClockFraction float64
}

// Selector combines entropy draws with wall-clock jitter.
type Selector struct {
	source *entropy.Source
	now    func() time.Time
}

// NewSelector builds a selector over the given entropy source.
func NewSelector(source *entropy.Source) *Selector {
	return &Selector{source: source, now: time.Now}
}

// WithClock overrides the wall clock. Test hook.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Select picks an index in [0, n). A single-participant pool is a degenerate
// but valid case: index 0, no entropy consumed.
func (s *Selector) Select(n int) (Result, error) {
	if n <= 0 {
		return Result{}, fmt.Errorf("participant pool must be non-empty, got %d", n)
	}
	if n == 1 {
		return Result{Index: 0}, nil
	}

	first, err := s.source.Draw()
	if err != nil {
		return Result{}, fmt.Errorf("first entropy draw: %w", err)
	}
	second, err := s.source.Draw()
	if err != nil {
		return Result{}, fmt.Errorf("second entropy draw: %w", err)
	}

	frac := float64(s.now().Nanosecond()) / 1e9
	idx := Combine([]uint64{first.Value, second.Value}, frac, n)
	return Result{
		Index:         idx,
		Draws:         []entropy.Draw{first, second},
		ClockFraction: frac,
	}, nil
}

// Combine normalizes each draw into [0,1), averages them together with the
// sub-second clock fraction, scales by n, floors and clamps. Pure function;
// the selection is fully determined by its inputs.
func Combine(values []uint64, clockFraction float64, n int) int {
	sum := clockFraction
	for _, v := range values {
		sum += float64(v) / twoPow64
	}
	avg := sum / float64(len(values)+1)

	idx := int(avg * float64(n))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}
