// Package occupancy turns hourly arrival counts into an estimated concurrent
// population and maps that population to a congestion label.
//
// A visitor arriving during hour t is assumed to stay for stay_hours full hours
// after arrival, so the population at hour t is the scaled sum of arrivals over
// a trailing window of stay_hours+1 hours:
//
//	population(t) = Σ scaling × count(k),  k = max(first, t-stay_hours) .. t
//
// Hours at the start of a series use a partially filled window; there is no
// warm-up value. The classifier divides the location area by the population
// and compares the per-capita area against the bands of the location's
// category (see Classify).
//
// Everything in this package is pure and deterministic. Callers may run one
// estimation per location in parallel; nothing is shared between calls.
package occupancy

import (
	"fmt"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// Window is a fixed-width trailing sum over scaled arrivals, backed by a ring
// buffer of StayHours+1 slots.
type Window struct {
	buf   []float64
	head  int // index of the oldest entry
	n     int
	sum   float64
	scale float64
}

// NewWindow creates an empty window for the profile. The profile is assumed to
// be valid; Estimate validates it before use.
func NewWindow(profile models.LocationProfile) *Window {
	size := profile.WindowSize()
	if size < 1 {
		size = 1
	}
	return &Window{
		buf:   make([]float64, size),
		scale: profile.ScalingFactor,
	}
}

// Push adds one hour of arrivals and returns the estimated population for that
// hour. The oldest hour is evicted once the window would exceed its width.
// The sum is recomputed from the buffer, oldest first, so an emptied window
// reads exactly zero.
func (w *Window) Push(count float64) float64 {
	scaled := count * w.scale

	if w.n == len(w.buf) {
		w.buf[w.head] = scaled
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.buf[(w.head+w.n)%len(w.buf)] = scaled
		w.n++
	}

	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	if sum < 0 {
		sum = 0
	}
	w.sum = sum
	return w.sum
}

// Len returns the number of hours currently held by the window.
func (w *Window) Len() int {
	return w.n
}

// Sum returns the current estimated population.
func (w *Window) Sum() float64 {
	return w.sum
}

// Estimate computes the estimated population for every observation of one
// location. The result has the same length and order as series.
//
// series must belong to profile's location and be strictly increasing by
// (date, hour) without interior gaps; missing hours have to be supplied as
// zero counts. Any violation returns an error wrapping models.ErrInvalidInput.
func Estimate(series []models.HourlyObservation, profile models.LocationProfile) ([]float64, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	populations := make([]float64, len(series))
	w := NewWindow(profile)

	for i := range series {
		obs := &series[i]
		if obs.LocationID != profile.ID {
			return nil, fmt.Errorf("%w: observation %d belongs to %q, expected %q",
				models.ErrInvalidInput, i, obs.LocationID, profile.ID)
		}
		if err := obs.Validate(); err != nil {
			return nil, fmt.Errorf("%w: observation %d: %v", models.ErrInvalidInput, i, err)
		}
		if i > 0 {
			step := obs.Slot() - series[i-1].Slot()
			switch {
			case step <= 0:
				return nil, fmt.Errorf("%w: observation %d (%s hour %d) is not after the previous one",
					models.ErrInvalidInput, i, obs.Date.Format(models.DateLayout), obs.Hour)
			case step > 1:
				return nil, fmt.Errorf("%w: %d missing hours before %s hour %d",
					models.ErrInvalidInput, step-1, obs.Date.Format(models.DateLayout), obs.Hour)
			}
		}

		populations[i] = w.Push(obs.Count)
	}

	return populations, nil
}
