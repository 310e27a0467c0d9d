// Package speed implements the smoothed per-track speed estimator:
// pixel displacement between the two most recent track centers,
// converted to km/h and averaged over a trailing window.
package speed

import (
	"math"

	"github.com/fullscreen-triangle/morphine/internal/units"
)

const defaultSmoothingWindow = 5

// Estimator maintains the trailing speed window for one track.
type Estimator struct {
	window []float64
	size   int
}

// NewEstimator returns an estimator with the given trailing window
// size; 0 or negative falls back to the default of 5.
func NewEstimator(smoothingWindow int) *Estimator {
	if smoothingWindow <= 0 {
		smoothingWindow = defaultSmoothingWindow
	}
	return &Estimator{size: smoothingWindow}
}

// Update computes the instantaneous speed from the two most recent
// positions and pushes it into the trailing window, returning the
// window's mean. positions must be ordered oldest-first; a
// track with fewer than two positions reports 0.
func (e *Estimator) Update(positions [][2]float64, fps, pixelToMeter float64) float64 {
	if len(positions) < 2 {
		return 0
	}
	p0 := positions[len(positions)-2]
	p1 := positions[len(positions)-1]

	dx := p1[0] - p0[0]
	dy := p1[1] - p0[1]
	pixelDist := math.Hypot(dx, dy)

	mps := pixelDist * pixelToMeter * fps
	kmph := units.MPSToKMPH(mps)

	e.window = append(e.window, kmph)
	if len(e.window) > e.size {
		e.window = e.window[len(e.window)-e.size:]
	}

	var sum float64
	for _, v := range e.window {
		sum += v
	}
	return sum / float64(len(e.window))
}
