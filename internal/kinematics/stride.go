package kinematics

import "math"

const gravityMPS2 = 9.81

// ankleSample is one retained (timestamp, velocity magnitude, x position)
// triple used to detect foot-contact events from ankle velocity minima.
type ankleSample struct {
	timestampNS int64
	velMag      float64
	x           float64
}

// footTrack accumulates contact statistics for one foot.
type footTrack struct {
	velSeries    []ankleSample
	contacts     int
	lastContactNS int64
	lastContactX  float64
	haveContact   bool
	intervalsNS   []int64
	displacements []float64
}

// observe pushes one ankle sample and reports whether it confirmed a new
// contact. A contact is a local velocity minimum below contactThreshold;
// the minimum test needs the following sample, so confirmation lags the
// contact itself by one frame.
func (f *footTrack) observe(ts int64, velMag, x, contactThreshold float64) bool {
	f.velSeries = append(f.velSeries, ankleSample{timestampNS: ts, velMag: velMag, x: x})
	if len(f.velSeries) > 5 {
		f.velSeries = f.velSeries[len(f.velSeries)-5:]
	}
	n := len(f.velSeries)
	if n < 3 {
		return false
	}
	mid := f.velSeries[n-2]
	if mid.velMag >= contactThreshold {
		return false
	}
	if mid.velMag > f.velSeries[n-3].velMag || mid.velMag > f.velSeries[n-1].velMag {
		return false
	}
	f.contacts++
	if f.haveContact {
		f.intervalsNS = append(f.intervalsNS, mid.timestampNS-f.lastContactNS)
		f.displacements = append(f.displacements, mid.x-f.lastContactX)
	}
	f.lastContactNS = mid.timestampNS
	f.lastContactX = mid.x
	f.haveContact = true
	return true
}

func meanInt64(vs []int64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum int64
	for _, v := range vs {
		sum += v
	}
	return float64(sum) / float64(len(vs))
}

func meanFloat(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// StrideState carries the per-track left/right foot contact trackers.
// One instance lives alongside each stream's History.
type StrideState struct {
	left, right footTrack

	// justDetected is set by Observe when either foot confirmed a new
	// contact this frame. The confirmed contact sits one frame back in
	// the history (the local-minimum test needs the frame after it).
	justDetected bool
}

// NewStrideState returns an empty contact tracker.
func NewStrideState() *StrideState {
	return &StrideState{}
}

// Observe feeds one frame's ankle landmarks and timestamp into the
// contact detector. dt is the stream's configured frame interval; it
// must come from the stream settings, never a hard-coded 1/30.
func (s *StrideState) Observe(h *History, dt, contactThreshold float64) {
	s.justDetected = false
	n := len(h.samples)
	if n < 3 || dt <= 0 {
		return
	}
	prev := h.samples[n-3]
	cur := h.samples[n-1]

	if lp, ok1 := prev.landmarks["left_ankle"]; ok1 {
		if lc, ok2 := cur.landmarks["left_ankle"]; ok2 && lp.Visibility >= visibilityThreshold && lc.Visibility >= visibilityThreshold {
			vx := (lc.X - lp.X) / (2 * dt)
			vy := (lc.Y - lp.Y) / (2 * dt)
			if s.left.observe(cur.timestampNS, math.Hypot(vx, vy), lc.X, contactThreshold) {
				s.justDetected = true
			}
		}
	}
	if rp, ok1 := prev.landmarks["right_ankle"]; ok1 {
		if rc, ok2 := cur.landmarks["right_ankle"]; ok2 && rp.Visibility >= visibilityThreshold && rc.Visibility >= visibilityThreshold {
			vx := (rc.X - rp.X) / (2 * dt)
			vy := (rc.Y - rp.Y) / (2 * dt)
			if s.right.observe(cur.timestampNS, math.Hypot(vx, vy), rc.X, contactThreshold) {
				s.justDetected = true
			}
		}
	}
}

// Stride reports the gait-cycle summary, or ok=false if no contacts have
// been observed yet on either foot.
func (s *StrideState) Stride() (frequencyHz, lengthM, asymmetry float64, ok bool) {
	allIntervals := append(append([]int64{}, s.left.intervalsNS...), s.right.intervalsNS...)
	allDisplacements := append(append([]float64{}, s.left.displacements...), s.right.displacements...)
	if len(allIntervals) == 0 {
		return 0, 0, 0, false
	}
	meanIntervalNS := meanInt64(allIntervals)
	if meanIntervalNS <= 0 {
		return 0, 0, 0, false
	}
	frequencyHz = 1.0 / (meanIntervalNS / 1e9)
	lengthM = meanFloat(allDisplacements)
	asymmetry = math.Abs(float64(s.left.contacts - s.right.contacts))
	return frequencyHz, lengthM, asymmetry, true
}

// ContactDetected reports whether the most recent Observe confirmed a
// foot contact; GRF is only computed on these frames. The contact frame
// is the second-to-last history sample, which is also where a second
// central difference over the last three samples lands its acceleration
// estimate.
func (s *StrideState) ContactDetected() bool {
	return s.justDetected
}

// GRF estimates ground reaction force from COM acceleration via second
// central differences over the history's last three COM samples, using
// the stream's configured dt and an assumed body mass.
// Returns ok=false outside a contact frame or with insufficient history.
func GRF(h *History, dt, bodyMassKg float64, isContactFrame bool) (verticalN, horizontalN float64, ok bool) {
	if !isContactFrame || dt <= 0 {
		return 0, 0, false
	}
	n := len(h.samples)
	if n < 3 {
		return 0, 0, false
	}
	c0, c1, c2 := h.samples[n-3].com, h.samples[n-2].com, h.samples[n-1].com
	if c0 == nil || c1 == nil || c2 == nil {
		return 0, 0, false
	}
	ax := (c2[0] - 2*c1[0] + c0[0]) / (dt * dt)
	ay := (c2[1] - 2*c1[1] + c0[1]) / (dt * dt)
	verticalN = bodyMassKg * (gravityMPS2 + ay)
	horizontalN = bodyMassKg * ax
	return verticalN, horizontalN, true
}
