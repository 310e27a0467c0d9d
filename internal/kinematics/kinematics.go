// Package kinematics implements the pose-derived biomechanics:
// joint angles, central-difference velocities, center of mass, stride
// metrics, and ground reaction force, over a bounded rolling pose
// history per stream. Every computation short-circuits to "not
// reported" when prerequisite history or visibility is missing; values
// are never fabricated.
package kinematics

import (
	"math"

	"github.com/fullscreen-triangle/morphine/internal/units"
	"github.com/fullscreen-triangle/morphine/internal/vision"
)

const (
	visibilityThreshold = 0.5
	defaultHistoryLen   = 90
)

// JointSpec names the three landmarks forming a joint angle, keyed by
// the emitted joint name.
type JointSpec struct {
	Name        string
	A, Joint, C string
}

// StandardJoints is the set of joint angles computed for a full-body
// pose; each follows the same neighbor-vector geometric definition.
var StandardJoints = []JointSpec{
	{Name: "left_elbow", A: "left_shoulder", Joint: "left_elbow", C: "left_wrist"},
	{Name: "right_elbow", A: "right_shoulder", Joint: "right_elbow", C: "right_wrist"},
	{Name: "left_knee", A: "left_hip", Joint: "left_knee", C: "left_ankle"},
	{Name: "right_knee", A: "right_hip", Joint: "right_knee", C: "right_ankle"},
	{Name: "left_shoulder", A: "left_elbow", Joint: "left_shoulder", C: "left_hip"},
	{Name: "right_shoulder", A: "right_elbow", Joint: "right_shoulder", C: "right_hip"},
	{Name: "left_hip", A: "left_shoulder", Joint: "left_hip", C: "left_knee"},
	{Name: "right_hip", A: "right_shoulder", Joint: "right_hip", C: "right_knee"},
}

// TorsoLandmarks are the four torso/hip landmarks averaged for COM.
var TorsoLandmarks = []string{"left_shoulder", "right_shoulder", "left_hip", "right_hip"}

// poseSample is one frame's worth of retained pose state.
type poseSample struct {
	timestampNS int64
	landmarks   map[string]vision.Landmark
	com         *[2]float64
}

// History is the bounded rolling pose window for a single stream/track.
type History struct {
	samples []poseSample
	maxLen  int
}

// NewHistory returns an empty history bounded to maxLen frames (default
// defaultHistoryLen, ~3s at 30fps).
func NewHistory(maxLen int) *History {
	if maxLen <= 0 {
		maxLen = defaultHistoryLen
	}
	return &History{maxLen: maxLen}
}

// JointAngles computes the angle in degrees at each standard joint for
// the given pose, skipping any joint where a landmark is missing or its
// visibility is below 0.5.
func JointAngles(lm map[string]vision.Landmark) map[string]float64 {
	out := make(map[string]float64)
	for _, js := range StandardJoints {
		a, aok := lm[js.A]
		j, jok := lm[js.Joint]
		c, cok := lm[js.C]
		if !aok || !jok || !cok {
			continue
		}
		if a.Visibility < visibilityThreshold || j.Visibility < visibilityThreshold || c.Visibility < visibilityThreshold {
			continue
		}
		angle, ok := angleBetween(a, j, c)
		if !ok {
			continue
		}
		out[js.Name] = angle
	}
	return out
}

// angleBetween computes the angle in degrees at joint j between vectors
// (a-j) and (c-j), clamped before arccos.
func angleBetween(a, j, c vision.Landmark) (float64, bool) {
	v1x, v1y := a.X-j.X, a.Y-j.Y
	v2x, v2y := c.X-j.X, c.Y-j.Y

	m1 := math.Hypot(v1x, v1y)
	m2 := math.Hypot(v2x, v2y)
	if m1 == 0 || m2 == 0 {
		return 0, false
	}

	cosTheta := (v1x*v2x + v1y*v2y) / (m1 * m2)
	cosTheta = units.ClampUnitInterval(cosTheta)
	return units.RadiansToDegrees(math.Acos(cosTheta)), true
}

// CenterOfMass returns the equal-weighted mean of the four torso/hip
// landmarks when all are visible (>0.5), else ok=false.
func CenterOfMass(lm map[string]vision.Landmark) (x, y float64, ok bool) {
	var sx, sy float64
	for _, name := range TorsoLandmarks {
		l, present := lm[name]
		if !present || l.Visibility <= visibilityThreshold {
			return 0, 0, false
		}
		sx += l.X
		sy += l.Y
	}
	n := float64(len(TorsoLandmarks))
	return sx / n, sy / n, true
}

// Append pushes a new pose sample into the rolling window, evicting the
// oldest sample once maxLen is exceeded.
func (h *History) Append(timestampNS int64, lm map[string]vision.Landmark) {
	var com *[2]float64
	if x, y, ok := CenterOfMass(lm); ok {
		com = &[2]float64{x, y}
	}
	h.samples = append(h.samples, poseSample{timestampNS: timestampNS, landmarks: lm, com: com})
	if len(h.samples) > h.maxLen {
		h.samples = h.samples[len(h.samples)-h.maxLen:]
	}
}

// Velocities computes per-landmark central-difference velocities
// (p[i+1]-p[i-1])/(2*dt) using the two most recent complete windows.
func (h *History) Velocities(dt float64) map[string][2]float64 {
	n := len(h.samples)
	if n < 3 || dt <= 0 {
		return nil
	}
	prev := h.samples[n-3]
	next := h.samples[n-1]

	out := make(map[string][2]float64)
	for name, p1 := range next.landmarks {
		p0, ok := prev.landmarks[name]
		if !ok {
			continue
		}
		if p1.Visibility < visibilityThreshold || p0.Visibility < visibilityThreshold {
			continue
		}
		vx := (p1.X - p0.X) / (2 * dt)
		vy := (p1.Y - p0.Y) / (2 * dt)
		out[name] = [2]float64{vx, vy}
	}
	return out
}
