// Package vision defines the pluggable contracts for the object detector
// and pose estimator the tracker and kinematics packages consume. Neither
// adapter implementation lives here, only the shapes a caller can rely
// on; any model meeting the contract may be substituted.
package vision

import (
	"context"
	"math"
	"time"
)

// BBox is an axis-aligned bounding box in pixel coordinates, [x1,y1,x2,y2].
type BBox [4]float64

// Center returns the box's geometric center.
func (b BBox) Center() (cx, cy float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// Width returns x2-x1.
func (b BBox) Width() float64 { return b[2] - b[0] }

// Height returns y2-y1.
func (b BBox) Height() float64 { return b[3] - b[1] }

// Area returns the box's pixel area, 0 if degenerate.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU computes intersection-over-union of two boxes, in [0,1].
func (b BBox) IoU(o BBox) float64 {
	ix1 := math.Max(b[0], o[0])
	iy1 := math.Max(b[1], o[1])
	ix2 := math.Min(b[2], o[2])
	iy2 := math.Min(b[3], o[3])

	iw := math.Max(0, ix2-ix1)
	ih := math.Max(0, iy2-iy1)
	inter := iw * ih
	if inter == 0 {
		return 0
	}

	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is a single detected object, immutable once produced by the
// Detector Adapter.
type Detection struct {
	BBox       BBox
	Confidence float64
	ClassID    int
}

// Center returns the detection's bounding-box center.
func (d Detection) Center() (cx, cy float64) { return d.BBox.Center() }

// Area returns the detection's bounding-box area.
func (d Detection) Area() float64 { return d.BBox.Area() }

// PersonClassID is the class_id the detector adapter filters to.
const PersonClassID = 0

// Frame is a single decoded frame handed to the pipeline exactly once.
type Frame struct {
	StreamID    string
	FrameIdx    int64
	TimestampNS int64
	Width       int
	Height      int
	Pixels      []byte // grayscale or packed RGB, adapter-defined
}

// Timestamp returns the frame's timestamp as a time.Time.
func (f Frame) Timestamp() time.Time {
	return time.Unix(0, f.TimestampNS)
}

// Detector wraps an external object detector. Implementations must be
// deterministic given identical input and are expected to already filter
// to the person class at conf_threshold; Detect is given the threshold so
// adapters that wrap a generic multi-class model can still honor it.
// Detect must respect ctx: the pipeline bounds each inference call by a
// per-frame deadline and, on expiry, records that branch as nil with an
// error entry.
type Detector interface {
	Detect(ctx context.Context, frame Frame, confThreshold float64) ([]Detection, error)
}

// Landmark is a single named pose keypoint.
type Landmark struct {
	X, Y       float64
	Visibility float64
}

// Pose is the full set of landmarks extracted for one frame. A nil *Pose
// from Extract means no person was found in the frame.
type Pose struct {
	FrameIdx    int64
	TimestampNS int64
	Landmarks   map[string]Landmark
}

// QualityScore is the mean visibility across all landmarks, 0 if there
// are none. This is the aggregate moriarty.pose_quality_score the wire
// schema names without defining.
func (p *Pose) QualityScore() float64 {
	if p == nil || len(p.Landmarks) == 0 {
		return 0
	}
	sum := 0.0
	for _, lm := range p.Landmarks {
		sum += lm.Visibility
	}
	return sum / float64(len(p.Landmarks))
}

// PoseEstimator wraps an external pose model. Implementations may keep
// internal state for temporal smoothing but must not share that state
// across streams; callers create one instance per stream. Extract must
// respect ctx the same way Detector.Detect does.
type PoseEstimator interface {
	Extract(ctx context.Context, frame Frame) (*Pose, error)
}
