package tracking

import (
	"github.com/fullscreen-triangle/morphine/internal/vision"
)

// Track is one tracked person, identity stable across frames.
// Position/BBox history is bounded so long-lived tracks do not grow
// without limit.
type Track struct {
	ID int64

	kf *kalmanFilter

	Age             int
	Hits            int
	TimeSinceUpdate int

	// positions is the bounded trailing window of (cx, cy) centers the
	// speed estimator consumes.
	positions    [][2]float64
	maxPositions int

	Speed float64
}

const defaultMaxPositionHistory = 64

// Position returns the track's current (predicted or updated) center.
func (t *Track) Position() (x, y float64) {
	cx, cy, _, _ := t.kf.box()
	return cx, cy
}

// BBox returns the track's current bounding box derived from the Kalman
// state's center/width/height.
func (t *Track) BBox() vision.BBox {
	cx, cy, w, h := t.kf.box()
	return vision.BBox{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}

// Visible reports whether the track should be emitted to downstream
// consumers.
func (t *Track) Visible(minHits int) bool {
	return t.Hits >= minHits || t.TimeSinceUpdate == 0
}

// recordPosition appends the track's current center to its trailing
// position window, bounded to maxPositions.
func (t *Track) recordPosition() {
	cx, cy := t.Position()
	t.positions = append(t.positions, [2]float64{cx, cy})
	if len(t.positions) > t.maxPositions {
		t.positions = t.positions[len(t.positions)-t.maxPositions:]
	}
}

// Positions returns the track's trailing center-position window, oldest
// first.
func (t *Track) Positions() [][2]float64 {
	return t.positions
}
