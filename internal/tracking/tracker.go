// Package tracking implements the multi-object Kalman tracker:
// predict, Hungarian-assign detections to tracks by IoU, update matched
// tracks, spawn unmatched detections, reap stale tracks, and emit the
// visible subset. One Tracker instance is owned by exactly one stream.
package tracking

import (
	"sort"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/vision"
)

// Tracker holds all tracks for a single stream.
type Tracker struct {
	tracks []*Track
	nextID int64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update runs one frame of predict/associate/update/reap and returns
// the tracks visible to downstream consumers this frame.
func (t *Tracker) Update(detections []vision.Detection, s config.Settings) []*Track {
	for _, tr := range t.tracks {
		tr.kf.predict()
		tr.Age++
	}

	assignments := t.associate(detections, s.IoUThreshold)

	matchedTracks := make(map[int]bool, len(t.tracks))
	matchedDets := make(map[int]bool, len(detections))

	for di, ti := range assignments {
		if ti < 0 {
			continue
		}
		tr := t.tracks[ti]
		cx, cy := detections[di].Center()
		w, h := detections[di].BBox.Width(), detections[di].BBox.Height()
		if err := tr.kf.update(cx, cy, w, h); err != nil {
			// Degenerate covariance: keep the predicted state, never
			// fatal. The pair still counts as consumed so the track is
			// not double-penalized below and the detection does not
			// spawn a duplicate.
			tr.TimeSinceUpdate++
			matchedTracks[ti] = true
			matchedDets[di] = true
			continue
		}
		tr.Hits++
		tr.TimeSinceUpdate = 0
		tr.recordPosition()
		matchedTracks[ti] = true
		matchedDets[di] = true
	}

	for ti, tr := range t.tracks {
		if !matchedTracks[ti] {
			tr.TimeSinceUpdate++
		}
	}

	for di, det := range detections {
		if matchedDets[di] {
			continue
		}
		cx, cy := det.Center()
		w, h := det.BBox.Width(), det.BBox.Height()
		tr := &Track{
			ID:           t.nextID,
			kf:           newKalmanFilter(cx, cy, w, h, s.ProcessNoisePos, s.ProcessNoiseScale, s.MeasurementNoise),
			Hits:         1,
			maxPositions: defaultMaxPositionHistory,
		}
		tr.recordPosition()
		t.nextID++
		t.tracks = append(t.tracks, tr)
	}

	// Reap tracks past max_age.
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.TimeSinceUpdate <= s.MaxAge {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept

	var visible []*Track
	for _, tr := range t.tracks {
		if tr.Visible(s.MinHits) {
			visible = append(visible, tr)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID < visible[j].ID })
	return visible
}

// associate builds the IoU cost matrix and solves it with Hungarian
// assignment on (1-IoU), then gates matches by iouThreshold.
// Returns assignments[detectionIdx] = trackIdx, or -1.
func (t *Tracker) associate(detections []vision.Detection, iouThreshold float64) []int {
	assignments := make([]int, len(detections))
	for i := range assignments {
		assignments[i] = -1
	}
	if len(detections) == 0 || len(t.tracks) == 0 {
		return assignments
	}

	cost := make([][]float64, len(detections))
	iou := make([][]float64, len(detections))
	for di, det := range detections {
		cost[di] = make([]float64, len(t.tracks))
		iou[di] = make([]float64, len(t.tracks))
		for ti, tr := range t.tracks {
			v := det.BBox.IoU(tr.BBox())
			iou[di][ti] = v
			cost[di][ti] = 1 - v
		}
	}

	rowAssign := hungarianAssign(cost)
	for di, ti := range rowAssign {
		if ti < 0 || iou[di][ti] <= iouThreshold {
			continue
		}
		assignments[di] = ti
	}

	// The optimal-cost assignment is indifferent between detections with
	// exactly equal IoU to a track; the tie-break rule is not. Hand each
	// such match to the preferred detection: higher confidence first,
	// then lower index.
	for di := range assignments {
		ti := assignments[di]
		if ti < 0 {
			continue
		}
		best := di
		for dj := range detections {
			if assignments[dj] == -1 && iou[dj][ti] == iou[di][ti] && betterClaim(detections, iou, dj, best, ti) {
				best = dj
			}
		}
		if best != di {
			assignments[best] = ti
			assignments[di] = -1
		}
	}

	return assignments
}

// betterClaim reports whether candidate detection di should win track ti
// over the currently-assigned detection cur, per the tie-break rule:
// higher confidence wins; if still tied, lower detection index wins.
func betterClaim(detections []vision.Detection, iou [][]float64, di, cur, ti int) bool {
	if iou[di][ti] != iou[cur][ti] {
		return iou[di][ti] > iou[cur][ti]
	}
	if detections[di].Confidence != detections[cur].Confidence {
		return detections[di].Confidence > detections[cur].Confidence
	}
	return di < cur
}
