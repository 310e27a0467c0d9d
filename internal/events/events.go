// Package events implements opportunity/alert derivation: a pure function
// over an Analytics Record that emits zero or more typed
// opportunities/alerts from speed/pose/processing-time/motion
// thresholds. Derivation is stateless; deduplication is the consumer's
// responsibility.
package events

import (
	"github.com/google/uuid"

	"github.com/fullscreen-triangle/morphine/internal/wire"
)

const (
	speedOpportunityWindow = 30 // seconds
	poseOpportunityWindow  = 20 // seconds
)

// Derive returns the events implied by record. Pure and stateless;
// callers own deduplication.
func Derive(record *wire.AnalyticsRecord) []wire.Event {
	var out []wire.Event
	ts := record.Timestamp

	if record.Vibrio != nil {
		maxSpeed := 0.0
		for _, tr := range record.Vibrio.Tracks {
			if tr.Speed > maxSpeed {
				maxSpeed = tr.Speed
			}
		}
		if maxSpeed > 20 {
			conf := maxSpeed / 50
			if conf > 1 {
				conf = 1
			}
			out = append(out, wire.Event{
				ID:         uuid.NewString(),
				StreamID:   record.StreamID,
				Timestamp:  ts,
				Kind:       wire.KindHighSpeed,
				Category:   wire.CategoryOpportunity,
				Confidence: conf,
				Message:    "track speed exceeds 20 km/h",
				ExpiresAt:  ts + speedOpportunityWindow,
			})
		}
		if maxSpeed > 50 {
			out = append(out, wire.Event{
				ID:        uuid.NewString(),
				StreamID:  record.StreamID,
				Timestamp: ts,
				Kind:      wire.KindSpeedAlert,
				Category:  wire.CategoryAlert,
				Severity:  "high",
				Message:   "track speed exceeds 50 km/h",
				ExpiresAt: ts + speedOpportunityWindow,
			})
		}
		if record.Vibrio.MotionEnergy > 0.8 {
			out = append(out, wire.Event{
				ID:        uuid.NewString(),
				StreamID:  record.StreamID,
				Timestamp: ts,
				Kind:      wire.KindUnusualMotion,
				Category:  wire.CategoryAlert,
				Severity:  "medium",
				Message:   "motion energy exceeds 0.8",
				ExpiresAt: ts + speedOpportunityWindow,
			})
		}
	}

	if record.Moriarty != nil {
		angles := record.Moriarty.Biomechanics.JointAngles
		extreme := false
		for _, a := range angles {
			if a < 30 || a > 150 {
				extreme = true
				break
			}
		}
		if extreme {
			out = append(out, wire.Event{
				ID:         uuid.NewString(),
				StreamID:   record.StreamID,
				Timestamp:  ts,
				Kind:       wire.KindExtremePose,
				Category:   wire.CategoryOpportunity,
				Confidence: 0.8,
				Message:    "joint angle outside [30,150] degrees",
				ExpiresAt:  ts + poseOpportunityWindow,
			})
		}

		leftKnee, leftOK := angles["left_knee"]
		rightKnee, rightOK := angles["right_knee"]
		if leftOK && rightOK {
			mean := (leftKnee + rightKnee) / 2
			if mean < 90 {
				out = append(out, wire.Event{
					ID:         uuid.NewString(),
					StreamID:   record.StreamID,
					Timestamp:  ts,
					Kind:       wire.KindDeepCrouch,
					Category:   wire.CategoryOpportunity,
					Confidence: (90 - mean) / 90,
					Message:    "mean knee angle below 90 degrees",
					ExpiresAt:  ts + poseOpportunityWindow,
				})
			}
		}
	}

	if record.ProcessingTime > 0.5 {
		out = append(out, wire.Event{
			ID:        uuid.NewString(),
			StreamID:  record.StreamID,
			Timestamp: ts,
			Kind:      wire.KindHighProcessingTime,
			Category:  wire.CategoryAlert,
			Severity:  "medium",
			Message:   "processing_time exceeds 0.5s",
			ExpiresAt: ts + speedOpportunityWindow,
		})
	}

	return out
}
