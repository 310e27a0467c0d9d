package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestAnalyticsRecordGoldenRoundTrip reproduces the speed and pose-angle
// end-to-end scenarios and checks the full decoded record against a
// golden literal with cmp.Diff, rather than field-by-field assertions.
func TestAnalyticsRecordGoldenRoundTrip(t *testing.T) {
	golden := &AnalyticsRecord{
		StreamID:  "court-1",
		FrameIdx:  1,
		Timestamp: 1.0 / 30,
		Vibrio: &VibrioBranch{
			Detections: 1,
			Tracks: []TrackRecord{
				{TrackID: 1, Position: [2]float64{300, 0}, Speed: 324.0, Age: 1},
			},
			FrameStats: FrameStats{Width: 1920, Height: 1080},
		},
		Moriarty: &MoriartyBranch{
			PoseDetected: true,
			Landmarks: map[string]LandmarkRecord{
				"shoulder": {X: 0, Y: 0, Visibility: 1.0},
				"elbow":    {X: 100, Y: 0, Visibility: 1.0},
				"wrist":    {X: 100, Y: 100, Visibility: 1.0},
			},
			Biomechanics: Biomechanics{
				JointAngles: map[string]float64{"elbow": 90.0},
			},
		},
		ProcessingTime: 0.2,
	}

	data, err := Encode(golden)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if diff := cmp.Diff(golden, decoded); diff != "" {
		t.Errorf("decoded record diverges from golden (-want +got):\n%s", diff)
	}
}
