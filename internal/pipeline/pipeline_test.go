package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/vision"
)

var errBoom = errors.New("boom")

type fakeDetector struct {
	dets []vision.Detection
	err  error
}

func (f fakeDetector) Detect(ctx context.Context, frame vision.Frame, confThreshold float64) ([]vision.Detection, error) {
	return f.dets, f.err
}

type fakePoseEstimator struct {
	pose *vision.Pose
	err  error
}

func (f fakePoseEstimator) Extract(ctx context.Context, frame vision.Frame) (*vision.Pose, error) {
	return f.pose, f.err
}

func personAt(cx, cy, w, h, conf float64) vision.Detection {
	return vision.Detection{
		BBox:       vision.BBox{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
		Confidence: conf,
		ClassID:    vision.PersonClassID,
	}
}

func TestProcessFrameJoinsBothBranches(t *testing.T) {
	det := fakeDetector{dets: []vision.Detection{personAt(100, 100, 20, 40, 0.9)}}
	pose := fakePoseEstimator{pose: &vision.Pose{
		Landmarks: map[string]vision.Landmark{
			"left_shoulder": {X: 0, Y: 0, Visibility: 1},
			"left_elbow":    {X: 10, Y: 0, Visibility: 1},
			"left_wrist":    {X: 10, Y: 10, Visibility: 1},
		},
	}}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := New("s1", det, pose, clock, 10)

	s := config.DefaultSettings()
	s.MinHits = 1

	frame := vision.Frame{StreamID: "s1", FrameIdx: 0, Width: 4, Height: 4, Pixels: make([]byte, 16)}
	record := p.ProcessFrame(context.Background(), frame, s)

	require.NotNil(t, record.Vibrio)
	require.NotNil(t, record.Moriarty)
	require.Empty(t, record.Error)
	require.Len(t, record.Vibrio.Tracks, 1)
	require.True(t, record.Moriarty.PoseDetected)
	require.InDelta(t, 90.0, record.Moriarty.Biomechanics.JointAngles["left_elbow"], 1e-6)
}

func TestProcessFrameDegradesOneBranchWithoutFailingTheFrame(t *testing.T) {
	det := fakeDetector{dets: []vision.Detection{personAt(50, 50, 10, 10, 0.9)}}
	failingPose := fakePoseEstimator{err: errBoom}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := New("s1", det, failingPose, clock, 10)

	s := config.DefaultSettings()
	s.MinHits = 1

	frame := vision.Frame{StreamID: "s1", FrameIdx: 0, Width: 4, Height: 4, Pixels: make([]byte, 16)}
	record := p.ProcessFrame(context.Background(), frame, s)

	require.NotNil(t, record.Vibrio)
	require.Nil(t, record.Moriarty)
	require.Contains(t, record.Error, "moriarty branch failed")
}

type blockingDetector struct{}

func (blockingDetector) Detect(ctx context.Context, frame vision.Frame, confThreshold float64) ([]vision.Detection, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// An inference call that overruns the per-frame deadline degrades its
// branch instead of stalling the stream.
func TestProcessFrameDeadlineDegradesBranch(t *testing.T) {
	pose := fakePoseEstimator{pose: nil}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := New("s1", blockingDetector{}, pose, clock, 10)

	s := config.DefaultSettings()
	s.TargetFPS = 100 // 10ms frame period keeps the test fast

	frame := vision.Frame{StreamID: "s1", Width: 4, Height: 4, Pixels: make([]byte, 16)}
	record := p.ProcessFrame(context.Background(), frame, s)

	require.NotNil(t, record)
	require.Nil(t, record.Vibrio)
	require.NotNil(t, record.Moriarty)
	require.Contains(t, record.Error, "vibrio branch failed")
}

// Cancelling the stream mid-frame drops the frame: no partial record.
func TestProcessFrameDroppedOnCancelledStream(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := New("s1", fakeDetector{}, fakePoseEstimator{}, clock, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frame := vision.Frame{StreamID: "s1", Width: 4, Height: 4, Pixels: make([]byte, 16)}
	require.Nil(t, p.ProcessFrame(ctx, frame, config.DefaultSettings()))
}

func TestProcessFrameNoPoseFoundIsNotAnError(t *testing.T) {
	det := fakeDetector{}
	pose := fakePoseEstimator{pose: nil}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := New("s1", det, pose, clock, 10)

	frame := vision.Frame{StreamID: "s1", Width: 4, Height: 4, Pixels: make([]byte, 16)}
	record := p.ProcessFrame(context.Background(), frame, config.DefaultSettings())

	require.NotNil(t, record.Moriarty)
	require.False(t, record.Moriarty.PoseDetected)
	require.Empty(t, record.Error)
}
