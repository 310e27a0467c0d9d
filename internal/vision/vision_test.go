package vision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBBoxCenterWidthHeightArea(t *testing.T) {
	b := BBox{0, 0, 10, 20}
	cx, cy := b.Center()
	require.Equal(t, 5.0, cx)
	require.Equal(t, 10.0, cy)
	require.Equal(t, 10.0, b.Width())
	require.Equal(t, 20.0, b.Height())
	require.Equal(t, 200.0, b.Area())
}

func TestBBoxAreaDegenerateIsZero(t *testing.T) {
	b := BBox{10, 10, 5, 5}
	require.Equal(t, 0.0, b.Area())
}

func TestBBoxIoUIdenticalBoxesIsOne(t *testing.T) {
	b := BBox{0, 0, 10, 10}
	require.InDelta(t, 1.0, b.IoU(b), 1e-9)
}

func TestBBoxIoUDisjointBoxesIsZero(t *testing.T) {
	a := BBox{0, 0, 10, 10}
	b := BBox{100, 100, 110, 110}
	require.Equal(t, 0.0, a.IoU(b))
}

func TestBBoxIoUPartialOverlap(t *testing.T) {
	a := BBox{0, 0, 10, 10}
	b := BBox{5, 5, 15, 15}
	// intersection 5x5=25, union 100+100-25=175
	require.InDelta(t, 25.0/175.0, a.IoU(b), 1e-9)
}

func TestPoseQualityScoreNilPoseIsZero(t *testing.T) {
	var p *Pose
	require.Equal(t, 0.0, p.QualityScore())
}

func TestPoseQualityScoreAveragesVisibility(t *testing.T) {
	p := &Pose{Landmarks: map[string]Landmark{
		"nose":       {Visibility: 1.0},
		"left_knee":  {Visibility: 0.5},
		"right_knee": {Visibility: 0.0},
	}}
	require.InDelta(t, 0.5, p.QualityScore(), 1e-9)
}

func TestNullDetectorReturnsNoDetections(t *testing.T) {
	var d NullDetector
	dets, err := d.Detect(context.Background(), Frame{}, 0.5)
	require.NoError(t, err)
	require.Nil(t, dets)
}

func TestNullPoseEstimatorReturnsNoPose(t *testing.T) {
	var p NullPoseEstimator
	pose, err := p.Extract(context.Background(), Frame{})
	require.NoError(t, err)
	require.Nil(t, pose)
}

func TestNullAdapterFactoryWiresNullImplementations(t *testing.T) {
	var f NullAdapterFactory
	require.IsType(t, NullDetector{}, f.NewDetector("s1"))
	require.IsType(t, NullPoseEstimator{}, f.NewPoseEstimator("s1"))
}
