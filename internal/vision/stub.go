package vision

import "context"

// NullDetector implements Detector by reporting no detections. It is the
// default adapter wired in when no real object-detector model is
// configured: a deterministic placeholder satisfying the interface so
// the rest of the pipeline can be exercised without the real
// collaborator.
type NullDetector struct{}

// Detect implements Detector.
func (NullDetector) Detect(context.Context, Frame, float64) ([]Detection, error) {
	return nil, nil
}

// NullPoseEstimator implements PoseEstimator by reporting no pose found.
type NullPoseEstimator struct{}

// Extract implements PoseEstimator.
func (NullPoseEstimator) Extract(context.Context, Frame) (*Pose, error) {
	return nil, nil
}

// AdapterFactory constructs a fresh Detector/PoseEstimator pair for one
// stream. Implementations must not share PoseEstimator state across
// streams.
type AdapterFactory interface {
	NewDetector(streamID string) Detector
	NewPoseEstimator(streamID string) PoseEstimator
}

// NullAdapterFactory wires NullDetector/NullPoseEstimator for every
// stream; used when no model is configured.
type NullAdapterFactory struct{}

// NewDetector implements AdapterFactory.
func (NullAdapterFactory) NewDetector(string) Detector { return NullDetector{} }

// NewPoseEstimator implements AdapterFactory.
func (NullAdapterFactory) NewPoseEstimator(string) PoseEstimator { return NullPoseEstimator{} }
