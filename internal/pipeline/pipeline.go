// Package pipeline implements the per-stream frame pipeline: for each frame,
// runs the tracker branch (detect, track, speed, motion) and the pose
// branch (pose estimation, kinematics) concurrently, joins them, and
// emits a single Analytics Record. The two branches are asymmetric in
// shape (detect+track+speed+motion vs pose+kinematics) and independent;
// each gets its own goroutine per frame, joined with a WaitGroup.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/kinematics"
	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/motion"
	"github.com/fullscreen-triangle/morphine/internal/speed"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
	"github.com/fullscreen-triangle/morphine/internal/tracking"
	"github.com/fullscreen-triangle/morphine/internal/vision"
	"github.com/fullscreen-triangle/morphine/internal/wire"
)

var logf = monitoring.Component("Pipeline")

// Pipeline holds every stateful component for one stream's frame
// processing: the tracker, per-track speed estimators, the optical-flow
// and motion-energy trackers, and the single-person pose history. One
// Pipeline is owned by exactly one stream.
type Pipeline struct {
	streamID string
	clock    timeutil.Clock

	// mu serializes ProcessFrame. The tracker, speed estimators, motion
	// trackers and pose history are single-writer per stream, but the
	// stream's background source loop and the synchronous process_frame
	// endpoint can both hold the same Pipeline; the lock is held for
	// the whole frame.
	mu sync.Mutex

	detector vision.Detector
	pose     vision.PoseEstimator

	tracker       *tracking.Tracker
	speeds        map[int64]*speed.Estimator
	flowTracker   *motion.FlowTracker
	energyTracker *motion.EnergyTracker

	poseHistory *kinematics.History
	stride      *kinematics.StrideState
}

// New returns a Pipeline for one stream, wired to the given detector and
// pose estimator adapters.
func New(streamID string, detector vision.Detector, pose vision.PoseEstimator, clock timeutil.Clock, historyLen int) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{
		streamID:      streamID,
		clock:         clock,
		detector:      detector,
		pose:          pose,
		tracker:       tracking.NewTracker(),
		speeds:        make(map[int64]*speed.Estimator),
		flowTracker:   motion.NewFlowTracker(),
		energyTracker: motion.NewEnergyTracker(),
		poseHistory:   kinematics.NewHistory(historyLen),
		stride:        kinematics.NewStrideState(),
	}
}

// trackerResult is the tracker branch's output, joined with poseResult
// to build one Analytics Record.
type trackerResult struct {
	branch *wire.VibrioBranch
	err    error
}

// poseResult is the pose branch's output.
type poseResult struct {
	branch *wire.MoriartyBranch
	err    error
}

// ProcessFrame runs both branches concurrently, joins them, and returns
// the frame's Analytics Record. A branch error never
// fails the whole frame: the other branch's results are still returned,
// and the record's Error field names what degraded. Inference calls run
// under a per-frame deadline derived from the settings; a branch that
// misses it comes back with context.DeadlineExceeded and degrades like
// any other branch failure. If ctx itself is cancelled (stream stop),
// the in-flight frame is dropped and ProcessFrame returns nil: no
// partial record is ever written. ProcessFrame is safe for concurrent
// use: callers racing on the same Pipeline serialize one frame at a
// time.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame vision.Frame, s config.Settings) *wire.AnalyticsRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.clock.Now()

	branchCtx := ctx
	if deadline := frameDeadline(s); deadline > 0 {
		var cancel context.CancelFunc
		branchCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	var wg sync.WaitGroup
	var tr trackerResult
	var pr poseResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		tr = p.runTrackerBranch(branchCtx, frame, s)
	}()
	go func() {
		defer wg.Done()
		pr = p.runPoseBranch(branchCtx, frame, s)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}

	elapsed := p.clock.Since(start)

	record := &wire.AnalyticsRecord{
		StreamID:       frame.StreamID,
		FrameIdx:       frame.FrameIdx,
		Timestamp:      float64(frame.TimestampNS) / 1e9,
		Vibrio:         tr.branch,
		Moriarty:       pr.branch,
		ProcessingTime: elapsed.Seconds(),
	}

	switch {
	case tr.err != nil && pr.err != nil:
		record.Error = "both branches failed: " + tr.err.Error() + "; " + pr.err.Error()
	case tr.err != nil:
		record.Error = "vibrio branch failed: " + tr.err.Error()
	case pr.err != nil:
		record.Error = "moriarty branch failed: " + pr.err.Error()
	}

	if deadline := frameDeadline(s); deadline > 0 && elapsed > deadline {
		logf("stream=%s frame_idx=%d exceeded inference deadline (%s > %s)",
			frame.StreamID, frame.FrameIdx, elapsed, deadline)
	}

	return record
}

// frameDeadline returns the per-frame inference deadline implied by
// target_fps and inference_deadline_frac.
func frameDeadline(s config.Settings) time.Duration {
	if s.TargetFPS <= 0 {
		return 0
	}
	period := time.Duration(float64(time.Second) / s.TargetFPS)
	return time.Duration(float64(period) * s.InferenceDeadlineFrac)
}

// runTrackerBranch runs detect -> track -> speed, plus the motion
// features, for one frame.
func (p *Pipeline) runTrackerBranch(ctx context.Context, frame vision.Frame, s config.Settings) trackerResult {
	detections, err := p.detector.Detect(ctx, frame, s.ConfThreshold)
	if err != nil {
		return trackerResult{err: err}
	}

	tracks := p.tracker.Update(detections, s)

	records := make([]wire.TrackRecord, 0, len(tracks))
	for _, t := range tracks {
		est, ok := p.speeds[t.ID]
		if !ok {
			est = speed.NewEstimator(s.SmoothingWindow)
			p.speeds[t.ID] = est
		}
		kmph := est.Update(t.Positions(), s.TargetFPS, s.PixelToMeter)
		t.Speed = kmph

		cx, cy := t.Position()
		records = append(records, wire.TrackRecord{
			TrackID:  t.ID,
			Position: [2]float64{cx, cy},
			Speed:    kmph,
			Age:      t.Age,
			BBox:     [4]float64(t.BBox()),
		})
	}
	p.reapSpeedEstimators(tracks)

	flow := p.flowTracker.Update(frame.Pixels, frame.Width, frame.Height)
	energy := p.energyTracker.Update(frame.Pixels, frame.Width, frame.Height)

	return trackerResult{branch: &wire.VibrioBranch{
		Detections:    len(detections),
		Tracks:        records,
		MotionEnergy:  energy.MotionEnergy,
		ActiveRegions: energy.ActiveRegions,
		OpticalFlow: wire.OpticalFlow{
			MeanMagnitude:   flow.MeanMagnitude,
			MeanDirection:   flow.MeanDirection,
			MotionIntensity: flow.MotionIntensity,
		},
		FrameStats: wire.FrameStats{Width: frame.Width, Height: frame.Height},
	}}
}

// reapSpeedEstimators drops the smoothing window for any track no longer
// visible, so a reused track ID never inherits a stale window.
func (p *Pipeline) reapSpeedEstimators(visible []*tracking.Track) {
	keep := make(map[int64]bool, len(visible))
	for _, t := range visible {
		keep[t.ID] = true
	}
	for id := range p.speeds {
		if !keep[id] {
			delete(p.speeds, id)
		}
	}
}

// runPoseBranch runs pose estimation -> kinematics for one frame.
func (p *Pipeline) runPoseBranch(ctx context.Context, frame vision.Frame, s config.Settings) poseResult {
	pose, err := p.pose.Extract(ctx, frame)
	if err != nil {
		return poseResult{err: err}
	}
	if pose == nil {
		return poseResult{branch: &wire.MoriartyBranch{PoseDetected: false}}
	}

	p.poseHistory.Append(pose.TimestampNS, pose.Landmarks)

	dt := 0.0
	if s.TargetFPS > 0 {
		dt = 1.0 / s.TargetFPS
	}
	p.stride.Observe(p.poseHistory, dt, s.ContactVelThreshold)

	landmarks := make(map[string]wire.LandmarkRecord, len(pose.Landmarks))
	for name, lm := range pose.Landmarks {
		landmarks[name] = wire.LandmarkRecord{X: lm.X, Y: lm.Y, Visibility: lm.Visibility}
	}

	bio := wire.Biomechanics{
		JointAngles: kinematics.JointAngles(pose.Landmarks),
		Velocities:  p.poseHistory.Velocities(dt),
	}
	if x, y, ok := kinematics.CenterOfMass(pose.Landmarks); ok {
		bio.CenterOfMass = &[2]float64{x, y}
	}
	if freq, length, asym, ok := p.stride.Stride(); ok {
		bio.Stride = &wire.StrideMetrics{FrequencyHz: freq, LengthM: length, Asymmetry: int(asym)}
	}
	if contact := p.stride.ContactDetected(); contact {
		if vN, hN, ok := kinematics.GRF(p.poseHistory, dt, s.BodyMassKg, contact); ok {
			bio.GRF = &wire.GRFMetrics{VerticalN: vN, HorizontalN: hN}
		}
	}

	return poseResult{branch: &wire.MoriartyBranch{
		PoseDetected:     true,
		Landmarks:        landmarks,
		Biomechanics:     bio,
		PoseQualityScore: pose.QualityScore(),
	}}
}
