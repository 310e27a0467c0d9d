// Package supervisor implements the metacognitive supervisor: three cooperative
// periodic loops that probe service health, collect per-stream metrics,
// and apply capacity/performance/robustness policy decisions against the
// Stream Registry and Analytics Store. All actions are advisory: the
// loops invoke the same UpdateSettings/Stop operations any client could.
package supervisor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fullscreen-triangle/morphine/internal/config"
	"github.com/fullscreen-triangle/morphine/internal/monitoring"
	"github.com/fullscreen-triangle/morphine/internal/registry"
	"github.com/fullscreen-triangle/morphine/internal/store"
	"github.com/fullscreen-triangle/morphine/internal/timeutil"
)

var logf = monitoring.Component("Supervisor")

// Health is the classification of one probed service.
type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// degradedLatency is the response-time threshold above which an
// otherwise-200 probe is classified Degraded rather than Healthy.
const degradedLatency = 1 * time.Second

// ServiceEndpoint names one service the health probe loop checks.
type ServiceEndpoint struct {
	Name string
	URL  string
}

// ActivityProvider supplies the per-stream viewer count and betting
// activity the metrics/decision loops need from the core service. The
// marketplace/wagering subsystem behind it is an external collaborator
// named only by this interface.
type ActivityProvider interface {
	ViewerCount(streamID string) int
	BettingActivity(streamID string) int
}

// StreamMetrics is one decision cycle's per-stream snapshot.
type StreamMetrics struct {
	StreamID        string
	Timestamp       time.Time
	AnalyticsFPS    float64
	DetectionRate   float64
	PoseRate        float64
	ErrorRate       float64
	ViewerCount     int
	BettingActivity int
}

// Supervisor runs the health-probe, metrics-collection, and decision
// loops over a Registry/Store pair. All three loops are advisory: every
// action they take goes through the same Registry operations a client
// could call directly.
type Supervisor struct {
	policy     config.SupervisorPolicy
	clock      timeutil.Clock
	httpClient *http.Client
	endpoints  []ServiceEndpoint
	registry   *registry.Registry
	store      *store.Store
	activity   ActivityProvider

	// onEmergencyShutdown is invoked when more than half the probed
	// services are Unhealthy for two consecutive health-probe cycles.
	// Defaults to a log line when unset.
	onEmergencyShutdown func(reason string)

	mu                   sync.Mutex
	consecutiveUnhealthy int
	metricsLog           []StreamMetrics
}

const maxMetricsLogRows = 1000

// New returns a Supervisor. registry and store are the cross-stream
// resources it observes and steers; activity is the core-service
// collaborator supplying viewer/betting counts; endpoints are the named
// services the health probe checks.
func New(policy config.SupervisorPolicy, clock timeutil.Clock, reg *registry.Registry, st *store.Store, activity ActivityProvider, endpoints []ServiceEndpoint) *Supervisor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Supervisor{
		policy:     policy,
		clock:      clock,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		endpoints:  endpoints,
		registry:   reg,
		store:      st,
		activity:   activity,
	}
}

// OnEmergencyShutdown registers the callback fired on sustained
// majority-unhealthy health probes.
func (s *Supervisor) OnEmergencyShutdown(f func(reason string)) {
	s.onEmergencyShutdown = f
}

// Run starts the three cooperative loops and blocks until ctx is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.loop(ctx, parseIntervalOr(s.policy.HealthProbeInterval, 30*time.Second), s.probeHealth)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, parseIntervalOr(s.policy.MetricsInterval, 10*time.Second), s.collectMetrics)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, parseIntervalOr(s.policy.DecisionInterval, 5*time.Second), s.decide)
	}()

	wg.Wait()
}

func parseIntervalOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func (s *Supervisor) loop(ctx context.Context, period time.Duration, tick func(context.Context)) {
	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			tick(ctx)
		}
	}
}

// probeHealth implements the health-probe loop:
// GET each named endpoint, classify Healthy/Degraded/Unhealthy by status
// and latency, and escalate to emergency shutdown if more than half are
// Unhealthy across two consecutive cycles.
func (s *Supervisor) probeHealth(ctx context.Context) {
	if len(s.endpoints) == 0 {
		return
	}

	unhealthy := 0
	for _, ep := range s.endpoints {
		if s.probeOne(ctx, ep) == Unhealthy {
			unhealthy++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if unhealthy*2 > len(s.endpoints) {
		s.consecutiveUnhealthy++
	} else {
		s.consecutiveUnhealthy = 0
	}

	if s.consecutiveUnhealthy >= s.policy.UnhealthyCycleBeforeShutdown {
		reason := "majority of probed services unhealthy for 2 consecutive cycles"
		if s.onEmergencyShutdown != nil {
			s.onEmergencyShutdown(reason)
		} else {
			logf("emergency shutdown: %s", reason)
		}
		s.consecutiveUnhealthy = 0
	}
}

func (s *Supervisor) probeOne(ctx context.Context, ep ServiceEndpoint) Health {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.URL, nil)
	if err != nil {
		logf("health probe %s: bad request: %v", ep.Name, err)
		return Unhealthy
	}

	start := s.clock.Now()
	resp, err := s.httpClient.Do(req)
	elapsed := s.clock.Since(start)
	if err != nil {
		logf("health probe %s unreachable: %v", ep.Name, err)
		return Unhealthy
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Unhealthy
	case resp.StatusCode >= 400:
		return Degraded
	case elapsed > degradedLatency:
		return Degraded
	default:
		return Healthy
	}
}

// collectMetrics implements the metrics-collection loop:
// snapshot every active stream's analytics metrics plus
// betting-activity count into StreamMetrics, appended to a bounded
// system-metrics log.
func (s *Supervisor) collectMetrics(ctx context.Context) {
	_ = ctx
	now := s.clock.Now()
	for _, info := range s.registry.Active() {
		sum, err := s.store.Summary(info.StreamID)
		if err != nil {
			continue
		}
		m := StreamMetrics{
			StreamID:      info.StreamID,
			Timestamp:     now,
			AnalyticsFPS:  sum.AvgFPS,
			DetectionRate: sum.DetectionRate,
			PoseRate:      sum.PoseRate,
			ErrorRate:     sum.ErrorRate,
		}
		if s.activity != nil {
			m.ViewerCount = s.activity.ViewerCount(info.StreamID)
			m.BettingActivity = s.activity.BettingActivity(info.StreamID)
		}
		s.appendMetricsRow(m)
	}
}

func (s *Supervisor) appendMetricsRow(m StreamMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsLog = append(s.metricsLog, m)
	if len(s.metricsLog) > maxMetricsLogRows {
		s.metricsLog = s.metricsLog[len(s.metricsLog)-maxMetricsLogRows:]
	}
}

// MetricsLog returns a copy of the bounded system-metrics time series.
func (s *Supervisor) MetricsLog() []StreamMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamMetrics, len(s.metricsLog))
	copy(out, s.metricsLog)
	return out
}

// decide implements the decision loop: capacity,
// performance, and robustness policies in order, at most one action per
// stream per cycle, plus at most one global capacity deactivation.
func (s *Supervisor) decide(ctx context.Context) {
	_ = ctx
	active := s.registry.Active()

	handled := s.applyCapacityPolicy(active)

	for _, info := range active {
		if handled[info.StreamID] {
			continue
		}
		sum, err := s.store.Summary(info.StreamID)
		if err != nil {
			continue
		}
		if s.applyPerformancePolicy(info.StreamID, sum.AvgFPS, info.Settings) {
			continue
		}
		s.applyRobustnessPolicy(info.StreamID, sum.ErrorRate, info.Settings)
	}
}

// applyCapacityPolicy deactivates the lowest-viewer-count low-activity
// stream when active streams are at or above 0.8x
// max_concurrent_streams. Returns the set of stream_ids it acted on.
func (s *Supervisor) applyCapacityPolicy(active []registry.StreamInfo) map[string]bool {
	handled := make(map[string]bool)
	if s.activity == nil || s.policy.MaxConcurrentStreams <= 0 {
		return handled
	}
	if float64(len(active)) < 0.8*float64(s.policy.MaxConcurrentStreams) {
		return handled
	}

	var candidate string
	minViewers := -1
	for _, info := range active {
		viewers := s.activity.ViewerCount(info.StreamID)
		betting := s.activity.BettingActivity(info.StreamID)
		if viewers >= s.policy.MinViewerCount || betting >= s.policy.MinBettingActivity {
			continue
		}
		if minViewers < 0 || viewers < minViewers {
			minViewers = viewers
			candidate = info.StreamID
		}
	}

	if candidate == "" {
		return handled
	}
	logf("capacity policy: deactivating stream=%s (viewer_count=%d)", candidate, minViewers)
	if err := s.registry.Stop(candidate); err != nil {
		logf("capacity policy: stop %s failed: %v", candidate, err)
		return handled
	}
	handled[candidate] = true
	return handled
}

// applyPerformancePolicy lowers quality/frame-rate when a stream's
// analytics_fps falls below the configured minimum. Returns true if it
// took an action.
func (s *Supervisor) applyPerformancePolicy(streamID string, analyticsFPS float64, current config.Settings) bool {
	if s.policy.MinAnalyticsFPS <= 0 || analyticsFPS == 0 || analyticsFPS >= s.policy.MinAnalyticsFPS {
		return false
	}

	loweredQuality := config.Quality720p
	loweredFPS := current.TargetFPS * 0.5
	if loweredFPS < 1 {
		loweredFPS = 1
	}
	patch := config.SettingsPatch{Quality: &loweredQuality, TargetFPS: &loweredFPS}
	logf("performance policy: stream=%s fps=%.2f below min=%.2f, lowering quality/fps",
		streamID, analyticsFPS, s.policy.MinAnalyticsFPS)
	if err := s.registry.UpdateSettings(streamID, patch); err != nil {
		logf("performance policy: patch %s failed: %v", streamID, err)
		return false
	}
	return true
}

// applyRobustnessPolicy relaxes detection/tracking thresholds when a
// stream's error_rate exceeds the configured maximum.
func (s *Supervisor) applyRobustnessPolicy(streamID string, errorRate float64, current config.Settings) bool {
	if s.policy.MaxErrorRate <= 0 || errorRate <= s.policy.MaxErrorRate {
		return false
	}

	relaxedConf := current.ConfThreshold * 0.8
	relaxedIoU := current.IoUThreshold * 0.8
	patch := config.SettingsPatch{ConfThreshold: &relaxedConf, IoUThreshold: &relaxedIoU}
	logf("robustness policy: stream=%s error_rate=%.3f exceeds max=%.3f, relaxing thresholds",
		streamID, errorRate, s.policy.MaxErrorRate)
	if err := s.registry.UpdateSettings(streamID, patch); err != nil {
		logf("robustness policy: patch %s failed: %v", streamID, err)
		return false
	}
	return true
}
