// Package config provides the per-stream tuning layer: quality tier,
// target frame rate, and the detection/tracking/supervisor thresholds
// that can be patched at runtime without restarting a stream.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// QualityTier names the resize-on-read tiers Frame Source enforces.
type QualityTier string

const (
	Quality720p  QualityTier = "720p"
	Quality1080p QualityTier = "1080p"
	Quality4K    QualityTier = "4k"
)

// TierDimensions returns the (width, height) ceiling for a quality tier.
// Frames larger than this are downscaled; frames already smaller pass through.
func TierDimensions(tier QualityTier) (width, height int) {
	switch tier {
	case Quality720p:
		return 1280, 720
	case Quality4K:
		return 3840, 2160
	case Quality1080p:
		return 1920, 1080
	default:
		return 1920, 1080
	}
}

// Settings is the resolved, non-pointer view of a stream's tunable
// parameters. It is what the Tracker, Kinematics, Speed Estimator and
// Frame Source actually read; SettingsPatch is what callers send
// over the wire to mutate it.
type Settings struct {
	Quality   QualityTier `json:"quality"`
	TargetFPS float64     `json:"target_fps"`

	// Detection / tracking
	ConfThreshold     float64 `json:"conf_threshold"`
	IoUThreshold      float64 `json:"iou_threshold"`
	MinHits           int     `json:"min_hits"`
	MaxAge            int     `json:"max_age"`
	ProcessNoisePos   float64 `json:"process_noise_pos"`
	ProcessNoiseScale float64 `json:"process_noise_scale"`
	MeasurementNoise  float64 `json:"measurement_noise"`

	// Speed estimator
	PixelToMeter    float64 `json:"pixel_to_meter"`
	SmoothingWindow int     `json:"smoothing_window"`

	// Motion
	MotionDiffThreshold int `json:"motion_diff_threshold"`

	// Kinematics
	VisibilityThreshold  float64 `json:"visibility_threshold"`
	ContactVelThreshold  float64 `json:"contact_velocity_threshold"`
	BodyMassKg           float64 `json:"body_mass_kg"`
	KinematicsHistoryLen int     `json:"kinematics_history_len"`

	// Frame source reconnect
	ReconnectAttempts int `json:"reconnect_attempts"`

	// Per-frame inference deadline as a fraction of the frame period
	// (default 1.0 == one full frame period).
	InferenceDeadlineFrac float64 `json:"inference_deadline_frac"`
}

// DefaultSettings returns the baseline configuration new streams start
// with, tuned for a typical broadcast sports feed.
func DefaultSettings() Settings {
	return Settings{
		Quality:   Quality1080p,
		TargetFPS: 30,

		ConfThreshold:     0.5,
		IoUThreshold:      0.3,
		MinHits:           3,
		MaxAge:            30,
		ProcessNoisePos:   1.0,
		ProcessNoiseScale: 0.1,
		MeasurementNoise:  10.0,

		PixelToMeter:    0.01,
		SmoothingWindow: 5,

		MotionDiffThreshold: 25,

		VisibilityThreshold:  0.5,
		ContactVelThreshold:  2.0,
		BodyMassKg:           70.0,
		KinematicsHistoryLen: 90,

		ReconnectAttempts: 5,

		InferenceDeadlineFrac: 1.0,
	}
}

// SettingsPatch mirrors Settings but with optional pointer fields, so a
// partial JSON document (PATCH /analytics/{stream_id}/settings) only
// overwrites the fields it names. This is the same omitempty-pointer
// shape used for tuning patches elsewhere in this codebase.
type SettingsPatch struct {
	Quality   *QualityTier `json:"quality,omitempty"`
	TargetFPS *float64     `json:"target_fps,omitempty"`

	ConfThreshold     *float64 `json:"conf_threshold,omitempty"`
	IoUThreshold      *float64 `json:"iou_threshold,omitempty"`
	MinHits           *int     `json:"min_hits,omitempty"`
	MaxAge            *int     `json:"max_age,omitempty"`
	ProcessNoisePos   *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseScale *float64 `json:"process_noise_scale,omitempty"`
	MeasurementNoise  *float64 `json:"measurement_noise,omitempty"`

	PixelToMeter    *float64 `json:"pixel_to_meter,omitempty"`
	SmoothingWindow *int     `json:"smoothing_window,omitempty"`

	MotionDiffThreshold *int `json:"motion_diff_threshold,omitempty"`

	VisibilityThreshold  *float64 `json:"visibility_threshold,omitempty"`
	ContactVelThreshold  *float64 `json:"contact_velocity_threshold,omitempty"`
	BodyMassKg           *float64 `json:"body_mass_kg,omitempty"`
	KinematicsHistoryLen *int     `json:"kinematics_history_len,omitempty"`

	ReconnectAttempts *int `json:"reconnect_attempts,omitempty"`

	InferenceDeadlineFrac *float64 `json:"inference_deadline_frac,omitempty"`
}

// Apply merges a patch into a copy of Settings and returns the result.
// Fields left nil in the patch retain the base value. Callers (Stream
// Registry, Supervisor) swap the resolved Settings in atomically at the
// next frame boundary; Apply itself is a pure function.
func (s Settings) Apply(p SettingsPatch) Settings {
	out := s
	if p.Quality != nil {
		out.Quality = *p.Quality
	}
	if p.TargetFPS != nil {
		out.TargetFPS = *p.TargetFPS
	}
	if p.ConfThreshold != nil {
		out.ConfThreshold = *p.ConfThreshold
	}
	if p.IoUThreshold != nil {
		out.IoUThreshold = *p.IoUThreshold
	}
	if p.MinHits != nil {
		out.MinHits = *p.MinHits
	}
	if p.MaxAge != nil {
		out.MaxAge = *p.MaxAge
	}
	if p.ProcessNoisePos != nil {
		out.ProcessNoisePos = *p.ProcessNoisePos
	}
	if p.ProcessNoiseScale != nil {
		out.ProcessNoiseScale = *p.ProcessNoiseScale
	}
	if p.MeasurementNoise != nil {
		out.MeasurementNoise = *p.MeasurementNoise
	}
	if p.PixelToMeter != nil {
		out.PixelToMeter = *p.PixelToMeter
	}
	if p.SmoothingWindow != nil {
		out.SmoothingWindow = *p.SmoothingWindow
	}
	if p.MotionDiffThreshold != nil {
		out.MotionDiffThreshold = *p.MotionDiffThreshold
	}
	if p.VisibilityThreshold != nil {
		out.VisibilityThreshold = *p.VisibilityThreshold
	}
	if p.ContactVelThreshold != nil {
		out.ContactVelThreshold = *p.ContactVelThreshold
	}
	if p.BodyMassKg != nil {
		out.BodyMassKg = *p.BodyMassKg
	}
	if p.KinematicsHistoryLen != nil {
		out.KinematicsHistoryLen = *p.KinematicsHistoryLen
	}
	if p.ReconnectAttempts != nil {
		out.ReconnectAttempts = *p.ReconnectAttempts
	}
	if p.InferenceDeadlineFrac != nil {
		out.InferenceDeadlineFrac = *p.InferenceDeadlineFrac
	}
	return out
}

// Validate range-checks a resolved Settings, following the same
// per-field-with-message style as the rest of this package's Validate
// methods.
func (s Settings) Validate() error {
	if s.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got %f", s.TargetFPS)
	}
	if s.ConfThreshold < 0 || s.ConfThreshold > 1 {
		return fmt.Errorf("conf_threshold must be in [0,1], got %f", s.ConfThreshold)
	}
	if s.IoUThreshold < 0 || s.IoUThreshold > 1 {
		return fmt.Errorf("iou_threshold must be in [0,1], got %f", s.IoUThreshold)
	}
	if s.MinHits < 1 {
		return fmt.Errorf("min_hits must be >= 1, got %d", s.MinHits)
	}
	if s.MaxAge < 1 {
		return fmt.Errorf("max_age must be >= 1, got %d", s.MaxAge)
	}
	if s.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be >= 1, got %d", s.SmoothingWindow)
	}
	if s.PixelToMeter <= 0 {
		return fmt.Errorf("pixel_to_meter must be positive, got %f", s.PixelToMeter)
	}
	if s.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts must be non-negative, got %d", s.ReconnectAttempts)
	}
	return nil
}

// LoadSettingsFile loads a SettingsPatch from a JSON file, validating the
// path has a .json extension and is under 1MB, the same safety checks
// the tuning-config loader elsewhere in this codebase applies.
func LoadSettingsFile(path string) (*SettingsPatch, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	patch := &SettingsPatch{}
	if err := json.Unmarshal(data, patch); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return patch, nil
}

// SupervisorPolicy holds the explicit thresholds the Supervisor's
// decision loop evaluates.
type SupervisorPolicy struct {
	MaxConcurrentStreams int     `json:"max_concurrent_streams"`
	MinViewerCount       int     `json:"min_viewer_count"`
	MinBettingActivity   int     `json:"min_betting_activity"`
	MinAnalyticsFPS      float64 `json:"min_analytics_fps"`
	MaxErrorRate         float64 `json:"max_error_rate"`

	HealthProbeInterval          string `json:"health_probe_interval"`
	MetricsInterval              string `json:"metrics_interval"`
	DecisionInterval             string `json:"decision_interval"`
	HealthProbeTimeout           string `json:"health_probe_timeout"`
	UnhealthyCycleBeforeShutdown int    `json:"unhealthy_cycles_before_shutdown"`
}

// DefaultSupervisorPolicy returns the baseline policy thresholds.
func DefaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		MaxConcurrentStreams:         10,
		MinViewerCount:               5,
		MinBettingActivity:           2,
		MinAnalyticsFPS:              15,
		MaxErrorRate:                 0.1,
		HealthProbeInterval:          "30s",
		MetricsInterval:              "10s",
		DecisionInterval:             "5s",
		HealthProbeTimeout:           "5s",
		UnhealthyCycleBeforeShutdown: 2,
	}
}
