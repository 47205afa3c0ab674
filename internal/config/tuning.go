package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/overlay.defaults.json"

// TuningConfig is the root configuration document. Every field is optional;
// the Get* accessors supply defaults for anything left out.
type TuningConfig struct {
	// Localization
	UpdateRateHz            *float64 `json:"update_rate_hz,omitempty"`
	DistanceThresholdM      *float64 `json:"distance_threshold_m,omitempty"`
	AngularThresholdDeg     *float64 `json:"angular_threshold_deg,omitempty"`
	RelocalizationThreshold *int     `json:"relocalization_threshold,omitempty"`
	MarkerHeightM           *float64 `json:"marker_height_m,omitempty"`

	// Trajectory requests
	TrajectoryDurationMs   *int64  `json:"trajectory_duration_ms,omitempty"`
	TrajectoryTrim         *bool   `json:"trajectory_trim,omitempty"`
	TrajectoryPollInterval *string `json:"trajectory_poll_interval,omitempty"` // duration string like "1s"
	RobotPollInterval      *string `json:"robot_poll_interval,omitempty"`      // duration string like "1s"
	RequestTimeout         *string `json:"request_timeout,omitempty"`

	// Overlay rendering hints
	TrajectoryZOffsetM *float64 `json:"trajectory_z_offset_m,omitempty"`
	HeightLevelStepM   *float64 `json:"height_level_step_m,omitempty"`

	// Endpoints
	FleetAPIURL         *string `json:"fleet_api_url,omitempty"`
	TrajectoryServerURL *string `json:"trajectory_server_url,omitempty"`
	DashboardURL        *string `json:"dashboard_url,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		UpdateRateHz:            ptrFloat64(c.GetUpdateRateHz()),
		DistanceThresholdM:      ptrFloat64(c.GetDistanceThresholdM()),
		AngularThresholdDeg:     ptrFloat64(c.GetAngularThresholdDeg()),
		RelocalizationThreshold: ptrInt(c.GetRelocalizationThreshold()),
		MarkerHeightM:           ptrFloat64(c.GetMarkerHeightM()),
		TrajectoryDurationMs:    ptrInt64(c.GetTrajectoryDurationMs()),
		TrajectoryTrim:          ptrBool(c.GetTrajectoryTrim()),
		TrajectoryPollInterval:  ptrString(c.GetTrajectoryPollInterval().String()),
		RobotPollInterval:       ptrString(c.GetRobotPollInterval().String()),
		RequestTimeout:          ptrString(c.GetRequestTimeout().String()),
		TrajectoryZOffsetM:      ptrFloat64(c.GetTrajectoryZOffsetM()),
		HeightLevelStepM:        ptrFloat64(c.GetHeightLevelStepM()),
		FleetAPIURL:             ptrString(c.GetFleetAPIURL()),
		TrajectoryServerURL:     ptrString(c.GetTrajectoryServerURL()),
		DashboardURL:            ptrString(c.GetDashboardURL()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to defaults through the Get* accessors.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := sonic.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *TuningConfig) Validate() error {
	if c.UpdateRateHz != nil && *c.UpdateRateHz <= 0 {
		return fmt.Errorf("update_rate_hz must be positive, got %f", *c.UpdateRateHz)
	}
	if c.DistanceThresholdM != nil && *c.DistanceThresholdM <= 0 {
		return fmt.Errorf("distance_threshold_m must be positive, got %f", *c.DistanceThresholdM)
	}
	if c.AngularThresholdDeg != nil && (*c.AngularThresholdDeg <= 0 || *c.AngularThresholdDeg >= 180) {
		return fmt.Errorf("angular_threshold_deg must be in (0, 180), got %f", *c.AngularThresholdDeg)
	}
	if c.RelocalizationThreshold != nil && *c.RelocalizationThreshold < 1 {
		return fmt.Errorf("relocalization_threshold must be at least 1, got %d", *c.RelocalizationThreshold)
	}
	if c.TrajectoryDurationMs != nil && *c.TrajectoryDurationMs <= 0 {
		return fmt.Errorf("trajectory_duration_ms must be positive, got %d", *c.TrajectoryDurationMs)
	}
	if c.HeightLevelStepM != nil && *c.HeightLevelStepM < 0 {
		return fmt.Errorf("height_level_step_m must be non-negative, got %f", *c.HeightLevelStepM)
	}

	durations := map[string]*string{
		"trajectory_poll_interval": c.TrajectoryPollInterval,
		"robot_poll_interval":      c.RobotPollInterval,
		"request_timeout":          c.RequestTimeout,
	}
	for key, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, *v)
		}
	}

	urls := map[string]*string{
		"fleet_api_url":         c.FleetAPIURL,
		"trajectory_server_url": c.TrajectoryServerURL,
		"dashboard_url":         c.DashboardURL,
	}
	for key, v := range urls {
		if v == nil || *v == "" {
			continue
		}
		if _, err := url.ParseRequestURI(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, *v, err)
		}
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetUpdateRateHz returns how often the localizer may run.
func (c *TuningConfig) GetUpdateRateHz() float64 {
	if c.UpdateRateHz == nil {
		return 1.0
	}
	return *c.UpdateRateHz
}

// GetDistanceThresholdM returns the planar drift tolerated before a
// reading counts as unaligned.
func (c *TuningConfig) GetDistanceThresholdM() float64 {
	if c.DistanceThresholdM == nil {
		return 0.3
	}
	return *c.DistanceThresholdM
}

// GetAngularThresholdDeg returns the heading drift tolerated before a
// reading counts as unaligned.
func (c *TuningConfig) GetAngularThresholdDeg() float64 {
	if c.AngularThresholdDeg == nil {
		return 10
	}
	return *c.AngularThresholdDeg
}

// GetRelocalizationThreshold returns the number of consecutive unaligned
// readings that trigger relocalization.
func (c *TuningConfig) GetRelocalizationThreshold() int {
	if c.RelocalizationThreshold == nil {
		return 5
	}
	return *c.RelocalizationThreshold
}

// GetMarkerHeightM returns the mounting height of robot markers.
func (c *TuningConfig) GetMarkerHeightM() float64 {
	if c.MarkerHeightM == nil {
		return 1.0
	}
	return *c.MarkerHeightM
}

// GetTrajectoryDurationMs returns the look-ahead requested from the
// trajectory server.
func (c *TuningConfig) GetTrajectoryDurationMs() int64 {
	if c.TrajectoryDurationMs == nil {
		return 60000
	}
	return *c.TrajectoryDurationMs
}

// GetTrajectoryTrim returns whether the server should trim traversed knots.
func (c *TuningConfig) GetTrajectoryTrim() bool {
	if c.TrajectoryTrim == nil {
		return true
	}
	return *c.TrajectoryTrim
}

// GetTrajectoryPollInterval returns the trajectory polling period.
func (c *TuningConfig) GetTrajectoryPollInterval() time.Duration {
	return parseDurationOr(c.TrajectoryPollInterval, time.Second)
}

// GetRobotPollInterval returns the robot state polling period.
func (c *TuningConfig) GetRobotPollInterval() time.Duration {
	return parseDurationOr(c.RobotPollInterval, time.Second)
}

// GetRequestTimeout returns the per-request timeout for fleet calls.
func (c *TuningConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, 5*time.Second)
}

// GetTrajectoryZOffsetM returns the base render height of trajectories.
func (c *TuningConfig) GetTrajectoryZOffsetM() float64 {
	if c.TrajectoryZOffsetM == nil {
		return 0.8
	}
	return *c.TrajectoryZOffsetM
}

// GetHeightLevelStepM returns the vertical spacing between height levels.
func (c *TuningConfig) GetHeightLevelStepM() float64 {
	if c.HeightLevelStepM == nil {
		return 0.1
	}
	return *c.HeightLevelStepM
}

// GetFleetAPIURL returns the fleet manager REST base URL.
func (c *TuningConfig) GetFleetAPIURL() string {
	if c.FleetAPIURL == nil || *c.FleetAPIURL == "" {
		return "http://localhost:8080"
	}
	return *c.FleetAPIURL
}

// GetTrajectoryServerURL returns the trajectory server WebSocket URL.
func (c *TuningConfig) GetTrajectoryServerURL() string {
	if c.TrajectoryServerURL == nil || *c.TrajectoryServerURL == "" {
		return "ws://localhost:8006"
	}
	return *c.TrajectoryServerURL
}

// GetDashboardURL returns the dashboard config endpoint.
func (c *TuningConfig) GetDashboardURL() string {
	if c.DashboardURL == nil || *c.DashboardURL == "" {
		return "http://localhost:5000/dashboard_config"
	}
	return *c.DashboardURL
}
