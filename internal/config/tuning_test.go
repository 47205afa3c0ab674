package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.UpdateRateHz == nil || *cfg.UpdateRateHz != 1.0 {
		t.Errorf("Expected UpdateRateHz 1.0, got %v", cfg.UpdateRateHz)
	}
	if cfg.RelocalizationThreshold == nil || *cfg.RelocalizationThreshold != 5 {
		t.Errorf("Expected RelocalizationThreshold 5, got %v", cfg.RelocalizationThreshold)
	}
	if cfg.TrajectoryPollInterval == nil || *cfg.TrajectoryPollInterval != "1s" {
		t.Errorf("Expected TrajectoryPollInterval '1s', got %v", cfg.TrajectoryPollInterval)
	}
	if cfg.GetMarkerHeightM() != 1.0 {
		t.Errorf("GetMarkerHeightM() = %f, want 1.0", cfg.GetMarkerHeightM())
	}
	if cfg.GetTrajectoryTrim() != true {
		t.Errorf("GetTrajectoryTrim() = %v, want true", cfg.GetTrajectoryTrim())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtin := EmptyTuningConfig()

	if fromFile.GetUpdateRateHz() != builtin.GetUpdateRateHz() {
		t.Errorf("update_rate_hz: file %f, builtin %f", fromFile.GetUpdateRateHz(), builtin.GetUpdateRateHz())
	}
	if fromFile.GetRelocalizationThreshold() != builtin.GetRelocalizationThreshold() {
		t.Errorf("relocalization_threshold: file %d, builtin %d", fromFile.GetRelocalizationThreshold(), builtin.GetRelocalizationThreshold())
	}
	if fromFile.GetHeightLevelStepM() != builtin.GetHeightLevelStepM() {
		t.Errorf("height_level_step_m: file %f, builtin %f", fromFile.GetHeightLevelStepM(), builtin.GetHeightLevelStepM())
	}
	if fromFile.GetTrajectoryServerURL() != builtin.GetTrajectoryServerURL() {
		t.Errorf("trajectory_server_url: file %s, builtin %s", fromFile.GetTrajectoryServerURL(), builtin.GetTrajectoryServerURL())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "update_rate_hz": 2.5,
  "distance_threshold_m": 0.5,
  "relocalization_threshold": 3,
  "trajectory_poll_interval": "250ms",
  "fleet_api_url": "http://fleet.local:8080"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetUpdateRateHz() != 2.5 {
		t.Errorf("GetUpdateRateHz() = %f, want 2.5", cfg.GetUpdateRateHz())
	}
	if cfg.GetDistanceThresholdM() != 0.5 {
		t.Errorf("GetDistanceThresholdM() = %f, want 0.5", cfg.GetDistanceThresholdM())
	}
	if cfg.GetRelocalizationThreshold() != 3 {
		t.Errorf("GetRelocalizationThreshold() = %d, want 3", cfg.GetRelocalizationThreshold())
	}
	if cfg.GetTrajectoryPollInterval() != 250*time.Millisecond {
		t.Errorf("GetTrajectoryPollInterval() = %v, want 250ms", cfg.GetTrajectoryPollInterval())
	}
	if cfg.GetFleetAPIURL() != "http://fleet.local:8080" {
		t.Errorf("GetFleetAPIURL() = %s", cfg.GetFleetAPIURL())
	}
	// Omitted fields keep their defaults.
	if cfg.GetAngularThresholdDeg() != 10 {
		t.Errorf("GetAngularThresholdDeg() = %f, want default 10", cfg.GetAngularThresholdDeg())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	_, err := LoadTuningConfig("config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	if err := os.WriteFile(configPath, []byte(`{"update_rate_hz": "fast"`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultTuningConfig()},
		{name: "empty config is valid", cfg: &TuningConfig{}},
		{name: "zero update rate", cfg: &TuningConfig{UpdateRateHz: ptrFloat64(0)}, wantErr: true},
		{name: "negative distance threshold", cfg: &TuningConfig{DistanceThresholdM: ptrFloat64(-1)}, wantErr: true},
		{name: "angular threshold too large", cfg: &TuningConfig{AngularThresholdDeg: ptrFloat64(200)}, wantErr: true},
		{name: "zero relocalization threshold", cfg: &TuningConfig{RelocalizationThreshold: ptrInt(0)}, wantErr: true},
		{name: "zero trajectory duration", cfg: &TuningConfig{TrajectoryDurationMs: ptrInt64(0)}, wantErr: true},
		{name: "negative level step", cfg: &TuningConfig{HeightLevelStepM: ptrFloat64(-0.1)}, wantErr: true},
		{name: "invalid poll interval", cfg: &TuningConfig{TrajectoryPollInterval: ptrString("soon")}, wantErr: true},
		{name: "negative poll interval", cfg: &TuningConfig{RobotPollInterval: ptrString("-1s")}, wantErr: true},
		{name: "relative url", cfg: &TuningConfig{FleetAPIURL: ptrString("fleet/api")}, wantErr: true},
		{name: "websocket url", cfg: &TuningConfig{TrajectoryServerURL: ptrString("ws://10.0.0.2:8006")}},
		{name: "trim disabled", cfg: &TuningConfig{TrajectoryTrim: ptrBool(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetTrajectoryPollInterval(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{name: "500 milliseconds", cfg: &TuningConfig{TrajectoryPollInterval: ptrString("500ms")}, want: 500 * time.Millisecond},
		{name: "2 seconds", cfg: &TuningConfig{TrajectoryPollInterval: ptrString("2s")}, want: 2 * time.Second},
		{name: "nil pointer returns default", cfg: &TuningConfig{}, want: time.Second},
		{name: "empty string returns default", cfg: &TuningConfig{TrajectoryPollInterval: ptrString("")}, want: time.Second},
		{name: "invalid duration returns default", cfg: &TuningConfig{TrajectoryPollInterval: ptrString("invalid")}, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetTrajectoryPollInterval(); got != tt.want {
				t.Errorf("GetTrajectoryPollInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "overlay.json")
	if err := os.WriteFile(configPath, []byte(`{"relocalization_threshold": 5}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *TuningConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath, func(cfg *TuningConfig) { reloaded <- cfg })
	}()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := os.WriteFile(configPath, []byte(`{"relocalization_threshold": 9}`), 0644); err != nil {
			t.Fatalf("Failed to rewrite config: %v", err)
		}
		select {
		case cfg := <-reloaded:
			if cfg.GetRelocalizationThreshold() != 9 {
				t.Errorf("reloaded threshold = %d, want 9", cfg.GetRelocalizationThreshold())
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch returned %v", err)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
