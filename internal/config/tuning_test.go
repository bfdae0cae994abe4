package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetTriggerDTCutNanos(); got != 1000 {
		t.Errorf("GetTriggerDTCutNanos() = %d, want 1000", got)
	}
	if got := cfg.GetTriggerDelayNanos(); got != 997000 {
		t.Errorf("GetTriggerDelayNanos() = %d, want 997000", got)
	}
	if got := cfg.GetEventMinNhit(); got != 5 {
		t.Errorf("GetEventMinNhit() = %d, want 5", got)
	}
	if got := cfg.GetEventMaxNhit(); got != -1 {
		t.Errorf("GetEventMaxNhit() = %d, want -1", got)
	}
	if got := cfg.GetEventDTCutNanos(); got != 10000 {
		t.Errorf("GetEventDTCutNanos() = %d, want 10000", got)
	}
	if !cfg.GetAssociateTriggers() {
		t.Error("GetAssociateTriggers() = false, want true")
	}
	if got := cfg.GetTriggerWindowMaxNanos(); got != 300000 {
		t.Errorf("GetTriggerWindowMaxNanos() = %d, want 300000", got)
	}
	if got := cfg.GetHoughThreshold(); got != 5 {
		t.Errorf("GetHoughThreshold() = %d, want 5", got)
	}
	if got := cfg.GetHoughNDirections(); got != 1000 {
		t.Errorf("GetHoughNDirections() = %d, want 1000", got)
	}
	if got := cfg.GetHoughNPositions(); got != 30 {
		t.Errorf("GetHoughNPositions() = %d, want 30", got)
	}
	if got := cfg.GetHoughDR(); got != 3.0 {
		t.Errorf("GetHoughDR() = %f, want 3.0", got)
	}
	if got := cfg.GetChannelMask(); len(got) != 0 {
		t.Errorf("GetChannelMask() = %v, want empty", got)
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{
  "event_min_nhit": 8,
  "hough_dr": 1.5,
  "channel_mask": {"3": [5, 0], "7": [2]}
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if got := cfg.GetEventMinNhit(); got != 8 {
		t.Errorf("GetEventMinNhit() = %d, want 8", got)
	}
	if got := cfg.GetHoughDR(); got != 1.5 {
		t.Errorf("GetHoughDR() = %f, want 1.5", got)
	}
	// Omitted fields keep their defaults.
	if got := cfg.GetEventDTCutNanos(); got != 10000 {
		t.Errorf("GetEventDTCutNanos() = %d, want default 10000", got)
	}

	mask := cfg.GetChannelMask()
	if len(mask) != 2 {
		t.Fatalf("GetChannelMask() has %d chips, want 2", len(mask))
	}
	// Keys parsed to ints, channel lists sorted.
	if got := mask[3]; len(got) != 2 || got[0] != 0 || got[1] != 5 {
		t.Errorf("mask[3] = %v, want [0 5]", got)
	}
	if got := mask[7]; len(got) != 1 || got[0] != 2 {
		t.Errorf("mask[7] = %v, want [2]", got)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	path := writeConfig(t, "config.yaml", "event_min_nhit: 3")
	if _, err := LoadTuningConfig(path); err == nil {
		t.Fatal("expected error for non-.json extension")
	}
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"bad mask key", `{"channel_mask": {"abc": [1]}}`, "channel_mask"},
		{"negative channel", `{"channel_mask": {"0": [-1]}}`, "channel"},
		{"zero trigger cut", `{"trigger_dt_cut_nanos": 0}`, "trigger_dt_cut_nanos"},
		{"zero max nhit", `{"event_max_nhit": 0}`, "event_max_nhit"},
		{"inverted window", `{"trigger_window_min_nanos": 100, "trigger_window_max_nanos": 50}`, "window"},
		{"zero hough threshold", `{"hough_threshold": 0}`, "hough_threshold"},
		{"negative dr", `{"hough_dr": -1}`, "hough_dr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "bad.json", tt.json)
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatalf("config %s accepted, want error", tt.json)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateDirect(t *testing.T) {
	cfg := &TuningConfig{EventMinNhit: ptrInt(-1)}
	if err := cfg.Validate(); err == nil {
		t.Error("negative event_min_nhit accepted")
	}
	cfg = &TuningConfig{
		TriggerDTCutNanos: ptrInt64(500),
		HoughDR:           ptrFloat64(0),
		AssociateTriggers: ptrBool(false),
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("shipped defaults invalid: %v", err)
	}
	if got := cfg.GetHoughNPositions(); got != 30 {
		t.Errorf("defaults file hough_npositions = %d, want 30", got)
	}
}
