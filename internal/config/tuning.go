package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for reconstruction tuning
// parameters. All fields are pointers so a partial JSON file inherits the
// defaults for everything it omits; read values through the Get* methods.
type TuningConfig struct {
	// Trigger builder params. The channel mask maps chip IDs (JSON object
	// keys, so strings) to the channel numbers a coincidence must cover.
	ChannelMask       map[string][]int `json:"channel_mask,omitempty"`
	TriggerDTCutNanos *int64           `json:"trigger_dt_cut_nanos,omitempty"`
	TriggerDelayNanos *int64           `json:"trigger_delay_nanos,omitempty"`

	// Event builder params
	EventMinNhit          *int   `json:"event_min_nhit,omitempty"`
	EventMaxNhit          *int   `json:"event_max_nhit,omitempty"` // -1 sets no upper limit
	EventDTCutNanos       *int64 `json:"event_dt_cut_nanos,omitempty"`
	AssociateTriggers     *bool  `json:"associate_triggers,omitempty"`
	TriggerWindowMinNanos *int64 `json:"trigger_window_min_nanos,omitempty"`
	TriggerWindowMaxNanos *int64 `json:"trigger_window_max_nanos,omitempty"`

	// Hough tracker params
	HoughThreshold   *int     `json:"hough_threshold,omitempty"`
	HoughNDirections *int     `json:"hough_ndirections,omitempty"`
	HoughNPositions  *int     `json:"hough_npositions,omitempty"`
	HoughDR          *float64 `json:"hough_dr,omitempty"` // cm; 0 derives from bin width

	// Pipeline params
	ReadBatch        *int   `json:"read_batch,omitempty"`
	WriteQueueLength *int   `json:"write_queue_length,omitempty"`
	CounterInterval  *int64 `json:"counter_interval,omitempty"` // cycles; 0 disables periodic logs
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for key, channels := range c.ChannelMask {
		chip, err := strconv.Atoi(key)
		if err != nil || chip < 0 {
			return fmt.Errorf("channel_mask key %q is not a non-negative chip id", key)
		}
		for _, ch := range channels {
			if ch < 0 {
				return fmt.Errorf("channel_mask chip %d has negative channel %d", chip, ch)
			}
		}
	}

	if c.TriggerDTCutNanos != nil && *c.TriggerDTCutNanos <= 0 {
		return fmt.Errorf("trigger_dt_cut_nanos must be positive, got %d", *c.TriggerDTCutNanos)
	}
	if c.TriggerDelayNanos != nil && *c.TriggerDelayNanos < 0 {
		return fmt.Errorf("trigger_delay_nanos must be non-negative, got %d", *c.TriggerDelayNanos)
	}
	if c.EventMinNhit != nil && *c.EventMinNhit < 0 {
		return fmt.Errorf("event_min_nhit must be non-negative, got %d", *c.EventMinNhit)
	}
	if c.EventMaxNhit != nil && *c.EventMaxNhit == 0 {
		return fmt.Errorf("event_max_nhit must be positive or -1 (no limit), got 0")
	}
	if c.EventDTCutNanos != nil && *c.EventDTCutNanos <= 0 {
		return fmt.Errorf("event_dt_cut_nanos must be positive, got %d", *c.EventDTCutNanos)
	}
	if c.TriggerWindowMinNanos != nil && c.TriggerWindowMaxNanos != nil &&
		*c.TriggerWindowMinNanos > *c.TriggerWindowMaxNanos {
		return fmt.Errorf("trigger window min %d exceeds max %d",
			*c.TriggerWindowMinNanos, *c.TriggerWindowMaxNanos)
	}
	if c.HoughThreshold != nil && *c.HoughThreshold < 1 {
		return fmt.Errorf("hough_threshold must be at least 1, got %d", *c.HoughThreshold)
	}
	if c.HoughNDirections != nil && *c.HoughNDirections < 1 {
		return fmt.Errorf("hough_ndirections must be at least 1, got %d", *c.HoughNDirections)
	}
	if c.HoughNPositions != nil && *c.HoughNPositions < 1 {
		return fmt.Errorf("hough_npositions must be at least 1, got %d", *c.HoughNPositions)
	}
	if c.HoughDR != nil && *c.HoughDR < 0 {
		return fmt.Errorf("hough_dr must be non-negative, got %f", *c.HoughDR)
	}
	if c.WriteQueueLength != nil && *c.WriteQueueLength < 1 {
		return fmt.Errorf("write_queue_length must be at least 1, got %d", *c.WriteQueueLength)
	}

	return nil
}

// GetChannelMask returns the channel mask with chip IDs parsed to ints.
// Channel lists are copied and sorted; the result is empty (not nil) when no
// mask is configured. Call Validate first: unparseable keys are skipped here.
func (c *TuningConfig) GetChannelMask() map[int][]int {
	mask := make(map[int][]int, len(c.ChannelMask))
	for key, channels := range c.ChannelMask {
		chip, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		list := append([]int(nil), channels...)
		sort.Ints(list)
		mask[chip] = list
	}
	return mask
}

// GetTriggerDTCutNanos returns the trigger_dt_cut_nanos value or the default.
func (c *TuningConfig) GetTriggerDTCutNanos() int64 {
	if c.TriggerDTCutNanos == nil {
		return 1_000 // 1 us coincidence width
	}
	return *c.TriggerDTCutNanos
}

// GetTriggerDelayNanos returns the trigger_delay_nanos value or the default.
func (c *TuningConfig) GetTriggerDelayNanos() int64 {
	if c.TriggerDelayNanos == nil {
		return 997_000 // measured trigger to channel response offset
	}
	return *c.TriggerDelayNanos
}

// GetEventMinNhit returns the event_min_nhit value or the default.
func (c *TuningConfig) GetEventMinNhit() int {
	if c.EventMinNhit == nil {
		return 5
	}
	return *c.EventMinNhit
}

// GetEventMaxNhit returns the event_max_nhit value or the default.
func (c *TuningConfig) GetEventMaxNhit() int {
	if c.EventMaxNhit == nil {
		return -1 // no upper limit
	}
	return *c.EventMaxNhit
}

// GetEventDTCutNanos returns the event_dt_cut_nanos value or the default.
func (c *TuningConfig) GetEventDTCutNanos() int64 {
	if c.EventDTCutNanos == nil {
		return 10_000
	}
	return *c.EventDTCutNanos
}

// GetAssociateTriggers returns the associate_triggers value or the default.
func (c *TuningConfig) GetAssociateTriggers() bool {
	if c.AssociateTriggers == nil {
		return true
	}
	return *c.AssociateTriggers
}

// GetTriggerWindowMinNanos returns the trigger_window_min_nanos value or the default.
func (c *TuningConfig) GetTriggerWindowMinNanos() int64 {
	if c.TriggerWindowMinNanos == nil {
		return 0
	}
	return *c.TriggerWindowMinNanos
}

// GetTriggerWindowMaxNanos returns the trigger_window_max_nanos value or the default.
func (c *TuningConfig) GetTriggerWindowMaxNanos() int64 {
	if c.TriggerWindowMaxNanos == nil {
		return 300_000
	}
	return *c.TriggerWindowMaxNanos
}

// GetHoughThreshold returns the hough_threshold value or the default.
func (c *TuningConfig) GetHoughThreshold() int {
	if c.HoughThreshold == nil {
		return 5
	}
	return *c.HoughThreshold
}

// GetHoughNDirections returns the hough_ndirections value or the default.
func (c *TuningConfig) GetHoughNDirections() int {
	if c.HoughNDirections == nil {
		return 1000
	}
	return *c.HoughNDirections
}

// GetHoughNPositions returns the hough_npositions value or the default.
func (c *TuningConfig) GetHoughNPositions() int {
	if c.HoughNPositions == nil {
		return 30
	}
	return *c.HoughNPositions
}

// GetHoughDR returns the hough_dr value or the default.
func (c *TuningConfig) GetHoughDR() float64 {
	if c.HoughDR == nil {
		return 3.0
	}
	return *c.HoughDR
}

// GetReadBatch returns the read_batch value or the default.
func (c *TuningConfig) GetReadBatch() int {
	if c.ReadBatch == nil {
		return 100
	}
	return *c.ReadBatch
}

// GetWriteQueueLength returns the write_queue_length value or the default.
func (c *TuningConfig) GetWriteQueueLength() int {
	if c.WriteQueueLength == nil {
		return 256
	}
	return *c.WriteQueueLength
}

// GetCounterInterval returns the counter_interval value or the default.
func (c *TuningConfig) GetCounterInterval() int64 {
	if c.CounterInterval == nil {
		return 1000
	}
	return *c.CounterInterval
}
