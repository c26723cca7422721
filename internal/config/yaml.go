// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it searches default locations ("config.yaml"). If no file is
// found, built-in defaults are used. Environment variable overrides are
// applied after loading, and the final configuration is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		candidates := []string{
			"config.yaml",
		}
		found := false
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				found = true
				break
			}
		}
		if !found {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %.0f outside supported range [%d, %d]",
			c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer must be in (0, %d], got %d",
			MaxBufferFrames, c.Audio.FramesPerBuffer)
	}
	if c.Detector.TargetBPM <= 0 {
		return fmt.Errorf("detector.target_bpm must be positive, got %f", c.Detector.TargetBPM)
	}
	if c.Detector.Tolerance < 0 {
		return fmt.Errorf("detector.tolerance must be non-negative, got %f", c.Detector.Tolerance)
	}
	if c.Detector.WindowSeconds < c.Detector.MinAnalysisSeconds {
		return fmt.Errorf("detector.window_seconds (%d) must be >= detector.min_analysis_seconds (%d)",
			c.Detector.WindowSeconds, c.Detector.MinAnalysisSeconds)
	}
	if c.Detector.AnalysisInterval <= 0 {
		return fmt.Errorf("detector.analysis_interval must be positive, got %s", c.Detector.AnalysisInterval)
	}
	if c.Detector.Refractory <= 0 {
		return fmt.Errorf("detector.refractory must be positive, got %s", c.Detector.Refractory)
	}
	if c.Detector.EnergyMultiplier <= 0 {
		return fmt.Errorf("detector.energy_multiplier must be positive, got %f", c.Detector.EnergyMultiplier)
	}
	if c.Detector.OnsetHistory < 2 {
		return fmt.Errorf("detector.onset_history must be at least 2, got %d", c.Detector.OnsetHistory)
	}
	return nil
}

// applyEnvOverrides layers BPM_* environment variables over the loaded
// configuration. Only a handful of deployment-facing settings are exposed.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("BPM_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
		}
	}
	if val, ok := os.LookupEnv("BPM_TARGET"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			c.Detector.TargetBPM = fVal
		}
	}
	if val, ok := os.LookupEnv("BPM_WS_ADDR"); ok {
		c.Transport.WSAddr = val
	}
	if val, ok := os.LookupEnv("BPM_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
		}
	}
	if val, ok := os.LookupEnv("BPM_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
	}
	if val, ok := os.LookupEnv("BPM_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
		}
	}
}
