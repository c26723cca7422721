// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the tempo detection pipeline.
const (
	// Default values for audio capture
	DefaultChannels        = 1           // Mono capture
	DefaultDeviceID        = MinDeviceID // System default input device
	DefaultFramesPerBuffer = 1024        // Callback chunk size (~46ms at 22050 Hz)
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 22050       // Half CD-rate, plenty for beat tracking

	// Default values for tempo estimation
	DefaultTargetBPM          = 180.0                  // Tempo the classifier reports against
	DefaultTolerance          = 5.0                    // ±BPM accepted as "at target"
	DefaultWindowSeconds      = 3                      // Ring buffer depth for the heavy tracker
	DefaultMinAnalysisSeconds = 2                      // Below this the tracker skips its cycle
	DefaultAnalysisInterval   = 500 * time.Millisecond // Heavy tracker cadence
	DefaultPeakSeparationMs   = 250                    // Minimum beat spacing for peak picking
	DefaultRefractory         = 300 * time.Millisecond // Onset debounce interval
	DefaultEnergyMultiplier   = 1.4                    // Onset threshold over rolling average
	DefaultOnsetHistory       = 20                     // Onsets kept for interval estimation

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 selects the system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)

	// BPM estimates outside this range are discarded as implausible.
	MinPlausibleBPM = 30.0
	MaxPlausibleBPM = 300.0
)

// Config holds all runtime configuration for the detector. It is built from
// defaults, optionally a YAML file, environment overrides, then CLI flags.
type Config struct {
	Debug    bool   `yaml:"debug"`     // Verbose logging and debug features
	LogLevel string `yaml:"log_level"` // "debug", "info", "warn", "error"

	Audio     AudioConfig     `yaml:"audio"`     // Capture settings
	Detector  DetectorConfig  `yaml:"detector"`  // Tempo estimation settings
	Recording RecordingConfig `yaml:"recording"` // Capture-to-WAV settings
	Transport TransportConfig `yaml:"transport"` // Broadcast settings

	// Runtime selections made on the command line, never read from YAML.
	Command    string `yaml:"-"` // "" (live monitor), "serve", "list"
	PickDevice bool   `yaml:"-"` // Browse devices interactively before capture
}

// AudioConfig holds settings for microphone capture.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default)
	SampleRate      float64 `yaml:"sample_rate"`       // Capture rate in Hz
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Samples delivered per callback
	Channels        int     `yaml:"channels"`          // Input channels (mono is folded from channel 0)
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency from the device
}

// DetectorConfig holds the tempo estimation surface recognized by both
// estimator variants and the classifier.
type DetectorConfig struct {
	TargetBPM          float64       `yaml:"target_bpm"`           // Tempo to detect
	Tolerance          float64       `yaml:"tolerance"`            // ±BPM counted as a match
	WindowSeconds      int           `yaml:"window_seconds"`       // Ring accumulator depth
	MinAnalysisSeconds int           `yaml:"min_analysis_seconds"` // Audio required before a heavy cycle runs
	AnalysisInterval   time.Duration `yaml:"analysis_interval"`    // Heavy tracker cadence
	PeakSeparationMs   int           `yaml:"peak_separation_ms"`   // Minimum spacing between tracked beats
	Refractory         time.Duration `yaml:"refractory"`           // Onset debounce window
	EnergyMultiplier   float64       `yaml:"energy_multiplier"`    // Dynamic onset threshold factor
	OnsetHistory       int           `yaml:"onset_history"`        // Bounded onset event capacity
}

// RecordingConfig holds settings for recording captured audio while detecting.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Record the input stream to file
	OutputFile string `yaml:"output_file"` // Destination WAV path ("" auto-generates)
	BitDepth   int    `yaml:"bit_depth"`   // Bit depth for recorded audio
}

// TransportConfig holds settings for pushing estimates to display sinks.
type TransportConfig struct {
	WSAddr           string        `yaml:"ws_addr"`            // WebSocket listen address (serve mode)
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Also publish binary estimates over UDP
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target for UDP packets
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets
}

// NewConfig creates a Config populated with default values. This is the base
// configuration before YAML, environment, or flag overrides are applied.
func NewConfig() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Channels:        DefaultChannels,
			LowLatency:      DefaultLowLatency,
		},
		Detector: DetectorConfig{
			TargetBPM:          DefaultTargetBPM,
			Tolerance:          DefaultTolerance,
			WindowSeconds:      DefaultWindowSeconds,
			MinAnalysisSeconds: DefaultMinAnalysisSeconds,
			AnalysisInterval:   DefaultAnalysisInterval,
			PeakSeparationMs:   DefaultPeakSeparationMs,
			Refractory:         DefaultRefractory,
			EnergyMultiplier:   DefaultEnergyMultiplier,
			OnsetHistory:       DefaultOnsetHistory,
		},
		Recording: RecordingConfig{
			Enabled:    false,
			OutputFile: "",
			BitDepth:   16,
		},
		Transport: TransportConfig{
			WSAddr:           ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  DefaultAnalysisInterval,
		},
	}
}

// WindowSamples returns the ring accumulator capacity in samples.
func (c *Config) WindowSamples() int {
	return int(c.Audio.SampleRate) * c.Detector.WindowSeconds
}

// MinAnalysisSamples returns the sample count below which the heavy tracker
// skips an analysis cycle.
func (c *Config) MinAnalysisSamples() int {
	return int(c.Audio.SampleRate) * c.Detector.MinAnalysisSeconds
}
