// SPDX-License-Identifier: MIT
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bpmdetect/internal/build"
	"bpmdetect/internal/config"
)

// ParseArgs builds the runtime configuration: defaults, then an optional
// YAML file (--config, BPM_CONFIG, or ./config.yaml), then BPM_*
// environment overrides, then command line flags.
func ParseArgs() (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	options, err := config.LoadConfig(configPathArg(os.Args[1:]))
	if err != nil {
		return nil, err
	}

	var configPath string

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = ""
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Serve command: headless detection behind a websocket control surface
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detector behind a WebSocket control endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = "serve"
			return nil
		},
	}
	serveCmd.Flags().StringVar(&options.Transport.WSAddr, "addr", options.Transport.WSAddr,
		"WebSocket listen address")
	serveCmd.Flags().BoolVar(&options.Transport.UDPEnabled, "udp", options.Transport.UDPEnabled,
		"Also publish binary estimates over UDP")
	serveCmd.Flags().StringVar(&options.Transport.UDPTargetAddress, "udp-target", options.Transport.UDPTargetAddress,
		"Target address for UDP estimate packets")
	rootCmd.AddCommand(serveCmd)

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "list"
		},
	}
	rootCmd.AddCommand(listCmd)

	// Audio Device Configuration
	rootCmd.PersistentFlags().IntVarP(&options.Audio.InputDevice, "device", "d", options.Audio.InputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")
	rootCmd.PersistentFlags().IntVarP(&options.Audio.Channels, "channels", "c", options.Audio.Channels,
		"Number of channels to capture (1=mono, 2=stereo)")
	rootCmd.PersistentFlags().Float64VarP(&options.Audio.SampleRate, "sample-rate", "s", options.Audio.SampleRate,
		"Sample rate, measured in Hertz (Hz)")
	rootCmd.PersistentFlags().IntVarP(&options.Audio.FramesPerBuffer, "frames-per-buffer", "b", options.Audio.FramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	rootCmd.PersistentFlags().BoolVarP(&options.Audio.LowLatency, "low-latency", "l", options.Audio.LowLatency,
		"Use low latency mode for real-time processing")
	rootCmd.PersistentFlags().BoolVarP(&options.PickDevice, "pick", "p", false,
		"Choose the input device interactively before capture")

	// Detector Configuration
	rootCmd.PersistentFlags().Float64VarP(&options.Detector.TargetBPM, "target", "t", options.Detector.TargetBPM,
		"Tempo to detect, in BPM")
	rootCmd.PersistentFlags().Float64Var(&options.Detector.Tolerance, "tolerance", options.Detector.Tolerance,
		"BPM deviation still counted as at-target")
	rootCmd.PersistentFlags().IntVarP(&options.Detector.WindowSeconds, "window", "w", options.Detector.WindowSeconds,
		"Seconds of audio buffered for beat tracking")
	rootCmd.PersistentFlags().DurationVar(&options.Detector.AnalysisInterval, "interval", options.Detector.AnalysisInterval,
		"Time between beat tracking passes")
	rootCmd.PersistentFlags().DurationVar(&options.Detector.Refractory, "refractory", options.Detector.Refractory,
		"Minimum spacing between detected onsets")
	rootCmd.PersistentFlags().Float64Var(&options.Detector.EnergyMultiplier, "multiplier", options.Detector.EnergyMultiplier,
		"Onset threshold factor over the rolling energy average")

	// Recording Configuration
	rootCmd.PersistentFlags().BoolVarP(&options.Recording.Enabled, "record", "r", options.Recording.Enabled,
		"Record captured audio to a WAV file while detecting")
	rootCmd.PersistentFlags().StringVarP(&options.Recording.OutputFile, "output", "o", options.Recording.OutputFile,
		"Output file name. Default is capture-YYYYMMDD-HHMMSS.wav")

	// Debug Configuration
	rootCmd.PersistentFlags().BoolVarP(&options.Debug, "verbose", "v", options.Debug,
		"Show verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a YAML configuration file (also BPM_CONFIG)")

	// Execute the CLI
	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}

	return options, nil
}

// configPathArg pre-scans the arguments for --config so the YAML layer can
// run before cobra parses the remaining flags. Falls back to BPM_CONFIG.
func configPathArg(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return os.Getenv("BPM_CONFIG")
}
