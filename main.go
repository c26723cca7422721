// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"bpmdetect/cmd"
	"bpmdetect/internal/analysis"
	"bpmdetect/internal/audio"
	"bpmdetect/internal/build"
	"bpmdetect/internal/config"
	"bpmdetect/internal/detect"
	applog "bpmdetect/internal/log"
	"bpmdetect/internal/transport"
	"bpmdetect/internal/transport/udp"
	"bpmdetect/internal/tui"
)

// main is the entry point for the tempo detector.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Initialize PortAudio
//   - Parse command line arguments
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start microphone capture
//   - Run the estimator for the selected mode
//   - Push estimates to the display or network sinks
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop recording if active
//   - Clean up resources
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Initialize build information including version, commit hash, and build time
	build.Initialize()

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to the capture callback (time-critical)
	// - One thread for UI and I/O operations
	runtime.GOMAXPROCS(2)

	// Initialize PortAudio subsystem
	if err := audio.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}
	defer audio.Terminate()

	// Parse command line arguments and build configuration
	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}

	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	} else if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	// Handle one-off commands that don't require the capture engine
	if cfg.Command == "list" {
		if err := audio.ListDevices(); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	if cfg.PickDevice {
		id, err := tui.PickInputDevice()
		if err != nil {
			applog.Fatalf("%v", err)
		}
		if id < 0 {
			return // user backed out of the picker
		}
		cfg.Audio.InputDevice = id
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	engine, err := audio.NewEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No usable input device: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run '%s list' to see available devices.\n", build.GetBuildFlags().Name)
		os.Exit(1)
	}

	switch cfg.Command {
	case "serve":
		err = runServe(cfg, engine)
	default:
		err = runMonitor(cfg, engine)
	}
	if err != nil {
		applog.Fatalf("%v", err)
	}
}

// runMonitor runs the standalone mode: the lightweight onset estimator
// feeding a live terminal display. Capture starts immediately and runs
// until the user quits the display.
func runMonitor(cfg *config.Config, engine *audio.Engine) error {
	monitor := tui.NewMonitor(cfg.Detector.TargetBPM, cfg.Detector.Tolerance, engine.PeakLevel)
	detector := analysis.NewOnsetDetector(cfg, monitor.Sink())

	if err := engine.Start(detector.Process); err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Recording.Enabled {
		if err := engine.StartRecording(cfg.Recording.OutputFile); err != nil {
			return err
		}
	}

	return monitor.Run()
}

// runServe runs the server mode: the heavy beat tracker behind a
// WebSocket control endpoint, with an optional UDP estimate feed.
// Capture starts on client request, not at boot.
func runServe(cfg *config.Config, engine *audio.Engine) error {
	detector := detect.New(cfg, engine, nil)
	guarded := detect.NewGuard(detector, cfg.Detector.AnalysisInterval)

	ws := transport.NewWebSocketTransport(cfg.Transport.WSAddr, guarded)
	defer ws.Close()

	var sink transport.Transport = ws
	if cfg.Debug {
		sink = transport.NewMulti(ws, transport.NewLoggingTransport())
	}
	detector.SetSink(sink)

	detector.StartMonitor()
	defer detector.StopMonitor()

	// Recording spans the serve session; frames land in the file only
	// while a client has capture running.
	if cfg.Recording.Enabled {
		if err := engine.StartRecording(cfg.Recording.OutputFile); err != nil {
			return err
		}
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		publisher, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, detector)
		if err != nil {
			return err
		}
		publisher.Start()
		defer publisher.Close()
	}

	// Block until termination signal is received
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if detector.Running() {
		if err := detector.Stop(); err != nil {
			applog.Errorf("Error stopping detection: %v", err)
		}
	}
	return engine.Close()
}
