// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"bpmdetect/internal/config"
)

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
// This should be deferred immediately after Initialize().
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// CaptureDevice describes one input-capable endpoint. ID is the PortAudio
// device index, usable directly as the --device flag value. This program
// never plays audio, so output-only endpoints are not modeled at all.
type CaptureDevice struct {
	ID         int
	Name       string
	Channels   int
	SampleRate float64
	LatencyMs  float64 // default low input latency
	Default    bool    // the system default capture device
}

// CaptureDevices enumerates the input-capable devices on the host, marking
// the system default. Requires an initialized PortAudio subsystem.
func CaptureDevices() ([]CaptureDevice, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	// A host without any input device is handled by the empty result, not
	// by this lookup failing.
	def, _ := portaudio.DefaultInputDevice()
	return captureDevicesFrom(infos, def), nil
}

// captureDevicesFrom filters the raw device table down to capture-capable
// entries. IDs keep the PortAudio indices so a picked ID resolves to the
// same device in InputDevice.
func captureDevicesFrom(infos []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) []CaptureDevice {
	devices := make([]CaptureDevice, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, CaptureDevice{
			ID:         info.Index,
			Name:       info.Name,
			Channels:   info.MaxInputChannels,
			SampleRate: info.DefaultSampleRate,
			LatencyMs:  info.DefaultLowInputLatency.Seconds() * 1000,
			Default:    def != nil && def.Index == info.Index,
		})
	}
	return devices
}

// InputDevice resolves the capture device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default input device.
// Output-only devices are rejected here rather than failing later inside
// stream open.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		return portaudio.DefaultInputDevice()
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(infos) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	info := infos[deviceID]
	if info.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("device [%d] %s has no input channels", deviceID, info.Name)
	}
	return info, nil
}

// ListDevices prints the capture devices available to the --device flag,
// marking the system default.
func ListDevices() error {
	devices, err := CaptureDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}

	fmt.Printf("\nCapture Devices\n\n")
	for _, d := range devices {
		marker := ""
		if d.Default {
			marker = " (default)"
		}
		fmt.Printf("[%d] %s%s\n", d.ID, d.Name, marker)
		fmt.Printf("    Channels: %d, sample rate: %.0f Hz, input latency: %.2f ms\n",
			d.Channels, d.SampleRate, d.LatencyMs)
		fmt.Println()
	}
	return nil
}
