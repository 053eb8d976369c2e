package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the capture pipeline.
const (
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultSampleRate      = 44100
	DefaultFramesPerBuffer = 1024
	DefaultInputChannels   = 2
	DefaultCaptureDepth    = 1 << 20 // Samples per channel
	DefaultGateThreshold   = 0.001
	DefaultFFTSize         = 1024
	DefaultFFTWindow       = "Hann"
	DefaultZeroOffset      = 128 // Mid-scale of an unsigned 8-bit sample
	DefaultWebSocketAddr   = ":8080"
	DefaultFrameInterval   = 50 * time.Millisecond
	DefaultFrameWidth      = 1024
	DefaultUDPTarget       = "127.0.0.1:9090"
	DefaultUDPInterval     = 33 * time.Millisecond // ~30Hz
	DefaultStoragePath     = "captures.db"

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxChannels     = 16
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (verbose logging).
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Acquisition device settings.
	Capture   CaptureConfig   `yaml:"capture"`   // Snapshot sizing and ingestion mode.
	Analysis  AnalysisConfig  `yaml:"analysis"`  // Statistics and spectrum settings.
	Transport TransportConfig `yaml:"transport"` // Frame and measurement fan-out.
	Storage   StorageConfig   `yaml:"storage"`   // Captured snapshot persistence.
}

// AudioConfig holds settings related to the acquisition device.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per callback, one payload per callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Channels opened on the device.
	EnabledChannels []int   `yaml:"enabled_channels"`  // Ordinals stored in the snapshot; empty means all.
}

// CaptureConfig holds settings for the sample snapshot.
type CaptureConfig struct {
	Depth         uint64  `yaml:"depth"`          // Samples per channel the snapshot holds.
	Instant       bool    `yaml:"instant"`        // Append-growing when true, replace-on-arrival otherwise.
	Envelope      bool    `yaml:"envelope"`       // Maintain the min/max envelope pyramid.
	MemoryLimit   uint64  `yaml:"memory_limit"`   // Byte budget for snapshot buffers, 0 for none.
	GateThreshold float64 `yaml:"gate_threshold"` // Trigger gate threshold 0..1, 0 disables the gate.
}

// AnalysisConfig holds settings for measurements and the spectrum view.
type AnalysisConfig struct {
	FFTSize    int     `yaml:"fft_size"`    // Power of two.
	FFTWindow  string  `yaml:"fft_window"`  // Name of the window function (e.g., "Hann", "Hamming").
	ZeroOffset float64 `yaml:"zero_offset"` // Sample value treated as 0 V for RMS.
}

// TransportConfig holds settings related to sending processed data over the network.
type TransportConfig struct {
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address of the frame WebSocket, empty disables it.
	FrameInterval    time.Duration `yaml:"frame_interval"`     // Interval between renderer frames.
	FrameWidth       int           `yaml:"frame_width"`        // Columns per renderer frame.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending measurements over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// StorageConfig holds settings for the capture store.
type StorageConfig struct {
	Path string `yaml:"path"` // bbolt database file.
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultInputChannels,
		},
		Capture: CaptureConfig{
			Depth:         DefaultCaptureDepth,
			Instant:       true,
			Envelope:      true,
			GateThreshold: DefaultGateThreshold,
		},
		Analysis: AnalysisConfig{
			FFTSize:    DefaultFFTSize,
			FFTWindow:  DefaultFFTWindow,
			ZeroOffset: DefaultZeroOffset,
		},
		Transport: TransportConfig{
			WebSocketAddr:    DefaultWebSocketAddr,
			FrameInterval:    DefaultFrameInterval,
			FrameWidth:       DefaultFrameWidth,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPInterval,
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath,
		},
	}
}

// EnabledChannelMap returns the channel enable map handed to the snapshot.
// An empty EnabledChannels list enables every input channel.
func (c *Config) EnabledChannelMap() map[int]bool {
	m := make(map[int]bool, c.Audio.InputChannels)
	for ch := range c.Audio.InputChannels {
		m[ch] = len(c.Audio.EnabledChannels) == 0
	}
	for _, ch := range c.Audio.EnabledChannels {
		m[ch] = true
	}
	return m
}

// ChannelPositions returns the enabled input channels in ascending order,
// which is the order they are interleaved in the snapshot.
func (c *Config) ChannelPositions() []int {
	m := c.EnabledChannelMap()
	out := make([]int, 0, len(m))
	for ch := range c.Audio.InputChannels {
		if m[ch] {
			out = append(out, ch)
		}
	}
	return out
}
