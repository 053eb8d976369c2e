// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"dsoscope/internal/log"
	"dsoscope/pkg/bitint"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"dsoscope.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, errors.Wrap(err, "invalid default configuration")
			}
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return errors.Errorf("log_level %q is not a known level", c.LogLevel)
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID {
		return errors.Errorf("audio.input_device %d is below %d", a.InputDevice, MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return errors.Errorf("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		return errors.Errorf("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames)
	}
	if a.InputChannels <= 0 || a.InputChannels > MaxChannels {
		return errors.Errorf("audio.input_channels %d outside [1, %d]", a.InputChannels, MaxChannels)
	}
	for _, ch := range a.EnabledChannels {
		if ch < 0 || ch >= a.InputChannels {
			return errors.Errorf("audio.enabled_channels: channel %d not opened (input_channels %d)", ch, a.InputChannels)
		}
	}

	if c.Capture.Depth == 0 {
		return errors.New("capture.depth must be positive")
	}
	if c.Capture.GateThreshold < 0 || c.Capture.GateThreshold > 1 {
		return errors.Errorf("capture.gate_threshold %g outside [0, 1]", c.Capture.GateThreshold)
	}

	if !bitint.IsPowerOfTwo(c.Analysis.FFTSize) {
		return errors.Errorf("analysis.fft_size %d is not a power of two (try %d)",
			c.Analysis.FFTSize, bitint.NextPowerOfTwo(c.Analysis.FFTSize))
	}
	if c.Analysis.ZeroOffset < 0 || c.Analysis.ZeroOffset > 255 {
		return errors.Errorf("analysis.zero_offset %g outside [0, 255]", c.Analysis.ZeroOffset)
	}

	t := c.Transport
	if t.FrameInterval <= 0 {
		return errors.New("transport.frame_interval must be positive")
	}
	if t.FrameWidth <= 0 {
		return errors.New("transport.frame_width must be positive")
	}
	if t.UDPEnabled {
		if t.UDPTargetAddress == "" {
			return errors.New("transport.udp_target_address must be set when UDP is enabled")
		}
		if !strings.Contains(t.UDPTargetAddress, ":") {
			return errors.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress)
		}
		if t.UDPSendInterval <= 0 {
			return errors.New("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	return nil
}

// applyEnvOverrides applies ENV_* variables on top of file or default values.
// Unparseable values are ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			log.Debugf("Config: overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Debugf("Config: overriding log_level from env: %s", val)
	}

	// ENV_CAPTURE_{...}
	// These are specific to the snapshot.

	// ENV_CAPTURE_DEPTH
	if val, ok := os.LookupEnv("ENV_CAPTURE_DEPTH"); ok {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			cfg.Capture.Depth = n
			log.Debugf("Config: overriding capture.depth from env: %d", n)
		}
	}
	// ENV_STORAGE_PATH
	if val, ok := os.LookupEnv("ENV_STORAGE_PATH"); ok {
		cfg.Storage.Path = val
		log.Debugf("Config: overriding storage.path from env: %s", val)
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			log.Debugf("Config: overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		log.Debugf("Config: overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Debugf("Config: overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
