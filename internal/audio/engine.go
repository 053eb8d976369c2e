// SPDX-License-Identifier: MIT
/*
Package audio acquires multi-channel signals and feeds them into a sample
snapshot:
- PortAudio capture, one payload per stream callback
- Quantization of signed 32-bit frames to unsigned 8-bit samples
- Trigger gate with branchless peak detection
- Synthetic generator for hardware-free runs
- 8-bit WAV export of a stored capture

Thread Safety:
- Deliver is called from a single producer (the PortAudio callback or the
  generator goroutine) and uses pre-allocated buffers only
- Gate settings are plain fields, change them before the stream starts
- Done and Err may be used from any goroutine
*/
package audio

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"dsoscope/internal/config"
	"dsoscope/internal/log"
	"dsoscope/internal/metrics"
	"dsoscope/internal/snapshot"

	"github.com/gordonklaus/portaudio"
)

// Sink receives quantized payloads. *snapshot.ScopeSnapshot implements it.
type Sink interface {
	FirstPayload(p snapshot.Payload, totalSampleCount uint64, chEnable map[int]bool, instant bool) error
	AppendPayload(p snapshot.Payload)
	Size() uint64
	TotalSampleCount() uint64
	CaptureEnded()
	LastEnded() bool
}

// MemoryGauge reports bytes reserved by the sink. *snapshot.Budget implements it.
type MemoryGauge interface {
	InUse() uint64
}

type Engine struct {
	// Core configuration and state.
	config    *config.Config
	sink      Sink
	memory    MemoryGauge
	chEnable  map[int]bool
	positions []int // input channels stored, ascending

	// Audio input handling.
	inputBuffer  []int32
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Quantized payload, len(positions) bytes per frame.
	quantized []byte

	// Trigger gate for signal conditioning.
	gateEnabled   bool
	gateThreshold int32 // Absolute amplitude threshold (0-2147483647)

	started  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// NewEngine builds an engine delivering into sink. memory may be nil.
// No device is opened until StartInputStream.
func NewEngine(cfg *config.Config, sink Sink, memory MemoryGauge) *Engine {
	positions := cfg.ChannelPositions()
	frameSize := cfg.Audio.FramesPerBuffer * cfg.Audio.InputChannels

	e := &Engine{
		config:      cfg,
		sink:        sink,
		memory:      memory,
		chEnable:    cfg.EnabledChannelMap(),
		positions:   positions,
		inputBuffer: make([]int32, frameSize),
		quantized:   make([]byte, cfg.Audio.FramesPerBuffer*len(positions)),
		done:        make(chan struct{}),
	}
	if cfg.Capture.GateThreshold > 0 {
		e.SetGateThreshold(cfg.Capture.GateThreshold)
		e.EnableGate()
	}
	return e
}

// Done is closed when an append-growing capture has filled the snapshot or
// the snapshot could not be set up.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the setup error that closed Done, if any.
func (e *Engine) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

func (e *Engine) finish(err error) {
	e.doneOnce.Do(func() {
		e.err = err
		close(e.done)
	})
}

func (e *Engine) StartInputStream() error {
	inputDevice, err := InputDevice(e.config.Audio.InputDevice)
	if err != nil {
		return err
	}
	e.inputDevice = inputDevice
	if e.config.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.Audio.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.config.Audio.FramesPerBuffer,
		SampleRate:      e.config.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		return err
	}

	log.Infof("Engine: capturing from %q, %d channels at %.0f Hz",
		inputDevice.Name, e.config.Audio.InputChannels, e.config.Audio.SampleRate)
	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// Close stops the input stream and marks the capture ended. Frames
// delivered afterwards are dropped.
func (e *Engine) Close() error {
	if err := e.StopInputStream(); err != nil {
		return err
	}
	if e.started.Load() {
		e.sink.CaptureEnded()
	}
	e.finish(nil)
	return nil
}

// processInputStream is the PortAudio callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
func (e *Engine) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	n := copy(e.inputBuffer, in)
	e.Deliver(e.inputBuffer[:n])
}

// Deliver quantizes one interleaved frame buffer and hands it to the sink.
// The first delivered frame sets the snapshot up; later frames are appended.
// A sink that ended without the engine ending it was cleared, and the next
// frame sets it up again.
func (e *Engine) Deliver(frame []int32) {
	select {
	case <-e.done:
		metrics.FrameDropped()
		return
	default:
	}

	if e.started.Load() && e.sink.LastEnded() {
		e.started.Store(false)
		log.Infof("Engine: snapshot cleared, restarting capture")
	}

	if !e.gateOpen(frame) {
		metrics.FrameDropped()
		return
	}

	start := time.Now()
	n := Quantize(frame, e.quantized, e.config.Audio.InputChannels, e.positions)
	p := snapshot.Payload{
		Data:       e.quantized[:n*len(e.positions)],
		NumSamples: uint64(n),
	}

	if e.started.Load() {
		e.sink.AppendPayload(p)
	} else {
		err := e.sink.FirstPayload(p, e.config.Capture.Depth, e.chEnable, e.config.Capture.Instant)
		if err != nil {
			metrics.SetupFailed()
			log.Errorf("Engine: snapshot setup failed: %v", err)
			e.finish(err)
			return
		}
		e.started.Store(true)
	}

	size := e.sink.Size()
	metrics.PayloadDelivered(n, start)
	if e.memory != nil {
		metrics.ObserveSnapshot(size, e.memory.InUse())
	}

	if e.config.Capture.Instant && size >= e.sink.TotalSampleCount() {
		e.sink.CaptureEnded()
		log.Infof("Engine: snapshot full at %d samples", size)
		e.finish(nil)
	}
}

// Quantize keeps the input channels listed in positions and maps each
// signed 32-bit sample to an unsigned byte centred on 128. It returns the
// number of frames written to out.
func Quantize(in []int32, out []byte, channels int, positions []int) int {
	if channels <= 0 || len(positions) == 0 {
		return 0
	}
	frames := min(len(in)/channels, len(out)/len(positions))
	o := 0
	for f := range frames {
		base := f * channels
		for _, ch := range positions {
			out[o] = uint8(in[base+ch]>>24) ^ 0x80
			o++
		}
	}
	return frames
}
