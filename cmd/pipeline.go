// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dsoscope/internal/analysis"
	"dsoscope/internal/audio"
	"dsoscope/internal/config"
	"dsoscope/internal/log"
	"dsoscope/internal/metrics"
	"dsoscope/internal/persist"
	"dsoscope/internal/snapshot"
	"dsoscope/internal/transport"
	"dsoscope/internal/transport/udp"
	"dsoscope/internal/tui"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// acquireFunc feeds the engine until ctx is cancelled or the engine is done.
type acquireFunc func(ctx context.Context, engine *audio.Engine) error

// runFlags are shared by capture and simulate.
type runFlags struct {
	monitor bool
	save    bool
	label   string
}

// pipeline wires one capture: engine -> snapshot -> meter/frames -> publishers.
type pipeline struct {
	cfg    *config.Config
	budget *snapshot.Budget
	snap   *snapshot.ScopeSnapshot
	engine *audio.Engine
	meter  *analysis.Meter

	closers []io.Closer
}

func newPipeline(cfg *config.Config) *pipeline {
	budget := snapshot.NewBudget(cfg.Capture.MemoryLimit)
	snap := snapshot.NewScopeSnapshot(budget)
	snap.EnableEnvelope(cfg.Capture.Envelope)
	return &pipeline{
		cfg:    cfg,
		budget: budget,
		snap:   snap,
		engine: audio.NewEngine(cfg, snap, budget),
		meter:  analysis.NewMeter(snap, cfg.Analysis.ZeroOffset),
	}
}

// startPublishers starts the renderer and measurement fan-out configured in
// the transport section.
func (p *pipeline) startPublishers() error {
	t := p.cfg.Transport

	frames := analysis.NewFrameBuilder(p.snap, t.FrameWidth)
	window, err := analysis.ParseWindowFunc(p.cfg.Analysis.FFTWindow)
	if err != nil {
		log.Warnf("Pipeline: %v, using Hann", err)
	}
	spectrum, err := analysis.NewSpectrumProcessor(p.cfg.Analysis.FFTSize, p.cfg.Audio.SampleRate, window)
	if err != nil {
		return err
	}
	frames.WithSpectrum(spectrum, 0)

	var sink transport.Transport
	if t.WebSocketAddr != "" {
		wst := transport.NewWebSocketTransport(t.WebSocketAddr)
		wst.Handle("/metrics", metrics.Handler())
		sink = wst
	} else {
		sink = transport.NewLoggingTransport()
	}
	p.closers = append(p.closers, sink)

	fp, err := transport.NewFramePublisher(t.FrameInterval, frames, sink)
	if err != nil {
		return err
	}
	fp.Start()
	p.closers = append(p.closers, fp)

	if t.UDPEnabled {
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, sender)
		up, err := udp.NewUDPPublisher(t.UDPSendInterval, sender, p.meter)
		if err != nil {
			return err
		}
		up.Start()
		p.closers = append(p.closers, up)
	}
	return nil
}

// close shuts publishers down in reverse start order.
func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			log.Warnf("Pipeline: close: %v", err)
		}
	}
	p.closers = nil
}

// run acquires until a signal, a full append-growing capture or, with the
// monitor on, until the user quits it.
func (p *pipeline) run(ctx context.Context, acquire acquireFunc, flags runFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := p.startPublishers(); err != nil {
		p.close()
		return err
	}
	defer p.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := acquire(gctx, p.engine)
		if !flags.monitor {
			cancel()
		}
		return err
	})
	if flags.monitor {
		g.Go(func() error {
			defer cancel()
			return tui.RunMonitor(p.snap, p.meter, p.cfg.Transport.FrameInterval, gctx.Done())
		})
	}
	return g.Wait()
}

// deviceAcquire captures from the configured PortAudio device.
func deviceAcquire(ctx context.Context, engine *audio.Engine) error {
	if err := engine.StartInputStream(); err != nil {
		return errors.Wrap(err, "start input stream")
	}
	select {
	case <-ctx.Done():
	case <-engine.Done():
	}
	if err := engine.Close(); err != nil {
		return errors.Wrap(err, "close input stream")
	}
	return engine.Err()
}

// generatorAcquire drives the engine from the synthetic generator.
func generatorAcquire(cfg *config.Config) acquireFunc {
	return func(ctx context.Context, engine *audio.Engine) error {
		gen := audio.NewGenerator(cfg.Audio.SampleRate, cfg.Audio.InputChannels, cfg.Audio.FramesPerBuffer)
		err := gen.Run(ctx, engine.Deliver, engine.Done())
		if cerr := engine.Close(); err == nil || errors.Is(err, context.Canceled) {
			err = cerr
		}
		if err == nil {
			err = engine.Err()
		}
		return err
	}
}

// report prints the final measurements and, if asked, saves the capture.
func (p *pipeline) report(w io.Writer, flags runFlags) error {
	fmt.Fprintf(w, "captured %d samples x %d channels\n", p.snap.Size(), p.snap.ChannelCount())
	for _, m := range p.meter.Measure() {
		fmt.Fprintf(w, "ch%d rms=%.2f mean=%.2f min=%d max=%d p-p=%d\n",
			m.Channel, m.RMS, m.Mean, m.Min, m.Max, m.PeakToPeak)
	}
	if !flags.save {
		return nil
	}

	store, err := persist.Open(p.cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	label := flags.label
	if label == "" {
		label = time.Now().Format("capture 2006-01-02 15:04:05")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	meta, err := store.Save(ctx, p.snap, label, persist.WithSampleRate(p.cfg.Audio.SampleRate))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "saved %s (%s)\n", meta.ID, meta.Label)
	return nil
}
