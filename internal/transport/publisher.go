// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"sync"
	"time"

	"dsoscope/internal/log"
)

// FramePublisher periodically builds a frame and sends it to a Transport.
// It runs in a separate goroutine managed by Start and Stop methods.
type FramePublisher struct {
	source    FrameSource
	transport Transport
	interval  time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.
}

// NewFramePublisher creates a publisher. An interval <= 0 defaults to 33ms.
func NewFramePublisher(interval time.Duration, source FrameSource, t Transport) (*FramePublisher, error) {
	if source == nil {
		return nil, fmt.Errorf("FramePublisher: frame source cannot be nil")
	}
	if t == nil {
		return nil, fmt.Errorf("FramePublisher: transport cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		log.Warnf("FramePublisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &FramePublisher{source: source, transport: t, interval: interval}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a no-op.
func (p *FramePublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("FramePublisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker, doneChan := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Debugf("FramePublisher: started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine to exit and waits for it.
func (p *FramePublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	log.Debugf("FramePublisher: stopped")
	return nil
}

func (p *FramePublisher) publish() {
	frame, err := p.source.Build()
	if err != nil {
		// The snapshot was reconfigured between reads; the next tick catches up.
		log.Debugf("FramePublisher: skipping frame: %v", err)
		return
	}
	if err := p.transport.Send(frame); err != nil {
		log.Warnf("FramePublisher: send failed: %v", err)
	}
}

// Close stops the publisher.
func (p *FramePublisher) Close() error {
	return p.Stop()
}
