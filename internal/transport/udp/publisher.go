// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"dsoscope/internal/analysis"
	applog "dsoscope/internal/log"
)

// MeasurementSource provides per-channel readouts. *analysis.Meter implements it.
type MeasurementSource interface {
	Measure() []analysis.Measurement
}

// UDPPublisher periodically fetches channel measurements, packs them into
// the binary packet format and sends them over UDP using a UDPSender.
// It runs in a separate goroutine managed by Start and Stop methods.
type UDPPublisher struct {
	sender   *UDPSender        // The underlying UDP sender instance.
	source   MeasurementSource // Where measurements come from.
	interval time.Duration     // The interval at which packets are sent.

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	sequenceNum uint32 // Monotonically increasing sequence number for packets.

	packetBuffer *bytes.Buffer // Reusable buffer for constructing the binary packet.
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source MeasurementSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: measurement source cannot be nil")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s)", interval)

	return &UDPPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Capture local variables for the goroutine to avoid data races on p.ticker/p.doneChan
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				applog.Debugf("UDPPublisher: Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop gracefully signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		applog.Debugf("UDPPublisher: Stop called but not running.")
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("UDPPublisher: Publisher goroutine finished.")
	return nil
}

// buildAndSendPacket is executed on each ticker interval. An empty snapshot
// still produces a packet with a zero count so receivers see the sequence move.
func (p *UDPPublisher) buildAndSendPacket() {
	ms := p.source.Measure()

	p.sequenceNum++
	p.packetBuffer.Reset()
	if err := writePacket(p.packetBuffer, p.sequenceNum, time.Now().UnixNano(), ms); err != nil {
		applog.Errorf("UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}

	packetBytes := p.packetBuffer.Bytes()
	if err := p.sender.Send(packetBytes); err == nil {
		applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packetBytes))
	}
}

// Close implements the io.Closer interface. It gracefully stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
