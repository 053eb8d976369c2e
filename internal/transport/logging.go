package transport

import (
	"sync/atomic"

	"dsoscope/internal/analysis"
	"dsoscope/internal/log"
)

// LoggingTransport implements the Transport interface by logging a summary
// of every message at debug level.
type LoggingTransport struct {
	sent atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	n := lt.sent.Add(1)
	switch v := data.(type) {
	case analysis.Frame:
		log.Debugf("Transport: frame %d, %d samples, %d traces x %d columns", v.Seq, v.Samples, len(v.Traces), v.Width)
	case []analysis.Measurement:
		for _, m := range v {
			log.Debugf("Transport: ch%d rms=%.2f mean=%.2f min=%d max=%d", m.Channel, m.RMS, m.Mean, m.Min, m.Max)
		}
	default:
		log.Debugf("Transport: message %d (%T)", n, data)
	}
	return nil // Logging transport never fails to "send"
}

// Sent returns the number of messages received so far.
func (lt *LoggingTransport) Sent() uint64 {
	return lt.sent.Load()
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	log.Debugf("Transport: LoggingTransport closed after %d messages", lt.sent.Load())
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
