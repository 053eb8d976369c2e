/*
Package transport fans snapshot pictures and measurements out to renderers:
- WebSocket broadcast of JSON frames on /scope, sharing its mux with /metrics
- Periodic frame publishing from a FrameSource
- Binary UDP measurement packets (package udp)
- A logging sink for headless debugging
*/
package transport

import (
	"errors"

	"dsoscope/internal/analysis"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// FrameSource produces renderer frames. *analysis.FrameBuilder implements it.
type FrameSource interface {
	Build() (analysis.Frame, error)
}

var _ FrameSource = (*analysis.FrameBuilder)(nil)
