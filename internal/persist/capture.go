package persist

import (
	"dsoscope/internal/snapshot"

	"github.com/pkg/errors"
)

// Capture is a loaded capture: its metadata and the interleaved samples.
type Capture struct {
	Meta CaptureMeta
	data []byte
}

// Data returns the interleaved samples. The slice is owned by the capture.
func (c *Capture) Data() []byte {
	return c.data
}

// Restore sets s up as an ended append-growing capture holding the stored
// samples. The envelope is rebuilt if s has it enabled.
func (c *Capture) Restore(s *snapshot.ScopeSnapshot) error {
	chEnable := make(map[int]bool, len(c.Meta.Channels))
	for _, ordinal := range c.Meta.Channels {
		chEnable[ordinal] = true
	}
	p := snapshot.Payload{Data: c.data, NumSamples: c.Meta.Samples}
	if err := s.FirstPayload(p, max(c.Meta.TotalSamples, c.Meta.Samples), chEnable, true); err != nil {
		return errors.Wrapf(err, "restore capture %s", c.Meta.ID)
	}
	s.CaptureEnded()
	return nil
}
