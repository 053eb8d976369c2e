package analysis

import "dsoscope/internal/log"

// Measurement is the per-channel readout of a snapshot. Channel is the
// position of the channel in the interleaved buffer.
type Measurement struct {
	Channel    int     `json:"channel"`
	RMS        float64 `json:"rms"`
	Mean       float64 `json:"mean"`
	Min        uint8   `json:"min"`
	Max        uint8   `json:"max"`
	PeakToPeak uint8   `json:"peak_to_peak"`
}

// Meter reads RMS, mean and extremes of every stored channel.
type Meter struct {
	src        SnapshotReader
	zeroOffset float64
}

// NewMeter returns a meter measuring RMS around zeroOffset.
func NewMeter(src SnapshotReader, zeroOffset float64) *Meter {
	return &Meter{src: src, zeroOffset: zeroOffset}
}

// Measure returns one measurement per channel position. Channels that
// cannot be read (the snapshot was reconfigured mid-call) are skipped.
func (m *Meter) Measure() []Measurement {
	size := m.src.Size()
	channels := m.src.ChannelCount()
	out := make([]Measurement, 0, channels)
	if size == 0 {
		return out
	}

	for ch := range channels {
		lo, hi, err := m.src.Extremes(ch)
		if err != nil {
			log.Debugf("Analysis: skipping channel %d: %v", ch, err)
			continue
		}
		out = append(out, Measurement{
			Channel:    ch,
			RMS:        m.src.RMS(m.zeroOffset, ch),
			Mean:       m.src.Mean(ch),
			Min:        lo,
			Max:        hi,
			PeakToPeak: hi - lo,
		})
	}
	return out
}
