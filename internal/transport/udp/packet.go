// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"dsoscope/internal/analysis"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Channel Count     | uint16         | 2            | Number of entries (N)   |
| Entries           | []entry        | N * 12       | Per-channel readout     |
+-----------------------------------------------------------------------------+

Entry:

|<- 2 Bytes ->|<-- 4 Bytes -->|<-- 4 Bytes -->|<- 1 ->|<- 1 ->|
+-------------+---------------+---------------+-------+-------+
|   Channel   |      RMS      |     Mean      |  Min  |  Max  |
|   (uint16)  |   (float32)   |   (float32)   | (u8)  | (u8)  |
+-------------+---------------+---------------+-------+-------+
*/

const (
	headerSize = 4 + 8 + 2
	entrySize  = 2 + 4 + 4 + 1 + 1
)

var errShortPacket = errors.New("udp: short packet")

type header struct {
	Seq       uint32
	Timestamp int64
	Count     uint16
}

type entry struct {
	Channel uint16
	RMS     float32
	Mean    float32
	Min     uint8
	Max     uint8
}

// Packet is a decoded measurement packet.
type Packet struct {
	Seq          uint32
	Timestamp    int64
	Measurements []analysis.Measurement
}

// writePacket encodes ms into buf, truncating to the uint16 count limit.
func writePacket(buf *bytes.Buffer, seq uint32, timestamp int64, ms []analysis.Measurement) error {
	if len(ms) > math.MaxUint16 {
		ms = ms[:math.MaxUint16]
	}
	err := binary.Write(buf, binary.BigEndian, header{Seq: seq, Timestamp: timestamp, Count: uint16(len(ms))})
	for _, m := range ms {
		if err != nil {
			break
		}
		err = binary.Write(buf, binary.BigEndian, entry{
			Channel: uint16(m.Channel),
			RMS:     float32(m.RMS),
			Mean:    float32(m.Mean),
			Min:     m.Min,
			Max:     m.Max,
		})
	}
	return err
}

// DecodePacket parses a measurement packet.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < headerSize {
		return Packet{}, errShortPacket
	}
	r := bytes.NewReader(b)
	var h header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return Packet{}, err
	}
	if want := headerSize + int(h.Count)*entrySize; len(b) < want {
		return Packet{}, fmt.Errorf("%w: %d bytes for %d entries", errShortPacket, len(b), h.Count)
	}

	p := Packet{Seq: h.Seq, Timestamp: h.Timestamp, Measurements: make([]analysis.Measurement, h.Count)}
	for i := range p.Measurements {
		var e entry
		if err := binary.Read(r, binary.BigEndian, &e); err != nil {
			return Packet{}, err
		}
		p.Measurements[i] = analysis.Measurement{
			Channel:    int(e.Channel),
			RMS:        float64(e.RMS),
			Mean:       float64(e.Mean),
			Min:        e.Min,
			Max:        e.Max,
			PeakToPeak: e.Max - e.Min,
		}
	}
	return p, nil
}
