// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"

	"dsoscope/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// exportChunk is the number of frames converted per encoder write.
const exportChunk = 4096

// ChannelReader is the part of a snapshot ExportWAV reads.
type ChannelReader interface {
	Size() uint64
	ChannelCount() int
	CopyWindow(start, end uint64, channel int, dst []byte) ([]byte, error)
}

// ExportWAV writes every stored channel of src to path as interleaved
// unsigned 8-bit PCM.
func ExportWAV(src ChannelReader, path string, sampleRate int) (err error) {
	size := src.Size()
	channels := src.ChannelCount()
	if size == 0 || channels == 0 {
		return fmt.Errorf("export %s: snapshot is empty", path)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	enc := wav.NewEncoder(file, sampleRate, 8, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: 8,
		Data:           make([]int, exportChunk*channels),
	}
	samples := make([]byte, 0, exportChunk)

	for start := uint64(0); start < size; start += exportChunk {
		end := min(start+exportChunk, size) - 1
		frames := int(end - start + 1)
		buf.Data = buf.Data[:frames*channels]
		for c := range channels {
			samples, err = src.CopyWindow(start, end, c, samples[:0])
			if err != nil {
				return fmt.Errorf("export %s: %w", path, err)
			}
			if len(samples) != frames {
				return fmt.Errorf("export %s: snapshot shrank to %d samples", path, start+uint64(len(samples)))
			}
			for i, v := range samples {
				buf.Data[i*channels+c] = int(v)
			}
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("export %s: %w", path, err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	log.Infof("Export: wrote %d samples x %d channels to %s", size, channels, path)
	return nil
}
