// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"strconv"

	"dsoscope/pkg/utils"
)

const (
	testSampleRate = 44100
	testFrameSize  = 512
)

var (
	testBuffer  = utils.GenerateComplexWave(testFrameSize, testSampleRate)
	quietBuffer = scaled(utils.GenerateSineWave(testFrameSize, testSampleRate, 440), 0.001)
	loudBuffer  = utils.GenerateSineWave(testFrameSize, testSampleRate, 440)

	lowThreshold  = int32(math.MaxInt32 / 1000)
	highThreshold = int32(math.MaxInt32 / 10 * 9)
)

func scaled(in []int32, gain float64) []int32 {
	out := make([]int32, len(in))
	for i, s := range in {
		out[i] = int32(float64(s) * gain)
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

func absFloat(f float64) float64 {
	return math.Abs(f)
}
