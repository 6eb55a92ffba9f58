package audio

import (
	"encoding/binary"
	"math"
)

// FullScale is the magnitude used to normalize 16-bit samples into [0, 1].
const FullScale = 32768.0

// Samples decodes a PCM16 little-endian frame. A trailing odd byte is a
// partial sample and is dropped.
func Samples(frame []byte) []int16 {
	samples := make([]int16, len(frame)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
	}
	return samples
}

// RMS returns the normalized root-mean-square amplitude of a PCM16 frame.
// Frames with no complete sample report 0.
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / FullScale
}

// Upsample8kTo16k doubles the sample rate of a PCM16 frame using linear
// interpolation between neighbouring samples.
func Upsample8kTo16k(frame []byte) []byte {
	samples := Samples(frame)
	if len(samples) == 0 {
		return nil
	}

	upsampled := make([]int16, len(samples)*2)
	for i := 0; i < len(samples)-1; i++ {
		upsampled[i*2] = samples[i]
		upsampled[i*2+1] = int16((int32(samples[i]) + int32(samples[i+1])) / 2)
	}
	last := samples[len(samples)-1]
	upsampled[len(upsampled)-2] = last
	upsampled[len(upsampled)-1] = last

	output := make([]byte, len(upsampled)*2)
	for i, sample := range upsampled {
		binary.LittleEndian.PutUint16(output[i*2:i*2+2], uint16(sample))
	}
	return output
}
