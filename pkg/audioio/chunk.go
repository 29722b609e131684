package audioio

import (
	"encoding/binary"
	"math"
)

// Chunk is one capture buffer of interleaved signed 16-bit samples.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// decodeChunk parses little-endian S16 frames as produced by arecord.
// A trailing odd byte is ignored.
func decodeChunk(raw []byte, sampleRate, channels int) Chunk {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return Chunk{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

// Seconds is the playback length of the chunk.
func (c Chunk) Seconds() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return float64(frames) / float64(c.SampleRate)
}

// Level is the RMS of the chunk scaled to [0, 1]. Both VADs and the
// energy endpointing of the recorder compare against it.
func (c Chunk) Level() float64 {
	return Level(c.Samples)
}

// Mono downmixes a multi-channel chunk. Mono chunks are returned as is.
func (c Chunk) Mono() Chunk {
	if c.Channels <= 1 {
		return c
	}
	return Chunk{
		Samples:    Downmix(c.Samples, c.Channels),
		SampleRate: c.SampleRate,
		Channels:   1,
	}
}

// Level returns the RMS of samples scaled to [0, 1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(samples))) / math.MaxInt16
}

// Downmix averages interleaved frames of the given channel count into a
// single channel. An incomplete last frame is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var acc int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			acc += int32(s)
		}
		out[i] = int16(acc / int32(channels))
	}
	return out
}

// Resample converts mono audio between rates by linear interpolation,
// which is adequate for speech headed to the recognizer.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		a, b := float64(samples[j]), float64(samples[j+1])
		out[i] = int16(math.Round(a + (b-a)*(pos-float64(j))))
	}
	return out
}
