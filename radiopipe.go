// Package radiopipe provides shared types for the radiopipe processing
// graph: interleaved sample buffers, stream formats and bit depth
// conversions used by the pipe core and its stages.
package radiopipe

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"
)

// Buffer is a block of samples interleaved by channel. Its length is
// always a multiple of the stream's channel count.
type Buffer []float64

// Format describes a stream configuration at a single point of the graph.
type Format struct {
	SampleRate  int
	NumChannels int
}

const (
	// DefaultSampleRate is used for nodes until upstream pushes its own.
	DefaultSampleRate = 44100
	// DefaultNumChannels is used for nodes until upstream pushes its own.
	DefaultNumChannels = 2
)

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// BitDepth contains values required for int-to-float and backward conversion.
type BitDepth int

// divider is used when int to float conversion is done.
func (bitDepth BitDepth) divider() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() int {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8 - 1
	case BitDepth16:
		return math.MaxInt16 - 1
	case BitDepth32:
		return math.MaxInt32 - 1
	default:
		return 1
	}
}

// NewUID returns new unique id value.
func NewUID() string {
	return xid.New().String()
}

// NumFrames returns the number of frames held by the buffer for the
// provided channel count.
func (b Buffer) NumFrames(numChannels int) int {
	if numChannels == 0 {
		return 0
	}
	return len(b) / numChannels
}

// AsInts converts the buffer to interleaved ints of the provided bit depth.
func (b Buffer) AsInts(depth BitDepth) []int {
	multiplier := float64(depth.multiplier())
	ints := make([]int, len(b))
	for i := range b {
		ints[i] = int(b[i] * multiplier)
	}
	return ints
}

// BufferFromInts converts interleaved ints of the provided bit depth to a buffer.
func BufferFromInts(data []int, depth BitDepth) Buffer {
	divider := float64(depth.divider())
	b := make(Buffer, len(data))
	for i := range data {
		b[i] = float64(data[i]) / divider
	}
	return b
}

// DurationOf returns time duration of passed frames for this sample rate.
func DurationOf(sampleRate int, frames int64) time.Duration {
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

// String returns a human-readable stream configuration.
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.NumChannels)
}
