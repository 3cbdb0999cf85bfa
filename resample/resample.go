// Package resample provides integer-factor rate conversion stages: a
// decimator averaging adjacent frames and a zero-order hold interpolator.
// Only exact integer factors are supported, matching the graph's rate
// relation contract.
package resample

import (
	"errors"
	"fmt"

	"github.com/radiopipe/radiopipe"
)

// ErrBadFactor is returned for factors smaller than one.
var ErrBadFactor = errors.New("factor must be a positive integer")

// ErrInexactRate is returned when decimation would produce a fractional
// sample rate.
var ErrInexactRate = errors.New("sample rate is not divisible by factor")

type (
	// Decimator reduces the frame rate by an integer factor, averaging
	// the frames it folds together.
	Decimator struct {
		factor      int
		numChannels int
	}

	// Interpolator increases the frame rate by an integer factor,
	// repeating each input frame.
	Interpolator struct {
		factor      int
		numChannels int
	}
)

// NewDecimator returns a stage decimating by factor.
func NewDecimator(factor int) *Decimator {
	return &Decimator{factor: factor}
}

// Init validates the factor against the bound input rate.
func (d *Decimator) Init(in radiopipe.Format) (radiopipe.Format, error) {
	if d.factor < 1 {
		return radiopipe.Format{}, fmt.Errorf("%w: %d", ErrBadFactor, d.factor)
	}
	if in.SampleRate%d.factor != 0 {
		return radiopipe.Format{}, fmt.Errorf("%w: %d/%d", ErrInexactRate, in.SampleRate, d.factor)
	}
	d.numChannels = in.NumChannels
	return radiopipe.Format{SampleRate: in.SampleRate / d.factor}, nil
}

// Deinit implements pipe.Stage.
func (d *Decimator) Deinit() {}

// Process fills every output frame with the average of factor input frames.
func (d *Decimator) Process(in, out radiopipe.Buffer) error {
	outframes := out.NumFrames(d.numChannels)
	for frame := 0; frame < outframes; frame++ {
		for ch := 0; ch < d.numChannels; ch++ {
			var sum float64
			for k := 0; k < d.factor; k++ {
				sum += in[(frame*d.factor+k)*d.numChannels+ch]
			}
			out[frame*d.numChannels+ch] = sum / float64(d.factor)
		}
	}
	return nil
}

// NewInterpolator returns a stage interpolating by factor.
func NewInterpolator(factor int) *Interpolator {
	return &Interpolator{factor: factor}
}

// Init validates the factor.
func (i *Interpolator) Init(in radiopipe.Format) (radiopipe.Format, error) {
	if i.factor < 1 {
		return radiopipe.Format{}, fmt.Errorf("%w: %d", ErrBadFactor, i.factor)
	}
	i.numChannels = in.NumChannels
	return radiopipe.Format{SampleRate: in.SampleRate * i.factor}, nil
}

// Deinit implements pipe.Stage.
func (i *Interpolator) Deinit() {}

// Process repeats every input frame factor times.
func (i *Interpolator) Process(in, out radiopipe.Buffer) error {
	outframes := out.NumFrames(i.numChannels)
	for frame := 0; frame < outframes; frame++ {
		src := frame / i.factor
		for ch := 0; ch < i.numChannels; ch++ {
			out[frame*i.numChannels+ch] = in[src*i.numChannels+ch]
		}
	}
	return nil
}
