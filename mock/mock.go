// Package mock provides mock stages to test graph topology, lifecycle
// and data propagation.
package mock

import (
	"io"

	"github.com/radiopipe/radiopipe"
)

// Stage mocks a pipe.Stage. The zero value is a passthrough stage keeping
// the stream configuration untouched.
type Stage struct {
	// Output overrides the configuration produced by the stage. Zero
	// fields keep the input values.
	Output radiopipe.Format

	// Fill makes Process write Value to the output instead of copying
	// input. Used for stages fed by a capture loop.
	Fill  bool
	Value float64
	// Limit bounds the total frames a filling stage produces, io.EOF is
	// returned afterwards. Zero means no limit.
	Limit int

	// Keep makes the stage accumulate every input block into Kept.
	Keep bool
	Kept radiopipe.Buffer

	ErrorOnInit    error
	ErrorOnProcess error

	InitCalls   int
	DeinitCalls int

	Counter

	format   radiopipe.Format
	produced int
}

// Counter collects what a stage has seen so far.
type Counter struct {
	Blocks int
	Frames int

	// LastIn and LastOut are the frame counts of the most recent call.
	LastIn  int
	LastOut int
	// LastChannels is the input channel count bound at Init.
	LastChannels int
}

// Init implements pipe.Stage.
func (m *Stage) Init(in radiopipe.Format) (radiopipe.Format, error) {
	m.InitCalls++
	if m.ErrorOnInit != nil {
		return radiopipe.Format{}, m.ErrorOnInit
	}
	m.format = in
	m.produced = 0
	m.LastChannels = in.NumChannels
	return m.Output, nil
}

// Deinit implements pipe.Stage.
func (m *Stage) Deinit() {
	m.DeinitCalls++
}

// Process implements pipe.Stage. Output frames are mapped onto input
// frames by stride, so the stage works for any integer rate relation.
func (m *Stage) Process(in, out radiopipe.Buffer) error {
	if m.ErrorOnProcess != nil {
		return m.ErrorOnProcess
	}

	inChannels := m.format.NumChannels
	outChannels := outputChannels(m.format, m.Output)
	inframes := in.NumFrames(inChannels)
	outframes := out.NumFrames(outChannels)

	if m.Fill {
		if m.Limit > 0 && m.produced >= m.Limit {
			return io.EOF
		}
		for i := range out {
			out[i] = m.Value
		}
		m.produced += outframes
	} else {
		for frame := 0; frame < outframes; frame++ {
			src := frame
			if outframes != 0 && inframes != outframes {
				src = frame * inframes / outframes
			}
			for ch := 0; ch < outChannels; ch++ {
				if ch < inChannels {
					out[frame*outChannels+ch] = in[src*inChannels+ch]
				} else {
					out[frame*outChannels+ch] = 0
				}
			}
		}
	}

	if m.Keep {
		m.Kept = append(m.Kept, in...)
	}

	m.Blocks++
	m.Frames += inframes
	m.LastIn = inframes
	m.LastOut = outframes
	return nil
}

func outputChannels(in, override radiopipe.Format) int {
	if override.NumChannels != 0 {
		return override.NumChannels
	}
	return in.NumChannels
}
