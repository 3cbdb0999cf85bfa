// Package portaudio provides a playback sink stage using the default
// audio device.
package portaudio

import (
	"github.com/gordonklaus/portaudio"

	"github.com/radiopipe/radiopipe"
)

// Sink plays audio on the default device. It keeps the stream
// configuration untouched.
type Sink struct {
	format radiopipe.Format
	buf    []float32
	stream *portaudio.Stream
}

// NewSink returns a new playback sink.
func NewSink() *Sink {
	return &Sink{}
}

// Init initialises the portaudio api. The stream itself is opened on the
// first processed block, once the block size is known.
func (s *Sink) Init(in radiopipe.Format) (radiopipe.Format, error) {
	if err := portaudio.Initialize(); err != nil {
		return radiopipe.Format{}, err
	}
	s.format = in
	return radiopipe.Format{}, nil
}

// Deinit closes the stream and terminates the portaudio api.
func (s *Sink) Deinit() {
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}
	portaudio.Terminate()
}

// Process writes the block to the device and passes it through unchanged.
// The stream is reopened if the block size changes.
func (s *Sink) Process(in, out radiopipe.Buffer) error {
	if s.stream == nil || len(s.buf) != len(in) {
		if s.stream != nil {
			if err := s.stream.Stop(); err != nil {
				return err
			}
			if err := s.stream.Close(); err != nil {
				return err
			}
		}
		s.buf = make([]float32, len(in))
		frames := in.NumFrames(s.format.NumChannels)
		stream, err := portaudio.OpenDefaultStream(0, s.format.NumChannels, float64(s.format.SampleRate), frames, &s.buf)
		if err != nil {
			return err
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return err
		}
		s.stream = stream
	}
	for i := range in {
		s.buf[i] = float32(in[i])
	}
	if err := s.stream.Write(); err != nil {
		return err
	}
	copy(out, in)
	return nil
}
