// Package wav provides wav file source and sink stages.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/radiopipe/radiopipe"
)

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")

type (
	// Source reads interleaved samples from a wav file. The node wrapping
	// it should be configured with the file's format before start.
	Source struct {
		path string

		sampleRate  int
		numChannels int
		bitDepth    radiopipe.BitDepth

		file    *os.File
		decoder *wav.Decoder
		ints    *audio.IntBuffer
		eof     bool
	}

	// Sink saves audio to a wav file. It keeps the stream configuration
	// untouched, so it can sit in the middle of a chain as a tap.
	Sink struct {
		path     string
		bitDepth radiopipe.BitDepth
		format   int

		file    *os.File
		encoder *wav.Encoder
		ints    *audio.IntBuffer
		err     error
	}
)

// NewSource probes the wav file and returns a new source stage with the
// file's properties set.
func NewSource(path string) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("wav is not valid: %v", path)
	}
	bitDepth := radiopipe.BitDepth(decoder.BitDepth)
	if bitDepth != radiopipe.BitDepth16 && bitDepth != radiopipe.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	return &Source{
		path:        path,
		sampleRate:  int(decoder.SampleRate),
		numChannels: decoder.Format().NumChannels,
		bitDepth:    bitDepth,
	}, nil
}

// SampleRate returns the file's sample rate.
func (s *Source) SampleRate() int {
	return s.sampleRate
}

// NumChannels returns the file's channel count.
func (s *Source) NumChannels() int {
	return s.numChannels
}

// Init opens the file for streaming and announces its format.
func (s *Source) Init(in radiopipe.Format) (radiopipe.Format, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return radiopipe.Format{}, err
	}
	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return radiopipe.Format{}, fmt.Errorf("wav is not valid: %v", s.path)
	}
	s.file = file
	s.decoder = decoder
	s.eof = false
	return radiopipe.Format{SampleRate: s.sampleRate, NumChannels: s.numChannels}, nil
}

// Deinit closes the file.
func (s *Source) Deinit() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
		s.decoder = nil
	}
}

// Process fills the output block from the file. A short final read is
// zero-padded; once the file is exhausted io.EOF is returned.
func (s *Source) Process(in, out radiopipe.Buffer) error {
	if s.eof {
		return io.EOF
	}
	if s.ints == nil || len(s.ints.Data) != len(out) {
		s.ints = &audio.IntBuffer{
			Format:         s.decoder.Format(),
			Data:           make([]int, len(out)),
			SourceBitDepth: int(s.bitDepth),
		}
	}
	read, err := s.decoder.PCMBuffer(s.ints)
	if err != nil {
		return err
	}
	if read == 0 {
		return io.EOF
	}
	copy(out, radiopipe.BufferFromInts(s.ints.Data[:read], s.bitDepth))
	for i := read; i < len(out); i++ {
		out[i] = 0
	}
	if read < len(out) {
		s.eof = true
	}
	return nil
}

// NewSink creates a new wav sink.
func NewSink(path string, bitDepth radiopipe.BitDepth) (*Sink, error) {
	if bitDepth != radiopipe.BitDepth16 && bitDepth != radiopipe.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	return &Sink{
		path:     path,
		bitDepth: bitDepth,
		format:   1,
	}, nil
}

// Init creates the file and the encoder for the bound configuration.
func (s *Sink) Init(in radiopipe.Format) (radiopipe.Format, error) {
	file, err := os.Create(s.path)
	if err != nil {
		return radiopipe.Format{}, err
	}
	s.file = file
	s.encoder = wav.NewEncoder(file, in.SampleRate, int(s.bitDepth), in.NumChannels, s.format)
	s.ints = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: in.NumChannels,
			SampleRate:  in.SampleRate,
		},
		SourceBitDepth: int(s.bitDepth),
	}
	s.err = nil
	return radiopipe.Format{}, nil
}

// Deinit flushes the encoder and closes the file. A failure is kept
// available through Err.
func (s *Sink) Deinit() {
	if s.encoder != nil {
		s.err = s.encoder.Close()
		s.encoder = nil
	}
	if s.file != nil {
		if err := s.file.Close(); s.err == nil {
			s.err = err
		}
		s.file = nil
	}
}

// Err returns the error of the last encoder flush, if any.
func (s *Sink) Err() error {
	return s.err
}

// Process encodes the block and passes it through unchanged.
func (s *Sink) Process(in, out radiopipe.Buffer) error {
	s.ints.Data = in.AsInts(s.bitDepth)
	if err := s.encoder.Write(s.ints); err != nil {
		return err
	}
	copy(out, in)
	return nil
}
