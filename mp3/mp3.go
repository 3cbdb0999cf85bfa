// Package mp3 provides an mp3 file sink stage.
package mp3

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/viert/lame"

	"github.com/radiopipe/radiopipe"
)

// Sink encodes audio to an mp3 file. It keeps the stream configuration
// untouched.
type Sink struct {
	path    string
	bitRate int
	quality int

	file   *os.File
	writer *lame.LameWriter
	err    error
}

// NewSink creates a new mp3 sink.
func NewSink(path string, bitRate int, quality int) *Sink {
	return &Sink{
		path:    path,
		bitRate: bitRate,
		quality: quality,
	}
}

// Init creates the file and configures the encoder for the bound
// configuration.
func (s *Sink) Init(in radiopipe.Format) (radiopipe.Format, error) {
	file, err := os.Create(s.path)
	if err != nil {
		return radiopipe.Format{}, err
	}
	s.file = file
	s.writer = lame.NewWriter(file)
	s.writer.Encoder.SetBitrate(s.bitRate)
	s.writer.Encoder.SetQuality(s.quality)
	s.writer.Encoder.SetNumChannels(in.NumChannels)
	s.writer.Encoder.SetInSamplerate(in.SampleRate)
	s.writer.Encoder.SetMode(lame.JOINT_STEREO)
	s.writer.Encoder.SetVBR(lame.VBR_RH)
	s.writer.Encoder.InitParams()
	s.err = nil
	return radiopipe.Format{}, nil
}

// Deinit flushes the encoder and closes the file. A failure is kept
// available through Err.
func (s *Sink) Deinit() {
	if s.writer != nil {
		s.err = s.writer.Close()
		s.writer = nil
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
	buf := new(bytes.Buffer)
	for _, v := range in.AsInts(radiopipe.BitDepth16) {
		if err := binary.Write(buf, binary.LittleEndian, int16(v)); err != nil {
			return err
		}
	}
	if _, err := s.writer.Write(buf.Bytes()); err != nil {
		return err
	}
	copy(out, in)
	return nil
}
