// Command radiopipe streams a wav file through a processing chain:
// optional integer decimation, then wav and/or mp3 encoding.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/radiopipe/radiopipe"
	"github.com/radiopipe/radiopipe/log"
	"github.com/radiopipe/radiopipe/mp3"
	"github.com/radiopipe/radiopipe/pipe"
	"github.com/radiopipe/radiopipe/portaudio"
	"github.com/radiopipe/radiopipe/resample"
	"github.com/radiopipe/radiopipe/run"
	"github.com/radiopipe/radiopipe/wav"
)

func main() {
	var (
		output    = flag.String("o", "out.wav", "output wav file")
		mp3Out    = flag.String("mp3", "", "also encode to this mp3 file")
		play      = flag.Bool("play", false, "also play on the default device")
		decimate  = flag.Int("decimate", 1, "integer decimation factor")
		blockSize = flag.Int("block", pipe.DefaultBlockSize, "frames per read")
		profile   = flag.Bool("profile", false, "print per-node cost on exit")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] input.wav\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := log.GetLogger()

	source, err := wav.NewSource(flag.Arg(0))
	if err != nil {
		logger.Fatal(err)
	}
	sink, err := wav.NewSink(*output, radiopipe.BitDepth16)
	if err != nil {
		logger.Fatal(err)
	}

	options := []pipe.Option{pipe.WithLogger(logger)}
	if *profile {
		options = append(options, pipe.WithProfiling())
	}
	g := pipe.New(options...)

	src := g.AddSource(source, "input")
	g.Node(src).SetSampleRate(source.SampleRate())
	g.Node(src).SetChannels(source.NumChannels())
	g.Node(src).SetBlockSize(*blockSize)

	head := src
	if *decimate > 1 {
		dec := g.Add(resample.NewDecimator(*decimate), "decimator")
		if err := g.Connect(head, dec); err != nil {
			logger.Fatal(err)
		}
		head = dec
	}
	out := g.Add(sink, "output")
	if err := g.Connect(head, out); err != nil {
		logger.Fatal(err)
	}
	var mp3Sink *mp3.Sink
	if *mp3Out != "" {
		mp3Sink = mp3.NewSink(*mp3Out, 192, 2)
		if err := g.Connect(head, g.Add(mp3Sink, "mp3")); err != nil {
			logger.Fatal(err)
		}
	}
	if *play {
		if err := g.Connect(head, g.Add(portaudio.NewSink(), "playback")); err != nil {
			logger.Fatal(err)
		}
	}

	if err := run.Run(context.Background(), g, src); err != nil {
		logger.Fatal(err)
	}
	if err := sink.Err(); err != nil {
		logger.Fatal(err)
	}
	if mp3Sink != nil {
		if err := mp3Sink.Err(); err != nil {
			logger.Fatal(err)
		}
	}

	if *profile {
		fmt.Printf("pipeline cost: %d ns/frame\n", g.NsPerFrameAll(src))
	}
}
