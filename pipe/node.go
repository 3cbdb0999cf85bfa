package pipe

import (
	"github.com/sirupsen/logrus"

	"github.com/radiopipe/radiopipe"
	"github.com/radiopipe/radiopipe/metric"
)

// Node is a single stage of the graph. It owns the stage's output buffer,
// tracks the running state and keeps the ordered consumer list. Nodes are
// created and owned by a Graph; the zero value is not usable.
type Node struct {
	id    NodeID
	name  string
	kind  string
	stage Stage

	input         radiopipe.Format
	output        radiopipe.Format
	decimation    int
	interpolation int

	running   bool
	source    bool
	blockSize int

	consumers []NodeID
	buffer    radiopipe.Buffer

	totalNs  uint64
	totalIn  uint64
	totalOut uint64
	measure  metric.MeasureFunc

	log *logrus.Entry
}

// ID returns the node's handle within its graph.
func (n *Node) ID() NodeID {
	return n.id
}

// Name returns the node's name. Names are used for diagnostics only.
func (n *Node) Name() string {
	return n.name
}

// Type returns the node's stage type, derived from the stage value.
func (n *Node) Type() string {
	return n.kind
}

// String returns the type:name pair identifying the node in diagnostics.
func (n *Node) String() string {
	return n.kind + ":" + n.name
}

// IsRunning reports whether the node is between a successful start and
// the next stop.
func (n *Node) IsRunning() bool {
	return n.running
}

// Input returns the node's input configuration.
func (n *Node) Input() radiopipe.Format {
	return n.input
}

// Output returns the configuration the node produces. It is only
// meaningful while the node is running.
func (n *Node) Output() radiopipe.Format {
	return n.output
}

// Decimation returns the integer factor by which the node reduces the
// frame rate.
func (n *Node) Decimation() int {
	return n.decimation
}

// Interpolation returns the integer factor by which the node increases
// the frame rate.
func (n *Node) Interpolation() int {
	return n.interpolation
}

// Buffer returns the node's owned output buffer. The buffer is
// overwritten in place on every Run call and released on stop.
func (n *Node) Buffer() radiopipe.Buffer {
	return n.buffer
}

// Consumers returns the node's downstream handles in connection order,
// which is also the propagation order.
func (n *Node) Consumers() []NodeID {
	consumers := make([]NodeID, len(n.consumers))
	copy(consumers, n.consumers)
	return consumers
}

// SetSampleRate sets the node's input sample rate. It is silently ignored
// while the node is running: configuration is frozen once a node is active.
func (n *Node) SetSampleRate(rate int) {
	if n.running {
		return
	}
	n.log.WithField("rate", rate).Debug("setting input sample rate")
	n.input.SampleRate = rate
}

// SetChannels sets the node's input channel count. It is silently ignored
// while the node is running.
func (n *Node) SetChannels(numChannels int) {
	if n.running {
		return
	}
	n.log.WithField("channels", numChannels).Debug("setting input channel count")
	n.input.NumChannels = numChannels
}

// BlockSize returns the preferred frames per read of a source node. It is
// consulted by the capture loop feeding the node.
func (n *Node) BlockSize() int {
	return n.blockSize
}

// SetBlockSize sets the source's preferred frames per read. It is ignored
// for non-source nodes and while the node is running.
func (n *Node) SetBlockSize(size int) {
	if !n.source {
		n.log.Error("block size is only used by source nodes")
		return
	}
	if n.running {
		return
	}
	n.log.WithField("size", size).Debug("setting source block size")
	n.blockSize = size
}

// NsPerFrame returns the node's own average per-frame nanosecond cost,
// collected since the last start. It is zero unless the graph profiles.
func (n *Node) NsPerFrame() uint64 {
	if n.totalIn == 0 {
		return 0
	}
	return n.totalNs / n.totalIn
}

// FramesProcessed returns the cumulative input and output frame counts
// collected since the last start. They are zero unless the graph profiles.
func (n *Node) FramesProcessed() (in, out uint64) {
	return n.totalIn, n.totalOut
}
