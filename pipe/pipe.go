// Package pipe implements the processing graph at the core of radiopipe.
//
// A graph owns a set of nodes. Every node wraps a Stage, owns its output
// buffer and keeps an ordered list of downstream consumers. Starting a
// node cascades its output configuration downstream and starts the whole
// subtree; running a node processes one block of samples and pushes the
// result to every consumer, depth-first, on the calling goroutine.
package pipe

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radiopipe/radiopipe"
	"github.com/radiopipe/radiopipe/log"
	"github.com/radiopipe/radiopipe/metric"
)

// Stage is the contract every concrete processing stage implements.
//
// Init binds the stage to its input configuration and returns the
// configuration the stage is going to produce. Zero-valued fields of the
// returned format default to the input values, so stages that keep the
// stream untouched may return the zero Format.
//
// Process transforms one block of interleaved samples into the output
// block whose size has already been computed by the node. Stages fed by a
// capture loop should return io.EOF once their input is exhausted.
//
// Deinit releases resources acquired by Init and must be safe to call
// even if Init partially failed.
type Stage interface {
	Init(in radiopipe.Format) (radiopipe.Format, error)
	Deinit()
	Process(in, out radiopipe.Buffer) error
}

// NodeID is a stable handle of a node within its graph.
type NodeID string

// DefaultBlockSize is the preferred frames per read of a new source node.
const DefaultBlockSize = 512

// ErrUnknownNode is returned when a node handle is not registered in the graph.
var ErrUnknownNode = errors.New("unknown node")

// ErrNotRunning is returned if a node is run before it was started.
var ErrNotRunning = errors.New("node is not running")

// ErrRateRelation is returned if input and output sample rates have no
// exact integer ratio.
var ErrRateRelation = errors.New("sample rates must be integer related")

// ErrInvalidFormat is returned if a node is started with a non-positive
// sample rate or channel count.
var ErrInvalidFormat = errors.New("invalid stream format")

// Graph owns all nodes of a processing topology. Edges are expressed as
// node handles and validated when connected, so a removed node can never
// leave a dangling reference behind.
//
// A graph is driven by a single goroutine: Start, Stop and Run are plain
// blocking calls that recurse over the consumer lists.
type Graph struct {
	nodes   map[NodeID]*Node
	log     *logrus.Logger
	profile bool
}

// Option provides a way to set functional parameters to a graph.
type Option func(g *Graph)

// New creates a new empty graph and applies provided options.
func New(options ...Option) *Graph {
	g := &Graph{
		nodes: make(map[NodeID]*Node),
		log:   log.GetLogger(),
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// WithLogger sets logger to the graph. If this option is not provided,
// the default logger is used.
func WithLogger(l *logrus.Logger) Option {
	return func(g *Graph) {
		g.log = l
	}
}

// WithProfiling enables per-node timing counters and expvar metrics.
func WithProfiling() Option {
	return func(g *Graph) {
		g.profile = true
	}
}

// Add registers a new node wrapping the provided stage and returns its handle.
func (g *Graph) Add(stage Stage, name string) NodeID {
	return g.add(stage, name, false)
}

// AddSource registers a new source node. Source nodes have no upstream:
// an external capture loop feeds them BlockSize frames per Run call.
func (g *Graph) AddSource(stage Stage, name string) NodeID {
	return g.add(stage, name, true)
}

func (g *Graph) add(stage Stage, name string, source bool) NodeID {
	id := NodeID(radiopipe.NewUID())
	n := &Node{
		id:    id,
		name:  name,
		kind:  stageType(stage),
		stage: stage,
		input: radiopipe.Format{
			SampleRate:  radiopipe.DefaultSampleRate,
			NumChannels: radiopipe.DefaultNumChannels,
		},
		decimation:    1,
		interpolation: 1,
		source:        source,
	}
	if source {
		n.blockSize = DefaultBlockSize
	}
	n.log = g.log.WithField("node", n.String())
	g.nodes[id] = n
	n.log.Debug("added to graph")
	return id
}

// Node returns the node registered under id, or nil for unknown handles.
func (g *Graph) Node(id NodeID) *Node {
	return g.nodes[id]
}

func (g *Graph) node(id NodeID) (*Node, error) {
	if n, ok := g.nodes[id]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownNode, id)
}

// Connect appends the target node to the consumer list of from. Connecting
// the same pair twice is a no-op. If from is currently running, the target
// adopts its output configuration and is started immediately.
func (g *Graph) Connect(from, to NodeID) error {
	src, err := g.node(from)
	if err != nil {
		return err
	}
	dst, err := g.node(to)
	if err != nil {
		return err
	}
	for _, c := range src.consumers {
		if c == to {
			src.log.WithField("consumer", dst.String()).Error("already connected")
			return nil
		}
	}
	if src.running {
		dst.SetSampleRate(src.output.SampleRate)
		dst.SetChannels(src.output.NumChannels)
		if err := g.start(dst); err != nil {
			return err
		}
	}
	src.consumers = append(src.consumers, to)
	src.log.WithField("consumer", dst.String()).Debug("connected")
	return nil
}

// Disconnect removes every occurrence of the target from the consumer
// list of from. If from is currently running, the target subtree is
// stopped first. Disconnecting an absent target is a no-op.
func (g *Graph) Disconnect(from, to NodeID) error {
	src, err := g.node(from)
	if err != nil {
		return err
	}
	dst, err := g.node(to)
	if err != nil {
		return err
	}
	if src.running {
		g.stop(dst)
	}
	consumers := src.consumers[:0]
	for _, c := range src.consumers {
		if c != to {
			consumers = append(consumers, c)
		}
	}
	src.consumers = consumers
	src.log.WithField("consumer", dst.String()).Debug("disconnected")
	return nil
}

// Start initialises the node and cascades its output configuration to the
// whole downstream subtree, starting every consumer in connection order.
// If anything downstream fails, the subtree is fully stopped before the
// error is returned: a half-started pipeline is never left standing.
func (g *Graph) Start(id NodeID) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	return g.start(n)
}

func (g *Graph) start(n *Node) error {
	// Defaults, primarily for sinks to avoid breaking buffer calcs.
	n.output = n.input

	n.log.Debug("starting")
	out, err := n.stage.Init(n.input)
	if err != nil {
		n.log.WithError(err).Error("failed to initialise")
		return fmt.Errorf("init %v: %w", n, err)
	}
	if out.SampleRate != 0 {
		n.output.SampleRate = out.SampleRate
	}
	if out.NumChannels != 0 {
		n.output.NumChannels = out.NumChannels
	}
	if n.input.SampleRate <= 0 || n.input.NumChannels <= 0 ||
		n.output.SampleRate <= 0 || n.output.NumChannels <= 0 {
		n.log.WithFields(logrus.Fields{"input": n.input, "output": n.output}).Error("invalid stream format")
		n.stage.Deinit()
		return fmt.Errorf("start %v: %w", n, ErrInvalidFormat)
	}

	// Validate the new sample rate and derive the conversion ratio. Only
	// exact integer ratios are supported, so the division is validated by
	// reconstruction instead of being reduced.
	if n.input.SampleRate >= n.output.SampleRate {
		n.decimation = n.input.SampleRate / n.output.SampleRate
		n.interpolation = 1
	} else {
		n.decimation = 1
		n.interpolation = n.output.SampleRate / n.input.SampleRate
	}
	if n.input.SampleRate*n.interpolation/n.decimation != n.output.SampleRate {
		n.log.WithFields(logrus.Fields{"input": n.input, "output": n.output}).Error("sample rates must be integer related")
		n.stage.Deinit()
		return fmt.Errorf("start %v: %w", n, ErrRateRelation)
	}

	if g.profile {
		n.totalNs, n.totalIn, n.totalOut = 0, 0, 0
		n.measure = metric.Meter(n.stage, n.output.SampleRate)()
	}
	n.running = true

	// Configure and start downstream.
	for _, c := range n.consumers {
		consumer := g.nodes[c]
		consumer.SetSampleRate(n.output.SampleRate)
		consumer.SetChannels(n.output.NumChannels)
		if err := g.start(consumer); err != nil {
			n.log.Error("downstream failed to start - aborting pipeline")
			g.stop(n)
			return err
		}
	}
	return nil
}

// Stop tears the node's subtree down, consumers first, and releases the
// node's buffer. It never fails and is safe to call repeatedly.
func (g *Graph) Stop(id NodeID) {
	n, ok := g.nodes[id]
	if !ok {
		g.log.WithField("node", id).Error("unknown node")
		return
	}
	g.stop(n)
}

func (g *Graph) stop(n *Node) {
	// Stop downstream first.
	for _, c := range n.consumers {
		g.stop(g.nodes[c])
	}
	if n.running {
		n.log.Debug("stopping")
		n.running = false
		n.stage.Deinit()
	}
	// Release the output buffer.
	n.buffer = nil
}

// Run processes one block of interleaved samples and propagates the
// result to every consumer in connection order. The first failure
// short-circuits the remaining consumers; nodes already invoked in the
// same pass are not rolled back.
func (g *Graph) Run(id NodeID, in radiopipe.Buffer) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	return g.run(n, in)
}

func (g *Graph) run(n *Node, in radiopipe.Buffer) error {
	if !n.running {
		n.log.Error("pipeline not started")
		return fmt.Errorf("run %v: %w", n, ErrNotRunning)
	}

	inframes := len(in) / n.input.NumChannels
	outframes := inframes * n.interpolation / n.decimation
	if size := outframes * n.output.NumChannels; size != len(n.buffer) {
		n.log.WithFields(logrus.Fields{"frames": outframes, "channels": n.output.NumChannels}).Debug("resizing buffer")
		if size <= cap(n.buffer) {
			n.buffer = n.buffer[:size]
		} else {
			n.buffer = make(radiopipe.Buffer, size)
		}
	}

	var started time.Time
	if g.profile {
		started = time.Now()
	}
	if err := n.stage.Process(in, n.buffer); err != nil {
		n.log.WithError(err).Error("pipeline failed")
		return fmt.Errorf("process %v: %w", n, err)
	}
	if g.profile {
		n.totalNs += uint64(time.Since(started))
		n.totalIn += uint64(inframes)
		n.totalOut += uint64(outframes)
		if n.measure != nil {
			n.measure(int64(outframes))
		}
	}

	// Propagate result to all registered consumers.
	for _, c := range n.consumers {
		if err := g.run(g.nodes[c], n.buffer); err != nil {
			return err
		}
	}
	return nil
}

// NsPerFrameAll returns the node's own per-frame nanosecond cost plus the
// rollup over its whole consumer subtree. Counters are only collected when
// the graph was created with WithProfiling.
func (g *Graph) NsPerFrameAll(id NodeID) uint64 {
	n, ok := g.nodes[id]
	if !ok {
		return 0
	}
	return g.nsPerFrameAll(n)
}

func (g *Graph) nsPerFrameAll(n *Node) uint64 {
	total := n.NsPerFrame()
	n.log.WithField("ns/frame", total).Debug("profile")
	for _, c := range n.consumers {
		total += g.nsPerFrameAll(g.nodes[c])
	}
	return total
}

func stageType(stage Stage) string {
	rv := reflect.ValueOf(stage)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}
