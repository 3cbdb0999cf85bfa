package pipe_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiopipe/radiopipe"
	"github.com/radiopipe/radiopipe/mock"
	"github.com/radiopipe/radiopipe/pipe"
)

func TestConnectIdempotent(t *testing.T) {
	g := pipe.New()
	a := g.Add(&mock.Stage{}, "a")
	b := g.Add(&mock.Stage{}, "b")

	require.NoError(t, g.Connect(a, b))
	require.NoError(t, g.Connect(a, b))

	assert.Equal(t, []pipe.NodeID{b}, g.Node(a).Consumers())
}

func TestConnectUnknownNode(t *testing.T) {
	g := pipe.New()
	a := g.Add(&mock.Stage{}, "a")

	err := g.Connect(a, pipe.NodeID("missing"))
	assert.ErrorIs(t, err, pipe.ErrUnknownNode)
	err = g.Connect(pipe.NodeID("missing"), a)
	assert.ErrorIs(t, err, pipe.ErrUnknownNode)
}

func TestDisconnect(t *testing.T) {
	g := pipe.New()
	a := g.Add(&mock.Stage{}, "a")
	b := g.Add(&mock.Stage{}, "b")
	c := g.Add(&mock.Stage{}, "c")

	require.NoError(t, g.Connect(a, b))
	require.NoError(t, g.Connect(a, c))

	require.NoError(t, g.Disconnect(a, b))
	assert.Equal(t, []pipe.NodeID{c}, g.Node(a).Consumers())

	// absent target is a no-op
	require.NoError(t, g.Disconnect(a, b))
	assert.Equal(t, []pipe.NodeID{c}, g.Node(a).Consumers())
}

func TestRateConversion(t *testing.T) {
	tests := []struct {
		name          string
		input         int
		output        int
		decimation    int
		interpolation int
	}{
		{"decimation", 48000, 8000, 6, 1},
		{"interpolation", 8000, 48000, 1, 6},
		{"identity", 48000, 48000, 1, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := pipe.New()
			id := g.Add(&mock.Stage{
				Output: radiopipe.Format{SampleRate: test.output},
			}, "stage")
			g.Node(id).SetSampleRate(test.input)
			g.Node(id).SetChannels(1)

			require.NoError(t, g.Start(id))
			defer g.Stop(id)

			assert.Equal(t, test.decimation, g.Node(id).Decimation())
			assert.Equal(t, test.interpolation, g.Node(id).Interpolation())
		})
	}
}

func TestRateRelationFailure(t *testing.T) {
	stage := &mock.Stage{
		Output: radiopipe.Format{SampleRate: 48000},
	}
	g := pipe.New()
	id := g.Add(stage, "stage")
	g.Node(id).SetSampleRate(44100)
	g.Node(id).SetChannels(1)

	err := g.Start(id)
	assert.ErrorIs(t, err, pipe.ErrRateRelation)
	assert.False(t, g.Node(id).IsRunning())
	// resources acquired by init were released
	assert.Equal(t, 1, stage.InitCalls)
	assert.Equal(t, 1, stage.DeinitCalls)
	assert.Empty(t, g.Node(id).Buffer())
}

func TestInitFailure(t *testing.T) {
	errInit := errors.New("unsupported input format")
	stage := &mock.Stage{ErrorOnInit: errInit}
	g := pipe.New()
	id := g.Add(stage, "stage")

	err := g.Start(id)
	assert.ErrorIs(t, err, errInit)
	assert.False(t, g.Node(id).IsRunning())
	assert.Zero(t, stage.DeinitCalls)
}

func TestRunNotStarted(t *testing.T) {
	stage := &mock.Stage{}
	g := pipe.New()
	id := g.Add(stage, "stage")

	err := g.Run(id, make(radiopipe.Buffer, 100))
	assert.ErrorIs(t, err, pipe.ErrNotRunning)
	assert.Zero(t, stage.Blocks)
	assert.Empty(t, g.Node(id).Buffer())
}

func TestRunBufferReuse(t *testing.T) {
	g := pipe.New()
	id := g.Add(&mock.Stage{}, "stage")
	g.Node(id).SetChannels(1)
	require.NoError(t, g.Start(id))
	defer g.Stop(id)

	require.NoError(t, g.Run(id, make(radiopipe.Buffer, 100)))
	first := g.Node(id).Buffer()
	require.Len(t, first, 100)

	require.NoError(t, g.Run(id, make(radiopipe.Buffer, 100)))
	second := g.Node(id).Buffer()
	require.Len(t, second, 100)
	// steady-state streaming reuses the same storage
	assert.True(t, &first[0] == &second[0])

	require.NoError(t, g.Run(id, make(radiopipe.Buffer, 50)))
	assert.Len(t, g.Node(id).Buffer(), 50)
}

func TestStopIdempotent(t *testing.T) {
	stage := &mock.Stage{}
	g := pipe.New()
	id := g.Add(stage, "stage")
	require.NoError(t, g.Start(id))

	g.Stop(id)
	assert.False(t, g.Node(id).IsRunning())
	assert.Empty(t, g.Node(id).Buffer())
	assert.Equal(t, 1, stage.DeinitCalls)

	g.Stop(id)
	assert.False(t, g.Node(id).IsRunning())
	assert.Empty(t, g.Node(id).Buffer())
	assert.Equal(t, 1, stage.DeinitCalls)
}

func TestChainInitFailureRollsBack(t *testing.T) {
	errInit := errors.New("init failed")
	source := &mock.Stage{Fill: true}
	stage := &mock.Stage{ErrorOnInit: errInit}
	sink := &mock.Stage{}

	g := pipe.New()
	src := g.AddSource(source, "source")
	mid := g.Add(stage, "stage")
	out := g.Add(sink, "sink")
	require.NoError(t, g.Connect(src, mid))
	require.NoError(t, g.Connect(mid, out))

	err := g.Start(src)
	assert.ErrorIs(t, err, errInit)
	// fully torn down, never half-started
	assert.False(t, g.Node(src).IsRunning())
	assert.False(t, g.Node(mid).IsRunning())
	assert.False(t, g.Node(out).IsRunning())
	assert.Equal(t, 1, source.DeinitCalls)
	assert.Zero(t, sink.InitCalls)
}

func TestStartPushesConfiguration(t *testing.T) {
	g := pipe.New()
	src := g.AddSource(&mock.Stage{Fill: true}, "source")
	out := g.Add(&mock.Stage{}, "sink")
	require.NoError(t, g.Connect(src, out))

	g.Node(src).SetSampleRate(48000)
	g.Node(src).SetChannels(1)

	require.NoError(t, g.Start(src))
	defer g.Stop(src)

	assert.Equal(t, radiopipe.Format{SampleRate: 48000, NumChannels: 1}, g.Node(out).Input())
	// sink keeps the identity defaults
	assert.Equal(t, radiopipe.Format{SampleRate: 48000, NumChannels: 1}, g.Node(out).Output())
}

func TestEndToEnd(t *testing.T) {
	t.Run("passthrough", func(t *testing.T) {
		sink := &mock.Stage{}
		g := pipe.New()
		src := g.AddSource(&mock.Stage{Fill: true, Value: 0.5}, "source")
		mid := g.Add(&mock.Stage{}, "stage")
		out := g.Add(sink, "sink")
		require.NoError(t, g.Connect(src, mid))
		require.NoError(t, g.Connect(mid, out))

		g.Node(src).SetSampleRate(48000)
		g.Node(src).SetChannels(1)

		require.NoError(t, g.Start(src))
		defer g.Stop(src)

		require.NoError(t, g.Run(src, make(radiopipe.Buffer, 100)))
		assert.Equal(t, 100, sink.LastIn)
		assert.Equal(t, 1, sink.LastChannels)
		assert.Equal(t, 0.5, g.Node(out).Buffer()[0])
	})
	t.Run("decimation", func(t *testing.T) {
		sink := &mock.Stage{}
		g := pipe.New()
		src := g.AddSource(&mock.Stage{Fill: true}, "source")
		mid := g.Add(&mock.Stage{
			Output: radiopipe.Format{SampleRate: 24000},
		}, "stage")
		out := g.Add(sink, "sink")
		require.NoError(t, g.Connect(src, mid))
		require.NoError(t, g.Connect(mid, out))

		g.Node(src).SetSampleRate(48000)
		g.Node(src).SetChannels(1)

		require.NoError(t, g.Start(src))
		defer g.Stop(src)

		require.NoError(t, g.Run(src, make(radiopipe.Buffer, 100)))
		assert.Equal(t, 2, g.Node(mid).Decimation())
		assert.Equal(t, 50, sink.LastIn)
	})
}

func TestRunFailurePropagates(t *testing.T) {
	errProcess := errors.New("process failed")
	first := &mock.Stage{}
	failing := &mock.Stage{ErrorOnProcess: errProcess}
	last := &mock.Stage{}

	g := pipe.New()
	src := g.AddSource(&mock.Stage{Fill: true}, "source")
	a := g.Add(first, "first")
	b := g.Add(failing, "failing")
	c := g.Add(last, "last")
	require.NoError(t, g.Connect(src, a))
	require.NoError(t, g.Connect(src, b))
	require.NoError(t, g.Connect(src, c))

	require.NoError(t, g.Start(src))
	defer g.Stop(src)

	err := g.Run(src, make(radiopipe.Buffer, 100))
	assert.ErrorIs(t, err, errProcess)
	// consumers before the failing one are not rolled back, consumers
	// after it are never invoked
	assert.Equal(t, 1, first.Blocks)
	assert.Zero(t, last.Blocks)
}

func TestConnectWhileRunning(t *testing.T) {
	g := pipe.New()
	src := g.AddSource(&mock.Stage{Fill: true}, "source")
	g.Node(src).SetSampleRate(48000)
	g.Node(src).SetChannels(1)
	require.NoError(t, g.Start(src))
	defer g.Stop(src)

	out := g.Add(&mock.Stage{}, "sink")
	require.NoError(t, g.Connect(src, out))
	assert.True(t, g.Node(out).IsRunning())
	assert.Equal(t, 48000, g.Node(out).Input().SampleRate)

	require.NoError(t, g.Disconnect(src, out))
	assert.False(t, g.Node(out).IsRunning())
	assert.Empty(t, g.Node(src).Consumers())
}

func TestPropagationOrder(t *testing.T) {
	var order []string
	g := pipe.New()
	src := g.AddSource(&mock.Stage{Fill: true}, "source")
	a := g.Add(&orderStage{name: "a", order: &order}, "a")
	b := g.Add(&orderStage{name: "b", order: &order}, "b")
	c := g.Add(&orderStage{name: "c", order: &order}, "c")
	require.NoError(t, g.Connect(src, a))
	require.NoError(t, g.Connect(src, b))
	require.NoError(t, g.Connect(src, c))

	require.NoError(t, g.Start(src))
	defer g.Stop(src)
	order = nil

	require.NoError(t, g.Run(src, make(radiopipe.Buffer, 10)))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFrozenWhileRunning(t *testing.T) {
	g := pipe.New()
	src := g.AddSource(&mock.Stage{Fill: true}, "source")
	g.Node(src).SetSampleRate(48000)
	g.Node(src).SetChannels(1)
	g.Node(src).SetBlockSize(256)
	require.NoError(t, g.Start(src))
	defer g.Stop(src)

	g.Node(src).SetSampleRate(8000)
	g.Node(src).SetChannels(2)
	g.Node(src).SetBlockSize(1024)
	assert.Equal(t, 48000, g.Node(src).Input().SampleRate)
	assert.Equal(t, 1, g.Node(src).Input().NumChannels)
	assert.Equal(t, 256, g.Node(src).BlockSize())
}

func TestProfiling(t *testing.T) {
	sink := &mock.Stage{}
	g := pipe.New(pipe.WithProfiling())
	src := g.AddSource(&mock.Stage{Fill: true}, "source")
	out := g.Add(sink, "sink")
	require.NoError(t, g.Connect(src, out))
	g.Node(src).SetSampleRate(48000)
	g.Node(src).SetChannels(1)

	require.NoError(t, g.Start(src))
	defer g.Stop(src)

	require.NoError(t, g.Run(src, make(radiopipe.Buffer, 100)))
	require.NoError(t, g.Run(src, make(radiopipe.Buffer, 100)))

	in, outFrames := g.Node(src).FramesProcessed()
	assert.Equal(t, uint64(200), in)
	assert.Equal(t, uint64(200), outFrames)

	subtree := g.NsPerFrameAll(src)
	assert.GreaterOrEqual(t, subtree, g.Node(src).NsPerFrame())

	// counters reset on restart
	g.Stop(src)
	require.NoError(t, g.Start(src))
	in, _ = g.Node(src).FramesProcessed()
	assert.Zero(t, in)
}

// orderStage records the order its Process was invoked in.
type orderStage struct {
	name  string
	order *[]string
}

func (s *orderStage) Init(in radiopipe.Format) (radiopipe.Format, error) {
	return in, nil
}

func (s *orderStage) Deinit() {}

func (s *orderStage) Process(in, out radiopipe.Buffer) error {
	*s.order = append(*s.order, s.name)
	copy(out, in)
	return nil
}
