// Package metric publishes expvar counters for graph nodes, keyed by
// stage type.
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/radiopipe/radiopipe"
)

const nodesLabel = "radiopipe.nodes"

const (
	// RunCounter measures number of processed blocks.
	RunCounter = "Runs"
	// FrameCounter measures number of produced frames.
	FrameCounter = "Frames"
	// LatencyCounter measures latency between processing calls.
	LatencyCounter = "Latency"
	// DurationCounter counts the signal duration produced so far.
	DurationCounter = "Duration"
	// NodeCounter counts nodes of this stage type.
	NodeCounter = "Nodes"
)

var (
	nodes = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		RunCounter,
		FrameCounter,
		LatencyCounter,
		DurationCounter,
		NodeCounter,
	}
)

// Get metrics values for provided stage.
func Get(stage interface{}) map[string]string {
	return getCounters(getType(stage))
}

// GetAll returns counters for all measured stage types.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	nodes.Lock()
	defer nodes.Unlock()
	for stage := range nodes.m {
		m[stage] = getCounters(stage)
	}
	return m
}

func getCounters(stageType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(stageType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// ResetFunc returns new Measure closure. This closure is needed to postpone
// metrics capture until the node is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when a block is processed.
type MeasureFunc func(frames int64)

// Meter creates new meter closure to capture node counters.
func Meter(stage interface{}, sampleRate int) ResetFunc {
	t := getType(stage)
	metric := nodes.get(t)
	metric.nodes.Add(1)
	return func() MeasureFunc {
		calledAt := time.Now()
		var (
			blockFrames   int64
			blockDuration time.Duration
		)
		return func(frames int64) {
			metric.latency.set(time.Since(calledAt))
			metric.runs.Add(1)
			metric.frames.Add(frames)
			// recalculate block duration only when block size has changed
			if blockFrames != frames {
				blockFrames = frames
				blockDuration = radiopipe.DurationOf(sampleRate, frames)
			}
			metric.duration.add(blockDuration)
			calledAt = time.Now()
		}
	}
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(stageType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[stageType]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(stageType)
	m.m[stageType] = metric
	return metric
}

type metric struct {
	key      string
	nodes    *expvar.Int
	runs     *expvar.Int
	frames   *expvar.Int
	latency  *duration
	duration *duration
}

func newMetric(stageType string) metric {
	m := metric{
		key:      stageType,
		nodes:    expvar.NewInt(key(stageType, NodeCounter)),
		runs:     expvar.NewInt(key(stageType, RunCounter)),
		frames:   expvar.NewInt(key(stageType, FrameCounter)),
		latency:  &duration{},
		duration: &duration{},
	}
	expvar.Publish(key(stageType, LatencyCounter), m.latency)
	expvar.Publish(key(stageType, DurationCounter), m.duration)
	return m
}

func key(stageType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", nodesLabel, stageType, counter)
}

func getType(stage interface{}) string {
	rv := reflect.ValueOf(stage)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%v", time.Duration(atomic.LoadInt64(&v.d)))
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}
