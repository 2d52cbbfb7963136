// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector. Every server owns its own go-metrics instance so
// several servers in one process, or in one test binary, never share counts.

package control

import (
	"time"

	metrics "github.com/armon/go-metrics"
)

// Metrics records counters, gauges and timings under a service prefix.
type Metrics struct {
	m    *metrics.Metrics
	sink metrics.MetricSink
	mem  *metrics.InmemSink
}

// NewMetrics creates a collector. A nil sink selects an in-memory sink
// aggregating 10 second intervals for one minute.
func NewMetrics(service string, sink metrics.MetricSink) (*Metrics, error) {
	var mem *metrics.InmemSink
	if sink == nil {
		mem = metrics.NewInmemSink(10*time.Second, time.Minute)
		sink = mem
	} else if s, ok := sink.(*metrics.InmemSink); ok {
		mem = s
	}
	cfg := metrics.DefaultConfig(service)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, err := metrics.New(cfg, sink)
	if err != nil {
		return nil, err
	}
	return &Metrics{m: m, sink: sink, mem: mem}, nil
}

// Incr adds one to the counter at key.
func (mr *Metrics) Incr(key ...string) {
	mr.m.IncrCounter(key, 1)
}

// Add adds val to the counter at key.
func (mr *Metrics) Add(val float32, key ...string) {
	mr.m.IncrCounter(key, val)
}

// Gauge sets the gauge at key.
func (mr *Metrics) Gauge(val float32, key ...string) {
	mr.m.SetGauge(key, val)
}

// Since records the elapsed time since start, in milliseconds.
func (mr *Metrics) Since(start time.Time, key ...string) {
	mr.m.MeasureSince(key, start)
}

// Inmem returns the in-memory sink, or nil when an external sink is used.
func (mr *Metrics) Inmem() *metrics.InmemSink {
	return mr.mem
}

// GetSnapshot returns the current interval of the in-memory sink as plain
// values: counter sums, gauge values and sample means.
func (mr *Metrics) GetSnapshot() map[string]any {
	out := make(map[string]any)
	if mr.mem == nil {
		return out
	}
	data := mr.mem.Data()
	if len(data) == 0 {
		return out
	}
	cur := data[len(data)-1]
	cur.RLock()
	defer cur.RUnlock()
	for k, v := range cur.Counters {
		out[k] = v.Sum
	}
	for k, v := range cur.Gauges {
		out[k] = v.Value
	}
	for k, v := range cur.Samples {
		out[k] = map[string]any{"count": v.Count, "mean": v.AggregateSample.Mean(), "max": v.Max}
	}
	return out
}
