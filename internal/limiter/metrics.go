package limiter

import "sync/atomic"

// Metrics holds encode counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	active   atomic.Int64
	rejected atomic.Int64
	timeouts atomic.Int64
	encodes  atomic.Int64
	failures atomic.Int64
	bytes    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Active   int64
	Rejected int64
	Timeouts int64
	Encodes  int64
	Failures int64
	Bytes    int64
}

// Snapshot reads every counter.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Active:   m.active.Load(),
		Rejected: m.rejected.Load(),
		Timeouts: m.timeouts.Load(),
		Encodes:  m.encodes.Load(),
		Failures: m.failures.Load(),
		Bytes:    m.bytes.Load(),
	}
}

func (m *Metrics) addActive(d int64) {
	if m != nil {
		m.active.Add(d)
	}
}

func (m *Metrics) incRejected() {
	if m != nil {
		m.rejected.Add(1)
	}
}

func (m *Metrics) incTimeouts() {
	if m != nil {
		m.timeouts.Add(1)
	}
}

func (m *Metrics) observe(n int64, err error) {
	if m == nil {
		return
	}
	m.encodes.Add(1)
	if err != nil {
		m.failures.Add(1)
		return
	}
	m.bytes.Add(n)
}
