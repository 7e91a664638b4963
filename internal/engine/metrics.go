package engine

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/otgw-core/internal/sequencer"
)

const metricsNamespace = "otgw"

// Stats is a snapshot of engine counters.
type Stats struct {
	Sequencer      sequencer.Stats `json:"sequencer"`
	State          string          `json:"state"`
	Pending        int             `json:"pending"`
	LinesReceived  uint64          `json:"lines_received"`
	FramesReceived uint64          `json:"frames_received"`
	Malformed      uint64          `json:"malformed"`
	Dropped        uint64          `json:"dropped_events"`
	Subscriptions  int             `json:"subscriptions"`
}

// metrics holds the engine's Prometheus collectors. Counters the engine
// goroutine owns are copied into snap after every loop iteration and read
// back by the func collectors, so scrapes never touch the sequencer.
type metrics struct {
	mu   sync.RWMutex
	snap Stats

	lines     prometheus.Counter
	frames    *prometheus.CounterVec
	malformed prometheus.Counter
	dropped   prometheus.Counter
	heating   *prometheus.GaugeVec

	collectors []prometheus.Collector
}

func newMetrics() *metrics {
	m := &metrics{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "lines_received_total",
			Help:      "Lines received from the gateway.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Valid OpenTherm frames received, by line source.",
		}, []string{"source"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "link",
			Name:      "malformed_frames_total",
			Help:      "Frame lines dropped because they failed to decode.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "dropped_events_total",
			Help:      "Change events dropped because a subscriber was full.",
		}),
		heating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "circuit",
			Name:      "heating",
			Help:      "1 while a heating circuit is calling for heat.",
		}, []string{"circuit"}),
	}

	seqCounter := func(name, help string, pick func(sequencer.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sequencer",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(m.stats().Sequencer))
		})
	}

	m.collectors = []prometheus.Collector{
		m.lines, m.frames, m.malformed, m.dropped, m.heating,
		seqCounter("requests_sent_total", "Request lines written, including resends.",
			func(s sequencer.Stats) uint64 { return s.Sent }),
		seqCounter("transactions_completed_total", "Transactions answered successfully.",
			func(s sequencer.Stats) uint64 { return s.Completed }),
		seqCounter("retries_total", "Requests resent after a timeout or busy reply.",
			func(s sequencer.Stats) uint64 { return s.Retries }),
		seqCounter("timeouts_total", "Attempts that received no answer in time.",
			func(s sequencer.Stats) uint64 { return s.Timeouts }),
		seqCounter("communication_failures_total", "Transactions that exhausted their retries.",
			func(s sequencer.Stats) uint64 { return s.Failures }),
		seqCounter("rejected_total", "Gateway commands rejected with an error reply.",
			func(s sequencer.Stats) uint64 { return s.Rejected }),
		seqCounter("superseded_total", "Queued requests replaced by a newer one.",
			func(s sequencer.Stats) uint64 { return s.Superseded }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sequencer",
			Name:      "queue_depth",
			Help:      "Requests waiting behind the live transaction.",
		}, func() float64 {
			return float64(m.stats().Pending)
		}),
	}
	return m
}

func (m *metrics) stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *metrics) update(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.snap)
	m.mu.Unlock()
}

// register adds every collector to reg.
func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering engine metrics: %w", err)
		}
	}
	return nil
}
