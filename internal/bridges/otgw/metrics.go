package otgw

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/otgw-core/internal/opentherm"
	"github.com/nerrad567/otgw-core/internal/registry"
)

// metrics exports the last value of every published item.
type metrics struct {
	value    *prometheus.GaugeVec
	valid    *prometheus.GaugeVec
	commands *prometheus.CounterVec
}

func newMetrics(gateway string) *metrics {
	labels := prometheus.Labels{"gateway": gateway}
	return &metrics{
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "otgw",
			Subsystem:   "item",
			Name:        "value",
			Help:        "Last decoded value of a data item. Day-time items are not exported.",
			ConstLabels: labels,
		}, []string{"item", "unit"}),
		valid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "otgw",
			Subsystem:   "item",
			Name:        "valid",
			Help:        "1 while the data item holds a valid value.",
			ConstLabels: labels,
		}, []string{"item"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "otgw",
			Subsystem:   "bridge",
			Name:        "commands_total",
			Help:        "MQTT commands handled, by kind and final ack status.",
			ConstLabels: labels,
		}, []string{"kind", "status"}),
	}
}

// register adds the collectors to reg.
func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.value, m.valid, m.commands} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering bridge metrics: %w", err)
		}
	}
	return nil
}

func (m *metrics) observe(r registry.Reading) {
	valid := 0.0
	if r.Valid {
		valid = 1
	}
	m.valid.WithLabelValues(r.Item.Name).Set(valid)
	if r.Item.Shape == opentherm.ShapeDayTime {
		return
	}
	v := r.Value.Float()
	if r.Item.Shape == opentherm.ShapeFlag {
		v = 0
		if r.Value.Bool() {
			v = 1
		}
	}
	m.value.WithLabelValues(r.Item.Name, r.Item.Unit).Set(v)
}

func (m *metrics) command(kind string, status AckStatus) {
	m.commands.WithLabelValues(kind, string(status)).Inc()
}
