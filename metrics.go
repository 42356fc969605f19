package modbusdevices

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	transactions    *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	cycles          *prometheus.CounterVec
	groupReads      *prometheus.CounterVec
	stale           *prometheus.GaugeVec
	writeRejections *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_transactions_total",
			Help: "Modbus transactions by function and result.",
		}, []string{"function", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_transaction_duration_seconds",
			Help:    "Modbus transaction round trip time.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"function"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_poll_cycles_total",
			Help: "Poll cycles by device and result.",
		}, []string{"device", "result"}),
		groupReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_group_reads_total",
			Help: "Group reads by device, group and result.",
		}, []string{"device", "group", "result"}),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbus_datapoints_stale",
			Help: "Datapoints currently holding a stale value.",
		}, []string{"device", "group"}),
		writeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_write_rejections_total",
			Help: "Writes rejected before reaching the wire.",
		}, []string{"device", "kind"}),
	}
	for _, c := range []prometheus.Collector{m.transactions, m.duration, m.cycles, m.groupReads, m.stale, m.writeRejections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeTransaction(function, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(function, result).Inc()
	if result == "ok" {
		m.duration.WithLabelValues(function).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeCycle(device, result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(device, result).Inc()
}

func (m *Metrics) observeGroup(device, group string, err error, stale int) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.groupReads.WithLabelValues(device, group, result).Inc()
	m.stale.WithLabelValues(device, group).Set(float64(stale))
}

func (m *Metrics) observeRejection(device string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.writeRejections.WithLabelValues(device, kind.String()).Inc()
}
