package fabtsuite

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's process-wide counters and gauges,
// exported via prometheus/client_golang. Registration is optional: a
// nil prometheus.Registerer (the default) leaves the metrics live and
// queryable in-process without ever forcing an HTTP listener into
// existence; cmd/ wires a listener only when the operator asks for
// one via -metrics-addr.
type Metrics struct {
	BytesTransmitted  prometheus.Counter
	BytesVerified     prometheus.Counter
	RDMAWritesIssued  prometheus.Counter
	VectorsSent       prometheus.Counter
	ProgressSent      prometheus.Counter
	MalformedMessages prometheus.Counter
	SessionsActive    prometheus.Gauge
	WorkersRunning    prometheus.Gauge
	WorkerLoadAverage prometheus.Gauge
}

// NewMetrics builds a fresh counter/gauge set. If reg is non-nil, every
// metric is registered against it; a caller that only wants local
// bookkeeping (tests, short-lived tools) can pass nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesTransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabtsuite", Name: "bytes_transmitted_total",
			Help: "Total bytes written to a peer's advertised RDMA targets.",
		}),
		BytesVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabtsuite", Name: "bytes_verified_total",
			Help: "Total bytes a sink has verified against the reference stream.",
		}),
		RDMAWritesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabtsuite", Name: "rdma_writes_issued_total",
			Help: "Total one-sided RDMA write operations issued.",
		}),
		VectorsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabtsuite", Name: "vectors_sent_total",
			Help: "Total vector (RDMA target advertisement) messages sent.",
		}),
		ProgressSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabtsuite", Name: "progress_sent_total",
			Help: "Total progress messages sent.",
		}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fabtsuite", Name: "malformed_messages_total",
			Help: "Total wire messages dropped for being malformed (§7 Malformed but recoverable).",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabtsuite", Name: "sessions_active",
			Help: "Sessions currently assigned to a worker.",
		}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabtsuite", Name: "workers_running",
			Help: "Workers currently out of idle sleep.",
		}),
		WorkerLoadAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabtsuite", Name: "worker_load_average",
			Help: "Most recently observed worker load average (moving average of contexts serviced per pass).",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.BytesTransmitted, m.BytesVerified, m.RDMAWritesIssued,
			m.VectorsSent, m.ProgressSent, m.MalformedMessages,
			m.SessionsActive, m.WorkersRunning, m.WorkerLoadAverage,
		)
	}
	return m
}

func (m *Metrics) ObserveTransmit(bytes uint64) { m.BytesTransmitted.Add(float64(bytes)) }
func (m *Metrics) ObserveVerify(bytes uint64)   { m.BytesVerified.Add(float64(bytes)) }
func (m *Metrics) ObserveRDMAWrite()            { m.RDMAWritesIssued.Inc() }
func (m *Metrics) ObserveVectorSent()           { m.VectorsSent.Inc() }
func (m *Metrics) ObserveProgressSent()         { m.ProgressSent.Inc() }
func (m *Metrics) ObserveMalformed()            { m.MalformedMessages.Inc() }

// ObserveWorkerLoad records a worker's Q8.8 fixed-point load average
// (spec §4.7) as a plain float gauge.
func (m *Metrics) ObserveWorkerLoad(q8_8 uint32) {
	m.WorkerLoadAverage.Set(float64(q8_8) / 256.0)
}
