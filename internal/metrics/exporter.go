package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtlink"

// Exporter adapts a Collector to prometheus.Collector. Values are read from
// a fresh snapshot on every scrape.
type Exporter struct {
	source *Collector
	now    func() time.Time

	sent       *prometheus.Desc
	received   *prometheus.Desc
	errors     *prometheus.Desc
	reconnects *prometheus.Desc
	batches    *prometheus.Desc
	batchSize  *prometheus.Desc
	bytes      *prometheus.Desc
	latency    *prometheus.Desc
	connected  *prometheus.Desc
	uptime     *prometheus.Desc
}

// NewExporter creates an exporter over c. now defaults to time.Now.
func NewExporter(c *Collector, now func() time.Time) *Exporter {
	if now == nil {
		now = time.Now
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Exporter{
		source:     c,
		now:        now,
		sent:       desc("messages_sent_total", "Frames written to the link socket"),
		received:   desc("messages_received_total", "Frames read from the link socket"),
		errors:     desc("errors_total", "Link errors by kind", "kind"),
		reconnects: desc("reconnections_total", "Reconnect attempts"),
		batches:    desc("batches_sent_total", "Batch frames written"),
		batchSize:  desc("batch_messages_total", "Messages carried in batch frames"),
		bytes:      desc("bytes_transferred_total", "Bytes written and read"),
		latency:    desc("delivery_latency_seconds_avg", "Average delivery confirmation latency"),
		connected:  desc("connected", "1 when the link socket is open"),
		uptime:     desc("uptime_seconds", "Age of the current connection"),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.sent
	ch <- e.received
	ch <- e.errors
	ch <- e.reconnects
	ch <- e.batches
	ch <- e.batchSize
	ch <- e.bytes
	ch <- e.latency
	ch <- e.connected
	ch <- e.uptime
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source.Snapshot(e.now())

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(e.sent, s.MessagesSent)
	counter(e.received, s.MessagesReceived)
	for _, k := range s.Kinds() {
		counter(e.errors, s.ErrorsByKind[k], string(k))
	}
	counter(e.reconnects, s.Reconnections)
	counter(e.batches, s.BatchesSent)
	counter(e.batchSize, s.TotalBatchSize)
	counter(e.bytes, s.BytesTransferred)
	gauge(e.latency, s.AverageLatency.Seconds())
	connected := 0.0
	if s.Connected {
		connected = 1
	}
	gauge(e.connected, connected)
	gauge(e.uptime, s.Uptime.Seconds())
}
