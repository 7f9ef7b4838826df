// Package metrics exposes per-device bridge statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serialbridge/bridge"
)

const namespace = "serialbridge"

// DeviceCollector reads device statistics at scrape time.
type DeviceCollector struct {
	statsFunc func() []bridge.DeviceStats

	openDevices   *prometheus.Desc
	bytesRead     *prometheus.Desc
	bytesWritten  *prometheus.Desc
	readErrors    *prometheus.Desc
	writeErrors   *prometheus.Desc
	buffersOut    *prometheus.Desc
	buffersIn     *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueCapacity *prometheus.Desc
	openSeconds   *prometheus.Desc
	datagrams     *prometheus.Desc
}

// NewDeviceCollector creates a collector over statsFunc.
func NewDeviceCollector(statsFunc func() []bridge.DeviceStats) *DeviceCollector {
	device := []string{"device"}

	return &DeviceCollector{
		statsFunc: statsFunc,
		openDevices: prometheus.NewDesc(
			namespace+"_open_devices",
			"Number of serial devices currently open",
			nil, nil,
		),
		bytesRead: prometheus.NewDesc(
			namespace+"_device_read_bytes_total",
			"Bytes read from the serial device",
			device, nil,
		),
		bytesWritten: prometheus.NewDesc(
			namespace+"_device_written_bytes_total",
			"Bytes written to the serial device",
			device, nil,
		),
		readErrors: prometheus.NewDesc(
			namespace+"_device_read_errors_total",
			"Failed hardware reads",
			device, nil,
		),
		writeErrors: prometheus.NewDesc(
			namespace+"_device_write_errors_total",
			"Failed hardware writes",
			device, nil,
		),
		buffersOut: prometheus.NewDesc(
			namespace+"_device_outbound_buffers_total",
			"Buffers queued from the hardware towards clients",
			device, nil,
		),
		buffersIn: prometheus.NewDesc(
			namespace+"_device_inbound_buffers_total",
			"Buffers written from clients to the hardware",
			device, nil,
		),
		queueDepth: prometheus.NewDesc(
			namespace+"_device_queue_depth",
			"Buffers waiting in a device queue",
			[]string{"device", "direction"}, nil,
		),
		queueCapacity: prometheus.NewDesc(
			namespace+"_device_queue_capacity",
			"Capacity of each device queue",
			device, nil,
		),
		openSeconds: prometheus.NewDesc(
			namespace+"_device_opened_timestamp_seconds",
			"Unix time the device was opened",
			device, nil,
		),
		datagrams: prometheus.NewDesc(
			namespace+"_device_udp_datagrams_total",
			"Datagrams exchanged over the UDP side-channel",
			[]string{"device", "direction"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *DeviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openDevices
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.readErrors
	ch <- c.writeErrors
	ch <- c.buffersOut
	ch <- c.buffersIn
	ch <- c.queueDepth
	ch <- c.queueCapacity
	ch <- c.openSeconds
	ch <- c.datagrams
}

// Collect implements prometheus.Collector
func (c *DeviceCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.statsFunc()

	ch <- prometheus.MustNewConstMetric(c.openDevices, prometheus.GaugeValue, float64(len(stats)))

	for _, s := range stats {
		ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(s.BytesRead), s.Device)
		ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(s.BytesWritten), s.Device)
		ch <- prometheus.MustNewConstMetric(c.readErrors, prometheus.CounterValue, float64(s.ReadErrors), s.Device)
		ch <- prometheus.MustNewConstMetric(c.writeErrors, prometheus.CounterValue, float64(s.WriteErrors), s.Device)
		ch <- prometheus.MustNewConstMetric(c.buffersOut, prometheus.CounterValue, float64(s.BuffersOut), s.Device)
		ch <- prometheus.MustNewConstMetric(c.buffersIn, prometheus.CounterValue, float64(s.BuffersIn), s.Device)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.OutboundQueued), s.Device, "outbound")
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.InboundQueued), s.Device, "inbound")
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(s.QueueCapacity), s.Device)
		ch <- prometheus.MustNewConstMetric(c.openSeconds, prometheus.GaugeValue, float64(s.OpenedAt.Unix()), s.Device)
		if s.UDPPort >= 0 {
			ch <- prometheus.MustNewConstMetric(c.datagrams, prometheus.CounterValue, float64(s.DatagramsIn), s.Device, "in")
			ch <- prometheus.MustNewConstMetric(c.datagrams, prometheus.CounterValue, float64(s.DatagramsOut), s.Device, "out")
		}
	}
}

// NewRegistry returns a registry with the device collector plus the Go and
// process collectors.
func NewRegistry(statsFunc func() []bridge.DeviceStats) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewDeviceCollector(statsFunc),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
