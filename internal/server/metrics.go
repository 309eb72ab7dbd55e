package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	rxBytes      *prometheus.CounterVec
	txBytes      *prometheus.CounterVec
	polls        *prometheus.CounterVec
	otaUpdates   *prometheus.CounterVec
	wsClients    *prometheus.GaugeVec
	restarts     prometheus.Counter
}

// newMetrics uses a private registry so several servers (tests) can coexist.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiserial_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		rxBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiserial_serial_rx_bytes_total",
			Help: "Bytes read from each UART.",
		}, []string{"channel"}),
		txBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiserial_serial_tx_bytes_total",
			Help: "Bytes written to each UART from the web.",
		}, []string{"channel"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiserial_serial_polls_total",
			Help: "Poll requests per channel.",
		}, []string{"channel"}),
		otaUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiserial_ota_updates_total",
			Help: "Finished OTA uploads by kind and verdict.",
		}, []string{"kind", "verdict"}),
		wsClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wifiserial_ws_clients",
			Help: "Connected WebSocket subscribers per stream.",
		}, []string{"stream"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wifiserial_restarts_total",
			Help: "Simulated device restarts.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.rxBytes, m.txBytes, m.polls, m.otaUpdates, m.wsClients, m.restarts,
	)
	return m
}

func channelLabel(ch int) string { return strconv.Itoa(ch) }
