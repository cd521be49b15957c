// Package metrics exposes wallet connect traffic and session transitions to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"moff.io/moff-wallet/internal/walletconnect"
)

// Collector is both a walletconnect.RequestObserver and a session listener.
type Collector struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec
	connected       prometheus.Gauge
	accounts        prometheus.Gauge
}

func NewCollector() *Collector {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moff_wallet_requests_total",
		Help: "Wallet connect json-rpc requests by method and outcome",
	}, []string{"method", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moff_wallet_request_duration_seconds",
		Help:    "Time from publishing a request to the wallet's answer",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"method"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moff_wallet_session_events_total",
		Help: "Session transitions delivered to listeners",
	}, []string{"state"})

	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moff_wallet_session_connected",
		Help: "1 while a wallet session is connected",
	})

	accounts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moff_wallet_session_accounts",
		Help: "Number of accounts the wallet approved",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(requests, duration, events, connected, accounts)

	return &Collector{
		registry:        r,
		requestsTotal:   requests,
		requestDuration: duration,
		eventsTotal:     events,
		connected:       connected,
		accounts:        accounts,
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// outcome is the error kind name, "ok" for a nil error.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return walletconnect.KindOf(err).String()
}

func (c *Collector) ObserveRequest(method string, err error, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(method, outcome(err)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collector) OnSessionEvent(info walletconnect.SessionInfo) {
	c.eventsTotal.WithLabelValues(info.State.String()).Inc()
	if info.Connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
	c.accounts.Set(float64(len(info.Accounts)))
}
