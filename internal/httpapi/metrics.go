package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics lives on a private registry per server so handlers built in
// tests do not share counters.
type metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	appErrors    *prometheus.CounterVec
	warnings     prometheus.Counter
	rulesetCache *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clash2singbox_http_requests_total",
			Help: "HTTP requests by ServeMux pattern and status.",
		}, []string{"pattern", "status"}),
		appErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clash2singbox_app_errors_total",
			Help: "Application errors returned to clients.",
		}, []string{"stage", "code"}),
		warnings: f.NewCounter(prometheus.CounterOpts{
			Name: "clash2singbox_conversion_warnings_total",
			Help: "Warnings produced by successful conversions.",
		}),
		rulesetCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clash2singbox_ruleset_cache_total",
			Help: "Rule-set lookups by cache result.",
		}, []string{"result"}),
	}
}

func (m *metrics) incRequest(pattern string, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	if pattern == "" {
		pattern = "(unknown)"
	}
	m.httpRequests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
}

func (m *metrics) incAppError(stage, code string) {
	stage = strings.TrimSpace(stage)
	code = strings.TrimSpace(code)
	if stage == "" {
		stage = "(unknown)"
	}
	if code == "" {
		code = "(unknown)"
	}
	m.appErrors.WithLabelValues(stage, code).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
