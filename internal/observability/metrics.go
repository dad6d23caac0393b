package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// agent HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_http_requests_total",
		Help: "Total HTTP requests served by the agent",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infrawiz_http_request_duration_seconds",
		Help:    "Agent HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infrawiz_active_requests",
		Help: "Current in-flight agent requests",
	})

	// backend API client metrics
	APICallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_api_calls_total",
		Help: "Backend API calls by endpoint and outcome",
	}, []string{"endpoint", "method", "outcome"})

	APICallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infrawiz_api_call_duration_seconds",
		Help:    "Backend API call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint", "method"})

	APIRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_api_retries_total",
		Help: "Backend API call retries",
	}, []string{"endpoint"})

	// job poller metrics
	PollTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_poll_ticks_total",
		Help: "Job status polls issued",
	}, []string{"kind"})

	PollTickErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_poll_tick_errors_total",
		Help: "Job status polls that failed and were retried on the next tick",
	}, []string{"kind"})

	PollOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_poll_outcomes_total",
		Help: "Pollers finished by final phase",
	}, []string{"kind", "phase"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infrawiz_job_watch_duration_seconds",
		Help:    "Time from poll start to terminal status",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"kind"})

	ActivePollers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "infrawiz_active_pollers",
		Help: "Pollers currently running",
	})

	// wizard state metrics
	StateSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrawiz_state_saves_total",
		Help: "Workspace state writes by result",
	}, []string{"result"})

	StatePatchFields = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "infrawiz_state_patch_fields",
		Help:    "Fields per coalesced state write",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	})

	WatchesResumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "infrawiz_watches_resumed_total",
		Help: "Watches resumed from saved state",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		APICallsTotal, APICallDuration, APIRetriesTotal,
		PollTicksTotal, PollTickErrorsTotal, PollOutcomesTotal, JobDuration, ActivePollers,
		StateSavesTotal, StatePatchFields, WatchesResumedTotal,
	)
}
