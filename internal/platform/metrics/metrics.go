package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the download pipeline.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	jobsStartedTotal     prometheus.Counter
	jobsSucceededTotal   prometheus.Counter
	jobsFailedTotal      prometheus.Counter
	activeJobs           prometheus.Gauge
	segmentsFetchedTotal prometheus.Counter
	segmentRetriesTotal  prometheus.Counter
	bytesFetchedTotal    prometheus.Counter
	partsDeliveredTotal  prometheus.Counter
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the pipeline daemon.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_requests_total",
		Help: "Total number of HTTP requests received",
	})
	jobsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_jobs_started_total",
		Help: "Total number of download jobs started",
	})
	jobsSucceededTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_jobs_succeeded_total",
		Help: "Total number of download jobs that completed successfully",
	})
	jobsFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_jobs_failed_total",
		Help: "Total number of download jobs that failed or were cancelled",
	})
	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hlsgrab_active_jobs",
		Help: "Number of jobs currently running",
	})
	segmentsFetchedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_segments_fetched_total",
		Help: "Total number of media segments fetched successfully",
	})
	segmentRetriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_segment_retries_total",
		Help: "Total number of segment fetch retry attempts",
	})
	bytesFetchedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_bytes_fetched_total",
		Help: "Total number of media payload bytes fetched",
	})
	partsDeliveredTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_parts_delivered_total",
		Help: "Total number of artifact parts handed to delivery",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgrab_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		jobsStartedTotal,
		jobsSucceededTotal,
		jobsFailedTotal,
		activeJobs,
		segmentsFetchedTotal,
		segmentRetriesTotal,
		bytesFetchedTotal,
		partsDeliveredTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		jobsStartedTotal:     jobsStartedTotal,
		jobsSucceededTotal:   jobsSucceededTotal,
		jobsFailedTotal:      jobsFailedTotal,
		activeJobs:           activeJobs,
		segmentsFetchedTotal: segmentsFetchedTotal,
		segmentRetriesTotal:  segmentRetriesTotal,
		bytesFetchedTotal:    bytesFetchedTotal,
		partsDeliveredTotal:  partsDeliveredTotal,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncJobsStarted increments the started jobs counter.
func (m *Metrics) IncJobsStarted() {
	m.jobsStartedTotal.Inc()
}

// IncJobsSucceeded increments the succeeded jobs counter.
func (m *Metrics) IncJobsSucceeded() {
	m.jobsSucceededTotal.Inc()
}

// IncJobsFailed increments the failed jobs counter.
func (m *Metrics) IncJobsFailed() {
	m.jobsFailedTotal.Inc()
}

// SetActiveJobs sets the running jobs gauge.
func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobs.Set(float64(n))
}

// IncSegmentsFetched increments the fetched segments counter.
func (m *Metrics) IncSegmentsFetched() {
	m.segmentsFetchedTotal.Inc()
}

// IncSegmentRetries increments the segment retry counter.
func (m *Metrics) IncSegmentRetries() {
	m.segmentRetriesTotal.Inc()
}

// AddBytesFetched adds n to the fetched bytes counter.
func (m *Metrics) AddBytesFetched(n int64) {
	m.bytesFetchedTotal.Add(float64(n))
}

// IncPartsDelivered increments the delivered parts counter.
func (m *Metrics) IncPartsDelivered() {
	m.partsDeliveredTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active jobs).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
