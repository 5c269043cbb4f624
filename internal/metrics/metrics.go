package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the license server collectors. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	checks       *prometheus.CounterVec
	issued       *prometheus.CounterVec
	extended     prometheus.Counter
	revoked      prometheus.Counter
	activityFail prometheus.Counter
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensehub",
			Name:      "license_checks_total",
			Help:      "License checks by outcome (granted_trial, existing, verified or an error code).",
		}, []string{"outcome"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensehub",
			Name:      "licenses_issued_total",
			Help:      "Licenses issued by type and issuer role.",
		}, []string{"type", "role"}),
		extended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "licensehub",
			Name:      "licenses_extended_total",
			Help:      "License extensions.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "licensehub",
			Name:      "licenses_revoked_total",
			Help:      "License revocations, including supersession.",
		}),
		activityFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "licensehub",
			Name:      "activity_write_failures_total",
			Help:      "Activity records that could not be written.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licensehub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "licensehub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(r.checks, r.issued, r.extended, r.revoked, r.activityFail, r.requests, r.latency)
	return r
}

func (r *Recorder) LicenseCheck(outcome string) {
	if r == nil {
		return
	}
	r.checks.WithLabelValues(outcome).Inc()
}

func (r *Recorder) LicenseIssued(licenseType, role string) {
	if r == nil {
		return
	}
	r.issued.WithLabelValues(licenseType, role).Inc()
}

func (r *Recorder) LicenseExtended() {
	if r == nil {
		return
	}
	r.extended.Inc()
}

func (r *Recorder) LicenseRevoked() {
	if r == nil {
		return
	}
	r.revoked.Inc()
}

func (r *Recorder) ActivityWriteFailed() {
	if r == nil {
		return
	}
	r.activityFail.Inc()
}

// HTTPRequest records one served request
func (r *Recorder) HTTPRequest(route, method, status string, seconds float64) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route, method, status).Inc()
	r.latency.WithLabelValues(route, method).Observe(seconds)
}
