package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.LicenseCheck("granted_trial")
	r.LicenseCheck("granted_trial")
	r.LicenseIssued("CUSTOM", "RESELLER")
	r.LicenseRevoked()
	r.HTTPRequest("/api/license/check", "POST", "200", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.checks.WithLabelValues("granted_trial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.issued.WithLabelValues("CUSTOM", "RESELLER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.revoked))
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.LicenseCheck("existing")
		r.LicenseExtended()
		r.ActivityWriteFailed()
		r.HTTPRequest("/", "GET", "200", 0)
	})
}
