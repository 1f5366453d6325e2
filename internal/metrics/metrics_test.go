package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Iterations(t *testing.T) {
	c := New()

	c.ObserveIteration(2*time.Second, nil)
	c.ObserveIteration(3*time.Second, nil)
	c.ObserveIteration(time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.iterations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.iterations.WithLabelValues("failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.iterationDuration))
}

func TestCollector_ChecksAndVUs(t *testing.T) {
	c := New()

	c.ObserveCheck("Patron created", true)
	c.ObserveCheck("Patron created", false)
	c.VUActive(3)
	c.VUActive(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.checks.WithLabelValues("Patron created", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checks.WithLabelValues("Patron created", "fail")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.activeVUs))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveIteration(time.Second, nil)
	c.ObserveCheck("x", true)
	c.ObserveAPI("/patrons", "POST", 201, time.Millisecond)
	c.VUActive(1)
	assert.Nil(t, c.Registry())
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ObserveAPI("/patrons", http.MethodPost, 201, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "kohaload_api_request_duration_seconds"))
	assert.True(t, strings.Contains(body, `endpoint="/patrons"`))
}
