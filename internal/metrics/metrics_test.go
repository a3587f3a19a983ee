package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Launches(t *testing.T) {
	c := NewCollector("test")

	c.Launch(2*time.Second, nil)
	c.Launch(0, errors.New("spawn failed"))
	c.Launch(time.Second, nil)

	expected := `
		# HELP test_launches_total Total number of launch attempts by result
		# TYPE test_launches_total counter
		test_launches_total{result="failure"} 1
		test_launches_total{result="success"} 2
	`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "test_launches_total")
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(c.Registry(), "test_launch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_RunningGauge(t *testing.T) {
	c := NewCollector("test")

	c.SetRunning(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.running))

	c.SetRunning(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.running))
}

func TestCollector_HealthAndReconcile(t *testing.T) {
	c := NewCollector("")

	c.HealthCheck(CheckAlive)
	c.HealthCheck(CheckAlive)
	c.HealthCheck(CheckSkipped)
	c.Reconciliation(SourceDisconnect)
	c.Stop(ResultForced)
	c.Shutdown(500 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.healthChecks.WithLabelValues(CheckAlive)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.healthChecks.WithLabelValues(CheckSkipped)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.reconciliations.WithLabelValues(SourceDisconnect)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.stops.WithLabelValues(ResultForced)))

	count, err := testutil.GatherAndCount(c.Registry(), "browserfleet_shutdown_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SetRunning(1)
		c.Launch(time.Second, nil)
		c.Stop(ResultSuccess)
		c.HealthCheck(CheckDead)
		c.Reconciliation(SourcePoll)
		c.Shutdown(time.Second)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.SetRunning(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_instances_running 2")
}
