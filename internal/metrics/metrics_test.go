package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	m := New()
	m.ObserveBatch("http://svn", "committed", []string{"mkdir", "put", "put"})
	m.ObserveBatch("http://svn", "failed", []string{"put"})
	m.ObserveTransition("close", nil)
	m.ObserveTransition("close", errors.New("boom"))
	m.ObserveTask("stageDist", "succeeded", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("http://svn", "committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("close", "error")))
}

func TestSetPhase(t *testing.T) {
	m := New()
	m.SetPhase("v1.0", "STAGED", []string{"CREATED", "STAGED", "PROMOTED"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("v1.0", "STAGED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues("v1.0", "CREATED")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBatch("x", "committed", []string{"put"})
	m.ObserveTransition("release", nil)
	m.ObserveTask("t", "failed", time.Second)
	assert.NotNil(t, m.Handler())
}
