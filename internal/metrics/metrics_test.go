package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.AssignmentsCreated.Add(3)
	m.Reshuffles.WithLabelValues("success", "false").Inc()
	m.ConsensusOutcomes.WithLabelValues("finalized").Inc()
	m.AuditInconsistencies.Set(2)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.AssignmentsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reshuffles.WithLabelValues("success", "false")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuditInconsistencies))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry)

	assert.Panics(t, func() { New(registry) })
}
