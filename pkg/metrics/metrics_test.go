package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("consent", "test", reg)

	m.InvitationTransitions.WithLabelValues("pending", "accepted").Inc()
	m.OutboxEventsProcessed.Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvitationTransitions.WithLabelValues("pending", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsProcessed))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "consent_test_invitation_transitions_total")
	assert.Contains(t, names, "consent_test_outbox_events_processed_total")
}

func TestNewMetricsTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
