package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("stockcount:followup").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stockcount:followup").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stockcount:followup", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stockcount:followup", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("stockcount:followup")))
}

func TestAddFollowUp(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddFollowUp(OutcomeDelivered)
	m.AddFollowUp(OutcomeDelivered)
	m.AddFollowUp("")

	require.Equal(t, 2.0, testutil.ToFloat64(m.followUps.WithLabelValues(OutcomeDelivered)))

	var nilMetrics *Metrics
	nilMetrics.AddFollowUp(OutcomeDuplicate)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
