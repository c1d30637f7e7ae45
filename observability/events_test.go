package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"collarfi/core/events"
	"collarfi/core/types"
)

func TestEventMetricsCountsAndVolume(t *testing.T) {
	m := Events()
	counter := m.events.WithLabelValues("loans", "loans.opened")
	volume := m.volume.WithLabelValues("loans.opened")
	beforeCount := testutil.ToFloat64(counter)
	beforeVolume := testutil.ToFloat64(volume)

	m.Emit(events.Wrap(types.NewEvent("loans.opened").Set("loanAmount", "900")))
	m.Emit(events.Wrap(types.NewEvent("loans.opened").Set("loanAmount", "not-a-number")))

	if got := testutil.ToFloat64(counter); got != beforeCount+2 {
		t.Fatalf("expected %v events, got %v", beforeCount+2, got)
	}
	if got := testutil.ToFloat64(volume); got != beforeVolume+900 {
		t.Fatalf("expected volume %v, got %v", beforeVolume+900, got)
	}
}

func TestEventMetricsIgnoresNegativeVolume(t *testing.T) {
	m := Events()
	volume := m.volume.WithLabelValues("rolls.executed")
	before := testutil.ToFloat64(volume)
	m.Emit(events.Wrap(types.NewEvent("rolls.executed").Set("rollFee", "-5")))
	m.Emit(events.Wrap(nil))
	m.Emit(nil)
	if got := testutil.ToFloat64(volume); got != before {
		t.Fatalf("expected negative fee to be skipped, got %v", got)
	}
}
