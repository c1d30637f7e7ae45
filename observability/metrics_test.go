package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"collarfi/native/common"
)

func TestTransactionsObserveOutcome(t *testing.T) {
	m := Transactions()
	committed := m.transactions.WithLabelValues("loans.open", "committed")
	reverted := m.transactions.WithLabelValues("loans.open", "reverted")
	economic := m.reverts.WithLabelValues("loans.open", "economic")
	paused := m.reverts.WithLabelValues("loans.open", "paused")
	baseCommitted := testutil.ToFloat64(committed)
	baseReverted := testutil.ToFloat64(reverted)
	baseEconomic := testutil.ToFloat64(economic)
	basePaused := testutil.ToFloat64(paused)

	m.Observe("loans.open", nil, time.Millisecond)
	m.Observe("loans.open", common.NewError(common.KindEconomic, "slippage"), time.Millisecond)
	m.Observe("loans.open", common.ErrModulePaused, time.Millisecond)

	if got := testutil.ToFloat64(committed); got != baseCommitted+1 {
		t.Fatalf("committed: want %v got %v", baseCommitted+1, got)
	}
	if got := testutil.ToFloat64(reverted); got != baseReverted+2 {
		t.Fatalf("reverted: want %v got %v", baseReverted+2, got)
	}
	if got := testutil.ToFloat64(economic); got != baseEconomic+1 {
		t.Fatalf("economic: want %v got %v", baseEconomic+1, got)
	}
	if got := testutil.ToFloat64(paused); got != basePaused+1 {
		t.Fatalf("paused: want %v got %v", basePaused+1, got)
	}
}

func TestErrorKindUnknown(t *testing.T) {
	if got := errorKind(errors.New("boom")); got != "unknown" {
		t.Fatalf("expected unknown kind, got %q", got)
	}
}

func TestAPIObserveCountsErrors(t *testing.T) {
	m := API()
	errs := m.errors.WithLabelValues("/v1/loans", "422")
	before := testutil.ToFloat64(errs)
	m.Observe("/v1/loans", "POST", 422, time.Millisecond)
	m.Observe("/v1/loans", "POST", 200, time.Millisecond)
	if got := testutil.ToFloat64(errs); got != before+1 {
		t.Fatalf("expected one error, got %v", got-before)
	}
	m.RecordThrottle("", "")
}
