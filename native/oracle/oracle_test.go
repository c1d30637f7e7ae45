package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func newTestOracle(t *testing.T, feed Feed, seq SequencerFeed, now *int64) *FeedOracle {
	t.Helper()
	o, err := NewFeedOracle(Config{
		Base:           ethcommon.HexToAddress("0x01"),
		Quote:          ethcommon.HexToAddress("0x02"),
		BaseUnitAmount: big.NewInt(1e18),
		MaxAge:         time.Hour,
		Sequencer:      seq,
		SequencerGrace: time.Hour,
	}, feed)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	o.SetNowFunc(func() int64 { return *now })
	return o
}

func TestCurrentPriceStaleness(t *testing.T) {
	now := int64(10_000)
	feed := NewManualFeed()
	o := newTestOracle(t, feed, nil, &now)
	if _, err := o.CurrentPrice(); !errors.Is(err, ErrNoRound) {
		t.Fatalf("expected no round, got %v", err)
	}
	feed.Set(big.NewInt(2000), 10_000)
	price, err := o.CurrentPrice()
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if price.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("unexpected price %s", price)
	}
	now += 3601
	if _, err := o.CurrentPrice(); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
	feed.Set(big.NewInt(0), uint64(now))
	if _, err := o.CurrentPrice(); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestPastPrice(t *testing.T) {
	now := int64(100_000)
	feed := NewManualFeed()
	o := newTestOracle(t, feed, nil, &now)
	feed.Set(big.NewInt(300), 90_000)
	feed.Set(big.NewInt(100), 50_000)
	feed.Set(big.NewInt(200), 52_000)

	price, err := o.PastPrice(53_000)
	if err != nil {
		t.Fatalf("past price: %v", err)
	}
	if price.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected round at or before timestamp, got %s", price)
	}
	if _, err := o.PastPrice(40_000); !errors.Is(err, ErrHistoricalUnavailable) {
		t.Fatalf("expected unavailable before first round, got %v", err)
	}
	if _, err := o.PastPrice(80_000); !errors.Is(err, ErrHistoricalUnavailable) {
		t.Fatalf("expected unavailable when round too old, got %v", err)
	}
	if _, err := o.PastPrice(200_000); !errors.Is(err, ErrHistoricalUnavailable) {
		t.Fatalf("expected unavailable for future timestamp, got %v", err)
	}
}

func TestSequencerChecks(t *testing.T) {
	now := int64(10_000)
	feed := NewManualFeed()
	feed.Set(big.NewInt(5), 10_000)
	seq := NewManualSequencer(0)
	o := newTestOracle(t, feed, seq, &now)
	if _, err := o.CurrentPrice(); err != nil {
		t.Fatalf("expected healthy sequencer, got %v", err)
	}
	seq.SetStatus(false, 9_000)
	if _, err := o.CurrentPrice(); !errors.Is(err, ErrSequencerDown) {
		t.Fatalf("expected sequencer down, got %v", err)
	}
	seq.SetStatus(true, 9_500)
	if _, err := o.CurrentPrice(); !errors.Is(err, ErrSequencerGrace) {
		t.Fatalf("expected grace period, got %v", err)
	}
}

func TestConversions(t *testing.T) {
	now := int64(0)
	o := newTestOracle(t, NewManualFeed(), nil, &now)
	price := big.NewInt(2_000_000_000) // 2000 cash units (6 decimals) per 1e18 base
	quote, err := o.ConvertToQuoteAmount(big.NewInt(5e17), price)
	if err != nil {
		t.Fatalf("to quote: %v", err)
	}
	if quote.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected quote %s", quote)
	}
	base, err := o.ConvertToBaseAmount(quote, price)
	if err != nil {
		t.Fatalf("to base: %v", err)
	}
	if base.Cmp(big.NewInt(5e17)) != 0 {
		t.Fatalf("unexpected base %s", base)
	}
}

func TestRedisMembersParse(t *testing.T) {
	round := Round{Price: big.NewInt(123456789), UpdatedAt: 42}
	parsed, err := parseHistoryMember(historyMember(round))
	if err != nil {
		t.Fatalf("parse member: %v", err)
	}
	if parsed.UpdatedAt != 42 || parsed.Price.Cmp(round.Price) != 0 {
		t.Fatalf("unexpected round %+v", parsed)
	}
	if _, err := parseHistoryMember("garbage"); err == nil {
		t.Fatalf("expected malformed member error")
	}
	if _, err := parseLatest(map[string]string{}); !errors.Is(err, ErrNoRound) {
		t.Fatalf("expected no round, got %v", err)
	}
	latest, err := parseLatest(map[string]string{"price": "7", "ts": "9"})
	if err != nil || latest.Price.Int64() != 7 || latest.UpdatedAt != 9 {
		t.Fatalf("unexpected latest %+v err=%v", latest, err)
	}
}
