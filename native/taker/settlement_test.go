package taker

import (
	"math/big"
	"testing"
)

func testPosition(takerLocked int64, put, call uint64) *Position {
	locked := big.NewInt(takerLocked)
	providerLocked, err := CalculateProviderLocked(locked, put, call)
	if err != nil {
		panic(err)
	}
	return &Position{
		StartPrice:        big.NewInt(1_000),
		PutStrikePercent:  put,
		CallStrikePercent: call,
		TakerLocked:       locked,
		ProviderLocked:    providerLocked,
	}
}

func settle(t *testing.T, p *Position, endPrice int64) *Settlement {
	t.Helper()
	s, err := CalculateSettlement(p, big.NewInt(endPrice))
	if err != nil {
		t.Fatalf("settlement at %d: %v", endPrice, err)
	}
	return s
}

func TestSettlementAtStrikes(t *testing.T) {
	p := testPosition(100, 9_000, 12_000)
	if p.ProviderLocked.Int64() != 200 {
		t.Fatalf("expected provider locked 200, got %s", p.ProviderLocked)
	}
	atCall := settle(t, p, 1_200)
	if atCall.TakerBalance.Int64() != 300 || atCall.ProviderDelta.Int64() != -200 {
		t.Fatalf("at call strike taker should receive the full pot: %+v", atCall)
	}
	atPut := settle(t, p, 900)
	if atPut.TakerBalance.Sign() != 0 || atPut.ProviderDelta.Int64() != 100 {
		t.Fatalf("at put strike taker should receive nothing: %+v", atPut)
	}
	beyond := settle(t, p, 5_000)
	if beyond.TakerBalance.Int64() != 300 || beyond.EndPrice.Int64() != 1_200 {
		t.Fatalf("price above call must clamp: %+v", beyond)
	}
	below := settle(t, p, 1)
	if below.TakerBalance.Sign() != 0 || below.EndPrice.Int64() != 900 {
		t.Fatalf("price below put must clamp: %+v", below)
	}
}

func TestSettlementLinearShare(t *testing.T) {
	p := testPosition(100, 9_000, 12_000)
	mid := settle(t, p, 1_050)
	// (1.05-0.9)/(1.2-0.9) of the 300 pot.
	if mid.TakerBalance.Int64() != 150 || mid.ProviderDelta.Int64() != -50 {
		t.Fatalf("unexpected linear share: %+v", mid)
	}
	flat := settle(t, p, 1_000)
	if flat.TakerBalance.Int64() != 100 || flat.ProviderDelta.Sign() != 0 {
		t.Fatalf("start price must leave both legs whole: %+v", flat)
	}
}

func TestSettlementRoundsTakerDown(t *testing.T) {
	p := testPosition(101, 9_000, 12_000)
	if p.ProviderLocked.Int64() != 202 {
		t.Fatalf("unexpected provider locked %s", p.ProviderLocked)
	}
	up := settle(t, p, 1_033)
	if up.TakerBalance.Int64() != 134 || up.ProviderDelta.Int64() != -33 {
		t.Fatalf("taker gain must round down: %+v", up)
	}
	down := settle(t, p, 967)
	if down.TakerBalance.Int64() != 67 || down.ProviderDelta.Int64() != 34 {
		t.Fatalf("provider gain must round up: %+v", down)
	}
}

func TestSettlementConservationAndMonotonicity(t *testing.T) {
	for _, strikes := range [][2]uint64{{9_000, 12_000}, {5_000, 10_010}, {9_999, 100_000}, {1_000, 15_000}} {
		p := testPosition(12_345_678, strikes[0], strikes[1])
		pot := new(big.Int).Add(p.TakerLocked, p.ProviderLocked)
		prevTaker := big.NewInt(-1)
		prevProvider := (*big.Int)(nil)
		for price := int64(0); price <= 11_000; price += 7 {
			s := settle(t, p, price)
			providerWithdrawable := new(big.Int).Add(p.ProviderLocked, s.ProviderDelta)
			if providerWithdrawable.Sign() < 0 || s.TakerBalance.Sign() < 0 {
				t.Fatalf("negative leg at price %d strikes %v", price, strikes)
			}
			if got := new(big.Int).Add(s.TakerBalance, providerWithdrawable); got.Cmp(pot) != 0 {
				t.Fatalf("conservation broken at price %d strikes %v: %s != %s", price, strikes, got, pot)
			}
			if s.TakerBalance.Cmp(prevTaker) < 0 {
				t.Fatalf("taker payout decreased at price %d strikes %v", price, strikes)
			}
			if prevProvider != nil && providerWithdrawable.Cmp(prevProvider) > 0 {
				t.Fatalf("provider payout increased at price %d strikes %v", price, strikes)
			}
			prevTaker = s.TakerBalance
			prevProvider = providerWithdrawable
		}
	}
}

func TestCalculateProviderLockedRejectsParStrikes(t *testing.T) {
	if _, err := CalculateProviderLocked(big.NewInt(1), 10_000, 12_000); err == nil {
		t.Fatalf("expected put at par rejected")
	}
	if _, err := CalculateProviderLocked(big.NewInt(1), 9_000, 10_000); err == nil {
		t.Fatalf("expected call at par rejected")
	}
}
