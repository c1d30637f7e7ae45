package oracle

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/native/common"
)

var (
	ErrStalePrice            = common.NewError(common.KindOracle, "oracle: stale price")
	ErrInvalidPrice          = common.NewError(common.KindOracle, "oracle: invalid price")
	ErrNoRound               = common.NewError(common.KindOracle, "oracle: no price round")
	ErrHistoricalUnavailable = common.NewError(common.KindOracle, "oracle: historical price unavailable")
	ErrSequencerDown         = common.NewError(common.KindOracle, "oracle: sequencer down")
	ErrSequencerGrace        = common.NewError(common.KindOracle, "oracle: sequencer grace period")
	ErrInvalidConfig         = common.NewError(common.KindValidation, "oracle: invalid configuration")
)

// PriceOracle prices BaseUnitAmount of the base token in units of the quote
// token.
type PriceOracle interface {
	BaseToken() ethcommon.Address
	QuoteToken() ethcommon.Address
	CurrentPrice() (*big.Int, error)
	PastPrice(timestamp uint64) (*big.Int, error)
	BaseUnitAmount() *big.Int
	ConvertToBaseAmount(quoteAmount, price *big.Int) (*big.Int, error)
	ConvertToQuoteAmount(baseAmount, price *big.Int) (*big.Int, error)
}

// Round is a single price observation.
type Round struct {
	Price     *big.Int
	UpdatedAt uint64
}

// Feed supplies raw price rounds.
type Feed interface {
	Latest() (Round, error)
	// At returns the newest round updated at or before timestamp.
	At(timestamp uint64) (Round, error)
}

// SequencerFeed reports the liveness of the chain sequencer. since is the
// timestamp of the last status change.
type SequencerFeed interface {
	Status() (up bool, since uint64, err error)
}

// Config describes a feed-backed oracle.
type Config struct {
	Base           ethcommon.Address
	Quote          ethcommon.Address
	BaseUnitAmount *big.Int
	MaxAge         time.Duration
	Sequencer      SequencerFeed
	SequencerGrace time.Duration
}

// FeedOracle validates rounds from a Feed for freshness and sequencer health.
type FeedOracle struct {
	cfg   Config
	feed  Feed
	nowFn func() int64
}

// NewFeedOracle builds an oracle on top of feed.
func NewFeedOracle(cfg Config, feed Feed) (*FeedOracle, error) {
	if feed == nil || cfg.MaxAge <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.BaseUnitAmount == nil || cfg.BaseUnitAmount.Sign() <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Base == cfg.Quote {
		return nil, ErrInvalidConfig
	}
	return &FeedOracle{cfg: cfg, feed: feed, nowFn: func() int64 { return time.Now().Unix() }}, nil
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (o *FeedOracle) SetNowFunc(now func() int64) {
	if now == nil {
		o.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	o.nowFn = now
}

func (o *FeedOracle) now() uint64 { return uint64(o.nowFn()) }

func (o *FeedOracle) BaseToken() ethcommon.Address  { return o.cfg.Base }
func (o *FeedOracle) QuoteToken() ethcommon.Address { return o.cfg.Quote }

// BaseUnitAmount returns the amount of base token one price refers to.
func (o *FeedOracle) BaseUnitAmount() *big.Int { return common.Clone(o.cfg.BaseUnitAmount) }

func (o *FeedOracle) checkSequencer() error {
	if o.cfg.Sequencer == nil {
		return nil
	}
	up, since, err := o.cfg.Sequencer.Status()
	if err != nil {
		return ErrSequencerDown
	}
	if !up {
		return ErrSequencerDown
	}
	if o.now() < since+uint64(o.cfg.SequencerGrace/time.Second) {
		return ErrSequencerGrace
	}
	return nil
}

// CurrentPrice returns the latest price, rejecting stale or non-positive
// rounds.
func (o *FeedOracle) CurrentPrice() (*big.Int, error) {
	if err := o.checkSequencer(); err != nil {
		return nil, err
	}
	round, err := o.feed.Latest()
	if err != nil {
		return nil, err
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	maxAge := uint64(o.cfg.MaxAge / time.Second)
	if now := o.now(); round.UpdatedAt > now || now-round.UpdatedAt > maxAge {
		return nil, ErrStalePrice
	}
	return common.Clone(round.Price), nil
}

// PastPrice returns the price in force at timestamp. The round must not be
// older than MaxAge relative to timestamp.
func (o *FeedOracle) PastPrice(timestamp uint64) (*big.Int, error) {
	if err := o.checkSequencer(); err != nil {
		return nil, err
	}
	if timestamp > o.now() {
		return nil, ErrHistoricalUnavailable
	}
	round, err := o.feed.At(timestamp)
	if err != nil {
		return nil, ErrHistoricalUnavailable
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if timestamp-round.UpdatedAt > uint64(o.cfg.MaxAge/time.Second) {
		return nil, ErrHistoricalUnavailable
	}
	return common.Clone(round.Price), nil
}

// ConvertToBaseAmount returns quoteAmount*baseUnit/price.
func (o *FeedOracle) ConvertToBaseAmount(quoteAmount, price *big.Int) (*big.Int, error) {
	return common.MulDiv(quoteAmount, o.cfg.BaseUnitAmount, price)
}

// ConvertToQuoteAmount returns baseAmount*price/baseUnit.
func (o *FeedOracle) ConvertToQuoteAmount(baseAmount, price *big.Int) (*big.Int, error) {
	return common.MulDiv(baseAmount, price, o.cfg.BaseUnitAmount)
}
