package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed reads rounds published by an external price pusher. The latest
// round lives in a hash at "price:{pair}" with fields "price" and "ts";
// history is a sorted set at "price:{pair}:history" scored by timestamp.
type RedisFeed struct {
	rdb     redis.Cmdable
	pair    string
	timeout time.Duration
}

// NewRedisFeed returns a feed for pair. timeout bounds every Redis call.
func NewRedisFeed(rdb redis.Cmdable, pair string, timeout time.Duration) *RedisFeed {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisFeed{rdb: rdb, pair: pair, timeout: timeout}
}

func (f *RedisFeed) latestKey() string  { return "price:" + f.pair }
func (f *RedisFeed) historyKey() string { return "price:" + f.pair + ":history" }

func historyMember(round Round) string {
	return strconv.FormatUint(round.UpdatedAt, 10) + ":" + round.Price.String()
}

func parseHistoryMember(member string) (Round, error) {
	tsPart, pricePart, ok := strings.Cut(member, ":")
	if !ok {
		return Round{}, fmt.Errorf("redis feed: malformed history member %q", member)
	}
	ts, err := strconv.ParseUint(tsPart, 10, 64)
	if err != nil {
		return Round{}, fmt.Errorf("redis feed: parse ts: %w", err)
	}
	price, ok := new(big.Int).SetString(pricePart, 10)
	if !ok {
		return Round{}, fmt.Errorf("redis feed: parse price %q", pricePart)
	}
	return Round{Price: price, UpdatedAt: ts}, nil
}

func parseLatest(vals map[string]string) (Round, error) {
	if len(vals) == 0 {
		return Round{}, ErrNoRound
	}
	priceStr, ok := vals["price"]
	if !ok {
		return Round{}, ErrNoRound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return Round{}, fmt.Errorf("redis feed: parse price %q", priceStr)
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return Round{}, ErrNoRound
	}
	ts, err := strconv.ParseUint(tsStr, 10, 64)
	if err != nil {
		return Round{}, fmt.Errorf("redis feed: parse ts: %w", err)
	}
	return Round{Price: price, UpdatedAt: ts}, nil
}

// Publish stores a round as both the latest value and a history entry.
func (f *RedisFeed) Publish(ctx context.Context, price *big.Int, updatedAt uint64) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	round := Round{Price: price, UpdatedAt: updatedAt}
	_, err := f.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, f.historyKey(), redis.Z{Score: float64(updatedAt), Member: historyMember(round)})
		pipe.HSet(ctx, f.latestKey(), map[string]interface{}{
			"price": price.String(),
			"ts":    strconv.FormatUint(updatedAt, 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis feed: publish %s: %w", f.pair, err)
	}
	return nil
}

// Latest implements Feed.
func (f *RedisFeed) Latest() (Round, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	vals, err := f.rdb.HGetAll(ctx, f.latestKey()).Result()
	if err != nil {
		return Round{}, fmt.Errorf("redis feed: latest %s: %w", f.pair, err)
	}
	return parseLatest(vals)
}

// At implements Feed.
func (f *RedisFeed) At(timestamp uint64) (Round, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	members, err := f.rdb.ZRevRangeByScore(ctx, f.historyKey(), &redis.ZRangeBy{
		Max:   strconv.FormatUint(timestamp, 10),
		Min:   "-inf",
		Count: 1,
	}).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(members) == 0) {
		return Round{}, ErrNoRound
	}
	if err != nil {
		return Round{}, fmt.Errorf("redis feed: history %s: %w", f.pair, err)
	}
	return parseHistoryMember(members[0])
}
