package oracle

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisFeedRoundTrip(t *testing.T) {
	addr := os.Getenv("COLLARFI_TEST_REDIS")
	if addr == "" {
		t.Skip("COLLARFI_TEST_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	pair := "test-" + uuid.NewString()
	feed := NewRedisFeed(rdb, pair, time.Second)
	defer rdb.Del(ctx, feed.latestKey(), feed.historyKey())

	if _, err := feed.Latest(); err == nil {
		t.Fatalf("expected empty feed")
	}
	if err := feed.Publish(ctx, big.NewInt(100), 1_000); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := feed.Publish(ctx, big.NewInt(110), 2_000); err != nil {
		t.Fatalf("publish: %v", err)
	}
	latest, err := feed.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Price.Int64() != 110 || latest.UpdatedAt != 2_000 {
		t.Fatalf("unexpected latest %+v", latest)
	}
	past, err := feed.At(1_500)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if past.Price.Int64() != 100 {
		t.Fatalf("unexpected historical round %+v", past)
	}
	if _, err := feed.At(500); err == nil {
		t.Fatalf("expected no round before history")
	}
}
