// Command collard serves a collarfi market: the read API, the event stream
// and the settlement keeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	marketconfig "collarfi/config"
	"collarfi/core/events"
	"collarfi/core/protocol"
	"collarfi/native/oracle"
	"collarfi/native/swap"
	"collarfi/observability"
	"collarfi/observability/logging"
	telemetry "collarfi/observability/otel"
	"collarfi/services/collard/config"
	"collarfi/services/collard/keeper"
	"collarfi/services/collard/server"
	"collarfi/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/collard/config.yaml", "path to collard configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("collard: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("COLLARFI_ENV"))
	logger, closer := logging.Setup(logging.Config{
		Service:    "collard",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg, env))
	if err != nil {
		log.Fatalf("collard: init telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Duration)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("collard stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("collard stopped")
}

func telemetryConfig(cfg config.Config, env string) telemetry.Config {
	endpoint := cfg.Telemetry.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	insecure := cfg.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName: "collard",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
}

func authConfig(cfg config.Config) server.AuthConfig {
	secret := cfg.Auth.HMACSecret
	if value := strings.TrimSpace(os.Getenv("COLLARD_AUTH_SECRET")); value != "" {
		secret = value
	}
	return server.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ScopeClaim: cfg.Auth.ScopeClaim,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}
}

// market is everything run builds from the protocol configuration.
type market struct {
	proto *protocol.Protocol
	db    storage.Database
	feed  *oracle.ManualFeed
	redis *redis.Client
}

func (m *market) Close() {
	if m.redis != nil {
		_ = m.redis.Close()
	}
	if m.db != nil {
		m.db.Close()
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	mcfg, err := marketconfig.Load(cfg.ProtocolConfig)
	if err != nil {
		return fmt.Errorf("load protocol config: %w", err)
	}
	m, err := openMarket(ctx, mcfg, cfg.Keeper.LockKey != "", logger)
	if err != nil {
		return err
	}
	defer m.Close()

	stream := server.NewStream(cfg.Stream.Buffer)
	m.proto.SetEmitter(events.Multi{observability.Events(), stream})

	srvCfg := server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit:     server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		WriteTimeout:  cfg.Stream.WriteTimeout.Duration,
		ShutdownGrace: cfg.ShutdownGrace.Duration,
		Auth:          authConfig(cfg),
	}
	if cfg.Keeper.Address != "" {
		srvCfg.KeeperAddress = cfg.KeeperAddress()
	}
	if m.feed != nil {
		srvCfg.PriceFeed = m.feed
	}
	srv, err := server.New(srvCfg, m.proto, stream, logger)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(gctx) })
	if cfg.Keeper.Enabled {
		var locker keeper.Locker
		if cfg.Keeper.LockKey != "" && m.redis != nil {
			locker = keeper.NewRedisLocker(m.redis)
		}
		k := keeper.New(m.proto, locker, keeper.Config{
			Address:   cfg.KeeperAddress(),
			Interval:  cfg.Keeper.Interval.Duration,
			LockKey:   cfg.Keeper.LockKey,
			LockTTL:   cfg.Keeper.LockTTL.Duration,
			BatchSize: cfg.Keeper.BatchSize,
		}, logger)
		group.Go(func() error { return k.Run(gctx) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openMarket opens storage, builds the oracle and deploys the protocol. A
// fresh database receives the configured genesis.
func openMarket(ctx context.Context, mcfg *marketconfig.Config, needRedis bool, logger *slog.Logger) (*market, error) {
	m := &market{}
	ok := false
	defer func() {
		if !ok {
			m.Close()
		}
	}()

	if mcfg.Storage.Backend != "memory" {
		if err := os.MkdirAll(mcfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := storage.Open(mcfg.Storage.Backend, mcfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	m.db = db

	if mcfg.Oracle.Source == "redis" || needRedis {
		rdb, err := newRedisClient(ctx, mcfg.Redis)
		if err != nil {
			return nil, err
		}
		m.redis = rdb
		if mcfg.Redis.URL != "" {
			logger.Info("redis connected", logging.MaskURL("redis", mcfg.Redis.URL))
		} else {
			logger.Info("redis connected", "addr", mcfg.Redis.Addr, "db", mcfg.Redis.DB)
		}
	}

	var rdb redis.Cmdable
	if m.redis != nil {
		rdb = m.redis
	}
	priceOracle, feed, err := buildOracle(mcfg, rdb)
	if err != nil {
		return nil, err
	}
	m.feed = feed

	proto, err := protocol.New(db, protocol.Config{
		Owner:      mcfg.Owner(),
		Underlying: mcfg.Underlying(),
		Cash:       mcfg.Cash(),
		Oracle:     priceOracle,
		Addresses:  mcfg.Addresses(),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy protocol: %w", err)
	}
	m.proto = proto

	if mcfg.Swapper.Enabled {
		addr := mcfg.InventorySwapper()
		proto.RegisterSwapper(addr, swap.NewInventorySwapper(addr, proto.Tokens(), priceOracle, mcfg.Swapper.SpreadBips))
	}

	fresh, err := isFresh(proto)
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := proto.ApplyGenesis(ctx, mcfg.ProtocolGenesis()); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis applied", "owner", mcfg.Owner().Hex())
	}
	ok = true
	return m, nil
}

// isFresh reports whether the hub still has no LTV range, which genesis
// always sets.
func isFresh(proto *protocol.Protocol) (bool, error) {
	var fresh bool
	err := proto.View(func() error {
		settings, err := proto.Hub().Settings()
		if err != nil {
			return err
		}
		fresh = settings.MaxLTV == 0
		return nil
	})
	return fresh, err
}

// buildOracle returns the configured price oracle. The manual feed is
// returned as well so the API can record rounds on it.
func buildOracle(mcfg *marketconfig.Config, rdb redis.Cmdable) (oracle.PriceOracle, *oracle.ManualFeed, error) {
	ocfg, err := mcfg.OracleConfig()
	if err != nil {
		return nil, nil, err
	}
	if mcfg.Oracle.SequencerGraceSecs > 0 {
		ocfg.Sequencer = oracle.NewManualSequencer(mcfg.Oracle.SequencerUpSinceSec)
	}
	switch mcfg.Oracle.Source {
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis oracle requires a redis connection")
		}
		feed := oracle.NewRedisFeed(rdb, mcfg.Oracle.Pair, mcfg.RedisTimeout())
		o, err := oracle.NewFeedOracle(ocfg, feed)
		return o, nil, err
	default:
		price, err := mcfg.InitialPrice()
		if err != nil {
			return nil, nil, err
		}
		feed := oracle.NewManualFeed()
		feed.Set(price, uint64(time.Now().Unix()))
		o, err := oracle.NewFeedOracle(ocfg, feed)
		return o, feed, err
	}
}

func newRedisClient(ctx context.Context, cfg marketconfig.Redis) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
