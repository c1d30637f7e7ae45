// Package keeper settles expired paired positions on a timer.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"collarfi/core/protocol"
	"collarfi/native/common"
	"collarfi/observability/metrics"
)

// Config tunes the sweep.
type Config struct {
	Address   ethcommon.Address
	Interval  time.Duration
	LockKey   string
	LockTTL   time.Duration
	BatchSize int
}

// Result summarises one sweep.
type Result struct {
	Scanned int
	Due     int
	Settled int
	Failed  int
	Skipped bool
}

// Keeper settles every position whose expiration has passed. Settlement is
// permissionless; Address only labels the caller.
type Keeper struct {
	proto   *protocol.Protocol
	locker  Locker
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.KeeperMetrics

	// cursor is the lowest position id that may still be unsettled.
	cursor uint64
}

// New returns a keeper for proto. A nil locker uses a process-local one.
func New(proto *protocol.Protocol, locker Locker, cfg Config, logger *slog.Logger) *Keeper {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "collard:keeper"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Keeper{
		proto:   proto,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.With("component", "keeper"),
		metrics: metrics.Keeper(),
		cursor:  1,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			k.logger.Warn("keeper sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep settles up to BatchSize expired positions, one transaction each. A
// failed settlement is logged and counted; it does not stop the sweep.
func (k *Keeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	release, err := k.locker.Acquire(ctx, k.cfg.LockKey, k.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		k.metrics.ObserveLockSkipped()
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		return res, err
	}
	defer release()

	due, scanned, err := k.duePositions()
	if err != nil {
		return res, err
	}
	res.Scanned, res.Due = scanned, len(due)
	if len(due) > k.cfg.BatchSize {
		due = due[:k.cfg.BatchSize]
	}
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := k.proto.Execute(ctx, "keeper.settle", func() error {
			_, err := k.proto.Taker().SettlePairedPosition(k.cfg.Address, id)
			return err
		})
		if err != nil {
			res.Failed++
			k.metrics.ObserveFailure(common.KindOf(err).String())
			k.logger.Warn("settlement failed", "position", id, "err", err)
			continue
		}
		res.Settled++
		k.metrics.ObserveSettled("taker")
		k.logger.Info("position settled", "position", id)
	}
	k.metrics.ObserveSweep(k.proto.Now(), res.Due-res.Settled)
	return res, nil
}

// duePositions lists unsettled positions past expiration and advances the
// cursor past the settled prefix.
func (k *Keeper) duePositions() ([]uint64, int, error) {
	var due []uint64
	scanned := 0
	err := k.proto.View(func() error {
		taker := k.proto.Taker()
		now := uint64(k.proto.Now())
		next := taker.NextPositionID()
		advancing := true
		for id := k.cursor; id < next; id++ {
			pos, err := taker.Position(id)
			if err != nil {
				return err
			}
			scanned++
			if pos.Settled {
				if advancing {
					k.cursor = id + 1
				}
				continue
			}
			advancing = false
			if now >= pos.Expiration {
				due = append(due, id)
			}
		}
		return nil
	})
	return due, scanned, err
}
