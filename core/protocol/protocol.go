package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"collarfi/core/events"
	"collarfi/core/state"
	"collarfi/native/confighub"
	"collarfi/native/escrow"
	"collarfi/native/loans"
	"collarfi/native/oracle"
	"collarfi/native/provider"
	"collarfi/native/rolls"
	"collarfi/native/swap"
	"collarfi/native/taker"
	"collarfi/native/tokens"
	"collarfi/observability"
	"collarfi/storage"
)

const tracerName = "collarfi/core/protocol"

var (
	ErrNilDatabase   = errors.New("protocol: database required")
	ErrInvalidConfig = errors.New("protocol: invalid configuration")
)

// Addresses names the account of every engine. Zero entries are derived
// from the engine's role.
type Addresses struct {
	Provider ethcommon.Address
	Taker    ethcommon.Address
	Escrow   ethcommon.Address
	Rolls    ethcommon.Address
	Loans    ethcommon.Address
}

// Config describes one deployed market.
type Config struct {
	Owner      ethcommon.Address
	Underlying ethcommon.Address
	Cash       ethcommon.Address
	Oracle     oracle.PriceOracle
	Addresses  Addresses
	Logger     *slog.Logger
	// Now supplies the wall clock in unix seconds. Defaults to time.Now.
	Now func() int64
}

// DeriveAddress returns the deterministic account for a named component.
func DeriveAddress(label string) ethcommon.Address {
	return ethcommon.BytesToAddress(ethcrypto.Keccak256([]byte("collarfi/" + label)))
}

func (a Addresses) withDefaults() Addresses {
	fill := func(addr *ethcommon.Address, label string) {
		if *addr == (ethcommon.Address{}) {
			*addr = DeriveAddress(label)
		}
	}
	fill(&a.Provider, "provider")
	fill(&a.Taker, "taker")
	fill(&a.Escrow, "escrow")
	fill(&a.Rolls, "rolls")
	fill(&a.Loans, "loans")
	return a
}

type clockSetter interface {
	SetNowFunc(func() int64)
}

// Protocol wires every engine of a market onto one journaled state and runs
// transactions against it. All mutations must go through Execute.
type Protocol struct {
	mu sync.Mutex

	cfg    Config
	db     storage.Database
	state  *state.Manager
	buffer *events.Buffer
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() int64
	pinned atomic.Int64

	subMu      sync.RWMutex
	downstream events.Emitter

	hub      *confighub.Hub
	tokens   *tokens.Ledger
	nfts     *tokens.Registry
	swappers *swap.Directory
	provider *provider.Engine
	taker    *taker.Engine
	escrow   *escrow.Engine
	rolls    *rolls.Engine
	loans    *loans.Engine
}

// New deploys the engines on db. A fresh database gets its config hub
// initialised with cfg.Owner.
func New(db storage.Database, cfg Config) (*Protocol, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	if cfg.Underlying == (ethcommon.Address{}) || cfg.Cash == (ethcommon.Address{}) || cfg.Underlying == cfg.Cash {
		return nil, fmt.Errorf("%w: distinct underlying and cash assets required", ErrInvalidConfig)
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("%w: oracle required", ErrInvalidConfig)
	}
	cfg.Addresses = cfg.Addresses.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}

	p := &Protocol{
		cfg:        cfg,
		db:         db,
		state:      state.NewManager(db),
		buffer:     &events.Buffer{},
		logger:     cfg.Logger.With("component", "protocol"),
		tracer:     otel.Tracer(tracerName),
		clock:      cfg.Now,
		downstream: events.NoopEmitter{},
		hub:        confighub.NewHub(),
		tokens:     tokens.NewLedger(),
		nfts:       tokens.NewRegistry(),
		swappers:   swap.NewDirectory(),
	}
	if err := p.wire(); err != nil {
		return nil, err
	}
	if p.hub.Owner() == (ethcommon.Address{}) {
		err := p.Execute(context.Background(), "protocol.deploy", func() error {
			return p.hub.Initialize(cfg.Owner)
		})
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Protocol) wire() error {
	addrs := p.cfg.Addresses
	p.provider = provider.NewEngine(provider.Config{
		Address:    addrs.Provider,
		Underlying: p.cfg.Underlying,
		Cash:       p.cfg.Cash,
		Taker:      addrs.Taker,
	})
	p.taker = taker.NewEngine(taker.Config{Address: addrs.Taker, Underlying: p.cfg.Underlying, Cash: p.cfg.Cash})
	p.escrow = escrow.NewEngine(escrow.Config{Address: addrs.Escrow, Asset: p.cfg.Underlying})
	p.rolls = rolls.NewEngine(rolls.Config{Address: addrs.Rolls})
	p.loans = loans.NewEngine(loans.Config{Address: addrs.Loans, Underlying: p.cfg.Underlying, Cash: p.cfg.Cash})

	if err := p.taker.SetOracle(p.cfg.Oracle); err != nil {
		return err
	}
	if clocked, ok := p.cfg.Oracle.(clockSetter); ok {
		clocked.SetNowFunc(p.blockTime)
	}

	p.hub.SetState(p.state)
	p.hub.SetEmitter(p.buffer)
	p.tokens.SetState(p.state)
	p.tokens.SetEmitter(p.buffer)
	p.nfts.SetState(p.state)
	p.nfts.SetEmitter(p.buffer)

	p.provider.SetState(p.state)
	p.provider.SetConfigHub(p.hub)
	p.provider.SetTokens(p.tokens)
	p.provider.SetNFTs(p.nfts)
	p.provider.SetNowFunc(p.blockTime)
	p.provider.SetEmitter(p.buffer)

	p.taker.SetState(p.state)
	p.taker.SetConfigHub(p.hub)
	p.taker.SetTokens(p.tokens)
	p.taker.SetNFTs(p.nfts)
	p.taker.SetProvider(p.provider)
	p.taker.SetNowFunc(p.blockTime)
	p.taker.SetEmitter(p.buffer)

	p.escrow.SetState(p.state)
	p.escrow.SetConfigHub(p.hub)
	p.escrow.SetTokens(p.tokens)
	p.escrow.SetNFTs(p.nfts)
	p.escrow.SetNowFunc(p.blockTime)
	p.escrow.SetEmitter(p.buffer)

	p.rolls.SetState(p.state)
	p.rolls.SetConfigHub(p.hub)
	p.rolls.SetTokens(p.tokens)
	p.rolls.SetNFTs(p.nfts)
	p.rolls.SetTaker(p.taker)
	p.rolls.SetProvider(p.provider)
	p.rolls.SetNowFunc(p.blockTime)
	p.rolls.SetEmitter(p.buffer)

	p.loans.SetState(p.state)
	p.loans.SetConfigHub(p.hub)
	p.loans.SetTokens(p.tokens)
	p.loans.SetNFTs(p.nfts)
	p.loans.SetTaker(p.taker)
	p.loans.SetProvider(p.provider)
	p.loans.SetEscrow(p.escrow)
	p.loans.SetRolls(p.rolls)
	p.loans.SetSwappers(p.swappers)
	p.loans.SetNowFunc(p.blockTime)
	p.loans.SetEmitter(p.buffer)
	p.nfts.RegisterReceiver(addrs.Loans, p.loans)
	return nil
}

// blockTime is the time source of every engine. Inside a transaction it
// returns the timestamp pinned when the transaction started.
func (p *Protocol) blockTime() int64 {
	if pinned := p.pinned.Load(); pinned != 0 {
		return pinned
	}
	return p.clock()
}

// SetEmitter installs the subscriber receiving committed events. Passing nil
// resets it.
func (p *Protocol) SetEmitter(emitter events.Emitter) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if emitter == nil {
		p.downstream = events.NoopEmitter{}
		return
	}
	p.downstream = emitter
}

// RegisterSwapper makes swapper resolvable at addr. The loans engine still
// requires the address to be allow-listed by the owner.
func (p *Protocol) RegisterSwapper(addr ethcommon.Address, swapper swap.Swapper) {
	p.swappers.Register(addr, swapper)
}

// Execute runs fn as one atomic transaction. Every engine observes the same
// timestamp. State writes are committed only when fn succeeds; on error they
// are discarded together with the events fn produced.
func (p *Protocol) Execute(ctx context.Context, op string, fn func() error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	txID := uuid.NewString()
	now := p.clock()
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("collarfi.tx", txID),
		attribute.Int64("collarfi.block_time", now),
	))
	defer span.End()

	p.pinned.Store(now)
	committed := false
	defer func() {
		p.pinned.Store(0)
		if !committed {
			p.state.Discard()
			p.buffer.Reset()
		}
		observability.Transactions().Observe(op, err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.WarnContext(ctx, "transaction reverted", "tx", txID, "op", op, "err", err)
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	writes := p.state.Dirty()
	if err = p.state.Commit(); err != nil {
		return err
	}
	committed = true
	delivered := p.flush()
	span.SetAttributes(attribute.Int("collarfi.writes", writes), attribute.Int("collarfi.events", delivered))
	p.logger.DebugContext(ctx, "transaction committed", "tx", txID, "op", op, "writes", writes, "events", delivered)
	return nil
}

func (p *Protocol) flush() int {
	pending := p.buffer.Drain()
	p.subMu.RLock()
	downstream := p.downstream
	p.subMu.RUnlock()
	for _, evt := range pending {
		downstream.Emit(evt)
	}
	observability.Transactions().RecordEvents(len(pending))
	return len(pending)
}

// View runs fn against committed state at the current time. Anything fn
// writes is dropped.
func (p *Protocol) View(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned.Store(p.clock())
	defer func() {
		p.pinned.Store(0)
		p.state.Discard()
		p.buffer.Reset()
	}()
	return fn()
}

func (p *Protocol) Config() Config             { return p.cfg }
func (p *Protocol) Addresses() Addresses       { return p.cfg.Addresses }
func (p *Protocol) Hub() *confighub.Hub        { return p.hub }
func (p *Protocol) Tokens() *tokens.Ledger     { return p.tokens }
func (p *Protocol) NFTs() *tokens.Registry     { return p.nfts }
func (p *Protocol) Swappers() *swap.Directory  { return p.swappers }
func (p *Protocol) Provider() *provider.Engine { return p.provider }
func (p *Protocol) Taker() *taker.Engine       { return p.taker }
func (p *Protocol) Escrow() *escrow.Engine     { return p.escrow }
func (p *Protocol) Rolls() *rolls.Engine       { return p.rolls }
func (p *Protocol) Loans() *loans.Engine       { return p.loans }
func (p *Protocol) Oracle() oracle.PriceOracle { return p.cfg.Oracle }
func (p *Protocol) Now() int64                 { return p.blockTime() }
