// Package server exposes read access to a collarfi market over HTTP, a
// websocket stream of committed events and operator routes guarded by bearer
// tokens.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"collarfi/core/protocol"
	"collarfi/native/common"
	"collarfi/native/escrow"
	"collarfi/native/provider"
	"collarfi/native/rolls"
	"collarfi/native/taker"
	"collarfi/observability"
)

var (
	errBadRequest        = common.NewError(common.KindValidation, "server: malformed request")
	errSettleDisabled    = common.NewError(common.KindAuthorization, "server: settlement requires a keeper address")
	errSubscriberDropped = errors.New("server: subscriber dropped")
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress  string
	RateLimit      RateLimit
	KeeperAddress  ethcommon.Address
	OriginPatterns []string
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration
	// Auth guards the operator routes. Without a secret they reject every
	// request.
	Auth AuthConfig
	// PriceFeed, when set, accepts rounds posted to /v1/price.
	PriceFeed PriceRecorder
}

// PriceRecorder records a price round, as oracle.ManualFeed does.
type PriceRecorder interface {
	Set(price *big.Int, updatedAt uint64)
}

// Server hosts the collard HTTP API.
type Server struct {
	cfg     Config
	proto   *protocol.Protocol
	stream  *Stream
	limiter *RateLimiter
	auth    *Authenticator
	logger  *slog.Logger
	handler http.Handler
}

// New constructs a server for proto. Committed events reach websocket
// clients only when stream is installed as (part of) the protocol emitter.
func New(cfg Config, proto *protocol.Protocol, stream *Stream, logger *slog.Logger) (*Server, error) {
	if proto == nil {
		return nil, fmt.Errorf("server: protocol required")
	}
	if stream == nil {
		stream = NewStream(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	s := &Server{
		cfg:     cfg,
		proto:   proto,
		stream:  stream,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "server"),
	}
	s.auth = NewAuthenticator(cfg.Auth, s.logger)
	if !s.auth.Enabled() {
		s.logger.Warn("operator routes disabled: no auth secret configured")
	}
	s.handler = otelhttp.NewHandler(s.routes(), "collard.http")
	return s, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Stream returns the event fan-out served on /v1/events.
func (s *Server) Stream() *Stream { return s.stream }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware("v1"))
		operator := s.auth.Middleware(ScopeOperator)
		v1.With(observe("config")).Get("/config", s.handleConfig)
		v1.With(observe("price")).Get("/price", s.handlePrice)
		if s.cfg.PriceFeed != nil {
			v1.With(observe("price.set"), operator).Post("/price", s.handleSetPrice)
		}
		v1.With(observe("takers.get")).Get("/takers/{id}", s.handleTaker)
		v1.With(observe("takers.settle"), operator).Post("/takers/{id}/settle", s.handleSettle)
		v1.With(observe("providers.offers")).Get("/providers/offers/{id}", s.handleProviderOffer)
		v1.With(observe("providers.positions")).Get("/providers/positions/{id}", s.handleProviderPosition)
		v1.With(observe("escrows.offers")).Get("/escrows/offers/{id}", s.handleEscrowOffer)
		v1.With(observe("escrows.get")).Get("/escrows/{id}", s.handleEscrow)
		v1.With(observe("loans.get")).Get("/loans/{id}", s.handleLoan)
		v1.With(observe("rolls.get")).Get("/rolls/{id}", s.handleRollOffer)
		v1.With(observe("rolls.preview")).Get("/rolls/{id}/preview", s.handleRollPreview)
		v1.Get("/events", s.handleEvents)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down within the grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func observe(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			observability.API().Observe(route, r.Method, recorder.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"now":         s.proto.Now(),
		"subscribers": s.stream.Subscribers(),
	})
}

func pathID(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, raw)
	}
	return id, nil
}

// queryPrice parses the optional price query parameter. A nil result means
// the caller should use the oracle.
func queryPrice(r *http.Request) (*big.Int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("price"))
	if raw == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(raw, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid price %q", errBadRequest, raw)
	}
	return price, nil
}

func (s *Server) ownerOf(collection ethcommon.Address, id uint64) (ethcommon.Address, bool) {
	nfts := s.proto.NFTs()
	if !nfts.Exists(collection, id) {
		return ethcommon.Address{}, false
	}
	owner, err := nfts.OwnerOf(collection, id)
	return owner, err == nil
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.proto.Config()
	addrs := s.proto.Addresses()
	contracts := map[string]string{
		common.ModuleProvider: addrs.Provider.Hex(),
		common.ModuleTaker:    addrs.Taker.Hex(),
		common.ModuleEscrow:   addrs.Escrow.Hex(),
		common.ModuleRolls:    addrs.Rolls.Hex(),
		common.ModuleLoans:    addrs.Loans.Hex(),
	}
	var view configView
	err := s.proto.View(func() error {
		hub := s.proto.Hub()
		settings, err := hub.Settings()
		if err != nil {
			return err
		}
		view = newConfigView(settings)
		view.Paused = make(map[string]bool, len(contracts))
		for module := range contracts {
			view.Paused[module] = hub.IsPaused(module)
		}
		view.Now = uint64(s.proto.Now())
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	view.Underlying = cfg.Underlying.Hex()
	view.Cash = cfg.Cash.Hex()
	view.Contracts = contracts
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request) {
	var price *big.Int
	err := s.proto.View(func() error {
		var err error
		price, err = s.proto.Taker().CurrentOraclePrice()
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	o := s.proto.Oracle()
	writeJSON(w, http.StatusOK, priceView{
		Price:          amount(price),
		BaseUnitAmount: amount(o.BaseUnitAmount()),
		Base:           o.BaseToken().Hex(),
		Quote:          o.QuoteToken().Hex(),
	})
}

type setPriceRequest struct {
	Price string `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok || price.Sign() <= 0 {
		writeError(w, fmt.Errorf("%w: invalid price %q", errBadRequest, req.Price))
		return
	}
	updatedAt := uint64(s.proto.Now())
	s.cfg.PriceFeed.Set(price, updatedAt)
	s.logger.InfoContext(r.Context(), "price round recorded", "price", price.String(), "updated_at", updatedAt)
	s.handlePrice(w, r)
}

func (s *Server) handleTaker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := queryPrice(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var view takerView
	err = s.proto.View(func() error {
		engine := s.proto.Taker()
		pos, err := engine.Position(id)
		if err != nil {
			return err
		}
		var preview *taker.Settlement
		if !pos.Settled {
			endPrice := price
			if endPrice == nil {
				// A failing oracle leaves the preview out rather than the position.
				endPrice, _ = engine.CurrentOraclePrice()
			}
			if endPrice != nil {
				if preview, err = engine.PreviewSettlement(pos, endPrice); err != nil {
					return err
				}
			}
		}
		owner, ok := s.ownerOf(engine.Address(), id)
		view = newTakerView(pos, owner, ok, uint64(s.proto.Now()), preview)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.cfg.KeeperAddress == (ethcommon.Address{}) {
		writeError(w, errSettleDisabled)
		return
	}
	var settlement *taker.Settlement
	err = s.proto.Execute(r.Context(), "api.settle", func() error {
		var err error
		settlement, err = s.proto.Taker().SettlePairedPosition(s.cfg.KeeperAddress, id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "position settled", "taker_id", formatID(id), "end_price", amount(settlement.EndPrice))
	writeJSON(w, http.StatusOK, settleView{ID: id, Settlement: *newSettlementView(settlement)})
}

func (s *Server) handleProviderOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var offer *provider.Offer
	err = s.proto.View(func() error {
		var err error
		offer, err = s.proto.Provider().Offer(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProviderOfferView(offer))
}

func (s *Server) handleProviderPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var view providerPositionView
	err = s.proto.View(func() error {
		engine := s.proto.Provider()
		pos, err := engine.Position(id)
		if err != nil {
			return err
		}
		owner, ok := s.ownerOf(engine.Address(), id)
		view = newProviderPositionView(pos, owner, ok)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEscrowOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var offer *escrow.Offer
	err = s.proto.View(func() error {
		var err error
		offer, err = s.proto.Escrow().Offer(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowOfferView(offer))
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var view escrowView
	err = s.proto.View(func() error {
		engine := s.proto.Escrow()
		esc, err := engine.Escrow(id)
		if err != nil {
			return err
		}
		lateFee := big.NewInt(0)
		if !esc.Released {
			if lateFee, err = engine.LateFee(esc); err != nil {
				return err
			}
		}
		owner, ok := s.ownerOf(engine.Address(), id)
		view = newEscrowView(esc, owner, ok, lateFee)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var view loanView
	err = s.proto.View(func() error {
		engine := s.proto.Loans()
		loan, err := engine.Loan(id)
		if err != nil {
			return err
		}
		var graceEnd uint64
		if loan.UsesEscrow && !loan.Closed {
			if graceEnd, err = engine.EscrowGracePeriodEnd(id); err != nil {
				return err
			}
		}
		owner, ok := s.ownerOf(engine.Address(), id)
		view = newLoanView(loan, owner, ok, graceEnd)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRollOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var offer *rolls.Offer
	err = s.proto.View(func() error {
		var err error
		offer, err = s.proto.Rolls().Offer(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRollOfferView(offer))
}

func (s *Server) handleRollPreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := queryPrice(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var preview *rolls.Preview
	err = s.proto.View(func() error {
		if price == nil {
			if price, err = s.proto.Taker().CurrentOraclePrice(); err != nil {
				return err
			}
		}
		preview, err = s.proto.Rolls().PreviewRoll(id, price)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRollPreviewView(preview))
}
