package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/engine"
)

// defaultLockTTL bounds how long a distributed market lock may outlive a
// crashed holder.
const defaultLockTTL = 10 * time.Second

// MarketHandler serves the market lifecycle and trading endpoints. Every
// mutating endpoint optionally runs under a distributed per-market lock so
// several daemon replicas can share one Postgres ledger.
type MarketHandler struct {
	engine  *engine.Engine
	asset   domain.SettlementAsset
	lock    domain.MarketLock  // nil: single-replica deployment
	cache   domain.MarketCache // nil: no read cache
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. lock and cache may be nil.
func NewMarketHandler(eng *engine.Engine, asset domain.SettlementAsset, lock domain.MarketLock, cache domain.MarketCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine:  eng,
		asset:   asset,
		lock:    lock,
		cache:   cache,
		lockTTL: defaultLockTTL,
		logger:  logger.With(slog.String("handler", "market")),
	}
}

// withLock runs fn under the distributed market lock when one is
// configured.
func (h *MarketHandler) withLock(ctx context.Context, marketID string, fn func() error) error {
	if h.lock == nil {
		return fn()
	}
	unlock, err := h.lock.Acquire(ctx, marketID, h.lockTTL)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// invalidate drops the cached snapshot after a successful mutation.
func (h *MarketHandler) invalidate(ctx context.Context, marketID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, marketID); err != nil {
		h.logger.Warn("cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

type createMarketRequest struct {
	Title           string     `json:"title"`
	Admin           string     `json:"admin"`
	LiquidityParam  string     `json:"liquidity_param"`
	CloseTime       *time.Time `json:"close_time,omitempty"`
	ClaimWindowSecs int64      `json:"claim_window_secs,omitempty"`
	CustodyAccount  string     `json:"custody_account,omitempty"`
	FeeRateBps      int64      `json:"fee_rate_bps,omitempty"`
	FeeRecipient    string     `json:"fee_recipient,omitempty"`
	FeeChargeBuy    bool       `json:"fee_charge_buy,omitempty"`
	FeeChargeSell   bool       `json:"fee_charge_sell,omitempty"`
}

// CreateMarket registers a new unfunded market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	b, err := parseAmount(req.LiquidityParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.engine.CreateMarket(r.Context(), engine.CreateMarketParams{
		Title:          req.Title,
		Admin:          req.Admin,
		LiquidityParam: b,
		Asset:          h.asset,
		CloseTime:      req.CloseTime,
		ClaimWindow:    time.Duration(req.ClaimWindowSecs) * time.Second,
		CustodyAccount: req.CustodyAccount,
		Fee: domain.FeeConfig{
			RateBps:    req.FeeRateBps,
			Recipient:  req.FeeRecipient,
			ChargeBuy:  req.FeeChargeBuy,
			ChargeSell: req.FeeChargeSell,
		},
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMarketView(market, time.Now()))
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// Fund pulls the LMSR subsidy from the admin and opens trading.
// POST /api/markets/{id}/fund
func (h *MarketHandler) Fund(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var ev domain.Event
	err := h.withLock(r.Context(), id, func() error {
		var err error
		ev, err = h.engine.Fund(r.Context(), id, req.Actor)
		return err
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toEventView(ev))
}

type resolveRequest struct {
	Actor   string `json:"actor"`
	Outcome string `json:"outcome"`
}

// Resolve fixes the winning outcome and closes the market.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	var ev domain.Event
	err = h.withLock(r.Context(), id, func() error {
		var err error
		ev, err = h.engine.Resolve(r.Context(), id, req.Actor, outcome)
		return err
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toEventView(ev))
}

// Claim pays out the caller's winning shares.
// POST /api/markets/{id}/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var ev domain.Event
	err := h.withLock(r.Context(), id, func() error {
		var err error
		ev, err = h.engine.Claim(r.Context(), id, req.Actor)
		return err
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toEventView(ev))
}

// Withdraw sweeps the residual pool to the admin after settlement.
// POST /api/markets/{id}/withdraw
func (h *MarketHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var ev domain.Event
	err := h.withLock(r.Context(), id, func() error {
		var err error
		ev, err = h.engine.Withdraw(r.Context(), id, req.Actor)
		return err
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toEventView(ev))
}

type transferOwnershipRequest struct {
	Actor    string `json:"actor"`
	NewOwner string `json:"new_owner"`
}

// TransferOwnership moves the admin role to a new account.
// POST /api/markets/{id}/owner
func (h *MarketHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req transferOwnershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := h.withLock(r.Context(), id, func() error {
		return h.engine.TransferOwnership(r.Context(), id, req.Actor, req.NewOwner)
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setFeeConfigRequest struct {
	Actor      string `json:"actor"`
	RateBps    int64  `json:"rate_bps"`
	Recipient  string `json:"recipient"`
	ChargeBuy  bool   `json:"charge_buy"`
	ChargeSell bool   `json:"charge_sell"`
}

// SetFeeConfig replaces the market's fee policy.
// PUT /api/markets/{id}/fees
func (h *MarketHandler) SetFeeConfig(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req setFeeConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := h.withLock(r.Context(), id, func() error {
		return h.engine.SetFeeConfig(r.Context(), id, req.Actor, domain.FeeConfig{
			RateBps:    req.RateBps,
			Recipient:  req.Recipient,
			ChargeBuy:  req.ChargeBuy,
			ChargeSell: req.ChargeSell,
		})
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

type tradeRequest struct {
	Actor   string `json:"actor"`
	Outcome string `json:"outcome"`
	Shares  string `json:"shares"`

	// MaxCost bounds a buy, MinPayout a sell. Optional; empty means no bound.
	MaxCost   string `json:"max_cost,omitempty"`
	MinPayout string `json:"min_payout,omitempty"`
}

// Buy purchases outcome shares at the LMSR price.
// POST /api/markets/{id}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, true)
}

// Sell sells outcome shares back to the market maker.
// POST /api/markets/{id}/sell
func (h *MarketHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, false)
}

func (h *MarketHandler) trade(w http.ResponseWriter, r *http.Request, buy bool) {
	id := pathParam(r, "id")
	var req tradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw := req.MaxCost
	if !buy {
		raw = req.MinPayout
	}
	var bound *big.Int
	if raw != "" {
		if bound, err = parseAmount(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var ev domain.Event
	err = h.withLock(r.Context(), id, func() error {
		var err error
		if buy {
			ev, err = h.engine.Buy(r.Context(), id, req.Actor, outcome, shares, bound)
		} else {
			ev, err = h.engine.Sell(r.Context(), id, req.Actor, outcome, shares, bound)
		}
		return err
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, toEventView(ev))
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetMarket returns a single market, served from cache when possible.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if h.cache != nil {
		if m, err := h.cache.Get(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, toMarketView(m, time.Now()))
			return
		}
	}

	market, err := h.engine.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), market); err != nil {
			h.logger.Warn("cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, toMarketView(market, time.Now()))
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	now := time.Now()

	all := h.engine.ListMarkets(r.Context())
	total := len(all)

	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	views := make([]marketView, 0, end-start)
	for _, m := range all[start:end] {
		views = append(views, toMarketView(m, now))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// QuoteBuy prices a prospective purchase without executing it.
// GET /api/markets/{id}/quotes/buy?outcome=yes&shares=1000000000000000000
func (h *MarketHandler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, true)
}

// QuoteSell prices a prospective sale without executing it.
// GET /api/markets/{id}/quotes/sell?outcome=yes&shares=1000000000000000000
func (h *MarketHandler) QuoteSell(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, false)
}

func (h *MarketHandler) quote(w http.ResponseWriter, r *http.Request, buy bool) {
	id := pathParam(r, "id")
	q := r.URL.Query()

	outcome, err := parseOutcome(q.Get("outcome"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	shares, err := parseAmount(q.Get("shares"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var quote engine.Quote
	if buy {
		quote, err = h.engine.QuoteBuy(r.Context(), id, outcome, shares)
	} else {
		quote, err = h.engine.QuoteSell(r.Context(), id, outcome, shares)
	}
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toQuoteView(quote))
}

// SpotPrice returns the instantaneous marginal price of one outcome.
// GET /api/markets/{id}/price?outcome=yes
func (h *MarketHandler) SpotPrice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	outcome, err := parseOutcome(r.URL.Query().Get("outcome"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	price, err := h.engine.SpotPrice(r.Context(), id, outcome)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"outcome": string(outcome),
		"price":   price.String(),
	})
}

// ListEvents returns a market's event history.
// GET /api/markets/{id}/events?limit=50&offset=0
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	events, err := h.engine.ListEvents(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, toEventView(ev))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
