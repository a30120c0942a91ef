// Package engine implements the market state machine: per-market LMSR
// accounting, the funding/trade/resolve/claim/withdraw lifecycle, the
// position ledger, and the solvency guard tying the internal pool to the
// custodied settlement-asset balance.
//
// Every mutating operation is atomic: it runs under a per-market
// non-reentrant lock, takes a snapshot of the fields it will touch, and
// restores the snapshot if anything past the first external interaction
// fails. A second mutation arriving while one is in flight — whether a
// reentrant callback from the settlement asset or a concurrent writer —
// fails with ErrReentrancy instead of interleaving.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lmsrd/internal/asset"
	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// DefaultClaimWindow is the grace period after resolution during which
// only winners may withdraw; past it the admin may sweep residuals even
// with unclaimed winning shares outstanding.
const DefaultClaimWindow = 30 * 24 * time.Hour

// market bundles one market's record with its safety layer, positions and
// event history.
type market struct {
	mu   sync.RWMutex // mutating ops TryLock; reads RLock
	m    domain.Market
	safe *asset.SafeTransferor

	// positions[account][outcome] -> shares
	positions map[string]map[domain.Outcome]*big.Int
	events    []domain.Event
}

// Engine hosts markets and serializes all state transitions.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*market

	logger      *slog.Logger
	journal     domain.Journal
	sinks       []domain.EventSink
	now         func() time.Time
	newID       func() string
	claimWindow time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithJournal installs a write-through persistence hook.
func WithJournal(j domain.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithSink registers an event sink. Sinks run after commit; their
// failures never unwind a transition.
func WithSink(s domain.EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithClock overrides the time source. Time is read once per operation
// and never re-read mid-operation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClaimWindow overrides the default claim window applied to markets
// created without an explicit one.
func WithClaimWindow(d time.Duration) Option {
	return func(e *Engine) { e.claimWindow = d }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		markets:     make(map[string]*market),
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		claimWindow: DefaultClaimWindow,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	return e
}

func (e *Engine) get(id string) (*market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	mk, ok := e.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return mk, nil
}

// lockMutating enters the per-market non-reentrant critical section.
func (mk *market) lockMutating() error {
	if !mk.mu.TryLock() {
		return domain.ErrReentrancy
	}
	return nil
}

// snapshot captures every field a mutating operation may touch.
type snapshot struct {
	qYes, qNo, pool *big.Int
	funding         domain.FundingState
	admin           string
	fee             domain.FeeConfig
	resolved        bool
	winning         domain.Outcome
	resolvedAt      *time.Time
	swept           bool
	updatedAt       time.Time

	posAccount string
	posOutcome domain.Outcome
	posShares  *big.Int // nil when the op touches no position
}

func (mk *market) snap() snapshot {
	return snapshot{
		qYes:       new(big.Int).Set(mk.m.QYes),
		qNo:        new(big.Int).Set(mk.m.QNo),
		pool:       new(big.Int).Set(mk.m.Pool),
		funding:    mk.m.Funding,
		admin:      mk.m.Admin,
		fee:        mk.m.Fee,
		resolved:   mk.m.Resolved,
		winning:    mk.m.WinningOutcome,
		resolvedAt: mk.m.ResolvedAt,
		swept:      mk.m.Swept,
		updatedAt:  mk.m.UpdatedAt,
	}
}

func (mk *market) snapWithPosition(account string, outcome domain.Outcome) snapshot {
	s := mk.snap()
	s.posAccount = account
	s.posOutcome = outcome
	s.posShares = new(big.Int).Set(mk.position(account, outcome))
	return s
}

func (mk *market) restore(s snapshot) {
	mk.m.QYes = s.qYes
	mk.m.QNo = s.qNo
	mk.m.Pool = s.pool
	mk.m.Funding = s.funding
	mk.m.Admin = s.admin
	mk.m.Fee = s.fee
	mk.m.Resolved = s.resolved
	mk.m.WinningOutcome = s.winning
	mk.m.ResolvedAt = s.resolvedAt
	mk.m.Swept = s.swept
	mk.m.UpdatedAt = s.updatedAt
	if s.posShares != nil {
		mk.setPosition(s.posAccount, s.posOutcome, s.posShares)
	}
}

// position returns the live share balance, zero when absent. Callers must
// hold the market lock.
func (mk *market) position(account string, outcome domain.Outcome) *big.Int {
	if byOutcome, ok := mk.positions[account]; ok {
		if sh, ok := byOutcome[outcome]; ok {
			return sh
		}
	}
	return new(big.Int)
}

func (mk *market) setPosition(account string, outcome domain.Outcome, shares *big.Int) {
	byOutcome, ok := mk.positions[account]
	if !ok {
		byOutcome = make(map[domain.Outcome]*big.Int)
		mk.positions[account] = byOutcome
	}
	byOutcome[outcome] = shares
}

// addQ mutates the outstanding counter for one outcome in place.
func (mk *market) addQ(outcome domain.Outcome, delta *big.Int) {
	if outcome == domain.OutcomeYes {
		mk.m.QYes = new(big.Int).Add(mk.m.QYes, delta)
	} else {
		mk.m.QNo = new(big.Int).Add(mk.m.QNo, delta)
	}
}

// preflightSolvency verifies pool == custodied balance before the
// operation reads any pricing state, so a transfer wired around the
// engine is caught up front rather than corrupting accounting later.
func (e *Engine) preflightSolvency(ctx context.Context, mk *market) error {
	return e.checkSolvency(ctx, mk)
}

// assertSolvent re-verifies the invariant after the mutation committed.
func (e *Engine) assertSolvent(ctx context.Context, mk *market) error {
	return e.checkSolvency(ctx, mk)
}

func (e *Engine) checkSolvency(ctx context.Context, mk *market) error {
	bal, err := mk.safe.Asset().BalanceOf(ctx, mk.m.CustodyAccount)
	if err != nil {
		return fmt.Errorf("engine: read custody balance: %w", err)
	}
	if bal.Cmp(mk.m.Pool) != 0 {
		return &domain.SolvencyError{MarketID: mk.m.ID, Pool: new(big.Int).Set(mk.m.Pool), Balance: bal}
	}
	return nil
}

// emit appends the event to the market history, journals the touched
// records and fans out to sinks. Journal and sink failures are logged,
// never propagated: the in-memory transition has already committed.
func (e *Engine) emit(ctx context.Context, mk *market, ev domain.Event, touched *domain.Position) domain.Event {
	ev.ID = e.newID()
	ev.MarketID = mk.m.ID
	ev.QYes = new(big.Int).Set(mk.m.QYes)
	ev.QNo = new(big.Int).Set(mk.m.QNo)
	ev.Pool = new(big.Int).Set(mk.m.Pool)
	ev.CreatedAt = mk.m.UpdatedAt

	mk.events = append(mk.events, ev)

	if e.journal != nil {
		if err := e.journal.RecordMarket(ctx, copyMarket(mk.m)); err != nil {
			e.logger.Error("journal market", slog.String("market", mk.m.ID), slog.String("error", err.Error()))
		}
		if touched != nil {
			if err := e.journal.RecordPosition(ctx, *touched); err != nil {
				e.logger.Error("journal position", slog.String("market", mk.m.ID), slog.String("error", err.Error()))
			}
		}
		if err := e.journal.RecordEvent(ctx, ev); err != nil {
			e.logger.Error("journal event", slog.String("market", mk.m.ID), slog.String("error", err.Error()))
		}
	}
	for _, s := range e.sinks {
		s.Publish(ctx, ev)
	}
	return ev
}

// copyMarket deep-copies the big.Int fields so callers can't alias engine
// state.
func copyMarket(m domain.Market) domain.Market {
	out := m
	out.LiquidityParam = new(big.Int).Set(m.LiquidityParam)
	out.QYes = new(big.Int).Set(m.QYes)
	out.QNo = new(big.Int).Set(m.QNo)
	out.Pool = new(big.Int).Set(m.Pool)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	if m.CloseTime != nil {
		t := *m.CloseTime
		out.CloseTime = &t
	}
	return out
}
