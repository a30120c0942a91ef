package domain

import (
	"math/big"
	"time"
)

// Outcome identifies one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is one of the two tradable outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Other returns the opposite outcome.
func (o Outcome) Other() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// FundingState tracks whether the admin has committed the LMSR subsidy.
// It is flipped only by the fund operation, never inferred from balances:
// anyone can wire tokens straight to the custody account, so a balance
// check alone would let a third party unlock trading without the admin
// ever committing capital.
type FundingState string

const (
	FundingUnfunded FundingState = "unfunded"
	FundingFunded   FundingState = "funded"
)

// TradingState is the derived open/closed status of a market.
type TradingState string

const (
	TradingOpen   TradingState = "open"
	TradingClosed TradingState = "closed"
)

// FeeConfig is the per-market fee policy. Rate is in basis points of the
// gross quoted amount; which sides are charged is an explicit policy
// choice, not a constant.
type FeeConfig struct {
	RateBps    int64
	Recipient  string
	ChargeBuy  bool
	ChargeSell bool
}

// MaxFeeRateBps caps FeeConfig.RateBps at 100%.
const MaxFeeRateBps = 10_000

// Market is the per-question aggregate: LMSR state, custody ledger and
// lifecycle flags. All big.Int fields are WAD-scaled (18 decimals).
type Market struct {
	ID             string
	Title          string
	Admin          string
	LiquidityParam *big.Int // immutable after creation
	QYes           *big.Int
	QNo            *big.Int

	// Pool is the internal ledger of custodied settlement asset. It must
	// equal the asset balance of CustodyAccount after every mutating call.
	Pool           *big.Int
	CustodyAccount string

	Funding     FundingState
	CloseTime   *time.Time // nil: admin may resolve at any time
	ClaimWindow time.Duration
	Fee         FeeConfig

	Resolved       bool
	WinningOutcome Outcome
	ResolvedAt     *time.Time
	Swept          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trading derives the open/closed status at the given time.
func (m *Market) Trading(now time.Time) TradingState {
	if m.Resolved || m.Swept {
		return TradingClosed
	}
	if m.CloseTime != nil && !now.Before(*m.CloseTime) {
		return TradingClosed
	}
	return TradingOpen
}

// Q returns the outstanding share counter for the given outcome.
func (m *Market) Q(o Outcome) *big.Int {
	if o == OutcomeYes {
		return m.QYes
	}
	return m.QNo
}

// Position is a per (market, holder, outcome) share balance. It is created
// implicitly at first purchase and zeroed by claim.
type Position struct {
	MarketID  string
	Account   string
	Outcome   Outcome
	Shares    *big.Int
	UpdatedAt time.Time
}
