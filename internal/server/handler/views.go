package handler

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/engine"
)

// View types decouple the wire format from the domain structs. All amounts
// are WAD-scaled integers rendered as decimal strings so clients never lose
// precision to float64.

type marketView struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Admin          string         `json:"admin"`
	LiquidityParam string         `json:"liquidity_param"`
	QYes           string         `json:"q_yes"`
	QNo            string         `json:"q_no"`
	Pool           string         `json:"pool"`
	CustodyAccount string         `json:"custody_account"`
	Funding        string         `json:"funding"`
	Trading        string         `json:"trading"`
	CloseTime      *time.Time     `json:"close_time,omitempty"`
	ClaimWindow    int64          `json:"claim_window_secs"`
	Fee            feeView        `json:"fee"`
	Resolved       bool           `json:"resolved"`
	WinningOutcome domain.Outcome `json:"winning_outcome,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	Swept          bool           `json:"swept"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type feeView struct {
	RateBps    int64  `json:"rate_bps"`
	Recipient  string `json:"recipient,omitempty"`
	ChargeBuy  bool   `json:"charge_buy"`
	ChargeSell bool   `json:"charge_sell"`
}

func toMarketView(m domain.Market, now time.Time) marketView {
	return marketView{
		ID:             m.ID,
		Title:          m.Title,
		Admin:          m.Admin,
		LiquidityParam: bigString(m.LiquidityParam),
		QYes:           bigString(m.QYes),
		QNo:            bigString(m.QNo),
		Pool:           bigString(m.Pool),
		CustodyAccount: m.CustodyAccount,
		Funding:        string(m.Funding),
		Trading:        string(m.Trading(now)),
		CloseTime:      m.CloseTime,
		ClaimWindow:    int64(m.ClaimWindow.Seconds()),
		Fee: feeView{
			RateBps:    m.Fee.RateBps,
			Recipient:  m.Fee.Recipient,
			ChargeBuy:  m.Fee.ChargeBuy,
			ChargeSell: m.Fee.ChargeSell,
		},
		Resolved:       m.Resolved,
		WinningOutcome: m.WinningOutcome,
		ResolvedAt:     m.ResolvedAt,
		Swept:          m.Swept,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type quoteView struct {
	Outcome domain.Outcome `json:"outcome"`
	Shares  string         `json:"shares"`
	Gross   string         `json:"gross"`
	Fee     string         `json:"fee"`
	Total   string         `json:"total"`
}

func toQuoteView(q engine.Quote) quoteView {
	return quoteView{
		Outcome: q.Outcome,
		Shares:  bigString(q.Shares),
		Gross:   bigString(q.Gross),
		Fee:     bigString(q.Fee),
		Total:   bigString(q.Total),
	}
}

type eventView struct {
	ID        string         `json:"id"`
	MarketID  string         `json:"market_id"`
	Type      string         `json:"type"`
	Actor     string         `json:"actor"`
	Outcome   domain.Outcome `json:"outcome,omitempty"`
	Shares    *string        `json:"shares,omitempty"`
	Amount    *string        `json:"amount,omitempty"`
	Fee       *string        `json:"fee,omitempty"`
	QYes      string         `json:"q_yes"`
	QNo       string         `json:"q_no"`
	Pool      string         `json:"pool"`
	CreatedAt time.Time      `json:"created_at"`
}

func toEventView(ev domain.Event) eventView {
	return eventView{
		ID:        ev.ID,
		MarketID:  ev.MarketID,
		Type:      string(ev.Type),
		Actor:     ev.Actor,
		Outcome:   ev.Outcome,
		Shares:    optBigString(ev.Shares),
		Amount:    optBigString(ev.Amount),
		Fee:       optBigString(ev.Fee),
		QYes:      bigString(ev.QYes),
		QNo:       bigString(ev.QNo),
		Pool:      bigString(ev.Pool),
		CreatedAt: ev.CreatedAt,
	}
}

type positionView struct {
	MarketID  string         `json:"market_id"`
	Account   string         `json:"account"`
	Outcome   domain.Outcome `json:"outcome"`
	Shares    string         `json:"shares"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toPositionView(p domain.Position) positionView {
	return positionView{
		MarketID:  p.MarketID,
		Account:   p.Account,
		Outcome:   p.Outcome,
		Shares:    bigString(p.Shares),
		UpdatedAt: p.UpdatedAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optBigString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
