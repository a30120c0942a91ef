// Package notify pushes market lifecycle alerts to operator channels.
// Committed engine events are rendered into Alerts carrying the market
// context and fanned out to every configured channel (Telegram, Discord),
// filtered by event type so operators receive only what they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/wadmath"
)

// Alert is one operator notification. Channels render it however suits
// their medium; the market and event fields let them attach structured
// context instead of flattening everything into the body.
type Alert struct {
	Title    string
	Body     string
	MarketID string
	Actor    string
	Event    domain.EventType
}

// Sender is one delivery channel for alerts.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// Notifier implements domain.EventSink over one or more Senders. It keeps
// a set of allowed event types; events outside the set are dropped
// silently. Delivery failures are logged and swallowed — an unreachable
// webhook must never affect a committed transition.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events whose type appears in the events slice are forwarded; an empty
// slice allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish renders the event into an Alert and fans it out.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[ev.Type] {
		return
	}

	alert := buildAlert(ev)
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(ev.Type)),
		)
	}
}

// buildAlert renders a committed event into an operator alert. The market
// ID travels in its own field; bodies describe the transition itself.
func buildAlert(ev domain.Event) Alert {
	a := Alert{MarketID: ev.MarketID, Actor: ev.Actor, Event: ev.Type}
	switch ev.Type {
	case domain.EventMarketCreated:
		a.Title = "Market created"
		a.Body = fmt.Sprintf("created by %s", ev.Actor)
	case domain.EventMarketFunded:
		a.Title = "Market funded"
		a.Body = fmt.Sprintf("subsidy of %s committed; trading is open", formatAmount(ev.Amount))
	case domain.EventSharesBought:
		a.Title = "Shares bought"
		a.Body = fmt.Sprintf("%s bought %s %s shares for %s",
			ev.Actor, formatAmount(ev.Shares), ev.Outcome, formatAmount(ev.Amount))
	case domain.EventSharesSold:
		a.Title = "Shares sold"
		a.Body = fmt.Sprintf("%s sold %s %s shares for %s",
			ev.Actor, formatAmount(ev.Shares), ev.Outcome, formatAmount(ev.Amount))
	case domain.EventMarketResolved:
		a.Title = "Market resolved"
		a.Body = fmt.Sprintf("resolved to %s", ev.Outcome)
	case domain.EventWinningsClaimed:
		a.Title = "Winnings claimed"
		a.Body = fmt.Sprintf("%s claimed %s", ev.Actor, formatAmount(ev.Amount))
	case domain.EventResidualWithdrawn:
		a.Title = "Residual withdrawn"
		a.Body = fmt.Sprintf("admin swept %s; pool is empty", formatAmount(ev.Amount))
	case domain.EventOwnershipTransferred:
		a.Title = "Ownership transferred"
		a.Body = fmt.Sprintf("admin role moved by %s", ev.Actor)
	case domain.EventFeeConfigChanged:
		a.Title = "Fee config changed"
		a.Body = fmt.Sprintf("fee configuration updated by %s", ev.Actor)
	default:
		a.Title = string(ev.Type)
		a.Body = fmt.Sprintf("%s by %s", ev.Type, ev.Actor)
	}
	return a
}

// formatAmount renders a fixed-point token amount with four decimal places.
func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	whole, frac := new(big.Int).QuoRem(v, wadmath.WAD, new(big.Int))
	// Four decimals is plenty for an alert; the event log keeps full precision.
	frac4 := new(big.Int).Quo(new(big.Int).Abs(frac), big.NewInt(100_000_000_000_000))
	return fmt.Sprintf("%s.%04d", whole.String(), frac4)
}

// Compile-time interface check.
var _ domain.EventSink = (*Notifier)(nil)
