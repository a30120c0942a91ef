package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

type fakeSender struct {
	name string
	sent []Alert
	fail bool
}

func (f *fakeSender) Send(_ context.Context, a Alert) error {
	if f.fail {
		return errors.New("unreachable")
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestPublishFansOutToAllSenders(t *testing.T) {
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	n := NewNotifier([]Sender{a, b}, nil, discard())

	n.Publish(context.Background(), domain.Event{
		ID:       "ev1",
		MarketID: "m1",
		Type:     domain.EventMarketResolved,
		Outcome:  domain.OutcomeYes,
	})

	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
	assert.Equal(t, "m1", a.sent[0].MarketID)
	assert.Equal(t, domain.EventMarketResolved, a.sent[0].Event)
}

func TestPublishFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "s"}
	n := NewNotifier([]Sender{s}, []string{"market_resolved"}, discard())

	n.Publish(context.Background(), domain.Event{
		ID:       "ev1",
		MarketID: "m1",
		Type:     domain.EventSharesBought,
	})
	assert.Empty(t, s.sent)

	n.Publish(context.Background(), domain.Event{
		ID:       "ev2",
		MarketID: "m1",
		Type:     domain.EventMarketResolved,
		Outcome:  domain.OutcomeNo,
	})
	assert.Len(t, s.sent, 1)
}

func TestPublishSurvivesSenderFailure(t *testing.T) {
	broken := &fakeSender{name: "broken", fail: true}
	ok := &fakeSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, discard())

	n.Publish(context.Background(), domain.Event{
		ID:       "ev1",
		MarketID: "m1",
		Type:     domain.EventWinningsClaimed,
		Actor:    "alice",
		Amount:   wad(3),
	})

	assert.Len(t, ok.sent, 1)
	assert.Contains(t, ok.sent[0].Body, "alice")
}

func TestBuildAlertCoversAllTypes(t *testing.T) {
	base := domain.Event{
		MarketID: "m1",
		Actor:    "alice",
		Outcome:  domain.OutcomeYes,
		Shares:   wad(2),
		Amount:   wad(1),
	}

	for _, typ := range []domain.EventType{
		domain.EventMarketCreated,
		domain.EventMarketFunded,
		domain.EventSharesBought,
		domain.EventSharesSold,
		domain.EventMarketResolved,
		domain.EventWinningsClaimed,
		domain.EventResidualWithdrawn,
		domain.EventOwnershipTransferred,
		domain.EventFeeConfigChanged,
	} {
		ev := base
		ev.Type = typ
		a := buildAlert(ev)
		assert.NotEmpty(t, a.Title, "type %s", typ)
		assert.NotEmpty(t, a.Body, "type %s", typ)
		assert.Equal(t, "m1", a.MarketID, "type %s", typ)
		assert.Equal(t, typ, a.Event, "type %s", typ)
	}
}

func TestFormatAmount(t *testing.T) {
	half := new(big.Int).Div(wad(1), big.NewInt(2))
	assert.Equal(t, "0.5000", formatAmount(half))
	assert.Equal(t, "3.0000", formatAmount(wad(3)))
	assert.Equal(t, "0", formatAmount(nil))

	// Sub-resolution dust truncates rather than rounding up.
	dust := big.NewInt(1)
	assert.Equal(t, "0.0000", formatAmount(dust))
}
