package market

import (
	"strconv"

	"github.com/viraj-mahida/betting-contract/core/types"
)

const (
	EventTypeMarketCreated   = "market.created"
	EventTypeBetPlaced       = "market.bet_placed"
	EventTypeMarketResolved  = "market.resolved"
	EventTypeWinningsClaimed = "market.claimed"
)

// NewCreatedEvent returns the payload emitted when a market is opened.
func NewCreatedEvent(m *Market) *types.Event {
	evt := newMarketEvent(EventTypeMarketCreated, m)
	if m != nil {
		evt.Attributes["creator"] = m.Creator.String()
		evt.Attributes["question"] = m.Question
		evt.Attributes["payoutMode"] = m.PayoutMode.String()
	}
	return evt
}

// NewBetPlacedEvent returns the payload emitted for an accepted stake.
func NewBetPlacedEvent(m *Market, bettor types.Identity, choice Outcome, amount uint64) *types.Event {
	evt := newMarketEvent(EventTypeBetPlaced, m)
	evt.Attributes["bettor"] = bettor.String()
	evt.Attributes["choice"] = choice.String()
	evt.Attributes["amount"] = strconv.FormatUint(amount, 10)
	return evt
}

// NewResolvedEvent returns the payload emitted when the creator settles the
// outcome.
func NewResolvedEvent(m *Market) *types.Event {
	evt := newMarketEvent(EventTypeMarketResolved, m)
	if m != nil {
		evt.Attributes["outcome"] = m.Outcome.String()
	}
	return evt
}

// NewClaimedEvent returns the payload emitted when a winner is paid.
func NewClaimedEvent(m *Market, claimant types.Identity, payout Payout) *types.Event {
	evt := newMarketEvent(EventTypeWinningsClaimed, m)
	evt.Attributes["claimant"] = claimant.String()
	evt.Attributes["amount"] = strconv.FormatUint(payout.Total, 10)
	evt.Attributes["principal"] = strconv.FormatUint(payout.Principal, 10)
	evt.Attributes["share"] = strconv.FormatUint(payout.Share, 10)
	return evt
}

func newMarketEvent(eventType string, m *Market) *types.Event {
	attrs := make(map[string]string)
	if m != nil {
		attrs["market"] = m.IDHex()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }
