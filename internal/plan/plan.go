// Package plan assembles the ordered sequence of exchange orders for a sized
// position: one market entry, one trigger stop, and a take-profit ladder
// whose quantities reconcile exactly to the entry quantity.
package plan

import (
	"signalrunner/internal/domain"
	"signalrunner/internal/sizing"
)

// Rounder snaps a raw quantity to a venue-lot-compliant one. The identity
// function is used when the venue has no lot constraint.
type Rounder func(raw float64) float64

// Identity is a Rounder that leaves quantities untouched.
func Identity(raw float64) float64 { return raw }

// Plan is the ordered list of order intents for one trade. Entry always
// comes first, then the stop, then take-profits in level order.
type Plan struct {
	Entry       domain.OrderIntent
	StopLoss    domain.OrderIntent
	TakeProfits []domain.OrderIntent
}

// Intents returns the plan as a flat placement sequence.
func (p Plan) Intents() []domain.OrderIntent {
	out := make([]domain.OrderIntent, 0, 2+len(p.TakeProfits))
	out = append(out, p.Entry, p.StopLoss)
	out = append(out, p.TakeProfits...)
	return out
}

// Build assembles the order plan for a sized position. The entry quantity is
// lot-rounded once; the stop covers it in full, and the take-profit ladder
// splits it evenly with any lot remainder folded into the last level so that
// both closure paths sum exactly to the entry quantity.
func Build(sp sizing.SizedPosition, sig domain.Signal, round Rounder) Plan {
	if round == nil {
		round = Identity
	}
	qty := round(sp.Quantity)
	exit := sig.Side.Opposite()

	p := Plan{
		Entry: domain.OrderIntent{
			Kind:     domain.OrderKindEntry,
			Symbol:   sig.Symbol,
			Side:     sig.Side,
			Quantity: qty,
			TPIndex:  -1,
		},
		StopLoss: domain.OrderIntent{
			Kind:         domain.OrderKindStopLoss,
			Symbol:       sig.Symbol,
			Side:         exit,
			Quantity:     qty,
			TriggerPrice: sig.StopLoss,
			ReduceOnly:   true,
			TPIndex:      -1,
		},
	}

	n := len(sig.TakeProfit)
	p.TakeProfits = make([]domain.OrderIntent, 0, n)
	var allocated float64
	for i, price := range sig.TakeProfit {
		var tranche float64
		if i == n-1 {
			// Last level absorbs the rounding remainder so the ladder
			// reconciles exactly to the entry quantity.
			tranche = qty - allocated
		} else {
			tranche = round(qty / float64(n))
			allocated += tranche
		}
		p.TakeProfits = append(p.TakeProfits, domain.OrderIntent{
			Kind:       domain.OrderKindTakeProfit,
			Symbol:     sig.Symbol,
			Side:       exit,
			Quantity:   tranche,
			Price:      price,
			ReduceOnly: true,
			TPIndex:    i,
		})
	}

	return p
}
