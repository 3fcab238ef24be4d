package domain

import (
	"fmt"
	"time"
)

// Side indicates the direction of a trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Signal is a parsed trade instruction. It is immutable once produced by the
// parser (or any other upstream collaborator) and carries everything the
// sizer and planner need: entry, stop-loss, ordered take-profit levels and
// leverage.
type Signal struct {
	ID         string
	Source     string // channel / feed the raw text came from
	Symbol     string // normalized, e.g. "ETH"
	Side       Side
	Entry      float64 // 0 means market entry at current price
	TakeProfit []float64
	StopLoss   float64
	Leverage   int
	RawText    string
	CreatedAt  time.Time
}

// MarketEntry reports whether the signal asks for a market entry rather than
// a specific entry price.
func (s Signal) MarketEntry() bool {
	return s.Entry <= 0
}

// Validate checks the structural invariants of a signal: stop-loss on the
// loss side of entry, take-profits on the profit side and strictly ordered
// by distance from entry. A market-entry signal skips the price-relative
// checks since the entry is unknown until fill.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if s.Side != SideLong && s.Side != SideShort {
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	}
	if s.Leverage < 1 {
		return fmt.Errorf("%w: leverage %d", ErrInvalidSignal, s.Leverage)
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("%w: stop-loss %.8f", ErrInvalidSignal, s.StopLoss)
	}
	if len(s.TakeProfit) == 0 {
		return fmt.Errorf("%w: no take-profit levels", ErrInvalidSignal)
	}
	if s.MarketEntry() {
		return nil
	}

	switch s.Side {
	case SideLong:
		if s.StopLoss >= s.Entry {
			return fmt.Errorf("%w: long stop-loss %.8f not below entry %.8f", ErrInvalidSignal, s.StopLoss, s.Entry)
		}
		prev := s.Entry
		for i, tp := range s.TakeProfit {
			if tp <= prev {
				return fmt.Errorf("%w: long TP%d %.8f not above %.8f", ErrInvalidSignal, i+1, tp, prev)
			}
			prev = tp
		}
	case SideShort:
		if s.StopLoss <= s.Entry {
			return fmt.Errorf("%w: short stop-loss %.8f not above entry %.8f", ErrInvalidSignal, s.StopLoss, s.Entry)
		}
		prev := s.Entry
		for i, tp := range s.TakeProfit {
			if tp >= prev {
				return fmt.Errorf("%w: short TP%d %.8f not below %.8f", ErrInvalidSignal, i+1, tp, prev)
			}
			prev = tp
		}
	}
	return nil
}
