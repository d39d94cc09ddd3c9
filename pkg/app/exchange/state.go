package exchange

import (
	"fmt"

	"github.com/uhyunpark/swapledger/pkg/app/core/ledger"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
)

// State is a copy of the exchange tables in key order: either all of them
// (Snapshot) or the entries changed since the last TakeChanges
type State struct {
	Balances   []ledger.Entry    `json:"balances"`
	Orders     []orderbook.Order `json:"orders"`
	OrderCount uint64            `json:"orderCount"`
}

// Snapshot copies the current tables
func (e *Exchange) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := State{
		Balances:   make([]ledger.Entry, 0, e.ledger.Len()),
		Orders:     e.book.List(orderbook.Filter{}),
		OrderCount: e.book.Count(),
	}
	e.ledger.Scan(func(en ledger.Entry) bool {
		st.Balances = append(st.Balances, en)
		return true
	})
	return st
}

// TakeChanges returns the balances and orders changed since the previous
// call and forgets them. Zero balances are ones that are gone.
func (e *Exchange) TakeChanges() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Balances:   e.ledger.TakeChanges(),
		Orders:     e.book.TakeChanges(),
		OrderCount: e.book.Count(),
	}
}

// OpenOrders counts orders that can still be filled or cancelled
func (e *Exchange) OpenOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.OpenCount()
}

// Restore replaces the tables with a persisted state. No events are emitted.
func (e *Exchange) Restore(st State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.Restore(st.Balances); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := e.book.Restore(st.Orders, st.OrderCount); err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}
	e.logger.Info("exchange state restored")
	return nil
}
