package dex

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/swapledger/pkg/app/core/token"
	"github.com/uhyunpark/swapledger/pkg/app/exchange"
)

// Notification is one event raised by a committed transaction, stamped
// with the block it committed in
type Notification struct {
	Height   int64            `json:"height"`
	Index    int              `json:"index"` // position within the block
	Name     string           `json:"event"`
	Accounts []common.Address `json:"accounts"`
	Data     any              `json:"data"`
}

// Notifier receives each block's notifications after the block commits
type Notifier interface {
	Publish(ns []Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func([]Notification)

func (f NotifierFunc) Publish(ns []Notification) { f(ns) }

func (a *App) record(name string, accounts []common.Address, data any) {
	a.evMu.Lock()
	defer a.evMu.Unlock()
	a.events = append(a.events, Notification{
		Height:   a.execHeight,
		Index:    len(a.events),
		Name:     name,
		Accounts: accounts,
		Data:     data,
	})
}

func (a *App) onExchangeEvent(ev exchange.Event) {
	a.record(ev.EventName(), ev.Accounts(), ev)
}

func (a *App) onTokenEvent(ev token.Event) {
	switch e := ev.(type) {
	case token.Transfer:
		a.record(e.EventName(), []common.Address{e.From, e.To}, e)
	case token.Approval:
		a.record(e.EventName(), []common.Address{e.Owner, e.Spender}, e)
	default:
		a.record(ev.EventName(), nil, ev)
	}
}

// drainEvents hands over the block's notifications
func (a *App) drainEvents() []Notification {
	a.evMu.Lock()
	defer a.evMu.Unlock()
	out := a.events
	a.events = nil
	return out
}
