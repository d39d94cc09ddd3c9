package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
)

// Event is a notification delivered after a successful operation
type Event interface {
	EventName() string
	// Accounts lists the identities the event concerns, for per-user feeds
	Accounts() []common.Address
}

// Emitter receives events in the order the operations committed them
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

// Deposit: Balance is the user's ledger balance after the credit
type Deposit struct {
	Asset   asset.Asset    `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

func (Deposit) EventName() string            { return "Deposit" }
func (e Deposit) Accounts() []common.Address { return []common.Address{e.User} }

// WithdrawETH: Balance is the user's native balance after the debit
type WithdrawETH struct {
	Asset   asset.Asset    `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

func (WithdrawETH) EventName() string            { return "WithdrawETH" }
func (e WithdrawETH) Accounts() []common.Address { return []common.Address{e.User} }

type WithdrawToken struct {
	Asset   asset.Asset    `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

func (WithdrawToken) EventName() string            { return "WithdrawToken" }
func (e WithdrawToken) Accounts() []common.Address { return []common.Address{e.User} }

// OrderFields is the order payload shared by Order, OrderCancel and Trade.
// User is always the order creator.
type OrderFields struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	AssetGet   asset.Asset    `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	AssetGive  asset.Asset    `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func fieldsOf(o orderbook.Order, ts int64) OrderFields {
	return OrderFields{
		ID:         o.ID,
		User:       o.Creator,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
		Timestamp:  ts,
	}
}

// Order is emitted when an order is created; Timestamp is its created_at
type Order struct {
	OrderFields
}

func (Order) EventName() string            { return "Order" }
func (e Order) Accounts() []common.Address { return []common.Address{e.User} }

// OrderCancel carries the original order and the cancellation time
type OrderCancel struct {
	OrderFields
}

func (OrderCancel) EventName() string            { return "OrderCancel" }
func (e OrderCancel) Accounts() []common.Address { return []common.Address{e.User} }

// Trade carries the filled order, the fill time and who filled it
type Trade struct {
	OrderFields
	Filler common.Address `json:"userFill"`
}

func (Trade) EventName() string            { return "Trade" }
func (e Trade) Accounts() []common.Address { return []common.Address{e.User, e.Filler} }
