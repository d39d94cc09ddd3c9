package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
	"github.com/uhyunpark/swapledger/pkg/app/core/fee"
	"github.com/uhyunpark/swapledger/pkg/app/core/ledger"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/swapledger/pkg/app/core/token"
)

// Custody resolves the external custodian for an asset
type Custody interface {
	Custodian(a asset.Asset) (token.Custodian, error)
}

// Config is fixed at construction
type Config struct {
	// Address is the exchange's own custody account on the external ledgers
	Address common.Address
	Fees    fee.Schedule
	Custody Custody
	Emitter Emitter
	Logger  *zap.Logger
}

// Exchange owns the balance ledger and the order book. All mutation goes
// through its operations; each one is atomic and they are serialized.
type Exchange struct {
	address common.Address
	fees    fee.Schedule
	custody Custody
	emitter Emitter
	logger  *zap.Logger

	mu      sync.RWMutex
	ledger  *ledger.Ledger
	book    *orderbook.Book
	pending []Event
}

func New(cfg Config) (*Exchange, error) {
	if cfg.Custody == nil {
		return nil, fmt.Errorf("exchange: custody is required")
	}
	if cfg.Fees.Percent > fee.MaxPercent {
		return nil, fmt.Errorf("exchange: %d: %w", cfg.Fees.Percent, fee.ErrInvalidPercent)
	}
	e := &Exchange{
		address: cfg.Address,
		fees:    cfg.Fees,
		custody: cfg.Custody,
		emitter: cfg.Emitter,
		logger:  cfg.Logger,
		ledger:  ledger.New(),
		book:    orderbook.NewBook(),
	}
	if e.emitter == nil {
		e.emitter = nopEmitter{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

func (e *Exchange) Address() common.Address    { return e.address }
func (e *Exchange) FeeAccount() common.Address { return e.fees.Account }
func (e *Exchange) FeePercent() uint64         { return e.fees.Percent }

// --- deposits and withdrawals ---

// DepositETH credits the native value the caller attached to the call
func (e *Exchange) DepositETH(user common.Address, amount *uint256.Int) error {
	return e.atomic("depositETH", func() error {
		bal, err := e.deposit(asset.Native, user, amount)
		if err != nil {
			return err
		}
		e.raise(Deposit{Asset: asset.Native, User: user, Amount: amount.Clone(), Balance: bal})
		return nil
	})
}

// WithdrawETH debits the native balance and pays it out to the user
func (e *Exchange) WithdrawETH(user common.Address, amount *uint256.Int) error {
	return e.atomic("withdrawETH", func() error {
		bal, err := e.withdraw(asset.Native, user, amount)
		if err != nil {
			return err
		}
		e.raise(WithdrawETH{Asset: asset.Native, User: user, Amount: amount.Clone(), Balance: bal})
		return nil
	})
}

// DepositToken pulls amount of a token the user approved for the exchange
func (e *Exchange) DepositToken(user common.Address, a asset.Asset, amount *uint256.Int) error {
	return e.atomic("depositToken", func() error {
		if a.IsNative() {
			return fmt.Errorf("depositToken: %w", ErrInvalidAsset)
		}
		bal, err := e.deposit(a, user, amount)
		if err != nil {
			return err
		}
		e.raise(Deposit{Asset: a, User: user, Amount: amount.Clone(), Balance: bal})
		return nil
	})
}

func (e *Exchange) WithdrawToken(user common.Address, a asset.Asset, amount *uint256.Int) error {
	return e.atomic("withdrawToken", func() error {
		if a.IsNative() {
			return fmt.Errorf("withdrawToken: %w", ErrInvalidAsset)
		}
		bal, err := e.withdraw(a, user, amount)
		if err != nil {
			return err
		}
		e.raise(WithdrawToken{Asset: a, User: user, Amount: amount.Clone(), Balance: bal})
		return nil
	})
}

// Receive handles native value sent to the exchange outside DepositETH.
// It is always refused.
func (e *Exchange) Receive(from common.Address, amount *uint256.Int) error {
	e.logger.Debug("operation rejected", zap.String("op", "receive"),
		zap.Stringer("from", from), zap.Stringer("amount", amount))
	return fmt.Errorf("%s sent %s: %w", from.Hex(), amount.Dec(), ErrDirectTransfer)
}

// deposit credits first and pulls last; a failed pull rolls the credit back
func (e *Exchange) deposit(a asset.Asset, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.ledger.Credit(a, user, amount); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	c, err := e.custody.Custodian(a)
	if err != nil {
		return nil, fmt.Errorf("deposit %s: %w: %w", a, ErrTransferFailed, err)
	}
	if err := c.TransferIn(user, amount); err != nil {
		return nil, fmt.Errorf("deposit %s: %w: %w", a, ErrTransferFailed, err)
	}
	return e.ledger.BalanceOf(a, user), nil
}

// withdraw debits first and pays out last, so nothing can fail after the
// external transfer
func (e *Exchange) withdraw(a asset.Asset, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.ledger.Debit(a, user, amount); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	c, err := e.custody.Custodian(a)
	if err != nil {
		return nil, fmt.Errorf("withdraw %s: %w: %w", a, ErrTransferFailed, err)
	}
	if err := c.TransferOut(user, amount); err != nil {
		return nil, fmt.Errorf("withdraw %s: %w: %w", a, ErrTransferFailed, err)
	}
	return e.ledger.BalanceOf(a, user), nil
}

// --- orders ---

// MakeOrder posts an order under the next id. The creator's balance is not
// checked until the order is filled.
func (e *Exchange) MakeOrder(user common.Address, assetGet asset.Asset, amountGet *uint256.Int,
	assetGive asset.Asset, amountGive *uint256.Int, now int64) (uint64, error) {
	var id uint64
	err := e.atomic("makeOrder", func() error {
		o := e.book.Make(user, assetGet, amountGet, assetGive, amountGive, now)
		id = o.ID
		e.raise(Order{fieldsOf(o, o.CreatedAt)})
		return nil
	})
	return id, err
}

func (e *Exchange) CancelOrder(user common.Address, id uint64, now int64) error {
	return e.atomic("cancelOrder", func() error {
		o, err := e.book.Cancel(user, id)
		if err != nil {
			return err
		}
		e.raise(OrderCancel{fieldsOf(o, now)})
		return nil
	})
}

// FillOrder settles an open order in full against the caller. The caller
// pays amount_get plus the fee in asset_get and receives amount_give.
func (e *Exchange) FillOrder(user common.Address, id uint64, now int64) error {
	return e.atomic("fillOrder", func() error {
		o, err := e.book.Open(id)
		if err != nil {
			return err
		}
		charge, total, err := e.fees.Split(o.AmountGet)
		if err != nil {
			return fmt.Errorf("fill order %d: %w", id, err)
		}

		// maker gives, filler receives
		if err := e.ledger.Debit(o.AssetGive, o.Creator, o.AmountGive); err != nil {
			return fmt.Errorf("fill order %d maker: %w", id, err)
		}
		if err := e.ledger.Credit(o.AssetGive, user, o.AmountGive); err != nil {
			return fmt.Errorf("fill order %d: %w", id, err)
		}

		// filler pays principal plus fee
		if err := e.ledger.Debit(o.AssetGet, user, total); err != nil {
			return fmt.Errorf("fill order %d filler: %w", id, err)
		}
		if err := e.ledger.Credit(o.AssetGet, o.Creator, o.AmountGet); err != nil {
			return fmt.Errorf("fill order %d: %w", id, err)
		}
		if err := e.ledger.Credit(o.AssetGet, e.fees.Account, charge); err != nil {
			return fmt.Errorf("fill order %d fee: %w", id, err)
		}

		if _, err := e.book.MarkFilled(id); err != nil {
			return err
		}
		e.raise(Trade{OrderFields: fieldsOf(o, now), Filler: user})
		e.logger.Debug("order filled",
			zap.Uint64("order_id", id),
			zap.Stringer("maker", o.Creator),
			zap.Stringer("filler", user),
			zap.Stringer("fee", charge))
		return nil
	})
}

// --- reads ---

// BalanceOf returns the ledger balance, zero when unknown
func (e *Exchange) BalanceOf(a asset.Asset, owner common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(a, owner)
}

// OrderCount is the number of orders ever made (the last issued id)
func (e *Exchange) OrderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Count()
}

func (e *Exchange) Order(id uint64) (orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.Get(id)
	if !ok {
		return orderbook.Order{}, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return o, nil
}

// OrderFilled is false for ids never issued
func (e *Exchange) OrderFilled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.Get(id)
	return ok && o.Filled
}

// OrderCancelled is false for ids never issued
func (e *Exchange) OrderCancelled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.Get(id)
	return ok && o.Cancelled
}

func (e *Exchange) Orders(f orderbook.Filter) []orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.List(f)
}

// Total is the sum of all ledger balances in a
func (e *Exchange) Total(a asset.Asset) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Total(a)
}

// CheckCustody verifies that, for every asset on the ledger, the exchange
// holds at least the ledger total on the external ledger
func (e *Exchange) CheckCustody() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, a := range e.ledger.Assets() {
		c, err := e.custody.Custodian(a)
		if err != nil {
			return fmt.Errorf("custody %s: %w", a, err)
		}
		held := c.BalanceOf(e.address)
		total := e.ledger.Total(a)
		if held.Lt(total) {
			return fmt.Errorf("custody %s: holds %s, ledger owes %s", a, held.Dec(), total.Dec())
		}
	}
	return nil
}
