package orderbook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnauthorized  = errors.New("caller is not the order creator")
	ErrAlreadyClosed = errors.New("order already filled or cancelled")
)

// Status is derived from the two one-way flags of an order
type Status int8

const (
	StatusOpen Status = iota
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "open":
		return StatusOpen, true
	case "filled":
		return StatusFilled, true
	case "cancelled":
		return StatusCancelled, true
	default:
		return 0, false
	}
}

// Order is a standing offer: the creator gives AmountGive of AssetGive to
// whoever pays AmountGet of AssetGet. Amount pointers are never mutated
// after creation, so copies of an Order may share them.
type Order struct {
	ID         uint64         `json:"id"`
	Creator    common.Address `json:"creator"`
	AssetGet   asset.Asset    `json:"assetGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	AssetGive  asset.Asset    `json:"assetGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	CreatedAt  int64          `json:"createdAt"` // unix seconds, block time
	Filled     bool           `json:"filled"`
	Cancelled  bool           `json:"cancelled"`
}

// IsOpen returns true until the order is filled or cancelled
func (o *Order) IsOpen() bool {
	return !o.Filled && !o.Cancelled
}

func (o *Order) Status() Status {
	switch {
	case o.Filled:
		return StatusFilled
	case o.Cancelled:
		return StatusCancelled
	default:
		return StatusOpen
	}
}

// Book stores orders by id. Ids are issued 1, 2, 3, … and never reused.
// Not safe for concurrent use: the owning exchange serializes access.
type Book struct {
	orders *btree.Map[uint64, *Order]
	count  uint64
	open   int

	// undo journal, non-nil while a transaction is open
	journal []undo
	// ids changed by committed work since the last TakeChanges
	dirty map[uint64]struct{}
}

type undo struct {
	id   uint64
	prev *Order // nil: the order did not exist
}

func NewBook() *Book {
	return &Book{
		orders: btree.NewMap[uint64, *Order](32),
		dirty:  make(map[uint64]struct{}),
	}
}

// Count returns the number of orders ever created (the last issued id)
func (b *Book) Count() uint64 {
	return b.count
}

// OpenCount returns the number of orders neither filled nor cancelled
func (b *Book) OpenCount() int {
	return b.open
}

// Get returns a copy of the order
func (b *Book) Get(id uint64) (Order, bool) {
	o, ok := b.orders.Get(id)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Make records a new open order under the next sequential id
func (b *Book) Make(creator common.Address, assetGet asset.Asset, amountGet *uint256.Int,
	assetGive asset.Asset, amountGive *uint256.Int, createdAt int64) Order {
	id := b.count + 1
	o := &Order{
		ID:         id,
		Creator:    creator,
		AssetGet:   assetGet,
		AmountGet:  amountGet.Clone(),
		AssetGive:  assetGive,
		AmountGive: amountGive.Clone(),
		CreatedAt:  createdAt,
	}
	b.record(id, nil)
	b.orders.Set(id, o)
	b.count = id
	b.open++
	return *o
}

// Open returns the order if it exists and is still open
func (b *Book) Open(id uint64) (Order, error) {
	o, ok := b.orders.Get(id)
	if !ok {
		return Order{}, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	if !o.IsOpen() {
		return Order{}, fmt.Errorf("order %d is %s: %w", id, o.Status(), ErrAlreadyClosed)
	}
	return *o, nil
}

// Cancel closes an open order on behalf of its creator.
// Checks run in order: existence, ownership, openness.
func (b *Book) Cancel(caller common.Address, id uint64) (Order, error) {
	o, ok := b.orders.Get(id)
	if !ok {
		return Order{}, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	if o.Creator != caller {
		return Order{}, fmt.Errorf("cancel order %d by %s: %w", id, caller.Hex(), ErrUnauthorized)
	}
	if !o.IsOpen() {
		return Order{}, fmt.Errorf("order %d is %s: %w", id, o.Status(), ErrAlreadyClosed)
	}
	next := b.replace(o)
	next.Cancelled = true
	b.open--
	return *next, nil
}

// MarkFilled closes an open order as filled
func (b *Book) MarkFilled(id uint64) (Order, error) {
	if _, err := b.Open(id); err != nil {
		return Order{}, err
	}
	o, _ := b.orders.Get(id)
	next := b.replace(o)
	next.Filled = true
	b.open--
	return *next, nil
}

// replace swaps in a fresh copy so the journal can keep the old pointer
func (b *Book) replace(o *Order) *Order {
	cp := *o
	b.record(o.ID, o)
	b.orders.Set(o.ID, &cp)
	return &cp
}

func (b *Book) record(id uint64, prev *Order) {
	if b.journal == nil {
		b.dirty[id] = struct{}{}
		return
	}
	b.journal = append(b.journal, undo{id: id, prev: prev})
}

// Begin opens an undo journal
func (b *Book) Begin() {
	if b.journal != nil {
		panic("orderbook: nested transaction")
	}
	b.journal = make([]undo, 0, 2)
}

// Commit keeps all changes made since Begin
func (b *Book) Commit() {
	for _, u := range b.journal {
		b.dirty[u.id] = struct{}{}
	}
	b.journal = nil
}

// Rollback reverts every change made since Begin, newest first
func (b *Book) Rollback() {
	for i := len(b.journal) - 1; i >= 0; i-- {
		u := b.journal[i]
		if u.prev == nil {
			b.orders.Delete(u.id)
			b.count = u.id - 1
			b.open--
			continue
		}
		// only open orders are ever replaced
		b.orders.Set(u.id, u.prev)
		b.open++
	}
	b.journal = nil
}

// Filter selects orders in List. Zero value matches everything.
type Filter struct {
	Creator *common.Address
	Status  *Status
	AfterID uint64 // exclusive lower bound on id
	Limit   int    // 0 = unlimited
}

func (f Filter) match(o *Order) bool {
	if f.Creator != nil && o.Creator != *f.Creator {
		return false
	}
	if f.Status != nil && o.Status() != *f.Status {
		return false
	}
	return true
}

// List returns copies of matching orders in ascending id order
func (b *Book) List(f Filter) []Order {
	var out []Order
	b.orders.Ascend(f.AfterID+1, func(_ uint64, o *Order) bool {
		if f.match(o) {
			out = append(out, *o)
		}
		return f.Limit == 0 || len(out) < f.Limit
	})
	return out
}

// Restore replaces the book with persisted orders and counter
func (b *Book) Restore(orders []Order, count uint64) error {
	if b.journal != nil {
		return errors.New("orderbook: restore inside transaction")
	}
	fresh := btree.NewMap[uint64, *Order](32)
	open := 0
	for i := range orders {
		o := orders[i]
		if o.ID == 0 || o.ID > count {
			return fmt.Errorf("restore order %d: id outside 1..%d", o.ID, count)
		}
		if o.IsOpen() {
			open++
		}
		fresh.Set(o.ID, &o)
	}
	b.orders = fresh
	b.count = count
	b.open = open
	b.dirty = make(map[uint64]struct{})
	return nil
}

// TakeChanges returns copies of the orders created or closed by committed
// work since the previous call, in id order, and forgets them
func (b *Book) TakeChanges() []Order {
	ids := make([]uint64, 0, len(b.dirty))
	for id := range b.dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := b.orders.Get(id); ok {
			out = append(out, *o)
		}
	}
	b.dirty = make(map[uint64]struct{})
	return out
}
