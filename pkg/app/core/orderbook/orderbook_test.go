package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
)

var (
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob    = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	tokenZ = asset.Fungible(common.HexToAddress("0x1000000000000000000000000000000000000001"))
)

func makeOrder(b *Book, creator common.Address, ts int64) Order {
	return b.Make(creator, tokenZ, uint256.NewInt(1), asset.Native, uint256.NewInt(2), ts)
}

func TestMakeAssignsSequentialIDs(t *testing.T) {
	b := NewBook()
	for i := 1; i <= 3; i++ {
		o := makeOrder(b, alice, int64(100+i))
		if o.ID != uint64(i) {
			t.Errorf("order id = %d, want %d", o.ID, i)
		}
		if !o.IsOpen() || o.Status() != StatusOpen {
			t.Errorf("new order %d not open", o.ID)
		}
	}
	if b.Count() != 3 {
		t.Errorf("count = %d, want 3", b.Count())
	}

	got, ok := b.Get(2)
	if !ok {
		t.Fatal("order 2 not found")
	}
	if got.Creator != alice || got.AssetGet != tokenZ || !got.AssetGive.IsNative() {
		t.Errorf("order 2 fields = %+v", got)
	}
	if got.AmountGet.Uint64() != 1 || got.AmountGive.Uint64() != 2 || got.CreatedAt != 102 {
		t.Errorf("order 2 amounts/timestamp = %s/%s/%d", got.AmountGet, got.AmountGive, got.CreatedAt)
	}
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		caller  common.Address
		id      uint64
		prepare func(b *Book)
		wantErr error
	}{
		{name: "creator cancels", caller: alice, id: 1},
		{name: "unknown id", caller: alice, id: 9999, wantErr: ErrOrderNotFound},
		{name: "not creator", caller: bob, id: 1, wantErr: ErrUnauthorized},
		{
			name:    "not creator on closed order",
			caller:  bob,
			id:      1,
			prepare: func(b *Book) { b.Cancel(alice, 1) },
			wantErr: ErrUnauthorized,
		},
		{
			name:    "already cancelled",
			caller:  alice,
			id:      1,
			prepare: func(b *Book) { b.Cancel(alice, 1) },
			wantErr: ErrAlreadyClosed,
		},
		{
			name:    "already filled",
			caller:  alice,
			id:      1,
			prepare: func(b *Book) { b.MarkFilled(1) },
			wantErr: ErrAlreadyClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook()
			makeOrder(b, alice, 1)
			if tt.prepare != nil {
				tt.prepare(b)
			}
			o, err := b.Cancel(tt.caller, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !o.Cancelled {
				t.Error("returned order not marked cancelled")
			}
		})
	}
}

func TestMarkFilledIsTerminal(t *testing.T) {
	b := NewBook()
	makeOrder(b, alice, 1)

	o, err := b.MarkFilled(1)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if !o.Filled || o.Status() != StatusFilled {
		t.Errorf("order not filled: %+v", o)
	}
	if _, err := b.MarkFilled(1); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second fill err = %v, want ErrAlreadyClosed", err)
	}
	if _, err := b.MarkFilled(2); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("fill unknown err = %v, want ErrOrderNotFound", err)
	}
}

func TestCopiesAreDetached(t *testing.T) {
	b := NewBook()
	o := makeOrder(b, alice, 1)
	o.Filled = true

	got, _ := b.Get(1)
	if got.Filled {
		t.Error("mutating a returned copy changed the book")
	}
}

func TestRollback(t *testing.T) {
	b := NewBook()
	makeOrder(b, alice, 1)

	b.Begin()
	makeOrder(b, bob, 2)
	b.Cancel(alice, 1)
	b.Rollback()

	if b.Count() != 1 {
		t.Errorf("count = %d, want 1 after rollback", b.Count())
	}
	if _, ok := b.Get(2); ok {
		t.Error("order 2 survived rollback")
	}
	o, _ := b.Get(1)
	if !o.IsOpen() {
		t.Error("order 1 cancel survived rollback")
	}

	// ids issued after a rollback continue from the restored counter
	if o := makeOrder(b, bob, 3); o.ID != 2 {
		t.Errorf("next id = %d, want 2", o.ID)
	}
}

func TestList(t *testing.T) {
	b := NewBook()
	makeOrder(b, alice, 1)
	makeOrder(b, bob, 2)
	makeOrder(b, alice, 3)
	b.Cancel(alice, 1)
	b.MarkFilled(2)

	open := StatusOpen
	if got := b.List(Filter{Status: &open}); len(got) != 1 || got[0].ID != 3 {
		t.Errorf("open orders = %+v", got)
	}
	if got := b.List(Filter{Creator: &alice}); len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Errorf("alice orders = %+v", got)
	}
	if got := b.List(Filter{AfterID: 1, Limit: 1}); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("page = %+v", got)
	}
}

func TestRestore(t *testing.T) {
	b := NewBook()
	makeOrder(b, alice, 1)
	makeOrder(b, bob, 2)
	b.MarkFilled(1)
	orders := b.List(Filter{})

	restored := NewBook()
	if err := restored.Restore(orders, b.Count()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if o, _ := restored.Get(1); !o.Filled {
		t.Error("restored order 1 lost filled flag")
	}
	if o := makeOrder(restored, alice, 3); o.ID != 3 {
		t.Errorf("next id after restore = %d, want 3", o.ID)
	}

	bad := []Order{{ID: 5}}
	if err := NewBook().Restore(bad, 2); err == nil {
		t.Error("expected error for id beyond counter")
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusFilled, StatusCancelled} {
		got, ok := ParseStatus(s.String())
		if !ok || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := ParseStatus("partial"); ok {
		t.Error("unexpected status accepted")
	}
}

func TestOpenCountAndChanges(t *testing.T) {
	b := NewBook()
	makeOrder(b, alice, 1)
	makeOrder(b, bob, 2)
	if b.OpenCount() != 2 {
		t.Errorf("open = %d, want 2", b.OpenCount())
	}
	if got := b.TakeChanges(); len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("changes = %+v", got)
	}

	b.Begin()
	makeOrder(b, alice, 3)
	b.Cancel(alice, 1)
	b.Rollback()
	if b.OpenCount() != 2 {
		t.Errorf("open = %d after rollback, want 2", b.OpenCount())
	}
	if got := b.TakeChanges(); len(got) != 0 {
		t.Errorf("rolled back changes = %+v", got)
	}

	b.Begin()
	b.MarkFilled(2)
	b.Commit()
	if b.OpenCount() != 1 {
		t.Errorf("open = %d, want 1", b.OpenCount())
	}
	got := b.TakeChanges()
	if len(got) != 1 || got[0].ID != 2 || !got[0].Filled {
		t.Errorf("changes = %+v, want filled order 2", got)
	}

	restored := NewBook()
	if err := restored.Restore(b.List(Filter{}), b.Count()); err != nil {
		t.Fatal(err)
	}
	if restored.OpenCount() != 1 || len(restored.TakeChanges()) != 0 {
		t.Errorf("restored open = %d", restored.OpenCount())
	}
}
