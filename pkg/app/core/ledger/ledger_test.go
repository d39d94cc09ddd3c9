package ledger

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

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestBalanceOfUnknownIsZero(t *testing.T) {
	l := New()
	if got := l.BalanceOf(asset.Native, alice); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
	if got := l.Total(tokenZ); !got.IsZero() {
		t.Errorf("total = %s, want 0", got)
	}
}

func TestCreditDebit(t *testing.T) {
	l := New()

	if err := l.Credit(asset.Native, alice, u(100)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if err := l.Credit(tokenZ, alice, u(7)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if err := l.Debit(asset.Native, alice, u(40)); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	if got := l.BalanceOf(asset.Native, alice); got.Uint64() != 60 {
		t.Errorf("native balance = %s, want 60", got)
	}
	if got := l.BalanceOf(tokenZ, alice); got.Uint64() != 7 {
		t.Errorf("token balance = %s, want 7", got)
	}
	if got := l.Total(asset.Native); got.Uint64() != 60 {
		t.Errorf("native total = %s, want 60", got)
	}
}

func TestDebitInsufficient(t *testing.T) {
	l := New()
	l.Credit(asset.Native, alice, u(1))

	err := l.Debit(asset.Native, alice, u(100))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(asset.Native, alice); got.Uint64() != 1 {
		t.Errorf("balance changed on failed debit: %s", got)
	}

	// unknown owner
	if err := l.Debit(asset.Native, bob, u(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestCreditOverflow(t *testing.T) {
	l := New()
	max := new(uint256.Int).SetAllOne()
	if err := l.Credit(tokenZ, alice, max); err != nil {
		t.Fatalf("credit max failed: %v", err)
	}
	if err := l.Credit(tokenZ, alice, u(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("err = %v, want ErrBalanceOverflow", err)
	}
	// total overflows even though bob's own balance would not
	if err := l.Credit(tokenZ, bob, u(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("err = %v, want ErrBalanceOverflow", err)
	}
	if got := l.BalanceOf(tokenZ, bob); !got.IsZero() {
		t.Errorf("bob balance = %s, want 0", got)
	}
}

func TestRollbackRestoresEverything(t *testing.T) {
	l := New()
	l.Credit(asset.Native, alice, u(10))

	l.Begin()
	l.Credit(asset.Native, bob, u(5))
	l.Debit(asset.Native, alice, u(10))
	l.Credit(tokenZ, alice, u(3))
	l.Rollback()

	if got := l.BalanceOf(asset.Native, alice); got.Uint64() != 10 {
		t.Errorf("alice native = %s, want 10", got)
	}
	if got := l.BalanceOf(asset.Native, bob); !got.IsZero() {
		t.Errorf("bob native = %s, want 0", got)
	}
	if got := l.Total(tokenZ); !got.IsZero() {
		t.Errorf("token total = %s, want 0", got)
	}
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}

	l.Begin()
	l.Credit(asset.Native, bob, u(5))
	l.Commit()
	if got := l.BalanceOf(asset.Native, bob); got.Uint64() != 5 {
		t.Errorf("bob native = %s, want 5 after commit", got)
	}
}

func TestNestedBeginPanics(t *testing.T) {
	l := New()
	l.Begin()
	defer func() {
		if recover() == nil {
			t.Error("expected panic on nested Begin")
		}
	}()
	l.Begin()
}

func TestScanOrderedAndRestore(t *testing.T) {
	l := New()
	l.Credit(tokenZ, bob, u(2))
	l.Credit(asset.Native, bob, u(1))
	l.Credit(asset.Native, alice, u(3))
	l.Credit(tokenZ, alice, u(4))
	l.Debit(tokenZ, alice, u(4)) // zero balances are dropped

	var entries []Entry
	l.Scan(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// native (zero address) sorts first, then owners in byte order
	if !entries[0].Asset.IsNative() || entries[0].Owner != alice {
		t.Errorf("entries[0] = %s/%s", entries[0].Asset, entries[0].Owner.Hex())
	}
	if !entries[1].Asset.IsNative() || entries[1].Owner != bob {
		t.Errorf("entries[1] = %s/%s", entries[1].Asset, entries[1].Owner.Hex())
	}
	if entries[2].Asset != tokenZ || entries[2].Owner != bob {
		t.Errorf("entries[2] = %s/%s", entries[2].Asset, entries[2].Owner.Hex())
	}

	restored := New()
	if err := restored.Restore(entries); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if got := restored.Total(asset.Native); got.Uint64() != 4 {
		t.Errorf("restored native total = %s, want 4", got)
	}
	if got := restored.BalanceOf(tokenZ, bob); got.Uint64() != 2 {
		t.Errorf("restored token balance = %s, want 2", got)
	}
}

func TestAssets(t *testing.T) {
	l := New()
	l.Credit(tokenZ, alice, u(1))
	l.Credit(asset.Native, bob, u(1))
	got := l.Assets()
	if len(got) != 2 || !got[0].IsNative() || got[1] != tokenZ {
		t.Errorf("assets = %v", got)
	}
	l.Debit(tokenZ, alice, u(1))
	if got := l.Assets(); len(got) != 1 {
		t.Errorf("assets after drain = %v", got)
	}
}

func TestTakeChanges(t *testing.T) {
	l := New()
	l.Credit(tokenZ, bob, u(2))
	l.Credit(asset.Native, alice, u(10))

	got := l.TakeChanges()
	if len(got) != 2 || !got[0].Asset.IsNative() || got[0].Owner != alice || got[0].Amount.Uint64() != 10 ||
		got[1].Asset != tokenZ || got[1].Owner != bob {
		t.Fatalf("changes = %+v", got)
	}
	if got := l.TakeChanges(); len(got) != 0 {
		t.Errorf("changes not cleared: %+v", got)
	}

	// rolled back work is not a change
	l.Begin()
	l.Credit(asset.Native, bob, u(5))
	l.Rollback()
	if got := l.TakeChanges(); len(got) != 0 {
		t.Errorf("rolled back changes = %+v", got)
	}

	// an emptied balance is reported as zero
	l.Begin()
	l.Debit(asset.Native, alice, u(10))
	l.Commit()
	got = l.TakeChanges()
	if len(got) != 1 || got[0].Owner != alice || !got[0].Amount.IsZero() {
		t.Errorf("changes = %+v, want alice at 0", got)
	}

	l.Credit(asset.Native, alice, u(1))
	if err := l.Restore(nil); err != nil {
		t.Fatal(err)
	}
	if got := l.TakeChanges(); len(got) != 0 {
		t.Errorf("restore kept changes: %+v", got)
	}
}
