package exchange

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
	"github.com/uhyunpark/swapledger/pkg/app/core/fee"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/swapledger/pkg/app/core/token"
)

// TestExchangeStateMachine drives random operation sequences and checks,
// after every step, that balances are conserved and never negative, that
// ids are issued in call order and that closed orders stay closed.
func TestExchangeStateMachine(t *testing.T) {
	users := []common.Address{user1, user2, deployer}
	assets := []asset.Asset{asset.Native, tokenZ}

	rapid.Check(t, func(rt *rapid.T) {
		wallets := token.NewWallets()
		tok, err := token.New(tokenAddr, "Z Token", "Z", uint256.NewInt(1_000_000), deployer)
		if err != nil {
			rt.Fatal(err)
		}
		for _, u := range users {
			wallets.Mint(u, uint256.NewInt(10_000))
			if u != deployer {
				tok.Transfer(deployer, u, uint256.NewInt(10_000))
			}
		}
		reg := token.NewRegistry(custodyAcc, wallets)
		reg.Register(tok)

		percent := rapid.Uint64Range(0, 100).Draw(rt, "fee_percent")
		ex, err := New(Config{
			Address: custodyAcc,
			Fees:    fee.Schedule{Account: feeAccount, Percent: percent},
			Custody: reg,
		})
		if err != nil {
			rt.Fatal(err)
		}

		// net external inflow per asset: deposits minus withdrawals
		net := map[asset.Asset]*uint256.Int{asset.Native: new(uint256.Int), tokenZ: new(uint256.Int)}
		makes := uint64(0)
		closed := map[uint64]bool{}
		creators := map[uint64]common.Address{}

		amount := func(rt *rapid.T) *uint256.Int {
			return uint256.NewInt(rapid.Uint64Range(1, 3_000).Draw(rt, "amount"))
		}
		orderAmount := func(rt *rapid.T) *uint256.Int {
			return uint256.NewInt(rapid.Uint64Range(0, 3_000).Draw(rt, "order_amount"))
		}
		pickID := func(rt *rapid.T) uint64 {
			return rapid.Uint64Range(1, makes+2).Draw(rt, "id")
		}

		rt.Repeat(map[string]func(*rapid.T){
			"deposit": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				a := rapid.SampledFrom(assets).Draw(rt, "asset")
				amt := amount(rt)
				var err error
				if a.IsNative() {
					err = ex.DepositETH(u, amt)
				} else {
					if rapid.Bool().Draw(rt, "approve") {
						tok.Approve(u, custodyAcc, amt)
					}
					err = ex.DepositToken(u, a, amt)
				}
				if err == nil {
					net[a].Add(net[a], amt)
				} else if !errors.Is(err, ErrTransferFailed) {
					rt.Fatalf("deposit: unexpected error %v", err)
				}
			},
			"withdraw": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				a := rapid.SampledFrom(assets).Draw(rt, "asset")
				amt := amount(rt)
				before := ex.BalanceOf(a, u)
				var err error
				if a.IsNative() {
					err = ex.WithdrawETH(u, amt)
				} else {
					err = ex.WithdrawToken(u, a, amt)
				}
				if before.Lt(amt) {
					if !errors.Is(err, ErrInsufficientBalance) {
						rt.Fatalf("withdraw %s of %s: err = %v, want ErrInsufficientBalance", amt, before, err)
					}
					return
				}
				if err != nil {
					rt.Fatalf("withdraw: %v", err)
				}
				net[a].Sub(net[a], amt)
			},
			"make": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				get := rapid.SampledFrom(assets).Draw(rt, "asset_get")
				give := rapid.SampledFrom(assets).Draw(rt, "asset_give")
				id, err := ex.MakeOrder(u, get, orderAmount(rt), give, orderAmount(rt), 1)
				if err != nil {
					rt.Fatalf("make: %v", err)
				}
				makes++
				if id != makes {
					rt.Fatalf("id = %d, want %d", id, makes)
				}
				creators[id] = u
			},
			"cancel": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				id := pickID(rt)
				err := ex.CancelOrder(u, id, 1)
				switch {
				case id > makes:
					if !errors.Is(err, ErrOrderNotFound) {
						rt.Fatalf("cancel unknown: err = %v", err)
					}
				case creators[id] != u:
					if !errors.Is(err, ErrUnauthorized) {
						rt.Fatalf("cancel by non-creator: err = %v", err)
					}
				case closed[id]:
					if !errors.Is(err, ErrAlreadyClosed) {
						rt.Fatalf("cancel closed: err = %v", err)
					}
				default:
					if err != nil {
						rt.Fatalf("cancel: %v", err)
					}
					closed[id] = true
				}
			},
			"fill": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				id := pickID(rt)
				o, _ := ex.Order(id)
				parties := []common.Address{o.Creator, u, feeAccount}
				before := balancesOf(ex, assets, parties)
				err := ex.FillOrder(u, id, 1)
				after := balancesOf(ex, assets, parties)
				if err != nil {
					if !sameBalances(before, after) {
						rt.Fatalf("failed fill of %d changed balances", id)
					}
				} else {
					checkFillSettlement(rt, o, u, percent, before, after)
				}
				switch {
				case id > makes:
					if !errors.Is(err, ErrOrderNotFound) {
						rt.Fatalf("fill unknown: err = %v", err)
					}
				case closed[id]:
					if !errors.Is(err, ErrAlreadyClosed) {
						rt.Fatalf("fill closed: err = %v", err)
					}
				case err == nil:
					closed[id] = true
				case !errors.Is(err, ErrInsufficientBalance):
					rt.Fatalf("fill: unexpected error %v", err)
				}
			},
			"": func(rt *rapid.T) {
				st := ex.Snapshot()
				sums := map[asset.Asset]*uint256.Int{asset.Native: new(uint256.Int), tokenZ: new(uint256.Int)}
				for _, e := range st.Balances {
					if e.Amount.IsZero() {
						rt.Fatalf("zero balance stored for %s/%s", e.Asset, e.Owner.Hex())
					}
					sums[e.Asset].Add(sums[e.Asset], e.Amount)
				}
				for _, a := range assets {
					if !sums[a].Eq(net[a]) {
						rt.Fatalf("%s: balances sum to %s, net deposits %s", a, sums[a], net[a])
					}
					if !ex.Total(a).Eq(net[a]) {
						rt.Fatalf("%s: total %s, net deposits %s", a, ex.Total(a), net[a])
					}
				}
				if err := ex.CheckCustody(); err != nil {
					rt.Fatal(err)
				}
				if ex.OrderCount() != makes {
					rt.Fatalf("order count = %d, makes = %d", ex.OrderCount(), makes)
				}
				for id := range closed {
					if !ex.OrderFilled(id) && !ex.OrderCancelled(id) {
						rt.Fatalf("order %d reopened", id)
					}
				}
			},
		})
	})
}

type holding struct {
	a     asset.Asset
	owner common.Address
}

func balancesOf(ex *Exchange, assets []asset.Asset, owners []common.Address) map[holding]*uint256.Int {
	out := make(map[holding]*uint256.Int)
	for _, a := range assets {
		for _, o := range owners {
			out[holding{a, o}] = ex.BalanceOf(a, o)
		}
	}
	return out
}

func sameBalances(x, y map[holding]*uint256.Int) bool {
	for k, v := range x {
		if !v.Eq(y[k]) {
			return false
		}
	}
	return true
}

// checkFillSettlement verifies that a fill moved exactly amount_give from
// maker to filler, amount_get from filler to maker, and floor(p*g/100) of
// asset_get from filler to the fee account. Parties and assets may coincide,
// so expected movements are summed per holding before comparing.
func checkFillSettlement(rt *rapid.T, o orderbook.Order, filler common.Address, percent uint64,
	before, after map[holding]*uint256.Int) {
	charge := new(uint256.Int).Mul(o.AmountGet, uint256.NewInt(percent))
	charge.Div(charge, uint256.NewInt(100))
	paid := new(uint256.Int).Add(o.AmountGet, charge)

	in := map[holding]*uint256.Int{}
	out := map[holding]*uint256.Int{}
	move := func(m map[holding]*uint256.Int, h holding, v *uint256.Int) {
		if m[h] == nil {
			m[h] = new(uint256.Int)
		}
		m[h].Add(m[h], v)
	}
	move(out, holding{o.AssetGive, o.Creator}, o.AmountGive)
	move(in, holding{o.AssetGive, filler}, o.AmountGive)
	move(out, holding{o.AssetGet, filler}, paid)
	move(in, holding{o.AssetGet, o.Creator}, o.AmountGet)
	move(in, holding{o.AssetGet, feeAccount}, charge)

	for h, b := range before {
		want := new(uint256.Int).Set(b)
		if v := in[h]; v != nil {
			want.Add(want, v)
		}
		got := new(uint256.Int).Set(after[h])
		if v := out[h]; v != nil {
			got.Add(got, v)
		}
		if !got.Eq(want) {
			rt.Fatalf("fill %d at %d%%: %s of %s went %s -> %s (fee %s, filler pays %s)",
				o.ID, percent, h.a, h.owner.Hex(), b, after[h], charge, paid)
		}
	}
}
