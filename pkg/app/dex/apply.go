package dex

import (
	"fmt"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
	"github.com/uhyunpark/swapledger/pkg/app/core/token"
	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/app/exchange"
)

// applyTx authenticates raw and runs it. The nonce is consumed once the
// signature checks out, even if the operation itself then fails.
func (a *App) applyTx(raw []byte, now int64) (transaction.TxType, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return "invalid", err
	}
	action, err := a.verifier.Verify(tx)
	if err != nil {
		return tx.Type, err
	}
	if err := a.nonces.Use(action.Sender, action.Nonce); err != nil {
		return tx.Type, err
	}
	return tx.Type, a.dispatch(action, now)
}

func (a *App) dispatch(act transaction.Action, now int64) error {
	user := act.Sender
	switch act.Type {
	case transaction.TxDepositETH:
		return a.ex.DepositETH(user, act.Amount)
	case transaction.TxWithdrawETH:
		return a.ex.WithdrawETH(user, act.Amount)
	case transaction.TxDepositToken:
		return a.ex.DepositToken(user, act.Asset, act.Amount)
	case transaction.TxWithdrawToken:
		return a.ex.WithdrawToken(user, act.Asset, act.Amount)
	case transaction.TxMakeOrder:
		_, err := a.ex.MakeOrder(user, act.AssetGet, act.AmountGet, act.AssetGive, act.AmountGive, now)
		return err
	case transaction.TxCancelOrder:
		return a.ex.CancelOrder(user, act.OrderID, now)
	case transaction.TxFillOrder:
		return a.ex.FillOrder(user, act.OrderID, now)
	case transaction.TxApprove:
		t, err := a.token(act.Asset)
		if err != nil {
			return err
		}
		return t.Approve(user, act.To, act.Amount)
	case transaction.TxTransfer:
		return a.transfer(act)
	default:
		return fmt.Errorf("%w: %q", transaction.ErrUnknownTxType, act.Type)
	}
}

// transfer moves value on the external ledgers. Native value sent straight
// to the exchange is refused; tokens sent there are not credited.
func (a *App) transfer(act transaction.Action) error {
	if act.Asset.IsNative() {
		if act.To == a.ex.Address() {
			return a.ex.Receive(act.Sender, act.Amount)
		}
		return a.wallets.Transfer(act.Sender, act.To, act.Amount)
	}
	t, err := a.token(act.Asset)
	if err != nil {
		return err
	}
	return t.Transfer(act.Sender, act.To, act.Amount)
}

func (a *App) token(as asset.Asset) (*token.Token, error) {
	if as.IsNative() {
		return nil, fmt.Errorf("%s: %w", as, exchange.ErrInvalidAsset)
	}
	t, ok := a.registry.Token(as.Address())
	if !ok {
		return nil, fmt.Errorf("%s: %w", as, token.ErrUnknownToken)
	}
	return t, nil
}
