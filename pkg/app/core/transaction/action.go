package transaction

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
)

// Action is a verified transaction with typed fields. Only the fields the
// transaction type uses are set.
type Action struct {
	Type   TxType
	Sender common.Address
	Nonce  uint64

	Asset  asset.Asset
	Amount *uint256.Int
	To     common.Address

	AssetGet   asset.Asset
	AmountGet  *uint256.Int
	AssetGive  asset.Asset
	AmountGive *uint256.Int

	OrderID uint64
}

// Decode parses the payload of tx into an Action. The signature is not
// checked; use Verifier for that.
func Decode(tx *SignedTransaction) (Action, error) {
	if _, ok := schemas[tx.Type]; !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownTxType, tx.Type)
	}
	p := &tx.Payload
	a := Action{Type: tx.Type}
	var err error

	if a.Sender, err = parseAddress("owner", p.Owner); err != nil {
		return Action{}, err
	}
	if a.Nonce, err = parseUint64("nonce", p.Nonce); err != nil {
		return Action{}, err
	}

	switch tx.Type {
	case TxDepositETH, TxWithdrawETH:
		a.Asset = asset.Native
		a.Amount, err = parseAmount("amount", p.Amount)
	case TxDepositToken, TxWithdrawToken:
		if a.Asset, err = parseAsset("asset", p.Asset); err != nil {
			return Action{}, err
		}
		a.Amount, err = parseAmount("amount", p.Amount)
	case TxApprove, TxTransfer:
		if a.Asset, err = parseAsset("asset", p.Asset); err != nil {
			return Action{}, err
		}
		if a.To, err = parseAddress("to", p.To); err != nil {
			return Action{}, err
		}
		a.Amount, err = parseAmount("amount", p.Amount)
	case TxMakeOrder:
		if a.AssetGet, err = parseAsset("assetGet", p.AssetGet); err != nil {
			return Action{}, err
		}
		if a.AmountGet, err = parseAmount("amountGet", p.AmountGet); err != nil {
			return Action{}, err
		}
		if a.AssetGive, err = parseAsset("assetGive", p.AssetGive); err != nil {
			return Action{}, err
		}
		a.AmountGive, err = parseAmount("amountGive", p.AmountGive)
	case TxCancelOrder, TxFillOrder:
		a.OrderID, err = parseUint64("orderId", p.OrderID)
	}
	if err != nil {
		return Action{}, err
	}
	return a, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrMalformed, name, s)
	}
	return common.HexToAddress(s), nil
}

func parseAsset(name, s string) (asset.Asset, error) {
	addr, err := parseAddress(name, s)
	if err != nil {
		return asset.Asset{}, err
	}
	return asset.Fungible(addr), nil
}

func parseAmount(name, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %w", ErrMalformed, name, s, err)
	}
	return v, nil
}

func parseUint64(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %w", ErrMalformed, name, s, err)
	}
	return v, nil
}
