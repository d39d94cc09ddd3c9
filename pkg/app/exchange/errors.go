package exchange

import (
	"errors"

	"github.com/uhyunpark/swapledger/pkg/app/core/ledger"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
)

// Every rejected operation wraps exactly one of these. Test with errors.Is.
var (
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrBalanceOverflow     = ledger.ErrBalanceOverflow
	ErrOrderNotFound       = orderbook.ErrOrderNotFound
	ErrUnauthorized        = orderbook.ErrUnauthorized
	ErrAlreadyClosed       = orderbook.ErrAlreadyClosed

	ErrInvalidAsset   = errors.New("native asset not allowed here")
	ErrTransferFailed = errors.New("external transfer failed")
	ErrDirectTransfer = errors.New("native value must be sent through depositETH")
)
