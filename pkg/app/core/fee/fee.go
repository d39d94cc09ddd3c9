package fee

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxPercent bounds the configurable fee
const MaxPercent = 100

var ErrInvalidPercent = errors.New("fee percent out of range")

var hundred = uint256.NewInt(100)

// Schedule is the exchange-wide fee configuration: every fill pays
// Percent% of the order's amount_get to Account, in the order's asset_get.
// Fixed at construction.
type Schedule struct {
	Account common.Address
	Percent uint64
}

// NewSchedule validates percent (0..MaxPercent)
func NewSchedule(account common.Address, percent uint64) (Schedule, error) {
	if percent > MaxPercent {
		return Schedule{}, fmt.Errorf("%d: %w", percent, ErrInvalidPercent)
	}
	return Schedule{Account: account, Percent: percent}, nil
}

// Fee returns floor(Percent * amountGet / 100).
//
// The product is taken in 512 bits (MulDivOverflow), so the result is exact
// for every 256-bit amount.
func (s Schedule) Fee(amountGet *uint256.Int) *uint256.Int {
	fee, _ := new(uint256.Int).MulDivOverflow(amountGet, uint256.NewInt(s.Percent), hundred)
	return fee
}

// Split returns the fee and what the filler is debited in asset_get
// (amountGet + fee). The maker receives exactly amountGet and the fee
// account exactly fee, so total == amountGet + fee with nothing left over.
func (s Schedule) Split(amountGet *uint256.Int) (fee, total *uint256.Int, err error) {
	fee = s.Fee(amountGet)
	total, overflow := new(uint256.Int).AddOverflow(amountGet, fee)
	if overflow {
		return nil, nil, fmt.Errorf("amount %s plus fee %s exceeds 256 bits", amountGet.Dec(), fee.Dec())
	}
	return fee, total, nil
}
