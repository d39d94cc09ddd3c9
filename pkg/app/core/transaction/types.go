package transaction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/swapledger/pkg/crypto"
)

// TxType names the exchange or token action a transaction carries
type TxType string

const (
	TxDepositETH    TxType = "depositETH"
	TxWithdrawETH   TxType = "withdrawETH"
	TxDepositToken  TxType = "depositToken"
	TxWithdrawToken TxType = "withdrawToken"
	TxMakeOrder     TxType = "makeOrder"
	TxCancelOrder   TxType = "cancelOrder"
	TxFillOrder     TxType = "fillOrder"

	// token-side actions, needed so users can fund and approve
	TxApprove  TxType = "approve"
	TxTransfer TxType = "transfer"
)

var (
	ErrUnknownTxType = errors.New("unknown transaction type")
	ErrBadSignature  = errors.New("bad signature")
	ErrMalformed     = errors.New("malformed transaction")
)

// SignedTransaction is the wire envelope submitted to the node
type SignedTransaction struct {
	Type      TxType  `json:"type"`
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"` // 0x-prefixed, 65 bytes
}

// Payload is the union of every action's fields. Integers are decimal
// strings and addresses are 0x-hex, the form wallets sign.
type Payload struct {
	Owner string `json:"owner"`
	Nonce string `json:"nonce"`

	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount,omitempty"`
	To     string `json:"to,omitempty"` // transfer recipient or approve spender

	AssetGet   string `json:"assetGet,omitempty"`
	AmountGet  string `json:"amountGet,omitempty"`
	AssetGive  string `json:"assetGive,omitempty"`
	AmountGive string `json:"amountGive,omitempty"`

	OrderID string `json:"orderId,omitempty"`
}

type field struct {
	name, typ string
	get       func(*Payload) string
}

var (
	fOwner      = field{"owner", "address", func(p *Payload) string { return p.Owner }}
	fNonce      = field{"nonce", "uint256", func(p *Payload) string { return p.Nonce }}
	fAsset      = field{"asset", "address", func(p *Payload) string { return p.Asset }}
	fAmount     = field{"amount", "uint256", func(p *Payload) string { return p.Amount }}
	fTo         = field{"to", "address", func(p *Payload) string { return p.To }}
	fAssetGet   = field{"assetGet", "address", func(p *Payload) string { return p.AssetGet }}
	fAmountGet  = field{"amountGet", "uint256", func(p *Payload) string { return p.AmountGet }}
	fAssetGive  = field{"assetGive", "address", func(p *Payload) string { return p.AssetGive }}
	fAmountGive = field{"amountGive", "uint256", func(p *Payload) string { return p.AmountGive }}
	fOrderID    = field{"orderId", "uint256", func(p *Payload) string { return p.OrderID }}
)

type schema struct {
	primaryType string
	fields      []field
}

// Typed-data layout per action. Owner and nonce close every struct.
var schemas = map[TxType]schema{
	TxDepositETH:    {"DepositETH", []field{fAmount, fOwner, fNonce}},
	TxWithdrawETH:   {"WithdrawETH", []field{fAmount, fOwner, fNonce}},
	TxDepositToken:  {"DepositToken", []field{fAsset, fAmount, fOwner, fNonce}},
	TxWithdrawToken: {"WithdrawToken", []field{fAsset, fAmount, fOwner, fNonce}},
	TxMakeOrder:     {"MakeOrder", []field{fAssetGet, fAmountGet, fAssetGive, fAmountGive, fOwner, fNonce}},
	TxCancelOrder:   {"CancelOrder", []field{fOrderID, fOwner, fNonce}},
	TxFillOrder:     {"FillOrder", []field{fOrderID, fOwner, fNonce}},
	TxApprove:       {"Approve", []field{fAsset, fTo, fAmount, fOwner, fNonce}},
	TxTransfer:      {"Transfer", []field{fAsset, fTo, fAmount, fOwner, fNonce}},
}

// Types lists every supported transaction type
func Types() []TxType {
	return []TxType{
		TxDepositETH, TxWithdrawETH, TxDepositToken, TxWithdrawToken,
		TxMakeOrder, TxCancelOrder, TxFillOrder, TxApprove, TxTransfer,
	}
}

// Message builds the typed-data message the owner signs for tx
func (tx *SignedTransaction) Message() (crypto.Message, error) {
	s, ok := schemas[tx.Type]
	if !ok {
		return crypto.Message{}, fmt.Errorf("%w: %q", ErrUnknownTxType, tx.Type)
	}
	msg := crypto.Message{
		PrimaryType: s.primaryType,
		Fields:      make([]apitypes.Type, 0, len(s.fields)),
		Values:      apitypes.TypedDataMessage{},
	}
	for _, f := range s.fields {
		v := f.get(&tx.Payload)
		if v == "" {
			return crypto.Message{}, fmt.Errorf("%w: %s requires %s", ErrMalformed, tx.Type, f.name)
		}
		msg.Fields = append(msg.Fields, apitypes.Type{Name: f.name, Type: f.typ})
		msg.Values[f.name] = v
	}
	return msg, nil
}

// Sign fills in the signature with s's key under domain
func (tx *SignedTransaction) Sign(domain crypto.Domain, s *crypto.Signer) error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	sig, err := domain.Sign(s, msg)
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", tx.Type, err)
	}
	tx.Signature = hexutil.Encode(sig)
	return nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	_, err := tx.Message()
	return err
}

// ParseTransaction deserializes and validates raw bytes
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example (fillOrder):
//   {
//     "type": "fillOrder",
//     "payload": {"owner": "0x742d...", "nonce": "3", "orderId": "1"},
//     "signature": "0x1234..."
//   }
