package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator. Binding the chain id and the
// exchange address keeps a signature from being replayed elsewhere.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// DefaultDomain is the local dev domain
func DefaultDomain() Domain {
	return Domain{
		Name:    "SwapLedger",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// Message is one typed-data message: its primary type, field layout and values.
// Values use the wallet JSON form: decimal strings for integers, hex for addresses.
type Message struct {
	PrimaryType string
	Fields      []apitypes.Type
	Values      apitypes.TypedDataMessage
}

func (d Domain) typedData(m Message) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			m.PrimaryType:  m.Fields,
		},
		PrimaryType: m.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: m.Values,
	}
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func (d Domain) Hash(m Message) ([]byte, error) {
	td := d.typedData(m)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", m.PrimaryType, err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// Sign hashes m under d and signs the digest
func (d Domain) Sign(s *Signer, m Message) ([]byte, error) {
	hash, err := d.Hash(m)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

// Recover returns the address that signed m under d
func (d Domain) Recover(m Message, signature []byte) (common.Address, error) {
	hash, err := d.Hash(m)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// JSON renders m as eth_signTypedData_v4 input for browser wallets
func (d Domain) JSON(m Message) (string, error) {
	b, err := json.MarshalIndent(d.typedData(m), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(b), nil
}
