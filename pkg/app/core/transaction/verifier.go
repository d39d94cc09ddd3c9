package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/swapledger/pkg/crypto"
)

// Verifier checks transaction signatures against one EIP-712 domain
type Verifier struct {
	domain crypto.Domain
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{domain: domain}
}

func (v *Verifier) Domain() crypto.Domain {
	return v.domain
}

// Verify decodes tx and checks that the payload owner signed it.
// The returned Action's Sender is the authenticated caller.
func (v *Verifier) Verify(tx *SignedTransaction) (Action, error) {
	action, err := Decode(tx)
	if err != nil {
		return Action{}, err
	}
	msg, err := tx.Message()
	if err != nil {
		return Action{}, err
	}
	sig, err := hexutil.Decode(tx.Signature)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	signer, err := v.domain.Recover(msg, sig)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if signer != action.Sender {
		return Action{}, fmt.Errorf("%w: signed by %s, owner %s", ErrBadSignature, signer.Hex(), action.Sender.Hex())
	}
	return action, nil
}
