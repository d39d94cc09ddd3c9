package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/crypto"
)

type options struct {
	key        string
	domainName string
	chainID    int64
	submit     string

	payload transaction.Payload
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "sign-tx",
		Short:        "Create, sign and verify exchange transactions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&o.domainName, "domain-name", crypto.DefaultDomain().Name, "EIP-712 domain name")
	root.PersistentFlags().Int64Var(&o.chainID, "chain-id", crypto.DefaultDomain().ChainID.Int64(), "EIP-712 chain id")

	root.AddCommand(keygenCmd(), signCmd(o), verifyCmd(o))
	return root
}

func (o *options) domain() crypto.Domain {
	d := crypto.DefaultDomain()
	d.Name = o.domainName
	d.ChainID = big.NewInt(o.chainID)
	return d
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new secp256k1 key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", s.Address().Hex())
			fmt.Fprintf(out, "Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
			return nil
		},
	}
}

func signCmd(o *options) *cobra.Command {
	types := make([]string, 0)
	for _, t := range transaction.Types() {
		types = append(types, string(t))
	}
	cmd := &cobra.Command{
		Use:   "sign <type>",
		Short: "Sign a transaction of one of: " + strings.Join(types, ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.sign(cmd, transaction.TxType(args[0]))
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.key, "key", "", "hex private key (required)")
	f.StringVar(&o.payload.Nonce, "nonce", "0", "account nonce")
	f.StringVar(&o.payload.Asset, "asset", "", "token address for token deposits, withdrawals, approve and transfer")
	f.StringVar(&o.payload.Amount, "amount", "", "decimal amount")
	f.StringVar(&o.payload.To, "to", "", "recipient or spender")
	f.StringVar(&o.payload.AssetGet, "asset-get", "", "asset the maker wants")
	f.StringVar(&o.payload.AmountGet, "amount-get", "", "amount the maker wants")
	f.StringVar(&o.payload.AssetGive, "asset-give", "", "asset the maker gives")
	f.StringVar(&o.payload.AmountGive, "amount-give", "", "amount the maker gives")
	f.StringVar(&o.payload.OrderID, "order-id", "", "order to cancel or fill")
	f.StringVar(&o.submit, "submit", "", "node API base URL, e.g. http://localhost:8080")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func (o *options) sign(cmd *cobra.Command, typ transaction.TxType) error {
	s, err := crypto.FromPrivateKeyHex(o.key)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(o.payload.Nonce, 10, 64); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	p := o.payload
	p.Owner = s.Address().Hex()

	tx := &transaction.SignedTransaction{Type: typ, Payload: p}
	if err := tx.Sign(o.domain(), s); err != nil {
		return err
	}
	// round trip through the verifier so a bad payload fails here, not at the node
	if _, err := transaction.NewVerifier(o.domain()).Verify(tx); err != nil {
		return err
	}

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(txJSON))

	if o.submit == "" {
		return nil
	}
	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(o.submit, "/")+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s", resp.Status, body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("node rejected transaction: %s", resp.Status)
	}
	return nil
}

func verifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [file]",
		Short: "Verify a signed transaction read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			tx, err := transaction.ParseTransaction(raw)
			if err != nil {
				return err
			}
			action, err := transaction.NewVerifier(o.domain()).Verify(tx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signature VALID\n  Type: %s\n  Signer: %s\n  Nonce: %d\n",
				action.Type, action.Sender.Hex(), action.Nonce)
			return nil
		},
	}
}
