package params

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

type Exchange struct {
	// Address is the exchange's custody account on the native and token ledgers
	Address    common.Address
	FeeAccount common.Address
	FeePercent uint64 // 0..100, fixed for the life of the chain
}

type Chain struct {
	ID         int64  // EIP-712 domain chain id
	DomainName string // EIP-712 domain name
	// BLSSeed derives the producer's block signing key; at least 32 bytes
	BLSSeed []byte
}

type Node struct {
	// MinBlockTime throttles block production.
	//
	// Recommended values:
	//   - Devnet:  200ms (5 blocks/sec, prevents log spam)
	//   - Load tests: 50ms
	MinBlockTime time.Duration
	// EmptyBlocks produces a block every tick even with an empty mempool
	EmptyBlocks bool
	MaxTxBytes  int64
	DataDir     string
	// Ephemeral keeps state and blocks in memory and ignores DataDir
	Ephemeral   bool
	APIAddr     string
	CORSOrigins []string
	LogFile     string
	LogLevel    string
}

// Allocation funds one account at genesis
type Allocation struct {
	Owner  common.Address
	Amount *uint256.Int
}

// GenesisToken deploys one token at genesis with its supply held by Deployer
type GenesisToken struct {
	Address  common.Address
	Name     string
	Symbol   string
	Supply   *uint256.Int
	Deployer common.Address
}

// Genesis is applied only to an empty data directory
type Genesis struct {
	Native []Allocation
	Tokens []GenesisToken
}

type TxGen struct {
	Enabled  bool
	Mode     string // "default" | "high"
	Accounts int    // 0 = mode default
}

type Config struct {
	Exchange Exchange
	Chain    Chain
	Node     Node
	Genesis  Genesis
	TxGen    TxGen
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Address:    common.HexToAddress("0x00000000000000000000000000000000000E0C11"),
			FeeAccount: common.HexToAddress("0x000000000000000000000000000000000000FEE5"),
			FeePercent: 1,
		},
		Chain: Chain{
			ID:         1337,
			DomainName: "SwapLedger",
			BLSSeed:    []byte("swapledger-devnet-block-producer-seed"),
		},
		Node: Node{
			MinBlockTime: 200 * time.Millisecond, // Devnet default: prevent log spam
			MaxTxBytes:   1 << 24,
			DataDir:      "data/chain",
			APIAddr:      ":8080",
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:3001"},
			LogFile:      "data/node.log",
			LogLevel:     "info",
		},
		TxGen: TxGen{Mode: "default"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	addr := func(key string, dst *common.Address) {
		if v := os.Getenv(key); v != "" {
			if !common.IsHexAddress(v) {
				errs = append(errs, fmt.Errorf("%s: invalid address %q", key, v))
				return
			}
			*dst = common.HexToAddress(v)
		}
	}
	millis := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(ms) * time.Millisecond
		}
	}

	addr("EXCHANGE_ADDRESS", &cfg.Exchange.Address)
	addr("FEE_ACCOUNT", &cfg.Exchange.FeeAccount)
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		p, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEE_PERCENT: %w", err))
		}
		cfg.Exchange.FeePercent = p
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAIN_ID: %w", err))
		}
		cfg.Chain.ID = id
	}
	cfg.Chain.DomainName = getEnv("DOMAIN_NAME", cfg.Chain.DomainName)
	if v := os.Getenv("BLS_SEED"); v != "" {
		seed, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
		if err != nil {
			errs = append(errs, fmt.Errorf("BLS_SEED: %w", err))
		}
		cfg.Chain.BLSSeed = seed
	}

	millis("NODE_MIN_BLOCK_TIME_MS", &cfg.Node.MinBlockTime)
	if v := os.Getenv("NODE_EMPTY_BLOCKS"); v != "" {
		cfg.Node.EmptyBlocks = v == "true"
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if v := os.Getenv("NODE_EPHEMERAL"); v != "" {
		cfg.Node.Ephemeral = v == "true"
	}
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = splitList(v, ",")
	}

	if v := os.Getenv("GENESIS_NATIVE"); v != "" {
		allocs, err := ParseAllocations(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GENESIS_NATIVE: %w", err))
		}
		cfg.Genesis.Native = allocs
	}
	if v := os.Getenv("GENESIS_TOKENS"); v != "" {
		tokens, err := ParseTokens(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GENESIS_TOKENS: %w", err))
		}
		cfg.Genesis.Tokens = tokens
	}

	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	cfg.TxGen.Enabled = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.TxGen.Mode = getEnv("TXGEN_MODE", cfg.TxGen.Mode)
	if v := os.Getenv("TXGEN_ACCOUNTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TXGEN_ACCOUNTS: %w", err))
		}
		cfg.TxGen.Accounts = n
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail deep inside startup
func (c Config) Validate() error {
	if c.Exchange.Address == (common.Address{}) {
		return errors.New("exchange address must not be the zero address")
	}
	if c.Exchange.FeePercent > 100 {
		return fmt.Errorf("fee percent %d exceeds 100", c.Exchange.FeePercent)
	}
	if len(c.Chain.BLSSeed) < 32 {
		return fmt.Errorf("bls seed is %d bytes, need at least 32", len(c.Chain.BLSSeed))
	}
	if c.Node.MinBlockTime <= 0 {
		return errors.New("min block time must be positive")
	}
	return nil
}

// ParseAllocations reads "0xaddr=amount,0xaddr=amount"
func ParseAllocations(s string) ([]Allocation, error) {
	var out []Allocation
	for _, item := range splitList(s, ",") {
		owner, amount, ok := strings.Cut(item, "=")
		if !ok || !common.IsHexAddress(owner) {
			return nil, fmt.Errorf("bad allocation %q", item)
		}
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("allocation %q: %w", item, err)
		}
		out = append(out, Allocation{Owner: common.HexToAddress(owner), Amount: v})
	}
	return out, nil
}

// ParseTokens reads "0xaddr:Name:SYMBOL:supply:0xdeployer;..."
func ParseTokens(s string) ([]GenesisToken, error) {
	var out []GenesisToken
	for _, item := range splitList(s, ";") {
		parts := strings.Split(item, ":")
		if len(parts) != 5 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[4]) {
			return nil, fmt.Errorf("bad token %q", item)
		}
		supply, err := uint256.FromDecimal(parts[3])
		if err != nil {
			return nil, fmt.Errorf("token %q supply: %w", item, err)
		}
		out = append(out, GenesisToken{
			Address:  common.HexToAddress(parts[0]),
			Name:     parts[1],
			Symbol:   parts[2],
			Supply:   supply,
			Deployer: common.HexToAddress(parts[4]),
		})
	}
	return out, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
