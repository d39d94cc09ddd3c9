package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noEnvFile points LoadFromEnv at a file that does not exist
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEE_ACCOUNT", "0x00000000000000000000000000000000000000aa")
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("CHAIN_ID", "42")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("NODE_EMPTY_BLOCKS", "true")
	t.Setenv("NODE_EPHEMERAL", "true")
	t.Setenv("BLS_SEED", "0x"+"ab"+"0000000000000000000000000000000000000000000000000000000000000000")
	t.Setenv("GENESIS_NATIVE", "0x0000000000000000000000000000000000000001=100, 0x0000000000000000000000000000000000000002=5")
	t.Setenv("GENESIS_TOKENS", "0x00000000000000000000000000000000000000c1:Coin:CN:1000:0x0000000000000000000000000000000000000001")
	t.Setenv("ENABLE_TXGEN", "true")
	t.Setenv("TXGEN_MODE", "high")

	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xaa"), cfg.Exchange.FeeAccount)
	assert.Equal(t, uint64(3), cfg.Exchange.FeePercent)
	assert.Equal(t, int64(42), cfg.Chain.ID)
	assert.Len(t, cfg.Chain.BLSSeed, 33)
	assert.Equal(t, 50*time.Millisecond, cfg.Node.MinBlockTime)
	assert.True(t, cfg.Node.EmptyBlocks)
	assert.True(t, cfg.Node.Ephemeral)
	require.Len(t, cfg.Genesis.Native, 2)
	assert.Equal(t, uint64(5), cfg.Genesis.Native[1].Amount.Uint64())
	require.Len(t, cfg.Genesis.Tokens, 1)
	assert.Equal(t, "CN", cfg.Genesis.Tokens[0].Symbol)
	assert.Equal(t, uint64(1000), cfg.Genesis.Tokens[0].Supply.Uint64())
	assert.True(t, cfg.TxGen.Enabled)
	assert.Equal(t, "high", cfg.TxGen.Mode)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_ADDR=:9999\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("API_ADDR")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Node.APIAddr)
	assert.Equal(t, "debug", cfg.Node.LogLevel)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FEE_PERCENT", "101"},
		{"FEE_PERCENT", "lots"},
		{"EXCHANGE_ADDRESS", "0x0000000000000000000000000000000000000000"},
		{"FEE_ACCOUNT", "nope"},
		{"BLS_SEED", "abcd"},
		{"NODE_MIN_BLOCK_TIME_MS", "0"},
		{"GENESIS_NATIVE", "0x01=ten"},
		{"GENESIS_TOKENS", "0x00000000000000000000000000000000000000c1:Coin:CN:1000"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv(noEnvFile(t))
			assert.Error(t, err)
		})
	}
}
