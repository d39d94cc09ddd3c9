package dex

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/swapledger/pkg/app/core/mempool"
)

// TxFeederConfig controls transaction generation rate
type TxFeederConfig struct {
	BatchSize   int           // Number of txs to generate per batch
	Interval    time.Duration // How often to generate batches
	NumAccounts int           // Number of simulated traders
}

// DefaultFeederConfig returns reasonable defaults for testing
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 50,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   100,
		Interval:    100 * time.Millisecond,
		NumAccounts: 200,
	}
}

// TxPusher is where fed transactions go
type TxPusher interface {
	PushTx(b []byte) mempool.Class
}

// RunTxFeeder pushes a batch from gen every cfg.Interval until ctx is done
func RunTxFeeder(ctx context.Context, app TxPusher, gen *SignedTxGenerator, cfg TxFeederConfig, logger *zap.Logger) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	startTime := time.Now()
	totalTxs := 0
	lastLog := startTime

	logger.Info("txfeeder started",
		zap.Int("batch", cfg.BatchSize),
		zap.Duration("interval", cfg.Interval),
		zap.Int("accounts", cfg.NumAccounts))

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			logger.Info("txfeeder stopped",
				zap.Int("total", totalTxs),
				zap.Duration("elapsed", elapsed.Round(time.Second)))
			return nil
		case <-ticker.C:
			for _, tx := range gen.GenerateBatch(cfg.BatchSize) {
				app.PushTx(tx)
				totalTxs++
			}
			if time.Since(lastLog) >= 10*time.Second {
				lastLog = time.Now()
				elapsed := time.Since(startTime)
				logger.Info("txfeeder stats",
					zap.Int("total", totalTxs),
					zap.Float64("rate", float64(totalTxs)/elapsed.Seconds()))
			}
		}
	}
}
