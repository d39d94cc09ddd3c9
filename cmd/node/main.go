package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	tomb "gopkg.in/tomb.v2"

	"github.com/uhyunpark/swapledger/params"
	"github.com/uhyunpark/swapledger/pkg/api"
	"github.com/uhyunpark/swapledger/pkg/app/core/fee"
	"github.com/uhyunpark/swapledger/pkg/app/dex"
	"github.com/uhyunpark/swapledger/pkg/chain"
	"github.com/uhyunpark/swapledger/pkg/crypto"
	"github.com/uhyunpark/swapledger/pkg/storage"
	"github.com/uhyunpark/swapledger/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	var (
		store  dex.Store
		blocks chain.BlockStore
		events api.EventReader
	)
	if cfg.Node.Ephemeral {
		mem := dex.NewMemoryStore()
		store, blocks, events = mem, chain.NewInMemoryBlockStore(), mem
		sugar.Infow("ephemeral_state")
	} else {
		db, err := storage.NewPebbleStore(cfg.Node.DataDir, logger.Named("storage"))
		if err != nil {
			return err
		}
		defer db.Close()
		store, blocks, events = db, db, db
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fees, err := fee.NewSchedule(cfg.Exchange.FeeAccount, cfg.Exchange.FeePercent)
	if err != nil {
		return err
	}
	domain := crypto.DefaultDomain()
	domain.Name = cfg.Chain.DomainName
	domain.ChainID = big.NewInt(cfg.Chain.ID)

	genesis := genesisFrom(cfg.Genesis)

	// ---- Transaction Feeder (optional) ----
	var gen *dex.SignedTxGenerator
	var feederCfg dex.TxFeederConfig
	if cfg.TxGen.Enabled {
		feederCfg = dex.DefaultFeederConfig()
		if cfg.TxGen.Mode == "high" {
			feederCfg = dex.HighLoadConfig()
		}
		if cfg.TxGen.Accounts > 0 {
			feederCfg.NumAccounts = cfg.TxGen.Accounts
		}
		var tokens []common.Address
		for _, t := range cfg.Genesis.Tokens {
			tokens = append(tokens, t.Address)
		}
		gen = dex.NewSignedTxGenerator(feederCfg.NumAccounts, domain, cfg.Exchange.Address, tokens)
		// fresh keys need native funds; only takes effect on an empty data dir
		genesis.Native = append(genesis.Native, gen.Allocations(uint256.NewInt(1_000_000_000))...)
		sugar.Infow("txgen_enabled", "mode", cfg.TxGen.Mode, "accounts", feederCfg.NumAccounts)
	}

	// The hub is created with the server but the app needs a notifier first
	var server *api.Server
	app, err := dex.NewApp(dex.Config{
		Exchange: cfg.Exchange.Address,
		Fees:     fees,
		Domain:   domain,
		Genesis:  genesis,
		Store:    store,
		Notifier: dex.NotifierFunc(func(ns []dex.Notification) { server.Hub().Publish(ns) }),
		Metrics:  dex.PrometheusMetrics("swapledger", reg),
		Logger:   logger.Named("app"),
	})
	if err != nil {
		return err
	}
	server = api.NewServer(api.Config{
		App:            app,
		Blocks:         blocks,
		Events:         events,
		Gatherer:       reg,
		AllowedOrigins: cfg.Node.CORSOrigins,
		Logger:         logger.Named("api"),
	})

	signer, err := crypto.NewBLSSignerFromSeed(cfg.Chain.BLSSeed)
	if err != nil {
		return err
	}
	producer, err := chain.NewProducer(app, blocks, signer)
	if err != nil {
		return err
	}
	producer.Logger = logger.Named("chain").Sugar()
	producer.MinBlockTime = cfg.Node.MinBlockTime
	producer.MaxTxBytes = cfg.Node.MaxTxBytes
	producer.EmptyBlocks = cfg.Node.EmptyBlocks

	var lastLogged time.Time
	producer.OnBlockCommit = func(b chain.Block, res chain.ResponseFinalizeBlock) {
		// Logging control: at most one progress line every 10s
		if time.Since(lastLogged) < 10*time.Second {
			return
		}
		lastLogged = time.Now()
		sugar.Infow("chain_progress", "height", b.Height, "txs", len(res.TxResults), "apphash", res.AppHash.Hex())
	}

	sugar.Infow("node_starting",
		"exchange", cfg.Exchange.Address.Hex(),
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"chain_id", cfg.Chain.ID,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"data_dir", cfg.Node.DataDir,
		"bls_pubkey", common.Bytes2Hex(signer.PublicKeyBytes()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Any component returning an error stops the others
	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error {
		return server.Run(ctx, cfg.Node.APIAddr)
	})
	t.Go(func() error {
		err := producer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if gen != nil {
		t.Go(func() error {
			return dex.RunTxFeeder(ctx, app, gen, feederCfg, logger.Named("txfeeder"))
		})
	}

	<-ctx.Done()
	sugar.Info("node_stopping")
	t.Kill(nil)
	return t.Wait()
}

func genesisFrom(g params.Genesis) dex.Genesis {
	var out dex.Genesis
	for _, a := range g.Native {
		out.Native = append(out.Native, dex.Allocation{Owner: a.Owner, Amount: a.Amount})
	}
	for _, t := range g.Tokens {
		out.Tokens = append(out.Tokens, dex.TokenSpec{
			Address:  t.Address,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Supply:   t.Supply,
			Deployer: t.Deployer,
		})
	}
	return out
}
