package dex

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapledger/pkg/app/core/fee"
	"github.com/uhyunpark/swapledger/pkg/app/core/mempool"
	"github.com/uhyunpark/swapledger/pkg/app/core/token"
	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/app/exchange"
	"github.com/uhyunpark/swapledger/pkg/chain"
	"github.com/uhyunpark/swapledger/pkg/crypto"
)

// Store persists each block's changes together with its notifications,
// atomically. LoadState returns the state folded from every commit so far.
type Store interface {
	LoadState() (State, bool, error)
	Commit(cs ChangeSet, events []Notification) error
}

type Config struct {
	// Exchange is the custody account on the native and token ledgers
	Exchange common.Address
	Fees     fee.Schedule
	Domain   crypto.Domain
	// Genesis is applied only when Store holds no state
	Genesis  Genesis
	Store    Store
	Notifier Notifier
	Metrics  *Metrics
	Logger   *zap.Logger
}

// App executes sequenced blocks of signed transactions against the
// exchange and the token ledgers it custodies on.
type App struct {
	ex       *exchange.Exchange
	registry *token.Registry
	wallets  *token.Wallets
	verifier *transaction.Verifier
	nonces   *transaction.Nonces
	mempool  *mempool.Mempool
	store    Store
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.RWMutex // serializes blocks; guards the fields below
	height   int64
	lastTime int64
	appHash  common.Hash

	evMu       sync.Mutex
	execHeight int64
	events     []Notification
}

func NewApp(cfg Config) (*App, error) {
	a := &App{
		wallets:  token.NewWallets(),
		verifier: transaction.NewVerifier(cfg.Domain),
		nonces:   transaction.NewNonces(),
		mempool:  mempool.NewMempool(),
		store:    cfg.Store,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.metrics == nil {
		a.metrics = NopMetrics()
	}
	a.registry = token.NewRegistry(cfg.Exchange, a.wallets)

	ex, err := exchange.New(exchange.Config{
		Address: cfg.Exchange,
		Fees:    cfg.Fees,
		Custody: a.registry,
		Emitter: exchange.EmitterFunc(a.onExchangeEvent),
		Logger:  a.logger.Named("exchange"),
	})
	if err != nil {
		return nil, err
	}
	a.ex = ex

	restored := false
	if a.store != nil {
		st, ok, err := a.store.LoadState()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if ok {
			if err := a.restore(st); err != nil {
				return nil, err
			}
			restored = true
		}
	}
	if !restored {
		if err := a.applyGenesis(cfg.Genesis); err != nil {
			return nil, err
		}
	}

	a.wallets.SetEmitter(a.onTokenEvent)
	for _, t := range a.registry.Tokens() {
		t.SetEmitter(a.onTokenEvent)
	}
	if err := a.ex.CheckCustody(); err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	a.logger.Info("app ready",
		zap.Int64("height", a.height),
		zap.Bool("restored", restored),
		zap.Int("tokens", len(a.registry.Tokens())),
		zap.Stringer("fee_account", cfg.Fees.Account),
		zap.Uint64("fee_percent", cfg.Fees.Percent))
	return a, nil
}

func (a *App) restore(st State) error {
	if err := a.ex.Restore(st.Exchange); err != nil {
		return err
	}
	a.nonces.Restore(st.Nonces)
	a.wallets.Restore(st.Wallets)
	for _, ts := range st.Tokens {
		if err := a.registry.Register(token.FromState(ts)); err != nil {
			return fmt.Errorf("restore token: %w", err)
		}
	}
	a.height, a.lastTime, a.appHash = st.Height, st.Time, st.AppHash
	return nil
}

func (a *App) Exchange() *exchange.Exchange    { return a.ex }
func (a *App) Registry() *token.Registry       { return a.registry }
func (a *App) Nonces() *transaction.Nonces     { return a.nonces }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }

// LastBlock returns the height, time and app hash of the last committed block
func (a *App) LastBlock() (int64, int64, common.Hash) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height, a.lastTime, a.appHash
}

// PushTx admits a raw transaction to the mempool
func (a *App) PushTx(b []byte) mempool.Class { return a.mempool.PushRaw(b) }

func (a *App) PendingTxs() int { return a.mempool.Len() }

func (a *App) PrepareProposal(req chain.RequestPrepareProposal) chain.ResponsePrepareProposal {
	return chain.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts every proposal: invalid transactions are skipped
// at execution, not rejected with the block
func (a *App) ProcessProposal(_ chain.RequestProcessProposal) chain.ResponseProcessProposal {
	return chain.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies the block's transactions in order with the block
// timestamp as "now". A transaction that fails is skipped and does not
// affect the others. The resulting state is committed to the store before
// notifications are published.
func (a *App) FinalizeBlock(req chain.RequestFinalizeBlock) (chain.ResponseFinalizeBlock, error) {
	start := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Height <= a.height {
		return chain.ResponseFinalizeBlock{}, fmt.Errorf("height %d already committed (at %d)", req.Height, a.height)
	}

	a.evMu.Lock()
	a.execHeight = req.Height
	a.events = nil
	a.evMu.Unlock()

	results := make([]chain.TxResult, len(req.Txs))
	applied := 0
	for i, raw := range req.Txs {
		typ, err := a.applyTx(raw, req.Timestamp)
		outcome := "ok"
		switch {
		case err == nil:
			results[i] = chain.TxResult{OK: true}
			applied++
		case isRejection(err):
			outcome = "rejected"
			results[i] = chain.TxResult{Log: err.Error()}
		default:
			outcome = "failed"
			results[i] = chain.TxResult{Log: err.Error()}
		}
		if err != nil {
			a.logger.Debug("tx skipped",
				zap.Int64("height", req.Height),
				zap.Int("index", i),
				zap.String("type", string(typ)),
				zap.String("outcome", outcome),
				zap.Error(err))
		}
		a.metrics.Txs.WithLabelValues(string(typ), outcome).Inc()
	}

	events := a.drainEvents()
	cs := a.takeChanges()
	cs.Height, cs.Time = req.Height, req.Timestamp
	cs.AppHash = computeAppHash(a.appHash, cs)

	if a.store != nil {
		if err := a.store.Commit(cs, events); err != nil {
			// memory is ahead of disk now; the node must stop and replay
			return chain.ResponseFinalizeBlock{}, fmt.Errorf("commit height %d: %w", req.Height, err)
		}
	}
	a.height, a.lastTime, a.appHash = cs.Height, cs.Time, cs.AppHash

	for _, n := range events {
		a.metrics.Events.WithLabelValues(n.Name).Inc()
	}
	a.metrics.Height.Set(float64(req.Height))
	a.metrics.OpenOrders.Set(float64(a.ex.OpenOrders()))
	a.metrics.BlockSeconds.Observe(time.Since(start).Seconds())

	if len(req.Txs) > 0 {
		a.logger.Info("block finalized",
			zap.Int64("height", req.Height),
			zap.Int("txs", len(req.Txs)),
			zap.Int("applied", applied),
			zap.Int("events", len(events)),
			zap.String("apphash", cs.AppHash.Hex()))
	}
	if a.notifier != nil && len(events) > 0 {
		a.notifier.Publish(events)
	}
	return chain.ResponseFinalizeBlock{TxResults: results, AppHash: cs.AppHash}, nil
}

// rejection errors stop a transaction before it reaches state, so its
// nonce is not consumed
func isRejection(err error) bool {
	return errors.Is(err, transaction.ErrMalformed) ||
		errors.Is(err, transaction.ErrUnknownTxType) ||
		errors.Is(err, transaction.ErrBadSignature) ||
		errors.Is(err, transaction.ErrNonceTooLow) ||
		errors.Is(err, transaction.ErrNonceTooHigh)
}
