package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/scylladb/go-set/strset"
	"github.com/shopspring/decimal"
	"github.com/wx-shi/utxo-balance/internal/db"
	"github.com/wx-shi/utxo-balance/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine resolves address balances from the ledger of each chain.
// It only reads; every call builds its own working sets.
type Engine struct {
	stores db.Stores
	logger *zap.Logger
}

func NewEngine(stores db.Stores, logger *zap.Logger) *Engine {
	return &Engine{
		stores: stores,
		logger: logger,
	}
}

// Resolve returns the net balance of an already validated address and the
// ledger's sync height. The height is read alongside, not in one snapshot
// with the entries, so the pair is a best effort view of a moving ledger.
func (e *Engine) Resolve(ctx context.Context, chain model.Chain, address string) (decimal.Decimal, int64, error) {
	store, err := e.stores.Get(chain)
	if err != nil {
		return decimal.Zero, 0, err
	}

	var (
		balance decimal.Decimal
		height  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = e.balance(gctx, store, chain, address)
		return err
	})
	g.Go(func() error {
		var err error
		if height, err = store.SyncHeight(gctx); err != nil {
			return fmt.Errorf("sync height: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, 0, err
	}
	return balance, height, nil
}

func (e *Engine) balance(ctx context.Context, store db.Store, chain model.Chain, address string) (decimal.Decimal, error) {
	start := time.Now()

	seed, err := store.EntriesByAddress(ctx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("entries of %s: %w", address, err)
	}
	if len(seed) == 0 {
		return decimal.Zero, nil
	}

	txids := strset.NewWithSize(len(seed))
	for _, entry := range seed {
		txids.Add(entry.TxID)
	}
	expanded, err := store.EntriesByTxIDs(ctx, txids.List())
	if err != nil {
		return decimal.Zero, fmt.Errorf("entries of %d transactions: %w", txids.Size(), err)
	}

	balance := Reconcile(expanded, address)

	e.logger.Debug("Resolve::Info",
		zap.String("chain", string(chain)),
		zap.String("address", address),
		zap.Int("seed_len", len(seed)),
		zap.Int("tx_len", txids.Size()),
		zap.Int("expanded_len", len(expanded)),
		zap.Duration("ttl", time.Since(start)))
	return balance, nil
}

// Reconcile nets the expanded entries of address's transactions:
// rows of other addresses are dropped, every output with both a creation
// and a spend row is cancelled, and what is left for address is summed.
//
// A spend whose creation row is not among entries stays and counts
// negatively.
func Reconcile(entries []model.LedgerEntry, address string) decimal.Decimal {
	visible := make([]model.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Address == address || entry.Address == "" {
			visible = append(visible, entry)
		}
	}

	sides := make(map[model.OutPoint]uint8, len(visible))
	for _, entry := range visible {
		sides[entry.OutPoint()] |= 1 << entry.Direction
	}

	balance := decimal.Zero
	for _, entry := range visible {
		if sides[entry.OutPoint()] == bothSides {
			continue
		}
		if entry.Address == address {
			balance = balance.Add(entry.NetValue)
		}
	}
	return balance
}

const bothSides = 1<<model.Creation | 1<<model.Spend
