package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownDriver = errors.New("unknown ledger driver")
	ErrNoStore       = errors.New("no ledger store for chain")
)

// Store is the read surface of one chain's ledger. The ledger is written by
// the ingestion pipeline only; nothing here mutates it.
type Store interface {
	// EntriesByAddress returns every entry owned by address.
	EntriesByAddress(ctx context.Context, address string) ([]model.LedgerEntry, error)
	// EntriesByTxIDs returns every entry of the given transactions,
	// whatever their address.
	EntriesByTxIDs(ctx context.Context, txids []string) ([]model.LedgerEntry, error)
	// SyncHeight returns the block height the ledger is complete through.
	SyncHeight(ctx context.Context) (int64, error)
	Close() error
}

// Open connects to the ledger described by conf.
func Open(conf *config.LedgerConfig, logger *zap.Logger) (Store, error) {
	switch conf.Driver {
	case config.DriverKV:
		return OpenKV(conf, logger)
	case DriverMySQL, DriverPgx, DriverPostgres, DriverSQLite:
		return OpenSQL(conf, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, conf.Driver)
	}
}

// Stores holds one ledger per chain.
type Stores map[model.Chain]Store

// OpenStores opens the ledger of every configured chain. Already opened
// stores are closed again when one of them fails.
func OpenStores(chains map[model.Chain]*config.ChainConfig, logger *zap.Logger) (Stores, error) {
	stores := make(Stores, len(chains))
	for chain, cc := range chains {
		store, err := Open(cc.Ledger, logger.With(zap.String("chain", string(chain))))
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("open %s ledger: %w", chain, err)
		}
		stores[chain] = store
	}
	return stores, nil
}

// Get returns the ledger of chain or ErrNoStore.
func (s Stores) Get(chain model.Chain) (Store, error) {
	store, ok := s[chain]
	if !ok || store == nil {
		return nil, fmt.Errorf("%w %s", ErrNoStore, chain)
	}
	return store, nil
}

func (s Stores) Close() error {
	g, _ := errgroup.WithContext(context.Background())
	for _, store := range s {
		g.Go(store.Close)
	}
	return g.Wait()
}
