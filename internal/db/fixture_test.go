package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/model"
	"go.uber.org/zap"
)

const fixtureHeight = 610124

func entry(txid string, index uint32, dir model.Direction, address string, value string) model.LedgerEntry {
	return model.LedgerEntry{
		TxID:      txid,
		Index:     index,
		Direction: dir,
		Address:   address,
		NetValue:  decimal.RequireFromString(value),
	}
}

func fixture() []model.LedgerEntry {
	return []model.LedgerEntry{
		entry("t1", 0, model.Creation, "A", "5"),
		entry("t1", 1, model.Creation, "", "2"),
		entry("t2", 0, model.Creation, "A", "3"),
		entry("t2", 0, model.Spend, "A", "-3"),
		entry("t3", 0, model.Creation, "B", "7"),
		entry("t2", 1, model.Creation, "B", "0.5"),
	}
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQL(&config.LedgerConfig{
		Driver:       DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.db.Exec(Schema)
	require.NoError(t, err)
	return store
}

func insertSQL(t *testing.T, db *sql.DB, entries []model.LedgerEntry, height int64) {
	t.Helper()
	for _, e := range entries {
		_, err := db.Exec(`INSERT INTO registration (txid, vinvoutnr, vin, btcaddress, netvalue) VALUES (?, ?, ?, ?, ?)`,
			e.TxID, e.Index, e.Direction == model.Spend, e.Address, e.NetValue.String())
		require.NoError(t, err)
	}
	_, err := db.Exec(`DELETE FROM progress`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO progress (blocknr) VALUES (?)`, height)
	require.NoError(t, err)
}

func sorted(entries []model.LedgerEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.TxID+":"+e.Direction.String()+":"+e.Address+":"+e.NetValue.String())
	}
	sort.Strings(out)
	return out
}

// exerciseStore runs the read surface checks shared by every backend.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	got, err := store.EntriesByAddress(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"t1:creation:A:5",
		"t2:creation:A:3",
		"t2:spend:A:-3",
	}, sorted(got))

	got, err = store.EntriesByAddress(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.EntriesByTxIDs(ctx, []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"t1:creation::2",
		"t1:creation:A:5",
		"t2:creation:A:3",
		"t2:creation:B:0.5",
		"t2:spend:A:-3",
	}, sorted(got))

	got, err = store.EntriesByTxIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	height, err := store.SyncHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(fixtureHeight), height)
}
