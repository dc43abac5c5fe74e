package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wx-shi/utxo-balance/internal/db"
	"github.com/wx-shi/utxo-balance/internal/model"
	"go.uber.org/zap"
)

func entry(txid string, index uint32, dir model.Direction, address string, value string) model.LedgerEntry {
	return model.LedgerEntry{
		TxID:      txid,
		Index:     index,
		Direction: dir,
		Address:   address,
		NetValue:  decimal.RequireFromString(value),
	}
}

func kvEngine(t *testing.T, entries []model.LedgerEntry, height int64) *Engine {
	t.Helper()
	store := db.NewKVStore(tmdb.NewMemDB(), zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Append(entries, height))
	return NewEngine(db.Stores{model.BTC: store}, zap.NewNop())
}

// sqlEngine serves entries from a SQLite ledger. The placeholder style
// follows driver, so db.DriverPostgres runs the $n rewrite over SQLite.
func sqlEngine(t *testing.T, driver string, entries []model.LedgerEntry, height int64) *Engine {
	t.Helper()
	conn, err := sql.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	_, err = conn.Exec(db.Schema)
	require.NoError(t, err)

	tx, err := conn.Begin()
	require.NoError(t, err)
	for _, e := range entries {
		_, err := tx.Exec(`INSERT INTO registration (txid, vinvoutnr, vin, btcaddress, netvalue) VALUES (?, ?, ?, ?, ?)`,
			e.TxID, e.Index, e.Direction == model.Spend, e.Address, e.NetValue.String())
		require.NoError(t, err)
	}
	_, err = tx.Exec(`INSERT INTO progress (blocknr) VALUES (?)`, height)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	store := db.NewSQLStore(conn, driver, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	return NewEngine(db.Stores{model.BTC: store}, zap.NewNop())
}

var backends = map[string]func(t *testing.T, entries []model.LedgerEntry, height int64) *Engine{
	"kv": kvEngine,
	"sqlite": func(t *testing.T, entries []model.LedgerEntry, height int64) *Engine {
		return sqlEngine(t, db.DriverSQLite, entries, height)
	},
	"sqlite with numbered placeholders": func(t *testing.T, entries []model.LedgerEntry, height int64) *Engine {
		return sqlEngine(t, db.DriverPostgres, entries, height)
	},
}

func resolve(t *testing.T, e *Engine, address string) (string, int64) {
	t.Helper()
	bal, height, err := e.Resolve(context.Background(), model.BTC, address)
	require.NoError(t, err)
	return bal.String(), height
}

func TestResolveScenarios(t *testing.T) {
	cases := []struct {
		name    string
		entries []model.LedgerEntry
		want    string
	}{
		{
			name:    "unspent creation",
			entries: []model.LedgerEntry{entry("t1", 0, model.Creation, "A", "5")},
			want:    "5",
		},
		{
			name: "created then spent",
			entries: []model.LedgerEntry{
				entry("t1", 0, model.Creation, "A", "5"),
				entry("t1", 0, model.Spend, "A", "-5"),
			},
			want: "0",
		},
		{
			name:    "no entries",
			entries: []model.LedgerEntry{entry("t1", 0, model.Creation, "B", "5")},
			want:    "0",
		},
		{
			name: "spent and unspent outputs",
			entries: []model.LedgerEntry{
				entry("t1", 0, model.Creation, "A", "1.5"),
				entry("t1", 1, model.Creation, "A", "0.25"),
				entry("t1", 1, model.Spend, "A", "-0.25"),
				entry("t2", 0, model.Creation, "A", "0.00000001"),
			},
			want: "1.50000001",
		},
		{
			name: "other addresses in the same transaction are ignored",
			entries: []model.LedgerEntry{
				entry("t1", 0, model.Creation, "A", "5"),
				entry("t1", 1, model.Creation, "B", "9"),
				entry("t1", 1, model.Spend, "B", "-9"),
				entry("t1", 2, model.Creation, "C", "4"),
			},
			want: "5",
		},
		{
			name: "spend without local creation counts",
			entries: []model.LedgerEntry{
				entry("t1", 0, model.Creation, "A", "5"),
				entry("t7", 3, model.Spend, "A", "-2"),
			},
			want: "3",
		},
		{
			name: "empty address row cancels a spend",
			entries: []model.LedgerEntry{
				entry("t1", 0, model.Creation, "", "2"),
				entry("t1", 0, model.Spend, "A", "-2"),
				entry("t2", 0, model.Creation, "A", "1"),
			},
			want: "1",
		},
		{
			name: "other address creation does not cancel",
			entries: []model.LedgerEntry{
				entry("t1", 0, model.Creation, "B", "2"),
				entry("t1", 0, model.Spend, "A", "-2"),
			},
			want: "-2",
		},
	}
	for backend, open := range backends {
		for _, tc := range cases {
			t.Run(backend+"/"+tc.name, func(t *testing.T) {
				e := open(t, tc.entries, 610124)
				bal, height := resolve(t, e, "A")
				assert.Equal(t, tc.want, bal)
				assert.Equal(t, int64(610124), height)
			})
		}
	}
}

func TestResolveManyTransactions(t *testing.T) {
	var (
		entries []model.LedgerEntry
		want    = decimal.Zero
	)
	for i := 0; i < 1200; i++ {
		txid := fmt.Sprintf("tx%05d", i)
		entries = append(entries,
			entry(txid, 0, model.Creation, "A", "0.001"),
			entry(txid, 1, model.Creation, "", "0.5"))
		if i%3 == 0 {
			entries = append(entries, entry(txid, 0, model.Spend, "A", "-0.001"))
			continue
		}
		want = want.Add(decimal.RequireFromString("0.001"))
	}

	for backend, open := range backends {
		t.Run(backend, func(t *testing.T) {
			e := open(t, entries, 7)
			bal, height := resolve(t, e, "A")
			assert.Equal(t, want.String(), bal)
			assert.Equal(t, int64(7), height)
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	e := kvEngine(t, []model.LedgerEntry{
		entry("t1", 0, model.Creation, "A", "5"),
		entry("t2", 0, model.Creation, "A", "3"),
		entry("t2", 0, model.Spend, "A", "-3"),
	}, 42)

	bal1, h1 := resolve(t, e, "A")
	bal2, h2 := resolve(t, e, "A")
	assert.Equal(t, bal1, bal2)
	assert.Equal(t, h1, h2)
}

func TestResolveConcurrent(t *testing.T) {
	e := kvEngine(t, []model.LedgerEntry{
		entry("t1", 0, model.Creation, "A", "5"),
		entry("t1", 1, model.Creation, "B", "7"),
		entry("t2", 0, model.Creation, "B", "1"),
		entry("t2", 0, model.Spend, "B", "-1"),
	}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr, want := "A", "5"
			if i%2 == 1 {
				addr, want = "B", "7"
			}
			bal, _, err := e.Resolve(context.Background(), model.BTC, addr)
			assert.NoError(t, err)
			assert.Equal(t, want, bal.String())
		}(i)
	}
	wg.Wait()
}

func TestResolveUnknownChain(t *testing.T) {
	e := kvEngine(t, nil, 1)
	_, _, err := e.Resolve(context.Background(), model.BCH, "A")
	assert.ErrorIs(t, err, db.ErrNoStore)
}

// fakeStore records calls and injects failures.
type fakeStore struct {
	mu        sync.Mutex
	entries   []model.LedgerEntry
	height    int64
	addrErr   error
	txErr     error
	heightErr error
	txCalls   [][]string
}

func (f *fakeStore) EntriesByAddress(ctx context.Context, address string) ([]model.LedgerEntry, error) {
	if f.addrErr != nil {
		return nil, f.addrErr
	}
	var out []model.LedgerEntry
	for _, e := range f.entries {
		if e.Address == address {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) EntriesByTxIDs(ctx context.Context, txids []string) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	f.txCalls = append(f.txCalls, txids)
	f.mu.Unlock()
	if f.txErr != nil {
		return nil, f.txErr
	}
	want := make(map[string]bool, len(txids))
	for _, id := range txids {
		want[id] = true
	}
	var out []model.LedgerEntry
	for _, e := range f.entries {
		if want[e.TxID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) SyncHeight(ctx context.Context) (int64, error) {
	return f.height, f.heightErr
}

func (f *fakeStore) Close() error { return nil }

func TestResolveStoreFailures(t *testing.T) {
	down := errors.New("connection refused")
	base := []model.LedgerEntry{entry("t1", 0, model.Creation, "A", "5")}
	cases := map[string]*fakeStore{
		"seed":   {entries: base, addrErr: down},
		"expand": {entries: base, txErr: down},
		"height": {entries: base, heightErr: down},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			e := NewEngine(db.Stores{model.BTC: store}, zap.NewNop())
			bal, height, err := e.Resolve(context.Background(), model.BTC, "A")
			assert.ErrorIs(t, err, down)
			assert.True(t, bal.IsZero())
			assert.Zero(t, height)
		})
	}
}

func TestResolveSkipsExpansionWithoutSeed(t *testing.T) {
	store := &fakeStore{height: 9}
	e := NewEngine(db.Stores{model.BTC: store}, zap.NewNop())

	bal, height, err := e.Resolve(context.Background(), model.BTC, "A")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	assert.Equal(t, int64(9), height)
	assert.Empty(t, store.txCalls)
}

func TestResolveExpandsDistinctTxIDs(t *testing.T) {
	store := &fakeStore{entries: []model.LedgerEntry{
		entry("t1", 0, model.Creation, "A", "1"),
		entry("t1", 1, model.Creation, "A", "1"),
		entry("t2", 0, model.Creation, "A", "1"),
	}}
	e := NewEngine(db.Stores{model.BTC: store}, zap.NewNop())

	_, _, err := e.Resolve(context.Background(), model.BTC, "A")
	require.NoError(t, err)
	require.Len(t, store.txCalls, 1)
	assert.ElementsMatch(t, []string{"t1", "t2"}, store.txCalls[0])
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	in := []model.LedgerEntry{
		entry("t1", 0, model.Creation, "A", "5"),
		entry("t1", 0, model.Spend, "A", "-5"),
		entry("t1", 1, model.Creation, "B", "1"),
	}
	cp := append([]model.LedgerEntry(nil), in...)
	assert.True(t, Reconcile(in, "A").IsZero())
	assert.Equal(t, cp, in)
}
