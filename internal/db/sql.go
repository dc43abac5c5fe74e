package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/model"
	"github.com/wx-shi/utxo-balance/pkg"
	"go.uber.org/zap"
)

const (
	DriverMySQL    = "mysql"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	// txIDBatchSize caps the number of bind parameters of one IN query.
	txIDBatchSize = 500

	pingAttempts = 3
	pingDelay    = time.Second

	selectEntries = `SELECT txid, vinvoutnr, vin, btcaddress, netvalue FROM registration`
	selectHeight  = `SELECT MAX(blocknr) FROM progress`
)

// Schema is the layout shared with the ingestion pipeline. vin is true for
// an entry spending the output and false for the entry creating it.
const Schema = `
CREATE TABLE IF NOT EXISTS registration (
	txid       VARCHAR(64)    NOT NULL,
	vinvoutnr  INTEGER        NOT NULL,
	vin        BOOLEAN        NOT NULL,
	btcaddress VARCHAR(100)   NOT NULL DEFAULT '',
	netvalue   DECIMAL(20, 8) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registration_btcaddress ON registration (btcaddress);
CREATE INDEX IF NOT EXISTS idx_registration_txid ON registration (txid);
CREATE TABLE IF NOT EXISTS progress (
	blocknr INTEGER NOT NULL
);
`

// SQLStore reads the ledger from a relational database.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, driver string, logger *zap.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
	}
}

// OpenSQL opens conf.DSN and pings it, trying a few times before giving up.
func OpenSQL(conf *config.LedgerConfig, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(conf.Driver, conf.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conf.MaxOpenConns)
	db.SetMaxIdleConns(conf.MaxOpenConns)

	err = retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	},
		retry.Attempts(pingAttempts),
		retry.Delay(pingDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("ledger ping", zap.Uint("attempt", n+1), zap.Error(err))
		}))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	return NewSQLStore(db, conf.Driver, logger), nil
}

func (s *SQLStore) EntriesByAddress(ctx context.Context, address string) ([]model.LedgerEntry, error) {
	return s.query(ctx, selectEntries+` WHERE btcaddress = ?`, address)
}

func (s *SQLStore) EntriesByTxIDs(ctx context.Context, txids []string) ([]model.LedgerEntry, error) {
	entries := make([]model.LedgerEntry, 0, len(txids)*2)
	for _, batch := range pkg.Chunk(txids, txIDBatchSize) {
		args := make([]any, len(batch))
		for i, txid := range batch {
			args[i] = txid
		}
		q := selectEntries + ` WHERE txid IN (` + strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",") + `)`
		rows, err := s.query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rows...)
	}
	return entries, nil
}

func (s *SQLStore) SyncHeight(ctx context.Context) (int64, error) {
	var height sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.rebind(selectHeight)).Scan(&height); err != nil {
		return 0, fmt.Errorf("read sync height: %w", err)
	}
	return height.Int64, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			entry   model.LedgerEntry
			index   int64
			spend   bool
			address sql.NullString
			value   decimal.Decimal
		)
		if err := rows.Scan(&entry.TxID, &index, &spend, &address, &value); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if index < 0 {
			return nil, fmt.Errorf("invalid output index %d in %s", index, entry.TxID)
		}
		entry.Index = uint32(index)
		if spend {
			entry.Direction = model.Spend
		}
		entry.Address = address.String
		entry.NetValue = value
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	return entries, nil
}

// rebind rewrites ? placeholders to $n for the postgres drivers.
func (s *SQLStore) rebind(q string) string {
	if s.driver != DriverPgx && s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
