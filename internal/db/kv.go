package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/shopspring/decimal"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/model"
	"github.com/wx-shi/utxo-balance/pkg"
	"go.uber.org/zap"
)

// Key layout:
//
//	e:<txid>|<index>|<c|s>            -> <address>|<netvalue>
//	a:<address>|<txid>|<index>|<c|s>  -> empty
//	s:h                               -> sync height
const (
	entryKeyPrefix   = "e:"
	addressKeyPrefix = "a:"
	StoreHeight      = "s:h"
	sep              = "|"
)

// KVStore reads the ledger from a cosmos-db key/value backend.
type KVStore struct {
	db     tmdb.DB
	logger *zap.Logger
}

var _ Store = (*KVStore)(nil)

func NewKVStore(db tmdb.DB, logger *zap.Logger) *KVStore {
	return &KVStore{db: db, logger: logger}
}

func OpenKV(conf *config.LedgerConfig, logger *zap.Logger) (*KVStore, error) {
	db, err := tmdb.NewDB(conf.Name, tmdb.BackendType(conf.Backend), conf.Dir)
	if err != nil {
		return nil, err
	}
	return NewKVStore(db, logger), nil
}

func (s *KVStore) EntriesByAddress(ctx context.Context, address string) ([]model.LedgerEntry, error) {
	prefix := addressKeyPrefix + address + sep
	keys, err := s.scanKeys(prefix)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LedgerEntry, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ekey := entryKeyPrefix + strings.TrimPrefix(k, prefix)
		val, err := s.db.Get([]byte(ekey))
		if err != nil {
			return nil, err
		}
		if len(val) == 0 {
			return nil, fmt.Errorf("data anomalies key:%s has no entry %s", k, ekey)
		}
		entry, err := decodeEntry(ekey, val)
		if err != nil {
			return nil, err
		}
		if entry.Address != address {
			return nil, fmt.Errorf("data anomalies key:%s value:%s", k, val)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *KVStore) EntriesByTxIDs(ctx context.Context, txids []string) ([]model.LedgerEntry, error) {
	entries := make([]model.LedgerEntry, 0, len(txids)*2)
	for _, txid := range txids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prefix := []byte(entryKeyPrefix + txid + sep)
		it, err := s.db.Iterator(prefix, prefixEnd(prefix))
		if err != nil {
			return nil, err
		}
		for ; it.Valid(); it.Next() {
			entry, err := decodeEntry(string(it.Key()), it.Value())
			if err != nil {
				it.Close()
				return nil, err
			}
			entries = append(entries, entry)
		}
		err = it.Error()
		it.Close()
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *KVStore) SyncHeight(ctx context.Context) (int64, error) {
	val, err := s.db.Get([]byte(StoreHeight))
	if err != nil {
		return 0, err
	}
	if len(val) == 0 {
		return 0, nil
	}
	return pkg.BytesToInt64(val)
}

// Append writes entries and moves the sync height to lastHeight. It is the
// write side used by ingestion; balance resolution never calls it.
func (s *KVStore) Append(entries []model.LedgerEntry, lastHeight int64) error {
	wb := s.db.NewBatch()
	defer wb.Close()

	for _, e := range entries {
		if strings.Contains(e.TxID, sep) || strings.Contains(e.Address, sep) {
			return fmt.Errorf("invalid entry %s:%d: %q is reserved", e.TxID, e.Index, sep)
		}
		ekey := entryKey(e)
		if err := wb.Set([]byte(ekey), []byte(e.Address+sep+e.NetValue.String())); err != nil {
			return err
		}
		if e.Address == "" {
			continue
		}
		akey := addressKeyPrefix + e.Address + sep + strings.TrimPrefix(ekey, entryKeyPrefix)
		if err := wb.Set([]byte(akey), []byte{}); err != nil {
			return err
		}
	}
	if err := wb.Set([]byte(StoreHeight), pkg.Int64ToBytes(lastHeight)); err != nil {
		return err
	}
	return wb.WriteSync()
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

func (s *KVStore) scanKeys(prefix string) ([]string, error) {
	it, err := s.db.Iterator([]byte(prefix), prefixEnd([]byte(prefix)))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	return keys, it.Error()
}

func entryKey(e model.LedgerEntry) string {
	return entryKeyPrefix + e.TxID + sep + strconv.FormatUint(uint64(e.Index), 10) + sep + directionCode(e.Direction)
}

func directionCode(d model.Direction) string {
	if d == model.Spend {
		return "s"
	}
	return "c"
}

func decodeEntry(key string, val []byte) (model.LedgerEntry, error) {
	parts := strings.Split(strings.TrimPrefix(key, entryKeyPrefix), sep)
	if len(parts) != 3 {
		return model.LedgerEntry{}, fmt.Errorf("invalid key:%s", key)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("invalid key:%s", key)
	}
	entry := model.LedgerEntry{TxID: parts[0], Index: uint32(index)}
	switch parts[2] {
	case "c":
		entry.Direction = model.Creation
	case "s":
		entry.Direction = model.Spend
	default:
		return model.LedgerEntry{}, fmt.Errorf("invalid key:%s", key)
	}

	addr, value, ok := strings.Cut(string(val), sep)
	if !ok {
		return model.LedgerEntry{}, fmt.Errorf("invalid value:%s", val)
	}
	entry.Address = addr
	if entry.NetValue, err = decimal.NewFromString(value); err != nil {
		return model.LedgerEntry{}, fmt.Errorf("invalid value:%s", val)
	}
	return entry, nil
}

// prefixEnd returns the smallest key greater than every key starting with prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
