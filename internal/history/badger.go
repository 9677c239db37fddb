package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

/*
Key schema:

	o|<currencyID>:<paymentMethodID>|<createdAt-unixnano-be><seq-be>

The big-endian timestamp keeps rows within a segment ordered by creation
time, and the sequence suffix keeps keys unique within a nanosecond. Rows
older than the retention TTL are dropped by badger itself.
*/
const rowKeyPrefix = "o|"

// BadgerStore is an embedded outcome archive backed by badger. Rows expire
// after the configured retention.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
	logger    *zap.Logger
	seq       atomic.Uint64
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps all data in memory, for tests and ephemeral runs.
	InMemory bool
	// Retention is how long rows are kept before badger expires them.
	Retention time.Duration
}

// NewBadgerStore opens or creates the archive.
func NewBadgerStore(opts BadgerOptions, logger *zap.Logger) (*BadgerStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open outcome archive: %w", err)
	}
	return &BadgerStore{db: db, retention: opts.Retention, logger: logger}, nil
}

func segmentPrefix(seg Segment) []byte {
	return []byte(rowKeyPrefix + seg.String() + "|")
}

func (s *BadgerStore) rowKey(seg Segment, createdAt time.Time) []byte {
	key := segmentPrefix(seg)
	var ts [16]byte
	binary.BigEndian.PutUint64(ts[0:8], uint64(createdAt.UnixNano()))
	binary.BigEndian.PutUint64(ts[8:16], s.seq.Add(1))
	return append(key, ts[:]...)
}

func (s *BadgerStore) Append(ctx context.Context, rows ...OutcomeRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			val, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode outcome row: %w", err)
			}
			entry := badger.NewEntry(s.rowKey(Segment{row.CurrencyID, row.PaymentMethodID}, row.CreatedAt), val)
			if s.retention > 0 {
				entry = entry.WithTTL(s.retention)
			}
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("write outcome row: %w", err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) QuerySegment(ctx context.Context, seg Segment, since time.Time) ([]OutcomeRow, error) {
	return s.scan(ctx, segmentPrefix(seg), since)
}

func (s *BadgerStore) QueryAll(ctx context.Context, since time.Time) ([]OutcomeRow, error) {
	return s.scan(ctx, []byte(rowKeyPrefix), since)
}

func (s *BadgerStore) scan(ctx context.Context, prefix []byte, since time.Time) ([]OutcomeRow, error) {
	var out []OutcomeRow
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var row OutcomeRow
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			})
			if err != nil {
				return fmt.Errorf("decode outcome row: %w", err)
			}
			if row.CreatedAt.Before(since) {
				continue
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
