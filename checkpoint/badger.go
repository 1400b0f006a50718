package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const recordPrefix = 'r'

// BadgerStore keeps records in a badger database keyed by flat index, so a
// comparison appended twice is stored once. Load returns records in index
// order.
type BadgerStore struct {
	mu     sync.RWMutex
	db     *badger.DB
	closed bool
	// inMemory stores have no value log to sync.
	inMemory bool
}

// OpenBadger opens or creates the database in dir. With inMemory set, dir
// is ignored and nothing touches the disk.
func OpenBadger(dir string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger checkpoint: %w", err)
	}
	return &BadgerStore{db: db, inMemory: inMemory}, nil
}

func recordKey(idx uint64) []byte {
	var k [9]byte
	k[0] = recordPrefix
	binary.BigEndian.PutUint64(k[1:], idx)
	return k[:]
}

func encodeRecord(rec Record) []byte {
	buf := make([]byte, 0, 4+len(rec.A)+len(rec.B)+8)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.A)))
	buf = append(buf, rec.A...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.B)))
	buf = append(buf, rec.B...)
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(rec.Value))
}

func decodeRecord(idx uint64, val []byte) (Record, error) {
	rec := Record{Index: idx}
	for _, dst := range []*string{&rec.A, &rec.B} {
		if len(val) < 2 {
			return Record{}, fmt.Errorf("%w: record %d truncated", ErrCorrupt, idx)
		}
		n := int(binary.LittleEndian.Uint16(val))
		val = val[2:]
		if len(val) < n {
			return Record{}, fmt.Errorf("%w: record %d truncated", ErrCorrupt, idx)
		}
		*dst = string(val[:n])
		val = val[n:]
	}
	if len(val) != 8 {
		return Record{}, fmt.Errorf("%w: record %d has %d value bytes", ErrCorrupt, idx, len(val))
	}
	rec.Value = math.Float64frombits(binary.LittleEndian.Uint64(val))
	return rec, nil
}

// Append stores rec, replacing any record with the same index.
func (s *BadgerStore) Append(rec Record) error {
	if len(rec.A) > math.MaxUint16 || len(rec.B) > math.MaxUint16 {
		return fmt.Errorf("checkpoint: sample name too long")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Index), encodeRecord(rec))
	})
}

// Load returns every stored record.
func (s *BadgerStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{recordPrefix}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.Key()
			if len(key) != 9 {
				return fmt.Errorf("%w: key %x", ErrCorrupt, key)
			}
			idx := binary.BigEndian.Uint64(key[1:])

			err := item.Value(func(val []byte) error {
				rec, err := decodeRecord(idx, val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Reset drops every record.
func (s *BadgerStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.DropAll()
}

// Flush syncs the value log. It is a no-op for in-memory stores.
func (s *BadgerStore) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
