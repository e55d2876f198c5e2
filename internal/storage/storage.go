package storage

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"devserve/pkg/types"

	"github.com/dgraph-io/badger/v4"
)

const scanPrefix = "scan:"

// recordSeq keeps generated IDs unique for scans started in the same nanosecond.
var recordSeq atomic.Uint64

// ScanLedger keeps a bounded history of manifest scans. It records what each
// scan saw (counts, duration, outcome), never the manifest itself.
type ScanLedger struct {
	db    *badger.DB
	limit int
}

// New opens the ledger in dataDir. limit caps the number of retained
// records; zero or less keeps everything.
func New(dataDir string, limit int) (*ScanLedger, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &ScanLedger{
		db:    db,
		limit: limit,
	}, nil
}

func (s *ScanLedger) Close() error {
	return s.db.Close()
}

// scanKey orders records chronologically under a byte-wise iterator.
func scanKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", scanPrefix, startedAt.UnixNano(), id))
}

// Record stores a scan record and trims the oldest records past the limit.
func (s *ScanLedger) Record(rec *types.ScanRecord) error {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%x-%d", rec.StartedAt.UnixNano(), recordSeq.Add(1))
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal scan record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(scanKey(rec.StartedAt, rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store scan record: %w", err)
	}

	if s.limit > 0 {
		if _, err := s.Trim(s.limit); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to n records, newest first. n <= 0 returns all records.
func (s *ScanLedger) Recent(n int) ([]types.ScanRecord, error) {
	var records []types.ScanRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(scanPrefix)
		seek := append([]byte(scanPrefix), 0xFF)
		for iter.Seek(seek); iter.ValidForPrefix(prefix); iter.Next() {
			if n > 0 && len(records) >= n {
				break
			}
			err := iter.Item().Value(func(val []byte) error {
				var rec types.ScanRecord
				if err := json.Unmarshal(val, &rec); err != nil {
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
		return nil, fmt.Errorf("failed to read scan records: %w", err)
	}

	return records, nil
}

// Count returns the number of stored records.
func (s *ScanLedger) Count() (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // We only need to count, not read values
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(scanPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			count++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count scan records: %w", err)
	}

	return count, nil
}

// Trim deletes the oldest records so at most keep remain. It returns the
// number of deleted records.
func (s *ScanLedger) Trim(keep int) (int, error) {
	var stale [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(scanPrefix)
		seen := 0
		for iter.Seek(append([]byte(scanPrefix), 0xFF)); iter.ValidForPrefix(prefix); iter.Next() {
			seen++
			if seen > keep {
				stale = append(stale, iter.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list scan records: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete scan record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to delete scan records: %w", err)
	}
	return len(stale), nil
}

func (s *ScanLedger) RunGarbageCollection() error {
	return s.db.RunValueLogGC(0.5)
}
