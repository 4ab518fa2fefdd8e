// Package history persists benchmark runs in LevelDB.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/born-ml/onnxbench/internal/report"
)

const keyPrefix = "run/"

// ErrNoHistory is returned by OpenReadOnly when no store exists at the path.
var ErrNoHistory = errors.New("history: no store")

// keyLayout is fixed width so keys sort chronologically.
const keyLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a LevelDB-backed list of runs. LevelDB handles its own
// synchronization.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the store at path. An empty path uses memory storage.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing store for listing. It never creates files;
// a missing store is ErrNoHistory.
func OpenReadOnly(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoHistory, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores run keyed by its environment timestamp.
func (s *Store) Append(run report.Run) error {
	ts := run.Environment.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Put(key(ts), data, nil)
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]report.Run, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var runs []report.Run
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if limit > 0 && len(runs) >= limit {
			break
		}
		var run report.Run
		if err := json.Unmarshal(iter.Value(), &run); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		runs = append(runs, run)
	}
	return runs, iter.Error()
}

func key(ts time.Time) []byte {
	return []byte(keyPrefix + ts.UTC().Format(keyLayout))
}
