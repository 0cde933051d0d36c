package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	recordPrefix = "alert/rec/"
	indexPrefix  = "alert/idx/"
)

// BadgerConfig configures the persistent sink.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory, for tests.
	InMemory bool

	// SyncWrites makes every write durable before Create returns.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// BadgerSink stores alerts in BadgerDB. Each record is stored as JSON under
// its id, plus a time-ordered index key used for listing.
type BadgerSink struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerSink opens or creates the alert database.
func OpenBadgerSink(cfg BadgerConfig) (*BadgerSink, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent alert store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create alert store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// Create stores the record under a new id.
func (s *BadgerSink) Create(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rec.ID = uuid.New().String()
	value, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode alert: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(recordPrefix+rec.ID), value); err != nil {
			return err
		}
		return txn.Set(indexKey(rec), []byte(rec.ID))
	})
	if err != nil {
		return "", fmt.Errorf("store alert: %w", err)
	}
	return rec.ID, nil
}

// Get returns the record with the given id.
func (s *BadgerSink) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// Query returns matching records, newest first.
func (s *BadgerSink) Query(ctx context.Context, opts QueryOptions) ([]Record, error) {
	results := make([]Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Reverse = true
		itOpts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()

		// reverse iteration starts from the largest key with the prefix
		seek := append([]byte(indexPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix([]byte(indexPrefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(append([]byte(recordPrefix), id...))
			if err != nil {
				return err
			}
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if opts.match(rec) {
				results = append(results, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	return opts.page(results), nil
}

// Close closes the database.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

func indexKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, rec.CreatedAt.UnixNano(), rec.ID))
}
