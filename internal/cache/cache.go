// Package cache keeps fetched provider responses on disk so repeated runs
// over the same location and year skip the network.
package cache

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a cached response is served.
const DefaultTTL = 30 * 24 * time.Hour

const keyPrefix = "resp:"

// Store implements a response cache using BadgerDB.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Config holds cache configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// TTL for entries, DefaultTTL when zero
	TTL time.Duration

	Logger *zap.Logger
}

// Open creates or reopens a cache.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Responses are a few hundred KB per year; keep the footprint small.
	opts = opts.
		WithNumVersionsToKeep(1).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumCompactors(2).
		WithLogger(badgerLogger{cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Key hashes a request identifier (typically the URL) into a cache key.
func Key(id string) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], xxhash.Sum64String(id))
	return key
}

// Get returns the cached value for id; ok is false on a miss.
func (s *Store) Get(id string) (value []byte, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		ok = err == nil
		return err
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "cache get")
	}
	return value, ok, nil
}

// Put stores value for id with the configured TTL.
func (s *Store) Put(id string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(Key(id), value).WithTTL(s.ttl))
	})
	if err != nil {
		return errors.Wrap(err, "cache put")
	}
	return nil
}

// Close cleanly shuts down the cache.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's logging into zap at debug level, except errors.
type badgerLogger struct {
	log *zap.Logger
}

func (l badgerLogger) sugar() *zap.SugaredLogger {
	if l.log == nil {
		return zap.NewNop().Sugar()
	}
	return l.log.Named("badger").Sugar()
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.sugar().Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.sugar().Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.sugar().Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.sugar().Debugf(format, args...) }
