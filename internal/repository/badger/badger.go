// Package badger implements the persistence interfaces on an embedded
// Badger key-value store. Records are CBOR encoded; uniqueness of hashes,
// names and thumbnail sizes is enforced through index keys checked inside
// the same serializable transaction.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

const schemaVersion = 1

var schemaKey = []byte("meta/schema_version")

type DB struct {
	db *badger.DB
}

// Open opens (or creates) a store in dir. An empty dir opens an in-memory
// store.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(slogLogger{slog.Default().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &DB{db: db}, nil
}

// Migrate records the schema version, refusing stores written by a newer
// layout.
func (d *DB) Migrate(ctx context.Context) error {
	return d.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(schemaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			slog.Info("badger schema initialized", "version", schemaVersion)
			return txn.Set(schemaKey, []byte(strconv.Itoa(schemaVersion)))
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt schema version %q: %w", raw, err)
		}
		if v > schemaVersion {
			return fmt.Errorf("store schema version %d is newer than supported %d", v, schemaVersion)
		}
		return nil
	})
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Images() domain.ImageRepository {
	return &imageRepo{d: d}
}

func (d *DB) Thumbnails() domain.ThumbnailRepository {
	return &thumbnailRepo{d: d}
}

type txnKey struct{}

func getTxn(ctx context.Context) (*badger.Txn, bool) {
	txn, ok := ctx.Value(txnKey{}).(*badger.Txn)
	return txn, ok
}

// InTx runs fn in one read-write transaction. Badger transactions are
// serializable; a commit that lost a race fails with ErrTransient.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := getTxn(ctx); ok {
		return fn(ctx)
	}

	txn := d.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(context.WithValue(ctx, txnKey{}, txn)); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return mapErr("commit transaction", err)
	}
	return nil
}

// update runs fn in the context transaction, or in a fresh one.
func (d *DB) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if txn, ok := getTxn(ctx); ok {
		return fn(txn)
	}
	if err := d.db.Update(fn); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return mapErr("update", err)
		}
		return err
	}
	return nil
}

// view runs fn read-only in the context transaction, or in a fresh one.
func (d *DB) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if txn, ok := getTxn(ctx); ok {
		return fn(txn)
	}
	return d.db.View(fn)
}

func mapErr(op string, err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func getRecord(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return decMode.Unmarshal(val, v)
	})
}

func setRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return txn.Set(key, data)
}

// getIndex returns the id stored under an index key.
func getIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func indexExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scanKeys calls fn with a copy of every key under prefix.
func scanKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false // Only need keys
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item().KeyCopy(nil)); err != nil {
			return err
		}
	}
	return nil
}

// slogLogger adapts slog to badger.Logger. Badger's info output is chatty
// and goes to debug.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Errorf(format string, args ...any) {
	s.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogLogger) Warningf(format string, args ...any) {
	s.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogLogger) Infof(format string, args ...any) {
	s.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogLogger) Debugf(format string, args ...any) {
	s.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
