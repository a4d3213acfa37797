package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

// maxTxnRetries bounds how often a read-modify-write transaction is retried
// after losing a conflict to a concurrent writer.
const maxTxnRetries = 32

// Entity provides generic CRUD operations for any domain type.
//
// Records live under prefix+id. Index entries live under prefix+"idx:"; a
// unique index maps one value to one id, a multi index keeps one entry per
// (value, id) pair so all ids for a value can be scanned.
type Entity[T any] struct {
	db      *badger.DB
	prefix  string
	indexes []Index[T]
}

// Index defines a secondary index on an entity.
type Index[T any] struct {
	name            string
	keyGen          func(*T) []string
	lookupTransform func(string) string // Optional transformation for lookups
	multi           bool
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](db *badger.DB, prefix string) *Entity[T] {
	return &Entity[T]{
		db:      db,
		prefix:  prefix,
		indexes: make([]Index[T], 0),
	}
}

// WithIndex adds a unique secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

// WithIndexTransform adds a unique secondary index with lookup transformation.
// The lookupTransform function is applied to search values before index lookup,
// enabling case-insensitive searches, normalization, etc.
func (e *Entity[T]) WithIndexTransform(name string, keyGen func(*T) []string, lookupTransform func(string) string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{
		name:            name,
		keyGen:          keyGen,
		lookupTransform: lookupTransform,
	})
	return e
}

// WithMultiIndex adds a non-unique secondary index. Use ListByIndex to read it.
func (e *Entity[T]) WithMultiIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen, multi: true})
	return e
}

func (e *Entity[T]) key(id string) []byte {
	return []byte(e.prefix + id)
}

func (e *Entity[T]) indexPrefix(idx Index[T], value string) string {
	p := e.prefix + "idx:" + idx.name + ":" + value
	if idx.multi {
		// NUL cannot appear in ids or values, so a scan for one value never
		// picks up a longer value that shares its prefix.
		p += "\x00"
	}
	return p
}

func (e *Entity[T]) indexKey(idx Index[T], value, id string) []byte {
	if idx.multi {
		return []byte(e.indexPrefix(idx, value) + id)
	}
	return []byte(e.indexPrefix(idx, value))
}

func (e *Entity[T]) findIndex(name string) (Index[T], bool) {
	for _, idx := range e.indexes {
		if idx.name == name {
			return idx, true
		}
	}
	return Index[T]{}, false
}

// update runs fn in a read-write transaction, retrying on conflict.
func (e *Entity[T]) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxTxnRetries {
			return err
		}
	}
}

// get loads the record for id inside txn. Returns (nil, nil) when absent.
func (e *Entity[T]) get(txn *badger.Txn, id string) (*T, error) {
	item, err := txn.Get(e.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, &entity); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// put writes next under id, replacing old (nil when creating) and moving
// its index entries.
func (e *Entity[T]) put(txn *badger.Txn, id string, old, next *T) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	for _, idx := range e.indexes {
		var oldKeys []string
		if old != nil {
			oldKeys = idx.values(old)
		}
		newKeys := idx.values(next)

		for _, k := range oldKeys {
			if slices.Contains(newKeys, k) {
				continue
			}
			if err := txn.Delete(e.indexKey(idx, k, id)); err != nil {
				return fmt.Errorf("failed to delete old index key: %w", err)
			}
		}

		for _, k := range newKeys {
			if !idx.multi && !slices.Contains(oldKeys, k) {
				_, err := txn.Get(e.indexKey(idx, k, id))
				if err == nil {
					return fmt.Errorf("index %s conflict on key %s: %w", idx.name, k, store.ErrAlreadyExists)
				}
				if !errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("failed to check index key: %w", err)
				}
			}
			if err := txn.Set(e.indexKey(idx, k, id), []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}

	if err := txn.Set(e.key(id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// values returns the index values for entity. Empty values are not
// indexed, so records without a value never collide on a unique index.
func (idx Index[T]) values(entity *T) []string {
	return slices.DeleteFunc(idx.keyGen(entity), func(v string) bool { return v == "" })
}

// remove deletes the record and its index entries.
func (e *Entity[T]) remove(txn *badger.Txn, id string, entity *T) error {
	for _, idx := range e.indexes {
		for _, k := range idx.values(entity) {
			if err := txn.Delete(e.indexKey(idx, k, id)); err != nil {
				return fmt.Errorf("failed to delete index key: %w", err)
			}
		}
	}
	if err := txn.Delete(e.key(id)); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Create creates a new entity with the given ID.
// Returns ErrAlreadyExists if the ID or a unique index value is taken.
func (e *Entity[T]) Create(ctx context.Context, id string, entity *T) error {
	return e.update(ctx, func(txn *badger.Txn) error {
		existing, err := e.get(txn, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return store.ErrAlreadyExists
		}
		return e.put(txn, id, nil, entity)
	})
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity *T
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, store.ErrNotFound
	}
	return entity, nil
}

// GetByIndex retrieves an entity by a unique secondary index.
// If the index has a lookup transform, it will be applied to the value before lookup.
func (e *Entity[T]) GetByIndex(ctx context.Context, indexName, value string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, ok := e.findIndex(indexName)
	if !ok || idx.multi {
		return nil, fmt.Errorf("no unique index %q", indexName)
	}
	if idx.lookupTransform != nil {
		value = idx.lookupTransform(value)
	}

	var entity *T
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(e.indexKey(idx, value, ""))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}

		entity, err = e.get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, store.ErrNotFound
	}
	return entity, nil
}

// ListByIndex returns every entity whose multi index contains value, in
// index order. The caller sorts if it needs a domain order.
func (e *Entity[T]) ListByIndex(ctx context.Context, indexName, value string) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, ok := e.findIndex(indexName)
	if !ok || !idx.multi {
		return nil, fmt.Errorf("no multi index %q", indexName)
	}
	prefix := []byte(e.indexPrefix(idx, value))

	var out []*T
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}

		for _, id := range ids {
			entity, err := e.get(txn, id)
			if err != nil {
				return err
			}
			if entity != nil {
				out = append(out, entity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Mutate runs a read-modify-write of the record under id in one
// transaction. fn receives the current value, or nil when absent, and
// returns the value to store. Returning current itself leaves the record
// untouched. An error from fn aborts the transaction and is returned as is.
//
// The transaction is retried when a concurrent writer touched the same
// record, so fn may run more than once and must not have side effects.
func (e *Entity[T]) Mutate(ctx context.Context, id string, fn func(current *T) (*T, error)) (*T, error) {
	var result *T
	err := e.update(ctx, func(txn *badger.Txn) error {
		current, err := e.get(txn, id)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		result = next
		if next == current {
			return nil
		}
		return e.put(txn, id, current, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update replaces an existing entity.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Update(ctx context.Context, id string, entity *T) error {
	_, err := e.Mutate(ctx, id, func(current *T) (*T, error) {
		if current == nil {
			return nil, store.ErrNotFound
		}
		return entity, nil
	})
	return err
}

// DeleteIf deletes the entity when check accepts it and returns what was
// deleted. Returns ErrNotFound when there is nothing to delete.
func (e *Entity[T]) DeleteIf(ctx context.Context, id string, check func(*T) error) (*T, error) {
	var deleted *T
	err := e.update(ctx, func(txn *badger.Txn) error {
		current, err := e.get(txn, id)
		if err != nil {
			return err
		}
		if current == nil {
			return store.ErrNotFound
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}
		deleted = current
		return e.remove(txn, id, current)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Delete deletes an entity by ID.
// This operation is idempotent - it does not return an error if the entity does not exist.
func (e *Entity[T]) Delete(ctx context.Context, id string) error {
	_, err := e.DeleteIf(ctx, id, nil)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// List returns an iterator over all entities.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		prefix := []byte(e.prefix)
		err := e.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = true

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}

				// Skip index keys
				if strings.HasPrefix(string(it.Item().Key()[len(prefix):]), "idx:") {
					continue
				}

				var entity T
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				}); err != nil {
					return err
				}

				if !yield(&entity, nil) {
					return errStopIteration
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(nil, err)
		}
	}
}

var errStopIteration = errors.New("stop iteration")
