// Package badgerdb is the embedded Badger backend of the store. It is the
// default driver and needs nothing but a data directory.
package badgerdb

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/bookshelfapp/bookshelf-server/internal/domain"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key prefixes.
const (
	userPrefix    = "user:"
	sessionPrefix = "session:"
	profilePrefix = "profile:"
	reviewPrefix  = "review:"
)

// Store wraps a Badger database instance.
type Store struct {
	db      *badger.DB
	logger  *slog.Logger
	emitter store.EventEmitter
	clock   *store.Clock

	users    *Entity[domain.User]
	sessions *Entity[domain.Session]
	profiles *Entity[domain.UserProfile]
	reviews  *Entity[domain.Review]
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database in dir. The emitter receives review
// changes after they commit; pass store.NewNoopEmitter() when nobody listens.
func Open(dir string, logger *slog.Logger, emitter store.EventEmitter) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if emitter == nil {
		emitter = store.NewNoopEmitter()
	}

	s := &Store{
		db:      db,
		logger:  logger,
		emitter: emitter,
		clock:   store.NewClock(),
	}
	s.initEntities()

	logger.Info("Badger database opened successfully", "path", dir)
	return s, nil
}

func (s *Store) initEntities() {
	s.users = NewEntity[domain.User](s.db, userPrefix).
		WithIndexTransform("email",
			func(u *domain.User) []string {
				return []string{store.NormalizeEmail(u.Email)}
			},
			store.NormalizeEmail, // Transform lookups to be case-insensitive
		)

	s.sessions = NewEntity[domain.Session](s.db, sessionPrefix)

	s.profiles = NewEntity[domain.UserProfile](s.db, profilePrefix)

	s.reviews = NewEntity[domain.Review](s.db, reviewPrefix).
		WithMultiIndex("book", func(r *domain.Review) []string {
			return []string{r.BookID}
		}).
		WithMultiIndex("user", func(r *domain.Review) []string {
			return []string{r.UserID}
		})
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}
