package providers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/config"
	"github.com/bookshelfapp/bookshelf-server/internal/logger"
	"github.com/bookshelfapp/bookshelf-server/internal/sse"
	"github.com/bookshelfapp/bookshelf-server/internal/store"
	"github.com/bookshelfapp/bookshelf-server/internal/store/badgerdb"
	"github.com/bookshelfapp/bookshelf-server/internal/store/postgres"
	"github.com/bookshelfapp/bookshelf-server/internal/store/sqlite"
)

// FeedManagerHandle wraps the live review feed manager.
type FeedManagerHandle struct {
	*sse.Manager
}

// Shutdown implements do.Shutdownable.
func (h *FeedManagerHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideFeedManager provides the live review feed manager.
func ProvideFeedManager(i do.Injector) (*FeedManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return &FeedManagerHandle{Manager: sse.NewManager(log.Component("review_feeds"))}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured store. Committed review changes are
// emitted to the feed manager, which reads full lists back from the store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	feeds := do.MustInvoke[*FeedManagerHandle](i)

	st, location, err := openStore(cfg, log.Component("store"), feeds.Manager)
	if err != nil {
		return nil, err
	}
	feeds.SetLister(st)

	log.Info("Database initialized", "driver", cfg.Store.Driver, "location", location)

	return &StoreHandle{Store: st}, nil
}

func openStore(cfg *config.Config, log *slog.Logger, emitter store.EventEmitter) (store.Store, string, error) {
	switch cfg.Store.Driver {
	case config.DriverBadger:
		dir := filepath.Join(cfg.Data.Dir, "db")
		st, err := badgerdb.Open(dir, log, emitter)
		return st, dir, err
	case config.DriverSQLite:
		path := filepath.Join(cfg.Data.Dir, "bookshelf.db")
		st, err := sqlite.Open(path, log, emitter)
		return st, path, err
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		st, err := postgres.Open(ctx, cfg.Store.DatabaseURL, log, emitter)
		return st, "postgres", err
	default:
		return nil, "", fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
