package providers

import (
	"github.com/samber/do/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/catalog"
	"github.com/bookshelfapp/bookshelf-server/internal/config"
	"github.com/bookshelfapp/bookshelf-server/internal/logger"
)

// CatalogHandle wraps the catalog client with shutdown capability.
type CatalogHandle struct {
	*catalog.Client
}

// Shutdown implements do.Shutdownable.
func (h *CatalogHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideCatalog provides the rate-limited catalog client.
func ProvideCatalog(i do.Injector) (*CatalogHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	token, err := catalog.LoadOrCreateToken(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}

	client, err := catalog.New(catalog.Options{
		BaseURL:   cfg.Catalog.BaseURL,
		Token:     token,
		Timeout:   cfg.Catalog.Timeout,
		PageSize:  cfg.Catalog.PageSize,
		CacheTTL:  cfg.Catalog.CacheTTL,
		RateLimit: cfg.Catalog.RateLimit,
		Burst:     cfg.Catalog.Burst,
	}, log.Component("catalog"))
	if err != nil {
		return nil, err
	}

	log.Info("Catalog client ready", "base_url", cfg.Catalog.BaseURL, "page_size", client.PageSize())

	return &CatalogHandle{Client: client}, nil
}
