package providers

import (
	"github.com/samber/do/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/config"
	"github.com/bookshelfapp/bookshelf-server/internal/logger"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
	"github.com/bookshelfapp/bookshelf-server/internal/synchronizer"
)

// RegistryHandle wraps the screen session registry with shutdown capability.
type RegistryHandle struct {
	*synchronizer.Registry
}

// Shutdown implements do.Shutdownable.
func (h *RegistryHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideRegistry provides the registry of book detail and catalog list
// sessions, and signs them out when their login session ends.
func ProvideRegistry(i do.Injector) (*RegistryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	catalogHandle := do.MustInvoke[*CatalogHandle](i)
	reviews := do.MustInvoke[*service.ReviewService](i)
	readState := do.MustInvoke[*service.ReadStateService](i)
	authService := do.MustInvoke[*service.AuthService](i)

	registry := synchronizer.NewRegistry(synchronizer.Deps{
		Books:     catalogHandle.Client,
		Pages:     catalogHandle.Client,
		Reviews:   reviews,
		ReadState: readState,
		Logger:    log.Component("synchronizer"),
	}, synchronizer.RegistryOptions{
		IdleTimeout: cfg.Sessions.IdleTimeout,
	})
	authService.SetSigner(registry)

	log.Info("Session registry started", "idle_timeout", cfg.Sessions.IdleTimeout)

	return &RegistryHandle{Registry: registry}, nil
}
