package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/logger"
	"github.com/bookshelfapp/bookshelf-server/internal/service"
)

// SessionPurgeJob periodically deletes expired login sessions.
type SessionPurgeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (j *SessionPurgeJob) Shutdown() error {
	j.cancel()
	<-j.done
	return nil
}

// ProvideSessionPurgeJob provides the periodic session purge job.
func ProvideSessionPurgeJob(i do.Injector) (*SessionPurgeJob, error) {
	authService := do.MustInvoke[*service.AuthService](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	purge := func(initial bool) {
		count, err := authService.PurgeExpiredSessions(ctx)
		switch {
		case err != nil:
			log.Warn("Session purge failed", "initial", initial, "error", err)
		case count > 0:
			log.Info("Session purge completed", "initial", initial, "deleted", count)
		}
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()

		purge(true)
		for {
			select {
			case <-ticker.C:
				purge(false)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Session purge job started", "interval", sessionPurgeInterval)

	return &SessionPurgeJob{cancel: cancel, done: done}, nil
}
