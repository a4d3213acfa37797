// Command api runs the Bookshelf HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/bookshelfapp/bookshelf-server/internal/di"
	"github.com/bookshelfapp/bookshelf-server/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := di.NewContainer()
	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "bookshelf: bootstrap failed: %v\n", err)
		return 1
	}
	log := do.MustInvoke[*logger.Logger](injector)

	<-ctx.Done()
	log.Info("Signal received, shutting down")

	// Reverse dependency order: the HTTP server stops before the store closes.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
		return 1
	}
	log.Info("Goodbye")
	return 0
}
