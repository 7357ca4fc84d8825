package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mcastellin/adview-overlay/internal/apploop"
	"github.com/mcastellin/adview-overlay/internal/config"
	"github.com/mcastellin/adview-overlay/internal/metrics"
	"github.com/mcastellin/adview-overlay/internal/transport/rpctransport"
)

// defaultContentCatalog mirrors the original lab's config.py catalog
// until a descriptor format grows one of its own.
var defaultContentCatalog = []string{"show:sitcom-a", "show:drama-b", "show:news-c"}

func runNode(id, configPath string, bootstrapOverride []string, verbose bool) error {
	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("overlaynode: building logger: %w", err)
	}
	defer logger.Sync()

	descriptor, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := descriptor.Validate(); err != nil {
		return err
	}

	endpoint, ok := descriptor.Endpoint(id)
	if !ok {
		return fmt.Errorf("overlaynode: %q is not a declared node in %s", id, configPath)
	}

	// The descriptor's endpoint field doubles as this demo transport's
	// dial address (e.g. "127.0.0.1:9001"); a hosted-queue transport
	// would instead treat it as an opaque queue identifier.
	registry := rpctransport.Registry{}
	for _, n := range descriptor.Nodes {
		registry[n.ID] = n.Endpoint
	}

	tr := rpctransport.New(id, registry, logger)
	if err := tr.Serve(); err != nil {
		return fmt.Errorf("overlaynode: starting transport: %w", err)
	}
	defer tr.Shutdown()

	m := metrics.New()

	node := apploop.New(apploop.Config{
		SelfID:         id,
		Endpoint:       endpoint,
		ContentCatalog: defaultContentCatalog,
	}, tr, logger, m)

	bootstrapIDs := descriptor.Bootstrap
	if len(bootstrapOverride) > 0 {
		bootstrapIDs = bootstrapOverride
	}
	if err := node.Bootstrap(bootstrapIDs); err != nil {
		logger.Warn("bootstrap: some peers unreachable", zap.Error(err))
	}

	if err := node.Run(); err != nil {
		return fmt.Errorf("overlaynode: starting node runtime: %w", err)
	}
	logger.Info("node started", zap.String("id", id), zap.String("endpoint", endpoint))

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutting down", zap.String("id", id))
	return node.Stop()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
