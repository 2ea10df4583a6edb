// Command modelgateway runs the transaction-coordinating HTTP gateway
// in front of an Upstream model-editing service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/modelgateway/pkg/bus"
	"github.com/odvcencio/modelgateway/pkg/config"
	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/gateway"
	"github.com/odvcencio/modelgateway/pkg/logging"
	"github.com/odvcencio/modelgateway/pkg/txcore"
	"github.com/odvcencio/modelgateway/pkg/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "modelgateway:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a gateway.yaml config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	logger, err := logging.NewLogger(cfg.LogDir, sessionID)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()
	logger.SetPlanID(sessionID)

	var msgBus bus.MessageBus
	if cfg.Bus.Enabled {
		msgBus, err = bus.NewNATSBus(bus.Config{URL: cfg.Bus.URL, Name: "modelgateway"})
		if err != nil {
			return fmt.Errorf("connecting to bus: %w", err)
		}
		defer msgBus.Close()
	} else {
		msgBus = bus.NewMemoryBus()
		defer msgBus.Close()
	}

	upstreamClient := upstream.NewClient(cfg.Upstream.BaseURL)
	upstreamClient.HTTPClient.Timeout = cfg.Upstream.RequestTimeout

	commandRegistry := txcore.NewCommandProviderRegistry()
	triggerRegistry := txcore.NewTriggerProviderRegistry()

	manager := txcore.NewTransactionManager(upstreamClient, commandRegistry, triggerRegistry, msgBus, logger)

	plugins := []gateway.Plugin{gateway.NewStatusPlugin(manager)}
	gw, err := gateway.New(upstreamClient, manager, cfg.Metrics.Enabled, logger, plugins)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: gw,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(logging.CategoryGateway, "server_starting", fmt.Sprintf("listening on %s, upstream=%s", cfg.Listen, cfg.Upstream.BaseURL), nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- gwerrors.Wrap(err, gwerrors.ErrCodeInternal, "http server failed")
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(logging.CategoryGateway, "server_stopping", "shutdown signal received", nil)
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
