// Command mcpgateway runs the MCP multiplexing gateway: it spawns the
// configured backend fleet, completes their stdio handshakes, and
// exposes the REST surface described in SPEC_FULL.md §6.
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

	"mcpgateway/internal/gateway"
	"mcpgateway/internal/logging"
	"mcpgateway/internal/mcpconfig"
	"mcpgateway/internal/observability"
	"mcpgateway/internal/restapi"
)

const (
	defaultBindAddr       = "127.0.0.1:8642"
	defaultRequestTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to mcp_config.json (defaults to $MCP_CONFIG_PATH or ./mcp_config.json)")
	bindAddr := flag.String("addr", defaultBindAddr, "Address to bind the REST surface to")
	flag.Parse()

	logger := logging.New(os.Stdout)
	ctx := context.Background()

	tracer, meter, shutdownTrace, shutdownMet, err := observability.Setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTrace(context.Background())
		_ = shutdownMet(context.Background())
	}()

	metrics, err := observability.NewMetrics(meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register metrics: %v\n", err)
		os.Exit(1)
	}

	fileServers, fileWarnings, err := mcpconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	envServers, envWarnings := mcpconfig.LoadEnvOverrides(os.Environ())
	servers := mcpconfig.Merge(fileServers, envServers)

	for _, w := range append(fileWarnings, envWarnings...) {
		logger.Warn(ctx, "mcp_config_warning", map[string]any{"server_id": w.ServerID, "message": w.Message})
	}

	gw := gateway.New(logger, tracer, metrics, defaultRequestTimeout)

	for id, cfg := range servers {
		if err := gw.StartServer(ctx, id, cfg); err != nil {
			logger.Error(ctx, "mcp_server_start_failed", map[string]any{"server_id": id, "error": err.Error()})
		}
	}

	httpServer := &http.Server{
		Addr:    *bindAddr,
		Handler: restapi.New(gw, logger).Routes(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "mcp_gateway_listening", map[string]any{"addr": *bindAddr})
		serveErrCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "mcp_gateway_listen_failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info(ctx, "mcp_gateway_shutting_down", map[string]any{"signal": sig.String()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
		gw.Shutdown(shutdownCtx)
	}
}
