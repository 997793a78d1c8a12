// Command activationd is a small daemon that wires the activation SDK into
// an HTTP server: it loads configuration, opens a licensekit.Controller
// against the configured product data, and exposes status/activate/trial
// endpoints plus a Prometheus metrics page.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/blake2b"

	"licensekit"
	"licensekit/internal/config"
	"licensekit/internal/logging"
	"licensekit/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	opts, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("activationd: %w", err)
	}

	logger := logging.New(opts.Logging.Level, opts.Logging.Format)

	providers, err := telemetry.Init(telemetry.Options{
		ServiceName:   opts.Telemetry.ServiceName,
		TraceToStdout: opts.Telemetry.TraceToStdout,
	})
	if err != nil {
		return fmt.Errorf("activationd: telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	metrics, err := telemetry.NewActivationMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("activationd: metrics: %w", err)
	}

	machineUid, err := localMachineUid()
	if err != nil {
		return fmt.Errorf("activationd: %w", err)
	}

	controller := licensekit.New(machineUid,
		licensekit.WithLogger(logger),
		licensekit.WithTracer(providers.Tracer),
		licensekit.WithMetrics(metrics),
		licensekit.WithRateLimit(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst),
	)

	if opts.ProductDataB64 != "" {
		if err := controller.SetProductData(opts.ProductDataB64); err != nil {
			return fmt.Errorf("activationd: setting product data: %w", err)
		}
	} else {
		logger.Warn("no product_data configured; /activate and /trial will report a configuration error until PRODUCT_DATA is set")
	}

	router := newRouter(controller, providers, logger, opts.Telemetry.MetricsPath)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Server.Host, opts.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("activationd listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("activationd: server error: %w", err)
	case <-sigCh:
		logger.Info("activationd shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// localMachineUid derives a stable, privacy-preserving machine identifier
// from the hostname by hashing it, matching the "generic hash of a
// platform-unique id" construction the controller expects for MachineUid.
// A real deployment would swap the source id (disk serial, TPM-backed id,
// OS-specific machine GUID) for something harder to spoof than the
// hostname; this is the demo command's stand-in.
func localMachineUid() ([]byte, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolving hostname: %w", err)
	}
	sum := blake2b.Sum256([]byte(hostname))
	return sum[:], nil
}
