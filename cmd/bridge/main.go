package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/hass-directive-bridge/internal/bridge"
	"github.com/tjfontaine/hass-directive-bridge/internal/config"
	"github.com/tjfontaine/hass-directive-bridge/internal/entrypoint"
	"github.com/tjfontaine/hass-directive-bridge/internal/logging"
	"github.com/tjfontaine/hass-directive-bridge/internal/server"
	"github.com/tjfontaine/hass-directive-bridge/internal/telemetry"
	"github.com/tjfontaine/hass-directive-bridge/internal/tunnel"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := config.NewFlagSet("hass-directive-bridge")
	cfg, err := config.Load(flags, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Usage of hass-directive-bridge:\n%s", flags.FlagUsages())
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := logging.New(cfg.LogLevel, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	shutdown := telemetry.Noop
	if cfg.Telemetry.Enabled {
		shutdown, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tun, err := startTunnel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer tun.Close()

	cfg.CheckAccessToken(logger, time.Now())

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	b := bridge.New(cfg.ControllerURL(),
		bridge.WithPath(cfg.Controller.Path),
		bridge.WithHTTPClient(client),
		bridge.WithLogger(logger),
	)
	handler := entrypoint.New(b, entrypoint.Options{DefaultCredential: cfg.AccessToken}, logger)

	logger.Info("directive bridge ready",
		slog.String("mode", cfg.Host.Mode),
		slog.String("controller", b.URL()),
		slog.Bool("default_credential", handler.Configured()),
	)

	switch cfg.Host.Mode {
	case config.ModeHTTP:
		return server.New(cfg.Host.Port, logger, handler).Start(ctx)
	default:
		lambda.StartWithOptions(handler.Invoke, lambda.WithContext(ctx))
		return nil
	}
}

func startTunnel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tunnel.Tunnel, error) {
	priv, err := tunnel.ParseKey("private key", cfg.Tunnel.PrivateKey)
	if err != nil {
		return nil, err
	}
	pub, err := tunnel.ParseKey("public key", cfg.Tunnel.PublicKey)
	if err != nil {
		return nil, err
	}

	// Validate has already checked these parse
	listen := netip.MustParseAddrPort(cfg.Tunnel.ListenAddr)
	destination := netip.MustParseAddrPort(cfg.Controller.Host)

	return tunnel.Start(ctx, tunnel.Config{
		Endpoint:     cfg.Tunnel.Endpoint,
		PrivateKey:   priv,
		PublicKey:    pub,
		SourcePeerIP: netip.MustParseAddr(cfg.Tunnel.SourcePeerIP),
		Keepalive:    time.Duration(cfg.Tunnel.KeepaliveSeconds) * time.Second,
		MTU:          cfg.Tunnel.MTU,
		Forwards:     []tunnel.PortForward{{Listen: listen, Destination: destination}},
	}, logger)
}
