// Package tunnel makes the private controller reachable on a local address by
// running a userspace WireGuard peer and forwarding TCP connections through it.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/tjfontaine/hass-directive-bridge/internal/logging"
)

const (
	DefaultKeepalive = 5 * time.Second
	DefaultMTU       = 1420
)

// Config is the static tunnel configuration.
type Config struct {
	// Endpoint is the WireGuard peer as host:port. Host names are resolved
	// once at start.
	Endpoint     string
	PrivateKey   Key
	PublicKey    Key
	SourcePeerIP netip.Addr
	Keepalive    time.Duration
	MTU          int
	Forwards     []PortForward
}

// Tunnel is a running WireGuard peer with its port forwards.
type Tunnel struct {
	dev    *device.Device
	cancel context.CancelFunc
	group  *errgroup.Group
	addrs  []net.Addr
}

// Start brings the tunnel up and binds every forward's local listener. Once it
// returns, connections to the local addresses reach their destinations.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Tunnel, error) {
	if len(cfg.Forwards) == 0 {
		return nil, fmt.Errorf("tunnel needs at least one port forward")
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}

	endpoint, err := ResolveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	tunDev, tnet, err := netstack.CreateNetTUN([]netip.Addr{cfg.SourcePeerIP}, nil, cfg.MTU)
	if err != nil {
		return nil, fmt.Errorf("create netstack tun: %w", err)
	}

	dev := device.NewDevice(tunDev, conn.NewDefaultBind(), deviceLogger(logger))
	if err := dev.IpcSet(uapiConfig(cfg, endpoint)); err != nil {
		dev.Close()
		return nil, fmt.Errorf("configure wireguard device: %w", err)
	}
	if err := dev.Up(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to create wireguard tunnel: %w", err)
	}

	if pub, err := cfg.PrivateKey.PublicKey(); err == nil {
		logger.Info("wireguard peer up",
			slog.String("public_key", pub.String()),
			slog.String("endpoint", endpoint.String()),
			slog.String("source_peer_ip", cfg.SourcePeerIP.String()),
		)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	t := &Tunnel{dev: dev, cancel: cancel, group: g}

	var lc net.ListenConfig
	for _, fwd := range cfg.Forwards {
		ln, err := lc.Listen(ctx, "tcp", fwd.Listen.String())
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("listen on %s: %w", fwd.Listen, err)
		}
		t.addrs = append(t.addrs, ln.Addr())

		f := NewForwarder(tnet, fwd.Destination, logger)
		g.Go(func() error { return f.Serve(gctx, ln) })

		logger.Info("port forward ready",
			slog.String("listen", ln.Addr().String()),
			slog.String("destination", fwd.Destination.String()),
		)
	}

	return t, nil
}

// Addrs returns the bound local addresses, one per forward.
func (t *Tunnel) Addrs() []net.Addr {
	return t.addrs
}

// Close stops the forwards and the WireGuard device.
func (t *Tunnel) Close() error {
	t.cancel()
	err := t.group.Wait()
	t.dev.Close()
	return err
}

// ResolveEndpoint turns host:port into an address, resolving host names.
func ResolveEndpoint(endpoint string) (netip.AddrPort, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("error during address resolution of %s: %w", endpoint, err)
	}
	ap := addr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

func uapiConfig(cfg Config, endpoint netip.AddrPort) string {
	keepalive := cfg.Keepalive
	if keepalive == 0 {
		keepalive = DefaultKeepalive
	}

	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", cfg.PrivateKey.Hex())
	fmt.Fprintf(&b, "public_key=%s\n", cfg.PublicKey.Hex())
	fmt.Fprintf(&b, "endpoint=%s\n", endpoint)
	fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", int(keepalive/time.Second))
	b.WriteString("allowed_ip=0.0.0.0/0\n")
	b.WriteString("allowed_ip=::/0\n")
	return b.String()
}

func deviceLogger(logger *slog.Logger) *device.Logger {
	l := logger.With(slog.String("component", "wireguard"))
	return &device.Logger{
		Verbosef: func(format string, args ...any) {
			l.Log(context.Background(), logging.LevelTrace, fmt.Sprintf(format, args...))
		},
		Errorf: func(format string, args ...any) {
			l.Error(fmt.Sprintf(format, args...))
		},
	}
}
