package tunnel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PortForward exposes Destination, reachable only through the tunnel, on the
// local address Listen.
type PortForward struct {
	Listen      netip.AddrPort
	Destination netip.AddrPort
}

// Dialer opens connections on the far side of the tunnel.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Forwarder pipes accepted TCP connections to a destination through a Dialer.
type Forwarder struct {
	dialer      Dialer
	destination netip.AddrPort
	logger      *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(dialer Dialer, destination netip.AddrPort, logger *slog.Logger) *Forwarder {
	return &Forwarder{dialer: dialer, destination: destination, logger: logger}
}

// Serve accepts connections on ln until ctx is done or ln is closed. When ctx
// is done every forwarded connection is closed, and Serve returns only after
// all of them have finished.
func (f *Forwarder) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		local, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Go(func() { f.handle(ctx, local) })
	}
}

func (f *Forwarder) handle(ctx context.Context, local net.Conn) {
	defer local.Close()
	stopLocal := context.AfterFunc(ctx, func() { local.Close() })
	defer stopLocal()

	remote, err := f.dialer.DialContext(ctx, "tcp", f.destination.String())
	if err != nil {
		f.logger.Error("failed to dial through tunnel",
			slog.String("destination", f.destination.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	defer remote.Close()
	stopRemote := context.AfterFunc(ctx, func() { remote.Close() })
	defer stopRemote()

	f.logger.Debug("forwarding connection",
		slog.String("source", local.RemoteAddr().String()),
		slog.String("destination", f.destination.String()),
	)

	var g errgroup.Group
	g.Go(func() error { return copyHalf(remote, local) })
	g.Go(func() error { return copyHalf(local, remote) })
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		f.logger.Debug("connection closed with error", slog.String("error", err.Error()))
	}
}

// copyHalf copies src to dst and then half-closes dst so the peer sees EOF.
func copyHalf(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	} else {
		dst.Close()
	}
	return err
}
