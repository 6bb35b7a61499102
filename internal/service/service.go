// Package service exposes a Nitro Secure Module over HTTP.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/config"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/nsm"
)

const shutdownTimeout = 5 * time.Second

// Listen returns a VSOCK listener if the configuration has a VSOCK port, and
// a TCP listener otherwise.
func Listen(cfg *config.Server) (_ net.Listener, err error) {
	defer errs.Wrap(&err, "failed to create listener")

	if cfg.VSOCKPort != 0 {
		return vsock.Listen(cfg.VSOCKPort, nil)
	}
	return net.Listen("tcp", cfg.Addr)
}

// Serve serves the given handler on the given listener until the context is
// canceled, at which point the server shuts down gracefully.
func Serve(
	ctx context.Context,
	l net.Listener,
	h http.Handler,
	log zerolog.Logger,
) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", l.Addr().String()).Msg("Starting web server.")
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down web server.")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Run serves the given module as configured and blocks until the context is
// canceled.  The module is closed before Run returns.
func Run(
	ctx context.Context,
	cfg *config.Server,
	m nsm.Module,
	log zerolog.Logger,
) (err error) {
	defer errs.Wrap(&err, "failed to run service")
	defer func() {
		if cerr := m.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close module.")
		}
	}()

	h, err := New(cfg, m)
	if err != nil {
		return err
	}
	l, err := Listen(cfg)
	if err != nil {
		return err
	}
	return Serve(ctx, l, h, log)
}
