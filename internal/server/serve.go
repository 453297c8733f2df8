package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
)

const shutdownTimeout = 10 * time.Second

// Serve listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return serveListener(ctx, ln, cfg)
}

func serveListener(ctx context.Context, ln net.Listener, cfg Config) error {
	srv := &http.Server{
		Handler:           withLogger(ctx, Handler(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	clog.FromContext(ctx).With("addr", ln.Addr().String()).Info("analysis server listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// withLogger carries the server's logger into each request context.
func withLogger(ctx context.Context, next http.Handler) http.Handler {
	log := clog.FromContext(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.With("method", r.Method).With("path", r.URL.Path)
		if id := r.Header.Get("X-Request-ID"); id != "" {
			reqLog = reqLog.With("request_id", id)
		}
		next.ServeHTTP(w, r.WithContext(clog.WithLogger(r.Context(), reqLog)))
	})
}
