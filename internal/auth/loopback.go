package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const shutdownTimeout = 2 * time.Second

// AwaitCallback serves exactly one authorization redirect on ln at path and returns
// its parsed outcome. It resolves on a grant, on a denial (or malformed redirect), or
// when ctx is done. The listener is closed on every path.
func AwaitCallback(ctx context.Context, ln net.Listener, path string, logger *slog.Logger) (Outcome, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "/"
	}

	results := make(chan Outcome, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		out := ParseCallback(r.URL.Query())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if out.Kind == Granted {
			fmt.Fprint(w, "<html><body><p>Connected. You can close this window.</p></body></html>")
		} else {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<html><body><p>Authorization failed. You can close this window.</p></body></html>")
		}
		select {
		case results <- out:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("loopback listener shutdown", "error", err)
			srv.Close()
		}
	}()

	select {
	case out := <-results:
		logger.Debug("authorization redirect received", "outcome", out.Kind.String())
		return out, out.Err()
	case err := <-serveErr:
		return Outcome{}, fmt.Errorf("loopback listener failed: %w", err)
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
