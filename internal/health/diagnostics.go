package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/talktome/internal/observe"
)

// Diagnostics is the optional HTTP listener exposing /healthz, /readyz, and
// /metrics. It is entirely separate from the MCP stdio transport; it exists
// so an operator or a scraper can see what the process is doing while an
// agent holds the stdio session.
type Diagnostics struct {
	srv *http.Server
}

// NewDiagnostics builds the diagnostics listener on addr. Probe routes come
// from handler; metrics are served by the Prometheus bridge registered in
// [observe.InitProvider]. All routes are wrapped in [observe.Middleware].
func NewDiagnostics(addr string, handler *Handler, m *observe.Metrics) *Diagnostics {
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Diagnostics{
		srv: &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(m)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. Returns nil
// on clean shutdown.
func (d *Diagnostics) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.srv.ListenAndServe()
	}()
	slog.Info("diagnostics listener started", "addr", d.srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
