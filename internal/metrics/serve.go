package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BreakerResetter clears a tripped circuit breaker. It reports whether the
// breaker was open.
type BreakerResetter interface {
	ResetBreaker(ctx context.Context) bool
}

// Serve starts the metrics, health, and admin endpoint on addr and returns
// immediately. The server shuts down gracefully when ctx is cancelled. An
// empty addr disables the server.
func Serve(ctx context.Context, addr string, resetter BreakerResetter, logger *slog.Logger) {
	if addr == "" {
		logger.Info("metrics disabled: empty addr")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(resetter, logger),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
		} else {
			logger.Info("metrics server stopped")
		}
	}()
}

func newMux(resetter BreakerResetter, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))

	if resetter != nil {
		mux.HandleFunc("/admin/breaker/reset", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if !resetter.ResetBreaker(r.Context()) {
				http.Error(w, "breaker not open", http.StatusConflict)
				return
			}
			logger.Info("circuit breaker reset via admin endpoint")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("reset"))
		})
	}

	return mux
}
