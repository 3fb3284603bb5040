// Gateway is a reverse proxy that charges for access to an upstream service
// and prints the TXT record clients discover its terms from.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vitwit/dns402"
	"github.com/vitwit/dns402/discovery"
	"github.com/vitwit/dns402/gate"
	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/record"
	"github.com/vitwit/dns402/session"
)

func main() {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("gateway stopped", map[string]any{"error": err})
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *Config, log logger.Logger) error {
	d, err := dns402.New(cfg.LedgerConfig(),
		dns402.WithLogger(log),
		dns402.WithTolerance(cfg.ToleranceValue()),
	)
	if err != nil {
		return err
	}
	defer d.Close()

	gateCfg, err := cfg.GateConfig()
	if err != nil {
		return err
	}

	var gateOpts []gate.Option
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		rdb, err := session.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return err
		}
		defer rdb.Close()
		log.Info("redis connected", nil)

		gateOpts = append(gateOpts,
			gate.WithSessionStore(session.NewRedisStore(rdb, session.WithPrefix("dns402:session:"))),
			gate.WithReplayStore(session.NewRedisStore(rdb, session.WithPrefix("dns402:replay:"))),
		)
	}
	if cfg.CallbackURL != "" {
		gateOpts = append(gateOpts, gate.WithPaymentHook(webhook(&http.Client{Timeout: gate.DefaultHookTimeout}, cfg.CallbackURL)))
	}

	g, err := d.Gate(gateCfg, gateOpts...)
	if err != nil {
		return err
	}

	fmt.Printf("Publish this TXT record at %s<your-domain>:\n\n  %s\n\n", discovery.RecordPrefix, record.Encode(g.Terms()))

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     newRouter(g, proxy, d.MetricsHandler()),
		ReadTimeout: serverReadTimeout,
		IdleTimeout: serverIdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting gateway", map[string]any{
			"addr":     cfg.Addr(),
			"upstream": cfg.UpstreamURL,
			"price":    cfg.Price,
			"currency": cfg.Currency,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}
	log.Info("shutting down gateway", nil)

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func newRouter(g *gate.Gate, upstream, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", metrics)
	r.Handle("/*", g.Handler(upstream))

	return r
}
