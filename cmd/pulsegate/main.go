package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/veerababumanyam/pulsegate/internal/auth"
	"github.com/veerababumanyam/pulsegate/internal/config"
	"github.com/veerababumanyam/pulsegate/internal/gate"
	"github.com/veerababumanyam/pulsegate/internal/gateway"
	"github.com/veerababumanyam/pulsegate/internal/obs"
	"github.com/veerababumanyam/pulsegate/internal/proxy"
	"github.com/veerababumanyam/pulsegate/internal/ratelimit"
	"github.com/veerababumanyam/pulsegate/internal/ratelimit/memory"
	"github.com/veerababumanyam/pulsegate/internal/ratelimit/redisstore"
	"github.com/veerababumanyam/pulsegate/internal/routing"
)

func main() {

	cfg, err := config.Load("./config.yaml")

	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)
	logger.Info().Msg("Setup logger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// limiter backend
	var limiter ratelimit.Limiter
	switch cfg.Limits.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Limits.RedisAddr})
		limiter = redisstore.New(client)
		logger.Info().Str("addr", cfg.Limits.RedisAddr).Msg("using redis limiter")
	default:
		mem := memory.New(memory.WithIdleTTL(time.Duration(cfg.Limits.IdleTTLSec) * time.Second))
		mem.StartJanitor(ctx, time.Duration(cfg.Limits.SweepEverySec)*time.Second)
		limiter = mem
		logger.Info().Msg("using in-memory limiter")
	}
	defer func() { _ = limiter.Close() }()

	// static API keys
	pairs := map[string]string{} // secret -> keyID
	for _, k := range cfg.Auth.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, pairs)

	// routes with their policy classes
	router := routing.New()
	for _, rc := range cfg.Routes {
		upURL, err := url.Parse(rc.Upstream.URL)
		if err != nil {
			log.Fatalf("route %s: bad upstream url: %v", rc.ID, err)
		}
		methods := map[string]struct{}{}
		for _, m := range rc.Match.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		rt := &routing.Route{
			ID:      rc.ID,
			Methods: methods,
			Prefix:  rc.Match.PathPrefix,
			UpURL:   upURL,
			Timeout: time.Duration(rc.Upstream.TimeoutMS) * time.Millisecond,
		}
		if rc.Limit != nil {
			rt.Limit = rc.Limit.Policy()
		}
		if len(rc.LimitOverrides) > 0 {
			rt.Overrides = map[string]ratelimit.Policy{}
			for keyID, o := range rc.LimitOverrides {
				rt.Overrides["key:"+keyID] = o.Policy()
			}
		}
		router.Add(rt)
	}

	admissionGate := gate.New(limiter, authStore)
	keyFn := gateway.ClientKey(authStore, false)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := obs.NewMetrics(reg)

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
	}
	skip[cfg.Observability.PrometheusPath] = struct{}{}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v.0.0.1"))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.Handle("/", proxy.Handler(proxy.NewHTTPTransport()))

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
		gateway.RouteMatcher(router, skip),
		metrics.Middleware(skip),
		gateway.Admission(admissionGate, keyFn, cfg.Limits.Default.Policy(), skip, metrics.Hooks()),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	log.Printf("bye")
}
