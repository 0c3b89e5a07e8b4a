// Command coopaz-gateway runs the network interception layer as a
// reverse proxy sidecar in front of the app origin. It keeps the
// inventory page shell and its assets available while the in-store
// network is down, bypassing the API routes so data requests always
// reach the server (or fail fast so the agent queues them).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/fabricedemange/coopaz-offline/gateway"
	"github.com/fabricedemange/coopaz-offline/store"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "Path to a config file (optional)")
}

func main() {
	flag.Parse()

	viper.SetDefault("listen", ":8443")
	viper.SetDefault("upstream", "http://localhost:3000")
	viper.SetDefault("cache-dir", "./gateway-cache")
	viper.SetDefault("generation", "coopaz-inventaire-v3")
	viper.SetDefault("precache", "")
	viper.SetDefault("log-level", "info")

	viper.SetEnvPrefix("COOPAZ_GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Reading config: %v", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		log.Fatalf("Invalid log level %q: %v", viper.GetString("log-level"), err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	s, err := store.Open(ctx, store.Options{
		Dir:           viper.GetString("cache-dir"),
		SchemaVersion: 1,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("Opening cache store: %v", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("Closing cache store: %v", err)
		}
	}()

	generation := viper.GetString("generation")
	cache := gateway.NewCache(s, generation)
	if err := cache.Activate(ctx); err != nil {
		log.Fatalf("Activating generation %s: %v", generation, err)
	}
	logger.Info("generation active", "generation", generation)

	transport := &gateway.Transport{
		Rules:  gateway.DefaultRuleset(),
		Cache:  cache,
		Logger: logger,
	}

	handler, err := gateway.NewHandler(viper.GetString("upstream"), transport)
	if err != nil {
		log.Fatalf("Configuring proxy for %s: %v", viper.GetString("upstream"), err)
	}

	if raw := viper.GetString("precache"); raw != "" {
		urls := strings.Split(raw, ",")
		for i := range urls {
			urls[i] = strings.TrimSpace(urls[i])
		}
		transport.Precache(ctx, urls)
		logger.Info("precache pass done", "urls", len(urls))
	}

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening",
			"addr", srv.Addr,
			"upstream", viper.GetString("upstream"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Starting HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down HTTP server", "error", err)
	}
	hits, misses := transport.Stats()
	logger.Info("gateway stopped", "cache_hits", hits, "cache_misses", misses)
}
