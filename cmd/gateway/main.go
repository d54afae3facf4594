// Command gateway runs the Kiro EventStream gateway: it fronts the upstream
// CodeWhisperer/Kiro binary EventStream API with Anthropic Messages and
// OpenAI Chat Completions client surfaces. Scoped down from the teacher's
// cmd/server/main.go, which additionally handles multi-provider OAuth
// logins, a TUI dashboard, and a Windows service wrapper — none of which
// this gateway's single upstream protocol needs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/kiro-gateway/kiro-gateway/internal/api"
	"github.com/kiro-gateway/kiro-gateway/internal/credconfig"
	"github.com/kiro-gateway/kiro-gateway/internal/credpool"
	"github.com/kiro-gateway/kiro-gateway/internal/logging"
	"github.com/kiro-gateway/kiro-gateway/internal/upstreamclient"
)

const defaultCredentialsPath = "credentials.yaml"

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: resolve working directory: %v\n", err)
		os.Exit(1)
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !os.IsNotExist(errLoad) {
		fmt.Fprintf(os.Stderr, "gateway: .env load warning: %v\n", errLoad)
	}

	var (
		port            int
		credentialsPath string
		logLevel        string
		upstreamURL     string
		socialRefresh   string
		idcRefresh      string
		quotaProbeURL   string
		allowOrigins    string
	)
	flag.IntVar(&port, "port", envInt("PORT", 8080), "listen port")
	flag.StringVar(&credentialsPath, "credentials", envOr("CREDENTIALS_PATH", defaultCredentialsPath), "credential config file path")
	flag.StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.StringVar(&upstreamURL, "upstream-url", os.Getenv("UPSTREAM_URL"), "upstream EventStream endpoint URL")
	flag.StringVar(&socialRefresh, "social-refresh-url", os.Getenv("SOCIAL_REFRESH_URL"), "Social auth refresh endpoint")
	flag.StringVar(&idcRefresh, "idc-refresh-url", os.Getenv("IDC_REFRESH_URL"), "IdC auth refresh endpoint")
	flag.StringVar(&quotaProbeURL, "quota-probe-url", os.Getenv("QUOTA_PROBE_URL"), "quota probe endpoint")
	flag.StringVar(&allowOrigins, "allow-origins", os.Getenv("ALLOW_ORIGINS"), "comma-separated CORS allow-list (empty = allow all)")
	flag.Parse()

	logging.Configure(logLevel)

	clientSecret := os.Getenv("CLIENT_SECRET")
	if clientSecret == "" {
		log.Fatal("gateway: CLIENT_SECRET must be set")
	}
	if upstreamURL == "" {
		log.Fatal("gateway: -upstream-url (or UPSTREAM_URL) must be set")
	}

	configs, err := credconfig.Load(credentialsPath)
	if err != nil {
		log.WithError(err).Fatal("gateway: failed to load credential config")
	}
	if len(configs) == 0 {
		log.Fatal("gateway: credential config has no usable entries")
	}

	client := upstreamclient.New(upstreamclient.Endpoints{
		UpstreamURL:      upstreamURL,
		SocialRefreshURL: socialRefresh,
		IdCRefreshURL:    idcRefresh,
		QuotaProbeURL:    quotaProbeURL,
	})
	pool := credpool.New(configs, client)
	defer pool.Close()

	watcher, err := credconfig.NewWatcher(credentialsPath, func(updated []credpool.Config) {
		log.WithField("count", len(updated)).Info("gateway: credential config reloaded (restart required to apply)")
	})
	if err != nil {
		log.WithError(err).Warn("gateway: credential file watch disabled")
	} else {
		defer watcher.Close()
	}

	gw := api.New(pool, client)
	router := api.NewRouter(gw, api.RouterConfig{
		ClientSecret: clientSecret,
		AllowOrigins: splitNonEmpty(allowOrigins, ","),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		log.WithField("port", port).Info("gateway: listening")
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.WithError(errServe).Fatal("gateway: listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("gateway: graceful shutdown failed")
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
