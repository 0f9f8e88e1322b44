// Package main is the entry point for the web0 mail relay and admin server.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smalltech/web0-mail/internal/admin"
	"github.com/smalltech/web0-mail/internal/config"
	"github.com/smalltech/web0-mail/internal/provider"
	"github.com/smalltech/web0-mail/internal/provider/graph"
	"github.com/smalltech/web0-mail/internal/provider/ses"
	"github.com/smalltech/web0-mail/internal/provider/smarthost"
	"github.com/smalltech/web0-mail/internal/provider/stdout"
	"github.com/smalltech/web0-mail/internal/relay"
	"github.com/smalltech/web0-mail/internal/smtp"
	"github.com/smalltech/web0-mail/internal/store"
	smtptls "github.com/smalltech/web0-mail/internal/tls"
)

// shutdownTimeout bounds the HTTP shutdown and the wait for in-flight
// forwards.
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// The mail service does not start without its certificate.
	tlsConfig, tlsMode, err := loadTLS(cfg)
	if err != nil {
		slog.Error("failed to load TLS credentials", "mode", tlsMode, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Admin.DBPath)
	if err != nil {
		slog.Error("failed to open signatory store", "path", cfg.Admin.DBPath, "error", err)
		os.Exit(1)
	}
	route, err := db.AdminRoute(ctx)
	if err != nil {
		slog.Error("failed to load admin route", "error", err)
		os.Exit(1)
	}

	// Select email delivery provider
	prov := selectProvider(cfg)

	rel := relay.New(relay.Config{
		Mailbox:      cfg.SMTP.Mailbox,
		StaffAddress: cfg.Relay.StaffAddress,
		Hostname:     cfg.SMTP.Hostname,
		Composer: relay.Composer{
			StaffNames: cfg.Relay.StaffNames,
			Signature:  cfg.Relay.Signature,
		},
		Provider:    prov,
		SendTimeout: cfg.Relay.SendTimeout,
	})

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Banner:         cfg.SMTP.Banner,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		Backend:        rel,
		TLSConfig:      tlsConfig,
		ImplicitTLS:    cfg.SMTP.ImplicitTLS,
	})

	mux := http.NewServeMux()
	mux.Handle("/admin/", admin.New(db, route, nil))
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           mux,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Closing the HTTP server asks the mail server to close as well.
	smtpCtx, cancelSMTP := context.WithCancel(ctx)
	defer cancelSMTP()
	httpServer.RegisterOnShutdown(func() {
		slog.Info("main server shutdown detected, asking mail server to close")
		cancelSMTP()
	})

	slog.Info("starting web0-mail",
		"smtp_listen", cfg.SMTP.Listen,
		"mailbox", cfg.SMTP.Mailbox,
		"staff_address", cfg.Relay.StaffAddress,
		"provider", prov.Name(),
		"tls_mode", tlsMode,
		"admin_listen", cfg.Admin.Listen,
	)
	slog.Info("admin pages available", "path", "/admin/"+route)

	smtpDone := make(chan error, 1)
	go func() {
		smtpDone <- server.ListenAndServe(smtpCtx)
	}()

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.ListenAndServeTLS("", "")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	smtpStopped := false

	select {
	case sig := <-sigCh:
		slog.Info("received signal, initiating shutdown", "signal", sig)
	case err := <-smtpDone:
		smtpStopped = true
		slog.Error("SMTP server error", "error", err)
		exitCode = 1
	case err := <-httpDone:
		slog.Error("admin server error", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("admin server shutdown error", "error", err)
	}

	if !smtpStopped {
		if err := <-smtpDone; err != nil {
			slog.Error("SMTP server error", "error", err)
			exitCode = 1
		}
	}
	slog.Info("mail server closed")

	if err := rel.Wait(shutdownCtx); err != nil {
		slog.Warn("forwards still in flight at shutdown", "error", err)
	}

	if err := db.Close(); err != nil {
		slog.Error("failed to close signatory store", "error", err)
		exitCode = 1
	}

	slog.Info("web0-mail stopped")
	os.Exit(exitCode)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// loadTLS returns the TLS configuration shared by the mail and admin
// servers and a label for how the credentials were found. Explicit files
// win over the host layout; a self-signed certificate is only made when
// asked for.
func loadTLS(cfg *config.Config) (*tls.Config, string, error) {
	var (
		creds smtptls.Credentials
		mode  string
		err   error
	)

	switch {
	case cfg.TLS.SelfSigned:
		mode = "self-signed"
		creds, err = smtptls.SelfSigned(cfg.SMTP.Hostname)

	case cfg.TLS.CertFile != "":
		mode = "file"
		creds, err = smtptls.LoadCredentials(cfg.TLS.KeyFile, cfg.TLS.CertFile)

	default:
		mode = "host"
		dir := cfg.TLS.Dir
		if dir == "" {
			dir, err = smtptls.DefaultDir(cfg.SMTP.Hostname)
			if err != nil {
				return nil, mode, err
			}
		}
		keyPath, certPath := smtptls.HostPaths(dir)
		creds, err = smtptls.LoadCredentials(keyPath, certPath)
	}
	if err != nil {
		return nil, mode, err
	}

	tlsConfig, err := smtptls.Config(creds)
	if err != nil {
		return nil, mode, err
	}
	return tlsConfig, mode, nil
}

// selectProvider chooses the email delivery backend based on configuration.
// An explicit provider setting takes precedence; otherwise the first fully
// configured of Graph, SES and smarthost is used, else stdout.
func selectProvider(cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES provider selected but SES_REGION and SES_SENDER are required")
			os.Exit(1)
		}
		return newSES(cfg, "using AWS SES provider")

	case "graph":
		if !cfg.GraphConfigured() {
			slog.Error("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
			os.Exit(1)
		}
		return newGraph(cfg, "using Microsoft Graph provider")

	case "smarthost":
		return newSmarthost(cfg, "using smarthost provider")

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New()

	case "":
		if cfg.GraphConfigured() {
			return newGraph(cfg, "using Microsoft Graph provider (auto-detected)")
		}
		if cfg.SESConfigured() {
			return newSES(cfg, "using AWS SES provider (auto-detected)")
		}
		if cfg.SmarthostConfigured() {
			return newSmarthost(cfg, "using smarthost provider (auto-detected)")
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New()

	default:
		slog.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil
	}
}

func newSES(cfg *config.Config, msg string) provider.Provider {
	slog.Info(msg,
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(context.Background(), ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		slog.Error("failed to create SES provider", "error", err)
		os.Exit(1)
	}
	return p
}

func newGraph(cfg *config.Config, msg string) provider.Provider {
	slog.Info(msg,
		"sender", cfg.Graph.Sender,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}

func newSmarthost(cfg *config.Config, msg string) provider.Provider {
	slog.Info(msg,
		"addr", cfg.Smarthost.Addr,
		"socks_proxy", cfg.Smarthost.SOCKSProxy,
		"auth_enabled", cfg.Smarthost.Username != "",
	)
	p, err := smarthost.New(smarthost.Config{
		Addr:       cfg.Smarthost.Addr,
		Username:   cfg.Smarthost.Username,
		Password:   cfg.Smarthost.Password,
		SOCKSProxy: cfg.Smarthost.SOCKSProxy,
		Helo:       cfg.Smarthost.Helo,
	})
	if err != nil {
		slog.Error("failed to create smarthost provider", "error", err)
		os.Exit(1)
	}
	return p
}
