// Package main initializes and starts the GophOTP HTTPS server, setting up
// configuration, logging, the token store, handlers and TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/bootstrap"
	"github.com/atinyakov/GophOTP/internal/config"
	"github.com/atinyakov/GophOTP/internal/logger"
	"github.com/atinyakov/GophOTP/internal/server/handler/http"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the token store and start its background workers.
	store, err := bootstrap.Open(options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot open token store", zap.Error(err))
	}
	defer store.Close()
	store.Start(ctx, options.LegacyPath, time.Duration(options.MigrationInterval))

	// Build the router with middleware and routes.
	tokenHandler := &http.TokenHandler{Tokens: store.Tokens, Log: zapLogger}
	router := http.NewRouter(tokenHandler, zapLogger)

	// Load server TLS certificate and key.
	cert, err := tls.LoadX509KeyPair(
		cmp.Or(options.TLSCert, "certs/server.crt"),
		cmp.Or(options.TLSKey, "certs/server.key"),
	)
	if err != nil {
		zapLogger.Fatal("failed to load server TLS cert/key", zap.Error(err))
	}

	// Load and append CA certificate for companion cert verification.
	caCert, err := os.ReadFile(cmp.Or(options.TLSCA, "certs/ca.crt"))
	if err != nil {
		zapLogger.Fatal("failed to read CA cert", zap.Error(err))
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		zapLogger.Fatal("failed to append CA cert to pool")
	}

	// Companions without a certificate are rejected by CertAuth with a
	// readable error instead of a failed handshake.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}

	// Create and start the HTTPS server.
	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr))
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
