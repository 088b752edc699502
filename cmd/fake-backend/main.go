// ABOUTME: Fake chat backend for local development and end-to-end testing
// ABOUTME: Usage: fake-backend [-addr :8000] [-secret s] [-debug] [-delay 50ms] | fake-backend -issue-token -secret s

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8000", "HTTP listen address")
	secret := flag.String("secret", "", "HS256 secret; when set, requests need a bearer token")
	issue := flag.Bool("issue-token", false, "print a token signed with -secret and exit")
	subject := flag.String("subject", "dev-user", "subject of an issued token")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of an issued token")
	debug := flag.Bool("debug", false, "emit a debug event with every reply")
	delay := flag.Duration("delay", 50*time.Millisecond, "pause between stream frames")
	level := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: *level}, os.Stderr)
	slog.SetDefault(logger)

	if *issue {
		if err := issueToken(*secret, *subject, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*addr, *secret, *debug, *delay, logger); err != nil {
		logger.Error("fake backend failed", "error", err)
		os.Exit(1)
	}
}

func issueToken(secret, subject string, ttl time.Duration) error {
	if secret == "" {
		return errors.New("-issue-token requires -secret")
	}
	token, err := auth.NewJWTVerifier([]byte(secret)).Generate(subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(addr, secret string, debug bool, delay time.Duration, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handler := newServer(debug, delay, logger).routes()
	if secret != "" {
		handler = auth.HTTPAuthMiddleware(auth.NewJWTVerifier([]byte(secret)))(handler)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", addr, "auth", secret != "", "debug", debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
