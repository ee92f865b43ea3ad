package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/cultist-backend/internal/config"
	"github.com/DoyleJ11/cultist-backend/internal/httpapi"
	"github.com/DoyleJ11/cultist-backend/internal/hub"
	"github.com/DoyleJ11/cultist-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, hub.Options{Rules: cfg.Rules(), Logger: log})

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, ws.Options{
		ClientBuffer:   cfg.ClientBuffer,
		WriteTimeout:   cfg.WriteTimeout,
		PingInterval:   cfg.PingInterval,
		OriginPatterns: cfg.OriginPatterns,
		Logger:         log,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Close lobbies first so websocket handlers see their outboxes close.
		herr := h.Shutdown(sctx)
		return errors.Join(herr, srv.Shutdown(sctx))
	})
	return g.Wait()
}
