/*
Package main is the entry point for the roomsync server.

It loads configuration, initializes the global logging system, selects and
connects the chat store backend, builds the identity resolver and room
registry, and runs the HTTP server until an interrupt signal triggers a
graceful shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/room"
	"roomsync/internal/app/store"
	"roomsync/internal/configs"
	"roomsync/internal/handler"
	"roomsync/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("auth_mode", cfg.AuthMode).
		Str("chat_store", cfg.StoreBackend).
		Dur("presence_min_interval", cfg.PresenceMinInterval).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatStore, err := store.New(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize chat store")
	}

	resolver := identity.NewResolver(cfg)

	registry := room.NewRegistry(chatStore, room.Config{
		HistoryLimit: cfg.ChatHistoryLimit,
	})

	router := handler.Router(&handler.AppDeps{
		Registry: registry,
		Resolver: resolver,
		Store:    chatStore,
		Config:   cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	// No WriteTimeout: it would sever long-lived WebSocket connections.
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("roomsync server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	registry.Shutdown()
	resolver.Close()

	if err := chatStore.Close(); err != nil {
		logx.Error(err, "Chat store close failed")
	}

	logx.Info("Server gracefully stopped.")
}
