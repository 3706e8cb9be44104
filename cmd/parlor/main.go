package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parlorchat/parlor/internal/bot"
	"github.com/parlorchat/parlor/internal/bot/ai"
	"github.com/parlorchat/parlor/internal/bot/eliza"
	"github.com/parlorchat/parlor/internal/broker"
	"github.com/parlorchat/parlor/internal/chat"
	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/handler"
	"github.com/parlorchat/parlor/internal/relay"
	"github.com/parlorchat/parlor/internal/session"
	"github.com/parlorchat/parlor/internal/telemetry"
	"github.com/parlorchat/parlor/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	registry := session.NewRegistry(cfg.Relay.SendBuffer)

	tracker := telemetry.New()
	registry.OnEvent(tracker.HandleEvent)
	registry.OnEvent(tracker.LogEvent)

	bk := broker.New(registry, tracker)

	responder := newResponder(ctx, cfg.AI, registry)
	chatHandler := chat.NewHandler(responder, bk)

	rl := relay.New(relay.Config{
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		Heartbeat:        cfg.Relay.Heartbeat,
	}, registry, bk, chatHandler)

	manager := transport.NewManager(cfg.Relay.Heartbeat, cfg.Relay.IdleTimeout, func(ch transport.Channel) {
		go rl.Serve(ctx, ch)
	})

	router := handler.NewRouter(
		handler.NewSock(rl, manager, cfg.Relay.Heartbeat, cfg.Relay.IdleTimeout),
		handler.NewStats(tracker, bk),
	)

	startServer(ctx, cfg.Server, router)

	registry.CloseAll()
	manager.Shutdown()
}

// newResponder picks the chat brain: the Ark-backed model when its
// credentials are configured, the built-in pattern matcher otherwise.
// The AI responder keeps per-session history, so it also subscribes to
// lifecycle events to discard it on disconnect.
func newResponder(ctx context.Context, cfg config.AIConfig, registry *session.Registry) bot.Responder {
	if !cfg.Enabled() {
		log.Println("Ark credentials not configured, using the built-in responder")
		return eliza.New()
	}

	responder, err := ai.New(ctx, cfg)
	if err != nil {
		log.Printf("warning: failed to initialize AI responder: %v", err)
		log.Println("continuing with the built-in responder")
		return eliza.New()
	}

	log.Println("AI responder initialized successfully")
	registry.OnEvent(func(ev session.Event) {
		if ev.Type == session.EventDisconnected {
			responder.Forget(ev.SessionID)
		}
	})
	return responder
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Parlor chat server listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
