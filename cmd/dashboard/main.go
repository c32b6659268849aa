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

	"github.com/dogwood/dashboard-client/internal/config"
	"github.com/dogwood/dashboard-client/internal/handler"
	"github.com/dogwood/dashboard-client/internal/service/auth"
	"github.com/dogwood/dashboard-client/internal/service/chat"
	"github.com/dogwood/dashboard-client/internal/service/dashboard"
	"github.com/dogwood/dashboard-client/internal/service/session"
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

	repo, closeRepo, err := session.OpenRepository(cfg.Session)
	if err != nil {
		log.Fatalf("failed to open session repository: %v", err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Printf("warning: failed to close session repository: %v", err)
		}
	}()

	// Requests arriving before the load finishes see the gate in its unknown state.
	store := session.NewStore(repo)
	go func() {
		if err := store.Load(ctx); err != nil {
			log.Printf("warning: failed to load persisted session: %v", err)
		}
	}()

	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	authService := auth.NewService(auth.NewClient(cfg.API.BaseURL, httpClient), store, cfg.Session.Ordering == config.OrderingSequence)

	policy := chat.DiscardPartial
	if cfg.Chat.PreservePartials {
		policy = chat.PreservePartial
	}
	chatService := chat.NewService(chat.NewTransport(cfg.Chat.BaseURL, nil, store), store)

	router := handler.NewRouter(handler.Dependencies{
		Config:       cfg,
		Sessions:     store,
		Auth:         authService,
		Chat:         chatService,
		Conversation: chat.NewConversation(policy),
		Dashboard:    dashboard.NewClient(cfg.API.BaseURL, httpClient, store),
	})

	log.Printf("session backend=%s ordering=%s", cfg.Session.Backend, cfg.Session.Ordering)
	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("dashboard shell listening on %s", addr)
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
