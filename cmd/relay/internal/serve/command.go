package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ioperator-ai/relay/pkg/bridge"
	"github.com/ioperator-ai/relay/pkg/config"
	"github.com/ioperator-ai/relay/pkg/conversation"
	"github.com/ioperator-ai/relay/pkg/gateway"
	"github.com/ioperator-ai/relay/pkg/httpapi"
	"github.com/ioperator-ai/relay/pkg/providers"
	"github.com/ioperator-ai/relay/pkg/session"
)

func NewServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat relay service",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serveCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func serveCmd(debug bool) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	provider, err := providers.New(cfg)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	store := session.NewStore(cfg.SessionTTL())
	conv := conversation.NewClient(provider,
		conversation.WithSystemPrompt(cfg.LLM.SystemPrompt),
		conversation.WithTimeout(cfg.LLMTimeout()),
	)
	gw := gateway.New(store, cfg.Gateway.CORSOrigin)
	store.AddEvictor(gw)
	store.AddEvictor(session.EvictorFunc(conv.ClearHistory))

	b := bridge.New(store, conv, gw)
	if cfg.Telegram.BotToken != "" {
		tc, err := bridge.NewTelegramChannel(cfg.Telegram.BotToken, store, gw)
		if err != nil {
			return fmt.Errorf("creating telegram channel: %w", err)
		}
		b.AttachTelegram(tc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.StartSweep(ctx, cfg.SweepInterval())
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting channel bridge: %w", err)
	}

	server := httpapi.NewServer(cfg, store, b, gw)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info().
		Str("addr", cfg.ListenAddr()).
		Str("provider", cfg.LLM.Provider).
		Bool("telegram", cfg.Telegram.BotToken != "").
		Msg("relay started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	b.Stop()
	cancel()
	log.Info().Msg("relay stopped")

	return nil
}
