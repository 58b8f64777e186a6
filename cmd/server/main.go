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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/VoiceAgent/internal/adapters/http"
	"github.com/dkeye/VoiceAgent/internal/adapters/rtc"
	signalws "github.com/dkeye/VoiceAgent/internal/adapters/signal"
	"github.com/dkeye/VoiceAgent/internal/app"
	"github.com/dkeye/VoiceAgent/internal/app/orch"
	"github.com/dkeye/VoiceAgent/internal/app/sfu"
	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/dkeye/VoiceAgent/internal/grant"
	"github.com/dkeye/VoiceAgent/internal/metrics"
)

const (
	shutdownTimeout = 5 * time.Second
	sweepPeriod     = time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	// Without a secret the server still runs; /token answers 500 and joins
	// are refused.
	var (
		signer   *grant.Signer
		verifier *grant.Verifier
	)
	if cfg.SigningConfigured() {
		if signer, err = grant.NewSigner(cfg.APIKey, cfg.APISecret, grant.WithMaxTTL(cfg.MaxGrantTTL)); err != nil {
			log.Fatal().Err(err).Msg("grant signer")
		}
		if verifier, err = grant.NewVerifier(cfg.APIKey, cfg.APISecret); err != nil {
			log.Fatal().Err(err).Msg("grant verifier")
		}
	} else {
		log.Warn().Msg("api_key/api_secret not set, grant issuance disabled")
	}

	m := metrics.New()
	tokenLimiter := app.NewRateLimiter(cfg.TokenRateLimit, cfg.TokenRateInterval)
	joinLimiter := app.NewRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Relays:   sfu.NewRelayManager(),
		Metrics:  m,
	}
	sig := &signalws.SignalWSController{
		Orch:        o,
		Verifier:    verifier,
		JoinLimiter: joinLimiter,
		Metrics:     m,
		WebRTC:      rtc.WebRTCConfig(cfg.ICEServers),
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Signer:  signer,
		Signal:  sig,
		Limiter: tokenLimiter,
		Metrics: m,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(sweepPeriod)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				tokenLimiter.Sweep()
				joinLimiter.Sweep()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		o.Shutdown("server shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
