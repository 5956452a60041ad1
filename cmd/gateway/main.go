// File: cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nowpayments-gateway/internal/config"
	"nowpayments-gateway/internal/domain/ports/adapter"
	payAdapters "nowpayments-gateway/internal/infra/adapters/payment"
	"nowpayments-gateway/internal/infra/api"
	"nowpayments-gateway/internal/infra/logging"
	"nowpayments-gateway/internal/infra/metrics"
	red "nowpayments-gateway/internal/infra/redis"
	"nowpayments-gateway/internal/infra/scheduler"
	"nowpayments-gateway/internal/usecase"
)

// set via -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no redaction)")
	noopGateway := flag.Bool("noop-gateway", false, "use the in-memory gateway instead of NOWPayments")
	issueToken := flag.String("issue-token", "", "print an operator JWT for the given subject and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	var auth *api.AuthManager
	if cfg.Auth.JWTSecret != "" {
		auth = api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}
	if *issueToken != "" {
		if auth == nil {
			log.Fatalf("auth.jwt_secret is required to issue tokens")
		}
		tok, err := auth.Issue(*issueToken)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}
	if auth == nil {
		logger.Warn().Msg("auth.jwt_secret not set; /api/v1 routes will answer 403")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Payment gateway ----
	var gw adapter.PaymentGateway
	if *noopGateway {
		gw = payAdapters.NewNoopPaymentGateway(0)
		logger.Warn().Msg("using in-memory noop payment gateway")
	} else {
		np, err := payAdapters.NewNowPaymentsGateway(cfg.Payment.NowPayments, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nowpayments gateway")
		}
		gw = np
	}
	logger.Info().
		Str("gateway", gw.Name()).
		Str("base_url", cfg.Payment.NowPayments.BaseURL).
		Str("api_key", logging.Redact(cfg.Payment.NowPayments.APIKey, cfg.Runtime.Dev)).
		Msg("payment gateway ready")

	// ---- Redis (optional min-amount cache) ----
	var cache adapter.MinAmountCache
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		cache = red.NewMinAmountCache(redisClient, cfg.Redis.TTL)
		logger.Info().Dur("ttl", cfg.Redis.TTL).Msg("min amount cache enabled")
	}

	// ---- Use cases ----
	paymentUC := usecase.NewPaymentUseCase(gw, cache, usecase.PaymentOptions{
		EnforceMinAmount: cfg.Payment.EnforceMinAmount,
		Dev:              cfg.Runtime.Dev,
	}, logger)

	// ---- Min-amount cache warmer ----
	if cache != nil && cfg.Payment.MinAmountRefresh > 0 {
		warmer := scheduler.NewScheduler("min_amount_refresh", cfg.Payment.MinAmountRefresh, cfg.Payment.NowPayments.Timeout,
			func(ctx context.Context) error {
				_, err := paymentUC.RefreshMinimumAmount(ctx)
				return err
			}, logger)
		warmer.Start(ctx, true)
		defer warmer.Stop()
	}

	// ---- HTTP server ----
	np := cfg.Payment.NowPayments
	srv := api.NewServer(paymentUC, auth, api.Options{
		IPNPath:        config.PathOf(np.IPNCallbackURL, "/nowpayments/callback"),
		PayoutIPNPath:  config.PathOf(np.PayoutCallbackURL, "/nowpayments/payout-callback"),
		SuccessPath:    config.PathOf(np.SuccessURL, "/deposit/success"),
		CancelPath:     config.PathOf(np.CancelURL, "/deposit/cancel"),
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
		os.Exit(1)
	}
}
