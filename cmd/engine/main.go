// Command engine is the live composition root for the position protection
// engine: it wires configuration, durable storage, the rate-limit budget,
// the exchange client (real or demo), the candle stream, the indicator/
// signal pipeline, and the position lifecycle manager into one running
// process with a bounded graceful-shutdown window.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	stdsignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/cfg"
	"positionguard/internal/exchange"
	"positionguard/internal/ingest"
	"positionguard/internal/metrics"
	"positionguard/internal/position"
	"positionguard/internal/ratelimit"
	"positionguard/internal/retryqueue"
	"positionguard/internal/storage"
	"positionguard/internal/trailing"
)

const defaultTimeframe = "5m"

func main() {
	settings, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	mw := metrics.NewWrapper(m)

	var store *storage.Store
	if settings.System.DataPath != "" {
		store, err = storage.New(settings.System.DataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("storage initialization failed")
		}
		defer store.Close()
	} else {
		log.Fatal().Msg("system.dataPath must be set: positions and the retry queue require durable storage")
	}

	budget := ratelimit.New(settings.RateLimitConfig())

	var ex exchange.Exchange
	var demo *exchange.DemoClient
	if settings.System.DemoMode {
		demo = exchange.NewDemoClient(decimal.NewFromInt(10000))
		demo.SetCosts(decimal.NewFromFloat(settings.Trading.TakerFee), decimal.NewFromFloat(settings.Trading.SlippageBufferPercent))
		ex = demo
	} else {
		ex = exchange.New(settings.Key, settings.Secret, settings.System.BaseURL, settings.RequestTimeout(), budget, mw)
	}

	retryCfg := retryqueue.DefaultConfig()
	retryCfg.MaxRetries = settings.API.RetryAttempts
	retryCfg.BackoffBase = settings.RetryDelay()
	retryQueue := retryqueue.New(store, storage.RetryQueueBucketName, retryCfg, func(e retryqueue.Entry, err error) {
		log.Error().Str("operation", string(e.Operation)).Err(err).Msg("retry queue entry dead-lettered")
		mw.RetryQueueDeadLetter().Inc()
	})
	retryQueue.OnDepthChange(func(depth int) { m.RetryQueueDepth.Set(float64(depth)) })

	mgrCfg := position.Config{
		InitialSLROI:             decimal.NewFromFloat(settings.Trading.InitialSLROI),
		InitialTPROI:             decimal.NewFromFloat(settings.Trading.InitialTPROI),
		PositionSizePercent:      decimal.NewFromFloat(settings.Trading.PositionSizePercent),
		DefaultLeverage:          settings.Trading.DefaultLeverage,
		MaxPositions:             settings.Trading.MaxPositions,
		MakerFee:                 decimal.NewFromFloat(settings.Trading.MakerFee),
		TakerFee:                 decimal.NewFromFloat(settings.Trading.TakerFee),
		MaintenanceMarginPercent: decimal.NewFromFloat(settings.Trading.MaintenanceMarginPercent),
		SlippageBufferPercent:    decimal.NewFromFloat(settings.Trading.SlippageBufferPercent),
		DailyLossLimitPercent:    decimal.NewFromFloat(settings.Trading.DailyLossLimitPercent),
		MaxDrawdownPercent:       decimal.NewFromFloat(settings.Trading.MaxDrawdownPercent),
		Trailing: trailing.Config{
			BreakEvenBuffer:     decimal.NewFromFloat(settings.Trading.BreakEvenBuffer),
			TrailingStepPercent: decimal.NewFromFloat(settings.Trading.TrailingStepPercent),
			TrailingMovePercent: decimal.NewFromFloat(settings.Trading.TrailingMovePercent),
			Mode:                trailing.Mode(settings.Trading.TrailingMode),
		},
	}
	mgr := position.NewManager(ctx, mgrCfg, ex, store, mw, retryQueue)
	if err := mgr.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed, continuing with an empty position set")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		budget.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := budget.Snapshot()
				mw.RateLimitTokens().Set(snap.TokensAvailable)
				mw.RateLimitUtilization().Set(snap.UtilizationTarget)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		const probe = 100 * time.Millisecond
		ticker := time.NewTicker(probe)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				lag := now.Sub(last) - probe
				if lag < 0 {
					lag = 0
				}
				mw.EventLoopLagMs().Observe(float64(lag.Milliseconds()))
				last = now
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		retryQueue.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: fmt.Sprintf(":%d", settings.System.MetricsPort), Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	engine := newSymbolEngine(settings, ex, demo, mgr, mw)
	engine.warmUp(ctx)

	candles := make(chan ingest.Candle, 1024)
	ws := ingest.NewClient(settings.System.WsURL, mw)
	subs := make([]ingest.Subscription, 0, len(settings.System.Symbols))
	for _, s := range settings.System.Symbols {
		subs = append(subs, ingest.Subscription{Symbol: s, Timeframe: defaultTimeframe})
	}

	if !settings.System.DemoMode && len(subs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingInterval := time.Duration(settings.System.PingInterval) * time.Second
			if err := ws.Stream(ctx, subs, 512, pingInterval, candles); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("candle stream ended")
			}
		}()
	} else if settings.System.DemoMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDemoFeed(ctx, ex, settings.System.Symbols, candles)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-candles:
				if !c.Closed {
					continue
				}
				mw.CandlesReceived().Inc()
				engine.onCandle(ctx, c)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := mgr.Reconcile(ctx); err != nil {
					log.Error().Err(err).Msg("periodic reconciliation failed")
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	stdsignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context cancelled")
	}

	log.Info().Msg("shutting down gracefully")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
