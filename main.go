package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradedesk/internal/api"
	"tradedesk/internal/engine"
	"tradedesk/internal/events"
	"tradedesk/internal/execution"
	"tradedesk/internal/notify"
	"tradedesk/internal/portfolio"
	"tradedesk/internal/risk"
	"tradedesk/internal/session"
	"tradedesk/internal/store"
	"tradedesk/internal/strategy"
	"tradedesk/pkg/broker"
	"tradedesk/pkg/broker/fyers"
	"tradedesk/pkg/config"
)

var buildVersion = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	trading, err := config.LoadTrading(cfg.TradingFile)
	if err != nil {
		log.Fatalf("trading config failed: %v", err)
	}
	if cfg.OperatorPassword == "" {
		log.Fatal("OPERATOR_PASSWORD is required")
	}

	log.Printf("starting tradedesk (symbol=%s, port=%s)", cfg.Symbol, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	var bk broker.Broker
	if cfg.UseSimBroker {
		log.Printf("using simulated broker (start price %.2f)", cfg.SimStartPrice)
		bk = broker.NewSim(cfg.SimStartPrice)
	} else {
		bk = fyers.New(fyers.Config{
			BaseURL:   cfg.FyersBaseURL,
			ClientID:  cfg.FyersClientID,
			TokenFile: cfg.FyersTokenFile,
		})
	}

	clock, err := session.New(trading.SessionOpen, trading.SessionClose,
		trading.EntryCutoff, trading.SquareOff)
	if err != nil {
		log.Fatalf("session config invalid: %v", err)
	}

	gate := risk.NewGate(risk.Config{
		Capital:        cfg.Capital,
		RiskPerTrade:   trading.RiskPerTrade,
		MaxDailyTrades: trading.MaxDailyTrades,
		MaxDailyLosses: trading.MaxDailyLosses,
	}, clock)

	breaker := execution.NewBreaker(trading.BreakerThreshold,
		time.Duration(trading.BreakerCooldownSec)*time.Second)
	router := execution.NewRouter(bk, breaker, execution.Config{
		MaxRetries:  trading.MaxRetries,
		BackoffBase: time.Duration(trading.BackoffBaseMs) * time.Millisecond,
	})

	// Persistence: restore yesterday's ledger and same-day counters before
	// the engine starts ticking.
	now := time.Now()
	pf := portfolio.New(now)

	startMode := execution.ModePaper
	if cfg.StartLive {
		startMode = execution.ModeLive
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()

	mode, err := st.Restore(ctx, pf, now, startMode)
	if err != nil {
		log.Fatalf("state restore failed: %v", err)
	}
	if mode == execution.ModeLive && !bk.IsAuthenticated(ctx) {
		log.Printf("restored LIVE mode but broker auth is invalid, falling back to PAPER")
		mode = execution.ModePaper
	}
	log.Printf("mode=%s capital=%.0f risk=%.2f%%", mode, cfg.Capital, trading.RiskPerTrade*100)

	eng := engine.New(
		engine.Config{
			Symbol:          cfg.Symbol,
			TickInterval:    trading.TickInterval(),
			ApprovalTimeout: trading.ApprovalTimeout(),
		},
		mode, pf, bk,
		strategy.NewSupertrend(10, 3),
		strategy.Levels{StopOffset: trading.StopOffset, TargetOffset: trading.TargetOffset},
		gate, clock, router, bus,
	)

	go st.Watch(ctx, bus, eng)

	if tg := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID); tg != nil {
		log.Printf("telegram notifications enabled")
		go tg.Watch(ctx, bus)
	}

	eng.Start(ctx)

	server, err := api.NewServer(eng, bus, cfg.JWTSecret, cfg.OperatorUser, cfg.OperatorPassword,
		api.Meta{Symbol: cfg.Symbol, Version: buildVersion})
	if err != nil {
		log.Fatalf("api server init failed: %v", err)
	}
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	// Final snapshot so counters and mode survive the restart.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := st.SaveSnapshot(shutdownCtx, eng.Snapshot()); err != nil {
		log.Printf("final snapshot failed: %v", err)
	}
	cancel()
}
