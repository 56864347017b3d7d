package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optionsdesk/terminal/internal/activity"
	"github.com/optionsdesk/terminal/internal/adapters/inbound/ui_api"
	"github.com/optionsdesk/terminal/internal/adapters/outbound/broker_http"
	"github.com/optionsdesk/terminal/internal/config"
	"github.com/optionsdesk/terminal/internal/events"
	"github.com/optionsdesk/terminal/internal/fanout"
	"github.com/optionsdesk/terminal/internal/history"
	"github.com/optionsdesk/terminal/internal/orders"
	"github.com/optionsdesk/terminal/internal/poll"
	"github.com/optionsdesk/terminal/internal/streams"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting terminal")

	bus := events.NewBus()

	// ── Order lifecycle ─────────────────────────────────────────
	registry := orders.NewRegistry(bus, orders.Tuning{
		MarketPendingTimeout: cfg.MarketPendingTimeout,
		MaxPendingTime:       cfg.SentStuckWarn,
	})
	reconciler := orders.NewReconciler(registry)

	// ── Broker client + polling streams ─────────────────────────
	client := broker_http.NewClient(cfg.BrokerBaseURL)

	streamsCfg, err := config.LoadStreams(cfg.StreamsConfigPath)
	if err != nil {
		telemetry.Warnf("Streams config: %v (using defaults)", err)
	}

	act := activity.NewTracker(cfg.IdleThreshold)
	sel := streams.NewChainSelection("NIFTY", "NFO", 10)

	chainTuning := streamsCfg.Tuning(streams.StreamOptionChain)
	bookTuning := streamsCfg.Tuning(streams.StreamOrderBook)
	pfTuning := streamsCfg.Tuning(streams.StreamPortfolio)
	idxTuning := streamsCfg.Tuning(streams.StreamIndexQuotes)

	chain := streams.NewOptionChain(client, bus, sel, act, chainTuning)
	book := streams.NewOrderBook(client, bus, reconciler, bookTuning)
	portfolio := streams.NewPortfolio(client, bus, pfTuning)
	indexes := streams.NewIndexQuotes(client, bus, idxTuning)

	// ── Heartbeat ───────────────────────────────────────────────
	hb := poll.NewHeartbeat(cfg.HeartbeatInterval)
	chainReg := hb.Register(chain, chainTuning.Interval())
	bookReg := hb.Register(book, bookTuning.Interval())
	pfReg := hb.Register(portfolio, pfTuning.Interval())
	idxReg := hb.Register(indexes, idxTuning.Interval())

	// The chain is the terminal's main view and polls from startup. The
	// rest follow their UI views: a stream runs only while at least one
	// client subscribes to its channel.
	chainReg.SetOpen(true)

	// ── Fanout ──────────────────────────────────────────────────
	fan := fanout.NewServer(bus)
	gated := map[string]poll.Registration{
		fanout.ChannelOrders:    bookReg,
		fanout.ChannelPortfolio: pfReg,
		fanout.ChannelIndexes:   idxReg,
	}
	fan.OnChannelChange = func(channel string, subscribers int) {
		if reg, ok := gated[channel]; ok {
			reg.SetOpen(subscribers > 0)
		}
	}

	// ── Order history journal ───────────────────────────────────
	journal, err := history.Open(cfg.HistoryDBPath, cfg.HistoryMaxRows)
	if err != nil {
		telemetry.Warnf("History journal disabled: %v", err)
		journal = nil
	} else {
		journal.Attach(bus)
	}

	// ── HTTP server: UI command API + WebSocket fanout ──────────
	placer := streams.NewPlacer(client, registry)
	ui := ui_api.NewHandler(placer, registry, sel, act, hb, journal)

	mux := http.NewServeMux()
	ui.RegisterRoutes(mux)
	mux.HandleFunc("/ws", fan.HandleWS)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Errorf("HTTP server: %v", err)
			os.Exit(1)
		}
	}()
	telemetry.Infof("Listening on %q  broker=%s", addr, cfg.BrokerBaseURL)

	hb.Start()

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")
	hb.Stop()
	chain.Stop()
	book.Stop()
	portfolio.Stop()
	indexes.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	registry.Close()
	if journal != nil {
		journal.Close()
	}

	telemetry.Infof("Shutdown complete  cycles=%d  superseded=%d  stale=%d  retries=%d  watchdog=%d  orders=%d  reconciled=%d",
		telemetry.Metrics.CyclesStarted.Value(),
		telemetry.Metrics.CyclesSuperseded.Value(),
		telemetry.Metrics.StaleResponses.Value(),
		telemetry.Metrics.FetchRetries.Value(),
		telemetry.Metrics.WatchdogResets.Value(),
		telemetry.Metrics.OrdersCreated.Value(),
		telemetry.Metrics.ReconcileUpdates.Value(),
	)
}
