package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	"github.com/ducminhle1904/pyramid-bot/internal/config"
	"github.com/ducminhle1904/pyramid-bot/internal/errors"
	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
	"github.com/ducminhle1904/pyramid-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/pyramid-bot/internal/journal"
	"github.com/ducminhle1904/pyramid-bot/internal/leverage"
	"github.com/ducminhle1904/pyramid-bot/internal/logger"
	"github.com/ducminhle1904/pyramid-bot/internal/margin"
	"github.com/ducminhle1904/pyramid-bot/internal/monitoring"
	"github.com/ducminhle1904/pyramid-bot/internal/notifications"
	"github.com/ducminhle1904/pyramid-bot/internal/pyramid"
	"github.com/ducminhle1904/pyramid-bot/internal/risk"
	"github.com/ducminhle1904/pyramid-bot/internal/state"
	"github.com/ducminhle1904/pyramid-bot/pkg/types"
)

// PyramidBot wires the engine, synchronizer, risk monitor and HTTP
// surfaces together.
type PyramidBot struct {
	config  *config.Config
	gateway exchange.Gateway
	engine  *pyramid.Engine
	sync    *pyramid.Synchronizer
	monitor *risk.Monitor
	store   *state.Store
	journal *journal.Journal
	health  *monitoring.HealthChecker
	log     *logger.Logger

	servers []*http.Server
}

// healthSink feeds confirmed position updates into the health checker.
type healthSink struct {
	health *monitoring.HealthChecker
}

func (s *healthSink) RecordUpdate(types.PositionUpdate) {
	s.health.RecordOrderTime()
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., btc_balanced.json)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		demo       = flag.Bool("demo", true, "Use demo trading environment - paper trading (default: true)")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	// Load environment variables from .env file
	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🚀 Pyramid Bot Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *demo {
		cfg.Exchange.Demo = true
	}

	apiKey, apiSecret, err := apiCredentials()
	if err != nil {
		log.Fatalf("API credentials validation failed: %v", err)
	}

	fileLog, err := logger.NewLogger(cfg.Paths.LogDir, "pyramid_bot")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	gateway := bybit.NewGateway(bybit.Config{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Demo:      cfg.Exchange.Demo,
	}, cfg.Exchange.Category)

	bot, err := newPyramidBot(cfg, gateway, fileLog)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bot.Start(ctx); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\n🛑 Shutdown signal received...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	bot.Shutdown(shutdownCtx)

	fmt.Println("✅ Bot stopped successfully")
}

func newPyramidBot(cfg *config.Config, gateway exchange.Gateway, fileLog *logger.Logger) (*PyramidBot, error) {
	calc := margin.NewCalculator()
	levMgr := leverage.NewManager(cfg.Trading.MinLeverage, cfg.Trading.MaxLeverage, cfg.Trading.VolatilityBound)
	engine := pyramid.NewEngine(gateway, calc, levMgr, cfg.EngineSettings(), fileLog)

	store, err := state.NewStore(cfg.Paths.StateDir, fileLog)
	if err != nil {
		return nil, err
	}
	snaps, err := store.Load()
	if err != nil {
		fileLog.LogError("state load", err)
	} else if len(snaps) > 0 {
		engine.Restore(snaps)
	}
	engine.SetPersister(store.SaveAsync)

	jnl, err := journal.New(cfg.Paths.JournalDir, fileLog)
	if err != nil {
		return nil, err
	}
	engine.AddSink(jnl)

	health := monitoring.NewHealthChecker()
	engine.AddSink(&healthSink{health: health})

	if notifier := buildNotifier(cfg); notifier != nil {
		engine.AddSink(notifications.NewPositionSink(notifier, func(err error) {
			fileLog.LogError("notification", err)
		}))
	}

	return &PyramidBot{
		config:  cfg,
		gateway: gateway,
		engine:  engine,
		sync:    pyramid.NewSynchronizer(engine, cfg.SyncInterval()),
		monitor: risk.NewMonitor(gateway, engine, cfg.RiskSettings(), fileLog),
		store:   store,
		journal: jnl,
		health:  health,
		log:     fileLog,
	}, nil
}

// Start connects to the venue, reconciles once, and launches the
// background loops and HTTP servers.
func (b *PyramidBot) Start(ctx context.Context) error {
	b.printStartupInfo()
	b.printConfiguration()

	if err := b.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to exchange: %w", err)
	}
	b.health.SetConnected(true)
	b.log.Status("Connected to %s", b.gateway.GetName())

	// Initial reconciliation adopts whatever is live before any signal
	// arrives.
	for _, symbol := range b.engine.TrackedSymbols() {
		result, err := b.sync.Reconcile(ctx, symbol)
		if err != nil {
			b.log.LogError("startup sync "+symbol, err)
			continue
		}
		if result.Action != pyramid.SyncInSync {
			b.log.LogPositionSync(symbol, string(result.Action), result.LiveSize, result.LiveEntry)
		}
	}

	go b.sync.Run(ctx)
	go b.monitor.Run(ctx)
	b.startServers()

	fmt.Println("✅ Pyramid Bot started successfully")
	return nil
}

// Shutdown stops the HTTP servers and flushes state to disk.
func (b *PyramidBot) Shutdown(ctx context.Context) {
	for _, srv := range b.servers {
		if err := srv.Shutdown(ctx); err != nil {
			b.log.LogError("server shutdown", err)
		}
	}

	if err := b.store.Save(b.engine.Snapshots()); err != nil {
		b.log.LogError("final state save", err)
	}
	if err := b.journal.Close(); err != nil {
		b.log.LogError("journal close", err)
	}
	if err := b.gateway.Disconnect(); err != nil {
		b.log.LogError("gateway disconnect", err)
	}
	b.health.SetConnected(false)
	b.log.Status("Pyramid bot stopped")
	b.log.Close()
}

func (b *PyramidBot) startServers() {
	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/signal", b.handleSignal)
	b.serve("signal", b.config.Server.SignalPort, signalMux)

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", b.health)
	b.serve("health", b.config.Server.HealthPort, healthMux)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())
	b.serve("metrics", b.config.Server.MetricsPort, metricsMux)
}

func (b *PyramidBot) serve(name string, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	b.servers = append(b.servers, srv)
	go func() {
		log.Printf("Starting %s server on port %d", name, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("%s server error: %v", name, err)
		}
	}()
}

// handleSignal accepts one trading signal as JSON. Dropped signals
// (validation, exposure) return 200 so webhook senders do not retry
// them; exchange failures return 502 and may be retried.
func (b *PyramidBot) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sig types.TradingSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "rejected",
			"reason": fmt.Sprintf("invalid payload: %v", err),
		})
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	b.health.RecordSignalTime()

	err := b.engine.ProcessSignal(r.Context(), &sig)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.IsDroppable(err):
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "dropped",
			"reason": err.Error(),
		})
	default:
		b.health.AddError(err.Error())
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "failed",
			"reason": err.Error(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// printStartupInfo prints initial startup information
func (b *PyramidBot) printStartupInfo() {
	env := "mainnet"
	if b.gateway.IsDemo() {
		env = "demo (paper trading)"
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("BOT INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"📊 Symbols", strings.Join(b.config.Trading.Symbols, ", ")},
		{"🏪 Exchange", b.gateway.GetName()},
		{"🔧 Environment", env},
		{"📡 Signal Port", b.config.Server.SignalPort},
		{"❤️ Health Port", b.config.Server.HealthPort},
		{"📈 Metrics Port", b.config.Server.MetricsPort},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// printConfiguration prints the pyramid strategy parameters
func (b *PyramidBot) printConfiguration() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PYRAMID CONFIGURATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🎛️ Preset", b.config.Trading.Preset},
		{"🪜 Margin Ladder", formatLadder(b.config.Trading.MarginPercentages)},
		{"🚪 Exit Ladder", formatLadder(b.config.Trading.ExitPercentages)},
		{"🏔️ Max Levels", b.config.Trading.MaxPyramidLevels},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"⚖️ Base Leverage", fmt.Sprintf("%.1fx", b.config.Trading.BaseLeverage)},
		{"⚖️ Max Leverage", fmt.Sprintf("%.1fx", b.config.Trading.MaxLeverage)},
		{"🛡️ Max Exposure", fmt.Sprintf("%.0f%%", b.config.Trading.MaxAccountExposure*100)},
		{"📥 Entry Policy", b.config.Trading.EntryPolicy},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"🛑 Stop Loss", fmt.Sprintf("%.1f%% margin", b.config.Risk.StopLossPct)},
		{"📉 Trailing Stop", fmt.Sprintf("%.1f%%", b.config.Risk.TrailingStopPct)},
		{"🔄 Sync Interval", fmt.Sprintf("%ds", b.config.Sync.IntervalSec)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

func formatLadder(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.0f%%", v)
	}
	return strings.Join(parts, " → ")
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}

// apiCredentials reads exchange credentials from the environment.
// Credentials never live in config files.
func apiCredentials() (string, string, error) {
	apiKey := os.Getenv("BYBIT_API_KEY")
	apiSecret := os.Getenv("BYBIT_API_SECRET")
	if apiKey == "" {
		return "", "", fmt.Errorf("BYBIT_API_KEY is required (set in environment or .env)")
	}
	if apiSecret == "" {
		return "", "", fmt.Errorf("BYBIT_API_SECRET is required (set in environment or .env)")
	}
	return apiKey, apiSecret, nil
}

// buildNotifier creates the Telegram notifier when configured. Token and
// chat fall back to the environment.
func buildNotifier(cfg *config.Config) notifications.Notifier {
	if cfg.Notifications == nil || !cfg.Notifications.Enabled {
		return nil
	}
	token := cfg.Notifications.TelegramToken
	if token == "" {
		token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	chat := cfg.Notifications.TelegramChat
	if chat == "" {
		chat = os.Getenv("TELEGRAM_CHAT_ID")
	}
	if token == "" || chat == "" {
		log.Println("Telegram notifications enabled but token/chat missing, skipping")
		return nil
	}
	return notifications.NewTelegramNotifier(token, chat)
}
