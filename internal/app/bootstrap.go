package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/engine"
	"orderflow_go/internal/event"
	"orderflow_go/internal/infra"
	"orderflow_go/internal/infra/bridge"
	"orderflow_go/internal/infra/hub"
	"orderflow_go/internal/infra/replay"
	"orderflow_go/internal/infra/storage"
	"orderflow_go/internal/service"
	"orderflow_go/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "orderflow"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config    *infra.Config
	Logger    *slog.Logger
	Metrics   *infra.Metrics
	Registry  *prometheus.Registry
	Catalog   *storage.Catalog
	Store     *service.Store
	Sequencer *engine.Sequencer
	Hub       *hub.Hub
	Bridge    *bridge.Worker // nil without feed.url
	Replay    *replay.Player // nil without feed.replay_file
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads configuration and builds every component. Nothing runs
// until Run.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith builds every component from an already loaded configuration.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	b.Config = cfg

	// 2. Setup Logger
	if b.Logger == nil {
		b.Logger = infra.NewLogger(cfg)
		slog.SetDefault(b.Logger)
	}
	log := b.Logger
	log.Info("bootstrapping", slog.String("config", b.ConfigPath))

	// 3. Metrics
	if b.Metrics == nil {
		b.Metrics = infra.GlobalMetrics
	}
	reg, err := infra.NewRegistry(b.Metrics, metricsNamespace)
	if err != nil {
		return fmt.Errorf("metrics registry: %w", err)
	}
	b.Registry = reg

	// 4. Instrument catalog
	catalog, err := storage.NewCatalog(cfg.Storage.Path, log)
	if err != nil {
		return err
	}
	if err := catalog.SeedInstruments(cfg.Feed.Instruments); err != nil {
		catalog.Close()
		return fmt.Errorf("seed instruments: %w", err)
	}
	b.Catalog = catalog
	log.Info("catalog ready", slog.Int("instruments", len(catalog.ListKnownInstruments())))

	// 5. Pipeline: detectors -> signal engine -> processor -> store
	detectors, err := strategy.DefaultRegistry().Build(cfg.Signals.Enabled, thresholds(cfg.Signals.Thresholds))
	if err != nil {
		catalog.Close()
		return &domain.ConfigError{Field: "signals.enabled", Err: err}
	}
	signals := strategy.NewEngine(signalConfig(cfg.Signals), detectors, log)
	proc := engine.NewProcessor(engineConfig(cfg.Engine), signals, b.Metrics, log)

	b.Store = service.NewStore(proc, service.Options{
		Catalog:         catalog,
		Preferences:     catalog,
		IcebergLifetime: cfg.Signals.IcebergLifetime,
		Metrics:         b.Metrics,
		Logger:          log,
	})
	if key, ok, err := catalog.LoadPreference(domain.PrefSelectedInstrument); err != nil {
		log.Warn("failed to load saved selection", slog.Any("error", err))
	} else if ok {
		b.Store.RestoreSelection(key)
	}

	// 6. Single writer
	event.Warmup()
	b.Sequencer = engine.NewSequencer(cfg.Feed.InboxSize, b.Store, cfg.App.DumpPath, b.Metrics, log)

	// 7. Presentation hub
	b.Hub = hub.NewHub(b.Sequencer, log)

	// 8. Feed sources
	var sink domain.FrameSink = b.Sequencer
	if cfg.Feed.ReplayFile != "" {
		frames, err := replay.Load(cfg.Feed.ReplayFile)
		if err != nil {
			catalog.Close()
			return &domain.ConfigError{Field: "feed.replay_file", Err: err}
		}
		b.Replay = replay.NewPlayer(frames, cfg.Feed.ReplaySpeed, b.Sequencer, log)
	}
	if cfg.Feed.URL != "" {
		ls := &liveSwitch{FrameSink: sink, replay: b.Replay, logger: log}
		b.Bridge = bridge.NewWorker(bridge.Config{
			URL:          cfg.Feed.URL,
			Token:        cfg.Feed.Token,
			Instruments:  cfg.Feed.Instruments,
			ReconnectMin: cfg.Feed.ReconnectMin,
			ReconnectMax: cfg.Feed.ReconnectMax,
		}, ls, b.Metrics, log)
		ls.bridge = b.Bridge
	}

	log.Info("bootstrap complete",
		slog.Any("detectors", signals.Detectors()),
		slog.Bool("live", b.Bridge != nil),
		slog.Bool("replay", b.Replay != nil))
	return nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	log := b.Logger
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Sequencer.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := b.Hub.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	unsubscribe := b.Store.Subscribe(b.Hub.Broadcast)
	defer unsubscribe()

	if b.Bridge != nil {
		subs := newSubscriptionSync(b.Bridge, b.Config.Feed.Instruments, log)
		unsubSync := b.Store.Subscribe(subs.Observe)
		defer unsubSync()
		g.Go(func() error {
			subs.Run(ctx)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              b.Config.Server.Addr,
		Handler:           b.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if b.Replay != nil {
		if err := b.Replay.Connect(ctx); err != nil {
			log.Warn("replay not started", slog.Any("error", err))
		} else {
			defer b.Replay.Disconnect()
		}
	}
	if b.Bridge != nil {
		if err := b.Bridge.Connect(ctx); err != nil {
			log.Error("failed to connect bridge", slog.Any("error", err))
		} else {
			defer b.Bridge.Disconnect()
		}
	}

	log.Info("orderflow pipeline operational")
	err := g.Wait()

	if cerr := b.Catalog.Close(); cerr != nil {
		log.Warn("catalog close failed", slog.Any("error", cerr))
	}
	return err
}

// Routes returns the HTTP surface: websocket hub, metrics and a JSON snapshot.
func (b *Bootstrap) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(b.Config.Server.WSPath, b.Hub.HandleWS)
	mux.Handle(b.Config.Server.MetricsPath, promhttp.HandlerFor(b.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     b.Store.Status(),
			"clients":    b.Hub.ClientCount(),
			"live":       b.Bridge != nil && b.Bridge.IsConnected(),
			"replaying":  b.Replay != nil && b.Replay.IsConnected(),
			"checked_at": time.Now().UTC(),
		})
	})
	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.Store.Snapshot())
	})
	mux.HandleFunc("/api/instruments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.Store.Instruments())
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		st, ok := b.Store.State(key)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": domain.ErrUnknownInstrument.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// liveSwitch pauses replay while the relay reports CONNECTED and asks for
// fresh quotes whenever a live session starts.
type liveSwitch struct {
	domain.FrameSink
	replay *replay.Player
	bridge *bridge.Worker
	logger *slog.Logger
}

func (l *liveSwitch) SubmitStatus(st domain.ConnectionStatus) {
	if l.replay != nil {
		l.replay.SetLive(st == domain.StatusConnected)
	}
	if st == domain.StatusConnected && l.bridge != nil {
		if err := l.bridge.RequestQuotes(l.bridge.Instruments()); err != nil {
			l.logger.Warn("quote request failed", slog.Any("error", err))
		}
	}
	l.FrameSink.SubmitStatus(st)
}

func engineConfig(c infra.EngineConfig) engine.Config {
	return engine.Config{
		Footprint: engine.FootprintParams{
			RotationVolume:  c.RotationVolume,
			DepthNormalizer: c.DepthNormalizer,
			ImbalanceRatio:  c.ImbalanceRatio,
			MaxBars:         c.MaxBars,
		},
		MaxTrades:         c.MaxTrades,
		ValueAreaFraction: c.ValueAreaFraction,
		ProfileLookback:   c.ProfileLookback,
	}
}

func signalConfig(c infra.SignalsConfig) strategy.Config {
	return strategy.Config{
		RiskReward:      c.RiskReward,
		StopTicks:       c.StopTicks,
		Expiry:          c.Expiry,
		HistoryCap:      c.HistoryCap,
		Cooldown:        c.Cooldown,
		IcebergLifetime: c.IcebergLifetime,
	}
}

func thresholds(c infra.ThresholdsConfig) strategy.Thresholds {
	return strategy.Thresholds{
		DivergenceMinCVD:    c.DivergenceMinCVD,
		IcebergMinSize:      c.IcebergMinSize,
		AbsorptionMinVolume: c.AbsorptionMinVolume,
		MomentumMinDelta:    c.MomentumMinDelta,
		ValueAreaMinVolume:  c.ValueAreaMinVolume,
		SkewRatio:           c.SkewRatio,
		SkewMinSize:         c.SkewMinSize,
		AlignmentMinDelta:   c.AlignmentMinDelta,
	}
}
