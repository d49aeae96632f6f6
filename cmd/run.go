package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Carmen-Shannon/oxy-fluid/config"
	"github.com/Carmen-Shannon/oxy-fluid/engine"
	"github.com/Carmen-Shannon/oxy-fluid/engine/fluid"
	"github.com/Carmen-Shannon/oxy-fluid/engine/frame"
	"github.com/Carmen-Shannon/oxy-fluid/engine/hotload"
	"github.com/Carmen-Shannon/oxy-fluid/engine/profiler"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/sequencer"
	"github.com/Carmen-Shannon/oxy-fluid/engine/swap"
	"github.com/Carmen-Shannon/oxy-fluid/engine/window"
)

// runCmd opens the window and runs the simulation until the window closes
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the window and run the simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prof := profiler.NewProfiler(reg, profiler.WithLogger(logger.Named("profiler")))

	win := window.NewWindow(
		window.WithTitle(cfg.Window.Title),
		window.WithSize(cfg.Window.Width, cfg.Window.Height),
	)
	defer func() { _ = win.Close() }()

	mode := renderer.PresentModeUncapped
	if cfg.Window.VSync {
		mode = renderer.PresentModeVSync
	}
	rend := renderer.NewRenderer(renderer.BackendTypeWGPU, win, renderer.WithPresentMode(mode))
	defer rend.Release()

	cache := hotload.NewCache(rend,
		hotload.WithLogger(logger.Named("hotload")),
		hotload.WithWorkers(cfg.HotReload.Workers),
		hotload.WithReloadObserver(func(_ string, result hotload.ReloadResult) {
			prof.RecordReload(string(result))
		}),
		hotload.WithValidator(fluid.Validator(cfg)),
	)
	// programs are unlinked before the renderer releases the device
	defer cache.Close()

	sim, err := fluid.Build(cfg, cache, swap.NewPool(rend), rend, sequencer.WithLogger(logger.Named("sequencer")))
	if err != nil {
		return err
	}
	logger.Info("simulation ready",
		zap.Int("grid", cfg.Simulation.Grid),
		zap.Int("particles", cfg.Simulation.Particles),
		zap.Int("programs", cache.Len()),
		zap.Stringer("present_mode", mode),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	opts := []engine.EngineBuilderOption{
		engine.WithWindow(win),
		engine.WithPresenter(rend),
		engine.WithSequencer(sim.Sequencer),
		engine.WithProfiler(prof),
		engine.WithLogger(logger.Named("engine")),
		engine.WithState(frame.NewState(win.Width(), win.Height(), cfg.Simulation.TimeStep, cfg.Render.Clear())),
	}

	if cfg.HotReload.Enabled {
		debouncer := hotload.NewDebouncer(cfg.HotReload.Queue)
		watcher, err := hotload.NewWatcher(cache, debouncer, hotload.WithWatcherLogger(logger.Named("watcher")))
		if err != nil {
			return err
		}
		logger.Info("watching shader sources", zap.Strings("dirs", watcher.Dirs()))
		g.Go(func() error {
			return watcher.Run(gctx)
		})
		opts = append(opts, engine.WithHotReload(debouncer, cache))
	}

	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr, reg)
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	eng, err := engine.NewEngine(opts...)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	// The frame loop owns the main thread until the window closes or a background task fails.
	runErr := eng.Run(gctx)
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
