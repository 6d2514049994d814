package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-reader/internal/archive"
	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/control"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/input"
	"github.com/loqalabs/loqa-reader/internal/natsserver"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/status"
)

const (
	shutdownTimeout = 10 * time.Second
	eventRetention  = 7 * 24 * time.Hour
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	addr       atomic.Value
	wg         sync.WaitGroup

	bus       *bus.Client
	control   *control.Service
	heartbeat *status.Heartbeat
	reporter  *status.Reporter

	closers []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr returns the HTTP listen address once the runtime is started.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

func (r *Runtime) Ready() bool {
	return r.ready.Load() && r.bus.Healthy() && r.control.Healthy()
}

// Start wires every component, serves HTTP and blocks until ctx is done.
// Components are torn down in reverse order of construction.
func (r *Runtime) Start(ctx context.Context) error {
	defer r.teardown()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.onClose(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.onClose(func() { _ = store.Close() })

	// Workers run under their own contexts and stop only after the control
	// surface is closed: pipeline first, then the sink, then the journal.
	recorder := eventstore.NewRecorder(store, r.logger)
	r.runWorker(recorder.Run, recorder.Done())

	device, err := newDevice(r.cfg.Playback, r.logger)
	if err != nil {
		return err
	}
	sink := playback.NewSink(device, playback.Options{
		PollInterval: time.Duration(r.cfg.Playback.PollIntervalMS) * time.Millisecond,
	}, r.logger)
	r.runWorker(sink.Run, sink.Done())

	deps := pipeline.Deps{
		Cleaner: newSanitizer(r.cfg.Sanitizer),
		Synth:   newSynthesizer(ctx, r.cfg.Engine, r.logger),
		Sink:    sink,
	}
	if r.cfg.Archive.Enabled {
		archiver, err := archive.New(archive.OptionsFromConfig(r.cfg.Archive), r.logger)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		deps.Archiver = archiver
	}
	pipe := pipeline.New(deps, pipeline.Options{
		PostPause: time.Duration(r.cfg.Pipeline.PostPause * float64(time.Second)),
	}, r.logger)
	pipe.AddObserver(recorder)
	pipe.AddObserver(control.NewEventPublisher(r.bus, r.logger))
	r.runWorker(pipe.Run, pipe.Done())

	r.reporter = status.NewReporter(r.cfg.Node.ID, pipe, sink)
	r.heartbeat = status.NewHeartbeat(ctx, r.cfg.Node, r.bus, r.reporter, r.logger)
	r.onClose(r.heartbeat.Close)

	r.control = control.NewService(ctx, r.bus, pipe, r.reporter, store, r.logger)
	if err := r.control.Start(); err != nil {
		return fmt.Errorf("start control service: %w", err)
	}
	r.onClose(r.control.Close)

	if err := r.startInputs(ctx, pipe); err != nil {
		return err
	}

	if err := r.startHTTP(tel.MetricsHandler()); err != nil {
		return err
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", r.Addr()), slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	if ns != nil {
		r.onClose(ns.Shutdown)
		busCfg.Servers = []string{ns.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	r.onClose(client.Close)

	if err := client.EnsureStream(protocol.StreamEvents, []string{protocol.SubjectEventPrefix + ".>"}, eventRetention); err != nil {
		// External servers without JetStream still carry core NATS traffic.
		r.logger.Warn("event stream unavailable", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) startInputs(ctx context.Context, pipe *pipeline.Pipeline) error {
	clip := r.cfg.Input.Clipboard
	if clip.Enabled {
		reader, err := input.NewCommandReader(clip.Command)
		if err != nil {
			return err
		}
		watcher := input.NewWatcher(reader, pipe, input.WatcherOptions{
			PollInterval: time.Duration(clip.PollIntervalMS) * time.Millisecond,
			StopCommand:  clip.StopCommand,
		}, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			watcher.Run(ctx)
		}()
		r.onClose(r.wg.Wait)
	}

	if r.cfg.Hotkeys.Enabled {
		hk := input.StartHotkeys(ctx, hotkeyBindings(r.cfg.Hotkeys, pipe), r.logger)
		r.onClose(hk.Close)
	}
	return nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.addr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.onClose(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		<-done
	})
	return nil
}

// runWorker starts run on a fresh context and registers a closer that
// cancels it and waits for done.
func (r *Runtime) runWorker(run func(context.Context), done <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	go run(ctx)
	r.onClose(func() {
		cancel()
		<-done
	})
}

func (r *Runtime) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *Runtime) teardown() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.reporter.Report())
}
