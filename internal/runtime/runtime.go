package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linguaflow/lingua-core/internal/bus"
	"github.com/linguaflow/lingua-core/internal/capture"
	"github.com/linguaflow/lingua-core/internal/config"
	"github.com/linguaflow/lingua-core/internal/natsserver"
	"github.com/linguaflow/lingua-core/internal/playback"
	"github.com/linguaflow/lingua-core/internal/protocol"
	"github.com/linguaflow/lingua-core/internal/session"
	"github.com/linguaflow/lingua-core/internal/store"
	"github.com/linguaflow/lingua-core/internal/transcript"
	"github.com/linguaflow/lingua-core/internal/volume"
)

// Runtime assembles the daemon: bus, store, audio path, session manager and
// the control API.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	db         *store.Store
	sink       playback.Sink
	scheduler  *playback.Scheduler
	analyser   *playback.Analyser
	pipeline   *capture.Pipeline
	estimator  *volume.Estimator
	manager    *session.Manager
	tlog       *transcript.Log
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = ns

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.shutdownPartial()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	db, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		r.shutdownPartial()
		return fmt.Errorf("failed to open store: %w", err)
	}
	r.db = db

	if err := r.buildAudioPath(); err != nil {
		r.shutdownPartial()
		return err
	}
	r.buildSession()
	r.applyStoredProfile(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	r.manager.Disconnect()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if err := r.sink.Close(); err != nil {
		r.logger.Error("audio sink close error", slog.String("error", err.Error()))
	}
	if err := r.db.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.natsServer.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// shutdownPartial undoes the pieces Start already brought up when a later
// step fails.
func (r *Runtime) shutdownPartial() {
	if r.db != nil {
		r.db.Close()
	}
	r.busClient.Close()
	r.natsServer.Shutdown()
	if r.tracerClose != nil {
		r.tracerClose(context.Background())
	}
}

func (r *Runtime) buildAudioPath() error {
	var err error
	switch r.cfg.AudioOutput.Mode {
	case "exec":
		r.sink, err = playback.NewExecSink(r.cfg.AudioOutput.Command)
		if err != nil {
			return fmt.Errorf("failed to build audio output: %w", err)
		}
	default:
		r.sink, err = playback.NewOtoSink(r.cfg.AudioOutput.SampleRate, r.cfg.AudioOutput.Channels)
		if err != nil {
			return fmt.Errorf("failed to build audio output: %w", err)
		}
	}

	r.analyser = playback.NewAnalyser(r.cfg.Volume.Window)
	r.scheduler = playback.NewScheduler(playback.NewClock(), r.sink, r.analyser, r.logger)

	var source capture.Source
	switch r.cfg.AudioInput.Mode {
	case "exec":
		source, err = capture.NewExecSource(r.cfg.AudioInput.Command)
		if err != nil {
			return fmt.Errorf("failed to build audio input: %w", err)
		}
	case "wav":
		source = capture.NewWAVSource(r.cfg.AudioInput.Path, r.cfg.AudioInput.SampleRate)
	default:
		source = capture.NewMalgoSource(r.cfg.AudioInput.SampleRate)
	}

	r.estimator = volume.NewEstimator(
		r.analyser.Snapshot,
		func() bool { return r.scheduler.ActiveCount() > 0 },
		r.publishVolume,
		volume.Options{
			Interval: time.Duration(r.cfg.Volume.IntervalMS) * time.Millisecond,
			Window:   r.cfg.Volume.Window,
			Floor:    r.cfg.Volume.Floor,
		},
	)

	r.pipeline = capture.NewPipeline(
		source,
		r.cfg.AudioInput.BlockSize,
		func(b64 string) error { return r.manager.SendAudio(b64) },
		r.estimator.SetInput,
		r.scheduler.AheadOfNow,
		r.logger,
	)
	return nil
}

func (r *Runtime) buildSession() {
	r.tlog = transcript.NewLog()
	r.manager = session.NewManager(session.Options{
		Live:       r.cfg.Live,
		Practice:   r.cfg.Practice,
		OutputRate: r.cfg.AudioOutput.SampleRate,
		Capture:    r.pipeline,
		Player:     r.scheduler,
		Assembler:  transcript.NewAssembler(),
		Log:        r.tlog,
		Recorder:   r.db,
		Publisher:  r.busClient,
		Meter:      r.estimator,
		Logger:     r.logger,
	})
}

// applyStoredProfile restores the learner's saved language settings. A
// missing or corrupt profile falls back to the configured defaults.
func (r *Runtime) applyStoredProfile(ctx context.Context) {
	payload, err := r.db.LoadProfile(ctx)
	if err != nil {
		r.logger.Warn("profile load failed", slog.String("error", err.Error()))
		return
	}
	if len(payload) == 0 {
		return
	}
	var p Profile
	if err := json.Unmarshal(payload, &p); err != nil || p.Language == "" {
		r.logger.Warn("ignoring corrupt stored profile")
		return
	}
	practice := r.manager.Practice()
	practice.Language = p.Language
	if p.Level != "" {
		practice.Level = p.Level
	}
	if p.Topic != "" {
		practice.Topic = p.Topic
	}
	r.manager.SetPractice(practice)
	r.logger.Info("restored practice profile", slog.String("language", p.Language))
}

func (r *Runtime) publishVolume(input, output float64) {
	if err := r.busClient.PublishJSON(protocol.SubjectVolume, protocol.VolumeReading{
		SessionID: r.manager.SessionID(),
		Input:     input,
		Output:    output,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		r.logger.Debug("volume publish failed", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
