package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/face-status-server/internal/config"
	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/metrics"
	"github.com/dj-oyu/face-status-server/internal/pipeline"
	"github.com/dj-oyu/face-status-server/internal/pose"
	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/dj-oyu/face-status-server/internal/recorder"
	"github.com/dj-oyu/face-status-server/internal/server"
	"github.com/dj-oyu/face-status-server/internal/webrtc"
	"github.com/dj-oyu/face-status-server/pkg/types"
)

//go:embed demo.jsonl
var demoScript []byte

var (
	// Command-line flags. Only flags given explicitly override the config.
	configPath   = flag.String("config", "", "YAML config file")
	httpAddr     = flag.String("http", ":8080", "HTTP server address")
	providerKind = flag.String("provider", config.ProviderReplay, "Pose provider (replay, websocket)")
	providerURL  = flag.String("provider-url", "", "Detection service websocket URL")
	replayFile   = flag.String("replay", "", "Replay script (JSON lines); empty plays the built-in demo")
	fps          = flag.Float64("fps", 0, "Synthetic frame rate, 0 disables the synthetic source")
	orientation  = flag.String("orientation", "up", "Orientation of synthetic frames")
	recordPath   = flag.String("record-path", "./recordings", "Recording output path")
	maxClients   = flag.Int("max-clients", 10, "Maximum WebRTC clients")
	stunServers  = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
	logFile      = flag.String("log-file", "", "Also write logs to this rotating file")
)

// Server owns the running components
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cfg    *config.Config

	metrics     *metrics.Metrics
	provider    pose.Provider
	pipeline    *pipeline.Pipeline
	broadcaster *presenter.Broadcaster
	renderer    *presenter.Renderer
	recorder    *recorder.Recorder
	webrtc      *webrtc.Server
	httpServer  *http.Server
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, logger.Output(cfg.Log.File), cfg.Log.Color)

	logger.Info("Main", "Face status server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	srv.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// applyFlags copies explicitly set flags over the loaded config
func applyFlags(cfg *config.Config) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "provider":
			cfg.Provider.Kind = *providerKind
		case "provider-url":
			cfg.Provider.URL = *providerURL
		case "replay":
			cfg.Provider.ReplayFile = *replayFile
		case "fps":
			cfg.Pipeline.FPS = *fps
		case "orientation":
			o, parseErr := types.ParseOrientation(*orientation)
			if parseErr != nil {
				err = parseErr
				return
			}
			cfg.Pipeline.Orientation = o
		case "record-path":
			cfg.Recorder.Path = *recordPath
		case "max-clients":
			cfg.WebRTC.MaxClients = *maxClients
		case "stun":
			cfg.WebRTC.STUN = strings.Split(*stunServers, ",")
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	return err
}

// NewServer wires the components described by cfg
func NewServer(cfg *config.Config) (*Server, error) {
	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	broadcaster := presenter.NewBroadcaster(m)
	renderer := presenter.NewRenderer(75)
	rec := recorder.NewRecorder(cfg.Recorder.Path, m)
	webrtcSrv := webrtc.NewServer(cfg.WebRTC.STUN, cfg.WebRTC.MaxClients, m)

	sink := presenter.Multi{
		&presenter.LogSink{},
		broadcaster,
		renderer,
		rec,
		webrtcSrv,
	}

	p := pipeline.New(provider, sink, m, pipeline.Options{
		QueueSize:     cfg.Pipeline.QueueSize,
		DetectTimeout: cfg.Pipeline.DetectTimeout,
	})

	handler := server.New(server.Options{
		Pipeline:      p,
		Broadcaster:   broadcaster,
		Renderer:      renderer,
		Recorder:      rec,
		WebRTC:        webrtcSrv,
		Metrics:       m,
		MetricsPath:   cfg.Metrics.Path,
		MJPEGInterval: cfg.HTTP.MJPEGInterval,
		KeepAlive:     cfg.Status.Interval,
	}).Handler()

	return &Server{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		metrics:     m,
		provider:    provider,
		pipeline:    p,
		broadcaster: broadcaster,
		renderer:    renderer,
		recorder:    rec,
		webrtc:      webrtcSrv,
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: handler,
			// Streams end when the server context is canceled
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
	}, nil
}

func newProvider(cfg config.ProviderConfig) (pose.Provider, error) {
	switch cfg.Kind {
	case config.ProviderWebSocket:
		wsCfg := pose.DefaultWSConfig(cfg.URL)
		wsCfg.ReadTimeout = cfg.ReadTimeout
		wsCfg.WriteTimeout = cfg.WriteTimeout
		wsCfg.PingInterval = cfg.PingInterval
		return pose.NewWSProvider(wsCfg), nil

	case config.ProviderReplay:
		if cfg.ReplayFile == "" {
			return pose.NewReplayProvider(bytes.NewReader(demoScript))
		}
		return pose.LoadReplay(cfg.ReplayFile)
	}
	return nil, fmt.Errorf("unknown pose provider %q", cfg.Kind)
}

// Start starts all server components
func (s *Server) Start() {
	logger.Info("Main", "  HTTP server: %s", s.cfg.HTTP.Addr)
	logger.Info("Main", "  Metrics: %s", s.cfg.Metrics.Path)
	logger.Info("Main", "  Pose provider: %s", s.cfg.Provider.Kind)
	logger.Info("Main", "  Recording path: %s", s.cfg.Recorder.Path)

	if ws, ok := s.provider.(*pose.WSProvider); ok {
		// Detect reconnects lazily, so a failure here is not fatal
		go func() {
			if err := ws.Connect(s.ctx); err != nil {
				logger.Warn("Main", "Detection service unavailable: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.HTTP.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pipeline.Run(s.ctx); err != nil {
			logger.Error("Main", "Pipeline stopped: %v", err)
		}
	}()

	if s.cfg.Pipeline.FPS > 0 {
		source := pipeline.SyntheticSource{
			FPS:         s.cfg.Pipeline.FPS,
			Width:       s.cfg.Pipeline.Width,
			Height:      s.cfg.Pipeline.Height,
			Orientation: s.cfg.Pipeline.Orientation,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := source.Run(s.ctx, s.pipeline); err != nil {
				logger.Error("Main", "Synthetic source stopped: %v", err)
			}
		}()
	}

	logger.Info("Main", "Server started successfully")
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	// Cancel context to stop goroutines and open streams
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpErr := s.httpServer.Shutdown(ctx)

	s.wg.Wait()

	var errs []error
	if httpErr != nil {
		errs = append(errs, fmt.Errorf("http: %w", httpErr))
	}
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	if err := s.webrtc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("webrtc: %w", err))
	}
	if closer, ok := s.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider: %w", err))
		}
	}

	logger.Info("Main", "Processed %d frames (%d faces, %d detect errors)",
		s.metrics.FramesProcessed.Load(), s.metrics.FacesDetected.Load(), s.metrics.DetectErrors.Load())
	return errors.Join(errs...)
}
