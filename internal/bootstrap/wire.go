package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nori/internal/audio"
	"nori/internal/config"
	"nori/internal/correct"
	"nori/internal/detect"
	"nori/internal/domain"
	"nori/internal/identity"
	"nori/internal/logging"
	"nori/internal/observe"
	"nori/internal/ports"
	"nori/internal/providers/answerapi"
	"nori/internal/providers/deepgram"
	"nori/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config   config.Config
	Logger   *zap.Logger
	Identity identity.Identity
	Strategy domain.CaptureStrategy
	Input    *usecase.InputField
	Voice    *usecase.VoiceController
	Chat     *usecase.ChatSession
	Service  *answerapi.Client

	closers []func(context.Context) error
}

// Close waits for background feedback deliveries and releases resources.
func (s *Services) Close(ctx context.Context) error {
	if s.Chat != nil {
		s.Chat.Wait()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the client environment env.
func Build(ctx context.Context, events ports.EventSink, env domain.Environment) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, FilePath: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: logger: %w", err)
	}

	services := &Services{Config: cfg, Logger: logger}
	fail := func(err error) (*Services, error) {
		_ = services.Close(context.Background())
		return nil, err
	}

	metrics := services.initMetrics(cfg.Metrics)

	dictionary, err := loadDictionary(cfg.Corrections)
	if err != nil {
		return fail(err)
	}

	id, err := services.resolveIdentity(ctx, cfg.Identity)
	if err != nil {
		// The widget stays usable; the session just does not survive a restart.
		logger.Warn("identity store unavailable, using an ephemeral session", zap.Error(err))
		id = identity.Identity{SessionID: uuid.NewString()}
	}
	services.Identity = id

	client := answerapi.NewClient(answerapi.Config{
		BaseURL:        cfg.Service.BaseURL,
		AskPath:        cfg.Service.AskPath,
		FeedbackPath:   cfg.Service.FeedbackPath,
		TranscribePath: cfg.Service.TranscribePath,
		HealthPath:     cfg.Service.HealthPath,
		Timeout:        cfg.Service.RequestTimeout,
	})
	services.Service = client

	strategy := detect.NewDetector(cfg.Capture.DenyList).Detect(env)
	if strategy == domain.StrategyLive && strings.TrimSpace(cfg.Deepgram.APIKey) == "" {
		logger.Info("no streaming recognizer key configured, falling back to record-upload")
		strategy = domain.StrategyRecordUpload
	}
	services.Strategy = strategy

	capture := audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand)
	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	input := usecase.NewInputField(events)
	services.Input = input

	services.Voice = usecase.NewVoiceController(strategy, usecase.VoiceDeps{
		Capture:    capture,
		Microphone: capture,
		Recognizer: deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Capture.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}),
		Transcriber: client,
		Corrector:   dictionary,
		Input:       input,
		Events:      events,
		Logger:      logger,
		Metrics:     metrics,
	}, usecase.VoiceConfig{
		Live: usecase.LiveConfig{
			Audio: audioCfg,
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				Language:       cfg.Capture.Language,
				InterimResults: true,
			},
			ChunkSize:      cfg.Audio.ChunkSize,
			StreamingGrace: cfg.Capture.StreamingGrace,
		},
		Upload: usecase.UploadConfig{
			Audio:     audioCfg,
			Formats:   cfg.Capture.Formats,
			ChunkSize: cfg.Audio.ChunkSize,
			Timeout:   cfg.Service.RequestTimeout,
		},
	})

	services.Chat = usecase.NewChatSession(client, client, services.Voice, input, events, logger, metrics, usecase.ChatConfig{
		Identity:       id,
		ApologyText:    cfg.ApologyText,
		RequestTimeout: cfg.Service.RequestTimeout,
	})

	logger.Info("widget backend ready",
		zap.String("strategy", string(strategy)),
		zap.String("service", cfg.Service.BaseURL),
		zap.Int("corrections", len(dictionary)),
	)
	return services, nil
}

func (s *Services) initMetrics(cfg config.MetricsConfig) *observe.Metrics {
	provider, err := observe.InitProvider()
	if err != nil {
		s.Logger.Warn("metrics exporter unavailable", zap.Error(err))
		return observe.DefaultMetrics()
	}
	s.closers = append(s.closers, provider.Shutdown)

	if cfg.Addr == "" {
		return provider.Metrics
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.Handler)
	server := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("metrics endpoint stopped", zap.String("addr", cfg.Addr), zap.Error(err))
		}
	}()
	s.closers = append(s.closers, server.Shutdown)
	s.Logger.Info("serving metrics", zap.String("addr", cfg.Addr))
	return provider.Metrics
}

func (s *Services) resolveIdentity(ctx context.Context, cfg config.IdentityConfig) (identity.Identity, error) {
	store, err := s.openIdentityStore(ctx, cfg)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Resolve(ctx, store, uuid.NewString)
}

func (s *Services) openIdentityStore(ctx context.Context, cfg config.IdentityConfig) (ports.KeyValueStore, error) {
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		store, err := identity.OpenRedisStore(ctx, url)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		return store, nil
	}
	store, err := identity.OpenFileStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// loadDictionary merges the corrections file over the configured terms.
func loadDictionary(cfg config.CorrectionsConfig) (correct.Dictionary, error) {
	base, err := correct.NewDictionary(cfg.Terms)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: corrections: %w", err)
	}
	fromFile, err := correct.LoadDictionary(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: corrections: %w", err)
	}
	return base.Merge(fromFile), nil
}
