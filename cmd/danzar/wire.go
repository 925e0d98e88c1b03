package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/jeanpaul/danzar/internal/audio"
	"github.com/jeanpaul/danzar/internal/commentator"
	"github.com/jeanpaul/danzar/internal/config"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/embed"
	"github.com/jeanpaul/danzar/internal/history"
	"github.com/jeanpaul/danzar/internal/memory"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/jeanpaul/danzar/internal/session"
	"github.com/jeanpaul/danzar/internal/settings"
	"github.com/jeanpaul/danzar/internal/vision"
	"github.com/jeanpaul/danzar/internal/web"
)

// app is the fully wired engine shared by chat, ask, serve, teach and research.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	settings    *settings.Manager
	llm         *provider.Exclusive
	store       *memory.Store
	history     *history.ChannelHistory
	web         *web.Client
	vision      vision.Service
	audio       *audio.Worker
	dispatcher  *dispatcher.Dispatcher
	sessions    *session.Runner
	commentator *commentator.Commentator

	closeEmbed func() error
	wg         sync.WaitGroup
}

// wireMemory builds the embedder and the store and replays the memory log.
// The returned close func releases the embedding caches.
func wireMemory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*memory.Store, func() error, error) {
	embedder, closeEmbed, err := embed.FromConfig(cfg.Embedding, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire embedder: %w", err)
	}
	metric, err := memory.ParseMetric(cfg.Memory.Metric)
	if err != nil {
		closeEmbed()
		return nil, nil, err
	}
	store, err := memory.New(embedder, memory.Options{Metric: metric, Path: cfg.Memory.Path, Logger: logger})
	if err != nil {
		closeEmbed()
		return nil, nil, fmt.Errorf("wire memory: %w", err)
	}
	if err := store.Load(ctx, cfg.Memory.Path); err != nil {
		closeEmbed()
		return nil, nil, fmt.Errorf("load memory: %w", err)
	}
	return store, closeEmbed, nil
}

func wireApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.settings = settings.Open(cfg.SettingsPath, logger)

	base, err := provider.FromConfig(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("wire provider: %w", err)
	}
	a.llm = provider.Serialize(base)

	a.store, a.closeEmbed, err = wireMemory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.history = history.New(cfg.History.MaxTurns)
	a.web = web.New(web.Options{MaxResults: cfg.Research.SearchResults})

	visionLLM, err := a.visionProvider()
	if err != nil {
		a.closeEmbed()
		return nil, err
	}
	a.vision = vision.Service{
		Captioner: vision.NewCaptioner(visionLLM, logger),
		OCR:       vision.NewOCR(cfg.Vision.TesseractPath, cfg.Vision.TesseractPSM, logger),
	}
	if cfg.Vision.ReverseSearchEnabled {
		a.vision.ReverseSearcher = vision.NewReverseSearcher(vision.ReverseOptions{
			ImgurClientID: cfg.Vision.ImgurClientID,
			Logger:        logger,
		})
	}

	a.audio = audio.NewWorker(cfg.Audio, func() (string, float64) {
		s := a.settings.Get()
		return s.Voice, s.Volume
	}, logger)

	a.dispatcher = dispatcher.New(dispatcher.Options{
		LLM:            a.llm,
		Memory:         a.store,
		History:        a.history,
		Personality:    a.settings.Personality,
		Captioner:      a.vision.Captioner,
		OCR:            a.vision.OCR,
		Web:            a.web,
		Speaker:        a.audio,
		TopK:           cfg.Memory.TopK,
		MaxTokens:      cfg.Prompt.MaxTokens,
		ScreenshotPath: cfg.Vision.ScreenshotPath,
		Logger:         logger,
	})

	sessOpts := session.Options{
		LLM:         a.llm,
		Memory:      a.store,
		Web:         a.web,
		Captioner:   a.vision.Captioner,
		Personality: a.settings.Personality,
		ThinkAloud:  cfg.Research.ThinkAloud,
		RoundPause:  cfg.Research.RoundPause,
		Logger:      logger,
	}
	// Assigned only when enabled so the interface stays nil otherwise.
	if a.vision.ReverseSearcher != nil {
		sessOpts.Reverse = a.vision.ReverseSearcher
	}
	a.sessions = session.New(sessOpts)

	a.commentator = commentator.New(cfg.Commentator, cfg.Vision.ScreenshotPath, a.dispatcher, logger)
	return a, nil
}

// visionProvider returns the shared LLM unless vision.provider or
// vision.model select a different model for captions.
func (a *app) visionProvider() (provider.Provider, error) {
	cfg := a.cfg
	if cfg.Vision.Provider == "" && cfg.Vision.Model == "" {
		return a.llm, nil
	}
	name := cfg.Vision.Provider
	if name == "" {
		name = cfg.DefaultProvider
	}
	pc, ok := cfg.ProviderFor(name)
	if !ok {
		return nil, fmt.Errorf("vision provider %q not configured", name)
	}
	if name == cfg.DefaultProvider && (cfg.Vision.Model == "" || cfg.Vision.Model == pc.Model) {
		return a.llm, nil
	}
	if cfg.Vision.Model != "" {
		pc.Model = cfg.Vision.Model
	}
	scoped := *cfg
	scoped.Providers = maps.Clone(cfg.Providers)
	scoped.Providers[name] = pc
	p, err := provider.FromConfig(&scoped, name)
	if err != nil {
		return nil, fmt.Errorf("wire vision provider: %w", err)
	}
	return provider.Serialize(p), nil
}

// start runs the dispatcher and the speech worker until ctx is cancelled.
func (a *app) start(ctx context.Context) {
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("dispatcher stopped", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		a.audio.Run(ctx)
	}()
}

// Close waits for the workers, then persists memory and releases caches.
// Call it after cancelling the context given to start.
func (a *app) Close() {
	a.commentator.Stop()
	a.wg.Wait()
	a.store.Persist()
	if a.closeEmbed != nil {
		if err := a.closeEmbed(); err != nil {
			a.logger.Warn("close embedding cache", "error", err)
		}
	}
}
