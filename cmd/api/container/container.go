package container

import (
	"context"
	"fmt"

	"github.com/lyzr/minutes/cmd/api/service"
	"github.com/lyzr/minutes/common/bootstrap"
	"github.com/lyzr/minutes/common/clients"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/ratelimit"
	"github.com/lyzr/minutes/common/speech"
	"github.com/lyzr/minutes/common/summarizer"
	"github.com/lyzr/minutes/common/translator"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Outbound clients
	Speech     *speech.Client
	Translator *translator.Client
	Summarizer summarizer.Summarizer

	// Service-wide request budgets
	RateLimiter ratelimit.Limiter
	UploadQuota ratelimit.Policy
	LLMQuota    ratelimit.Policy

	// Services
	Relay         *service.ExtractionRelay
	Dispatcher    *service.Dispatcher
	Generator     *service.MinutesGenerator
	QueryService  *service.QueryService
	UploadService *service.UploadService
}

// Option overrides a dependency, mainly for tests.
type Option func(*overrides)

type overrides struct {
	speech     speech.Submitter
	translator translator.Translator
	summarizer summarizer.Summarizer
}

// WithSpeech replaces the speech client.
func WithSpeech(s speech.Submitter) Option { return func(o *overrides) { o.speech = s } }

// WithTranslator replaces the translator client.
func WithTranslator(t translator.Translator) Option { return func(o *overrides) { o.translator = t } }

// WithSummarizer replaces the chat backend.
func WithSummarizer(s summarizer.Summarizer) Option { return func(o *overrides) { o.summarizer = s } }

// NewContainer initializes all services once
func NewContainer(ctx context.Context, components *bootstrap.Components, opts ...Option) (*Container, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}

	cfg := components.Config
	log := components.Logger
	httpClient := clients.NewTimeoutClient(cfg.HTTP.Timeout, log)

	transcriptionFilter, err := eventfilter.New(cfg.Filters.Transcription)
	if err != nil {
		return nil, fmt.Errorf("invalid FILTER_TRANSCRIPTION: %w", err)
	}
	minutesFilter, err := eventfilter.New(cfg.Filters.Minutes)
	if err != nil {
		return nil, fmt.Errorf("invalid FILTER_MINUTES: %w", err)
	}

	c := &Container{Components: components}

	// Outbound clients
	var submitter speech.Submitter = o.speech
	if submitter == nil {
		c.Speech = speech.NewClient(speech.Config{
			Endpoint:         cfg.Speech.Endpoint,
			Region:           cfg.Speech.Region,
			Key:              cfg.Speech.Key,
			APIVersion:       cfg.Speech.APIVersion,
			Locale:           cfg.Speech.Locale,
			CandidateLocales: cfg.Speech.CandidateLocales,
			Diarization:      cfg.Speech.Diarization,
			WordTimestamps:   cfg.Speech.WordTimestamps,
		}, httpClient)
		submitter = c.Speech
		if err := cfg.RequireSpeech(); err != nil {
			log.Warn("speech service not configured, audio events will fail", "error", err)
		}
	}

	var tr translator.Translator = o.translator
	if tr == nil {
		c.Translator = translator.NewClient(translator.Config{
			Endpoint:    cfg.Translator.Endpoint,
			Key:         cfg.Translator.Key,
			Region:      cfg.Translator.Region,
			ChunkChars:  cfg.Translator.ChunkChars,
			Concurrency: cfg.Translator.Concurrency,
			CacheTTL:    cfg.Cache.DefaultTTL,
		}, httpClient, components.Cache)
		tr = c.Translator
		if err := cfg.RequireTranslator(); err != nil {
			log.Warn("translator not configured, translate requests will fail", "error", err)
		}
	}

	c.Summarizer = o.summarizer
	if c.Summarizer == nil {
		if err := cfg.RequireChat(); err != nil {
			log.Warn("chat provider not configured, minutes generation will fail", "error", err)
		}
		c.Summarizer, err = summarizer.New(ctx, cfg.Chat, summarizer.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("failed to create summarizer: %w", err)
		}
	}

	if components.Redis != nil {
		c.RateLimiter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), log)
	} else {
		c.RateLimiter = ratelimit.NewMemoryLimiter(log)
	}
	c.UploadQuota = ratelimit.Policy{Limit: cfg.RateLimit.UploadLimit, Window: cfg.RateLimit.Window}
	c.LLMQuota = ratelimit.Policy{Limit: cfg.RateLimit.LLMLimit, Window: cfg.RateLimit.Window}

	// Services (bottom-up: dependencies first)
	if components.Queue != nil {
		c.Relay = service.NewExtractionRelay(components.Queue, cfg.Queue.Stream, log)
	}
	c.Dispatcher = service.NewDispatcher(components.Store, submitter, cfg.Storage, transcriptionFilter, components.Journal, log)
	c.Generator = service.NewMinutesGenerator(components.Store, c.Summarizer, cfg.Storage,
		cfg.Speech.ResultPrefix, cfg.Prompts, minutesFilter, components.Journal, log)
	c.QueryService = service.NewQueryService(components.Store, c.Generator, tr, cfg.Storage,
		cfg.Prompts, cfg.Translator.DefaultTarget, components.Journal, log)
	c.UploadService = service.NewUploadService(components.Store, cfg.Storage, cfg.Prompts, log)

	return c, nil
}
