package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lyzr/minutes/common/apperrors"
)

// MinOutboundTimeout is the floor applied to every outbound HTTP timeout.
// Speech and chat calls on long meetings routinely take tens of seconds.
const MinOutboundTimeout = 30 * time.Second

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Storage    StorageConfig
	Speech     SpeechConfig
	Translator TranslatorConfig
	Chat       ChatConfig
	Extraction ExtractionConfig
	Queue      QueueConfig
	Redis      RedisConfig
	Journal    JournalConfig
	Cache      CacheConfig
	Filters    FilterConfig
	HTTP       HTTPConfig
	Telemetry  TelemetryConfig
	Dropwatch  DropwatchConfig
	RateLimit  RateLimitConfig
	Prompts    *Prompts
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// StorageConfig selects the blob backend and the four namespaces.
type StorageConfig struct {
	Backend              string // "azure" or "memory"
	ConnectionString     string
	AccountURL           string // used with DefaultAzureCredential when no connection string is set
	VideoContainer       string
	AudioContainer       string
	TranscriptsContainer string
	MinutesContainer     string
	AudioSASTTL          time.Duration
	TranscriptsSASTTL    time.Duration
	MaxUploadMB          int
	EnsureContainers     bool
}

// SpeechConfig holds batch transcription settings
type SpeechConfig struct {
	Endpoint         string
	Region           string
	Key              string
	APIVersion       string
	Locale           string
	CandidateLocales []string
	ResultPrefix     string
	Diarization      bool
	WordTimestamps   bool
}

// TranslatorConfig holds text translation settings
type TranslatorConfig struct {
	Endpoint      string
	Key           string
	Region        string
	DefaultTarget string
	ChunkChars    int
	Concurrency   int
}

// ChatConfig selects the summarization backend
type ChatConfig struct {
	Provider    string // "azure-openai" or "gemini"
	Endpoint    string
	Key         string
	Deployment  string
	APIVersion  string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ExtractionConfig holds transcoder settings
type ExtractionConfig struct {
	FFmpegPath        string
	AudioFormat       string // "wav" or "mp3"
	MP3Bitrate        string
	VisibilityTimeout time.Duration
	DeleteSource      bool
	WorkDir           string
}

// QueueConfig holds extraction queue settings
type QueueConfig struct {
	Type            string // "memory" or "redis"
	Stream          string
	Group           string
	MaxDeliveries   int
	ReclaimSchedule string
	MaxLen          int64
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// JournalConfig holds job event journal settings
type JournalConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxLen  int64
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// FilterConfig holds optional CEL admission expressions per stage
type FilterConfig struct {
	Extraction    string
	Transcription string
	Minutes       string
}

// HTTPConfig holds outbound HTTP settings
type HTTPConfig struct {
	Timeout time.Duration
}

// DropwatchConfig holds settings for the local folder uploader
type DropwatchConfig struct {
	Dir         string
	ArchiveDir  string
	UserID      string
	UserDetails string
	Prompt      string
	Preset      string
	Concurrency int
	SettleDelay time.Duration
}

// RateLimitConfig holds service-wide request budgets for the routes that
// spend upstream quota. A zero limit disables the check.
type RateLimitConfig struct {
	UploadLimit int64
	LLMLimit    int64 // regenerate and translate
	Window      time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Storage: StorageConfig{
			Backend:              getEnv("STORAGE_BACKEND", "azure"),
			ConnectionString:     getEnv("AZURE_STORAGE_CONNECTION_STRING", ""),
			AccountURL:           getEnv("AZURE_STORAGE_ACCOUNT_URL", ""),
			VideoContainer:       getEnv("VIDEO_CONTAINER", "video"),
			AudioContainer:       getEnv("AUDIO_CONTAINER", "audio"),
			TranscriptsContainer: getEnv("TRANSCRIPTS_CONTAINER", "transcripts"),
			MinutesContainer:     getEnv("MINUTES_CONTAINER", "minutes"),
			AudioSASTTL:          getEnvDuration("AUDIO_SAS_TTL", time.Hour),
			TranscriptsSASTTL:    getEnvDuration("TRANSCRIPTS_SAS_TTL", 24*time.Hour),
			MaxUploadMB:          getEnvInt("MAX_UPLOAD_MB", 2048),
			EnsureContainers:     getEnvBool("STORAGE_ENSURE_CONTAINERS", false),
		},
		Speech: SpeechConfig{
			Endpoint:         getEnv("SPEECH_ENDPOINT", ""),
			Region:           getEnv("SPEECH_REGION", ""),
			Key:              getEnv("SPEECH_KEY", ""),
			APIVersion:       getEnv("SPEECH_API_VERSION", "v3.1"),
			Locale:           getEnv("SPEECH_LOCALE", "ja-JP"),
			CandidateLocales: getEnvSlice("SPEECH_CANDIDATE_LOCALES", []string{"ja-JP", "en-US"}),
			ResultPrefix:     getEnv("TRANSCRIPT_RESULT_PREFIX", "contenturl_"),
			Diarization:      getEnvBool("SPEECH_DIARIZATION", true),
			WordTimestamps:   getEnvBool("SPEECH_WORD_TIMESTAMPS", true),
		},
		Translator: TranslatorConfig{
			Endpoint:      getEnv("TRANSLATOR_ENDPOINT", "https://api.cognitive.microsofttranslator.com"),
			Key:           getEnv("TRANSLATOR_KEY", ""),
			Region:        getEnv("TRANSLATOR_REGION", ""),
			DefaultTarget: getEnv("TRANSLATOR_DEFAULT_TARGET", "en"),
			ChunkChars:    getEnvInt("TRANSLATOR_CHUNK_CHARS", 9000),
			Concurrency:   getEnvInt("TRANSLATOR_CONCURRENCY", 4),
		},
		Chat: ChatConfig{
			Provider:    getEnv("CHAT_PROVIDER", "azure-openai"),
			Endpoint:    getEnv("AZURE_OPENAI_ENDPOINT", ""),
			Key:         getEnv("AZURE_OPENAI_KEY", getEnv("GEMINI_API_KEY", "")),
			Deployment:  getEnv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o"),
			APIVersion:  getEnv("AZURE_OPENAI_API_VERSION", "2024-06-01"),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Temperature: getEnvFloat("CHAT_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("CHAT_MAX_TOKENS", 4096),
		},
		Extraction: ExtractionConfig{
			FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
			AudioFormat:       getEnv("AUDIO_FORMAT", "wav"),
			MP3Bitrate:        getEnv("MP3_BITRATE", "32k"),
			VisibilityTimeout: getEnvDuration("EXTRACT_VISIBILITY_TIMEOUT", 10*time.Minute),
			DeleteSource:      getEnvBool("EXTRACT_DELETE_SOURCE", false),
			WorkDir:           getEnv("EXTRACT_WORK_DIR", os.TempDir()),
		},
		Queue: QueueConfig{
			Type:            getEnv("QUEUE_TYPE", "memory"),
			Stream:          getEnv("EXTRACT_STREAM", "video-extract"),
			Group:           getEnv("EXTRACT_GROUP", "extractors"),
			MaxDeliveries:   getEnvInt("QUEUE_MAX_DELIVERIES", 5),
			ReclaimSchedule: getEnv("QUEUE_RECLAIM_SCHEDULE", "@every 1m"),
			MaxLen:          int64(getEnvInt("EXTRACT_STREAM_MAXLEN", 100000)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		Journal: JournalConfig{
			Enabled: getEnvBool("JOURNAL_ENABLED", true),
			TTL:     getEnvDuration("JOURNAL_TTL", 7*24*time.Hour),
			MaxLen:  int64(getEnvInt("JOURNAL_MAXLEN", 50)),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),
		},
		Filters: FilterConfig{
			Extraction:    getEnv("FILTER_EXTRACTION", ""),
			Transcription: getEnv("FILTER_TRANSCRIPTION", ""),
			Minutes:       getEnv("FILTER_MINUTES", ""),
		},
		HTTP: HTTPConfig{
			Timeout: getEnvDuration("HTTP_TIMEOUT", 120*time.Second),
		},
		Dropwatch: DropwatchConfig{
			Dir:         getEnv("DROPWATCH_DIR", "./inbox"),
			ArchiveDir:  getEnv("DROPWATCH_ARCHIVE_DIR", ""),
			UserID:      getEnv("DROPWATCH_USER_ID", ""),
			UserDetails: getEnv("DROPWATCH_USER_DETAILS", ""),
			Prompt:      getEnv("DROPWATCH_PROMPT", ""),
			Preset:      getEnv("DROPWATCH_PRESET", ""),
			Concurrency: getEnvInt("DROPWATCH_CONCURRENCY", 2),
			SettleDelay: getEnvDuration("DROPWATCH_SETTLE_DELAY", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			UploadLimit: int64(getEnvInt("RATE_LIMIT_UPLOADS", 60)),
			LLMLimit:    int64(getEnvInt("RATE_LIMIT_LLM", 120)),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	if cfg.HTTP.Timeout < MinOutboundTimeout {
		cfg.HTTP.Timeout = MinOutboundTimeout
	}

	prompts, err := LoadPrompts(getEnv("PROMPTS_FILE", ""))
	if err != nil {
		return cfg, err
	}
	cfg.Prompts = prompts

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return configErr(fmt.Sprintf("invalid port: %d", c.Service.Port))
	}

	switch c.Storage.Backend {
	case "memory":
	case "azure":
		if c.Storage.ConnectionString == "" && c.Storage.AccountURL == "" {
			return configErr("AZURE_STORAGE_CONNECTION_STRING or AZURE_STORAGE_ACCOUNT_URL is required")
		}
	default:
		return configErr(fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	containers := []string{c.Storage.VideoContainer, c.Storage.AudioContainer, c.Storage.TranscriptsContainer, c.Storage.MinutesContainer}
	for _, name := range containers {
		if name == "" {
			return configErr("container names must not be empty")
		}
	}

	if c.Speech.ResultPrefix == "" {
		return configErr("TRANSCRIPT_RESULT_PREFIX must not be empty")
	}

	switch c.Extraction.AudioFormat {
	case "wav", "mp3":
	default:
		return configErr(fmt.Sprintf("unsupported audio format %q", c.Extraction.AudioFormat))
	}

	switch c.Queue.Type {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return configErr("QUEUE_TYPE=redis requires REDIS_ENABLED=true")
		}
	default:
		return configErr(fmt.Sprintf("unknown queue type %q", c.Queue.Type))
	}

	if c.Queue.MaxDeliveries < 1 {
		return configErr("QUEUE_MAX_DELIVERIES must be at least 1")
	}

	switch c.Chat.Provider {
	case "azure-openai", "gemini":
	default:
		return configErr(fmt.Sprintf("unknown chat provider %q", c.Chat.Provider))
	}

	return nil
}

// RequireSpeech reports a configuration error when transcription credentials are missing.
// Checked lazily so services that never dispatch can start without them.
func (c *Config) RequireSpeech() error {
	if c.Speech.Key == "" || (c.Speech.Endpoint == "" && c.Speech.Region == "") {
		return configErr("SPEECH_KEY and SPEECH_ENDPOINT or SPEECH_REGION are required")
	}
	return nil
}

// RequireTranslator reports a configuration error when translation credentials are missing.
func (c *Config) RequireTranslator() error {
	if c.Translator.Key == "" || c.Translator.Endpoint == "" {
		return configErr("TRANSLATOR_KEY and TRANSLATOR_ENDPOINT are required")
	}
	return nil
}

// RequireChat reports a configuration error when summarization credentials are missing.
func (c *Config) RequireChat() error {
	if c.Chat.Key == "" {
		return configErr("chat provider key is required")
	}
	if c.Chat.Provider == "azure-openai" && c.Chat.Endpoint == "" {
		return configErr("AZURE_OPENAI_ENDPOINT is required")
	}
	return nil
}

// AudioExtension returns the extension of the produced audio format.
func (c *Config) AudioExtension() string {
	return "." + c.Extraction.AudioFormat
}

func configErr(msg string) error {
	return apperrors.Wrap(apperrors.ErrConfiguration, "config", "", msg, nil)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
