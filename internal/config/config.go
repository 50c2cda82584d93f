package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice agent service.
//
// External-service API keys are deliberately not part of this struct: they are
// resolved per operation through the settings store, which merges environment
// keys with user-provided ones (see internal/settings).
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8000"`

	// Storage locations
	UploadDir    string `envconfig:"UPLOAD_DIR" default:"uploads"`
	SettingsFile string `envconfig:"SETTINGS_FILE" default:"settings.json"`

	// Audio capture configuration. The client streams raw PCM at this rate;
	// the minimum flush size is derived from these values.
	SampleRate         int `envconfig:"SAMPLE_RATE" default:"44100"`
	Channels           int `envconfig:"AUDIO_CHANNELS" default:"1"`
	BytesPerSample     int `envconfig:"AUDIO_BYTES_PER_SAMPLE" default:"2"`
	MinAudioDurationMS int `envconfig:"MIN_AUDIO_DURATION_MS" default:"1000"`
	FlushIntervalMS    int `envconfig:"FLUSH_INTERVAL_MS" default:"100"`

	// Deepgram streaming transcription
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Gemini reply generation
	GeminiModel string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`

	// Murf streaming synthesis
	MurfWSURL           string `envconfig:"MURF_WS_URL" default:"wss://api.murf.ai/v1/speech/stream-input"`
	MurfContextID       string `envconfig:"MURF_CONTEXT_ID" default:"storyteller_context_27"`
	TTSFirstReadTimeout int    `envconfig:"TTS_FIRST_READ_TIMEOUT" default:"10"` // seconds
	TTSReadTimeout      int    `envconfig:"TTS_READ_TIMEOUT" default:"5"`        // seconds

	// Tavily web search
	TavilyURL string `envconfig:"TAVILY_URL" default:"https://api.tavily.com/search"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds
	WebhookRetryAttempts       int `envconfig:"WEBHOOK_RETRY_ATTEMPTS" default:"3"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
	}
	if cfg.MinAudioDurationMS <= 0 {
		return nil, fmt.Errorf("MIN_AUDIO_DURATION_MS must be positive, got %d", cfg.MinAudioDurationMS)
	}

	return &cfg, nil
}

// MinFlushBytes returns the minimum number of buffered audio bytes required
// before a batch is handed to the transcription service. With the defaults
// (44100 Hz, 16-bit mono, 1000 ms) this is 88200 bytes.
func (c *Config) MinFlushBytes() int {
	return c.SampleRate * c.BytesPerSample * c.Channels * c.MinAudioDurationMS / 1000
}
