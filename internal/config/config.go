// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/NickTikhonov/shuo/core/llms/openai"
	"github.com/NickTikhonov/shuo/core/speechtotext/deepgram"
	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/NickTikhonov/shuo/core/texttospeech/pool"
	"github.com/joho/godotenv"
)

const (
	DefaultPort            = 3040
	DefaultMaxCallDuration = 10 * time.Minute
	DefaultTraceDir        = "/tmp/shuo"
	DefaultEnvironment     = "development"

	DefaultSystemPrompt = "You are a helpful voice assistant. Keep your responses concise and " +
		"conversational, as they will be spoken aloud. Avoid using markdown, bullet points, " +
		"or other formatting that doesn't work well in speech. Be friendly and natural."
)

type Config struct {
	Server     ServerConfig
	Twilio     TwilioConfig
	Deepgram   DeepgramConfig
	ElevenLabs ElevenLabsConfig
	LLM        LLMConfig
	Call       CallConfig
	Pool       PoolConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port int
}

type TwilioConfig struct {
	// PublicURL is where Twilio reaches this server, usually a tunnel.
	PublicURL   string
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

type DeepgramConfig struct {
	APIKey string
	Model  string
	// EndOfTurnThreshold of zero keeps the provider default.
	EndOfTurnThreshold float64
}

type ElevenLabsConfig struct {
	APIKey          string
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

type CallConfig struct {
	SystemPrompt string
	FirstMessage string
	MaxDuration  time.Duration
	Record       bool
	TraceDir     string
}

type PoolConfig struct {
	TargetIdle     int
	MaxOutstanding int
	TTL            time.Duration
}

type TelemetryConfig struct {
	Environment  string
	OTLPEndpoint string
	TraceStdout  bool
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Deepgram: DeepgramConfig{
			Model: deepgram.DefaultModel,
		},
		ElevenLabs: ElevenLabsConfig{
			VoiceID:         texttospeech.DefaultVoiceID,
			ModelID:         texttospeech.DefaultModelID,
			Stability:       texttospeech.DefaultStability,
			SimilarityBoost: texttospeech.DefaultSimilarityBoost,
		},
		LLM: LLMConfig{
			BaseURL:     openai.DefaultBaseURL,
			Model:       openai.DefaultModel,
			MaxTokens:   openai.DefaultMaxTokens,
			Temperature: openai.DefaultTemperature,
		},
		Call: CallConfig{
			SystemPrompt: DefaultSystemPrompt,
			MaxDuration:  DefaultMaxCallDuration,
			TraceDir:     DefaultTraceDir,
		},
		Pool: PoolConfig{
			TargetIdle:     pool.DefaultTargetIdle,
			MaxOutstanding: pool.DefaultMaxOutstanding,
			TTL:            pool.DefaultTTL,
		},
		Telemetry: TelemetryConfig{Environment: DefaultEnvironment},
	}
}

// Load reads the given env files, or .env when none are named, and then the
// process environment. Missing env files are not an error; variables that
// are already set win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()

	cfg.Server.Port = GetEnvInt("PORT", cfg.Server.Port)

	cfg.Twilio.PublicURL = normalizePublicURL(GetEnv("TWILIO_PUBLIC_URL", ""))
	cfg.Twilio.AccountSID = GetEnv("TWILIO_ACCOUNT_SID", "")
	cfg.Twilio.AuthToken = GetEnv("TWILIO_AUTH_TOKEN", "")
	cfg.Twilio.PhoneNumber = GetEnv("TWILIO_PHONE_NUMBER", "")

	cfg.Deepgram.APIKey = GetEnv("DEEPGRAM_API_KEY", "")
	cfg.Deepgram.Model = GetEnv("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.EndOfTurnThreshold = GetEnvFloat("DEEPGRAM_EOT_THRESHOLD", cfg.Deepgram.EndOfTurnThreshold)

	cfg.ElevenLabs.APIKey = GetEnv("ELEVENLABS_API_KEY", "")
	cfg.ElevenLabs.VoiceID = GetEnv("ELEVENLABS_VOICE_ID", cfg.ElevenLabs.VoiceID)
	cfg.ElevenLabs.ModelID = GetEnv("ELEVENLABS_MODEL_ID", cfg.ElevenLabs.ModelID)
	cfg.ElevenLabs.Stability = GetEnvFloat("ELEVENLABS_STABILITY", cfg.ElevenLabs.Stability)
	cfg.ElevenLabs.SimilarityBoost = GetEnvFloat("ELEVENLABS_SIMILARITY_BOOST", cfg.ElevenLabs.SimilarityBoost)

	cfg.LLM.APIKey = GetEnvWithFallback("GROQ_API_KEY", "LLM_API_KEY", "")
	cfg.LLM.BaseURL = GetEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = GetEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxTokens = GetEnvInt("LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.Temperature = GetEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)

	cfg.Call.SystemPrompt = GetEnv("SYSTEM_PROMPT", cfg.Call.SystemPrompt)
	cfg.Call.FirstMessage = GetEnv("FIRST_MESSAGE", "")
	cfg.Call.MaxDuration = GetEnvDuration("MAX_CALL_DURATION", cfg.Call.MaxDuration)
	cfg.Call.Record = GetEnvBool("RECORD_CALLS", false)
	cfg.Call.TraceDir = GetEnv("TRACE_DIR", cfg.Call.TraceDir)

	cfg.Pool.TargetIdle = GetEnvInt("TTS_POOL_SIZE", cfg.Pool.TargetIdle)
	cfg.Pool.MaxOutstanding = GetEnvInt("TTS_POOL_MAX", cfg.Pool.MaxOutstanding)
	cfg.Pool.TTL = GetEnvDuration("TTS_POOL_TTL", cfg.Pool.TTL)

	cfg.Telemetry.Environment = GetEnv("ENVIRONMENT", cfg.Telemetry.Environment)
	cfg.Telemetry.OTLPEndpoint = GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.Telemetry.TraceStdout = GetEnvBool("SHUO_TRACE_STDOUT", false)

	return cfg, nil
}

// Voice is the default voice every call speaks with.
func (c *Config) Voice() texttospeech.VoiceConfig {
	voice := texttospeech.DefaultVoiceConfig()
	voice.VoiceID = c.ElevenLabs.VoiceID
	voice.ModelID = c.ElevenLabs.ModelID
	voice.Stability = c.ElevenLabs.Stability
	voice.SimilarityBoost = c.ElevenLabs.SimilarityBoost
	return voice
}

func (c *Config) IsOutboundConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.PhoneNumber != ""
}

// Validate checks what the server needs to answer a call.
func (c *Config) Validate() error {
	var missing []string
	for _, required := range []struct {
		key   string
		value string
	}{
		{"TWILIO_PUBLIC_URL", c.Twilio.PublicURL},
		{"DEEPGRAM_API_KEY", c.Deepgram.APIKey},
		{"ELEVENLABS_API_KEY", c.ElevenLabs.APIKey},
		{"GROQ_API_KEY", c.LLM.APIKey},
	} {
		if required.value == "" {
			missing = append(missing, required.key)
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be between 1 and 65535"))
	}
	if c.Twilio.PublicURL != "" && !isValidURL(c.Twilio.PublicURL) {
		errs = append(errs, fmt.Errorf("TWILIO_PUBLIC_URL must be a valid URL"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LLM temperature must be between 0 and 2"))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("LLM max tokens must be positive"))
	}
	if c.Pool.TargetIdle < 0 {
		errs = append(errs, fmt.Errorf("TTS pool size must not be negative"))
	}
	if c.Pool.MaxOutstanding < 1 {
		errs = append(errs, fmt.Errorf("TTS pool max must be positive"))
	}
	if c.Call.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("max call duration must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateOutbound additionally checks what placing a call needs.
func (c *Config) ValidateOutbound() error {
	var missing []string
	if c.Twilio.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.PhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}

	err := c.Validate()
	if len(missing) > 0 {
		err = errors.Join(err, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	return err
}

// normalizePublicURL accepts a bare host, as tunnels usually print it.
func normalizePublicURL(publicURL string) string {
	publicURL = strings.TrimRight(strings.TrimSpace(publicURL), "/")
	if publicURL != "" && !strings.Contains(publicURL, "://") {
		publicURL = "https://" + publicURL
	}
	return publicURL
}

func isValidURL(urlStr string) bool {
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}
	u, err := url.Parse(urlStr)
	return err == nil && u.Host != ""
}

// MaskSecret keeps just enough of a secret to tell keys apart.
func MaskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
