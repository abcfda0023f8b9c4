// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLM provider identifiers. Only Gemini-compatible endpoints are supported
// today; the constant keeps the factory free of magic strings.
const (
	ProviderGemini = "gemini"
)

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	// File rotation via lumberjack. Empty LogFile disables the file core.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the chromedp session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// QuiescentWait bounds the network-idle wait before extraction; the
	// extractor proceeds with a partial snapshot when it elapses.
	QuiescentWait time.Duration `mapstructure:"quiescent_wait" yaml:"quiescent_wait"`
	// SettleDelay is the fixed post-idle settle period.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// NetworkQuiet is how long the request count must stay at zero before
	// the page counts as network-idle.
	NetworkQuiet    time.Duration `mapstructure:"network_quiet" yaml:"network_quiet"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
}

// HumanoidConfig tunes the human-mimicry delay strategy.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Inter-field pause range, milliseconds.
	FieldDelayMinMs int `mapstructure:"field_delay_min_ms" yaml:"field_delay_min_ms"`
	FieldDelayMaxMs int `mapstructure:"field_delay_max_ms" yaml:"field_delay_max_ms"`
	// Inter-keystroke delay distribution, milliseconds.
	KeyDelayMeanMs   float64 `mapstructure:"key_delay_mean_ms" yaml:"key_delay_mean_ms"`
	KeyDelayStdDevMs float64 `mapstructure:"key_delay_stddev_ms" yaml:"key_delay_stddev_ms"`
	KeyDelayMinMs    float64 `mapstructure:"key_delay_min_ms" yaml:"key_delay_min_ms"`
	// Pause after scrolling an element into view.
	ScrollSettleMs int `mapstructure:"scroll_settle_ms" yaml:"scroll_settle_ms"`
}

// LLMConfig configures the hosted generative model client.
type LLMConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	// APIKey is an out-of-band credential; its absence is a fatal
	// configuration error surfaced before any request is attempted.
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	Model           string        `mapstructure:"model" yaml:"model"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature     float64       `mapstructure:"temperature" yaml:"temperature"`
}

// AnalysisConfig tunes prompt building and verification.
type AnalysisConfig struct {
	// ExcerptMaxChars caps the cleaned HTML excerpt embedded in the prompt.
	ExcerptMaxChars int `mapstructure:"excerpt_max_chars" yaml:"excerpt_max_chars"`
	// FallbackConfidence caps the fallback scanner's reported confidence.
	FallbackConfidence float64 `mapstructure:"fallback_confidence" yaml:"fallback_confidence"`
}

// FillConfig tunes the fill executor.
type FillConfig struct {
	// EmailDomain used when generating session identities.
	EmailDomain string `mapstructure:"email_domain" yaml:"email_domain"`
	// Submit controls whether the executor clicks the submit button after
	// filling; disabled runs stop at the Validating stage.
	Submit bool `mapstructure:"submit" yaml:"submit"`
	// ValidationSettle is the delay before scanning for validation errors.
	ValidationSettle time.Duration `mapstructure:"validation_settle" yaml:"validation_settle"`
}

// CacheConfig bounds the site pattern cache.
type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Config is the root application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Humanoid HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Fill     FillConfig     `mapstructure:"fill" yaml:"fill"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
}

// setDefaults registers every default on the viper instance. Flags and env
// vars override these; the config file overrides defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 90*time.Second)
	v.SetDefault("browser.quiescent_wait", 10*time.Second)
	v.SetDefault("browser.settle_delay", 1500*time.Millisecond)
	v.SetDefault("browser.network_quiet", 500*time.Millisecond)

	v.SetDefault("humanoid.enabled", true)
	v.SetDefault("humanoid.field_delay_min_ms", 300)
	v.SetDefault("humanoid.field_delay_max_ms", 1400)
	v.SetDefault("humanoid.key_delay_mean_ms", 120.0)
	v.SetDefault("humanoid.key_delay_stddev_ms", 45.0)
	v.SetDefault("humanoid.key_delay_min_ms", 35.0)
	v.SetDefault("humanoid.scroll_settle_ms", 250)

	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.timeout", 45*time.Second)
	v.SetDefault("llm.max_output_tokens", 4096)
	v.SetDefault("llm.temperature", 0.2)

	v.SetDefault("analysis.excerpt_max_chars", 8000)
	v.SetDefault("analysis.fallback_confidence", 0.8)

	v.SetDefault("fill.email_domain", "example.com")
	v.SetDefault("fill.submit", true)
	v.SetDefault("fill.validation_settle", 1200*time.Millisecond)

	v.SetDefault("cache.max_entries", 128)
	v.SetDefault("cache.ttl", 30*time.Minute)
}

// Load reads the config file (if any), applies FORMPILOT_* environment
// overrides, and unmarshals into a Config. A missing config file is not an
// error; missing required values surface later where they matter (e.g. the
// LLM client refuses to construct without an API key).
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("formpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FORMPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
