package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "ESSAY_GRADER"

type Config struct {
	LLM     LLMConfig
	Corpus  CorpusConfig
	Grading GradingConfig
	Output  OutputConfig
	Cache   CacheConfig
	Redis   RedisConfig
	Server  ServerConfig
	Logging LoggingConfig
}

type LLMConfig struct {
	Provider           string  `validate:"oneof=ollama openai"`
	BaseURL            string  `validate:"required_if=Provider ollama"`
	Model              string  `validate:"required"`
	APIKey             string  `validate:"required_if=Provider openai"`
	Temperature        float32 `validate:"gte=0,lte=2"`
	Stream             bool
	TimeoutSec         int `validate:"gte=0"`
	MaxAttempts        int `validate:"gte=1"`
	RequestsPerMinute  int `validate:"gte=0"`
	BreakerFailures    int `validate:"gte=0"`
	BreakerCooldownSec int `validate:"gte=0"`
}

// Timeout is zero when calls are unbounded.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type CorpusConfig struct {
	Path       string `validate:"required"`
	Pattern    string `validate:"required"`
	SampleSize int
	Seed       int64
}

type GradingConfig struct {
	Mode                 string `validate:"oneof=multi single"`
	Workers              int    `validate:"gte=1"`
	ParallelCompetencies bool
	SingleMaxAttempts    int `validate:"gte=1"`
	SingleRetryDelayMs   int `validate:"gte=0"`
}

func (c GradingConfig) SingleRetryDelay() time.Duration {
	return time.Duration(c.SingleRetryDelayMs) * time.Millisecond
}

type OutputConfig struct {
	Dir        string
	CSVPath    string
	SQLitePath string
}

type CacheConfig struct {
	Backend string `validate:"oneof=none memory redis"`
	Size    int    `validate:"gte=0"`
	TTLSec  int    `validate:"gte=0"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type ServerConfig struct {
	Enabled           bool
	Host              string
	Port              int `validate:"gte=0,lte=65535"`
	RequestsPerMinute int `validate:"gte=0"`
}

type LoggingConfig struct {
	Level      string
	Format     string `validate:"oneof=console json"`
	OutputPath string
}

// Load reads .env, an optional config file and ESSAY_GRADER_* variables.
// Binders run before unmarshalling so command-line flags take precedence.
func Load(configFile string, binders ...func(*viper.Viper) error) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/essay-grader")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, bind := range binders {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.baseURL", "http://localhost:11434")
	v.SetDefault("llm.model", "gemma3:12b")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.stream", true)
	v.SetDefault("llm.timeoutSec", 0)
	v.SetDefault("llm.maxAttempts", 1)
	v.SetDefault("llm.requestsPerMinute", 0)
	v.SetDefault("llm.breakerFailures", 5)
	v.SetDefault("llm.breakerCooldownSec", 30)

	v.SetDefault("corpus.path", "codigo/conjunto_1/conjunto_1")
	v.SetDefault("corpus.pattern", "tema-*.json")
	v.SetDefault("corpus.sampleSize", 400)
	v.SetDefault("corpus.seed", 0)

	v.SetDefault("grading.mode", "multi")
	v.SetDefault("grading.workers", 1)
	v.SetDefault("grading.parallelCompetencies", true)
	v.SetDefault("grading.singleMaxAttempts", 2)
	v.SetDefault("grading.singleRetryDelayMs", 1000)

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.csvPath", "")
	v.SetDefault("output.sqlitePath", "")

	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttlSec", 0)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}
