package config

import (
	"os"
	"time"

	"oa-worksheets/internal/model"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Generator GeneratorConfig `mapstructure:"generator"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	StreamTimeout     time.Duration `mapstructure:"stream_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
}

// APIConfig describes the worksheet API as seen by the client side.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	GeneratePath   string        `mapstructure:"generate_path"`
	WorksheetPath  string        `mapstructure:"worksheet_path"` // contains {id}
	Delimiter      string        `mapstructure:"delimiter"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
	AuthToken      string        `mapstructure:"auth_token"`
	SessionCookie  string        `mapstructure:"session_cookie"`
	CSRFToken      string        `mapstructure:"csrf_token"`
	DebugRequests  bool          `mapstructure:"debug_requests"`
}

type LLMConfig struct {
	Provider string       `mapstructure:"provider"`
	Doubao   DoubaoConfig `mapstructure:"doubao"`
	Qwen     QwenConfig   `mapstructure:"qwen"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

type DoubaoConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type QwenConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GeneratorConfig struct {
	SystemPrompt     string `mapstructure:"system_prompt"`
	MaxThreadHistory int    `mapstructure:"max_thread_history"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Type           string        `mapstructure:"type"`
	DataDir        string        `mapstructure:"data_dir"`
	CacheSize      int           `mapstructure:"cache_size"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

const DefaultDelimiter = model.DefaultFrameDelimiter

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.stream_timeout", 5*time.Minute)
	v.SetDefault("server.keep_alive_interval", 15*time.Second)

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.generate_path", "/api/worksheets/generate")
	v.SetDefault("api.worksheet_path", "/api/worksheets/{id}")
	v.SetDefault("api.delimiter", DefaultDelimiter)
	v.SetDefault("api.request_timeout", 30*time.Second)
	v.SetDefault("api.stream_timeout", 5*time.Minute)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.qwen.timeout", 2*time.Minute)

	v.SetDefault("generator.max_thread_history", 5)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-CSRFToken"})
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvPrefix("OA")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, err
	}

	// The config file wins; env vars only fill empty keys.
	if loaded.LLM.Doubao.APIKey == "" {
		if apiKey := os.Getenv("DOUBAO_API_KEY"); apiKey != "" {
			loaded.LLM.Doubao.APIKey = apiKey
		}
		if apiKey := os.Getenv("ARK_API_KEY"); apiKey != "" {
			loaded.LLM.Doubao.APIKey = apiKey
		}
	}
	if loaded.LLM.Qwen.APIKey == "" {
		loaded.LLM.Qwen.APIKey = os.Getenv("QWEN_API_KEY")
	}
	if loaded.LLM.OpenAI.APIKey == "" {
		loaded.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if loaded.API.Delimiter == "" {
		loaded.API.Delimiter = DefaultDelimiter
	}

	cfg = loaded
	return cfg, nil
}

func Get() *Config {
	return cfg
}
