package config

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Token     string `toml:"token" mapstructure:"token"`
	Host      string `toml:"host" mapstructure:"host"`
	Port      string `toml:"port" mapstructure:"port"`
	Libonnx   string `toml:"libonnx" mapstructure:"libonnx"`
	LogLevel  string `toml:"log_level" mapstructure:"log_level"`
	QueueSize int    `toml:"queue_size" mapstructure:"queue_size"`

	// defaults applied to requests that leave a field empty
	Task   string `toml:"task" mapstructure:"task"`
	Model  string `toml:"model" mapstructure:"model"`
	Device string `toml:"device" mapstructure:"device"`
	Dtype  string `toml:"dtype" mapstructure:"dtype"`
	TopK   int    `toml:"top_k" mapstructure:"top_k"`

	HubURL      string `toml:"hub_url" mapstructure:"hub_url"`
	Revision    string `toml:"revision" mapstructure:"revision"`
	CacheDir    string `toml:"cache_dir" mapstructure:"cache_dir"`
	SamplesDir  string `toml:"samples_dir" mapstructure:"samples_dir"`
	GPUProvider string `toml:"gpu_provider" mapstructure:"gpu_provider"`
	MaxImageMB  int64  `toml:"max_image_mb" mapstructure:"max_image_mb"`
}

func Default() Config {
	return Config{
		Token:       "",
		Host:        "0.0.0.0",
		Port:        "8000",
		LogLevel:    "info",
		QueueSize:   16,
		Task:        "image-classification",
		Model:       "Xenova/fastvit_t12.apple_in1k",
		Device:      "wasm",
		Dtype:       "fp32",
		TopK:        5,
		HubURL:      "https://huggingface.co",
		Revision:    "main",
		CacheDir:    "models",
		SamplesDir:  "public",
		GPUProvider: "cuda",
		MaxImageMB:  16,
	}
}

var (
	cfg      = Default()
	loadOnce sync.Once
)

// Path returns the config file location, overridable with KONACLASSIFY_CONFIG.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("KONACLASSIFY_CONFIG")); p != "" {
		return p
	}
	return "config.toml"
}

func C() Config {
	loadOnce.Do(func() {
		path := Path()
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				panic(err)
			}
			if err := toml.Unmarshal(data, &cfg); err != nil {
				panic(err)
			}
		}
	})
	return cfg
}

// Parse decodes a TOML document over the built-in defaults without touching
// the process-wide config.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
