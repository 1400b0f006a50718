package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the settings of a run. Values come from flags, KWIP_*
// environment variables and an optional YAML config file, in that order of
// precedence.
type Config struct {
	Metric       string `mapstructure:"metric"`
	Threads      int    `mapstructure:"threads"`
	CacheSize    int    `mapstructure:"cache-size"`
	Stream       bool   `mapstructure:"stream"`
	AbortOnError bool   `mapstructure:"abort-on-error"`
	Dataset      string `mapstructure:"dataset"`
	MemoryLimit  string `mapstructure:"memory-limit"`
	IOLimit      string `mapstructure:"io-limit"`
	MaxLoads     int64  `mapstructure:"max-loads"`

	CheckpointDir    string `mapstructure:"checkpoint-dir"`
	CheckpointFormat string `mapstructure:"checkpoint-format"`
	CheckpointTable  string `mapstructure:"checkpoint-table"`
	Resume           bool   `mapstructure:"resume"`

	KernelOut   string `mapstructure:"kernel-out"`
	DistanceOut string `mapstructure:"distance-out"`
	Weights     string `mapstructure:"weights"`

	StoreConfig `mapstructure:",squash"`

	Verbose   bool   `mapstructure:"verbose"`
	Quiet     bool   `mapstructure:"quiet"`
	LogFormat string `mapstructure:"log-format"`
}

// StoreConfig selects where sketches are read from.
type StoreConfig struct {
	Kind       string `mapstructure:"store"`
	Bucket     string `mapstructure:"bucket"`
	Prefix     string `mapstructure:"prefix"`
	Endpoint   string `mapstructure:"endpoint"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access-key"`
	SecretKey  string `mapstructure:"secret-key"`
	Insecure   bool   `mapstructure:"insecure"`
	BlockCache string `mapstructure:"block-cache"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("metric", "wip")
	v.SetDefault("threads", 0)
	v.SetDefault("cache-size", 0)
	v.SetDefault("abort-on-error", true)
	v.SetDefault("dataset", "counts")
	v.SetDefault("checkpoint-format", "tsv")
	v.SetDefault("store", "local")
	v.SetDefault("block-cache", "256M")
	v.SetDefault("log-format", "text")
}

// loadConfig resolves the configuration for the given flag set.
func loadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("kwip")
	}

	v.SetEnvPrefix("KWIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
