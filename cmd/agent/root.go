package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/curatelab/curator/threshold"
)

// Store types for the confirmed-URL set
const (
	storeMemory = "memory"
	storeFile   = "file"
	storeRedis  = "redis"
)

// agentConfig is the agent's merged file, env and flag configuration
type agentConfig struct {
	Backend struct {
		URL   string `mapstructure:"url"`
		Token string `mapstructure:"token"`
	} `mapstructure:"backend"`
	Listen     string  `mapstructure:"listen"`
	Threshold  float64 `mapstructure:"threshold"`
	AutoSubmit bool    `mapstructure:"auto_submit"`
	Debounce   struct {
		Update   time.Duration `mapstructure:"update"`
		Activate time.Duration `mapstructure:"activate"`
	} `mapstructure:"debounce"`
	Visual struct {
		MaxItems    int `mapstructure:"max_items"`
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"visual"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Store        struct {
		Type      string `mapstructure:"type"`
		Path      string `mapstructure:"path"`
		RedisAddr string `mapstructure:"redis_addr"`
		Instance  string `mapstructure:"instance"`
	} `mapstructure:"store"`
	Auth struct {
		Secret string `mapstructure:"secret"`
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"auth"`
	Verbose bool `mapstructure:"verbose"`
}

var (
	cfgFile string
	cfg     *agentConfig
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "curator-agent",
	Short: "Local content curation agent",
	Long: `curator-agent scores the pages you visit and publishes the ones above your
quality threshold to your curator feed.

A browser shim forwards tab events to the agent's loopback control server.

Example usage:
  curator-agent run --backend http://localhost:8080 --token $TOKEN
  curator-agent status
  curator-agent sync
  curator-agent token alice@example.com --secret $JWT_SECRET`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/curator/agent.yaml)")
	flags.String("backend", "", "curator backend base URL")
	flags.String("token", "", "bearer token for the backend")
	flags.String("listen", "", "control server listen address")
	flags.BoolP("verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("backend.url", flags.Lookup("backend"))
	_ = viper.BindPFlag("backend.token", flags.Lookup("token"))
	_ = viper.BindPFlag("listen", flags.Lookup("listen"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
}

func initConfig() error {
	var err error
	cfg, err = loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Debug("configuration loaded",
		"backend", cfg.Backend.URL,
		"listen", cfg.Listen,
		"store", cfg.Store.Type,
	)
	return nil
}

// loadConfig reads the optional config file and CURATOR_AGENT_* variables
// into v and unmarshals the result
func loadConfig(v *viper.Viper, file string) (*agentConfig, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/curator")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CURATOR_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var c agentConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.token", "")
	v.SetDefault("listen", "127.0.0.1:7878")
	v.SetDefault("threshold", threshold.Default)
	v.SetDefault("auto_submit", true)
	v.SetDefault("debounce.update", 3*time.Second)
	v.SetDefault("debounce.activate", 2*time.Second)
	v.SetDefault("visual.max_items", 3)
	v.SetDefault("visual.concurrency", 3)
	v.SetDefault("fetch_timeout", 20*time.Second)
	v.SetDefault("store.type", storeFile)
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.instance", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("verbose", false)
}

func (c *agentConfig) validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend url is required")
	}
	if _, err := threshold.Normalize(c.Threshold); err != nil {
		return err
	}
	switch c.Store.Type {
	case storeMemory, storeRedis:
	case storeFile:
		if c.Store.Path == "" {
			return errors.New("store path is required for the file store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "curator-confirmed.json"
	}
	return filepath.Join(dir, "curator", "confirmed.json")
}
