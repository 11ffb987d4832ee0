package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the CoView coordinator.
type Config struct {
	Server Server `mapstructure:"server"`
	Collab Collab `mapstructure:"collab"`
	Relay  Relay  `mapstructure:"relay"`
}

// Server configures the HTTP listener hosting the websocket endpoint.
type Server struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// Collab configures coordinator defaults and background maintenance.
type Collab struct {
	MaxParticipants     int           `mapstructure:"max_participants"`
	CursorRateWindow    time.Duration `mapstructure:"cursor_rate_window"`
	CursorRateLimit     int           `mapstructure:"cursor_rate_limit"`
	CommandRateWindow   time.Duration `mapstructure:"command_rate_window"`
	CommandRateLimit    int           `mapstructure:"command_rate_limit"`
	ReaperInterval      time.Duration `mapstructure:"reaper_interval"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
}

// Relay configures the automation backend boundary.
type Relay struct {
	Playwright PlaywrightRelay `mapstructure:"playwright"`
}

// PlaywrightRelay toggles the embedded Playwright executor.
type PlaywrightRelay struct {
	Enabled  bool          `mapstructure:"enabled"`
	Headless bool          `mapstructure:"headless"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig initialises application configuration using Viper with
// sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("COVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("collab.max_participants", 10)
	v.SetDefault("collab.cursor_rate_window", "1s")
	v.SetDefault("collab.cursor_rate_limit", 30)
	v.SetDefault("collab.command_rate_window", "1s")
	v.SetDefault("collab.command_rate_limit", 10)
	v.SetDefault("collab.reaper_interval", "60s")
	v.SetDefault("collab.inactivity_threshold", "5m")

	v.SetDefault("relay.playwright.enabled", false)
	v.SetDefault("relay.playwright.headless", true)
	v.SetDefault("relay.playwright.timeout", "30s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
