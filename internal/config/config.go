package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`

	MinVolumeDecibels float64 `mapstructure:"min_volume_decibels" validate:"ltfield=MaxVolumeDecibels"`
	MaxVolumeDecibels float64 `mapstructure:"max_volume_decibels"`

	FrameQueue        int           `mapstructure:"frame_queue" validate:"gt=0"`
	SubscriberQueue   int           `mapstructure:"subscriber_queue" validate:"gt=0"`
	FrameRateLimit    int           `mapstructure:"frame_rate_limit" validate:"gt=0"`
	FrameRateInterval time.Duration `mapstructure:"frame_rate_interval" validate:"gt=0"`
	LevelInterval     time.Duration `mapstructure:"level_interval" validate:"gt=0"`
	ICEServers        []string      `mapstructure:"ice_servers"`

	ConferenceIdleTimeout time.Duration `mapstructure:"conference_idle_timeout" validate:"gte=0"`
}

var validate = validator.New()

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists; missing files fall back to defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("voiceindicator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Float64("min_db", cfg.MinVolumeDecibels).Float64("max_db", cfg.MaxVolumeDecibels).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("min_volume_decibels", -42)
	v.SetDefault("max_volume_decibels", -14)
	v.SetDefault("frame_queue", 256)
	v.SetDefault("subscriber_queue", 64)
	v.SetDefault("frame_rate_limit", 50)
	v.SetDefault("frame_rate_interval", "1s")
	v.SetDefault("level_interval", "200ms")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("conference_idle_timeout", "2m")
}
