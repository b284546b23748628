package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BacklightDir       string   `mapstructure:"backlight_dir"`
	IdleTimeoutSeconds int      `mapstructure:"idle_timeout_seconds"`
	FadeTickMillis     int      `mapstructure:"fade_tick_ms"`
	IgnoreUsers        []string `mapstructure:"ignore_users"`
	DisplayServerNames []string `mapstructure:"display_server_names"`
	StateDir           string   `mapstructure:"state_dir"`
	SocketPath         string   `mapstructure:"socket_path"`
	RestoreBrightness  bool     `mapstructure:"restore_brightness"`
	LogLevel           string   `mapstructure:"log_level"`
	LogFormat          string   `mapstructure:"log_format"`
	LogFile            string   `mapstructure:"log_file"`
	LogMaxSizeMB       int      `mapstructure:"log_max_size_mb"`
	LogMaxBackups      int      `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		BacklightDir:       "/sys/devices/platform/tuxedo_keyboard/leds/rgb:kbd_backlight",
		IdleTimeoutSeconds: 60,
		FadeTickMillis:     10,
		IgnoreUsers:        []string{"lightdm"},
		DisplayServerNames: []string{"Xorg", "X"},
		StateDir:           "/var/lib/kbshade",
		SocketPath:         "/run/kbshade/kbshaded.sock",
		RestoreBrightness:  true,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kbshade")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/kbshade")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KBSHADE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BrightnessFile is the sysfs brightness control below the backlight dir.
func (c *Config) BrightnessFile() string {
	return filepath.Join(c.BacklightDir, "brightness")
}

// ColorFile is the sysfs multi-intensity color control below the backlight dir.
func (c *Config) ColorFile() string {
	return filepath.Join(c.BacklightDir, "multi_intensity")
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *Config) FadeTick() time.Duration {
	return time.Duration(c.FadeTickMillis) * time.Millisecond
}
