package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ArduinoAndWebRTC/webrtc/internal/domain"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "RIGCALL"

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type RoomConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	ID       string `mapstructure:"id" yaml:"id"`
	Loopback bool   `mapstructure:"loopback" yaml:"loopback"`
}

type DeviceConfig struct {
	Role string `mapstructure:"role" yaml:"role"`
}

type MediaConfig struct {
	VideoCallEnabled bool          `mapstructure:"video_call_enabled" yaml:"video_call_enabled"`
	VideoMaxBitrate  int           `mapstructure:"video_max_bitrate" yaml:"video_max_bitrate"`
	AudioCodec       string        `mapstructure:"audio_codec" yaml:"audio_codec"`
	StatsInterval    time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	PionLogLevel     string        `mapstructure:"pion_log_level" yaml:"pion_log_level"`
}

type IceConfig struct {
	Servers []domain.IceServer `mapstructure:"servers" yaml:"servers"`
}

type SerialConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
	Baud int    `mapstructure:"baud" yaml:"baud"`
}

type SensorConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type ControlConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Serial   SerialConfig  `mapstructure:"serial" yaml:"serial"`
	Sensors  SensorConfig  `mapstructure:"sensors" yaml:"sensors"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port" yaml:"port"`
	PublicURL        string        `mapstructure:"public_url" yaml:"public_url"`
	ReadLimit        int64         `mapstructure:"read_limit" yaml:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	JoinRateLimit    int           `mapstructure:"join_rate_limit" yaml:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval" yaml:"join_rate_interval"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type Config struct {
	Mode    string        `mapstructure:"mode" yaml:"mode"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Room    RoomConfig    `mapstructure:"room" yaml:"room"`
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	Media   MediaConfig   `mapstructure:"media" yaml:"media"`
	Ice     IceConfig     `mapstructure:"ice" yaml:"ice"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("room.url", domain.DefaultRoomURL)
	v.SetDefault("room.id", "")
	v.SetDefault("room.loopback", false)

	v.SetDefault("device.role", "controller")

	v.SetDefault("media.video_call_enabled", true)
	v.SetDefault("media.video_max_bitrate", 0)
	v.SetDefault("media.audio_codec", "opus")
	v.SetDefault("media.stats_interval", "1s")
	v.SetDefault("media.pion_log_level", "warn")

	v.SetDefault("ice.servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("control.debounce", "0s")
	v.SetDefault("control.serial.port", "")
	v.SetDefault("control.serial.baud", 9600)
	v.SetDefault("control.sensors.path", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.join_rate_limit", 10)
	v.SetDefault("server.join_rate_interval", "1m")

	v.SetDefault("metrics.port", 0)
}

// Flags declares the command line overrides shared by both binaries.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a yaml config file")
	fs.String("room", "", "room id to join")
	fs.String("room-url", "", "room server base url")
	fs.String("role", "", "device role: camera or controller")
	fs.Bool("loopback", false, "reflect own offer and candidates back")
	fs.Int("port", 0, "room server listen port")
	fs.String("log-level", "", "log level")
	return fs
}

var flagKeys = map[string]string{
	"room":      "room.id",
	"room-url":  "room.url",
	"role":      "device.role",
	"loopback":  "room.loopback",
	"port":      "server.port",
	"log-level": "log.level",
}

// Load reads defaults, then the config file, then RIGCALL_* env, then flags that were set.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fileName := ""
	if fs != nil {
		fileName, _ = fs.GetString("config")
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) RoomIdentity() domain.RoomIdentity {
	return domain.RoomIdentity{RoomURL: c.Room.URL, RoomID: c.Room.ID, Loopback: c.Room.Loopback}
}

func (c *Config) DeviceRole() (domain.DeviceRole, error) {
	return domain.ParseDeviceRole(c.Device.Role)
}

// Dump renders the effective configuration as yaml for debug logs.
func (c *Config) Dump() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
