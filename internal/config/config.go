package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "SQUAT"

type Config struct {
	Mode     string         `mapstructure:"mode"`
	Port     int            `mapstructure:"port"`
	Secret   string         `mapstructure:"secret"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Stream   StreamConfig   `mapstructure:"stream"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
	// Database is the SQLite file for job records; empty keeps them in memory.
	Database string `mapstructure:"database"`
}

type CameraConfig struct {
	Device      string `mapstructure:"device"`
	InputFormat string `mapstructure:"input_format"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	LockPath    string `mapstructure:"lock_path"`
}

type StreamConfig struct {
	Pacing           time.Duration `mapstructure:"pacing"`
	JPEGQuality      int           `mapstructure:"jpeg_quality"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	MaxDrops         int           `mapstructure:"max_drops"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

type FFmpegConfig struct {
	Binary  string `mapstructure:"binary"`
	FFprobe string `mapstructure:"ffprobe"`
	Codec   string `mapstructure:"codec"`
}

type AnalysisConfig struct {
	// WorkerCommand is the argv of an external analysis worker. Empty selects
	// the built-in overlay stage.
	WorkerCommand []string      `mapstructure:"worker_command"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type UploadConfig struct {
	MaxBytes     int64         `mapstructure:"max_bytes"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.output_dir", "outputs")
	v.SetDefault("storage.database", "jobs.db")

	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.input_format", "v4l2")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.lock_path", "")

	v.SetDefault("stream.pacing", "10ms")
	v.SetDefault("stream.jpeg_quality", 80)
	v.SetDefault("stream.subscriber_buffer", 8)
	v.SetDefault("stream.max_drops", 100)
	v.SetDefault("stream.read_timeout", "5s")

	v.SetDefault("ffmpeg.binary", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe", "ffprobe")
	v.SetDefault("ffmpeg.codec", "libx264")

	v.SetDefault("analysis.worker_command", []string{})
	v.SetDefault("analysis.timeout", "2s")

	v.SetDefault("upload.max_bytes", 512<<20)
	v.SetDefault("upload.rate_limit", 5)
	v.SetDefault("upload.rate_interval", "1m")
}

// Loader owns the viper instance so the file can be watched after Load.
type Loader struct {
	v    *viper.Viper
	file string

	// level, when set, wins over log.level on every reload.
	level string
}

// NewLoader reads config/config.<CONFIG_ENV>.yaml. A missing file is not an
// error; defaults and SQUAT_* environment variables still apply.
func NewLoader() *Loader {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return NewFileLoader(fmt.Sprintf("config/config.%s.yaml", env))
}

func NewFileLoader(file string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(file)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v, file: file}
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if fileExists(l.file) {
			return nil, fmt.Errorf("failed to read config %s: %w", l.file, err)
		}
		log.Warn().Str("module", "config").Str("file", l.file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", l.file).Msg("loaded config")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("camera", cfg.Camera.Device).Msg("config ready")
	return &cfg, nil
}

// Load is the one-shot form used by commands that do not watch the file.
func Load() (*Config, error) {
	return NewLoader().Load()
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality %d", c.Stream.JPEGQuality)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps the log.level key onto zerolog. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// OverrideLevel pins the log level, e.g. from a command-line flag, so file
// reloads leave it alone.
func (l *Loader) OverrideLevel(level string) {
	l.level = strings.TrimSpace(level)
}

// Watch reapplies log.level whenever the config file changes. Other keys
// need a restart.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.reload()
		if err != nil {
			log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload config")
			return
		}
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) reload() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if l.level != "" {
		cfg.Log.Level = l.level
	}
	lvl, err := ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Info().Str("module", "config").Str("level", lvl.String()).Msg("config reloaded")
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
