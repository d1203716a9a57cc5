package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "CLASSBOARD"

type Config struct {
	Env          string
	Debug        bool
	Addr         string
	PublicURL    string
	DBPath       string
	UploadDir    string
	RollbarToken string

	HistoryCapacity  int
	DragEmitInterval time.Duration
	FrameInterval    time.Duration
	PresenceDebounce time.Duration

	SnapshotKeep       int
	CompactionInterval time.Duration

	MessagesPerSecond float64
	MessageBurst      int
	MaxUploadBytes    int64

	MDNSEnabled bool
}

// New returns a viper instance carrying the defaults and the CLASSBOARD_* env bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)
	v.SetDefault("addr", ":8080")
	v.SetDefault("public_url", "")
	v.SetDefault("db_path", "./data/classboard.db")
	v.SetDefault("upload_dir", "./data/uploads")
	v.SetDefault("rollbar_token", "")
	v.SetDefault("history_capacity", 50)
	v.SetDefault("drag_emit_interval", 80*time.Millisecond)
	v.SetDefault("frame_interval", 16*time.Millisecond)
	v.SetDefault("presence_debounce", 1200*time.Millisecond)
	v.SetDefault("snapshot_keep", 10)
	v.SetDefault("compaction_interval", 5*time.Minute)
	v.SetDefault("messages_per_second", 100.0)
	v.SetDefault("message_burst", 200)
	v.SetDefault("max_upload_bytes", int64(10<<20))
	v.SetDefault("mdns_enabled", false)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads the optional .env file and builds a validated Config.
func Load() (*Config, error) {
	envFile := os.Getenv(envPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "config.godotenv(%s)", envFile)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "config.os.Stat(%s)", envFile)
	} else {
		log.Printf("config: no %s file, using environment only", envFile)
	}

	conf := FromViper(New())
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		Env:                v.GetString("env"),
		Debug:              v.GetBool("debug"),
		Addr:               v.GetString("addr"),
		PublicURL:          v.GetString("public_url"),
		DBPath:             v.GetString("db_path"),
		UploadDir:          v.GetString("upload_dir"),
		RollbarToken:       v.GetString("rollbar_token"),
		HistoryCapacity:    v.GetInt("history_capacity"),
		DragEmitInterval:   v.GetDuration("drag_emit_interval"),
		FrameInterval:      v.GetDuration("frame_interval"),
		PresenceDebounce:   v.GetDuration("presence_debounce"),
		SnapshotKeep:       v.GetInt("snapshot_keep"),
		CompactionInterval: v.GetDuration("compaction_interval"),
		MessagesPerSecond:  v.GetFloat64("messages_per_second"),
		MessageBurst:       v.GetInt("message_burst"),
		MaxUploadBytes:     v.GetInt64("max_upload_bytes"),
		MDNSEnabled:        v.GetBool("mdns_enabled"),
	}
}

func (c *Config) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"history_capacity", c.HistoryCapacity > 0},
		{"drag_emit_interval", c.DragEmitInterval > 0},
		{"frame_interval", c.FrameInterval > 0},
		{"presence_debounce", c.PresenceDebounce > 0},
		{"snapshot_keep", c.SnapshotKeep > 0},
		{"compaction_interval", c.CompactionInterval > 0},
		{"messages_per_second", c.MessagesPerSecond > 0},
		{"message_burst", c.MessageBurst > 0},
		{"max_upload_bytes", c.MaxUploadBytes > 0},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%s: must be GT 0", check.name)
		}
	}
	if c.Addr == "" {
		return errors.New("addr: must not be empty")
	}
	return nil
}
