// Package config loads cardcrawl settings from defaults, an optional YAML
// file, CARDCRAWL_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/cardcrawl/internal/aigen"
	"github.com/conorfennell/cardcrawl/internal/combat"
)

// EnvPrefix is stripped from environment variables. A double underscore
// separates sections, so CARDCRAWL_AI__API_KEY sets ai.api_key.
const EnvPrefix = "CARDCRAWL_"

type Config struct {
	Log    LogConfig    `koanf:"log"`
	DB     DBConfig     `koanf:"db"`
	Server ServerConfig `koanf:"server"`
	Sync   SyncConfig   `koanf:"sync"`
	Game   GameConfig   `koanf:"game"`
	AI     aigen.Config `koanf:"ai"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type DBConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type ServerConfig struct {
	Addr          string        `koanf:"addr" validate:"required,hostname_port"`
	ReadTimeout   time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout  time.Duration `koanf:"write_timeout" validate:"gte=0"`
	MaxUploadSize int64         `koanf:"max_upload_size" validate:"gte=1024"`
	// GenerateRate is the sustained number of generation requests per
	// second allowed for one client.
	GenerateRate  float64 `koanf:"generate_rate" validate:"gt=0"`
	GenerateBurst int     `koanf:"generate_burst" validate:"gte=1"`
}

type SyncConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
	Workers  int    `koanf:"workers" validate:"gte=1,lte=64"`
}

type GameConfig struct {
	PlayerMaxHP       int     `koanf:"player_max_hp" validate:"gte=1"`
	BaseDamage        int     `koanf:"base_damage" validate:"gte=1"`
	TotalEncounters   int     `koanf:"total_encounters" validate:"gte=1,lte=100"`
	DifficultyScaling float64 `koanf:"difficulty_scaling" validate:"gte=1"`
}

// Combat returns the engine configuration with the default bestiary and
// power-up table.
func (g GameConfig) Combat() combat.Config {
	cfg := combat.DefaultConfig()
	cfg.PlayerMaxHP = g.PlayerMaxHP
	cfg.BaseDamage = g.BaseDamage
	cfg.TotalEncounters = g.TotalEncounters
	cfg.DifficultyScaling = g.DifficultyScaling
	return cfg
}

// Default returns the built-in configuration.
func Default() Config {
	game := combat.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		DB:  DBConfig{Path: "cardcrawl.db"},
		Server: ServerConfig{
			Addr:          "localhost:8080",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  90 * time.Second,
			MaxUploadSize: 16 << 20,
			GenerateRate:  0.2,
			GenerateBurst: 3,
		},
		Sync: SyncConfig{ReposDir: "repos", Workers: 4},
		Game: GameConfig{
			PlayerMaxHP:       game.PlayerMaxHP,
			BaseDamage:        game.BaseDamage,
			TotalEncounters:   game.TotalEncounters,
			DifficultyScaling: game.DifficultyScaling,
		},
		AI: aigen.DefaultConfig(),
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db":          "db.path",
	"addr":        "server.addr",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"repos-dir":   "sync.repos_dir",
	"encounters":  "game.total_encounters",
	"ai-model":    "ai.model",
	"ai-base-url": "ai.base_url",
}

// RegisterFlags adds the global flags to fs. The config flag names the YAML
// file to read.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.String("db", d.DB.Path, "path to the SQLite database file")
	fs.String("addr", d.Server.Addr, "HTTP listen address")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.String("repos-dir", d.Sync.ReposDir, "directory git sources are cloned into")
	fs.Int("encounters", d.Game.TotalEncounters, "encounters per run")
	fs.String("ai-model", d.AI.Model, "chat model used for question generation")
	fs.String("ai-base-url", d.AI.BaseURL, "base URL of the chat completions API")
}

// Load builds the configuration from the file named by the config flag, the
// process environment and the parsed flag set. Flags left at their default
// do not override the file or environment.
func Load(fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	err = k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger returns a logger writing to w in the configured format.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
