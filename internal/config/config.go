package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable consulted when no --config flag is given.
const (
	EnvPath     = "CHUNKKEEP_CONFIG"
	DefaultPath = "config/server.toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Loop      LoopConfig      `toml:"loop"`
	Chunks    ChunksConfig    `toml:"chunks"`
	Engine    EngineConfig    `toml:"engine"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
	Scripting ScriptingConfig `toml:"scripting"`
	Data      DataConfig      `toml:"data"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	StartTime int64  // set at boot, not from config
}

type LoopConfig struct {
	TickRate time.Duration `toml:"tick_rate"`
}

type ChunksConfig struct {
	Owner            string `toml:"owner"`              // keep-loaded marker owner
	LoadTimeoutTicks int    `toml:"load_timeout_ticks"` // 6000 = 300s at 20 tps
}

type EngineConfig struct {
	TicketAPI    bool          `toml:"ticket_api"` // false: protect chunks by cancelling unload events
	AsyncWorkers int           `toml:"async_workers"`
	QueueSize    int           `toml:"queue_size"`
	LoadTimeout  time.Duration `toml:"load_timeout"` // per async load
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty: no database, chunks are generated
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	FlushInterval   int           `toml:"flush_interval_ticks"` // batch write-back of generated chunks
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type ScriptingConfig struct {
	Dir string `toml:"dir"`
}

type DataConfig struct {
	Worlds string `toml:"worlds"`
}

// ResolvePath picks the config file: the flag value, then $CHUNKKEEP_CONFIG,
// then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Validate rejects values the loop and manager cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Loop.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("loop.tick_rate must be positive, got %s", c.Loop.TickRate))
	}
	if c.Chunks.LoadTimeoutTicks <= 0 {
		errs = append(errs, fmt.Errorf("chunks.load_timeout_ticks must be positive, got %d", c.Chunks.LoadTimeoutTicks))
	}
	if c.Chunks.Owner == "" {
		errs = append(errs, errors.New("chunks.owner must not be empty"))
	}
	if c.Engine.AsyncWorkers <= 0 {
		errs = append(errs, fmt.Errorf("engine.async_workers must be positive, got %d", c.Engine.AsyncWorkers))
	}
	if c.Database.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("database.flush_interval_ticks must be positive, got %d", c.Database.FlushInterval))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "chunkkeep",
		},
		Loop: LoopConfig{
			TickRate: 50 * time.Millisecond,
		},
		Chunks: ChunksConfig{
			Owner:            "chunkkeep",
			LoadTimeoutTicks: 20 * 300,
		},
		Engine: EngineConfig{
			TicketAPI:    true,
			AsyncWorkers: 4,
			QueueSize:    1024,
			LoadTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			FlushInterval:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Scripting: ScriptingConfig{
			Dir: "scripts",
		},
		Data: DataConfig{
			Worlds: "data/worlds.yaml",
		},
	}
}
