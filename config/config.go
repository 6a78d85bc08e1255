package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/searchktools/tinyweb/core"
)

// EnvPrefix prefixes the environment variables read by Load,
// e.g. TINYWEB_PORT or TINYWEB_LOG_LEVEL
const EnvPrefix = "TINYWEB"

// Config holds all server configuration. It is fixed once loaded.
type Config struct {
	Port      int  `config:"port"`
	TrigMode  int  `config:"trigmode"`
	TimeoutMS int  `config:"timeoutms"`
	OptLinger bool `config:"optlinger"`

	SrcDir    string `config:"srcdir"`
	MaxWaitMS int    `config:"maxwaitms"`
	MaxConns  int    `config:"maxconns"`

	PoolSize int    `config:"poolsize"`
	UserDB   string `config:"userdb"`
	Workers  int    `config:"workers"`

	OpenLog      bool   `config:"log.enabled"`
	LogLevel     int    `config:"log.level"`
	LogQueueSize int    `config:"log.queue"`
	LogDir       string `config:"log.dir"`

	// ConfigFile is the optional JSON file overlaid on the defaults
	ConfigFile string `config:"-"`
}

// Default returns the configuration the server starts with when nothing
// is overridden
func Default() *Config {
	return &Config{
		Port:         1214,
		TrigMode:     core.TrigModeBothET,
		TimeoutMS:    60000,
		OptLinger:    false,
		SrcDir:       "./resources",
		MaxWaitMS:    10000,
		MaxConns:     core.DefaultMaxConns,
		PoolSize:     12,
		Workers:      6,
		OpenLog:      true,
		LogLevel:     1,
		LogQueueSize: 1024,
	}
}

// New loads configuration from the command line, exiting on error.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Load builds the configuration: defaults, then the JSON file named by
// -config (or TINYWEB_CONFIG), then TINYWEB_* environment variables, then
// flags given explicitly on the command line. The result is validated.
func Load(args []string) (*Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("tinyweb", flag.ContinueOnError)
	bindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	env := NewManager()
	env.LoadFromEnv(EnvPrefix)
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = env.GetString("config", "")
	}

	m := NewManager()
	if cfg.ConfigFile != "" {
		if err := m.LoadFromJSON(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	for key, value := range env.GetAll() {
		m.Set(key, value)
	}

	// explicit flags win over the file and the environment
	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			m.Set(key, f.Value.String())
		}
	})

	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flag name -> config key, for flags that map to a Config field
var flagKeys = map[string]string{
	"port":      "port",
	"trig-mode": "trigmode",
	"timeout":   "timeoutms",
	"linger":    "optlinger",
	"src-dir":   "srcdir",
	"max-wait":  "maxwaitms",
	"max-conns": "maxconns",
	"pool-size": "poolsize",
	"user-db":   "userdb",
	"workers":   "workers",
	"log":       "log.enabled",
	"log-level": "log.level",
	"log-queue": "log.queue",
	"log-dir":   "log.dir",
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port (0 picks a free one)")
	fs.IntVar(&cfg.TrigMode, "trig-mode", cfg.TrigMode, "0 LT/LT, 1 conn ET, 2 listen ET, 3 both ET")
	fs.IntVar(&cfg.TimeoutMS, "timeout", cfg.TimeoutMS, "idle connection timeout (ms), 0 disables")
	fs.BoolVar(&cfg.OptLinger, "linger", cfg.OptLinger, "graceful close with SO_LINGER")
	fs.StringVar(&cfg.SrcDir, "src-dir", cfg.SrcDir, "document root")
	fs.IntVar(&cfg.MaxWaitMS, "max-wait", cfg.MaxWaitMS, "upper bound of one poller wait (ms)")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "connections above this are turned away")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "credential store sessions")
	fs.StringVar(&cfg.UserDB, "user-db", cfg.UserDB, "user snapshot file, empty keeps users in memory")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker goroutines")
	fs.BoolVar(&cfg.OpenLog, "log", cfg.OpenLog, "enable logging")
	fs.IntVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "0 debug, 1 info, 2 warn, 3 error")
	fs.IntVar(&cfg.LogQueueSize, "log-queue", cfg.LogQueueSize, "log entries buffered ahead of the sink")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "log directory, empty logs to stdout")
	fs.StringVar(&cfg.ConfigFile, "config", "", "JSON config file")
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	if c.TrigMode < core.TrigModeLevel || c.TrigMode > core.TrigModeBothET {
		return fmt.Errorf("%w: %d", core.ErrBadTrigMode, c.TrigMode)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", core.ErrPortRange, c.Port)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("config: negative timeout %d", c.TimeoutMS)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: pool size must be positive, got %d", c.PoolSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.LogLevel < 0 || c.LogLevel > 3 {
		return fmt.Errorf("config: log level must be 0..3, got %d", c.LogLevel)
	}
	return nil
}

// Timeout returns the idle timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// MaxWait returns the poller wait bound
func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMS) * time.Millisecond
}

// EngineOptions converts the configuration for core.NewEngine
func (c *Config) EngineOptions() core.Options {
	return core.Options{
		Port:      c.Port,
		TrigMode:  c.TrigMode,
		Timeout:   c.Timeout(),
		OptLinger: c.OptLinger,
		SrcDir:    c.SrcDir,
		MaxWait:   c.MaxWait(),
		MaxConns:  c.MaxConns,
	}
}
