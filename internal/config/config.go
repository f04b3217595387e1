package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/DoyleJ11/flamebridge/internal/engine"
	"github.com/DoyleJ11/flamebridge/internal/gate"
	"github.com/DoyleJ11/flamebridge/internal/journal"
	"github.com/DoyleJ11/flamebridge/internal/session"
)

var ErrConfiguration = errors.New("configuration error")

const (
	defaultEnvFile  = ".env"
	defaultJarPath  = "./flamechess.jar"
	defaultThreads  = 4
	defaultGameID   = 1
	defaultUserID   = 10170
	defaultHTTPTime = 10 * time.Second
	wsSuffix        = "/ws/no_sockjs"
	engineMainClass = "com.jingbh.flamechess.jiuqi.MCTSRunnerWithUser"
)

// Config is the bridge's runtime configuration, read from the environment.
type Config struct {
	APIURL string
	WSURL  string

	EngineCommand []string
	EngineTimeout time.Duration

	Mode       session.Mode
	GatePolicy gate.Policy
	GateWindow time.Duration

	GameID int64
	UserID int64

	HTTPTimeout time.Duration
	StatusAddr  string
	DatabaseURL string

	LogLevel  string
	LogFormat string
}

// Load reads an optional env file into the process environment and then builds
// a Config from it. An empty envFile means ".env", which may be absent.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, defaultEnvFile, err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, envFile, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		APIURL:      strings.TrimRight(strings.TrimSpace(getenv("API_URL")), "/"),
		WSURL:       strings.TrimSpace(getenv("WS_URL")),
		StatusAddr:  strings.TrimSpace(getenv("STATUS_ADDR")),
		DatabaseURL: strings.TrimSpace(getenv("DATABASE_URL")),
		LogLevel:    p.str("LOG_LEVEL", "info"),
		LogFormat:   p.str("LOG_FORMAT", "json"),
	}

	cfg.EngineTimeout = p.duration("ENGINE_TIMEOUT", engine.DefaultTimeout)
	cfg.GateWindow = p.duration("GATE_WINDOW", gate.DefaultWindow)
	cfg.HTTPTimeout = p.duration("HTTP_TIMEOUT", defaultHTTPTime)
	cfg.GameID = p.int("GAME_ID", defaultGameID)
	cfg.UserID = p.int("USER_ID", defaultUserID)

	if cmd := strings.Fields(getenv("ENGINE_COMMAND")); len(cmd) > 0 {
		cfg.EngineCommand = cmd
	} else {
		threads := p.int("ENGINE_THREADS", defaultThreads)
		cfg.EngineCommand = []string{
			"java", "-cp", p.str("JAR_PATH", defaultJarPath),
			engineMainClass, "-t", strconv.FormatInt(threads, 10),
		}
	}

	mode, err := session.ParseMode(p.str("BRIDGE_MODE", ""))
	if err != nil {
		p.fail("BRIDGE_MODE", err)
	}
	cfg.Mode = mode

	policy, err := gate.ParsePolicy(p.str("GATE_POLICY", ""))
	if err != nil {
		p.fail("GATE_POLICY", err)
	}
	cfg.GatePolicy = policy

	if p.err != nil {
		return nil, p.err
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIURL)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeriveWSURL maps http(s)://host/api to ws(s)://host/api/ws/no_sockjs.
func DeriveWSURL(apiURL string) string {
	if !strings.HasPrefix(apiURL, "http") {
		return ""
	}
	return "ws" + strings.TrimPrefix(apiURL, "http") + wsSuffix
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("%w: API_URL environment variable is required", ErrConfiguration)
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("%w: API_URL must be an http(s) URL, got %q", ErrConfiguration, c.APIURL)
	}
	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("%w: WS_URL must be a ws(s) URL, got %q", ErrConfiguration, c.WSURL)
	}
	if len(c.EngineCommand) == 0 && c.Mode == session.ModeCompute {
		return fmt.Errorf("%w: engine command is empty", ErrConfiguration)
	}
	if c.EngineTimeout <= 0 || c.HTTPTimeout <= 0 || c.GateWindow < 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfiguration)
	}
	if c.DatabaseURL != "" {
		if _, err := journal.ParseDSN(c.DatabaseURL); err != nil {
			return fmt.Errorf("%w: DATABASE_URL: %v", ErrConfiguration, err)
		}
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or console, got %q", ErrConfiguration, c.LogFormat)
	}
	return nil
}

// parser keeps the first error so FromEnv can read every variable in one pass.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
	}
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}
