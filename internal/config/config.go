package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imbridge/internal/feishu"
	"imbridge/internal/wecom"
)

// Config is the full gateway configuration. Everything has a workable
// default; a missing file yields a config that serves health endpoints
// and nothing else.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Channels ChannelsConfig `yaml:"channels"`
	Commands CommandsConfig `yaml:"commands"`
	Agent    AgentConfig    `yaml:"agent"`
	Probe    ProbeConfig    `yaml:"probe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	DataDir string `yaml:"dataDir"`
}

type ChannelsConfig struct {
	Feishu *feishu.Config `yaml:"feishu,omitempty"`
	WeCom  *wecom.Config  `yaml:"wecom,omitempty"`
}

type CommandsConfig struct {
	// UseAccessGroups defaults to on; explicit false turns command
	// authorization checks off.
	UseAccessGroups *bool `yaml:"useAccessGroups,omitempty"`
}

func (c CommandsConfig) AccessGroupsEnabled() bool {
	return c.UseAccessGroups == nil || *c.UseAccessGroups
}

type AgentConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

type ProbeConfig struct {
	// Schedule is a cron expression; empty disables scheduled probes.
	Schedule string   `yaml:"schedule"`
	Timeout  Duration `yaml:"timeout"`
}

// Duration parses Go duration strings ("30s", "2m") and bare numbers
// of seconds from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if seconds, err := parseSeconds(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseSeconds(raw string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    "8090",
			DataDir: ".data",
		},
		Probe: ProbeConfig{
			Timeout: Duration(5 * time.Second),
		},
	}
}

// Load reads a YAML config file and applies environment overrides. An
// empty path loads defaults plus environment only; a missing explicit
// path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = Duration(5 * time.Second)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("IMBRIDGE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("IMBRIDGE_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("IMBRIDGE_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("IMBRIDGE_AGENT_ENDPOINT"); v != "" {
		cfg.Agent.Endpoint = v
	}
	if v := os.Getenv("IMBRIDGE_VERBOSE"); v == "1" || strings.EqualFold(v, "true") {
		cfg.Logging.Verbose = true
	}
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
