package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/latoulicious/tarulink/pkg/logging"
	"gopkg.in/yaml.v3"
)

const (
	DefaultNodesFile     = "nodes.yaml"
	DefaultCommandPrefix = "!"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

var (
	ErrDiscordTokenNotSet = errors.New("DISCORD_TOKEN is not set")
	ErrNoNodes            = errors.New("no lavalink nodes configured")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

type Config struct {
	DiscordToken  string
	CommandPrefix string
	// OwnerID may run owner-only commands
	OwnerID string
	// SlashGuildID registers slash commands in one guild instead of globally
	SlashGuildID string

	NodesFile string
	Nodes     []NodeConfig

	Logging logging.Config

	// SessionDBPath is the SQLite file holding node session ids, "" disables it
	SessionDBPath string
	// AdminAddr is the listen address of the admin API, "" disables it
	AdminAddr string

	QueryPrefix   string
	ResumeTimeout time.Duration
}

// nodesFile is the layout of LAVALINK_NODES_FILE
type nodesFile struct {
	Nodes []NodeConfig `yaml:"nodes"`
}

// LoadConfig reads the given .env files (".env" when none are given) and
// the process environment, then the node list. Non-empty process variables
// win over file values. A missing default .env is not an error.
func LoadConfig(envFiles ...string) (*Config, error) {
	explicit := len(envFiles) > 0
	if !explicit {
		envFiles = []string{".env"}
	}

	fileEnv, err := godotenv.Read(envFiles...)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env files: %w", err)
		}
		fileEnv = map[string]string{}
	}

	getenv := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fileEnv[key]
	}

	cfg, err := fromEnv(getenv)
	if err != nil {
		return nil, err
	}

	if err := cfg.loadNodes(getenv); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv(getenv func(string) string) (*Config, error) {
	discordToken := getenv("DISCORD_TOKEN")
	if discordToken == "" {
		return nil, ErrDiscordTokenNotSet
	}

	cfg := &Config{
		DiscordToken:  discordToken,
		CommandPrefix: getenv("COMMAND_PREFIX"),
		OwnerID:       getenv("OWNER_ID"),
		SlashGuildID:  getenv("SLASH_GUILD_ID"),
		NodesFile:     getenv("LAVALINK_NODES_FILE"),
		Logging: logging.Config{
			Level:  getenv("LOG_LEVEL"),
			Format: getenv("LOG_FORMAT"),
			Output: getenv("LOG_OUTPUT"),
		},
		SessionDBPath: getenv("SESSION_DB_PATH"),
		AdminAddr:     getenv("ADMIN_ADDR"),
		QueryPrefix:   getenv("QUERY_PREFIX"),
	}

	if v := getenv("RESUME_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: RESUME_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.ResumeTimeout = d
	}

	return cfg, nil
}

// parseDuration accepts Go durations and bare numbers of seconds
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// loadNodes reads the YAML node list. Without a file, a single node can be
// given with LAVALINK_ORIGIN and LAVALINK_PASSWORD.
func (c *Config) loadNodes(getenv func(string) string) error {
	path := c.NodesFile
	if path == "" {
		path = DefaultNodesFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var file nodesFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		c.Nodes = file.Nodes
	case errors.Is(err, os.ErrNotExist) && c.NodesFile == "":
		if origin := getenv("LAVALINK_ORIGIN"); origin != "" {
			c.Nodes = []NodeConfig{{
				Name:     "main",
				Origin:   origin,
				Password: getenv("LAVALINK_PASSWORD"),
			}}
		}
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	c.NodesFile = path
	return nil
}

// ApplyDefaults fills unset fields with their defaults
func (c *Config) ApplyDefaults() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = DefaultCommandPrefix
	}
	if c.NodesFile == "" {
		c.NodesFile = DefaultNodesFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate validates the configuration and returns every problem found
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrDiscordTokenNotSet
	}
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}

	var errs []string
	seen := make(map[string]struct{}, len(c.Nodes))
	for i, n := range c.Nodes {
		if err := n.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("node %d: %v", i, err))
		}
		if _, ok := seen[n.Name]; ok && n.Name != "" {
			errs = append(errs, fmt.Sprintf("node %d: duplicate name '%s'", i, n.Name))
		}
		seen[n.Name] = struct{}{}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log format '%s' must be 'text' or 'json'", c.Logging.Format))
	}
	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errs = append(errs, fmt.Sprintf("admin address: %v", err))
		}
	}
	if c.ResumeTimeout < 0 {
		errs = append(errs, "resume timeout must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}
	return nil
}
