package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultIntervalSecs    = 86400
	DefaultPollTimeoutSecs = 20
	DefaultNumRetries      = 2
	DefaultHTTPPort        = 8080
	DefaultStateDir        = "state"
	DefaultAuthHeader      = "x-api-key"
)

// Config is the top-level configuration for a feedrelay process.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Node  NodeConfig `yaml:"node"`
	Feeds []Feed     `yaml:"feeds"`
}

// NodeConfig holds process-wide settings shared by all feeds.
type NodeConfig struct {
	// HTTPPort is the port the REST API, peer WebSocket endpoint and
	// /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// StateDir is the directory holding one SQLite state file per feed.
	// Records in it survive restarts; a node resuming with prior state
	// replays a full resync to its peers before the first poll.
	StateDir string `yaml:"state_dir"`

	// Auth configures how incoming HTTP and peer requests authenticate.
	Auth AuthConfig `yaml:"auth"`

	// Watches holds notification rule and webhook delivery configuration.
	Watches WatchesConfig `yaml:"watches"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header the key is expected in.
	// Defaults to x-api-key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header or the default when unset.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAuthHeader
	}
	return a.Header
}

// WatchesConfig holds all notification rules and webhook targets.
type WatchesConfig struct {
	Rules    []WatchRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WatchRule defines a threshold-based notification condition evaluated
// against each feed after every poll cycle.
type WatchRule struct {
	// Name is the human-readable rule identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "consecutive_failures >= 3" or
	// "cert_days_left < 14". See internal/watch for the field list.
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after the rule fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Feed describes one polled feed node.
type Feed struct {
	// Name is the unique node identifier. It names the state file and the
	// WebSocket mount point (/ws/feeds/{name}).
	Name string `yaml:"name"`

	// SourceName is stamped into every record's sources attribute and into
	// withdraw payloads. Defaults to Name.
	SourceName string `yaml:"source_name"`

	// URL is the feed endpoint fetched once per cycle. http or https;
	// https certificates are always verified.
	URL string `yaml:"url"`

	// CChar marks comment lines: any line starting with this prefix
	// (after trimming) is skipped. Empty disables comment filtering.
	CChar string `yaml:"cchar"`

	// SplitChar, when set, splits each line and keeps the field at
	// SplitPos. Lines with too few fields are skipped.
	SplitChar string `yaml:"split_char"`
	SplitPos  int    `yaml:"split_pos"`

	// Attributes is the static attribute map copied onto every indicator
	// produced from this feed.
	Attributes map[string]any `yaml:"attributes"`

	// IntervalSecs is the poll period in seconds.
	IntervalSecs int `yaml:"interval"`

	// ForceUpdates emits an update for every refreshed record even when
	// its value is unchanged.
	ForceUpdates bool `yaml:"force_updates"`

	// PollTimeoutSecs bounds one fetch request, in seconds.
	PollTimeoutSecs int `yaml:"polling_timeout"`

	// NumRetries is how many fetch attempts are made per cycle before
	// giving up until the next scheduled cycle. Zero disables retrying.
	NumRetries int `yaml:"num_retries"`
}

// UnmarshalYAML decodes a Feed with per-field defaults applied first, so an
// explicit zero (e.g. num_retries: 0) is preserved while an absent key gets
// the default.
func (f *Feed) UnmarshalYAML(value *yaml.Node) error {
	type rawFeed Feed
	raw := rawFeed{
		IntervalSecs:    DefaultIntervalSecs,
		PollTimeoutSecs: DefaultPollTimeoutSecs,
		NumRetries:      DefaultNumRetries,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.SourceName == "" {
		raw.SourceName = raw.Name
	}
	*f = Feed(raw)
	return nil
}

// Interval returns the poll period as a Duration.
func (f Feed) Interval() time.Duration {
	return time.Duration(f.IntervalSecs) * time.Second
}

// PollingTimeout returns the per-fetch timeout as a Duration.
func (f Feed) PollingTimeout() time.Duration {
	return time.Duration(f.PollTimeoutSecs) * time.Second
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Node: NodeConfig{
			HTTPPort: DefaultHTTPPort,
			StateDir: DefaultStateDir,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Node.HTTPPort <= 0 || cfg.Node.HTTPPort > 65535 {
		return fmt.Errorf("node.http_port must be in 1..65535")
	}
	if cfg.Node.StateDir == "" {
		return fmt.Errorf("node.state_dir is required")
	}
	switch cfg.Node.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("node.auth: unknown mode %q", cfg.Node.Auth.Mode)
	}
	for i, r := range cfg.Node.Watches.Rules {
		if r.Name == "" {
			return fmt.Errorf("watches.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("watches.rules[%d] %q: condition is required", i, r.Name)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i, f := range cfg.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("feeds[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.URL == "" {
			return fmt.Errorf("feeds[%d] %q: url is required", i, f.Name)
		}
		u, err := url.Parse(f.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("feeds[%d] %q: url must be http or https", i, f.Name)
		}
		if f.IntervalSecs <= 0 {
			return fmt.Errorf("feeds[%d] %q: interval must be positive", i, f.Name)
		}
		if f.PollTimeoutSecs <= 0 {
			return fmt.Errorf("feeds[%d] %q: polling_timeout must be positive", i, f.Name)
		}
		if f.SplitPos < 0 {
			return fmt.Errorf("feeds[%d] %q: split_pos must not be negative", i, f.Name)
		}
		if f.NumRetries < 0 {
			return fmt.Errorf("feeds[%d] %q: num_retries must not be negative", i, f.Name)
		}
	}
	return nil
}
