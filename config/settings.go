package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	DefaultAssistantID    = "asst_FihrukJSw8GEIpMQWGKLHTAG"
	DefaultModel          = "gpt-4o"
	DefaultBudget         = 120 * time.Second
	DefaultNotifyEndpoint = "https://l3i2ysl3fp2qkei5cu4nxtguuu0nlqxt.lambda-url.us-east-1.on.aws/"
	DefaultNotifyService  = "lambda"
	DefaultNotifyRegion   = "us-east-1"
	DefaultListenAddr     = ":8080"
	DefaultSessionTTL     = 30 * time.Minute
)

// Settings is the merged view of defaults, config file, environment and flags.
type Settings struct {
	Assistant    AssistantSettings    `koanf:"assistant" yaml:"assistant"`
	Orchestrator OrchestratorSettings `koanf:"orchestrator" yaml:"orchestrator"`
	Notify       NotifySettings       `koanf:"notify" yaml:"notify"`
	Fetch        FetchSettings        `koanf:"fetch" yaml:"fetch"`
	Server       ServerSettings       `koanf:"server" yaml:"server"`
	Log          LogSettings          `koanf:"log" yaml:"log"`
}

type AssistantSettings struct {
	ID            string `koanf:"id" yaml:"id"`
	Model         string `koanf:"model" yaml:"model"`
	OverrideModel bool   `koanf:"override_model" yaml:"override_model"`
	BaseURL       string `koanf:"base_url" yaml:"base_url,omitempty"`
}

type OrchestratorSettings struct {
	// Budget bounds the wall-clock duration of one reply, tool detours included.
	Budget time.Duration `koanf:"budget" yaml:"budget"`
}

type NotifySettings struct {
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	Service  string `koanf:"service" yaml:"service"`
	Region   string `koanf:"region" yaml:"region"`
}

type FetchSettings struct {
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	UserAgent string        `koanf:"user_agent" yaml:"user_agent,omitempty"`
}

type ServerSettings struct {
	Listen         string   `koanf:"listen" yaml:"listen"`
	Rate           float64  `koanf:"rate" yaml:"rate"`
	Burst          int      `koanf:"burst" yaml:"burst"`
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins"`
	// SessionTTL drops sessions idle for this long; zero keeps them.
	SessionTTL time.Duration `koanf:"session_ttl" yaml:"session_ttl"`
}

type LogSettings struct {
	Level string `koanf:"level" yaml:"level"`
}

// flagKeys maps command line flag names onto settings keys.
var flagKeys = map[string]string{
	"assistant-id": "assistant.id",
	"model":        "assistant.model",
	"budget":       "orchestrator.budget",
	"listen":       "server.listen",
	"log-level":    "log.level",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"assistant.id":             DefaultAssistantID,
		"assistant.model":          DefaultModel,
		"assistant.override_model": false,
		"assistant.base_url":       "",
		"orchestrator.budget":      DefaultBudget.String(),
		"notify.endpoint":          DefaultNotifyEndpoint,
		"notify.service":           DefaultNotifyService,
		"notify.region":            DefaultNotifyRegion,
		"fetch.timeout":            "0s",
		"fetch.user_agent":         "",
		"server.listen":            DefaultListenAddr,
		"server.rate":              2.0,
		"server.burst":             5,
		"server.allowed_origins":   []string{"*"},
		"server.session_ttl":       DefaultSessionTTL.String(),
		"log.level":                "info",
	}
}

// Default returns the built-in settings without consulting disk or environment.
func Default() *Settings {
	s, err := load("", nil, false)
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults do not decode: %v", err))
	}
	return s
}

// Load reads settings from the config file (missing file is fine), then
// PORTFOLIO_AGENT_* environment variables, then any flags the user set.
// A double underscore in an env name separates sections:
// PORTFOLIO_AGENT_ORCHESTRATOR__BUDGET=90s.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	if path == "" {
		p, err := GetConfigFile()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return load(path, flags, true)
}

func load(path string, flags *pflag.FlagSet, withEnv bool) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	if withEnv {
		if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("load environment: %w", err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func envKey(name, value string) (string, interface{}) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key == "config_dir" {
		return "", nil
	}
	key = strings.ReplaceAll(key, "__", ".")
	if key == "server.allowed_origins" {
		parts := strings.Split(value, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		return key, origins
	}
	return key, value
}

// Validate rejects settings the rest of the program cannot run with.
func (s *Settings) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Assistant.ID) == "" {
		problems = append(problems, "assistant.id is empty")
	}
	if s.Orchestrator.Budget <= 0 {
		problems = append(problems, "orchestrator.budget must be positive")
	}
	if strings.TrimSpace(s.Notify.Endpoint) == "" {
		problems = append(problems, "notify.endpoint is empty")
	}
	if s.Server.SessionTTL < 0 {
		problems = append(problems, "server.session_ttl cannot be negative")
	}
	if s.Server.Rate < 0 || s.Server.Burst < 0 {
		problems = append(problems, "server.rate and server.burst cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes settings to path as YAML, creating parent directories.
func Save(path string, s *Settings) error {
	if path == "" {
		p, err := GetConfigFile()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yamlv3.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadDotEnv copies KEY=VALUE pairs from .env files into the process
// environment without overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}
