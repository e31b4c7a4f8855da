package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr          = ":8000"
	DefaultGRPCAddr      = ":9090"
	DefaultMaxIterations = 5
	DefaultMaxTokens     = 4096
	DefaultToolTimeout   = 30 * time.Second
	DefaultCacheTTL      = 24 * time.Hour
	DefaultExchange      = "idpportal.runs"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Models       ModelsConfig       `yaml:"models"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Events       EventsConfig       `yaml:"events"`
	Schedules    []ScheduleConfig   `yaml:"schedules"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Scripts      ScriptsConfig      `yaml:"scripts"`
	Requests     RequestsConfig     `yaml:"requests"`
	Backends     BackendsConfig     `yaml:"backends"`
	Log          LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	// DevMode trusts the X-User header for the request actor.
	DevMode bool `yaml:"dev_mode"`
}

type ModelsConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	BaseURL   string            `yaml:"base_url"`
	APIKey    string            `yaml:"api_key"`
	API       string            `yaml:"api"`
	Bedrock   bool              `yaml:"bedrock"`
	AWSRegion string            `yaml:"aws_region"`
	Models    []ModelDefinition `yaml:"models"`
}

type ModelDefinition struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Reasoning     bool   `yaml:"reasoning"`
	Tools         bool   `yaml:"tools"`
	ContextWindow int    `yaml:"context_window"`
	MaxTokens     int    `yaml:"max_tokens"`
}

type OrchestratorConfig struct {
	// Model is a "provider/model" reference used for both supervisor
	// decisions and handler turns.
	Model         string   `yaml:"model"`
	MaxIterations int      `yaml:"max_iterations"`
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`
	ToolTimeout   string   `yaml:"tool_timeout"`
	MaxToolOutput int      `yaml:"max_tool_output"`
	// LenientDecisions strips markdown code fences around the decision
	// object before parsing.
	LenientDecisions bool     `yaml:"lenient_decisions"`
	Rules            []string `yaml:"rules"`
}

// ToolTimeoutDuration returns the per-tool timeout, falling back to the
// default when unset or invalid.
func (o OrchestratorConfig) ToolTimeoutDuration() time.Duration {
	if o.ToolTimeout == "" {
		return DefaultToolTimeout
	}
	d, err := time.ParseDuration(o.ToolTimeout)
	if err != nil || d <= 0 {
		return DefaultToolTimeout
	}
	return d
}

type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql or memory.
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
	// MaxMessages caps stored messages per conversation; 0 keeps all.
	MaxMessages int `yaml:"max_messages"`
	// MaxIdleDays prunes conversations idle for longer; 0 disables pruning.
	MaxIdleDays int `yaml:"max_idle_days"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

func (r RedisConfig) TTLDuration() time.Duration {
	if r.TTL == "" {
		return DefaultCacheTTL
	}
	d, err := time.ParseDuration(r.TTL)
	if err != nil || d <= 0 {
		return DefaultCacheTTL
	}
	return d
}

type EventsConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type ScheduleConfig struct {
	Name           string `yaml:"name"`
	Cron           string `yaml:"cron"`
	Message        string `yaml:"message"`
	ConversationID string `yaml:"conversation_id"`
	// Notify is a Slack channel that receives the run's final message.
	Notify  string `yaml:"notify"`
	Enabled *bool  `yaml:"enabled"`
}

// SchedulerConfig governs schedules created at runtime through the
// scheduler agent. Empty Approvers lets every user manage them.
type SchedulerConfig struct {
	Approvers      []string `yaml:"approvers"`
	MaxJobsPerUser int      `yaml:"max_jobs_per_user"`
}

// IsEnabled reports whether the schedule should run. Unset means enabled.
func (s ScheduleConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type ScriptsConfig struct {
	Dir   string         `yaml:"dir"`
	Tools []ScriptConfig `yaml:"tools"`
}

type ScriptConfig struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	File        string        `yaml:"file"`
	Parameters  []ScriptParam `yaml:"parameters"`
}

type ScriptParam struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Path resolves the script file against the scripts directory.
func (s ScriptsConfig) Path(file string) string {
	if filepath.IsAbs(file) || s.Dir == "" {
		return file
	}
	return filepath.Join(s.Dir, file)
}

// RequestsConfig points at a directory of request package YAML files.
type RequestsConfig struct {
	Dir string `yaml:"dir"`
}

type BackendsConfig struct {
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ArgoCD     EndpointConfig   `yaml:"argocd"`
	Flux       FluxConfig       `yaml:"flux"`
	GitHub     GitHubConfig     `yaml:"github"`
	Jira       JiraConfig       `yaml:"jira"`
	PagerDuty  PagerDutyConfig  `yaml:"pagerduty"`
	Slack      SlackConfig      `yaml:"slack"`
	Vault      EndpointConfig   `yaml:"vault"`
	Rancher    EndpointConfig   `yaml:"rancher"`
	Backstage  EndpointConfig   `yaml:"backstage"`
	Policy     EndpointConfig   `yaml:"policy"`
}

// EndpointConfig is the common shape of an HTTP backend: a base URL and a
// bearer token.
type EndpointConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Insecure skips TLS verification for self-signed endpoints.
	Insecure bool `yaml:"insecure"`
}

type KubernetesConfig struct {
	Kubectl    string `yaml:"kubectl"`
	Context    string `yaml:"context"`
	Kubeconfig string `yaml:"kubeconfig"`
	Disabled   bool   `yaml:"disabled"`
}

type KafkaConfig struct {
	Namespace string `yaml:"namespace"`
	Cluster   string `yaml:"cluster"`
	Disabled  bool   `yaml:"disabled"`
}

// FluxConfig points the flux agent at the namespace holding the Flux
// controllers. Flux resources are reached through kubectl.
type FluxConfig struct {
	Namespace string `yaml:"namespace"`
	Disabled  bool   `yaml:"disabled"`
}

type GitHubConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Org   string `yaml:"org"`
}

type JiraConfig struct {
	URL   string `yaml:"url"`
	Email string `yaml:"email"`
	Token string `yaml:"token"`
}

type PagerDutyConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	ServiceID string `yaml:"service_id"`
	From      string `yaml:"from"`
}

type SlackConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	DefaultChannel string `yaml:"default_channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandEnvIn walks every string reachable from v and expands ${VAR}
// references in place.
func expandEnvIn(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandEnvIn(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				expandEnvIn(v.Field(i))
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandEnvIn(v.Index(i))
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			elem := reflect.New(v.Type().Elem()).Elem()
			elem.Set(v.MapIndex(key))
			expandEnvIn(elem)
			v.SetMapIndex(key, elem)
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(expandEnv(v.String()))
		}
	}
}

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading env file %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvIn(reflect.ValueOf(&cfg))
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration that runs locally with a SQLite
// transcript store and no optional infrastructure.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
	if c.Models.Providers == nil {
		c.Models.Providers = make(map[string]ProviderConfig)
	}
	if c.Orchestrator.MaxIterations == 0 {
		c.Orchestrator.MaxIterations = DefaultMaxIterations
	}
	if c.Orchestrator.MaxTokens == 0 {
		c.Orchestrator.MaxTokens = DefaultMaxTokens
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Database.DataDir = filepath.Join(home, ".idpportal")
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = DefaultExchange
	}
	if c.Backends.Kubernetes.Kubectl == "" {
		c.Backends.Kubernetes.Kubectl = "kubectl"
	}
	if c.Backends.Kafka.Namespace == "" {
		c.Backends.Kafka.Namespace = "kafka"
	}
	if c.Backends.Kafka.Cluster == "" {
		c.Backends.Kafka.Cluster = "kafka-cluster"
	}
	if c.Backends.Flux.Namespace == "" {
		c.Backends.Flux.Namespace = "flux-system"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports every configuration problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Orchestrator.Model == "" {
		errs = append(errs, errors.New("orchestrator.model is required"))
	} else {
		providerID, _, ok := strings.Cut(c.Orchestrator.Model, "/")
		if !ok || providerID == "" {
			errs = append(errs, fmt.Errorf("orchestrator.model %q: expected provider/model", c.Orchestrator.Model))
		} else if _, exists := c.Models.Providers[providerID]; !exists {
			errs = append(errs, fmt.Errorf("orchestrator.model %q: provider %q is not configured", c.Orchestrator.Model, providerID))
		}
	}
	if c.Orchestrator.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_iterations must be at least 1, got %d", c.Orchestrator.MaxIterations))
	}
	if c.Orchestrator.ToolTimeout != "" {
		if _, err := time.ParseDuration(c.Orchestrator.ToolTimeout); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator.tool_timeout: %w", err))
		}
	}

	switch c.Database.Driver {
	case "sqlite", "memory":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: expected sqlite, postgres, mysql or memory", c.Database.Driver))
	}

	if c.Redis.TTL != "" {
		if _, err := time.ParseDuration(c.Redis.TTL); err != nil {
			errs = append(errs, fmt.Errorf("redis.ttl: %w", err))
		}
	}

	seen := make(map[string]bool)
	for i, s := range c.Schedules {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Cron == "" || s.Message == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: cron and message are required", i))
		}
	}

	for i, t := range c.Scripts.Tools {
		if t.Name == "" || t.File == "" {
			errs = append(errs, fmt.Errorf("scripts.tools[%d]: name and file are required", i))
		}
	}

	return errors.Join(errs...)
}
