package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tuannvm/jira-pulse/internal/logging"
	"github.com/tuannvm/jira-pulse/internal/models"
	"github.com/tuannvm/jira-pulse/internal/normalize"
)

// EnvPrefix prefixes every environment override, e.g. JIRA_PULSE_JIRA_BASE_URL.
const EnvPrefix = "JIRA_PULSE"

// Config holds the application configuration
type Config struct {
	Jira          JiraConfig           `mapstructure:"jira"`
	StatusMapping models.StatusMapping `mapstructure:"status_mapping"`
	RoleSettings  models.RoleSettings  `mapstructure:"role_settings"`
	Teams         []models.Team        `mapstructure:"teams"`

	Server  ServerConfig  `mapstructure:"server"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Auth    AuthConfig    `mapstructure:"auth"`
	History HistoryConfig `mapstructure:"history"`
	Sync    SyncConfig    `mapstructure:"sync"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Log     LogConfig     `mapstructure:"log"`
}

// JiraConfig is the issue source connection.
type JiraConfig struct {
	BaseURL               string   `mapstructure:"base_url"`
	Username              string   `mapstructure:"username"`
	Password              string   `mapstructure:"password"`
	VerifySSL             bool     `mapstructure:"verify_ssl"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	JQLFilters            []string `mapstructure:"jql_filters"`
	PageSize              int      `mapstructure:"page_size"`
}

// ServerConfig holds the listen addresses of the HTTP API and the A2A server.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	HTTPPort int    `mapstructure:"http_port"`
	A2APort  int    `mapstructure:"a2a_port"`
}

// AgentConfig describes the A2A agent card.
type AgentConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	URL     string `mapstructure:"url"`
}

// AuthConfig selects the A2A authentication provider.
type AuthConfig struct {
	Type      string `mapstructure:"type"` // "jwt", "apikey" or empty
	JWTSecret string `mapstructure:"jwt_secret"`
	APIKey    string `mapstructure:"api_key"`
}

// HistoryConfig locates the team issue history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SyncConfig schedules history recording. An empty Cron disables it.
type SyncConfig struct {
	Cron     string `mapstructure:"cron"`
	JQL      string `mapstructure:"jql"`
	Timezone string `mapstructure:"timezone"`
}

// LLMConfig configures the optional narrative rewrite.
type LLMConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Provider       string  `mapstructure:"provider"` // "openai" or "azure"
	Model          string  `mapstructure:"model"`
	APIKey         string  `mapstructure:"api_key"`
	ServiceURL     string  `mapstructure:"service_url"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// init loads environment variables from .env file
func init() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			logging.Debugf("Loaded configuration from %s file", path)
			return
		}
	}
	logging.Debugf("No .env file found. Using environment variables or defaults.")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.password", "")
	v.SetDefault("jira.verify_ssl", true)
	v.SetDefault("jira.request_timeout_seconds", 30)
	v.SetDefault("jira.jql_filters", []string{})
	v.SetDefault("jira.page_size", 50)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.a2a_port", 8081)

	v.SetDefault("agent.name", "JiraPulseReportAgent")
	v.SetDefault("agent.version", "1.0.0")
	v.SetDefault("agent.url", "http://localhost:8081")

	v.SetDefault("auth.type", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key", "")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "storage/team_issue_history.db")

	v.SetDefault("sync.cron", "")
	v.SetDefault("sync.jql", "")
	v.SetDefault("sync.timezone", "")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.service_url", "")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.temperature", 0.0)

	v.SetDefault("log.level", "info")
}

// Load reads the configuration. path may be empty, in which case
// JIRA_PULSE_CONFIG and then config/jira_pulse.yaml are tried; a missing
// default file is not an error. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("jira_pulse")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			logging.Warnf("No config file found, using defaults and environment")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Jira.BaseURL = strings.TrimRight(strings.TrimSpace(c.Jira.BaseURL), "/")
	c.Jira.JQLFilters = trimList(c.Jira.JQLFilters)
	if c.Jira.PageSize <= 0 {
		c.Jira.PageSize = 50
	}

	c.StatusMapping = models.StatusMapping{
		Todo:       trimList(c.StatusMapping.Todo),
		InProgress: trimList(c.StatusMapping.InProgress),
		Review:     trimList(c.StatusMapping.Review),
		Done:       trimList(c.StatusMapping.Done),
	}
	c.RoleSettings = models.RoleSettings{
		ProductManagerRoles: trimList(c.RoleSettings.ProductManagerRoles),
		DevManagerRoles:     trimList(c.RoleSettings.DevManagerRoles),
		DeveloperRoles:      trimList(c.RoleSettings.DeveloperRoles),
		QualityRoles:        trimList(c.RoleSettings.QualityRoles),
	}
	c.Teams = NormalizeTeams(c.Teams)
}

// NormalizeTeams trims team fields. A missing id falls back to the name and
// then to team_<position>; a missing name falls back to the id.
func NormalizeTeams(teams []models.Team) []models.Team {
	out := make([]models.Team, 0, len(teams))
	for i, team := range teams {
		id := strings.TrimSpace(team.ID)
		name := strings.TrimSpace(team.Name)
		if id == "" {
			id = name
		}
		if id == "" {
			id = fmt.Sprintf("team_%d", i+1)
		}
		if name == "" {
			name = id
		}
		out = append(out, models.Team{
			ID:      id,
			Name:    name,
			Owner:   strings.TrimSpace(team.Owner),
			Members: trimList(team.Members),
		})
	}
	return out
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ValidateJira reports the Jira keys required for fetching that are unset.
func (c *Config) ValidateJira() error {
	var missing []string
	if c.Jira.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if c.Jira.Username == "" {
		missing = append(missing, "username")
	}
	if c.Jira.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CoreSettings is the read-only snapshot passed to every normalization call.
func (c *Config) CoreSettings() normalize.Settings {
	mapping := c.StatusMapping
	roles := c.RoleSettings
	teams := make([]models.Team, len(c.Teams))
	copy(teams, c.Teams)
	return normalize.Settings{StatusMapping: &mapping, RoleSettings: &roles, Teams: teams}
}

// ServerAddr is host:port for the given port.
func (c *Config) ServerAddr(port int) string {
	return fmt.Sprintf("%s:%d", c.Server.Host, port)
}
