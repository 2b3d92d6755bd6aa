package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration for salesbot.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Store      StoreConfig               `json:"store"`
	Agent      AgentConfig               `json:"agent"`
	Compliance ComplianceConfig          `json:"compliance"`
	Queue      QueueConfig               `json:"queue"`
	Scheduler  SchedulerConfig           `json:"scheduler"`
	Channels   ChannelsConfig            `json:"channels"`
	Metrics    MetricsConfig             `json:"metrics"`
	Notify     NotifyConfig              `json:"notify"`
}

type GeneralConfig struct {
	LogLevel           string   `json:"logLevel"`
	LogFile            string   `json:"logFile,omitempty"`
	DefaultProvider    string   `json:"defaultProvider"`
	FailoverChain      []string `json:"failoverChain,omitempty"` // provider failover order
	MaxConcurrentLeads int      `json:"maxConcurrentLeads"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	Kind            string `json:"kind"` // "openai" | "ollama" | "langchain"; defaults to the provider name
	Backend         string `json:"backend,omitempty"` // langchain only: "openai" | "ollama"
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
}

// ResolvedKind returns the backend implementation for a provider entry.
func (pc ProviderConfig) ResolvedKind(name string) string {
	if pc.Kind != "" {
		return pc.Kind
	}
	return name
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// AgentConfig shapes the prompts and entry-point behaviour of the orchestrator.
type AgentConfig struct {
	CompanyName           string          `json:"companyName"`
	AgentName             string          `json:"agentName"`
	ProductSummary        string          `json:"productSummary,omitempty"`
	HistoryWindow         int             `json:"historyWindow"`
	SentimentHistory      int             `json:"sentimentHistory"`
	SentimentWindowDays   int             `json:"sentimentWindowDays"`
	SentimentAnalyzer     string          `json:"sentimentAnalyzer,omitempty"` // "vader" (default) or "keyword"
	Temperature           float64         `json:"temperature"`
	MaxTokens             MaxTokensConfig `json:"maxTokens"`
	MaxFollowups          int             `json:"maxFollowups"`
	FollowupIntervalHours int             `json:"followupIntervalHours"`
	MaxRecommendations    int             `json:"maxRecommendations"`
	SystemPromptExtra     string          `json:"systemPromptExtra,omitempty"`
}

// MaxTokensConfig caps the generated length per entry point.
type MaxTokensConfig struct {
	Inbound   int `json:"inbound"`
	Greet     int `json:"greet"`
	Followup  int `json:"followup"`
	Close     int `json:"close"`
	Objection int `json:"objection"`
}

type ComplianceConfig struct {
	PatternsFile   string `json:"patternsFile,omitempty"`
	ScreenOutbound bool   `json:"screenOutbound"`
}

type QueueConfig struct {
	Workers    int `json:"workers"`
	DrainBatch int `json:"drainBatch"`
	WarnSize   int `json:"warnSize"`
}

type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	FollowupSpec string `json:"followupSpec"`
	DrainSpec    string `json:"drainSpec"`
	MeetingLink  string `json:"meetingLink,omitempty"`
}

type ChannelsConfig struct {
	Email    EmailConfig    `json:"email"`
	SMS      SMSConfig      `json:"sms"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	WebChat  WebChatConfig  `json:"webchat"`
	Webhook  WebhookConfig  `json:"webhook"`
	// Outbound throttle shared by all senders.
	SendRatePerSecond float64 `json:"sendRatePerSecond"`
	SendBurst         int     `json:"sendBurst"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

type SMSConfig struct {
	Enabled    bool   `json:"enabled"`
	GatewayURL string `json:"gatewayUrl"`
	APIKey     string `json:"apiKey,omitempty"`
	From       string `json:"from"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

// WhatsApp callbacks are served on the webhook server at WebhookPath.
type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	APIBase       string `json:"apiBase,omitempty"`
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"accessToken"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

type WebChatConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// NotifyConfig mirrors human escalations to Slack when a channel is set.
type NotifyConfig struct {
	SlackChannel string `json:"slackChannel,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.salesbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".salesbot"
	}
	return filepath.Join(home, ".salesbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Compliance.PatternsFile = ExpandPath(cfg.Compliance.PatternsFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var providerKinds = map[string]bool{"openai": true, "ollama": true, "langchain": true}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentLeads < 1 || cfg.General.MaxConcurrentLeads > 100 {
		errs = append(errs, "general.maxConcurrentLeads must be between 1 and 100")
	}

	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		kind := pc.ResolvedKind(name)
		if !providerKinds[kind] {
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be one of: openai, ollama, langchain", name))
		}
		if kind == "langchain" && pc.DefaultModel == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: defaultModel is required for langchain", name))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	a := cfg.Agent
	if a.HistoryWindow < 1 {
		errs = append(errs, "agent.historyWindow must be >= 1")
	}
	if a.SentimentHistory < 0 {
		errs = append(errs, "agent.sentimentHistory must be >= 0")
	}
	if a.SentimentWindowDays < 1 {
		errs = append(errs, "agent.sentimentWindowDays must be >= 1")
	}
	switch a.SentimentAnalyzer {
	case "", "vader", "keyword":
	default:
		errs = append(errs, fmt.Sprintf("agent.sentimentAnalyzer %q must be vader or keyword", a.SentimentAnalyzer))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}
	if a.MaxFollowups < 0 {
		errs = append(errs, "agent.maxFollowups must be >= 0")
	}
	if a.FollowupIntervalHours < 0 {
		errs = append(errs, "agent.followupIntervalHours must be >= 0")
	}
	for name, n := range map[string]int{
		"inbound": a.MaxTokens.Inbound, "greet": a.MaxTokens.Greet, "followup": a.MaxTokens.Followup,
		"close": a.MaxTokens.Close, "objection": a.MaxTokens.Objection,
	} {
		if n < 1 {
			errs = append(errs, fmt.Sprintf("agent.maxTokens.%s must be >= 1", name))
		}
	}

	if cfg.Queue.Workers < 1 {
		errs = append(errs, "queue.workers must be >= 1")
	}
	if cfg.Queue.DrainBatch < 1 {
		errs = append(errs, "queue.drainBatch must be >= 1")
	}

	if cfg.Scheduler.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		for field, spec := range map[string]string{"followupSpec": cfg.Scheduler.FollowupSpec, "drainSpec": cfg.Scheduler.DrainSpec} {
			if spec == "" {
				continue
			}
			if _, err := parser.Parse(spec); err != nil {
				errs = append(errs, fmt.Sprintf("scheduler.%s: %v", field, err))
			}
		}
	}

	ch := cfg.Channels
	if ch.Email.Enabled && (ch.Email.Host == "" || ch.Email.From == "") {
		errs = append(errs, "channels.email: host and from are required when enabled")
	}
	if ch.SMS.Enabled && ch.SMS.GatewayURL == "" {
		errs = append(errs, "channels.sms.gatewayUrl is required when enabled")
	}
	if ch.WhatsApp.Enabled && (ch.WhatsApp.PhoneNumberID == "" || ch.WhatsApp.AccessToken == "") {
		errs = append(errs, "channels.whatsapp: phoneNumberId and accessToken are required when enabled")
	}
	if ch.Webhook.Enabled && ch.Webhook.Secret == "" {
		errs = append(errs, "channels.webhook.secret is required when enabled")
	}
	for name, port := range map[string]int{
		"channels.email.port": ch.Email.Port, "channels.webchat.port": ch.WebChat.Port, "channels.webhook.port": ch.Webhook.Port,
	} {
		if port < 0 || port > 65535 {
			errs = append(errs, name+" must be between 0 and 65535")
		}
	}
	if ch.SendRatePerSecond < 0 {
		errs = append(errs, "channels.sendRatePerSecond must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
