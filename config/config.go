package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default sync settings
	defaultCleanOldLogs = 30 // days
	defaultLogDir       = "logs"
	defaultEnv          = "production"
	defaultSiteName     = "gosync"

	// Default collaborator settings
	defaultSMTPPort         = 25
	defaultMailTimeout      = 30 * time.Second
	defaultStatementTimeout = 8 * time.Hour
	defaultExchange         = "gosync.alerts"

	// Default monitoring settings
	defaultMetricsPrefix = "gosync"
	defaultJobName       = "gosync"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultLogOutput = "stderr"
)

// Config represents the complete application configuration
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Sync       SyncConfig       `yaml:"sync"`
	Mail       MailConfig       `yaml:"mail"`
	Database   DatabaseConfig   `yaml:"database"`
	Broker     BrokerConfig     `yaml:"broker"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig identifies the installation in alert titles and report subjects.
type SiteConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	MailFrom string `yaml:"mail_from"`
	// Sandbox is an optional label shown in alert messages, e.g. the
	// name of a staging copy.
	Sandbox string `yaml:"sandbox"`
}

// SyncConfig holds the settings a pipeline run is configured from. Every
// field can be overridden per run through the pipeline's setters.
type SyncConfig struct {
	AllowOverlapping bool           `yaml:"allow_overlapping"`
	ProfileSQL       bool           `yaml:"profile_sql"`
	EmailAlertsTo    []string       `yaml:"email_alerts_to"`
	EmailFinalLogTo  []string       `yaml:"email_final_log_to"`
	Telegram         TelegramConfig `yaml:"telegram"`

	// CleanOldLogs is the log retention in days. Zero disables cleaning.
	CleanOldLogs     int  `yaml:"clean_old_logs"`
	SendOutputToEcho bool `yaml:"send_output_to_echo"`

	// Env overrides Site.Env for pipeline runs.
	Env string `yaml:"env"`

	// LogDir is the root log directory; each pipeline writes to LogDir/<name>.
	LogDir string `yaml:"log_dir"`

	// Copied from the site section by Config.SyncSettings.
	SiteName string `yaml:"-"`
	MailFrom string `yaml:"-"`
	Sandbox  string `yaml:"-"`
}

// TelegramConfig holds the alert bot credentials. Alerts are only sent
// when both are set.
type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled returns true when both the bot token and channel are configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChannelID != ""
}

// MailConfig holds SMTP settings used for alert and report mails.
type MailConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DatabaseConfig holds the PostgreSQL connection used by sql steps.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`

	// StatementTimeout is applied to every connection before the run so
	// long steps are not cut off by the server default.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// BrokerConfig holds RabbitMQ settings for publishing alerts.
type BrokerConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// MonitoringConfig holds metrics and monitoring settings
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// LoggingConfig defines logging behavior settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns a configuration with every default applied. YAML is
// decoded on top of it so that explicit zero values (clean_old_logs: 0)
// are kept.
func Default() Config {
	cfg := Config{
		Sync: SyncConfig{CleanOldLogs: defaultCleanOldLogs},
	}
	cfg.SetDefaults()
	return cfg
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Sync.CleanOldLogs < 0 {
		return fmt.Errorf("sync.clean_old_logs must not be negative")
	}
	for _, addr := range append(append([]string(nil), c.Sync.EmailAlertsTo...), c.Sync.EmailFinalLogTo...) {
		if !strings.Contains(addr, "@") {
			return fmt.Errorf("invalid email address: %q", addr)
		}
	}
	if (c.Sync.Telegram.BotToken == "") != (c.Sync.Telegram.ChannelID == "") {
		return fmt.Errorf("telegram bot_token and channel_id must be set together")
	}
	if len(c.Sync.EmailAlertsTo) > 0 || len(c.Sync.EmailFinalLogTo) > 0 {
		if c.Mail.Host == "" {
			return fmt.Errorf("mail host is required when email recipients are configured")
		}
		if c.Site.MailFrom == "" {
			return fmt.Errorf("site mail_from is required when email recipients are configured")
		}
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return fmt.Errorf("invalid mail port: %d", c.Mail.Port)
	}
	if c.Database.StatementTimeout < 0 {
		return fmt.Errorf("database statement timeout must not be negative")
	}
	if c.Broker.URL != "" && c.Broker.Exchange == "" {
		return fmt.Errorf("broker exchange is required when broker url is set")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Site.Name == "" {
		c.Site.Name = defaultSiteName
	}
	if c.Site.Env == "" {
		c.Site.Env = defaultEnv
	}
	if c.Sync.LogDir == "" {
		c.Sync.LogDir = defaultLogDir
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = defaultSMTPPort
	}
	if c.Mail.Timeout == 0 {
		c.Mail.Timeout = defaultMailTimeout
	}
	if c.Database.StatementTimeout == 0 {
		c.Database.StatementTimeout = defaultStatementTimeout
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = defaultExchange
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	// Set logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
}

// SyncSettings returns the sync section completed with the site fields a
// pipeline needs for alert titles and mail headers.
func (c *Config) SyncSettings() SyncConfig {
	s := c.Sync
	s.EmailAlertsTo = append([]string(nil), c.Sync.EmailAlertsTo...)
	s.EmailFinalLogTo = append([]string(nil), c.Sync.EmailFinalLogTo...)
	if s.Env == "" {
		s.Env = c.Site.Env
	}
	s.SiteName = c.Site.Name
	s.MailFrom = c.Site.MailFrom
	s.Sandbox = c.Site.Sandbox
	return s
}

// ApplyEnv overrides configuration values from environment variables.
// lookup is usually os.LookupEnv. Every malformed value is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	setBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}

	setBool("SYNC_ALLOW_OVERLAPPING", &c.Sync.AllowOverlapping)
	setBool("SYNC_PROFILE_SQL", &c.Sync.ProfileSQL)
	setBool("SYNC_SEND_OUTPUT_TO_ECHO", &c.Sync.SendOutputToEcho)
	setList("SYNC_EMAIL_ALERTS_TO", &c.Sync.EmailAlertsTo)
	setList("SYNC_EMAIL_FINAL_LOG_TO", &c.Sync.EmailFinalLogTo)
	setString("TELEGRAM_ALERTS_BOT", &c.Sync.Telegram.BotToken)
	setString("TELEGRAM_ALERTS_CHANNEL", &c.Sync.Telegram.ChannelID)
	setString("APP_ENV", &c.Site.Env)
	setString("APP_NAME", &c.Site.Name)
	setString("MAIL_FROM_ADDRESS", &c.Site.MailFrom)

	if v, ok := lookup("SYNC_CLEAN_OLD_LOGS"); ok && v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SYNC_CLEAN_OLD_LOGS: %w", err))
		} else {
			c.Sync.CleanOldLogs = days
		}
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load reads the YAML config file at the given path, applies environment
// overrides and returns the validated Config.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	// An empty file leaves the defaults in place.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return finish(cfg, lookup)
}

// FromEnv returns the default configuration with environment overrides
// applied, for runs started without a config file.
func FromEnv() (Config, error) {
	return finish(Default(), os.LookupEnv)
}

func finish(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
