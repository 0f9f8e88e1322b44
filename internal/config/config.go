// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 50 KiB in bytes.
const defaultMaxMessageSize = 51200

// Config holds the complete application configuration.
type Config struct {
	Provider  string          `yaml:"provider"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Relay     RelayConfig     `yaml:"relay"`
	TLS       TLSConfig       `yaml:"tls"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	Smarthost SmarthostConfig `yaml:"smarthost"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Mailbox        string `yaml:"mailbox"`
	Banner         string `yaml:"banner"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	ImplicitTLS    bool   `yaml:"implicit_tls"`
}

// RelayConfig holds the reply settings.
type RelayConfig struct {
	StaffAddress string        `yaml:"staff_address"`
	StaffNames   string        `yaml:"staff_names"`
	Signature    string        `yaml:"signature"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
}

// TLSConfig holds TLS certificate locations. CertFile and KeyFile override
// the files found in Dir.
type TLSConfig struct {
	Dir        string `yaml:"dir"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	SelfSigned bool   `yaml:"self_signed"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SmarthostConfig holds SMTP submission configuration.
type SmarthostConfig struct {
	Addr       string `yaml:"addr"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	SOCKSProxy string `yaml:"socks_proxy"`
	Helo       string `yaml:"helo"`
}

// AdminConfig holds the admin HTTP listener and signatory database settings.
type AdminConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	cfg.applyDerived()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()
	cfg.applyDerived()

	return cfg, nil
}

// Validate reports every setting that would stop the relay from working.
func (c *Config) Validate() error {
	var errs []error

	if c.SMTP.Mailbox == "" || !strings.Contains(c.SMTP.Mailbox, "@") {
		errs = append(errs, fmt.Errorf("smtp.mailbox %q is not an email address", c.SMTP.Mailbox))
	}
	if c.SMTP.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("smtp.max_message_size must be positive, got %d", c.SMTP.MaxMessageSize))
	}
	if c.Relay.StaffAddress == "" {
		errs = append(errs, errors.New("relay.staff_address is required"))
	}
	if c.Relay.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("relay.send_timeout must be positive, got %s", c.Relay.SendTimeout))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	switch c.Provider {
	case "", "ses", "graph", "smarthost", "stdout":
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.Provider == "smarthost" && c.Smarthost.Addr == "" {
		errs = append(errs, errors.New("smarthost.addr is required for the smarthost provider"))
	}

	return errors.Join(errs...)
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Keys are
// optional; the default AWS credential chain is used without them.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SmarthostConfigured returns true if a submission server is set.
func (c *Config) SmarthostConfigured() bool {
	return c.Smarthost.Addr != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":25"
	c.SMTP.Banner = "Welcome to the web0 SMTP Server"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Relay.StaffNames = "Laura and Aral at Small Technology Foundation"
	c.Relay.SendTimeout = 30 * time.Second
	c.Admin.Listen = ":8025"
	c.Admin.DBPath = "web0.db"
	c.Logging.Level = "info"
}

// applyDerived fills settings whose defaults depend on other settings.
func (c *Config) applyDerived() {
	if c.SMTP.Hostname == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			c.SMTP.Hostname = h
		} else {
			c.SMTP.Hostname = "localhost"
		}
	}
	if c.SMTP.Mailbox == "" {
		c.SMTP.Mailbox = "computer@" + c.SMTP.Hostname
	}
	if c.Relay.Signature == "" {
		c.Relay.Signature = "Computer @ " + c.SMTP.Hostname
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SMTP.Listen, "SMTP_LISTEN")
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME")
	setString(&c.SMTP.Mailbox, "SMTP_MAILBOX")
	setString(&c.SMTP.Banner, "SMTP_BANNER")
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}
	setBool(&c.SMTP.ImplicitTLS, "SMTP_IMPLICIT_TLS")

	setString(&c.Relay.StaffAddress, "RELAY_STAFF_ADDRESS")
	setString(&c.Relay.StaffNames, "RELAY_STAFF_NAMES")
	setString(&c.Relay.Signature, "RELAY_SIGNATURE")
	if v := os.Getenv("RELAY_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Relay.SendTimeout = d
		}
	}

	setString(&c.TLS.Dir, "TLS_DIR")
	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")
	setBool(&c.TLS.SelfSigned, "TLS_SELF_SIGNED")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.Smarthost.Addr, "SMARTHOST_ADDR")
	setString(&c.Smarthost.Username, "SMARTHOST_USERNAME")
	setString(&c.Smarthost.Password, "SMARTHOST_PASSWORD")
	setString(&c.Smarthost.SOCKSProxy, "SMARTHOST_SOCKS_PROXY")
	setString(&c.Smarthost.Helo, "SMARTHOST_HELO")

	setString(&c.Admin.Listen, "ADMIN_LISTEN")
	setString(&c.Admin.DBPath, "ADMIN_DB_PATH")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
