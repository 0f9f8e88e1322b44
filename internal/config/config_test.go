package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// allEnvVars lists every variable applyEnvVars reads.
var allEnvVars = []string{
	"PROVIDER",
	"SMTP_LISTEN", "SMTP_HOSTNAME", "SMTP_MAILBOX", "SMTP_BANNER", "SMTP_MAX_MESSAGE_SIZE", "SMTP_IMPLICIT_TLS",
	"RELAY_STAFF_ADDRESS", "RELAY_STAFF_NAMES", "RELAY_SIGNATURE", "RELAY_SEND_TIMEOUT",
	"TLS_DIR", "TLS_CERT_FILE", "TLS_KEY_FILE", "TLS_SELF_SIGNED",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER",
	"SMARTHOST_ADDR", "SMARTHOST_USERNAME", "SMARTHOST_PASSWORD", "SMARTHOST_SOCKS_PROXY", "SMARTHOST_HELO",
	"ADMIN_LISTEN", "ADMIN_DB_PATH",
	"LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_HOSTNAME", "web0.small-web.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SMTP.Listen != ":25" {
		t.Errorf("SMTP.Listen: got %q, want %q", cfg.SMTP.Listen, ":25")
	}
	if cfg.SMTP.MaxMessageSize != 51200 {
		t.Errorf("SMTP.MaxMessageSize: got %d, want %d", cfg.SMTP.MaxMessageSize, 51200)
	}
	if cfg.SMTP.Banner != "Welcome to the web0 SMTP Server" {
		t.Errorf("SMTP.Banner: got %q", cfg.SMTP.Banner)
	}
	if cfg.SMTP.Mailbox != "computer@web0.small-web.org" {
		t.Errorf("SMTP.Mailbox: got %q, want computer@web0.small-web.org", cfg.SMTP.Mailbox)
	}
	if cfg.SMTP.ImplicitTLS {
		t.Error("SMTP.ImplicitTLS: got true, want false")
	}
	if cfg.Relay.Signature != "Computer @ web0.small-web.org" {
		t.Errorf("Relay.Signature: got %q", cfg.Relay.Signature)
	}
	if cfg.Relay.SendTimeout != 30*time.Second {
		t.Errorf("Relay.SendTimeout: got %v, want 30s", cfg.Relay.SendTimeout)
	}
	if cfg.Relay.StaffAddress != "" {
		t.Errorf("Relay.StaffAddress: got %q, want empty", cfg.Relay.StaffAddress)
	}
	if cfg.Admin.Listen != ":8025" || cfg.Admin.DBPath != "web0.db" {
		t.Errorf("Admin: got %+v", cfg.Admin)
	}
	if cfg.Provider != "" {
		t.Errorf("Provider: got %q, want empty", cfg.Provider)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.TLS.SelfSigned {
		t.Error("TLS.SelfSigned: got true, want false")
	}
}

func TestLoad_HostnameFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Hostname == "" {
		t.Fatal("SMTP.Hostname should default to the machine hostname")
	}
	if cfg.SMTP.Mailbox != "computer@"+cfg.SMTP.Hostname {
		t.Errorf("SMTP.Mailbox: got %q, want computer@%s", cfg.SMTP.Mailbox, cfg.SMTP.Hostname)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVIDER", "smarthost")
	t.Setenv("SMTP_LISTEN", ":9025")
	t.Setenv("SMTP_HOSTNAME", "mail.example.com")
	t.Setenv("SMTP_MAILBOX", "robot@example.com")
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "10485760")
	t.Setenv("SMTP_IMPLICIT_TLS", "true")
	t.Setenv("RELAY_STAFF_ADDRESS", "team@example.com")
	t.Setenv("RELAY_SEND_TIMEOUT", "5s")
	t.Setenv("TLS_DIR", "/srv/tls")
	t.Setenv("TLS_SELF_SIGNED", "1")
	t.Setenv("SES_REGION", "us-east-1")
	t.Setenv("GRAPH_TENANT_ID", "tid-123")
	t.Setenv("SMARTHOST_ADDR", "smtp.example.com:587")
	t.Setenv("SMARTHOST_SOCKS_PROXY", "127.0.0.1:9050")
	t.Setenv("ADMIN_DB_PATH", "/var/lib/web0/web0.db")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "smarthost" {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, "smarthost")
	}
	if cfg.SMTP.Listen != ":9025" {
		t.Errorf("SMTP.Listen: got %q, want %q", cfg.SMTP.Listen, ":9025")
	}
	if cfg.SMTP.Mailbox != "robot@example.com" {
		t.Errorf("SMTP.Mailbox: got %q", cfg.SMTP.Mailbox)
	}
	if cfg.SMTP.MaxMessageSize != 10485760 {
		t.Errorf("SMTP.MaxMessageSize: got %d", cfg.SMTP.MaxMessageSize)
	}
	if !cfg.SMTP.ImplicitTLS {
		t.Error("SMTP.ImplicitTLS: got false, want true")
	}
	if cfg.Relay.StaffAddress != "team@example.com" {
		t.Errorf("Relay.StaffAddress: got %q", cfg.Relay.StaffAddress)
	}
	if cfg.Relay.SendTimeout != 5*time.Second {
		t.Errorf("Relay.SendTimeout: got %v", cfg.Relay.SendTimeout)
	}
	if cfg.Relay.Signature != "Computer @ mail.example.com" {
		t.Errorf("Relay.Signature: got %q", cfg.Relay.Signature)
	}
	if cfg.TLS.Dir != "/srv/tls" || !cfg.TLS.SelfSigned {
		t.Errorf("TLS: got %+v", cfg.TLS)
	}
	if cfg.SES.Region != "us-east-1" || cfg.Graph.TenantID != "tid-123" {
		t.Errorf("provider settings not applied: ses=%+v graph=%+v", cfg.SES, cfg.Graph)
	}
	if cfg.Smarthost.Addr != "smtp.example.com:587" || cfg.Smarthost.SOCKSProxy != "127.0.0.1:9050" {
		t.Errorf("Smarthost: got %+v", cfg.Smarthost)
	}
	if cfg.Admin.DBPath != "/var/lib/web0/web0.db" {
		t.Errorf("Admin.DBPath: got %q", cfg.Admin.DBPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidValuesIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RELAY_SEND_TIMEOUT", "soon")
	t.Setenv("SMTP_IMPLICIT_TLS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SMTP.MaxMessageSize != 51200 {
		t.Errorf("SMTP.MaxMessageSize: got %d, want default", cfg.SMTP.MaxMessageSize)
	}
	if cfg.Relay.SendTimeout != 30*time.Second {
		t.Errorf("Relay.SendTimeout: got %v, want default", cfg.Relay.SendTimeout)
	}
	if cfg.SMTP.ImplicitTLS {
		t.Error("SMTP.ImplicitTLS: got true, want default false")
	}
}

func TestLoadFromFile(t *testing.T) {
	yamlContent := `
provider: graph
smtp:
  listen: ":3025"
  hostname: "web0.small-web.org"
  max_message_size: 5242880
relay:
  staff_address: "hello+web0@small-tech.org"
  staff_names: "the web0 team"
  send_timeout: 45s
graph:
  tenant_id: "yaml-tenant"
  client_id: "yaml-client"
  client_secret: "yaml-secret"
  sender: "yaml@example.com"
tls:
  cert_file: "/yaml/cert.pem"
  key_file: "/yaml/key.pem"
admin:
  listen: "127.0.0.1:8080"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// Clear env vars to ensure YAML values come through
	clearEnv(t)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "graph" {
		t.Errorf("Provider: got %q, want graph", cfg.Provider)
	}
	if cfg.SMTP.Listen != ":3025" {
		t.Errorf("SMTP.Listen: got %q, want %q", cfg.SMTP.Listen, ":3025")
	}
	if cfg.SMTP.Mailbox != "computer@web0.small-web.org" {
		t.Errorf("SMTP.Mailbox: got %q", cfg.SMTP.Mailbox)
	}
	if cfg.SMTP.MaxMessageSize != 5242880 {
		t.Errorf("SMTP.MaxMessageSize: got %d, want %d", cfg.SMTP.MaxMessageSize, 5242880)
	}
	if cfg.Relay.StaffAddress != "hello+web0@small-tech.org" || cfg.Relay.StaffNames != "the web0 team" {
		t.Errorf("Relay: got %+v", cfg.Relay)
	}
	if cfg.Relay.SendTimeout != 45*time.Second {
		t.Errorf("Relay.SendTimeout: got %v, want 45s", cfg.Relay.SendTimeout)
	}
	if cfg.Graph.TenantID != "yaml-tenant" {
		t.Errorf("Graph.TenantID: got %q, want %q", cfg.Graph.TenantID, "yaml-tenant")
	}
	if cfg.TLS.CertFile != "/yaml/cert.pem" {
		t.Errorf("TLS.CertFile: got %q", cfg.TLS.CertFile)
	}
	if cfg.Admin.Listen != "127.0.0.1:8080" || cfg.Admin.DBPath != "web0.db" {
		t.Errorf("Admin: got %+v", cfg.Admin)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	yamlContent := `
smtp:
  listen: ":3025"
  banner: "yaml banner"
logging:
  level: "warn"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	clearEnv(t)
	t.Setenv("SMTP_LISTEN", ":9025")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env var should override YAML
	if cfg.SMTP.Listen != ":9025" {
		t.Errorf("SMTP.Listen: got %q, want %q (env should override YAML)", cfg.SMTP.Listen, ":9025")
	}
	// Empty env var should NOT override YAML value
	if cfg.SMTP.Banner != "yaml banner" {
		t.Errorf("SMTP.Banner: got %q, want %q (empty env should not override YAML)", cfg.SMTP.Banner, "yaml banner")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q (env should override YAML)", cfg.Logging.Level, "error")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.SMTP.Hostname = "web0.small-web.org"
	cfg.Relay.StaffAddress = "hello+web0@small-tech.org"
	cfg.applyDerived()
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "mailbox without at", modify: func(c *Config) { c.SMTP.Mailbox = "computer" }, wantErr: "smtp.mailbox"},
		{name: "zero message size", modify: func(c *Config) { c.SMTP.MaxMessageSize = 0 }, wantErr: "max_message_size"},
		{name: "missing staff", modify: func(c *Config) { c.Relay.StaffAddress = "" }, wantErr: "staff_address"},
		{name: "zero timeout", modify: func(c *Config) { c.Relay.SendTimeout = 0 }, wantErr: "send_timeout"},
		{name: "cert without key", modify: func(c *Config) { c.TLS.CertFile = "/c.pem" }, wantErr: "set together"},
		{name: "unknown provider", modify: func(c *Config) { c.Provider = "carrier-pigeon" }, wantErr: "unknown provider"},
		{name: "smarthost without addr", modify: func(c *Config) { c.Provider = "smarthost" }, wantErr: "smarthost.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate(): unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(): got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Relay.StaffAddress = ""
	cfg.SMTP.MaxMessageSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"staff_address", "max_message_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestGraphConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		graph  GraphConfig
		expect bool
	}{
		{
			name:   "all set",
			graph:  GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "sender@example.com"},
			expect: true,
		},
		{
			name:   "missing tenant_id",
			graph:  GraphConfig{ClientID: "c", ClientSecret: "s", Sender: "sender@example.com"},
			expect: false,
		},
		{
			name:   "missing client_secret",
			graph:  GraphConfig{TenantID: "t", ClientID: "c", Sender: "sender@example.com"},
			expect: false,
		},
		{
			name:   "none set",
			graph:  GraphConfig{},
			expect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Graph: tt.graph}
			if got := cfg.GraphConfigured(); got != tt.expect {
				t.Errorf("GraphConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestSESConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ses    SESConfig
		expect bool
	}{
		{name: "region and sender set", ses: SESConfig{Region: "us-east-1", Sender: "ses@example.com"}, expect: true},
		{name: "missing region", ses: SESConfig{Sender: "ses@example.com"}, expect: false},
		{name: "missing sender", ses: SESConfig{Region: "us-east-1"}, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{SES: tt.ses}
			if got := cfg.SESConfigured(); got != tt.expect {
				t.Errorf("SESConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestProviderEnvVar(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     string
	}{
		{name: "ses", envValue: "ses", want: "ses"},
		{name: "smarthost", envValue: "smarthost", want: "smarthost"},
		{name: "uppercase SES", envValue: "SES", want: "ses"},
		{name: "empty", envValue: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("PROVIDER", tt.envValue)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Provider != tt.want {
				t.Errorf("Provider: got %q, want %q", cfg.Provider, tt.want)
			}
		})
	}
}
