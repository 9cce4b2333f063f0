// Package config loads the gateway's YAML configuration and applies the
// environment overrides operators already use.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/org/checkoutgate/internal/crypto"
	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/merchant"
	"github.com/org/checkoutgate/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at the config file.
const EnvConfigPath = "CHECKOUTGATE_CONFIG"

// DefaultPath is used when EnvConfigPath is unset.
const DefaultPath = "config.yaml"

type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	LogLevel      string `yaml:"log_level"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`

	CookieEncKey string `yaml:"cookie_enc_key"`
	ProxyURL     string `yaml:"proxy_url"`

	DecisionsDir string `yaml:"decisions_dir"`
	PurchasesDir string `yaml:"purchases_dir"`
	LogsDir      string `yaml:"logs_dir"`
	CookiesDir   string `yaml:"cookies_dir"`
	LimitsPath   string `yaml:"limits_path"`

	AdminUser     string `yaml:"admin_user"`
	AdminPass     string `yaml:"admin_pass"`
	InboundSecret string `yaml:"inbound_signature_secret"`

	RequireApproval        bool          `yaml:"require_approval"`
	AllowDecisionOverwrite bool          `yaml:"allow_decision_overwrite"`
	DriverTimeout          time.Duration `yaml:"driver_timeout"`
	RateLimitRPS           int           `yaml:"rate_limit_rps"`
	RateLimitBurst         int           `yaml:"rate_limit_burst"`
	TrustProxyHeaders      bool          `yaml:"trust_proxy_headers"`

	Sites map[string]merchant.Credentials `yaml:"sites"`
}

// Default returns the configuration used for anything the file and the
// environment leave unset.
func Default() Config {
	return Config{
		ListenAddr:      ":5000",
		LogLevel:        "info",
		MigrationsDir:   "migrations",
		DecisionsDir:    "decisions",
		PurchasesDir:    "purchases",
		LogsDir:         "logs",
		CookiesDir:      ".cookies",
		LimitsPath:      "limits.json",
		RequireApproval: true,
		DriverTimeout:   20 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		Sites:           map[string]merchant.Credentials{},
	}
}

// Load reads path over the defaults, then applies environment overrides and
// validates the result. A missing file is not an error. ${VAR} references in
// the file are expanded from the environment; a bare $ is kept as written.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvRefs(strings.ReplaceAll(string(raw), "\r\n", "\n"), os.Getenv)
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, errclass.ErrConfiguration.WithMessagef("parsing %s: %v", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	default:
		return Config{}, errclass.ErrConfiguration.WithMessagef("reading %s: %v", path, err)
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs replaces ${VAR} with its value. Unlike os.ExpandEnv it leaves
// $VAR and $$ alone, so secrets containing $ survive.
func expandEnvRefs(s string, getenv func(string) string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		return getenv(ref[2 : len(ref)-1])
	})
}

// ApplyEnv overrides fields from environment variables. Empty values are
// ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.DBUrl, "DATABASE_URL")
	set(&c.CookieEncKey, "COOKIE_ENC_KEY")
	set(&c.ProxyURL, "PROXY_URL")
	set(&c.DecisionsDir, "DECISIONS_DIR")
	set(&c.PurchasesDir, "PURCHASES_DIR")
	set(&c.LogsDir, "LOGS_DIR")
	set(&c.CookiesDir, "COOKIES_DIR")
	set(&c.LimitsPath, "LIMITS_PATH")
	set(&c.AdminUser, "ADMIN_USER")
	set(&c.AdminPass, "ADMIN_PASS")
	set(&c.InboundSecret, "INBOUND_SIGNATURE_SECRET")

	if c.Sites == nil {
		c.Sites = map[string]merchant.Credentials{}
	}
	for _, site := range models.Sites {
		prefix := strings.ToUpper(string(site))
		creds := c.Sites[string(site)]
		set(&creds.User, prefix+"_USER")
		set(&creds.Password, prefix+"_PASS")
		set(&creds.ProbeURL, prefix+"_PROBE_URL")
		if creds != (merchant.Credentials{}) {
			c.Sites[string(site)] = creds
		}
	}
}

// Validate reports the first configuration problem as a configuration error.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errclass.ErrConfiguration.WithMessage("listen_addr is required")
	}
	if c.CookieEncKey == "" {
		return errclass.ErrConfiguration.WithMessage("cookie_enc_key is required (or COOKIE_ENC_KEY env var)")
	}
	if _, err := crypto.ParseKey(c.CookieEncKey); err != nil {
		return err
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errclass.ErrConfiguration.WithMessage("tls_cert and tls_key must be set together")
	}
	if c.DriverTimeout <= 0 {
		return errclass.ErrConfiguration.WithMessage("driver_timeout must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errclass.ErrConfiguration.WithMessage("rate_limit_rps and rate_limit_burst must be positive")
	}
	if (c.AdminUser == "") != (c.AdminPass == "") {
		return errclass.ErrConfiguration.WithMessage("admin_user and admin_pass must be set together")
	}
	for name := range c.Sites {
		if _, err := models.ParseSite(name); err != nil {
			return errclass.ErrConfiguration.WithMessagef("sites: unsupported site %q", name)
		}
	}
	return nil
}

// AdminAuthEnabled reports whether admin routes require Basic-Auth.
func (c Config) AdminAuthEnabled() bool {
	return c.AdminUser != "" && c.AdminPass != ""
}

// Credentials returns per-site merchant credentials keyed by site.
func (c Config) Credentials() map[models.Site]merchant.Credentials {
	out := make(map[models.Site]merchant.Credentials, len(c.Sites))
	for name, creds := range c.Sites {
		site, err := models.ParseSite(name)
		if err != nil {
			continue
		}
		out[site] = creds
	}
	return out
}

// Path returns the config file location from the environment.
func Path() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

func (c Config) String() string {
	return fmt.Sprintf("listen=%s db=%t proxy=%t require_approval=%t", c.ListenAddr, c.DBUrl != "", c.ProxyURL != "", c.RequireApproval)
}
