package conf

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"webauth-backend/internal/provider/local"

	"gopkg.in/yaml.v3"
)

// Config is the config structure.
type Config struct {
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
	Auth   Auth   `yaml:"auth"`
}

// Server is the server config.
type Server struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`
}

// Log is the logging config.
type Log struct {
	Level string `yaml:"level"`
}

// Auth is the authentication config.
type Auth struct {
	DefaultProvider string     `yaml:"default_provider"`
	Token           Token      `yaml:"token"`
	Redirects       Redirects  `yaml:"redirects"`
	StateStore      StateStore `yaml:"state_store"`
	Providers       Providers  `yaml:"providers"`
}

// Token configures the session cookies.
type Token struct {
	Type        string        `yaml:"type"`
	MaxAge      time.Duration `yaml:"max_age"`
	Secure      bool          `yaml:"secure"`
	Domain      string        `yaml:"domain"`
	CookieNames CookieNames   `yaml:"cookie_names"`
}

// CookieNames overrides the session cookie names.
type CookieNames struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	Provider     string `yaml:"provider"`
	TokenType    string `yaml:"token_type"`
}

// Redirects are the post-login and failed-login destinations.
type Redirects struct {
	IfLoggedIn    string `yaml:"if_logged_in"`
	IfNotLoggedIn string `yaml:"if_not_logged_in"`
}

// StateStore selects where consumed OAuth state ids are recorded.
type StateStore struct {
	Driver        string `yaml:"driver"` // memory, sqlite or redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// Providers holds one optional block per provider. A nil block disables it.
type Providers struct {
	Local  *local.Config `yaml:"local"`
	Github *OAuth        `yaml:"github"`
	Google *OAuth        `yaml:"google"`
}

// OAuth configures an OAuth provider. Empty URLs use the provider's public ones.
type OAuth struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	SigningSecret string   `yaml:"signing_secret"`
	Scopes        []string `yaml:"scopes"`
	AuthURL       string   `yaml:"auth_url"`
	TokenURL      string   `yaml:"token_url"`
	UserInfoURL   string   `yaml:"userinfo_url"`
	RevokeURL     string   `yaml:"revoke_url"`
	EmailURL      string   `yaml:"email_url"`
	VerifyIDToken bool     `yaml:"verify_id_token"`
}

// Load loads config from file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":52538"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:52538"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Auth.Token.Type == "" {
		c.Auth.Token.Type = "Bearer"
	}
	if c.Auth.Token.MaxAge == 0 {
		c.Auth.Token.MaxAge = 30 * 24 * time.Hour
	}
	if c.Auth.Redirects.IfLoggedIn == "" {
		c.Auth.Redirects.IfLoggedIn = "/"
	}
	if c.Auth.Redirects.IfNotLoggedIn == "" {
		c.Auth.Redirects.IfNotLoggedIn = "/login"
	}
	if c.Auth.StateStore.Driver == "" {
		c.Auth.StateStore.Driver = "memory"
	}
	if c.Auth.StateStore.Path == "" {
		c.Auth.StateStore.Path = "data/auth_state.db"
	}
	if c.Auth.StateStore.Prefix == "" {
		c.Auth.StateStore.Prefix = "webauth:state"
	}
	if l := c.Auth.Providers.Local; l != nil && l.TokenType == "" {
		l.TokenType = c.Auth.Token.Type
	}
}

// applyEnv overrides config from env vars if present.
func (c *Config) applyEnv() {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if baseURL := os.Getenv("SERVER_BASE_URL"); baseURL != "" {
		c.Server.BaseURL = baseURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if p := os.Getenv("AUTH_DEFAULT_PROVIDER"); p != "" {
		c.Auth.DefaultProvider = p
	}
	if secure := os.Getenv("AUTH_COOKIE_SECURE"); secure != "" {
		if v, err := strconv.ParseBool(secure); err == nil {
			c.Auth.Token.Secure = v
		}
	}
	if driver := os.Getenv("AUTH_STATE_STORE"); driver != "" {
		c.Auth.StateStore.Driver = driver
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Auth.StateStore.RedisAddr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Auth.StateStore.RedisPassword = pw
	}

	if g := c.Auth.Providers.Github; g != nil {
		g.applyEnv("GITHUB")
	}
	if g := c.Auth.Providers.Google; g != nil {
		g.applyEnv("GOOGLE")
	}
}

func (o *OAuth) applyEnv(prefix string) {
	if id := os.Getenv(prefix + "_CLIENT_ID"); id != "" {
		o.ClientID = id
	}
	if secret := os.Getenv(prefix + "_CLIENT_SECRET"); secret != "" {
		o.ClientSecret = secret
	}
	if secret := os.Getenv(prefix + "_SIGNING_SECRET"); secret != "" {
		o.SigningSecret = secret
	}
}

func (c *Config) validate() error {
	p := c.Auth.Providers
	if p.Local == nil && p.Github == nil && p.Google == nil {
		return fmt.Errorf("auth.providers: at least one provider must be configured")
	}
	switch c.Auth.StateStore.Driver {
	case "memory", "sqlite":
	case "redis":
		if c.Auth.StateStore.RedisAddr == "" {
			return fmt.Errorf("auth.state_store: redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("auth.state_store: unknown driver %q", c.Auth.StateStore.Driver)
	}
	return nil
}
