package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	// DevJWTSecret is used outside production when no secret is configured.
	DevJWTSecret = "labflow-dev-secret"
)

// Config is the process configuration, built once at startup and passed down.
type Config struct {
	Env string `mapstructure:"env"`

	HTTP struct {
		Addr     string `mapstructure:"addr"`
		BasePath string `mapstructure:"base_path"`
		// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
		TrustProxy bool `mapstructure:"trust_proxy"`
	} `mapstructure:"http"`

	DB struct {
		Driver    string `mapstructure:"driver"`
		Workspace string `mapstructure:"workspace"`
		Host      string `mapstructure:"host"`
		Port      int    `mapstructure:"port"`
		User      string `mapstructure:"user"`
		Password  string `mapstructure:"password"`
		Name      string `mapstructure:"name"`
		SSLMode   string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	JWT struct {
		Secret    string        `mapstructure:"secret"`
		ExpiresIn time.Duration `mapstructure:"expires_in"`
		Issuer    string        `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Mail struct {
		Provider       string `mapstructure:"provider"`
		From           string `mapstructure:"from"`
		SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
		SendGridURL    string `mapstructure:"sendgrid_url"`
	} `mapstructure:"mail"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Reports struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"reports"`

	Auth struct {
		LoginRatePerMinute int `mapstructure:"login_rate_per_minute"`
	} `mapstructure:"auth"`

	Bootstrap struct {
		AdminEmail    string `mapstructure:"admin_email"`
		AdminPassword string `mapstructure:"admin_password"`
		AdminName     string `mapstructure:"admin_name"`
	} `mapstructure:"bootstrap"`
}

// Keys lists every configuration key; each is bound to LABFLOW_<KEY> with dots as underscores.
var Keys = []string{
	"env",
	"http.addr", "http.base_path", "http.trust_proxy",
	"db.driver", "db.workspace", "db.host", "db.port", "db.user", "db.password", "db.name", "db.sslmode",
	"jwt.secret", "jwt.expires_in", "jwt.issuer",
	"mail.provider", "mail.from", "mail.sendgrid_api_key", "mail.sendgrid_url",
	"redis.addr", "redis.password", "redis.db",
	"log.level", "log.format",
	"reports.dir",
	"auth.login_rate_per_minute",
	"bootstrap.admin_email", "bootstrap.admin_password", "bootstrap.admin_name",
}

// SetDefaults registers default values and env bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("http.addr", "127.0.0.1:8080")
	v.SetDefault("http.base_path", "/api")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.workspace", ".")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("jwt.expires_in", "24h")
	v.SetDefault("jwt.issuer", "labflow")
	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.from", "no-reply@labflow.local")
	v.SetDefault("mail.sendgrid_url", "https://api.sendgrid.com")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("auth.login_rate_per_minute", 10)
	v.SetDefault("bootstrap.admin_name", "Administrator")

	v.SetEnvPrefix("LABFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range Keys {
		_ = v.BindEnv(k)
	}
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Mail.Provider = strings.ToLower(strings.TrimSpace(c.Mail.Provider))
	if c.JWT.ExpiresIn <= 0 {
		c.JWT.ExpiresIn = 24 * time.Hour
	}
	if c.JWT.Secret == "" && c.Env != EnvProduction {
		c.JWT.Secret = DevJWTSecret
	}
}

// Production reports whether env is production.
func (c *Config) Production() bool { return c.Env == EnvProduction }

// Development reports whether env is development.
func (c *Config) Development() bool { return c.Env == EnvDevelopment }

// UsesDevSecret reports whether the development signing secret is in effect.
func (c *Config) UsesDevSecret() bool { return c.JWT.Secret == DevJWTSecret }

// Validate checks value ranges and, in production, that every required key is set.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("config.env must be one of development, production, test")
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config.db.driver must be sqlite or postgres")
	}
	switch c.Mail.Provider {
	case "log", "sendgrid":
	default:
		return fmt.Errorf("config.mail.provider must be log or sendgrid")
	}
	if c.Auth.LoginRatePerMinute < 0 {
		return fmt.Errorf("config.auth.login_rate_per_minute must not be negative")
	}
	var missing []string
	if c.Mail.Provider == "sendgrid" && c.Mail.SendGridAPIKey == "" {
		missing = append(missing, "mail.sendgrid_api_key")
	}
	if c.Production() {
		if c.JWT.Secret == "" || c.JWT.Secret == DevJWTSecret {
			missing = append(missing, "jwt.secret")
		}
		if c.DB.Driver == "postgres" {
			for _, kv := range []struct{ key, val string }{
				{"db.host", c.DB.Host},
				{"db.user", c.DB.User},
				{"db.password", c.DB.Password},
				{"db.name", c.DB.Name},
			} {
				if strings.TrimSpace(kv.val) == "" {
					missing = append(missing, kv.key)
				}
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
