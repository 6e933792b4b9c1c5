package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Authz    AuthzConfig
	Approval ApprovalConfig
	NATS     NATSConfig
	Terms    TermsConfig
	Log      LogConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port               int
	GRPCPort           int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	RequestTimeout     time.Duration
	LoginPath          string
	SuperAdminHomePath string
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver      string
	URL         string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	Migrate     bool
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

type AuthzConfig struct {
	Mode          string
	AllowDisabled bool
	ModelPath     string
	PolicyPath    string
}

type ApprovalConfig struct {
	Expiry time.Duration
	// ManagerResolution is "none" or "team".
	ManagerResolution string
}

type NATSConfig struct {
	URL    string
	Stream string
}

type TermsConfig struct {
	CacheTTL time.Duration
}

type LogConfig struct {
	Level string
	File  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "be-contracts-access")
	v.SetDefault("SERVICE_VERSION", "dev")
	v.SetDefault("ENVIRONMENT", "development")

	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("GRPC_PORT", 9090)
	v.SetDefault("HTTP_READ_TIMEOUT", "15s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "15s")
	v.SetDefault("HTTP_IDLE_TIMEOUT", "60s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "20s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOGIN_PATH", "/login")
	v.SetDefault("SUPERADMIN_HOME_PATH", "/superadmin")

	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_MAX_CONN_TIME", "30m")
	v.SetDefault("DB_MAX_IDLE_TIME", "5m")
	v.SetDefault("DB_HEALTH_CHECK", "30s")
	v.SetDefault("DB_MIGRATE", false)

	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("AUTHZ_MODE", "enforce")
	v.SetDefault("AUTHZ_UNSAFE_ALLOW_DISABLED", false)

	v.SetDefault("APPROVAL_EXPIRY", "168h")
	v.SetDefault("APPROVAL_MANAGER_RESOLUTION", "none")

	v.SetDefault("NATS_STREAM", "NOTIFICATIONS")
	v.SetDefault("TERMS_CACHE_TTL", "10m")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("SERVICE_NAME"),
			Version:     v.GetString("SERVICE_VERSION"),
			Environment: v.GetString("ENVIRONMENT"),
		},
		Server: ServerConfig{
			Port:               v.GetInt("HTTP_PORT"),
			GRPCPort:           v.GetInt("GRPC_PORT"),
			ReadTimeout:        v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout:       v.GetDuration("HTTP_WRITE_TIMEOUT"),
			IdleTimeout:        v.GetDuration("HTTP_IDLE_TIMEOUT"),
			ShutdownTimeout:    v.GetDuration("SHUTDOWN_TIMEOUT"),
			RequestTimeout:     v.GetDuration("REQUEST_TIMEOUT"),
			LoginPath:          v.GetString("LOGIN_PATH"),
			SuperAdminHomePath: v.GetString("SUPERADMIN_HOME_PATH"),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(v.GetString("STORE_DRIVER")),
			URL:         v.GetString("DATABASE_URL"),
			MaxConns:    v.GetInt32("DB_MAX_CONNS"),
			MinConns:    v.GetInt32("DB_MIN_CONNS"),
			MaxConnTime: v.GetDuration("DB_MAX_CONN_TIME"),
			MaxIdleTime: v.GetDuration("DB_MAX_IDLE_TIME"),
			HealthCheck: v.GetDuration("DB_HEALTH_CHECK"),
			Migrate:     v.GetBool("DB_MIGRATE"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			JWTIssuer: v.GetString("JWT_ISSUER"),
		},
		Authz: AuthzConfig{
			Mode:          strings.ToLower(strings.TrimSpace(v.GetString("AUTHZ_MODE"))),
			AllowDisabled: v.GetBool("AUTHZ_UNSAFE_ALLOW_DISABLED"),
			ModelPath:     v.GetString("AUTHZ_MODEL_PATH"),
			PolicyPath:    v.GetString("AUTHZ_POLICY_PATH"),
		},
		Approval: ApprovalConfig{
			Expiry:            v.GetDuration("APPROVAL_EXPIRY"),
			ManagerResolution: strings.ToLower(v.GetString("APPROVAL_MANAGER_RESOLUTION")),
		},
		NATS: NATSConfig{
			URL:    v.GetString("NATS_URL"),
			Stream: v.GetString("NATS_STREAM"),
		},
		Terms: TermsConfig{
			CacheTTL: v.GetDuration("TERMS_CACHE_TTL"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("config: invalid STORE_DRIVER %q (expected postgres|memory)", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}

	switch c.Authz.Mode {
	case "enforce", "shadow":
	case "disabled":
		if !c.Authz.AllowDisabled {
			return fmt.Errorf("config: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
	default:
		return fmt.Errorf("config: invalid AUTHZ_MODE %q (expected enforce|shadow|disabled)", c.Authz.Mode)
	}

	switch c.Approval.ManagerResolution {
	case "none", "team":
	default:
		return fmt.Errorf("config: invalid APPROVAL_MANAGER_RESOLUTION %q (expected none|team)", c.Approval.ManagerResolution)
	}
	if c.Approval.Expiry <= 0 {
		return fmt.Errorf("config: APPROVAL_EXPIRY must be positive")
	}
	return nil
}
