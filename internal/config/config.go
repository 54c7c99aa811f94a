// Package config loads database and server configuration from environment
// variables. Credentials are stored but never included in logs, summaries,
// or tool output.
package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// Auth modes for the database connection.
const (
	AuthSQL               = "sql"
	AuthManagedIdentity   = "managed_identity"
	AuthDefaultCredential = "default_credential"
)

// Database drivers. SQLServer is the production target; SQLite exists for
// local development and tests (Database is then a file path or ":memory:").
const (
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// Database describes the one database this server connects to. Immutable
// after Load.
type Database struct {
	Server                  string        `env:"AZURE_SQL_SERVER"`
	Database                string        `env:"AZURE_SQL_DATABASE"`
	Driver                  string        `env:"AZURE_SQL_DRIVER,default=sqlserver"`
	AuthType                string        `env:"AZURE_SQL_AUTH_TYPE,default=sql"`
	Username                string        `env:"AZURE_SQL_USERNAME"`
	Password                string        `env:"AZURE_SQL_PASSWORD"`
	ManagedIdentityClientID string        `env:"AZURE_MANAGED_IDENTITY_CLIENT_ID"`
	Encrypt                 bool          `env:"AZURE_SQL_ENCRYPT,default=true"`
	TrustServerCertificate  bool          `env:"AZURE_SQL_TRUST_SERVER_CERTIFICATE,default=false"`
	ConnectTimeout          time.Duration `env:"AZURE_SQL_CONNECTION_TIMEOUT,default=30s"`
}

// Server holds transport and lifecycle tuning.
type Server struct {
	Transport       string        `env:"MCP_TRANSPORT,default=stdio"` // "stdio" or "http"
	Host            string        `env:"MCP_HTTP_HOST,default=127.0.0.1"`
	Port            int           `env:"MCP_HTTP_PORT,default=8000"`
	APIPath         string        `env:"MCP_API_PATH,default=/mcp"`
	PoolSize        int           `env:"CONNECTION_POOL_SIZE,default=0"` // 0 = pooling disabled (single session)
	MaxInFlight     int           `env:"MCP_MAX_CONCURRENT_REQUESTS,default=100"`
	RequestTimeout  time.Duration `env:"MCP_REQUEST_TIMEOUT,default=120s"`
	RetryAttempts   int           `env:"MCP_CONNECTION_RETRY_ATTEMPTS,default=3"`
	RetryDelay      time.Duration `env:"MCP_CONNECTION_RETRY_DELAY,default=2s"`
	ShutdownTimeout time.Duration `env:"MCP_GRACEFUL_SHUTDOWN_TIMEOUT,default=30s"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
}

// Config is the full process configuration.
type Config struct {
	DB     Database
	Server Server
}

// Load decodes configuration from the environment and validates it.
// Validation failures are configuration errors and must abort startup.
func Load() (*Config, error) {
	var c Config
	if err := envdecode.Decode(&c.DB); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, mcperr.Wrap(mcperr.KindConfiguration, "decoding database environment", err)
	}
	if err := envdecode.Decode(&c.Server); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, mcperr.Wrap(mcperr.KindConfiguration, "decoding server environment", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required fields per driver and auth mode.
func (c *Config) Validate() error {
	if err := c.DB.validate(); err != nil {
		return err
	}
	return c.Server.validate()
}

func (d *Database) validate() error {
	switch d.Driver {
	case DriverSQLServer:
		if strings.TrimSpace(d.Server) == "" {
			return mcperr.New(mcperr.KindConfiguration, "AZURE_SQL_SERVER is required")
		}
		if strings.TrimSpace(d.Database) == "" {
			return mcperr.New(mcperr.KindConfiguration, "AZURE_SQL_DATABASE is required")
		}
	case DriverSQLite:
		if strings.TrimSpace(d.Database) == "" {
			return mcperr.New(mcperr.KindConfiguration, "AZURE_SQL_DATABASE (sqlite path) is required")
		}
	default:
		return mcperr.Newf(mcperr.KindConfiguration, "unsupported driver %q", d.Driver)
	}

	switch d.AuthType {
	case AuthSQL:
		if d.Driver == DriverSQLServer {
			if strings.TrimSpace(d.Username) == "" {
				return mcperr.New(mcperr.KindConfiguration, "AZURE_SQL_USERNAME is required for sql authentication")
			}
			if strings.TrimSpace(d.Password) == "" {
				return mcperr.New(mcperr.KindConfiguration, "AZURE_SQL_PASSWORD is required for sql authentication")
			}
		}
	case AuthManagedIdentity, AuthDefaultCredential:
		// Token-based modes never carry a static secret into a DSN. The
		// client-id hint only makes sense for managed identity.
		if d.AuthType == AuthDefaultCredential && d.ManagedIdentityClientID != "" {
			return mcperr.New(mcperr.KindConfiguration,
				"AZURE_MANAGED_IDENTITY_CLIENT_ID is only valid with managed_identity authentication")
		}
	default:
		return mcperr.Newf(mcperr.KindConfiguration, "unknown auth type %q", d.AuthType)
	}

	if d.ConnectTimeout <= 0 {
		return mcperr.New(mcperr.KindConfiguration, "connection timeout must be positive")
	}
	return nil
}

func (s *Server) validate() error {
	switch s.Transport {
	case "stdio", "http":
	default:
		return mcperr.Newf(mcperr.KindConfiguration, "unknown transport %q (want stdio or http)", s.Transport)
	}
	if s.Port < 1 || s.Port > 65535 {
		return mcperr.Newf(mcperr.KindConfiguration, "invalid port %d", s.Port)
	}
	if !strings.HasPrefix(s.APIPath, "/") {
		return mcperr.Newf(mcperr.KindConfiguration, "API path must start with '/': %q", s.APIPath)
	}
	if s.PoolSize < 0 {
		return mcperr.Newf(mcperr.KindConfiguration, "pool size cannot be negative: %d", s.PoolSize)
	}
	if s.MaxInFlight < 1 {
		return mcperr.Newf(mcperr.KindConfiguration, "max concurrent requests must be positive: %d", s.MaxInFlight)
	}
	if s.RetryAttempts < 1 {
		return mcperr.Newf(mcperr.KindConfiguration, "retry attempts must be positive: %d", s.RetryAttempts)
	}
	if s.RequestTimeout <= 0 || s.RetryDelay <= 0 || s.ShutdownTimeout <= 0 {
		return mcperr.New(mcperr.KindConfiguration, "timeouts must be positive")
	}
	return nil
}

// Slots returns the number of session slots the lifecycle manager should
// run: the configured pool size, or one when pooling is disabled.
func (s *Server) Slots() int {
	if s.PoolSize > 0 {
		return s.PoolSize
	}
	return 1
}

// Summary returns database configuration safe to log: no password, no DSN.
func (d *Database) Summary() map[string]any {
	return map[string]any{
		"server":       d.Server,
		"database":     d.Database,
		"driver":       d.Driver,
		"auth_type":    d.AuthType,
		"client_id":    d.ManagedIdentityClientID,
		"encrypt":      d.Encrypt,
		"trust_cert":   d.TrustServerCertificate,
		"timeout":      d.ConnectTimeout.String(),
		"password_set": d.AuthType == AuthSQL && d.Password != "",
	}
}
