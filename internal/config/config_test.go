package config

import (
	"testing"
	"time"

	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

func validDatabase() Database {
	return Database{
		Server:         "myserver.database.windows.net",
		Database:       "mydb",
		Driver:         DriverSQLServer,
		AuthType:       AuthSQL,
		Username:       "admin",
		Password:       "secret",
		Encrypt:        true,
		ConnectTimeout: 30 * time.Second,
	}
}

func validServer() Server {
	return Server{
		Transport:       "stdio",
		Host:            "127.0.0.1",
		Port:            8000,
		APIPath:         "/mcp",
		MaxInFlight:     100,
		RequestTimeout:  120 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      2 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "INFO",
	}
}

func TestValidateDatabase(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Database)
		want   bool
	}{
		{"valid sql auth", func(d *Database) {}, true},
		{"missing server", func(d *Database) { d.Server = "" }, false},
		{"missing database", func(d *Database) { d.Database = "" }, false},
		{"missing username for sql auth", func(d *Database) { d.Username = "" }, false},
		{"missing password for sql auth", func(d *Database) { d.Password = "" }, false},
		{"unknown auth type", func(d *Database) { d.AuthType = "kerberos" }, false},
		{"unknown driver", func(d *Database) { d.Driver = "oracle" }, false},
		{"managed identity needs no secret", func(d *Database) {
			d.AuthType = AuthManagedIdentity
			d.Username, d.Password = "", ""
		}, true},
		{"managed identity with client id", func(d *Database) {
			d.AuthType = AuthManagedIdentity
			d.Username, d.Password = "", ""
			d.ManagedIdentityClientID = "11111111-2222-3333-4444-555555555555"
		}, true},
		{"default credential needs no secret", func(d *Database) {
			d.AuthType = AuthDefaultCredential
			d.Username, d.Password = "", ""
		}, true},
		{"default credential rejects client id hint", func(d *Database) {
			d.AuthType = AuthDefaultCredential
			d.Username, d.Password = "", ""
			d.ManagedIdentityClientID = "11111111-2222-3333-4444-555555555555"
		}, false},
		{"sqlite path only", func(d *Database) {
			d.Driver = DriverSQLite
			d.Server = ""
			d.Database = ":memory:"
			d.Username, d.Password = "", ""
		}, true},
		{"zero timeout", func(d *Database) { d.ConnectTimeout = 0 }, false},
	}
	for _, tt := range tests {
		d := validDatabase()
		tt.mutate(&d)
		err := d.validate()
		if (err == nil) != tt.want {
			t.Errorf("%s: got err=%v, want valid=%v", tt.name, err, tt.want)
		}
		if err != nil && mcperr.KindOf(err) != mcperr.KindConfiguration {
			t.Errorf("%s: kind = %v, want configuration", tt.name, mcperr.KindOf(err))
		}
	}
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
		want   bool
	}{
		{"valid stdio", func(s *Server) {}, true},
		{"valid http", func(s *Server) { s.Transport = "http" }, true},
		{"unknown transport", func(s *Server) { s.Transport = "grpc" }, false},
		{"port too low", func(s *Server) { s.Port = 0 }, false},
		{"port too high", func(s *Server) { s.Port = 70000 }, false},
		{"path without slash", func(s *Server) { s.APIPath = "mcp" }, false},
		{"negative pool size", func(s *Server) { s.PoolSize = -1 }, false},
		{"zero max in flight", func(s *Server) { s.MaxInFlight = 0 }, false},
		{"zero retry attempts", func(s *Server) { s.RetryAttempts = 0 }, false},
		{"zero request timeout", func(s *Server) { s.RequestTimeout = 0 }, false},
	}
	for _, tt := range tests {
		s := validServer()
		tt.mutate(&s)
		err := s.validate()
		if (err == nil) != tt.want {
			t.Errorf("%s: got err=%v, want valid=%v", tt.name, err, tt.want)
		}
	}
}

func TestSlots(t *testing.T) {
	s := validServer()
	if got := s.Slots(); got != 1 {
		t.Errorf("Slots() with pooling disabled = %d, want 1", got)
	}
	s.PoolSize = 5
	if got := s.Slots(); got != 5 {
		t.Errorf("Slots() = %d, want 5", got)
	}
}

func TestSummaryOmitsPassword(t *testing.T) {
	d := validDatabase()
	sum := d.Summary()
	for k, v := range sum {
		if s, ok := v.(string); ok && s == d.Password {
			t.Errorf("Summary leaks password under key %q", k)
		}
	}
	if set, _ := sum["password_set"].(bool); !set {
		t.Error("password_set = false, want true")
	}
}
