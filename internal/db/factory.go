package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/SedlarDavid/azuresql-mcp/internal/auth"
	"github.com/SedlarDavid/azuresql-mcp/internal/config"
	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

const appName = "Azure SQL MCP Server"

// Factory builds live sessions from the descriptor and credential plan.
// Single-shot: every Connect is one attempt; retries belong to the Manager.
type Factory struct {
	cfg    config.Database
	plan   *auth.Plan
	tokens *auth.TokenProvider
}

// NewFactory resolves the token machinery for token-based plans. Static
// plans carry no provider.
func NewFactory(cfg config.Database, plan *auth.Plan) *Factory {
	f := &Factory{cfg: cfg, plan: plan}
	if plan.RequiresToken() {
		f.tokens = auth.NewTokenProvider(plan.Credential())
	}
	return f
}

// Tokens exposes the provider for tests and diagnostics; nil for static
// credential plans.
func (f *Factory) Tokens() *auth.TokenProvider { return f.tokens }

// Connect opens and verifies one session. Authentication failures keep
// their kind so the retry policy can tell them from transport trouble;
// everything else becomes a connection error with the driver detail kept
// out of the caller-facing message.
func (f *Factory) Connect(ctx context.Context) (Driver, error) {
	if f.cfg.Driver == config.DriverSQLite {
		drv, err := NewSQLiteDriver(ctx, f.cfg.Database)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindConnection, "opening sqlite database", err)
		}
		return drv, nil
	}

	sqldb, err := f.openSQLServer(ctx)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()
	if err := sqldb.PingContext(pingCtx); err != nil {
		sqldb.Close()
		if mcperr.KindOf(err) == mcperr.KindAuthentication {
			// A stale cached token may be the problem; the next attempt
			// re-acquires.
			if f.tokens != nil {
				f.tokens.Invalidate(auth.ScopeDatabase)
			}
			return nil, err
		}
		return nil, mcperr.Wrap(mcperr.KindConnection, "connecting to database", err)
	}
	return newSQLServerDriver(sqldb), nil
}

func (f *Factory) openSQLServer(ctx context.Context) (*sql.DB, error) {
	dsn := f.buildDSN()
	if !f.plan.RequiresToken() {
		sqldb, err := sql.Open("sqlserver", dsn)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindConnection, "opening sqlserver connection", err)
		}
		return sqldb, nil
	}

	// Token modes: the DSN carries no credential. The bearer token is
	// attached through the driver's access-token connector, fetched fresh
	// (or from cache) for every physical connection. The provider callback
	// takes no context, and database/sql may dial long after the request
	// that triggered the dial has returned, so acquisition runs under its
	// own ConnectTimeout-bounded context rather than any request context.
	connector, err := mssql.NewAccessTokenConnector(dsn, func() (string, error) {
		tctx, cancel := context.WithTimeout(context.Background(), f.cfg.ConnectTimeout)
		defer cancel()
		tok, err := f.tokens.Token(tctx, auth.ScopeDatabase)
		if err != nil {
			return "", err
		}
		return tok.Token, nil
	})
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindConnection, "building token connector", err)
	}
	return sql.OpenDB(connector), nil
}

// buildDSN assembles the sqlserver URL. Encryption flags are encoded
// exactly as configured; transport security is never downgraded here.
func (f *Factory) buildDSN() string {
	host := strings.TrimPrefix(f.cfg.Server, "tcp:")
	q := url.Values{}
	q.Set("database", f.cfg.Database)
	q.Set("encrypt", strconv.FormatBool(f.cfg.Encrypt))
	q.Set("trustservercertificate", strconv.FormatBool(f.cfg.TrustServerCertificate))
	q.Set("dial timeout", strconv.Itoa(int(f.cfg.ConnectTimeout/time.Second)))
	q.Set("app name", appName)

	u := url.URL{Scheme: "sqlserver", Host: host, RawQuery: q.Encode()}
	if !f.plan.RequiresToken() {
		u.User = url.UserPassword(f.cfg.Username, f.cfg.Password)
	}
	return u.String()
}

// Target returns a log-safe description of the connection target.
func (f *Factory) Target() string {
	if f.cfg.Driver == config.DriverSQLite {
		return fmt.Sprintf("sqlite:%s", f.cfg.Database)
	}
	return fmt.Sprintf("%s/%s", strings.TrimPrefix(f.cfg.Server, "tcp:"), f.cfg.Database)
}
