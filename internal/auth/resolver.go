// Package auth resolves the configured authentication mode into a credential
// plan and provides cached, proactively refreshed access tokens for
// token-based modes.
package auth

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/SedlarDavid/azuresql-mcp/internal/config"
	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// ScopeDatabase is the token audience for Azure SQL Database.
const ScopeDatabase = "https://database.windows.net/.default"

// Plan is the resolved credential strategy for one descriptor. Exactly one
// of the static pair or the token credential is populated.
type Plan struct {
	Mode     string
	Username string
	Password string
	cred     azcore.TokenCredential
}

// RequiresToken reports whether sessions built from this plan attach a
// bearer token instead of embedding credentials in the DSN.
func (p *Plan) RequiresToken() bool {
	return p.Mode != config.AuthSQL
}

// Credential returns the token credential backing a token-based plan, nil
// for static plans.
func (p *Plan) Credential() azcore.TokenCredential { return p.cred }

// Resolve maps the descriptor's auth mode to a Plan. It constructs
// credential objects but performs no network I/O; token acquisition happens
// later through the TokenProvider. Missing required fields are
// configuration errors and must be surfaced before any connection attempt.
func Resolve(db *config.Database) (*Plan, error) {
	switch db.AuthType {
	case config.AuthSQL:
		if db.Driver == config.DriverSQLServer && (db.Username == "" || db.Password == "") {
			return nil, mcperr.New(mcperr.KindConfiguration, "sql authentication requires username and password")
		}
		return &Plan{Mode: config.AuthSQL, Username: db.Username, Password: db.Password}, nil

	case config.AuthManagedIdentity:
		opts := &azidentity.ManagedIdentityCredentialOptions{}
		if db.ManagedIdentityClientID != "" {
			// Disambiguates among multiple user-assigned identities on the
			// host; omitted means the sole (system-assigned) identity.
			opts.ID = azidentity.ClientID(db.ManagedIdentityClientID)
		}
		cred, err := azidentity.NewManagedIdentityCredential(opts)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindConfiguration, "creating managed identity credential", err)
		}
		return &Plan{Mode: config.AuthManagedIdentity, cred: cred}, nil

	case config.AuthDefaultCredential:
		// Fixed ambient chain (environment, workload identity, managed
		// identity, developer tooling); first success wins.
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindConfiguration, "creating default azure credential", err)
		}
		return &Plan{Mode: config.AuthDefaultCredential, cred: cred}, nil

	default:
		return nil, mcperr.Newf(mcperr.KindConfiguration, "unknown auth type %q", db.AuthType)
	}
}
