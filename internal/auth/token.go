package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/sync/singleflight"

	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// RefreshMargin is how long before expiry a cached token stops being handed
// out. Refresh happens on the first request inside the margin.
const RefreshMargin = 5 * time.Minute

// TokenProvider caches the most recent valid token per scope and refreshes
// proactively. Safe for concurrent use; concurrent misses on the same scope
// are coalesced into a single request against the identity provider.
type TokenProvider struct {
	cred   azcore.TokenCredential
	margin time.Duration

	mu    sync.RWMutex
	cache map[string]azcore.AccessToken

	group singleflight.Group

	// now is a seam for expiry tests.
	now func() time.Time
}

// NewTokenProvider wraps cred. cred must not be nil; plans for static
// credential modes never construct a provider.
func NewTokenProvider(cred azcore.TokenCredential) *TokenProvider {
	return &TokenProvider{
		cred:   cred,
		margin: RefreshMargin,
		cache:  make(map[string]azcore.AccessToken),
		now:    time.Now,
	}
}

// Token returns a currently-valid access token for scope, from cache when
// its remaining lifetime exceeds the refresh margin, otherwise from one
// coalesced request to the identity provider.
func (p *TokenProvider) Token(ctx context.Context, scope string) (azcore.AccessToken, error) {
	if tok, ok := p.cached(scope); ok {
		return tok, nil
	}

	v, err, _ := p.group.Do(scope, func() (any, error) {
		// Re-check under the group: a waiter queued behind the winner
		// takes the token the winner just cached.
		if tok, ok := p.cached(scope); ok {
			return tok, nil
		}
		tok, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
		if err != nil {
			return azcore.AccessToken{}, mcperr.Wrap(mcperr.KindAuthentication, "acquiring access token", err)
		}
		p.mu.Lock()
		p.cache[scope] = tok
		p.mu.Unlock()
		slog.Debug("access token acquired", "scope", scope, "expires_on", tok.ExpiresOn)
		return tok, nil
	})
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return v.(azcore.AccessToken), nil
}

// Invalidate drops the cached token for scope so the next Token call hits
// the identity provider. Used when a session rejects a token that the cache
// still considers valid.
func (p *TokenProvider) Invalidate(scope string) {
	p.mu.Lock()
	delete(p.cache, scope)
	p.mu.Unlock()
}

func (p *TokenProvider) cached(scope string) (azcore.AccessToken, bool) {
	p.mu.RLock()
	tok, ok := p.cache[scope]
	p.mu.RUnlock()
	if !ok {
		return azcore.AccessToken{}, false
	}
	if tok.ExpiresOn.Sub(p.now()) <= p.margin {
		return azcore.AccessToken{}, false
	}
	return tok, true
}
