package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/21chrisab/mailbrief/internal/instrumentation"
	"github.com/21chrisab/mailbrief/internal/logging"
)

// DefaultScopes are the delegated permissions requested during consent.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// DefaultTokenTTL bounds how long a refresh credential is kept in the
// broker cache without use before the user has to sign in again.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Identity is the provider-issued account descriptor stored in the session
// after a successful code exchange. It is immutable once stored and replaced
// wholesale on re-login.
type Identity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Config holds the identity-provider client settings for the broker.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// TokenTTL overrides DefaultTokenTTL when non-zero.
	TokenTTL time.Duration

	// Endpoint overrides the Google OAuth2 endpoint. Tests point this at a
	// fake provider; production leaves it zero.
	Endpoint oauth2.Endpoint

	// UserinfoEndpoint overrides the userinfo service base URL, same deal.
	UserinfoEndpoint string
}

// Broker wraps the authorization-code OAuth2 flow and silent token renewal.
// It owns an explicit per-account cache of provider tokens so that renewal
// and invalidation are testable in isolation rather than hidden inside the
// provider SDK.
type Broker struct {
	conf         *oauth2.Config
	userinfoBase string
	tokens       *ttlcache.Cache[string, *oauth2.Token]
	ttl          time.Duration
	logger       *slog.Logger
	metrics      *instrumentation.Metrics
}

// NewBroker creates a token broker for the configured provider client.
func NewBroker(cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	tokens := ttlcache.New(
		ttlcache.WithTTL[string, *oauth2.Token](ttl),
	)
	go tokens.Start()

	return &Broker{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		userinfoBase: cfg.UserinfoEndpoint,
		tokens:       tokens,
		ttl:          ttl,
		logger:       logging.WithComponent(logger, "auth"),
		metrics:      metrics,
	}
}

// AuthCodeURL builds the provider consent URL. Offline access is requested
// so the exchange yields a refresh credential for silent renewal.
func (b *Broker) AuthCodeURL(state string) (string, error) {
	if b.conf.ClientID == "" || b.conf.ClientSecret == "" {
		return "", ErrProviderConfig
	}
	return b.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// Exchange performs the one-time authorization-code-for-token exchange,
// resolves the signed-in account via the provider's userinfo endpoint and
// caches the token under the account id. The raw token never leaves the
// broker.
func (b *Broker) Exchange(ctx context.Context, code string) (Identity, error) {
	if b.conf.ClientID == "" || b.conf.ClientSecret == "" {
		return Identity{}, ErrProviderConfig
	}

	tok, err := b.conf.Exchange(ctx, code)
	if err != nil {
		b.metrics.RecordExchange(ctx, instrumentation.StatusError)
		return Identity{}, &ExchangeError{Err: err}
	}

	identity, err := b.fetchIdentity(ctx, tok)
	if err != nil {
		b.metrics.RecordExchange(ctx, instrumentation.StatusError)
		return Identity{}, &ExchangeError{Err: err}
	}

	b.tokens.Set(identity.ID, tok, b.ttl)
	b.metrics.RecordExchange(ctx, instrumentation.StatusSuccess)
	b.logger.Info("authorization code exchanged",
		logging.UserHash(identity.Email))
	return identity, nil
}

// AccessToken returns a currently valid access token for the identity,
// silently renewing via the cached refresh credential when the access token
// has expired. It never prompts: any condition that would require user
// interaction is reported as ErrReauthRequired.
func (b *Broker) AccessToken(ctx context.Context, identity Identity) (string, error) {
	item := b.tokens.Get(identity.ID)
	if item == nil {
		b.metrics.RecordTokenRenewal(ctx, instrumentation.RenewalReauth)
		return "", fmt.Errorf("no cached token for account: %w", ErrReauthRequired)
	}
	cached := item.Value()

	// TokenSource refreshes transparently when the cached access token is
	// expired, using the refresh credential from the exchange.
	fresh, err := b.conf.TokenSource(ctx, cached).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= http.StatusBadRequest &&
			retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			// invalid_grant and friends: the refresh credential is revoked
			// or consent was withdrawn. Drop the dead entry.
			b.tokens.Delete(identity.ID)
			b.metrics.RecordTokenRenewal(ctx, instrumentation.RenewalReauth)
			b.logger.Info("refresh credential rejected, re-login needed",
				logging.UserHash(identity.Email), logging.Err(err))
			return "", fmt.Errorf("token renewal rejected by provider: %w", ErrReauthRequired)
		}
		b.metrics.RecordTokenRenewal(ctx, instrumentation.StatusError)
		return "", fmt.Errorf("token renewal failed: %w", err)
	}

	if !fresh.Valid() {
		b.tokens.Delete(identity.ID)
		b.metrics.RecordTokenRenewal(ctx, instrumentation.RenewalReauth)
		return "", fmt.Errorf("renewed token is not valid: %w", ErrReauthRequired)
	}

	if fresh.AccessToken != cached.AccessToken {
		// Renewal happened; keep the fresh token (and possibly rotated
		// refresh credential) for the next request.
		b.tokens.Set(identity.ID, fresh, b.ttl)
		b.metrics.RecordTokenRenewal(ctx, instrumentation.StatusSuccess)
		b.logger.Debug("access token renewed", logging.UserHash(identity.Email))
	}

	return fresh.AccessToken, nil
}

// Revoke drops the cached token for the account. Called on logout so a
// stale session cannot be resurrected from the broker cache.
func (b *Broker) Revoke(identity Identity) {
	b.tokens.Delete(identity.ID)
}

// HasToken reports whether a token is cached for the account.
func (b *Broker) HasToken(identity Identity) bool {
	return b.tokens.Get(identity.ID) != nil
}

// Stop stops the cache expiry goroutine.
func (b *Broker) Stop() {
	b.tokens.Stop()
}

// fetchIdentity resolves the account descriptor for a freshly exchanged
// token via the provider's userinfo endpoint.
func (b *Broker) fetchIdentity(ctx context.Context, tok *oauth2.Token) (Identity, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(tok)),
	}
	if b.userinfoBase != "" {
		opts = append(opts, option.WithEndpoint(b.userinfoBase))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	ui, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	if ui.Id == "" {
		return Identity{}, fmt.Errorf("userinfo response carries no account id")
	}

	return Identity{
		ID:      ui.Id,
		Email:   ui.Email,
		Name:    ui.Name,
		Picture: ui.Picture,
	}, nil
}
