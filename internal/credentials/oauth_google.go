package credentials

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleRefresher exchanges a stored Gmail OAuth refresh token for a live
// access token using the standard Google token endpoint. Grounded on the
// teacher's oauth2.Config construction in internal/auth/auth.go, adapted
// from an end-user login flow (authorization-code exchange) to a
// server-side refresh-token-only flow, since the Credential Accessor's
// contract is "read-only lookup... refresh on expiry", not login.
type GoogleRefresher struct {
	config *oauth2.Config
}

// NewGoogleRefresher builds a GoogleRefresher for the given OAuth client
// credentials and scopes. RedirectURL is left unset: the refresh-only
// flow never redirects a user.
func NewGoogleRefresher(clientID, clientSecret string, scopes []string) *GoogleRefresher {
	return &GoogleRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// Refresh implements Refresher.
func (g *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenBundle{}, fmt.Errorf("google token refresh: %w", err)
	}
	return TokenBundle{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
	}, nil
}
