package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/example/availability-engine/internal/calendar"
)

// TokenRefresher exchanges refresh tokens through the OAuth2 token endpoint.
type TokenRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

var _ calendar.Refresher = (*TokenRefresher)(nil)

// NewTokenRefresher targets Google's token endpoint.
func NewTokenRefresher(clientID, clientSecret string) *TokenRefresher {
	return NewTokenRefresherWithEndpoint(clientID, clientSecret, oauthgoogle.Endpoint, nil)
}

// NewTokenRefresherWithEndpoint allows a custom endpoint and HTTP client, mainly for tests.
func NewTokenRefresherWithEndpoint(clientID, clientSecret string, endpoint oauth2.Endpoint, httpClient *http.Client) *TokenRefresher {
	return &TokenRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
	}
}

// Refresh returns a credential carrying a new access token.
// The refresh token is kept when the endpoint does not rotate it.
func (r *TokenRefresher) Refresh(ctx context.Context, cred calendar.Credential) (calendar.Credential, error) {
	if r == nil || r.config == nil {
		return calendar.Credential{}, fmt.Errorf("%w: refresher not configured", calendar.ErrRefreshFailed)
	}
	if strings.TrimSpace(cred.RefreshToken) == "" {
		return calendar.Credential{}, fmt.Errorf("%w: no refresh token", calendar.ErrRefreshFailed)
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// A token without an access token is never valid, so the source always hits the endpoint.
	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return calendar.Credential{}, fmt.Errorf("%w: %v", calendar.ErrRefreshFailed, err)
	}

	refreshed := calendar.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	return refreshed, nil
}
