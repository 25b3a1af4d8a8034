package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/example/availability-engine/internal/calendar"
)

// Calendar credentials travel outside the bearer token so the service never
// stores them.
const (
	HeaderAccessToken  = "X-Calendar-Access-Token"
	HeaderRefreshToken = "X-Calendar-Refresh-Token"
	HeaderTokenExpiry  = "X-Calendar-Token-Expiry"
)

func credentialFromRequest(r *http.Request) calendar.Credential {
	return calendar.Credential{
		AccessToken:  strings.TrimSpace(r.Header.Get(HeaderAccessToken)),
		RefreshToken: strings.TrimSpace(r.Header.Get(HeaderRefreshToken)),
	}
}

// exposeCredential surfaces a refreshed access token. It must run before the
// status line is written.
func exposeCredential(w http.ResponseWriter, cred *calendar.Credential) {
	if cred == nil || cred.AccessToken == "" {
		return
	}
	w.Header().Set(HeaderAccessToken, cred.AccessToken)
	if !cred.Expiry.IsZero() {
		w.Header().Set(HeaderTokenExpiry, cred.Expiry.UTC().Format(time.RFC3339))
	}
}
