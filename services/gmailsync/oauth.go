package gmailsync

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/armysheng/ai-mail/internal/syncerrors"
)

// TokenRefresher exchanges a stored refresh token for a fresh access
// token through the standard Google OAuth endpoint.
type TokenRefresher struct {
	cfg *oauth2.Config
}

func NewTokenRefresher(clientID, clientSecret string) *TokenRefresher {
	return &TokenRefresher{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailReadonlyScope},
		},
	}
}

func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, syncerrors.New(syncerrors.KindAuth, "account has no refresh token")
	}

	source := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, syncerrors.Auth(err, "refresh token exchange failed")
	}
	return token, nil
}
