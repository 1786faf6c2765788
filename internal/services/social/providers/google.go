package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
	"github.com/halcyon-games/social/internal/services/social/login"
)

// CredentialGoogle is the credential type served by the google provider.
const CredentialGoogle = "google"

const (
	defaultGoogleAPIURL   = "https://www.googleapis.com"
	defaultGoogleOAuthURL = "https://oauth2.googleapis.com"
)

// Google integrates the Google identity and People APIs. Expired access
// tokens are refreshed transparently with the stored refresh token before
// the player is asked to re-authorize.
type Google struct {
	tokens Tokens
	keys   login.KeySource
	api    apiClient
	oauth  apiClient
}

var _ Provider = (*Google)(nil)

// NewGoogle builds the google provider. Empty URLs select the production
// endpoints.
func NewGoogle(tokens Tokens, keys login.KeySource, apiURL, oauthURL string) *Google {
	if apiURL == "" {
		apiURL = defaultGoogleAPIURL
	}
	if oauthURL == "" {
		oauthURL = defaultGoogleOAuthURL
	}
	return &Google{
		tokens: tokens,
		keys:   keys,
		api:    newAPIClient(apiURL),
		oauth:  newAPIClient(oauthURL),
	}
}

func (g *Google) Credential() string { return CredentialGoogle }

func (g *Google) HasFriendList() bool { return true }

// googleKey is the per-gamespace OAuth application key stored in the login
// service.
type googleKey struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// call runs fn with a valid access token, refreshing once on a 4xx reply.
func (g *Google) call(ctx context.Context, gamespaceID, account int64, fn func(accessToken string) error) error {
	stored, err := g.tokens.GetToken(ctx, gamespaceID, account, CredentialGoogle)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNoSuchToken {
			return authRequired(CredentialGoogle, "")
		}
		return err
	}

	accessToken := stored.AccessToken
	expired := time.Now().After(stored.ExpiresAt)
	if !expired {
		err = fn(accessToken)
		if err == nil {
			return nil
		}
		var apiErr *apiError
		if !errors.As(err, &apiErr) || apiErr.Status < 401 || apiErr.Status > 499 {
			return err
		}
		if apiErr.Status == 401 {
			return authRequired(CredentialGoogle, stored.Username)
		}
	}

	// Expired or refused with a 4xx. Try the stored refresh token once.
	refreshed, err := g.refresh(ctx, gamespaceID, stored.Username, stored.Payload)
	if err != nil {
		return err
	}
	return fn(refreshed)
}

// refresh exchanges the stored refresh token for a fresh access token and
// re-imports it.
func (g *Google) refresh(ctx context.Context, gamespaceID int64, username string, payload json.RawMessage) (string, error) {
	var stored struct {
		RefreshToken string `json:"refresh_token"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &stored); err != nil {
			return "", fmt.Errorf("decode token payload: %w", err)
		}
	}
	if stored.RefreshToken == "" {
		return "", authRequired(CredentialGoogle, username)
	}

	keyMaterial, err := g.keys.GetKey(ctx, gamespaceID, CredentialGoogle)
	if err != nil {
		return "", fmt.Errorf("google application key: %w", err)
	}
	var key googleKey
	if err := json.Unmarshal([]byte(keyMaterial), &key); err != nil {
		return "", fmt.Errorf("decode google application key: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", stored.RefreshToken)
	form.Set("client_id", key.ClientID)
	form.Set("client_secret", key.ClientSecret)

	var refreshed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := g.oauth.postForm(ctx, "/token", form, &refreshed); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return "", authRequired(CredentialGoogle, username)
		}
		return "", err
	}

	if _, err := importData(ctx, g.tokens, gamespaceID, CredentialGoogle, username, refreshed.AccessToken, refreshed.ExpiresIn, nil); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (g *Google) ListFriends(ctx context.Context, gamespaceID, account int64) ([]Friend, error) {
	var friends []Friend
	err := g.call(ctx, gamespaceID, account, func(accessToken string) error {
		query := url.Values{}
		query.Set("personFields", "names,photos,metadata")
		query.Set("access_token", accessToken)

		var decoded struct {
			Connections []struct {
				ResourceName string `json:"resourceName"`
			} `json:"connections"`
		}
		var raw struct {
			Connections []json.RawMessage `json:"connections"`
		}
		if err := g.fetch(ctx, "/v1/people/me/connections", query, &decoded, &raw); err != nil {
			return err
		}

		friends = friends[:0]
		for i, connection := range decoded.Connections {
			username := strings.TrimPrefix(connection.ResourceName, "people/")
			friends = append(friends, Friend{
				Credential: CredentialGoogle,
				Username:   username,
				Profile:    raw.Connections[i],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return friends, nil
}

// fetch decodes the same response body into both shapes.
func (g *Google) fetch(ctx context.Context, path string, query url.Values, typed, raw any) error {
	var body json.RawMessage
	if err := g.api.getJSON(ctx, path, query, &body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, typed); err != nil {
		return fmt.Errorf("decode google response: %w", err)
	}
	if err := json.Unmarshal(body, raw); err != nil {
		return fmt.Errorf("decode google response: %w", err)
	}
	return nil
}

func (g *Google) GetSocialProfile(ctx context.Context, gamespaceID int64, _ string, account int64) (json.RawMessage, error) {
	var profile json.RawMessage
	err := g.call(ctx, gamespaceID, account, func(accessToken string) error {
		query := url.Values{}
		query.Set("access_token", accessToken)
		return g.api.getJSON(ctx, "/oauth2/v1/userinfo", query, &profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (g *Google) ImportSocial(ctx context.Context, gamespaceID int64, username string, auth Auth) (int64, error) {
	if username == "" && auth.IDToken != "" {
		subject, err := idTokenSubject(auth.IDToken)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeBadInput, "bad id_token", err)
		}
		username = subject
	}

	var payload json.RawMessage
	if auth.RefreshToken != "" {
		encoded, err := json.Marshal(map[string]string{"refresh_token": auth.RefreshToken})
		if err != nil {
			return 0, fmt.Errorf("encode token payload: %w", err)
		}
		payload = encoded
	}
	return importData(ctx, g.tokens, gamespaceID, CredentialGoogle, username, auth.AccessToken, auth.ExpiresIn, payload)
}

// idTokenSubject pulls the subject claim out of an id_token without
// verifying the signature. The token was already verified by the login
// service that issued the auth material.
func idTokenSubject(idToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", fmt.Errorf("id_token has no subject")
	}
	return subject, nil
}
