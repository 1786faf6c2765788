package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
)

// CredentialFacebook is the credential type served by the facebook provider.
const CredentialFacebook = "facebook"

const defaultFacebookAPIURL = "https://graph.facebook.com"

// Facebook integrates the Graph API. Facebook issues no refresh tokens, so
// an expired or refused access token always means re-authorization.
type Facebook struct {
	tokens Tokens
	api    apiClient
}

var _ Provider = (*Facebook)(nil)

// NewFacebook builds the facebook provider. An empty URL selects the
// production endpoint.
func NewFacebook(tokens Tokens, apiURL string) *Facebook {
	if apiURL == "" {
		apiURL = defaultFacebookAPIURL
	}
	return &Facebook{tokens: tokens, api: newAPIClient(apiURL)}
}

func (f *Facebook) Credential() string { return CredentialFacebook }

func (f *Facebook) HasFriendList() bool { return true }

func (f *Facebook) call(ctx context.Context, gamespaceID, account int64, fn func(accessToken string) error) error {
	stored, err := f.tokens.GetToken(ctx, gamespaceID, account, CredentialFacebook)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNoSuchToken {
			return authRequired(CredentialFacebook, "")
		}
		return err
	}
	if time.Now().After(stored.ExpiresAt) {
		return authRequired(CredentialFacebook, stored.Username)
	}

	if err := fn(stored.AccessToken); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == 400 || apiErr.Status == 401) {
			return authRequired(CredentialFacebook, stored.Username)
		}
		return err
	}
	return nil
}

func (f *Facebook) ListFriends(ctx context.Context, gamespaceID, account int64) ([]Friend, error) {
	var friends []Friend
	err := f.call(ctx, gamespaceID, account, func(accessToken string) error {
		query := url.Values{}
		query.Set("fields", "id,name")
		query.Set("access_token", accessToken)

		var decoded struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		var raw struct {
			Data []json.RawMessage `json:"data"`
		}
		var body json.RawMessage
		if err := f.api.getJSON(ctx, "/me/friends", query, &body); err != nil {
			return err
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return err
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return err
		}

		friends = friends[:0]
		for i, entry := range decoded.Data {
			friends = append(friends, Friend{
				Credential: CredentialFacebook,
				Username:   entry.ID,
				Profile:    raw.Data[i],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return friends, nil
}

func (f *Facebook) GetSocialProfile(ctx context.Context, gamespaceID int64, _ string, account int64) (json.RawMessage, error) {
	var profile json.RawMessage
	err := f.call(ctx, gamespaceID, account, func(accessToken string) error {
		query := url.Values{}
		query.Set("fields", "id,name,email,locale")
		query.Set("access_token", accessToken)
		return f.api.getJSON(ctx, "/me", query, &profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (f *Facebook) ImportSocial(ctx context.Context, gamespaceID int64, username string, auth Auth) (int64, error) {
	return importData(ctx, f.tokens, gamespaceID, CredentialFacebook, username, auth.AccessToken, auth.ExpiresIn, nil)
}
