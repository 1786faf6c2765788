package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/halcyon-games/social/internal/platform/errors"
)

// CredentialVK is the credential type served by the vk provider.
const CredentialVK = "vk"

const (
	defaultVKAPIURL = "https://api.vk.com"
	vkAPIVersion    = "5.131"
)

// VK integrates the VKontakte API. VK tokens may be issued without a
// deadline; a zero ExpiresAt means the token never expires.
type VK struct {
	tokens Tokens
	api    apiClient
}

var _ Provider = (*VK)(nil)

// NewVK builds the vk provider. An empty URL selects the production
// endpoint.
func NewVK(tokens Tokens, apiURL string) *VK {
	if apiURL == "" {
		apiURL = defaultVKAPIURL
	}
	return &VK{tokens: tokens, api: newAPIClient(apiURL)}
}

func (v *VK) Credential() string { return CredentialVK }

func (v *VK) HasFriendList() bool { return true }

func (v *VK) call(ctx context.Context, gamespaceID, account int64, fn func(accessToken string) error) error {
	stored, err := v.tokens.GetToken(ctx, gamespaceID, account, CredentialVK)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeNoSuchToken {
			return authRequired(CredentialVK, "")
		}
		return err
	}
	if !stored.ExpiresAt.IsZero() && time.Now().After(stored.ExpiresAt) {
		return fmt.Errorf("vk token expired")
	}
	return fn(stored.AccessToken)
}

func (v *VK) ListFriends(ctx context.Context, gamespaceID, account int64) ([]Friend, error) {
	var friends []Friend
	err := v.call(ctx, gamespaceID, account, func(accessToken string) error {
		query := url.Values{}
		query.Set("v", vkAPIVersion)
		query.Set("fields", "first_name,last_name,photo_100")
		query.Set("access_token", accessToken)

		var decoded struct {
			Response struct {
				Items []json.RawMessage `json:"items"`
			} `json:"response"`
		}
		if err := v.api.getJSON(ctx, "/method/friends.get", query, &decoded); err != nil {
			return err
		}

		friends = friends[:0]
		for _, item := range decoded.Response.Items {
			var entry struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(item, &entry); err != nil {
				return fmt.Errorf("decode vk friend: %w", err)
			}
			friends = append(friends, Friend{
				Credential: CredentialVK,
				Username:   strconv.FormatInt(entry.ID, 10),
				Profile:    item,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return friends, nil
}

func (v *VK) GetSocialProfile(ctx context.Context, gamespaceID int64, username string, account int64) (json.RawMessage, error) {
	var profile json.RawMessage
	err := v.call(ctx, gamespaceID, account, func(accessToken string) error {
		query := url.Values{}
		query.Set("v", vkAPIVersion)
		if username != "" {
			query.Set("user_ids", username)
		}
		query.Set("access_token", accessToken)

		var decoded struct {
			Response []json.RawMessage `json:"response"`
		}
		if err := v.api.getJSON(ctx, "/method/users.get", query, &decoded); err != nil {
			return err
		}
		if len(decoded.Response) == 0 {
			return fmt.Errorf("vk user %q not found", username)
		}
		profile = decoded.Response[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (v *VK) ImportSocial(ctx context.Context, gamespaceID int64, username string, auth Auth) (int64, error) {
	return importData(ctx, v.tokens, gamespaceID, CredentialVK, username, auth.AccessToken, auth.ExpiresIn, nil)
}
