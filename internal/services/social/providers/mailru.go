package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/halcyon-games/social/internal/services/social/login"
)

// CredentialMailRu is the credential type served by the mail.ru provider.
const CredentialMailRu = "mailru"

const defaultMailRuAPIURL = "https://api.games.mail.ru"

// MailRu integrates the mail.ru games API. Like steam it exposes no friend
// list and profile lookups use the per-gamespace private key.
type MailRu struct {
	tokens Tokens
	keys   login.KeySource
	api    apiClient
}

var _ Provider = (*MailRu)(nil)

// NewMailRu builds the mail.ru provider. An empty URL selects the
// production endpoint.
func NewMailRu(tokens Tokens, keys login.KeySource, apiURL string) *MailRu {
	if apiURL == "" {
		apiURL = defaultMailRuAPIURL
	}
	return &MailRu{tokens: tokens, keys: keys, api: newAPIClient(apiURL)}
}

func (m *MailRu) Credential() string { return CredentialMailRu }

func (m *MailRu) HasFriendList() bool { return false }

func (m *MailRu) ListFriends(context.Context, int64, int64) ([]Friend, error) {
	return nil, fmt.Errorf("mailru has no friend list")
}

func (m *MailRu) GetSocialProfile(ctx context.Context, gamespaceID int64, username string, _ int64) (json.RawMessage, error) {
	key, err := m.keys.GetKey(ctx, gamespaceID, CredentialMailRu)
	if err != nil {
		return nil, fmt.Errorf("mailru private key: %w", err)
	}

	query := url.Values{}
	query.Set("method", "user.getInfo")
	query.Set("uid", username)
	query.Set("secret_key", key)

	var profile json.RawMessage
	if err := m.api.getJSON(ctx, "/platform/api", query, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (m *MailRu) ImportSocial(ctx context.Context, gamespaceID int64, username string, auth Auth) (int64, error) {
	return importData(ctx, m.tokens, gamespaceID, CredentialMailRu, username, auth.AccessToken, auth.ExpiresIn, nil)
}
