package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/halcyon-games/social/internal/services/social/login"
)

// CredentialSteam is the credential type served by the steam provider.
const CredentialSteam = "steam"

const defaultSteamAPIURL = "https://api.steampowered.com"

// Steam integrates the Steam Web API. Steam has no per-player access tokens
// or friend list here; profile lookups are signed with the per-gamespace
// publisher key from the login service.
type Steam struct {
	keys login.KeySource
	api  apiClient
}

var _ Provider = (*Steam)(nil)

// NewSteam builds the steam provider. An empty URL selects the production
// endpoint.
func NewSteam(keys login.KeySource, apiURL string) *Steam {
	if apiURL == "" {
		apiURL = defaultSteamAPIURL
	}
	return &Steam{keys: keys, api: newAPIClient(apiURL)}
}

func (s *Steam) Credential() string { return CredentialSteam }

func (s *Steam) HasFriendList() bool { return false }

func (s *Steam) ListFriends(context.Context, int64, int64) ([]Friend, error) {
	return nil, fmt.Errorf("steam has no friend list")
}

func (s *Steam) GetSocialProfile(ctx context.Context, gamespaceID int64, username string, _ int64) (json.RawMessage, error) {
	key, err := s.keys.GetKey(ctx, gamespaceID, CredentialSteam)
	if err != nil {
		return nil, fmt.Errorf("steam publisher key: %w", err)
	}

	query := url.Values{}
	query.Set("key", key)
	query.Set("steamids", username)

	var decoded struct {
		Response struct {
			Players []json.RawMessage `json:"players"`
		} `json:"response"`
	}
	if err := s.api.getJSON(ctx, "/ISteamUser/GetPlayerSummaries/v2/", query, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Response.Players) == 0 {
		return nil, fmt.Errorf("steam player %q not found", username)
	}
	return decoded.Response.Players[0], nil
}

func (s *Steam) ImportSocial(context.Context, int64, string, Auth) (int64, error) {
	return 0, fmt.Errorf("steam credentials cannot be imported")
}
