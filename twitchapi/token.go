// Package twitchapi contains helpers to interact with Twitch Helix APIs:
// app token acquisition and live stream / user profile lookups with
// transparent pagination over the 100-login request limit.
package twitchapi

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const tokenURL = "https://id.twitch.tv/oauth2/token"

// AppTokenSource returns a caching token source for the Twitch client
// credentials flow. The returned source refreshes expired tokens on demand;
// it CANNOT mint user tokens (chat scopes etc.), only app access tokens.
func AppTokenSource(ctx context.Context, clientID, clientSecret string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return cfg.TokenSource(ctx)
}
