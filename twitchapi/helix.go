package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/calyptra/twitch-monitor/telemetry"
)

const (
	helixBaseURL = "https://api.twitch.tv/helix"

	// Helix caps multi-value query parameters (login / user_login) at 100
	// per request; larger sets are split into sequential requests.
	maxLoginsPerRequest = 100
)

// Stream is one currently-live stream as reported by /helix/streams.
// ProfileImageURL is joined in separately from /helix/users.
type Stream struct {
	UserID          string    `json:"user_id"`
	UserLogin       string    `json:"user_login"`
	UserName        string    `json:"user_name"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	GameName        string    `json:"game_name"`
	ViewerCount     int       `json:"viewer_count"`
	StartedAt       time.Time `json:"started_at"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	ProfileImageURL string    `json:"-"`
}

// UserProfile is the subset of /helix/users needed for announcements.
type UserProfile struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// HelixClient issues authenticated Helix requests.
type HelixClient struct {
	ClientID    string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// FetchStreams returns the live streams among the given logins. Logins with
// no live stream simply produce no entry. Any transport or API failure fails
// the whole call; callers must treat that as "no data", never as mass-offline.
func (hc *HelixClient) FetchStreams(ctx context.Context, logins []string) ([]Stream, error) {
	var out []Stream
	for _, chunk := range chunkLogins(logins) {
		var body struct {
			Data []Stream `json:"data"`
		}
		if err := hc.get(ctx, "/streams", "user_login", chunk, &body); err != nil {
			return nil, fmt.Errorf("fetch streams: %w", err)
		}
		for _, s := range body.Data {
			if s.Type != "live" {
				continue
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// FetchUsers resolves user profiles by login.
func (hc *HelixClient) FetchUsers(ctx context.Context, logins []string) ([]UserProfile, error) {
	var out []UserProfile
	for _, chunk := range chunkLogins(logins) {
		var body struct {
			Data []UserProfile `json:"data"`
		}
		if err := hc.get(ctx, "/users", "login", chunk, &body); err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

func (hc *HelixClient) get(ctx context.Context, path, param string, values []string, out any) error {
	tok, err := hc.TokenSource.Token()
	if err != nil {
		return fmt.Errorf("app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBaseURL+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for _, v := range values {
		q.Add(param, v)
	}
	q.Set("first", fmt.Sprintf("%d", maxLoginsPerRequest))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	telemetry.CountHelixRequest()
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func chunkLogins(logins []string) [][]string {
	var chunks [][]string
	for len(logins) > maxLoginsPerRequest {
		chunks = append(chunks, logins[:maxLoginsPerRequest])
		logins = logins[maxLoginsPerRequest:]
	}
	if len(logins) > 0 {
		chunks = append(chunks, logins)
	}
	return chunks
}
