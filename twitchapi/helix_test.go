package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func testClient(serverURL string) *HelixClient {
	return &HelixClient{
		ClientID:    "test-client-id",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{
				Transport: http.DefaultTransport,
				host:      serverURL,
			},
		},
	}
}

func TestFetchStreamsFiltersNonLive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"user_id": "1", "user_login": "alpha", "user_name": "Alpha", "type": "live", "title": "hi", "viewer_count": 5, "started_at": "2024-01-01T10:00:00Z", "thumbnail_url": "https://cdn/x-{width}x{height}.jpg"},
				{"user_id": "2", "user_login": "beta", "user_name": "Beta", "type": "rerun", "title": "old", "viewer_count": 1, "started_at": "2024-01-01T09:00:00Z"},
			},
		})
	}))
	defer server.Close()

	streams, err := testClient(server.URL).FetchStreams(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("FetchStreams() error = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1 (rerun filtered)", len(streams))
	}
	if streams[0].UserLogin != "alpha" || streams[0].ViewerCount != 5 {
		t.Errorf("unexpected stream: %+v", streams[0])
	}
}

func TestFetchStreamsPagination(t *testing.T) {
	var requests int
	var paramCounts []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		logins := r.URL.Query()["user_login"]
		paramCounts = append(paramCounts, len(logins))
		data := make([]map[string]any, 0, len(logins))
		for _, l := range logins {
			data = append(data, map[string]any{
				"user_id": l, "user_login": l, "user_name": l, "type": "live",
				"started_at": "2024-01-01T10:00:00Z",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	logins := make([]string, 150)
	for i := range logins {
		logins[i] = "streamer" + string(rune('a'+i%26)) + string(rune('0'+i%10))
	}
	streams, err := testClient(server.URL).FetchStreams(context.Background(), logins)
	if err != nil {
		t.Fatalf("FetchStreams() error = %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	for _, n := range paramCounts {
		if n > 100 {
			t.Errorf("request carried %d user_login params, want <= 100", n)
		}
	}
	if len(streams) != 150 {
		t.Errorf("got %d streams, want 150", len(streams))
	}
}

func TestFetchStreamsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchStreams(context.Background(), []string{"alpha"})
	if err == nil {
		t.Fatal("FetchStreams() error = nil, want error on 500")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %v should carry the status", err)
	}
}

func TestFetchUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["login"]; len(got) != 2 {
			t.Errorf("login params = %v, want 2 entries", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "1", "login": "alpha", "display_name": "Alpha", "profile_image_url": "https://cdn/a.png"},
			},
		})
	}))
	defer server.Close()

	users, err := testClient(server.URL).FetchUsers(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("FetchUsers() error = %v", err)
	}
	if len(users) != 1 || users[0].ProfileImageURL != "https://cdn/a.png" {
		t.Errorf("unexpected users: %+v", users)
	}
}

func TestSourceFetchLiveProfileJoin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/streams"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"user_id": "42", "user_login": "alpha", "user_name": "Alpha", "type": "live", "started_at": "2024-01-01T10:00:00Z"},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/users"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "42", "login": "alpha", "display_name": "Alpha", "profile_image_url": "https://cdn/alpha.png"},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	src := &Source{Helix: testClient(server.URL)}
	streams, err := src.FetchLive(context.Background(), []string{"alpha", "offline"})
	if err != nil {
		t.Fatalf("FetchLive() error = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	if streams[0].ProfileImageURL != "https://cdn/alpha.png" {
		t.Errorf("profile image not joined: %+v", streams[0])
	}
}

func TestSourceFetchLiveProfileFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/streams"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"user_id": "42", "user_login": "alpha", "user_name": "Alpha", "type": "live", "started_at": "2024-01-01T10:00:00Z"},
				},
			})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	src := &Source{Helix: testClient(server.URL)}
	streams, err := src.FetchLive(context.Background(), []string{"alpha"})
	if err != nil {
		t.Fatalf("FetchLive() error = %v, profile failure must not fail the tick", err)
	}
	if len(streams) != 1 || streams[0].ProfileImageURL != "" {
		t.Errorf("unexpected streams: %+v", streams)
	}
}

func TestChunkLogins(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []int
	}{
		{name: "empty", n: 0, want: nil},
		{name: "one", n: 1, want: []int{1}},
		{name: "exactly one page", n: 100, want: []int{100}},
		{name: "one over", n: 101, want: []int{100, 1}},
		{name: "several pages", n: 250, want: []int{100, 100, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logins := make([]string, tt.n)
			chunks := chunkLogins(logins)
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.want))
			}
			for i, c := range chunks {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d size = %d, want %d", i, len(c), tt.want[i])
				}
			}
		})
	}
}

// rewriteTransport redirects requests to the test server regardless of the
// hardcoded Helix host.
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
