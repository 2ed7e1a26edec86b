package announce

import (
	"strings"
	"testing"
	"time"

	"github.com/calyptra/twitch-monitor/twitchapi"
)

func TestRender(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)
	s := twitchapi.Stream{
		UserLogin:       "speedy",
		UserName:        "Speedy",
		Title:           "Hello",
		GameName:        "Tetris",
		ViewerCount:     5,
		StartedAt:       now.Add(-2*time.Hour - 15*time.Minute),
		ThumbnailURL:    "https://cdn/live_speedy-{width}x{height}.jpg",
		ProfileImageURL: "https://cdn/speedy.png",
	}

	content, embed := Render(s, "role-9", now)

	if content != "<@&role-9>" {
		t.Errorf("content = %q, want role mention", content)
	}
	if embed.URL != "https://twitch.tv/speedy" {
		t.Errorf("URL = %q", embed.URL)
	}
	if !strings.Contains(embed.Title, "Speedy is live on Twitch!") {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != 0x9146ff {
		t.Errorf("Color = %#x", embed.Color)
	}
	wantFields := map[string]string{
		"Title":  "Hello",
		"Game":   "Tetris",
		"Status": "Live with 5 viewers",
		"Uptime": "2h, 15m",
	}
	for _, f := range embed.Fields {
		if want, ok := wantFields[f.Name]; ok && f.Value != want {
			t.Errorf("field %s = %q, want %q", f.Name, f.Value, want)
		}
		delete(wantFields, f.Name)
	}
	for name := range wantFields {
		t.Errorf("missing field %s", name)
	}
	if embed.Thumbnail == nil || embed.Thumbnail.URL != "https://cdn/speedy.png" {
		t.Errorf("thumbnail = %+v", embed.Thumbnail)
	}
	wantImg := "https://cdn/live_speedy-480x270.jpg?t=" // suffix is the unix stamp
	if embed.Image == nil || !strings.HasPrefix(embed.Image.URL, wantImg) {
		t.Errorf("image = %+v, want prefix %q", embed.Image, wantImg)
	}
}

func TestRenderNoRoleNoProfile(t *testing.T) {
	now := time.Now()
	content, embed := Render(twitchapi.Stream{UserLogin: "x", StartedAt: now}, "", now)
	if content != "" {
		t.Errorf("content = %q, want empty without role", content)
	}
	if embed.Thumbnail != nil {
		t.Errorf("thumbnail should be nil without profile image")
	}
	if embed.Image != nil {
		t.Errorf("image should be nil without thumbnail template")
	}
}

func TestRenderDeterministic(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := twitchapi.Stream{UserLogin: "a", UserName: "A", StartedAt: now.Add(-time.Hour), ThumbnailURL: "https://cdn/a-{width}x{height}.jpg"}
	c1, e1 := Render(s, "r", now)
	c2, e2 := Render(s, "r", now)
	if c1 != c2 || e1.Image.URL != e2.Image.URL || e1.Fields[3].Value != e2.Fields[3].Value {
		t.Error("identical inputs must render identically")
	}
}

func TestHumanizeDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "just started"},
		{time.Minute, "1m"},
		{2*time.Hour + 15*time.Minute, "2h, 15m"},
		{26 * time.Hour, "1d, 2h"},
		{8 * 24 * time.Hour, "1w, 1d"},
		{45 * 24 * time.Hour, "1mo, 2w"},
		{400 * 24 * time.Hour, "1y, 1mo"},
		{3 * time.Hour, "3h"},
	}
	for _, tt := range tests {
		if got := humanizeDuration(tt.d); got != tt.want {
			t.Errorf("humanizeDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
