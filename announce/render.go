// Package announce builds the "now live" announcement message for a stream.
// Rendering is pure: the same snapshot and clock always produce the same
// message, which lets the reconciler compare and re-render without side
// effects.
package announce

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/calyptra/twitch-monitor/twitchapi"
)

const (
	embedColor      = 0x9146ff
	thumbnailWidth  = 480
	thumbnailHeight = 270
)

// Render produces the message content and embed for a live stream. roleID,
// when non-empty, is mentioned in the plain content so the ping actually
// notifies (embeds never do). now drives the uptime field and the image
// cache buster.
func Render(s twitchapi.Stream, roleID string, now time.Time) (string, *discordgo.MessageEmbed) {
	content := ""
	if roleID != "" {
		content = fmt.Sprintf("<@&%s>", roleID)
	}

	name := s.UserName
	if name == "" {
		name = s.UserLogin
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf(":red_circle: **%s is live on Twitch!**", name),
		URL:   "https://twitch.tv/" + s.UserLogin,
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Title", Value: orDash(s.Title)},
			{Name: "Game", Value: orDash(s.GameName)},
			{Name: "Status", Value: fmt.Sprintf("Live with %d viewers", s.ViewerCount)},
			{Name: "Uptime", Value: humanizeDuration(now.Sub(s.StartedAt))},
		},
	}
	if s.ProfileImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: s.ProfileImageURL}
	}
	if img := previewURL(s.ThumbnailURL, now); img != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: img}
	}
	return content, embed
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// previewURL expands the Helix thumbnail template and appends a timestamp so
// Discord's image cache does not pin a stale frame.
func previewURL(tmpl string, now time.Time) string {
	if tmpl == "" {
		return ""
	}
	u := strings.ReplaceAll(tmpl, "{width}", fmt.Sprint(thumbnailWidth))
	u = strings.ReplaceAll(u, "{height}", fmt.Sprint(thumbnailHeight))
	return fmt.Sprintf("%s?t=%d", u, now.Unix())
}

var durationUnits = []struct {
	label string
	size  time.Duration
}{
	{"y", 365 * 24 * time.Hour},
	{"mo", 30 * 24 * time.Hour},
	{"w", 7 * 24 * time.Hour},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
}

// humanizeDuration renders the two largest non-zero units, e.g. "2h, 15m".
func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return "just started"
	}
	var parts []string
	for _, u := range durationUnits {
		if d < u.size {
			continue
		}
		n := d / u.size
		d -= n * u.size
		parts = append(parts, fmt.Sprintf("%d%s", n, u.label))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, ", ")
}
