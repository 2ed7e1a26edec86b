// Package discord wraps the subset of the Discord REST API the announcer
// needs: sending, editing and deleting channel messages, with failures
// classified so callers can tell permanent outcomes from retryable ones.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Gateway issues message calls against a live discordgo session. Every call
// takes the caller's context so per-call deadlines propagate into the HTTP
// layer.
type Gateway struct {
	session *discordgo.Session
}

// NewGateway wraps an already-opened session.
func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{session: s}
}

// Send posts a message and returns its id.
func (g *Gateway) Send(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) (string, error) {
	send := &discordgo.MessageSend{Content: content}
	if embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embed}
	}
	msg, err := g.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message to channel %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// Edit replaces the content and embed of an existing message.
func (g *Gateway) Edit(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	if embed != nil {
		edit = edit.SetEmbed(embed)
	}
	_, err := g.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit message %s in channel %s: %w", messageID, channelID, err)
	}
	return nil
}

// Delete removes a message.
func (g *Gateway) Delete(ctx context.Context, channelID, messageID string) error {
	if err := g.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s in channel %s: %w", messageID, channelID, err)
	}
	return nil
}
