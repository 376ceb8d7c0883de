// Package discord implements the ChatClient port on a discordgo bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChatClient = (*Client)(nil)

// MaxMessageLen is Discord's hard limit on message content, in characters.
const MaxMessageLen = 2000

// api is the subset of the discordgo session the client uses.
type api interface {
	cachedChannel(channelID string) (*discordgo.Channel, bool)
	fetchChannel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	send(ctx context.Context, channelID, content string) error
	open() error
	close() error
}

// Client delivers announcements through a Discord bot.
type Client struct {
	api api
}

// NewClient creates a bot session authenticated with token. The gateway
// connection is not opened until Open is called.
func NewClient(token string) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord bot ready",
			"user", r.User.String(),
			"guilds", len(r.Guilds),
		)
	})

	return &Client{api: &sessionAPI{session: session}}, nil
}

// Open connects to the Discord gateway so the channel cache is populated.
func (c *Client) Open() error {
	if err := c.api.open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	if err := c.api.close(); err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	return nil
}

// ResolveChannel returns the channel from the session cache, or fetches it
// over REST on a cache miss. A channel that does not exist or that the bot
// cannot see yields driven.ErrChannelNotFound.
func (c *Client) ResolveChannel(ctx context.Context, channelID string) (model.Channel, error) {
	if ch, ok := c.api.cachedChannel(channelID); ok {
		return toChannel(ch), nil
	}

	ch, err := c.api.fetchChannel(ctx, channelID)
	if err != nil {
		if isNotFound(err) {
			return model.Channel{}, fmt.Errorf("channel %s: %w", channelID, driven.ErrChannelNotFound)
		}
		return model.Channel{}, fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	return toChannel(ch), nil
}

// SendMessage posts text to channel. Text over MaxMessageLen is rejected
// before any request is made.
func (c *Client) SendMessage(ctx context.Context, channel model.Channel, text string) error {
	if n := utf8.RuneCountInString(text); n > MaxMessageLen {
		return fmt.Errorf("message of %d characters exceeds discord limit of %d", n, MaxMessageLen)
	}

	if err := c.api.send(ctx, channel.ID, text); err != nil {
		return fmt.Errorf("send message to channel %s: %w", channel.ID, err)
	}
	return nil
}

func toChannel(ch *discordgo.Channel) model.Channel {
	return model.Channel{ID: ch.ID, Name: ch.Name}
}

// isNotFound reports whether err is a REST 404 or one of Discord's
// unknown/inaccessible channel codes.
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return true
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	return false
}

// sessionAPI adapts a live discordgo session to api.
type sessionAPI struct {
	session *discordgo.Session
}

func (s *sessionAPI) cachedChannel(channelID string) (*discordgo.Channel, bool) {
	ch, err := s.session.State.Channel(channelID)
	if err != nil {
		return nil, false
	}
	return ch, true
}

func (s *sessionAPI) fetchChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return s.session.Channel(channelID, discordgo.WithContext(ctx))
}

func (s *sessionAPI) send(ctx context.Context, channelID, content string) error {
	_, err := s.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

func (s *sessionAPI) open() error {
	return s.session.Open()
}

func (s *sessionAPI) close() error {
	return s.session.Close()
}
