package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// ErrChannelNotFound indicates the channel does not exist or is not visible
// to the bot.
var ErrChannelNotFound = errors.New("channel not found")

// ChatClient defines the driven port for delivering announcements.
type ChatClient interface {
	// ResolveChannel looks the channel up in the local cache first and falls
	// back to a remote fetch.
	ResolveChannel(ctx context.Context, channelID string) (model.Channel, error)
	// SendMessage delivers one chunk. Chunks over the platform's hard size
	// limit are rejected with an error rather than truncated.
	SendMessage(ctx context.Context, channel model.Channel, text string) error
}
