package channel

import (
	"context"
)

// Adapter is the outbound chat channel used to notify recipients.
// Implementations return *ChannelError so callers can classify failures.
type Adapter interface {
	// Name returns the name of the channel
	Name() string

	// SendMessage sends text to a destination and returns the channel's message id
	SendMessage(ctx context.Context, destination string, text string, opts *SendOptions) (string, error)

	// EditMessage replaces the text of a previously sent message
	EditMessage(ctx context.Context, destination string, messageID string, text string, opts *SendOptions) error
}
