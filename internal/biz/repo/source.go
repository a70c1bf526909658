package repo

import (
	"context"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// ChatInfo describes a monitored chat
type ChatInfo struct {
	ID    domain.ID
	Title string
}

// MessageHandler receives new-message events
// Sources invoke it from a single goroutine, in arrival order
type MessageHandler func(msg domain.IncomingMessage)

// MessageSource is the chat transport interface (Telegram, Feishu)
type MessageSource interface {
	// Connect authenticates with the transport
	Connect(ctx context.Context) error

	// Resolve checks a chat is reachable and returns its info
	Resolve(ctx context.Context, chatID domain.ID) (*ChatInfo, error)

	// Latest returns the ordinal of the most recent message in the chat, 0 when empty
	Latest(ctx context.Context, chatID domain.ID) (int64, error)

	// Listen delivers new messages for the given chats until ctx is done
	// or the transport disconnects. A nil return means ctx was cancelled.
	Listen(ctx context.Context, chats []domain.ID, handle MessageHandler) error

	// Close releases the transport connection
	Close() error
}
