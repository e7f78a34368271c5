// Package bot turns chat messages into registry operations and renders the
// outcome as replies. The Dispatcher is platform neutral; Telegram is one
// adapter feeding it.
package bot

import (
	"context"
	"errors"
	"io"

	"github.com/maneesh/filelink/internal/storage"
)

// ErrUpstream marks failures of the messaging platform itself, such as a
// file that could not be fetched from its servers.
var ErrUpstream = errors.New("messaging platform unavailable")

// ErrTooLarge marks attachments the platform will not hand over to the bot.
var ErrTooLarge = errors.New("attachment too large")

// Message is one inbound chat event.
type Message struct {
	ChatID     int64
	MessageID  int
	SenderID   string
	SenderName string
	Text       string
	File       *Attachment
}

// Attachment describes a file attached to a message. Size is what the
// platform reports and may be zero.
type Attachment struct {
	PlatformID string
	Name       string
	Size       int64
}

// Messenger sends replies back to a chat
type Messenger interface {
	Reply(ctx context.Context, chatID int64, replyTo int, text string) error
}

// FileSource fetches the content of an attachment
type FileSource interface {
	Fetch(ctx context.Context, file Attachment) (io.ReadCloser, error)
}

// AuditLog records administrative actions
type AuditLog interface {
	Record(ctx context.Context, entry storage.AuditEntry) error
}
