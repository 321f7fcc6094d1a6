// Package channels defines the narrow messaging gateway contract the
// orchestrator core depends on, plus shared helpers (chunking, rate
// limiting) used by concrete adapters.
package channels

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by adapters for operations the underlying
// platform cannot perform.
var ErrNotSupported = errors.New("channels: operation not supported")

// MessageRef identifies a message previously sent through a gateway.
// The zero value is "no message".
type MessageRef struct {
	ChatID    string
	MessageID string
}

// IsZero reports whether the ref identifies no message.
func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

// Gateway is the outbound messaging contract. Send, Edit, and Delete may
// each fail independently; callers must not assume ordering between a Send
// and a Delete of an unrelated message.
type Gateway interface {
	// Send posts a new message and returns its ref.
	Send(ctx context.Context, chatID, text string) (MessageRef, error)

	// Edit replaces the text of an existing message in place.
	Edit(ctx context.Context, ref MessageRef, text string) (MessageRef, error)

	// Delete removes a message. Deleting an already-removed message
	// returns an error the caller is free to ignore.
	Delete(ctx context.Context, ref MessageRef) error
}

// VoiceSender is implemented by gateways that can deliver audio.
type VoiceSender interface {
	// SendVoice posts an audio payload as a voice message.
	SendVoice(ctx context.Context, chatID, filename string, audio []byte) (MessageRef, error)
}

// Inbound is one user message arriving from a channel adapter.
type Inbound struct {
	ChatID      string
	Sender      string
	Text        string
	Attachments []InboundAttachment
}

// InboundAttachment is a media item on an inbound message.
type InboundAttachment struct {
	Type     string
	MimeType string
	URL      string
}

// Listener is implemented by adapters that receive user messages.
type Listener interface {
	// Start begins receiving updates until ctx is cancelled.
	Start(ctx context.Context) error

	// Messages returns the stream of inbound user messages.
	Messages() <-chan *Inbound
}
