// Package storage persists conversation transcripts. Both the inbound
// queries and every delivered chunk are appended so tools and future
// sessions can read recent context.
package storage

import (
	"context"
	"errors"

	"github.com/loopwork/factotum/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// TranscriptStore records chat messages in order.
type TranscriptStore interface {
	// Append stores a message at the end of the chat's transcript.
	Append(ctx context.Context, chatID string, rec *models.TranscriptRecord) error

	// Recent returns up to limit messages for the chat, oldest first.
	Recent(ctx context.Context, chatID string, limit int) ([]*models.TranscriptRecord, error)

	// Close releases underlying resources.
	Close() error
}
