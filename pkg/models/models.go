// Package models defines the shared wire types exchanged between the
// orchestrator, reasoning providers, tools, and channel adapters.
package models

import (
	"encoding/json"
	"time"
)

// ToolCall represents a tool invocation proposed by the reasoning service.
type ToolCall struct {
	// ID uniquely identifies this call within a reasoning turn.
	ID string `json:"id"`

	// Name is the registered tool name.
	Name string `json:"name"`

	// Input is the structured argument payload, opaque to the orchestrator.
	Input json.RawMessage `json:"input,omitempty"`
}

// Attachment represents a file or media item attached to a message,
// either inbound (user sends an image) or produced by a tool.
type Attachment struct {
	// Type is a coarse category: "image", "audio", "document".
	Type string `json:"type"`

	// MimeType is the content type when known (e.g. "image/png").
	MimeType string `json:"mime_type,omitempty"`

	// URL is either an https URL or a data: URL with base64 content.
	URL string `json:"url"`
}

// TranscriptRecord is one appended conversation record.
// The transcript is append-only; records are never updated in place.
type TranscriptRecord struct {
	IsFromBot         bool      `json:"is_from_bot"`
	Sender            string    `json:"sender"`
	Text              string    `json:"text"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
