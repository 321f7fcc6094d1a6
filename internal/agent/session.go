package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/loopwork/factotum/internal/status"
	"github.com/loopwork/factotum/pkg/models"
)

// OutcomeKind classifies how a session ended.
type OutcomeKind int

const (
	// OutcomePending means the session has not finished yet.
	OutcomePending OutcomeKind = iota

	// OutcomeFinalContent means the model produced text that was delivered.
	OutcomeFinalContent

	// OutcomeMessagesDelivered means a tool already sent the output to
	// the chat, so no response text was composed.
	OutcomeMessagesDelivered

	// OutcomeTimedOut means the session hit its loop ceiling or a tool
	// quota and stopped before finishing.
	OutcomeTimedOut

	// OutcomeCancelled means the user cancelled the session.
	OutcomeCancelled

	// OutcomeFailed means a fatal error stopped the session.
	OutcomeFailed
)

// Outcome is the terminal result of a session.
type Outcome struct {
	Kind OutcomeKind

	// Text holds the delivered response for OutcomeFinalContent.
	Text string

	// Reason carries a short explanation for TimedOut and Failed.
	Reason string

	// Err is the underlying error for OutcomeFailed.
	Err error
}

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeFinalContent:
		return "final_content"
	case OutcomeMessagesDelivered:
		return "messages_delivered"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Terminal reports whether the outcome ends the session.
func (o Outcome) Terminal() bool {
	return o.Kind != OutcomePending
}

// Session is the mutable state of one query being worked on.
type Session struct {
	ID        string
	ChatID    string
	Sender    string
	Query     string
	PersonaID string
	StartedAt time.Time

	// Attachments carries images that arrived with the query.
	Attachments []models.Attachment

	// RecentHistory is the transcript context loaded at session start.
	RecentHistory []*models.TranscriptRecord

	// conversation accumulates reasoning turns and tool exchanges.
	conversation []CompletionMessage

	// LoopCount is the number of reasoning iterations performed.
	LoopCount int

	// ToolUsage counts executions per tool name for quota enforcement.
	ToolUsage map[string]int

	// Status is the progress message handle, may be nil.
	Status *status.Handle

	Outcome Outcome
}

// NewSession creates a session for an inbound query.
func NewSession(chatID, sender, query, personaID string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Sender:    sender,
		Query:     query,
		PersonaID: personaID,
		StartedAt: time.Now().UTC(),
		ToolUsage: make(map[string]int),
	}
}

// Push appends a turn to the session conversation.
func (s *Session) Push(msg CompletionMessage) {
	s.conversation = append(s.conversation, msg)
}

// Conversation returns the accumulated turns.
func (s *Session) Conversation() []CompletionMessage {
	return s.conversation
}
