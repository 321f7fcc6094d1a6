package agent

import "context"

type chatIDKey struct{}

// WithChatID stamps the chat ID onto the context. The orchestrator does
// this before running tools so chat-scoped tools know where they are.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

// ChatIDFromContext returns the chat ID stamped by WithChatID, if any.
func ChatIDFromContext(ctx context.Context) (string, bool) {
	chatID, ok := ctx.Value(chatIDKey{}).(string)
	return chatID, ok && chatID != ""
}
