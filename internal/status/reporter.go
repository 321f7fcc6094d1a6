// Package status posts and maintains transient progress messages in a chat
// while a session is being worked on. Status messages are best-effort: any
// gateway failure is logged and swallowed so session processing never stalls
// on progress reporting.
package status

import (
	"context"
	"sync"

	"github.com/loopwork/factotum/internal/channels"
	"github.com/loopwork/factotum/internal/observability"
)

// Reporter creates status handles bound to a gateway.
type Reporter struct {
	gateway channels.Gateway
	logger  *observability.Logger
}

// NewReporter creates a status reporter. A nil logger defaults to no-op.
func NewReporter(gateway channels.Gateway, logger *observability.Logger) *Reporter {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Reporter{gateway: gateway, logger: logger.With("component", "status")}
}

// Start posts an initial status message and returns a handle for updating
// and eventually releasing it. A send failure still returns a usable handle;
// it simply has no message to update.
func (r *Reporter) Start(ctx context.Context, chatID, text string) *Handle {
	h := &Handle{
		gateway: r.gateway,
		logger:  r.logger,
		chatID:  chatID,
	}
	ref, err := r.gateway.Send(ctx, chatID, text)
	if err != nil {
		r.logger.Warn(ctx, "status post failed", "chat_id", chatID, "error", err)
		return h
	}
	h.ref = ref
	h.present = true
	return h
}

// Handle tracks a single status message. Once sealed, via Finalize or
// Release, every further operation is a no-op; callers on different paths
// may all release the same handle.
type Handle struct {
	gateway channels.Gateway
	logger  *observability.Logger
	chatID  string

	mu      sync.Mutex
	ref     channels.MessageRef
	present bool
	sealed  bool
}

// Update replaces the status text in place. No-op once sealed or when the
// original post never went through.
func (h *Handle) Update(ctx context.Context, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed || !h.present {
		return
	}
	ref, err := h.gateway.Edit(ctx, h.ref, text)
	if err != nil {
		h.logger.Warn(ctx, "status update failed", "chat_id", h.chatID, "error", err)
		return
	}
	h.ref = ref
}

// Finalize replaces the status message with a terminal notice and seals the
// handle. The notice stays visible in the chat. When no status message
// exists, the notice is posted as a fresh message instead.
func (h *Handle) Finalize(ctx context.Context, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return
	}
	h.sealed = true

	if h.present {
		_, err := h.gateway.Edit(ctx, h.ref, text)
		if err == nil {
			return
		}
		h.logger.Warn(ctx, "status finalize edit failed", "chat_id", h.chatID, "error", err)
	}
	if _, err := h.gateway.Send(ctx, h.chatID, text); err != nil {
		h.logger.Warn(ctx, "status finalize send failed", "chat_id", h.chatID, "error", err)
	}
}

// Release deletes the status message and seals the handle. Safe to call
// multiple times and from multiple paths; only the first call acts.
func (h *Handle) Release(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return
	}
	h.sealed = true
	if !h.present {
		return
	}
	if err := h.gateway.Delete(ctx, h.ref); err != nil {
		h.logger.Warn(ctx, "status release failed", "chat_id", h.chatID, "error", err)
	}
}

// Released reports whether the handle has been sealed.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sealed
}
