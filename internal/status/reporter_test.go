package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/loopwork/factotum/internal/channels"
)

// fakeGateway records operations and can be told to fail specific ones.
type fakeGateway struct {
	mu      sync.Mutex
	sends   []string
	edits   []string
	deletes []channels.MessageRef
	nextID  int

	sendErr   error
	editErr   error
	deleteErr error
}

func (g *fakeGateway) Send(ctx context.Context, chatID, text string) (channels.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return channels.MessageRef{}, g.sendErr
	}
	g.nextID++
	g.sends = append(g.sends, text)
	return channels.MessageRef{ChatID: chatID, MessageID: fmt.Sprintf("m%d", g.nextID)}, nil
}

func (g *fakeGateway) Edit(ctx context.Context, ref channels.MessageRef, text string) (channels.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editErr != nil {
		return channels.MessageRef{}, g.editErr
	}
	g.edits = append(g.edits, text)
	return ref, nil
}

func (g *fakeGateway) Delete(ctx context.Context, ref channels.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deletes = append(g.deletes, ref)
	return nil
}

func TestStartAndUpdate(t *testing.T) {
	gw := &fakeGateway{}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	if len(gw.sends) != 1 || gw.sends[0] != "Thinking..." {
		t.Fatalf("sends = %v", gw.sends)
	}

	h.Update(context.Background(), "Searching the web...")
	if len(gw.edits) != 1 || gw.edits[0] != "Searching the web..." {
		t.Fatalf("edits = %v", gw.edits)
	}
}

func TestStartFailureYieldsUsableHandle(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("network down")}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	if h == nil {
		t.Fatal("handle is nil")
	}

	// With no message present these are all silent no-ops.
	h.Update(context.Background(), "still working")
	h.Release(context.Background())
	if len(gw.edits) != 0 || len(gw.deletes) != 0 {
		t.Errorf("operations reached the gateway: edits=%v deletes=%v", gw.edits, gw.deletes)
	}
}

func TestReleaseDeletesOnce(t *testing.T) {
	gw := &fakeGateway{}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	h.Release(context.Background())
	h.Release(context.Background())

	if len(gw.deletes) != 1 {
		t.Fatalf("deletes = %d, want 1", len(gw.deletes))
	}
	if !h.Released() {
		t.Error("handle not sealed after release")
	}
}

func TestUpdateAfterSealIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	h.Release(context.Background())
	h.Update(context.Background(), "too late")

	if len(gw.edits) != 0 {
		t.Fatalf("edits = %v, want none", gw.edits)
	}
}

func TestFinalizeEditsInPlace(t *testing.T) {
	gw := &fakeGateway{}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	h.Finalize(context.Background(), "Okay, stopped.")

	if len(gw.edits) != 1 || gw.edits[0] != "Okay, stopped." {
		t.Fatalf("edits = %v", gw.edits)
	}
	if len(gw.deletes) != 0 {
		t.Errorf("finalize must not delete, deletes = %v", gw.deletes)
	}

	// Sealed: a later release does nothing.
	h.Release(context.Background())
	if len(gw.deletes) != 0 {
		t.Errorf("release after finalize deleted the notice")
	}
}

func TestFinalizeFallsBackToSend(t *testing.T) {
	gw := &fakeGateway{}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	gw.editErr = errors.New("message to edit not found")

	h.Finalize(context.Background(), "Something went wrong.")
	if len(gw.sends) != 2 || gw.sends[1] != "Something went wrong." {
		t.Fatalf("sends = %v, want fallback send", gw.sends)
	}
}

func TestFinalizeWithoutMessageSendsFresh(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("network down")}
	r := NewReporter(gw, nil)

	h := r.Start(context.Background(), "chat-1", "Thinking...")
	gw.sendErr = nil

	h.Finalize(context.Background(), "Done anyway.")
	if len(gw.sends) != 1 || gw.sends[0] != "Done anyway." {
		t.Fatalf("sends = %v", gw.sends)
	}
}
