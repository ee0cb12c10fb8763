package recovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parakeetlabs/streamcore/internal/events"
	"github.com/parakeetlabs/streamcore/internal/session"
)

func testSnapshot() Snapshot {
	return Snapshot{
		StreamID:           "stream-1",
		ConversationID:     "conv-1",
		MessageID:          "msg-1",
		Mode:               session.ModeDual,
		LastChunkIndex:     2,
		AccumulatedContent: "Hel",
		LastActivityAt:     time.Now(),
	}
}

func drainContent(t *testing.T, stream <-chan events.Event) (string, bool) {
	t.Helper()
	var sb strings.Builder
	done := false
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return sb.String(), done
			}
			switch e := ev.(type) {
			case *events.ContentDelta:
				sb.WriteString(e.Text)
			case *events.Done:
				done = true
			}
		case <-timeout:
			t.Fatal("timed out draining resume stream")
		}
	}
}

func TestResumeFiltersAlreadyAppliedIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		// Redeliver everything from the start; the client must discard what
		// it already has.
		fmt.Fprintln(w, `data: {"index":0,"content":"H"}`)
		fmt.Fprintln(w, `data: {"index":1,"content":"e"}`)
		fmt.Fprintln(w, `data: {"index":2,"content":"l"}`)
		fmt.Fprintln(w, `data: {"index":3,"content":"lo!"}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	m := NewManager(NewMemoryStore(), Config{
		ContinuationURL: srv.URL,
		AuthToken:       "tok",
		Backoff:         time.Millisecond,
	})

	stream, err := m.Resume(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}

	got, done := drainContent(t, stream)
	if got != "lo!" {
		t.Errorf("resumed content = %q, want %q (indices <= 2 must be discarded)", got, "lo!")
	}
	if !done {
		t.Error("expected Done event from continuation stream")
	}
}

func TestResumeRetriesWithLinearBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"temporarily unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `data: {"index":3,"content":"lo!","done":true}`)
	}))
	defer srv.Close()

	m := NewManager(NewMemoryStore(), Config{
		ContinuationURL: srv.URL,
		Backoff:         time.Millisecond,
	})

	stream, err := m.Resume(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("Resume() error after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	got, done := drainContent(t, stream)
	if got != "lo!" || !done {
		t.Errorf("resumed content = %q done=%v, want \"lo!\" done=true", got, done)
	}
}

func TestResumeExhaustionKeepsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	snap := testSnapshot()
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	m := NewManager(store, Config{
		ContinuationURL: srv.URL,
		Backoff:         time.Millisecond,
	})

	_, err := m.Resume(context.Background(), snap)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	var se *events.StreamError
	if !errors.As(err, &se) || se.Kind != events.KindRecoveryExhausted {
		t.Errorf("expected RecoveryExhausted, got %v", err)
	}

	// The snapshot must survive so a later launch can retry.
	remaining, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].StreamID != snap.StreamID {
		t.Errorf("snapshot should be retained after exhaustion, got %v", remaining)
	}
}

func TestListRecoverablePurgesStale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	fresh := testSnapshot()
	stale := testSnapshot()
	stale.StreamID = "stream-stale"
	stale.LastActivityAt = time.Now().Add(-10 * time.Minute)

	if err := store.Save(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}

	m := NewManager(store, Config{ContinuationURL: "http://unused"})
	recoverable, err := m.ListRecoverable(ctx)
	if err != nil {
		t.Fatalf("ListRecoverable() error: %v", err)
	}
	if len(recoverable) != 1 || recoverable[0].StreamID != fresh.StreamID {
		t.Fatalf("expected only the fresh snapshot, got %v", recoverable)
	}

	all, _ := store.List(ctx)
	if len(all) != 1 {
		t.Errorf("stale snapshot should have been purged, store has %d", len(all))
	}
}

func TestPersistAndClear(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	m := NewManager(store, Config{ContinuationURL: "http://unused"})

	view := session.View{
		StreamID:           "stream-1",
		ConversationID:     "conv-1",
		MessageID:          "msg-1",
		Mode:               session.ModeDual,
		LastChunkIndex:     4,
		AccumulatedContent: "partial",
		LastActivityAt:     time.Now(),
	}
	if err := m.Persist(ctx, view); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	all, _ := store.List(ctx)
	if len(all) != 1 || all[0].AccumulatedContent != "partial" || all[0].LastChunkIndex != 4 {
		t.Fatalf("unexpected stored snapshot: %v", all)
	}

	if err := m.Clear(ctx, "stream-1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	all, _ = store.List(ctx)
	if len(all) != 0 {
		t.Errorf("expected empty store after Clear, got %v", all)
	}
}

func TestPersistRateLimitSkipsBurst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	m := NewManager(store, Config{ContinuationURL: "http://unused"})

	view := session.View{
		StreamID:       "stream-1",
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		LastActivityAt: time.Now(),
	}
	for i := 0; i < 100; i++ {
		view.LastChunkIndex = i
		if err := m.Persist(ctx, view); err != nil {
			t.Fatalf("Persist() error: %v", err)
		}
	}

	// Burst writes are throttled, but PersistNow always lands the latest.
	view.LastChunkIndex = 100
	if err := m.PersistNow(ctx, view); err != nil {
		t.Fatalf("PersistNow() error: %v", err)
	}
	all, _ := store.List(ctx)
	if len(all) != 1 || all[0].LastChunkIndex != 100 {
		t.Fatalf("expected latest snapshot to land, got %v", all)
	}
}
