package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(MemoryConfig{MaxMessages: 10, MaxConversations: 10, TTL: time.Hour})

	err := store.Append(ctx, "conv-1",
		Message{Role: RoleUser, Content: "hello", CreatedAt: time.Now()},
		Message{Role: RoleAssistant, Content: "hi there", CreatedAt: time.Now()},
	)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := store.History(ctx, "conv-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "hello" {
		t.Errorf("Unexpected first message: %+v", history[0])
	}
	if history[1].Role != RoleAssistant || history[1].Content != "hi there" {
		t.Errorf("Unexpected second message: %+v", history[1])
	}
}

func TestMemoryStoreTrimsMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(MemoryConfig{MaxMessages: 3, MaxConversations: 10, TTL: time.Hour})

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, "conv-1", Message{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	history, err := store.History(ctx, "conv-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if len(history) != 3 {
		t.Fatalf("Expected 3 retained messages, got %d", len(history))
	}
	if history[0].Content != "msg-2" {
		t.Errorf("Expected oldest retained message msg-2, got %s", history[0].Content)
	}
}

func TestMemoryStoreEvictsOldestConversation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(MemoryConfig{MaxMessages: 10, MaxConversations: 2, TTL: time.Hour})

	if err := store.Append(ctx, "conv-a", Message{Role: RoleUser, Content: "a"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Ensure distinct update times.
	time.Sleep(2 * time.Millisecond)
	if err := store.Append(ctx, "conv-b", Message{Role: RoleUser, Content: "b"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := store.Append(ctx, "conv-c", Message{Role: RoleUser, Content: "c"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 conversations after eviction, got %d", count)
	}

	history, err := store.History(ctx, "conv-a")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected oldest conversation evicted, found %d messages", len(history))
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(MemoryConfig{MaxMessages: 10, MaxConversations: 10, TTL: 10 * time.Millisecond})

	if err := store.Append(ctx, "conv-1", Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected expired conversation to be removed, count=%d", count)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(MemoryConfig{})

	if err := store.Append(ctx, "conv-1", Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	cleared, err := store.Clear(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !cleared {
		t.Error("Expected Clear to report an existing conversation")
	}

	cleared, err = store.Clear(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if cleared {
		t.Error("Expected Clear to report a missing conversation")
	}
}
