package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Message roles, matching the chat-completion convention.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds prior-turn context keyed by conversation id. Implementations
// must be safe for concurrent use.
type Store interface {
	// History returns the retained messages for a conversation, oldest first.
	History(ctx context.Context, conversationID string) ([]Message, error)

	// Append adds messages to a conversation, creating it when absent and
	// trimming the oldest messages beyond the retention cap.
	Append(ctx context.Context, conversationID string, msgs ...Message) error

	// Clear removes a conversation. Returns true when it existed.
	Clear(ctx context.Context, conversationID string) (bool, error)

	// Count returns the number of live conversations.
	Count(ctx context.Context) (int, error)
}

type memoryConversation struct {
	messages  []Message
	updatedAt time.Time
}

// MemoryStore is an in-process Store with TTL expiry and oldest-first
// eviction once the conversation cap is reached.
type MemoryStore struct {
	conversations    map[string]*memoryConversation
	maxMessages      int
	maxConversations int
	ttl              time.Duration

	mu sync.Mutex
}

// MemoryConfig bounds the in-process store.
type MemoryConfig struct {
	MaxMessages      int
	MaxConversations int
	TTL              time.Duration
}

// NewMemoryStore creates a bounded in-process store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &MemoryStore{
		conversations:    make(map[string]*memoryConversation),
		maxMessages:      cfg.MaxMessages,
		maxConversations: cfg.MaxConversations,
		ttl:              cfg.TTL,
	}
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpired()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}

	out := make([]Message, len(conv.messages))
	copy(out, conv.messages)
	return out, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, conversationID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpired()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.evictOldestIfNeeded()
		conv = &memoryConversation{}
		s.conversations[conversationID] = conv
	}

	conv.messages = append(conv.messages, msgs...)
	conv.updatedAt = time.Now()

	if len(conv.messages) > s.maxMessages {
		trimmed := len(conv.messages) - s.maxMessages
		conv.messages = append([]Message(nil), conv.messages[trimmed:]...)
	}

	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return false, nil
	}
	delete(s.conversations, conversationID)
	return true, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpired()
	return len(s.conversations), nil
}

func (s *MemoryStore) cleanupExpired() {
	now := time.Now()
	for id, conv := range s.conversations {
		if now.Sub(conv.updatedAt) > s.ttl {
			delete(s.conversations, id)
		}
	}
}

func (s *MemoryStore) evictOldestIfNeeded() {
	if len(s.conversations) < s.maxConversations {
		return
	}

	type aged struct {
		id        string
		updatedAt time.Time
	}
	all := make([]aged, 0, len(s.conversations))
	for id, conv := range s.conversations {
		all = append(all, aged{id: id, updatedAt: conv.updatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].updatedAt.Before(all[j].updatedAt) })

	toEvict := len(s.conversations) - s.maxConversations + 1
	for i := 0; i < toEvict && i < len(all); i++ {
		delete(s.conversations, all[i].id)
	}
}
