package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("conversation not found")
	ErrEnded    = errors.New("conversation ended")
)

// Conversation is the registry entry for one chat conversation.
type Conversation struct {
	ID                   string    `json:"conversation_id"`
	UserID               string    `json:"user_id"`
	Status               Status    `json:"status"`
	RemoteConversationID string    `json:"remote_conversation_id,omitempty"`
	ActiveTurnID         string    `json:"active_turn_id,omitempty"`
	TurnCount            int       `json:"turn_count"`
	SupersededCount      int       `json:"superseded_count"`
	StartedAt            time.Time `json:"started_at"`
	LastActivityAt       time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	conversations     map[string]*Conversation
	inactivityTimeout time.Duration
	onExpire          func(*Conversation)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		conversations:     make(map[string]*Conversation),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Conversation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID string) *Conversation {
	now := time.Now().UTC()
	c := &Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// StartTurn marks turnID as the active turn and returns the id it replaced.
func (m *Manager) StartTurn(id, turnID string) (previous string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return "", ErrNotFound
	}
	if c.Status != StatusActive {
		return "", ErrEnded
	}
	previous = c.ActiveTurnID
	if previous != "" {
		c.SupersededCount++
	}
	c.ActiveTurnID = turnID
	c.TurnCount++
	c.LastActivityAt = time.Now().UTC()
	return previous, nil
}

// FinishTurn clears the active turn if it is still turnID.
func (m *Manager) FinishTurn(id, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.ActiveTurnID == turnID {
		c.ActiveTurnID = ""
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// SetRemoteConversationID records the backend's conversation id so later
// turns continue the same remote thread.
func (m *Manager) SetRemoteConversationID(id, remote string) error {
	if remote == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.RemoteConversationID = remote
	return nil
}

func (m *Manager) End(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Status = StatusEnded
	c.ActiveTurnID = ""
	c.LastActivityAt = time.Now().UTC()
	return clone(c), nil
}

// RunJanitor ends inactive conversations until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.expireInactive()
		}
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.conversations {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Conversation

	m.mu.Lock()
	for _, c := range m.conversations {
		if c.Status != StatusActive {
			continue
		}
		if c.ActiveTurnID != "" || now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusEnded
		c.LastActivityAt = now
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Conversation) *Conversation {
	cp := *c
	return &cp
}
