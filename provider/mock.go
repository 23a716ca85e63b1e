package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockClient records provider calls for tests. Error fields, when set, are
// returned by the corresponding method.
type MockClient struct {
	mu sync.Mutex

	Messages map[string]*Message

	Deleted       []string
	HardDeleted   []string
	Flagged       []string
	Banned        []string
	BanOptsByUser map[string]BanOpts
	CrisisSent    []string

	GetErr    error
	DeleteErr error
	FlagErr   error
	BanErr    error
	CrisisErr error
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		Messages:      make(map[string]*Message),
		BanOptsByUser: make(map[string]BanOpts),
	}
}

func (m *MockClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	msg, ok := m.Messages[id]
	if !ok {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	return msg, nil
}

func (m *MockClient) DeleteMessage(ctx context.Context, id string, hard bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.Deleted = append(m.Deleted, id)
	if hard {
		m.HardDeleted = append(m.HardDeleted, id)
	}
	return nil
}

func (m *MockClient) FlagMessage(ctx context.Context, id, actorID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FlagErr != nil {
		return m.FlagErr
	}
	m.Flagged = append(m.Flagged, id)
	return nil
}

func (m *MockClient) BanUser(ctx context.Context, userID string, opts BanOpts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BanErr != nil {
		return m.BanErr
	}
	m.Banned = append(m.Banned, userID)
	m.BanOptsByUser[userID] = opts
	return nil
}

func (m *MockClient) SendCrisisResources(ctx context.Context, userID string, resources []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CrisisErr != nil {
		return m.CrisisErr
	}
	m.CrisisSent = append(m.CrisisSent, userID)
	return nil
}

// DeletedCount is safe to call concurrently with pipeline goroutines.
func (m *MockClient) DeletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Deleted)
}

func (m *MockClient) FlaggedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Flagged)
}

func (m *MockClient) CrisisSentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CrisisSent)
}
