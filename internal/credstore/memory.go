package credstore

import (
	"context"
	"sync"
)

// Memory keeps the session for the lifetime of the process.
type Memory struct {
	mu    sync.Mutex
	creds Credentials
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func (m *Memory) Save(_ context.Context, creds Credentials) error {
	if err := checkSave(creds); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
