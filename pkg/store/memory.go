package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps documents in process memory. Nothing survives a restart.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Load(_ context.Context, path string) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[path]
	if !ok {
		return Document{Path: path}, nil
	}
	doc.Attachment = copyAttachment(doc.Attachment)
	return doc, nil
}

func (m *Memory) SaveText(_ context.Context, path, text string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[path]
	doc.Path = path
	doc.Text = text
	doc.UpdatedAt = time.Now()
	m.docs[path] = doc
	return nil
}

func (m *Memory) SaveAttachment(_ context.Context, path string, attachment *Attachment) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[path]
	doc.Path = path
	doc.Attachment = copyAttachment(attachment)
	doc.UpdatedAt = time.Now()
	m.docs[path] = doc
	return nil
}

func (m *Memory) Expire(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for path, doc := range m.docs {
		if doc.UpdatedAt.Before(before) {
			delete(m.docs, path)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error {
	return nil
}
