package rulesource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Source used by tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	data     []byte
	modified time.Time
}

// NewMemory returns a source preloaded with docs.
func NewMemory(docs map[string][]byte) *Memory {
	m := &Memory{docs: make(map[string]memoryDoc, len(docs))}
	for key, data := range docs {
		m.Put(key, data)
	}
	return m
}

// Put stores or replaces the document at key.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = memoryDoc{data: append([]byte(nil), data...), modified: time.Now().UTC()}
}

// Driver implements Source.
func (m *Memory) Driver() Driver { return DriverMemory }

// List implements Source.
func (m *Memory) List(_ context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.docs))
	for key, doc := range m.docs {
		if !IsDocument(key) {
			continue
		}
		out = append(out, Info{Key: key, Size: int64(len(doc.data)), ETag: etag(doc.data), LastModified: doc.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Fetch implements Source.
func (m *Memory) Fetch(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), doc.data...), nil
}
