package database

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used for dry runs and tests. It applies
// the same upsert and filter semantics as PostgresStore.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string // natural keys in insertion order
	docs  map[string][]byte
	byID  map[string]string // id -> natural key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryStore) collection(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string][]byte), byID: make(map[string]string)}
		m.collections[name] = c
	}
	return c
}

func (m *MemoryStore) BulkUpsert(ctx context.Context, collection string, items []any, keyField string) (UpsertResult, error) {
	var result UpsertResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	docs, err := prepare(collection, items, keyField)
	if err != nil {
		return result, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection)
	for _, doc := range docs {
		if _, exists := c.docs[doc.Key]; exists {
			result.Updated++
		} else {
			c.order = append(c.order, doc.Key)
			result.Inserted++
		}
		c.docs[doc.Key] = doc.Body
		c.byID[doc.ID] = doc.Key
	}

	return result, nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}

	var out []Document
	for _, key := range c.order {
		doc, err := decodeDocument(c.docs[key])
		if err != nil {
			return nil, err
		}
		if filter.matches(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *MemoryStore) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	docs, err := m.Query(ctx, collection, Filter{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var values []string
	for _, doc := range docs {
		for _, v := range fieldValues(doc[field]) {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	key, ok := c.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeDocument(c.docs[key])
}

// Len reports how many documents a collection holds.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.collections[collection]; ok {
		return len(c.order)
	}
	return 0
}

// Dump returns the raw JSON of every document in a collection, in insertion order.
func (m *MemoryStore) Dump(collection string) []json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	out := make([]json.RawMessage, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, json.RawMessage(c.docs[key]))
	}
	return out
}

func (m *MemoryStore) Close() error { return nil }
