package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-memory gateway for tests and local development. Chunk
// ids take the form <document>#<n> purely so tests can predict them;
// production code still treats them as opaque.
type Mock struct {
	mu   sync.Mutex
	docs map[string][]string

	IngestErr error
	QueryHits []Hit
	QueryErr  error
}

func NewMock() *Mock {
	return &Mock{docs: map[string][]string{}}
}

func (m *Mock) Ingest(_ context.Context, texts []string, documentName string) (IngestResult, error) {
	if m.IngestErr != nil {
		return IngestResult{}, m.IngestErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	offset := len(m.docs[documentName])
	m.docs[documentName] = append(m.docs[documentName], texts...)
	ids := make([]string, len(texts))
	for i := range texts {
		ids[i] = fmt.Sprintf("%s#%d", documentName, offset+i)
	}
	return IngestResult{DocumentID: documentName, ChunkIDs: ids}, nil
}

func (m *Mock) Query(_ context.Context, _ string, _ QueryMode) ([]Hit, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	return m.QueryHits, nil
}

func (m *Mock) DocumentText(_ context.Context, documentName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts, ok := m.docs[documentName]
	if !ok {
		return "", fmt.Errorf("mock gateway: document %q not found", documentName)
	}
	joined := ""
	for i, t := range texts {
		if i > 0 {
			joined += "\n\n"
		}
		joined += t
	}
	return joined, nil
}

func (m *Mock) DeleteDocument(_ context.Context, documentName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, documentName)
	return nil
}
