package genai

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/PhysioPipe/internal/models"
)

// MockClient is a scripted Generator for tests. Each call records the request
// and returns the next queued result; Err, when set, fails every call.
type MockClient struct {
	mu       sync.Mutex
	Requests []Request
	Results  []Result
	Err      error
}

var _ Generator = (*MockClient)(nil)

// NewMockClient returns a MockClient that answers with results in order.
func NewMockClient(results ...Result) *MockClient {
	return &MockClient{Results: results}
}

func (m *MockClient) Generate(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return Result{}, fmt.Errorf("%w: %w", models.ErrGeneration, m.Err)
	}
	if len(m.Results) == 0 {
		return Result{}, fmt.Errorf("%w: %w", models.ErrGeneration, ErrEmptyResponse)
	}
	r := m.Results[0]
	m.Results = m.Results[1:]
	return r, nil
}

// Calls returns the number of Generate calls so far.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
